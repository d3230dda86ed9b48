package ble

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/blereader/internal/permission"
)

// session is the single connection. It exists from Connect until the link
// is released.
type session struct {
	peripheral Peripheral
	link       Link
	char       *Characteristic
	connected  bool // the radio reported the link up at least once
	subscribed bool // CCCD write confirmed
}

// Connect starts connecting to p, stopping any active scan first. It
// fails with ErrInvalidTarget for a nil or address-less peripheral,
// ErrBusy while another session exists, ErrPermissionDenied when
// connecting is not authorized and ErrRadioUnavailable without a radio.
func (m *Manager) Connect(p *Peripheral) error {
	if p == nil || p.Address == "" {
		slog.Error("[BLE] cannot connect to an empty target")
		return ErrInvalidTarget
	}
	target := *p
	return m.do(func() error { return m.connect(target) })
}

// Disconnect tears down the current session. Without a session it does
// nothing. The local handle is always released; ErrPermissionDenied means
// the peripheral was not asked to disconnect.
func (m *Manager) Disconnect() error {
	return m.do(m.disconnect)
}

// Subscribed reports whether the CCCD write for the current session was
// confirmed by the peripheral.
func (m *Manager) Subscribed() bool {
	var ok bool
	_ = m.do(func() error {
		ok = m.sess != nil && m.sess.subscribed
		return nil
	})
	return ok
}

func (m *Manager) connect(p Peripheral) error {
	if m.sess != nil || !m.state.State.canConnect() {
		slog.Warn("[BLE] connect rejected, session in progress", "state", m.state.State, "peripheral", p)
		return ErrBusy
	}
	if err := m.stopScan(); err != nil {
		slog.Warn("[BLE] stop scan before connect", "error", err)
	}
	if !m.allowed(permission.Connect) {
		slog.Error("[BLE] connect permission not granted")
		return ErrPermissionDenied
	}
	if m.radio == nil {
		return ErrRadioUnavailable
	}

	slog.Info("[BLE] connecting", "peripheral", p)
	m.setStatus(StateConnecting, nil, p)
	link, err := m.radio.Connect(p)
	if err == nil && link == nil {
		err = fmt.Errorf("radio returned no link")
	}
	if err != nil {
		if link != nil {
			if cerr := link.Close(); cerr != nil {
				slog.Warn("[BLE] close link after failed connect", "error", cerr)
			}
		}
		err = fmt.Errorf("ble: connect to %s: %w", p.Address, err)
		m.setStatus(StateFailed, err, p)
		return err
	}
	m.sess = &session{peripheral: p, link: link}
	return nil
}

func (m *Manager) disconnect() error {
	s := m.sess
	if s == nil {
		return nil
	}
	slog.Info("[BLE] disconnecting", "peripheral", s.peripheral)
	m.setStatus(StateDisconnecting, nil, s.peripheral)
	if denied := m.endSession(StateDisconnected, nil, true); denied {
		return ErrPermissionDenied
	}
	return nil
}

// owns reports whether l is the link of the current session. Callbacks
// for any other link are late deliveries for a released session.
func (m *Manager) owns(l Link) bool {
	return m.sess != nil && m.sess.link != nil && l == m.sess.link
}

func (m *Manager) onConnectionChanged(e ConnectionChanged) {
	if !m.owns(e.Link) {
		slog.Debug("[BLE] ignoring connection change for released link", "status", e.Status, "state", e.State)
		return
	}
	s := m.sess

	if e.Status != GATTSuccess {
		slog.Warn("[BLE] GATT error on connection state change", "status", e.Status, "peripheral", s.peripheral)
		m.endSession(StateFailed, &HardwareError{Status: e.Status}, false)
		return
	}

	switch e.State {
	case LinkConnected:
		if m.state.State != StateConnecting {
			slog.Debug("[BLE] connected callback outside connecting", "state", m.state.State)
			return
		}
		slog.Info("[BLE] connected", "peripheral", s.peripheral)
		s.connected = true
		m.connected.Set(true)
		m.events.Publish(Notification{Kind: EventDeviceConnected, Peripheral: s.peripheral})
		m.setStatus(StateAwaitingDiscovery, nil, s.peripheral)
		m.after(m.opts.DiscoveryDelay, func() { m.discover(s) })
	case LinkDisconnected:
		slog.Info("[BLE] disconnected", "peripheral", s.peripheral)
		m.endSession(StateDisconnected, nil, false)
	default:
		slog.Debug("[BLE] ignoring link state", "state", e.State)
	}
}

// discover runs after the guard delay for session s.
func (m *Manager) discover(s *session) {
	if m.sess != s || m.state.State != StateAwaitingDiscovery {
		return
	}
	if !m.allowed(permission.Connect) {
		slog.Error("[BLE] permission revoked before service discovery")
		m.endSession(StateFailed, ErrPermissionRevoked, true)
		return
	}
	slog.Info("[BLE] starting service discovery")
	m.setStatus(StateDiscoveringServices, nil, s.peripheral)
	if err := s.link.DiscoverServices(); err != nil {
		m.endSession(StateFailed, fmt.Errorf("ble: discover services: %w", err), true)
	}
}

func (m *Manager) onServicesDiscovered(e ServicesDiscovered) {
	if !m.owns(e.Link) || m.state.State != StateDiscoveringServices {
		slog.Debug("[BLE] ignoring services discovered", "state", m.state.State)
		return
	}
	s := m.sess
	if e.Status != GATTSuccess {
		m.endSession(StateFailed, &HardwareError{Status: e.Status}, true)
		return
	}

	target := m.opts.Target
	for _, svc := range e.Services {
		slog.Debug("[BLE] service discovered", "uuid", svc.UUID, "target", svc.UUID == target.Service)
	}
	svc := FindService(e.Services, target.Service)
	if svc == nil {
		m.endSession(StateFailed, ErrServiceNotFound, true)
		return
	}

	for _, c := range svc.Characteristics {
		slog.Debug("[BLE] characteristic discovered", "uuid", c.UUID, "properties", c.Properties)
	}
	char := svc.Characteristic(target.Characteristic)
	if char == nil {
		m.endSession(StateFailed, ErrCharacteristicNotFound, true)
		return
	}
	if !char.Properties.Has(PropNotify) && !char.Properties.Has(PropIndicate) {
		m.endSession(StateFailed, ErrUnsupportedCharacteristic, true)
		return
	}

	s.char = char
	m.setStatus(StateSubscribing, nil, s.peripheral)
	m.enableNotifications(s, char)
}

// endSession stops polling, releases the link exactly once, publishes the
// disconnected status and moves to next. hangUp asks the peripheral to
// disconnect first (gated); it reports whether that request was denied.
func (m *Manager) endSession(next State, reason error, hangUp bool) (denied bool) {
	s := m.sess
	if s == nil {
		return false
	}
	m.sess = nil
	m.poll.stop()

	if link := s.link; link != nil {
		s.link = nil
		if hangUp {
			if m.allowed(permission.Connect) {
				if err := link.Disconnect(); err != nil {
					slog.Warn("[BLE] disconnect", "error", err)
				}
			} else {
				slog.Error("[BLE] connect permission not granted, closing without disconnect")
				denied = true
			}
		}
		if err := link.Close(); err != nil {
			slog.Warn("[BLE] close link", "error", err)
		}
	}

	m.connected.Set(false)
	m.setStatus(next, reason, s.peripheral)
	if s.connected {
		m.events.Publish(Notification{Kind: EventDeviceDisconnected, Peripheral: s.peripheral})
	}
	return denied
}
