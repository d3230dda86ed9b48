package ble

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chaz8081/blereader/internal/permission"
)

type scanSession struct {
	active   bool
	started  time.Time
	deadline time.Time
	timer    *time.Timer
	gen      uint64 // bumped on every start/stop so stale timeouts are ignored

	seen  map[string]struct{} // upper-cased addresses
	found []Peripheral        // discovery order
}

// StartScan begins a scan session. It fails with ErrAlreadyScanning if one
// is active, ErrPermissionDenied if scanning is not authorized and
// ErrRadioUnavailable if there is no radio.
func (m *Manager) StartScan() error {
	return m.do(m.startScan)
}

// StopScan ends the scan session. It does nothing when no scan is active.
func (m *Manager) StopScan() error {
	return m.do(m.stopScan)
}

// Scanning reports whether a scan session is active.
func (m *Manager) Scanning() bool {
	var active bool
	_ = m.do(func() error {
		active = m.scan.active
		return nil
	})
	return active
}

// Discovered returns the peripherals found in the current (or last) scan
// session, in discovery order.
func (m *Manager) Discovered() []Peripheral {
	var out []Peripheral
	_ = m.do(func() error {
		out = append([]Peripheral(nil), m.scan.found...)
		return nil
	})
	return out
}

func (m *Manager) startScan() error {
	if m.scan.active {
		slog.Debug("[SCAN] scan already in progress")
		return ErrAlreadyScanning
	}
	if !m.allowed(permission.Scan) {
		slog.Error("[SCAN] scan permission not granted")
		return ErrPermissionDenied
	}
	if m.radio == nil {
		slog.Error("[SCAN] no radio, cannot scan")
		return ErrRadioUnavailable
	}
	if err := m.radio.StartScan(); err != nil {
		return fmt.Errorf("ble: start scan: %w", err)
	}

	now := time.Now()
	m.scan.gen++
	gen := m.scan.gen
	m.scan.active = true
	m.scan.started = now
	m.scan.deadline = now.Add(m.opts.ScanTimeout)
	m.scan.seen = make(map[string]struct{})
	m.scan.found = nil
	m.scan.timer = m.after(m.opts.ScanTimeout, func() {
		if m.scan.active && m.scan.gen == gen {
			slog.Info("[SCAN] stopping scan due to timer")
			if err := m.stopScan(); err != nil {
				slog.Warn("[SCAN] timed stop", "error", err)
			}
		}
	})

	m.events.Publish(Notification{Kind: EventScanStarted})
	slog.Info("[SCAN] scan started", "timeout", m.opts.ScanTimeout)
	return nil
}

// stopScan always ends the local session; the radio command itself is
// gated, and a denial is reported after the session is already closed.
func (m *Manager) stopScan() error {
	if !m.scan.active {
		return nil
	}
	m.scan.active = false
	m.scan.gen++
	if m.scan.timer != nil {
		m.scan.timer.Stop()
		m.scan.timer = nil
	}
	m.events.Publish(Notification{Kind: EventScanStopped})
	slog.Info("[SCAN] scan stopped", "found", len(m.scan.found), "elapsed", time.Since(m.scan.started).Round(time.Millisecond))

	if !m.allowed(permission.Scan) {
		slog.Error("[SCAN] scan permission not granted, radio scan left to the platform")
		return ErrPermissionDenied
	}
	if err := m.radio.StopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	return nil
}

func (m *Manager) onDeviceFound(p Peripheral) {
	if !m.scan.active {
		return
	}
	if p.Address == "" {
		return
	}
	if p.Name == "" && !m.opts.IncludeUnnamed {
		return
	}
	key := strings.ToUpper(p.Address)
	if _, dup := m.scan.seen[key]; dup {
		return
	}
	m.scan.seen[key] = struct{}{}
	m.scan.found = append(m.scan.found, p)

	slog.Debug("[SCAN] device found", "address", p.Address, "name", p.Name, "rssi", p.RSSI)
	m.events.Publish(Notification{Kind: EventDeviceFound, Peripheral: p})
}
