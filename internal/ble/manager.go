package ble

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/blereader/internal/bus"
	"github.com/chaz8081/blereader/internal/permission"
)

// Options configures the Manager.
type Options struct {
	Target         Target
	ScanTimeout    time.Duration // how long a scan runs before stopping itself
	DiscoveryDelay time.Duration // settle time between connect and service discovery
	PollInterval   time.Duration // delay between backstop reads
	IncludeUnnamed bool          // report advertisements without a local name
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Target:         DefaultTarget(),
		ScanTimeout:    10 * time.Second,
		DiscoveryDelay: 500 * time.Millisecond,
		PollInterval:   3 * time.Second,
	}
}

// Manager owns the scan session, the single connection session and the
// polling loop. All of that state is touched only by the goroutine
// started with Start; commands and radio callbacks are serialized into it.
type Manager struct {
	radio Radio
	perms permission.Source
	opts  Options

	cmds     chan func()
	internal chan func()
	quit     chan struct{}
	done     chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	// Loop-owned state.
	scan  scanSession
	sess  *session
	state Status
	poll  poller

	connected *bus.Value[bool]
	payload   *bus.Value[Payload]
	status    *bus.Value[Status]
	events    *bus.Broadcaster[Notification]
}

// New creates a Manager. radio may be nil, in which case scan and connect
// fail with ErrRadioUnavailable. Call Start before issuing commands.
func New(radio Radio, perms permission.Source, opts Options) (*Manager, error) {
	if perms == nil {
		return nil, fmt.Errorf("ble: permission source is required")
	}
	if err := opts.Target.Validate(); err != nil {
		return nil, err
	}
	def := DefaultOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.DiscoveryDelay <= 0 {
		opts.DiscoveryDelay = def.DiscoveryDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}

	m := &Manager{
		radio:     radio,
		perms:     perms,
		opts:      opts,
		cmds:      make(chan func()),
		internal:  make(chan func(), 16),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     Status{State: StateIdle},
		connected: bus.NewValue[bool](),
		payload:   bus.NewValue[Payload](),
		status:    bus.NewValue[Status](),
		events:    bus.NewBroadcaster[Notification](),
	}
	m.poll.m = m
	m.status.Set(m.state)
	return m, nil
}

// Start launches the event loop. Calling it more than once is a no-op.
func (m *Manager) Start() {
	m.startOnce.Do(func() { go m.run() })
}

// Close stops any scan, tears down the session, stops the loop and closes
// every observer channel. Safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.Start()
		err = m.do(func() error {
			if scanErr := m.stopScan(); scanErr != nil {
				slog.Warn("[BLE] stop scan on close", "error", scanErr)
			}
			return m.disconnect()
		})
		close(m.quit)
		<-m.done

		m.connected.Close()
		m.payload.Close()
		m.status.Close()
		m.events.Close()
	})
	return err
}

func (m *Manager) run() {
	defer close(m.done)

	var events <-chan Event
	if m.radio != nil {
		events = m.radio.Events()
	}

	for {
		select {
		case fn := <-m.cmds:
			fn()
		case fn := <-m.internal:
			fn()
		case ev, ok := <-events:
			if !ok {
				slog.Warn("[BLE] radio event channel closed")
				events = nil
				continue
			}
			m.dispatch(ev)
		case <-m.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for its result.
func (m *Manager) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case m.cmds <- func() { reply <- fn() }:
	case <-m.done:
		return ErrClosed
	}
	return <-reply
}

// post queues fn onto the loop without waiting. Dropped after shutdown.
func (m *Manager) post(fn func()) {
	select {
	case m.internal <- fn:
	case <-m.done:
	}
}

// after runs fn on the loop once d has elapsed. fn must re-check whatever
// it depends on; stopping the returned timer is best effort.
func (m *Manager) after(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { m.post(fn) })
}

func (m *Manager) dispatch(ev Event) {
	switch e := ev.(type) {
	case DeviceFound:
		m.onDeviceFound(e.Peripheral)
	case ConnectionChanged:
		m.onConnectionChanged(e)
	case ServicesDiscovered:
		m.onServicesDiscovered(e)
	case CharacteristicChanged:
		m.onCharacteristicChanged(e)
	case DescriptorWriteComplete:
		m.onDescriptorWrite(e)
	case CharacteristicReadComplete:
		m.onCharacteristicRead(e)
	default:
		slog.Warn("[BLE] unhandled radio event", "type", fmt.Sprintf("%T", ev))
	}
}

// allowed consults the permission gate for op.
func (m *Manager) allowed(op permission.Operation) bool {
	ok := permission.CanPerform(op, m.perms.Snapshot())
	if !ok {
		slog.Debug("[GATE] operation denied", "op", op)
	}
	return ok
}

func (m *Manager) setStatus(st State, err error, p Peripheral) {
	prev := m.state.State
	m.state = Status{State: st, Err: err, Peripheral: p}
	m.status.Set(m.state)
	if err != nil {
		slog.Warn("[BLE] state change", "from", prev, "to", st, "error", err)
		return
	}
	slog.Debug("[BLE] state change", "from", prev, "to", st)
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	st, _ := m.status.Get()
	return st
}

// StatusValue exposes every connection state change.
func (m *Manager) StatusValue() *bus.Value[Status] { return m.status }

// Connected exposes the connection-status stream.
func (m *Manager) Connected() *bus.Value[bool] { return m.connected }

// Payload exposes the latest value of the target characteristic.
func (m *Manager) Payload() *bus.Value[Payload] { return m.payload }

// Subscribe registers for discrete notifications (scan started/stopped,
// device found/connected/disconnected). Slow subscribers miss events
// once their buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Notification, func()) {
	return m.events.Subscribe(buffer)
}
