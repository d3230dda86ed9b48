// Package hotkey provides global hotkeys using gohook. The scan combo
// supports "hold" mode (press to scan, release to stop) and "toggle" mode
// (press to scan, press again to stop). An optional second combo
// requests a disconnect.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// Action is the command a hotkey requests.
type Action int

const (
	// ActionStartScan asks for a scan session.
	ActionStartScan Action = iota
	// ActionStopScan ends the scan session.
	ActionStopScan
	// ActionDisconnect drops the current connection.
	ActionDisconnect
)

func (a Action) String() string {
	switch a {
	case ActionStartScan:
		return "start-scan"
	case ActionStopScan:
		return "stop-scan"
	case ActionDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Action Action
}

// Listener manages the global hotkeys and emits actions.
type Listener struct {
	scanKeys       []string
	disconnectKeys []string
	mode           string // "hold" or "toggle"
	ch             chan Event
	done           chan struct{}
	once           sync.Once

	mu       sync.Mutex
	scanning bool // toggle state
}

// NewListener creates a Listener. keys should be lowercase key names
// (e.g., ["ctrl", "shift", "s"]); disconnectKeys may be empty.
// mode must be "hold" or "toggle".
func NewListener(scanKeys, disconnectKeys []string, mode string) *Listener {
	return &Listener{
		scanKeys:       scanKeys,
		disconnectKeys: disconnectKeys,
		mode:           mode,
		ch:             make(chan Event, 16),
		done:           make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// SetScanning syncs the toggle state with the manager, e.g. after a scan
// ends on its own timeout, so the next press starts a new scan.
func (l *Listener) SetScanning(scanning bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scanning = scanning
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	switch l.mode {
	case "toggle":
		hook.Register(hook.KeyDown, l.scanKeys, func(hook.Event) { l.toggle() })
	default: // "hold"
		hook.Register(hook.KeyDown, l.scanKeys, func(hook.Event) { l.hold(true) })
		hook.Register(hook.KeyUp, l.scanKeys, func(hook.Event) { l.hold(false) })
	}
	if len(l.disconnectKeys) > 0 {
		hook.Register(hook.KeyDown, l.disconnectKeys, func(hook.Event) { l.emit(ActionDisconnect) })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// hold implements hold-to-scan: KeyDown starts, KeyUp stops. Key repeat
// while held does not restart the scan.
func (l *Listener) hold(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if down == l.scanning {
		return
	}
	l.scanning = down
	if down {
		l.emit(ActionStartScan)
	} else {
		l.emit(ActionStopScan)
	}
}

// toggle flips between start and stop on each press.
func (l *Listener) toggle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scanning {
		l.emit(ActionStopScan)
	} else {
		l.emit(ActionStartScan)
	}
	l.scanning = !l.scanning
}

// emit never blocks the hook goroutine; actions are dropped when the
// channel is full.
func (l *Listener) emit(a Action) {
	select {
	case l.ch <- Event{Action: a}:
	default:
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
