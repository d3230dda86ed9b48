package ble

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/blereader/internal/permission"
	"github.com/google/uuid"
)

// fakeLink records every command issued on it.
type fakeLink struct {
	mu          sync.Mutex
	peripheral  Peripheral
	discovers   int
	notifies    []bool
	writes      [][]byte
	reads       int
	disconnects int
	closes      int
	discoverErr error
	notifyErr   error
	readErr     error
}

func (l *fakeLink) DiscoverServices() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discovers++
	return l.discoverErr
}

func (l *fakeLink) SetNotify(_ *Characteristic, enable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifies = append(l.notifies, enable)
	return l.notifyErr
}

func (l *fakeLink) WriteDescriptor(_ *Descriptor, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	l.writes = append(l.writes, cp)
	return nil
}

func (l *fakeLink) ReadCharacteristic(_ *Characteristic) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	return l.readErr
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects++
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

// counts returns a consistent copy of the recorded calls.
func (l *fakeLink) counts() (discovers, notifies, writes, reads, disconnects, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discovers, len(l.notifies), len(l.writes), l.reads, l.disconnects, l.closes
}

func (l *fakeLink) readCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

func (l *fakeLink) writtenValues() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes...)
}

// fakeRadio simulates the platform radio. Tests inject hardware callbacks
// with emit.
type fakeRadio struct {
	mu         sync.Mutex
	events     chan Event
	starts     int
	stops      int
	connects   []Peripheral
	links      []*fakeLink
	startErr   error
	connectErr error
	// linkWithErr makes a failing Connect still hand back a link.
	linkWithErr bool
	// notifyErr and readErr are copied into every new link.
	notifyErr error
	readErr   error
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{events: make(chan Event, 64)}
}

func (r *fakeRadio) StartScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.starts++
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRadio) Connect(p Peripheral) (Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, p)
	if r.connectErr != nil && !r.linkWithErr {
		return nil, r.connectErr
	}
	l := &fakeLink{peripheral: p, notifyErr: r.notifyErr, readErr: r.readErr}
	r.links = append(r.links, l)
	return l, r.connectErr
}

func (r *fakeRadio) Events() <-chan Event { return r.events }

func (r *fakeRadio) emit(ev Event) { r.events <- ev }

func (r *fakeRadio) scanCounts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

func (r *fakeRadio) connectCalls() []Peripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Peripheral(nil), r.connects...)
}

// lastLink returns the most recently created link (thread-safe).
func (r *fakeRadio) lastLink() *fakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.links) == 0 {
		return nil
	}
	return r.links[len(r.links)-1]
}

var (
	_ Radio = (*fakeRadio)(nil)
	_ Link  = (*fakeLink)(nil)
)

// allGranted is a scoped host with every runtime permission.
func allGranted() *permission.Store {
	return permission.NewStore(permission.Snapshot{
		Revision: permission.ScopedRevision,
		Granted:  permission.Set(0).With(permission.PermScan).With(permission.PermConnect),
	})
}

// testOptions keeps timers out of the way unless a test shortens them.
func testOptions() Options {
	opts := DefaultOptions()
	opts.ScanTimeout = time.Hour
	opts.DiscoveryDelay = 5 * time.Millisecond
	opts.PollInterval = time.Hour
	return opts
}

func mustNewManager(t *testing.T, radio Radio, perms permission.Source, opts Options) *Manager {
	t.Helper()
	m, err := New(radio, perms, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.Start()
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, m *Manager, want State) Status {
	t.Helper()
	var st Status
	waitFor(t, "state "+want.String(), func() bool {
		st = m.Status()
		return st.State == want
	})
	return st
}

// collector drains a notification subscription in the background.
type collector struct {
	mu   sync.Mutex
	seen []Notification
}

func collect(t *testing.T, m *Manager) *collector {
	t.Helper()
	ch, cancel := m.Subscribe(64)
	t.Cleanup(cancel)
	c := &collector{}
	go func() {
		for n := range ch {
			c.mu.Lock()
			c.seen = append(c.seen, n)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *collector) count(kind EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.seen {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (c *collector) kinds() []EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventKind, len(c.seen))
	for i, e := range c.seen {
		out[i] = e.Kind
	}
	return out
}

// targetServices builds a GATT database exposing the default target
// characteristic with props and, when cccd is set, its CCCD.
func targetServices(props Property, cccd bool) []*Service {
	char := &Characteristic{UUID: DefaultCharacteristicUUID, Properties: props}
	if cccd {
		char.Descriptors = []*Descriptor{{UUID: CCCDUUID}}
	}
	return []*Service{
		{UUID: uuid.MustParse("00001800-0000-1000-8000-00805f9b34fb")},
		{UUID: DefaultServiceUUID, Characteristics: []*Characteristic{char}},
	}
}

var errRadio = errors.New("radio failure")
