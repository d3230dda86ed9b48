// Package simradio is a software radio with scripted peripherals. It lets
// the manager run end to end without Bluetooth hardware.
package simradio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/blereader/internal/ble"
	"github.com/google/uuid"
)

// Peripheral is a scripted device.
type Peripheral struct {
	Info     ble.Peripheral
	Services []*ble.Service
	// Value returns the n-th value (0-based) of every characteristic.
	Value func(char uuid.UUID, n uint32) []byte
	// NotifyEvery is the notification period once the CCCD is written.
	NotifyEvery time.Duration
	// Unreachable makes connection attempts fail.
	Unreachable bool
}

// Options configures the simulated radio.
type Options struct {
	Latency        time.Duration // delay before each command's callback
	AdvertiseEvery time.Duration // advertisement period while scanning
	Peripherals    []Peripheral
}

// DefaultOptions returns one peripheral exposing target.
func DefaultOptions(target ble.Target) Options {
	return Options{
		Latency:        20 * time.Millisecond,
		AdvertiseEvery: 500 * time.Millisecond,
		Peripherals:    []Peripheral{DefaultPeripheral(target)},
	}
}

// DefaultPeripheral exposes target as Read|Notify with a CCCD and serves a
// big-endian uint32 counter.
func DefaultPeripheral(target ble.Target) Peripheral {
	return Peripheral{
		Info: ble.Peripheral{Address: "AA:BB:CC:DD:EE:FF", Name: "DataReader-Sim", RSSI: -48},
		Services: []*ble.Service{
			{UUID: uuid.MustParse("00001800-0000-1000-8000-00805f9b34fb")},
			{
				UUID: target.Service,
				Characteristics: []*ble.Characteristic{{
					UUID:        target.Characteristic,
					Properties:  ble.PropRead | ble.PropNotify,
					Descriptors: []*ble.Descriptor{{UUID: target.CCCD}},
				}},
			},
		},
		Value:       Counter,
		NotifyEvery: time.Second,
	}
}

// Counter encodes n as a big-endian uint32.
func Counter(_ uuid.UUID, n uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, n)
}

// Radio implements ble.Radio.
type Radio struct {
	opts   Options
	events chan ble.Event
	quit   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	scanStop chan struct{}
	links    map[*link]struct{}
	closed   bool
}

// New creates a simulated radio.
func New(opts Options) *Radio {
	if opts.AdvertiseEvery <= 0 {
		opts.AdvertiseEvery = 500 * time.Millisecond
	}
	return &Radio{
		opts:   opts,
		events: make(chan ble.Event, 64),
		quit:   make(chan struct{}),
		links:  make(map[*link]struct{}),
	}
}

// Events implements ble.Radio.
func (r *Radio) Events() <-chan ble.Event { return r.events }

// StartScan implements ble.Radio. Every peripheral advertises immediately
// and then every AdvertiseEvery until StopScan.
func (r *Radio) StartScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("simradio: closed")
	}
	if r.scanStop != nil {
		return fmt.Errorf("simradio: already scanning")
	}
	stop := make(chan struct{})
	r.scanStop = stop
	slog.Debug("[SIM] scan started", "peripherals", len(r.opts.Peripherals))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.opts.AdvertiseEvery)
		defer ticker.Stop()
		for {
			for _, p := range r.opts.Peripherals {
				select {
				case r.events <- ble.DeviceFound{Peripheral: p.Info}:
				case <-stop:
					return
				case <-r.quit:
					return
				}
			}
			select {
			case <-ticker.C:
			case <-stop:
				return
			case <-r.quit:
				return
			}
		}
	}()
	return nil
}

// StopScan implements ble.Radio.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanStop != nil {
		close(r.scanStop)
		r.scanStop = nil
		slog.Debug("[SIM] scan stopped")
	}
	return nil
}

// Connect implements ble.Radio.
func (r *Radio) Connect(p ble.Peripheral) (ble.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("simradio: closed")
	}

	l := &link{radio: r, peripheral: p}
	r.links[l] = struct{}{}

	def, ok := r.lookup(p.Address)
	if !ok || def.Unreachable {
		slog.Debug("[SIM] connect will fail", "address", p.Address)
		r.later(ble.ConnectionChanged{Link: l, Status: ble.GATTStatus(133), State: ble.LinkDisconnected})
		return l, nil
	}
	l.def = def
	r.later(ble.ConnectionChanged{Link: l, Status: ble.GATTSuccess, State: ble.LinkConnected})
	return l, nil
}

// Drop simulates the peripheral at address going out of range.
func (r *Radio) Drop(address string) {
	r.mu.Lock()
	var dropped []*link
	for l := range r.links {
		if strings.EqualFold(l.peripheral.Address, address) {
			dropped = append(dropped, l)
		}
	}
	r.mu.Unlock()

	for _, l := range dropped {
		l.stopNotifier()
		r.emit(ble.ConnectionChanged{Link: l, Status: ble.GATTStatus(8), State: ble.LinkDisconnected})
	}
}

// Close stops every background goroutine. Events raised afterwards are
// dropped.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.scanStop != nil {
		close(r.scanStop)
		r.scanStop = nil
	}
	links := make([]*link, 0, len(r.links))
	for l := range r.links {
		links = append(links, l)
	}
	r.mu.Unlock()

	for _, l := range links {
		l.stopNotifier()
	}
	close(r.quit)
	r.wg.Wait()
	return nil
}

// lookup must be called with mu held.
func (r *Radio) lookup(address string) (*Peripheral, bool) {
	for i := range r.opts.Peripherals {
		if strings.EqualFold(r.opts.Peripherals[i].Info.Address, address) {
			return &r.opts.Peripherals[i], true
		}
	}
	return nil, false
}

// later emits ev after the configured latency.
func (r *Radio) later(ev ble.Event) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.opts.Latency > 0 {
			t := time.NewTimer(r.opts.Latency)
			defer t.Stop()
			select {
			case <-t.C:
			case <-r.quit:
				return
			}
		}
		r.emit(ev)
	}()
}

func (r *Radio) emit(ev ble.Event) {
	select {
	case r.events <- ev:
	case <-r.quit:
	}
}

func (r *Radio) forget(l *link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, l)
}

var _ ble.Radio = (*Radio)(nil)

// link is a connection to a scripted peripheral.
type link struct {
	radio      *Radio
	peripheral ble.Peripheral
	def        *Peripheral

	mu       sync.Mutex
	reads    uint32
	notify   *ble.Characteristic
	stop     chan struct{}
	released bool
}

func (l *link) DiscoverServices() error {
	if err := l.usable(); err != nil {
		return err
	}
	l.radio.later(ble.ServicesDiscovered{Link: l, Status: ble.GATTSuccess, Services: l.def.Services})
	return nil
}

func (l *link) SetNotify(c *ble.Characteristic, enable bool) error {
	if err := l.usable(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if enable {
		l.notify = c
	} else {
		l.notify = nil
	}
	return nil
}

func (l *link) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	if err := l.usable(); err != nil {
		return err
	}
	l.radio.later(ble.DescriptorWriteComplete{Link: l, UUID: d.UUID, Status: ble.GATTSuccess})

	if bytes.Equal(value, ble.DisableNotificationValue) {
		l.stopNotifier()
		return nil
	}
	l.startNotifier()
	return nil
}

func (l *link) ReadCharacteristic(c *ble.Characteristic) error {
	if err := l.usable(); err != nil {
		return err
	}
	l.mu.Lock()
	n := l.reads
	l.reads++
	l.mu.Unlock()
	l.radio.later(ble.CharacteristicReadComplete{
		Link:   l,
		UUID:   c.UUID,
		Status: ble.GATTSuccess,
		Value:  l.value(c.UUID, n),
	})
	return nil
}

func (l *link) Disconnect() error {
	if err := l.usable(); err != nil {
		return err
	}
	l.stopNotifier()
	l.radio.later(ble.ConnectionChanged{Link: l, Status: ble.GATTSuccess, State: ble.LinkDisconnected})
	return nil
}

func (l *link) Close() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	l.mu.Unlock()
	l.stopNotifier()
	l.radio.forget(l)
	return nil
}

func (l *link) usable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return fmt.Errorf("simradio: link closed")
	}
	if l.def == nil {
		return fmt.Errorf("simradio: %s not connected", l.peripheral.Address)
	}
	return nil
}

// startNotifier emits a notification for the selected characteristic
// every NotifyEvery. Only one notifier runs per link.
func (l *link) startNotifier() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil || l.notify == nil || l.def.NotifyEvery <= 0 {
		return
	}
	stop := make(chan struct{})
	l.stop = stop
	id := l.notify.UUID
	every := l.def.NotifyEvery

	l.radio.wg.Add(1)
	go func() {
		defer l.radio.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		var n uint32
		for {
			select {
			case <-ticker.C:
				ev := ble.CharacteristicChanged{Link: l, UUID: id, Value: l.value(id, n)}
				n++
				select {
				case l.radio.events <- ev:
				case <-stop:
					return
				case <-l.radio.quit:
					return
				}
			case <-stop:
				return
			case <-l.radio.quit:
				return
			}
		}
	}()
}

func (l *link) stopNotifier() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

func (l *link) value(id uuid.UUID, n uint32) []byte {
	if l.def.Value == nil {
		return nil
	}
	return l.def.Value(id, n)
}

var _ ble.Link = (*link)(nil)
