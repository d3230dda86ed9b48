// Package hostradio drives the host Bluetooth stack through
// tinygo.org/x/bluetooth (BlueZ on Linux, CoreBluetooth on macOS, WinRT on
// Windows) and reports every callback as a ble.Event.
//
// tinygo's central API is synchronous, so each command runs on its own
// goroutine and posts its result to the event channel.
package hostradio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/blereader/internal/ble"
	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// readBufferSize bounds a single characteristic read (max ATT value length).
const readBufferSize = 512

// scanDrainTimeout bounds how long StartScan waits for the previous Scan
// call to return after StopScan.
const scanDrainTimeout = time.Second

// central is the part of *bluetooth.Adapter the radio drives.
type central interface {
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
}

// Radio implements ble.Radio on the default host adapter.
// On macOS, addresses are CoreBluetooth UUIDs (not MAC addresses); they are
// passed through unchanged.
type Radio struct {
	central central
	hangUp  func(bluetooth.Device) error
	events  chan ble.Event
	quit    chan struct{}

	// mu protects scanning, scanDone, links and closed.
	mu       sync.Mutex
	scanning bool
	scanDone chan struct{}    // closed when the last Scan call returned
	links    map[string]*link // keyed by upper-cased address
	closed   bool
	wg       sync.WaitGroup
}

func newRadio(c central, hangUp func(bluetooth.Device) error) *Radio {
	return &Radio{
		central: c,
		hangUp:  hangUp,
		events:  make(chan ble.Event, 64),
		quit:    make(chan struct{}),
		links:   make(map[string]*link),
	}
}

// Open enables the default adapter and returns a Radio bound to it.
func Open() (*Radio, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("hostradio: enable adapter: %w", err)
	}
	r := newRadio(adapter, func(d bluetooth.Device) error { return d.Disconnect() })

	// tinygo fires this with connected=false when a peripheral drops the
	// link on its own.
	adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		r.mu.Lock()
		l, ok := r.links[strings.ToUpper(device.Address.String())]
		r.mu.Unlock()
		if ok {
			slog.Info("[HOST] peripheral dropped the link", "address", l.address)
			r.emit(ble.ConnectionChanged{Link: l, Status: ble.GATTSuccess, State: ble.LinkDisconnected})
		}
	})
	slog.Info("[HOST] adapter enabled")
	return r, nil
}

// Events implements ble.Radio.
func (r *Radio) Events() <-chan ble.Event { return r.events }

// StartScan implements ble.Radio. The scan runs until StopScan. A scan
// stopped just before is drained first, since the platform allows only
// one Scan call at a time.
func (r *Radio) StartScan() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("hostradio: closed")
	}
	if r.scanning {
		r.mu.Unlock()
		return nil
	}
	prev := r.scanDone
	r.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-time.After(scanDrainTimeout):
			return fmt.Errorf("hostradio: previous scan did not stop")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("hostradio: closed")
	}
	if r.scanning {
		return nil
	}
	done := make(chan struct{})
	r.scanning = true
	r.scanDone = done

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		err := r.central.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			r.emit(ble.DeviceFound{Peripheral: ble.Peripheral{
				Address: result.Address.String(),
				Name:    result.LocalName(),
				RSSI:    int(result.RSSI),
			}})
		})
		if err != nil {
			slog.Error("[HOST] scan ended", "error", err)
		}
		// A scan ending on its own (adapter error) clears the flag too.
		r.mu.Lock()
		if r.scanDone == done {
			r.scanning = false
		}
		r.mu.Unlock()
	}()
	return nil
}

// StopScan implements ble.Radio. The flag is cleared at once; the Scan
// call returns in the background.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	scanning := r.scanning
	r.scanning = false
	r.mu.Unlock()
	if !scanning {
		return nil
	}
	if err := r.central.StopScan(); err != nil {
		return fmt.Errorf("hostradio: stop scan: %w", err)
	}
	return nil
}

// Connect implements ble.Radio. The returned link reports completion with
// a ConnectionChanged event.
func (r *Radio) Connect(p ble.Peripheral) (ble.Link, error) {
	var addr bluetooth.Address
	addr.Set(p.Address)

	l := &link{radio: r, address: p.Address, chars: make(map[uuid.UUID]*bluetooth.DeviceCharacteristic)}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("hostradio: closed")
	}
	r.links[strings.ToUpper(p.Address)] = l
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// tinygo's Connect blocks with its own timeout.
		device, err := r.central.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			slog.Error("[HOST] connect failed", "address", p.Address, "error", err)
			l.emit(ble.ConnectionChanged{Link: l, Status: ble.GATTFailure, State: ble.LinkDisconnected})
			return
		}
		if !l.adopt(&device) {
			// Released while connecting: nobody owns this connection.
			slog.Info("[HOST] link closed while connecting, disconnecting", "address", p.Address)
			if err := r.hangUp(device); err != nil {
				slog.Warn("[HOST] disconnect", "address", p.Address, "error", err)
			}
			return
		}
		l.emit(ble.ConnectionChanged{Link: l, Status: ble.GATTSuccess, State: ble.LinkConnected})
	}()
	return l, nil
}

// Close stops scanning and waits for in-flight commands. Events raised
// after Close are dropped.
func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	scanning := r.scanning
	r.scanning = false
	r.mu.Unlock()

	if scanning {
		_ = r.central.StopScan()
	}
	close(r.quit)
	r.wg.Wait()
	return nil
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
	key := strings.ToUpper(l.address)
	if r.links[key] == l {
		delete(r.links, key)
	}
}

// Compile-time check that Radio implements ble.Radio.
var _ ble.Radio = (*Radio)(nil)
