package hostradio

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/blereader/internal/ble"
	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// link is one tinygo connection.
type link struct {
	radio   *Radio
	address string

	// mu protects every field below.
	mu     sync.Mutex
	device *bluetooth.Device
	chars  map[uuid.UUID]*bluetooth.DeviceCharacteristic
	notify *ble.Characteristic // target of the next CCCD write
	closed bool
}

// DiscoverServices implements ble.Link. tinygo exposes neither
// characteristic properties nor descriptors, so every characteristic is
// reported as Read|Notify with a CCCD.
func (l *link) DiscoverServices() error {
	device, err := l.connected()
	if err != nil {
		return err
	}
	l.radio.wg.Add(1)
	go func() {
		defer l.radio.wg.Done()
		services, err := l.discover(device)
		if err != nil {
			slog.Error("[HOST] service discovery failed", "address", l.address, "error", err)
			l.emit(ble.ServicesDiscovered{Link: l, Status: ble.GATTFailure})
			return
		}
		l.emit(ble.ServicesDiscovered{Link: l, Status: ble.GATTSuccess, Services: services})
	}()
	return nil
}

func (l *link) discover(device *bluetooth.Device) ([]*ble.Service, error) {
	svcs, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("hostradio: discover services: %w", err)
	}

	chars := make(map[uuid.UUID]*bluetooth.DeviceCharacteristic)
	var out []*ble.Service
	for i := range svcs {
		svc := &ble.Service{UUID: toUUID(svcs[i].UUID())}
		found, err := svcs[i].DiscoverCharacteristics(nil)
		if err != nil {
			slog.Warn("[HOST] discover characteristics", "service", svc.UUID, "error", err)
			out = append(out, svc)
			continue
		}
		for j := range found {
			id := toUUID(found[j].UUID())
			chars[id] = &found[j]
			svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{
				UUID:        id,
				Properties:  ble.PropRead | ble.PropNotify,
				Descriptors: []*ble.Descriptor{{UUID: ble.CCCDUUID}},
			})
		}
		out = append(out, svc)
	}

	l.mu.Lock()
	l.chars = chars
	l.mu.Unlock()
	return out, nil
}

// SetNotify implements ble.Link. tinygo couples local delivery with the
// CCCD write, so this only remembers which characteristic the next
// WriteDescriptor targets.
func (l *link) SetNotify(c *ble.Characteristic, enable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("hostradio: link closed")
	}
	if enable {
		l.notify = c
	} else if l.notify == c {
		l.notify = nil
	}
	return nil
}

// WriteDescriptor implements ble.Link for the CCCD only.
func (l *link) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	if d.UUID != ble.CCCDUUID {
		return fmt.Errorf("hostradio: descriptor %s is not writable", d.UUID)
	}
	if bytes.Equal(value, ble.DisableNotificationValue) {
		return fmt.Errorf("hostradio: disabling notifications is not supported")
	}

	l.mu.Lock()
	target := l.notify
	var char *bluetooth.DeviceCharacteristic
	if target != nil {
		char = l.chars[target.UUID]
	}
	l.mu.Unlock()
	if char == nil {
		return fmt.Errorf("hostradio: no characteristic selected for notifications")
	}

	id := target.UUID
	l.radio.wg.Add(1)
	go func() {
		defer l.radio.wg.Done()
		err := char.EnableNotifications(func(buf []byte) {
			value := make([]byte, len(buf))
			copy(value, buf)
			l.emit(ble.CharacteristicChanged{Link: l, UUID: id, Value: value})
		})
		status := ble.GATTSuccess
		if err != nil {
			slog.Error("[HOST] enable notifications", "characteristic", id, "error", err)
			status = ble.GATTFailure
		}
		l.emit(ble.DescriptorWriteComplete{Link: l, UUID: d.UUID, Status: status})
	}()
	return nil
}

// ReadCharacteristic implements ble.Link.
func (l *link) ReadCharacteristic(c *ble.Characteristic) error {
	l.mu.Lock()
	char := l.chars[c.UUID]
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return fmt.Errorf("hostradio: link closed")
	}
	if char == nil {
		return fmt.Errorf("hostradio: characteristic %s not discovered", c.UUID)
	}

	l.radio.wg.Add(1)
	go func() {
		defer l.radio.wg.Done()
		buf := make([]byte, readBufferSize)
		n, err := char.Read(buf)
		if err != nil {
			slog.Warn("[HOST] read failed", "characteristic", c.UUID, "error", err)
			l.emit(ble.CharacteristicReadComplete{Link: l, UUID: c.UUID, Status: ble.GATTFailure})
			return
		}
		if n > len(buf) {
			n = len(buf)
		}
		l.emit(ble.CharacteristicReadComplete{Link: l, UUID: c.UUID, Status: ble.GATTSuccess, Value: buf[:n]})
	}()
	return nil
}

// Disconnect implements ble.Link. The disconnect itself runs in the
// background; the adapter's connect handler reports the result.
func (l *link) Disconnect() error {
	device, err := l.connected()
	if err != nil {
		return err
	}
	l.radio.wg.Add(1)
	go func() {
		defer l.radio.wg.Done()
		if err := l.radio.hangUp(*device); err != nil {
			slog.Warn("[HOST] disconnect", "address", l.address, "error", err)
		}
	}()
	return nil
}

// Close implements ble.Link.
func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.chars = nil
	l.notify = nil
	l.mu.Unlock()
	l.radio.forget(l)
	return nil
}

// adopt stores the connected device unless the link was already closed.
func (l *link) adopt(device *bluetooth.Device) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.device = device
	return true
}

func (l *link) connected() (*bluetooth.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("hostradio: link closed")
	}
	if l.device == nil {
		return nil, fmt.Errorf("hostradio: %s not connected", l.address)
	}
	return l.device, nil
}

// emit drops events for a closed link.
func (l *link) emit(ev ble.Event) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	l.radio.emit(ev)
}

// toUUID converts a tinygo UUID; unparseable values map to uuid.Nil.
func toUUID(u bluetooth.UUID) uuid.UUID {
	id, err := uuid.Parse(u.String())
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Compile-time check that link implements ble.Link.
var _ ble.Link = (*link)(nil)
