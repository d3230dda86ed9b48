// Package ble provides the BLE central connection manager. It scans for
// peripherals, connects to one, subscribes to a fixed target
// characteristic, backs the subscription with periodic reads, and
// publishes connection status and received payloads to observers.
//
// The package drives a radio it does not implement: commands go out
// through Radio and Link, and hardware callbacks come back as Event values
// on the radio's single event channel.
package ble

import (
	"fmt"

	"github.com/google/uuid"
)

// Default target UUIDs.
var (
	DefaultServiceUUID        = uuid.MustParse("ea07beb5-483e-36e1-4688-b7f5ea61914b")
	DefaultCharacteristicUUID = uuid.MustParse("4f4bc5c9-c331-8fcc-459e-1fb54ffac201")
	// CCCDUUID is the Client Characteristic Configuration descriptor (0x2902).
	CCCDUUID = uuid.MustParse("00002902-0000-1000-8000-00805f9b34fb")
)

// Target names the one service/characteristic pair the manager
// subscribes to, and the descriptor used to enable notifications.
type Target struct {
	Service        uuid.UUID
	Characteristic uuid.UUID
	CCCD           uuid.UUID
}

// DefaultTarget returns the built-in target UUIDs.
func DefaultTarget() Target {
	return Target{
		Service:        DefaultServiceUUID,
		Characteristic: DefaultCharacteristicUUID,
		CCCD:           CCCDUUID,
	}
}

// Validate rejects targets with unset UUIDs.
func (t Target) Validate() error {
	if t.Service == uuid.Nil {
		return fmt.Errorf("ble: target service UUID is not set")
	}
	if t.Characteristic == uuid.Nil {
		return fmt.Errorf("ble: target characteristic UUID is not set")
	}
	if t.CCCD == uuid.Nil {
		return fmt.Errorf("ble: target CCCD UUID is not set")
	}
	return nil
}

// Peripheral identifies a discovered BLE device.
type Peripheral struct {
	Address string
	Name    string
	RSSI    int
}

func (p Peripheral) String() string {
	if p.Name == "" {
		return p.Address
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Address)
}

// Radio is the platform scanner/connector the manager orchestrates.
// Hardware callbacks for scans and for every Link it returns are
// delivered, in hardware order, on the channel returned by Events.
type Radio interface {
	// StartScan begins delivering DeviceFound events.
	StartScan() error
	// StopScan ends the current scan.
	StopScan() error
	// Connect starts connecting to p. Completion is reported by a
	// ConnectionChanged event carrying the returned Link.
	Connect(p Peripheral) (Link, error)
	// Events returns the radio's callback channel.
	Events() <-chan Event
}

// Link is the platform handle for one GATT connection. Each method only
// issues the command; results arrive as events.
type Link interface {
	// DiscoverServices requests the GATT database; answered by ServicesDiscovered.
	DiscoverServices() error
	// SetNotify toggles local delivery of notifications for c.
	SetNotify(c *Characteristic, enable bool) error
	// WriteDescriptor writes value to d; answered by DescriptorWriteComplete.
	WriteDescriptor(d *Descriptor, value []byte) error
	// ReadCharacteristic reads c; answered by CharacteristicReadComplete.
	ReadCharacteristic(c *Characteristic) error
	// Disconnect asks the peripheral to drop the link.
	Disconnect() error
	// Close releases the local handle. Closing twice is a no-op.
	Close() error
}
