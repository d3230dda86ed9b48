package ble

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Property is a characteristic property bit, using the Bluetooth Core
// numbering.
type Property uint8

const (
	PropBroadcast       Property = 0x01
	PropRead            Property = 0x02
	PropWriteNoResponse Property = 0x04
	PropWrite           Property = 0x08
	PropNotify          Property = 0x10
	PropIndicate        Property = 0x20
)

// Has reports whether all bits of q are set.
func (p Property) Has(q Property) bool { return p&q == q }

func (p Property) String() string {
	names := []struct {
		bit  Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteNoResponse, "write-no-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	}
	var parts []string
	for _, n := range names {
		if p.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// CCCD values.
var (
	EnableNotificationValue  = []byte{0x01, 0x00}
	EnableIndicationValue    = []byte{0x02, 0x00}
	DisableNotificationValue = []byte{0x00, 0x00}
)

// Service is a discovered GATT service.
type Service struct {
	UUID            uuid.UUID
	Characteristics []*Characteristic
}

// Characteristic returns the characteristic with the given UUID, or nil.
func (s *Service) Characteristic(id uuid.UUID) *Characteristic {
	for _, c := range s.Characteristics {
		if c.UUID == id {
			return c
		}
	}
	return nil
}

// Characteristic is a discovered GATT characteristic.
type Characteristic struct {
	UUID        uuid.UUID
	Properties  Property
	Descriptors []*Descriptor
}

// Descriptor returns the descriptor with the given UUID, or nil.
func (c *Characteristic) Descriptor(id uuid.UUID) *Descriptor {
	for _, d := range c.Descriptors {
		if d.UUID == id {
			return d
		}
	}
	return nil
}

// Descriptor is a discovered GATT descriptor.
type Descriptor struct {
	UUID uuid.UUID
}

// FindService returns the service with the given UUID, or nil.
func FindService(services []*Service, id uuid.UUID) *Service {
	for _, s := range services {
		if s.UUID == id {
			return s
		}
	}
	return nil
}

// GATTStatus is a GATT operation status reported by the platform.
type GATTStatus int

const (
	GATTSuccess GATTStatus = 0x00
	GATTFailure GATTStatus = 0x101
)

func (s GATTStatus) String() string {
	if s == GATTSuccess {
		return "success"
	}
	return fmt.Sprintf("status 0x%02x", int(s))
}

// LinkState is the connection state reported by a ConnectionChanged event.
type LinkState int

const (
	LinkDisconnected LinkState = 0
	LinkConnected    LinkState = 2
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnected:
		return "connected"
	default:
		return fmt.Sprintf("link state %d", int(s))
	}
}
