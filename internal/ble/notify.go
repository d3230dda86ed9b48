package ble

import (
	"fmt"
	"time"
)

// EventKind identifies a discrete notification for observers.
type EventKind int

const (
	EventScanStarted EventKind = iota
	EventScanStopped
	EventDeviceFound
	EventDeviceConnected
	EventDeviceDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventScanStarted:
		return "scan-started"
	case EventScanStopped:
		return "scan-stopped"
	case EventDeviceFound:
		return "device-found"
	case EventDeviceConnected:
		return "device-connected"
	case EventDeviceDisconnected:
		return "device-disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Notification is a one-shot, fire-and-forget event for observers.
// Peripheral is set for device events.
type Notification struct {
	Kind       EventKind
	Peripheral Peripheral
}

// Payload is the latest value seen on the target characteristic.
type Payload struct {
	Data []byte
	At   time.Time
}
