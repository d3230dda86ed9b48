package ble

import "github.com/google/uuid"

// Event is a callback from the radio. The concrete types below are the
// only implementations; the manager dispatches on them with a type switch.
type Event interface {
	radioEvent()
}

// DeviceFound reports an advertisement seen while scanning.
type DeviceFound struct {
	Peripheral Peripheral
}

// ConnectionChanged reports a connect or disconnect on Link.
type ConnectionChanged struct {
	Link   Link
	Status GATTStatus
	State  LinkState
}

// ServicesDiscovered answers Link.DiscoverServices.
type ServicesDiscovered struct {
	Link     Link
	Status   GATTStatus
	Services []*Service
}

// CharacteristicChanged carries a notification or indication.
type CharacteristicChanged struct {
	Link  Link
	UUID  uuid.UUID
	Value []byte
}

// DescriptorWriteComplete answers Link.WriteDescriptor.
type DescriptorWriteComplete struct {
	Link   Link
	UUID   uuid.UUID
	Status GATTStatus
}

// CharacteristicReadComplete answers Link.ReadCharacteristic.
type CharacteristicReadComplete struct {
	Link   Link
	UUID   uuid.UUID
	Status GATTStatus
	Value  []byte
}

func (DeviceFound) radioEvent()                {}
func (ConnectionChanged) radioEvent()          {}
func (ServicesDiscovered) radioEvent()         {}
func (CharacteristicChanged) radioEvent()      {}
func (DescriptorWriteComplete) radioEvent()    {}
func (CharacteristicReadComplete) radioEvent() {}
