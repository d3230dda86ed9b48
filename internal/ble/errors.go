package ble

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied          = errors.New("ble: permission denied")
	ErrAlreadyScanning           = errors.New("ble: scan already in progress")
	ErrRadioUnavailable          = errors.New("ble: radio unavailable")
	ErrInvalidTarget             = errors.New("ble: invalid target peripheral")
	ErrServiceNotFound           = errors.New("ble: target service not found")
	ErrCharacteristicNotFound    = errors.New("ble: target characteristic not found")
	ErrUnsupportedCharacteristic = errors.New("ble: characteristic supports neither notify nor indicate")
	ErrPermissionRevoked         = errors.New("ble: permission revoked")
	ErrHardwareFailure           = errors.New("ble: hardware failure")
	// ErrBusy is returned by Connect while another session exists.
	ErrBusy = errors.New("ble: connection already in progress")
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("ble: manager closed")
)

// HardwareError is a non-success status reported by the radio.
// errors.Is(err, ErrHardwareFailure) holds for every HardwareError.
type HardwareError struct {
	Status GATTStatus
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("ble: hardware failure (%s)", e.Status)
}

func (e *HardwareError) Is(target error) bool {
	return target == ErrHardwareFailure
}
