package ble

import "fmt"

// State is the connection lifecycle state. Exactly one holds at a time.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingDiscovery // connected, waiting out the discovery guard delay
	StateDiscoveringServices
	StateSubscribing
	StateActive
	StateDisconnecting
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingDiscovery:
		return "awaiting-discovery"
	case StateDiscoveringServices:
		return "discovering-services"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// canConnect reports whether a new connection may start from s.
func (s State) canConnect() bool {
	return s == StateIdle || s == StateDisconnected || s == StateFailed
}

// Status is a State plus its context. Err is set only for StateFailed.
type Status struct {
	State      State
	Err        error
	Peripheral Peripheral
}

func (s Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s: %v", s.State, s.Err)
	}
	return s.State.String()
}
