// Package sink writes payloads and manager notifications to an output:
// a terminal, a JSON lines stream, or the focused application's keyboard
// input.
package sink

import (
	"fmt"
	"os"
	"strings"

	"github.com/chaz8081/blereader/internal/ble"
)

// Sink consumes manager output. Implementations are not required to be
// safe for concurrent use.
type Sink interface {
	WritePayload(p ble.Payload) error
	WriteEvent(n ble.Notification) error
	Close() error
}

// New returns the sink for method ("print", "json", "type" or "paste").
// path is only used by "json"; empty means stdout.
func New(method, path string) (Sink, error) {
	switch method {
	case "print":
		return NewPrinter(os.Stdout), nil
	case "json":
		if path == "" {
			return NewJSONLines(os.Stdout), nil
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("sink: open %s: %w", path, err)
		}
		return newJSONLinesFile(f), nil
	case "type", "paste":
		return NewKeyboard(method), nil
	default:
		return nil, fmt.Errorf("sink: unknown method %q", method)
	}
}

// Hex renders b as upper-case byte pairs separated by single spaces,
// e.g. "0A 1B FF". Empty input gives "".
func Hex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}

// Describe renders a notification for humans.
func Describe(n ble.Notification) string {
	switch n.Kind {
	case ble.EventScanStarted:
		return "scan started"
	case ble.EventScanStopped:
		return "scan stopped"
	case ble.EventDeviceFound:
		return fmt.Sprintf("found %s rssi %d", n.Peripheral, n.Peripheral.RSSI)
	case ble.EventDeviceConnected:
		return fmt.Sprintf("connected to %s", n.Peripheral)
	case ble.EventDeviceDisconnected:
		return fmt.Sprintf("disconnected from %s", n.Peripheral)
	default:
		return n.Kind.String()
	}
}
