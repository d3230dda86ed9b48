package sink

import (
	"fmt"
	"runtime"

	"github.com/chaz8081/blereader/internal/ble"
	"github.com/go-vgo/robotgo"
)

// Keyboard enters each payload as hex into the active application, like a
// barcode wedge, followed by Enter.
type Keyboard struct {
	method string // "type" or "paste"
}

// NewKeyboard creates a Keyboard with the given method.
// method must be "type" (keystroke simulation) or "paste" (clipboard).
func NewKeyboard(method string) *Keyboard {
	return &Keyboard{method: method}
}

// WritePayload sends the payload to the active application using the configured method.
func (k *Keyboard) WritePayload(p ble.Payload) error {
	text := Hex(p.Data)
	if text == "" {
		return nil
	}

	var err error
	switch k.method {
	case "paste":
		err = k.paste(text)
	default: // "type"
		err = k.typeText(text)
	}
	if err != nil {
		return err
	}
	if err := robotgo.KeyTap("enter"); err != nil {
		return fmt.Errorf("sink: key tap enter: %w", err)
	}
	return nil
}

// WriteEvent ignores notifications; only data goes to the keyboard.
func (k *Keyboard) WriteEvent(ble.Notification) error { return nil }

func (k *Keyboard) Close() error { return nil }

// typeText simulates individual keystrokes. Preserves clipboard contents
// but is slower for long payloads.
func (k *Keyboard) typeText(text string) error {
	robotgo.Type(text)
	return nil
}

// paste copies text to clipboard and pastes it.
// Faster for long payloads but overwrites the clipboard.
func (k *Keyboard) paste(text string) error {
	// Save current clipboard
	prev, _ := robotgo.ReadAll()

	if err := robotgo.WriteAll(text); err != nil {
		return fmt.Errorf("sink: write to clipboard: %w", err)
	}

	modifier := "ctrl"
	if runtime.GOOS == "darwin" {
		modifier = "cmd"
	}
	if err := robotgo.KeyTap("v", modifier); err != nil {
		return fmt.Errorf("sink: key tap %s+v: %w", modifier, err)
	}

	// Restore previous clipboard (best effort)
	_ = robotgo.WriteAll(prev)

	return nil
}

var _ Sink = (*Keyboard)(nil)
