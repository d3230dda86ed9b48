package sink

import (
	"fmt"
	"io"

	"github.com/chaz8081/blereader/internal/ble"
)

const timeLayout = "15:04:05.000"

// Printer writes one human-readable line per payload or notification.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w. w must not be nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		panic("sink: nil writer")
	}
	return &Printer{w: w}
}

func (p *Printer) WritePayload(pl ble.Payload) error {
	data := Hex(pl.Data)
	if data == "" {
		data = "(empty)"
	}
	_, err := fmt.Fprintf(p.w, "%s  %s\n", pl.At.Format(timeLayout), data)
	return err
}

func (p *Printer) WriteEvent(n ble.Notification) error {
	_, err := fmt.Fprintf(p.w, "-- %s\n", Describe(n))
	return err
}

func (p *Printer) Close() error { return nil }

var _ Sink = (*Printer)(nil)
