package sink

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chaz8081/blereader/internal/ble"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// JSONLines writes one JSON object per line. Payload records look like
//
//	{"at":"2024-05-01T10:00:00.250Z","data":"AQI=","hex":"01 02","size":2,"type":"payload"}
//
// and notification records carry "event" plus the peripheral fields.
type JSONLines struct {
	w      io.Writer
	closer io.Closer
	opts   protojson.MarshalOptions
}

// NewJSONLines returns a JSONLines sink writing to w. w must not be nil.
func NewJSONLines(w io.Writer) *JSONLines {
	if w == nil {
		panic("sink: nil writer")
	}
	return &JSONLines{w: w, opts: protojson.MarshalOptions{EmitUnpopulated: false}}
}

func newJSONLinesFile(f io.WriteCloser) *JSONLines {
	j := NewJSONLines(f)
	j.closer = f
	return j
}

func (j *JSONLines) WritePayload(p ble.Payload) error {
	at, err := timestamp(p.At)
	if err != nil {
		return err
	}
	return j.write(map[string]any{
		"type": "payload",
		"at":   at,
		"hex":  Hex(p.Data),
		"data": base64.StdEncoding.EncodeToString(p.Data),
		"size": len(p.Data),
	})
}

func (j *JSONLines) WriteEvent(n ble.Notification) error {
	at, err := timestamp(time.Now())
	if err != nil {
		return err
	}
	rec := map[string]any{
		"type":  "event",
		"at":    at,
		"event": n.Kind.String(),
	}
	if n.Peripheral.Address != "" {
		rec["address"] = n.Peripheral.Address
		rec["name"] = n.Peripheral.Name
		rec["rssi"] = n.Peripheral.RSSI
	}
	return j.write(rec)
}

func (j *JSONLines) write(rec map[string]any) error {
	s, err := structpb.NewStruct(rec)
	if err != nil {
		return fmt.Errorf("sink: build record: %w", err)
	}
	b, err := j.opts.Marshal(s)
	if err != nil {
		return fmt.Errorf("sink: encode record: %w", err)
	}
	b = append(b, '\n')
	if _, err := j.w.Write(b); err != nil {
		return fmt.Errorf("sink: write record: %w", err)
	}
	return nil
}

func (j *JSONLines) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}

// timestamp renders t in the protobuf JSON Timestamp form (RFC 3339, UTC).
func timestamp(t time.Time) (string, error) {
	b, err := protojson.Marshal(timestamppb.New(t))
	if err != nil {
		return "", fmt.Errorf("sink: encode timestamp: %w", err)
	}
	return strings.Trim(string(b), `"`), nil
}

var _ Sink = (*JSONLines)(nil)
