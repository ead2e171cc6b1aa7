package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Payload kinds carried in the envelope.
const (
	KindText   = "text"
	KindFields = "fields"
	KindJSON   = "json"
	KindBinary = "binary"
)

// ErrNotRenderable is returned by payloads that have no text form.
var ErrNotRenderable = errors.New("payload is not renderable as text")

// Payload is the opaque body of a message. Render must be cheap; it runs on
// the dispatch goroutine.
type Payload interface {
	Render() (string, error)
}

// Text is a plain string payload.
type Text string

func (t Text) Render() (string, error) {
	return string(t), nil
}

// Fields renders as space separated key=value pairs in key order.
type Fields map[string]any

func (f Fields) Render() (string, error) {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, f[k])
	}
	return b.String(), nil
}

// Raw is a byte payload tagged with its kind.
type Raw struct {
	Kind string
	Data []byte
}

func (r Raw) Render() (string, error) {
	switch r.Kind {
	case KindText, "":
		return string(r.Data), nil
	case KindJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, r.Data); err != nil {
			return "", fmt.Errorf("compact json payload: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: kind %q (%d bytes)", ErrNotRenderable, r.Kind, len(r.Data))
	}
}
