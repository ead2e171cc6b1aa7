package message

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"
)

// ErrChecksumMismatch is returned when an envelope's payload does not hash to
// its recorded checksum, typically a torn or truncated write.
var ErrChecksumMismatch = errors.New("envelope checksum mismatch")

// Envelope is the on-the-wire form of a Message.
type Envelope struct {
	ID          string    `json:"id"`
	Module      string    `json:"module"`
	Category    string    `json:"category"`
	Timestamp   time.Time `json:"timestamp"`
	File        string    `json:"file,omitempty"`
	Line        int       `json:"line,omitempty"`
	PayloadKind string    `json:"payload_kind"`
	Payload     []byte    `json:"payload"`
	Checksum    string    `json:"checksum"`
}

// Checksum returns the hex BLAKE3-256 digest of data.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seal builds an envelope for msg. Payload types outside this package are
// rendered and carried as text.
func Seal(msg Message) (*Envelope, error) {
	if msg.Module == "" {
		return nil, fmt.Errorf("message module is empty")
	}

	kind, data, err := payloadBytes(msg.Payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:          msg.ID,
		Module:      msg.Module,
		Category:    msg.Category,
		Timestamp:   msg.Timestamp.UTC(),
		File:        msg.File,
		Line:        msg.Line,
		PayloadKind: kind,
		Payload:     data,
		Checksum:    Checksum(data),
	}, nil
}

// Open verifies the envelope and returns the message it carries.
func (e *Envelope) Open() (Message, error) {
	if e.Module == "" {
		return Message{}, fmt.Errorf("envelope missing required field: module")
	}
	if e.Checksum != Checksum(e.Payload) {
		return Message{}, fmt.Errorf("%w: envelope %q", ErrChecksumMismatch, e.ID)
	}

	msg := Message{
		ID:        e.ID,
		Module:    e.Module,
		Category:  e.Category,
		Timestamp: e.Timestamp,
		File:      e.File,
		Line:      e.Line,
	}

	switch e.PayloadKind {
	case KindText:
		msg.Payload = Text(e.Payload)
	case KindFields:
		var f map[string]any
		if err := json.Unmarshal(e.Payload, &f); err != nil {
			return Message{}, fmt.Errorf("decode fields payload: %w", err)
		}
		msg.Payload = Fields(f)
	case KindJSON, KindBinary:
		msg.Payload = Raw{Kind: e.PayloadKind, Data: e.Payload}
	default:
		return Message{}, fmt.Errorf("invalid payload_kind value: %q", e.PayloadKind)
	}
	return msg, nil
}

func payloadBytes(p Payload) (string, []byte, error) {
	switch v := p.(type) {
	case nil:
		return KindText, []byte{}, nil
	case Text:
		return KindText, []byte(v), nil
	case Fields:
		data, err := json.Marshal(map[string]any(v))
		if err != nil {
			return "", nil, fmt.Errorf("encode fields payload: %w", err)
		}
		return KindFields, data, nil
	case Raw:
		kind := v.Kind
		if kind == "" {
			kind = KindText
		}
		return kind, v.Data, nil
	default:
		text, err := p.Render()
		if err != nil {
			return "", nil, fmt.Errorf("render payload: %w", err)
		}
		return KindText, []byte(text), nil
	}
}

// Encode seals msg and writes it to w as a single JSON document.
func Encode(w io.Writer, msg Message) error {
	env, err := Seal(msg)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return nil
}

// Marshal is Encode into a fresh buffer.
func Marshal(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads one envelope from r and opens it. Unknown fields are rejected.
func Decode(r io.Reader) (Message, error) {
	var env Envelope

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&env); err != nil {
		return Message{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env.Open()
}

// Unmarshal is Decode over a byte slice.
func Unmarshal(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("envelope is empty")
	}
	return Decode(bytes.NewReader(data))
}
