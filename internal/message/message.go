// Package message defines the trace record that flows from emitters through
// a dispatch source to the output sink, and the envelope format used to carry
// it across process boundaries.
package message

import (
	"time"
)

// Message is a single trace/log record. It is produced by an emitter and is
// read-only everywhere downstream.
type Message struct {
	ID        string
	Module    string
	Category  string
	Timestamp time.Time
	File      string
	Line      int
	Payload   Payload
}

// Text renders the payload. A nil payload renders as the empty string.
func (m Message) Text() (string, error) {
	if m.Payload == nil {
		return "", nil
	}
	return m.Payload.Render()
}
