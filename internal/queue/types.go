package queue

import (
	"time"
)

// Entry is one envelope waiting in the channel table.
type Entry struct {
	Seq        int64
	ID         string
	Module     string
	Category   string
	Envelope   []byte
	EnqueuedAt time.Time
}

// PushRequest is what an emitter hands to Push.
type PushRequest struct {
	ID       string
	Module   string
	Category string
	Envelope []byte
}
