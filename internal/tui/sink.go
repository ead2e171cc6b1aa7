package tui

import (
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/sink"
)

// Sink hands delivered messages to the TUI. Output never blocks the
// dispatch goroutine: when the buffer is full the message is dropped and
// counted.
type Sink struct {
	ch      chan message.Message
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

var _ sink.Sink = (*Sink)(nil)

func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	return &Sink{
		ch:   make(chan message.Message, buffer),
		done: make(chan struct{}),
	}
}

func (s *Sink) Output(msg message.Message) {
	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

// Dropped counts messages lost to a full buffer.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close ends the model's receive loop. Pending messages are discarded.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.done) })
}
