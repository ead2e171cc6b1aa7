package source

import (
	"context"
	"sync"

	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/subscription"
)

// Memory is an in-process channel. Emitters in the same process call Push.
type Memory struct {
	filter *subscription.Filter
	wake   *waker

	mu    sync.Mutex
	queue []message.Message
}

var _ Source = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		filter: subscription.NewFilter(),
		wake:   newWaker(),
	}
}

// Push appends msg to the channel.
func (m *Memory) Push(msg message.Message) error {
	if m.wake.closed() {
		return ErrClosed
	}
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	m.wake.notify()
	return nil
}

// Len returns the number of queued, undrained messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Memory) Wait(ctx context.Context) error {
	return m.wake.wait(ctx)
}

func (m *Memory) Drain(fn func(message.Message)) (int, error) {
	if m.wake.closed() {
		return 0, ErrClosed
	}

	m.mu.Lock()
	batch := m.queue
	m.queue = nil
	m.mu.Unlock()

	n := 0
	for _, msg := range batch {
		if !m.filter.Allows(msg.Module, msg.Category) {
			continue
		}
		fn(msg)
		n++
	}
	return n, nil
}

func (m *Memory) Enable(key subscription.Key, enable bool) error {
	if m.wake.closed() {
		return ErrClosed
	}
	m.filter.Apply(key, enable)
	return nil
}

func (m *Memory) Close() error {
	m.wake.close()
	return nil
}
