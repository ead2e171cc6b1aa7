package source

import (
	"context"
	"sync"
)

// waker is a coalescing wake-up signal. Any number of notify calls between
// two waits collapse into one wake.
type waker struct {
	ch   chan struct{}
	done chan struct{}
	once sync.Once
}

func newWaker() *waker {
	return &waker{
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (w *waker) notify() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *waker) wait(ctx context.Context) error {
	// A close that races a pending notification still wins.
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrClosed
	}
}

func (w *waker) close() {
	w.once.Do(func() { close(w.done) })
}

func (w *waker) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
