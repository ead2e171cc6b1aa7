package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/tracetap/internal/log"
	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/source"
)

// ErrStarted is returned by Start on a loop that already ran.
var ErrStarted = errors.New("dispatch loop already started")

// Backoff bounds for retrying a failed Wait.
const (
	minWaitBackoff = 10 * time.Millisecond
	maxWaitBackoff = time.Second
)

// Loop pulls messages from a Source and hands them to a deliver function.
type Loop struct {
	src     source.Source
	deliver func(message.Message)
	logger  *slog.Logger

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	stop    sync.Once

	drains     atomic.Int64
	panics     atomic.Int64
	messages   atomic.Int64
	waitErrors atomic.Int64
}

// New creates a Loop. A nil logger uses the "dispatch" component logger.
func New(src source.Source, deliver func(message.Message), logger *slog.Logger) *Loop {
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}
	return &Loop{
		src:     src,
		deliver: deliver,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the goroutine and returns once the initial drain has
// completed. ctx bounds the goroutine's lifetime in addition to Stop.
func (l *Loop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	ready := make(chan struct{})
	go l.run(runCtx, ready)

	select {
	case <-ready:
		return nil
	case <-l.done:
		// The goroutine gave up during the initial drain.
		return fmt.Errorf("dispatch loop exited during initial drain")
	}
}

// Stop cancels the loop and waits for its goroutine to exit. Calling Stop
// more than once, or on a loop that never started, is a no-op.
func (l *Loop) Stop() {
	if !l.started.Load() {
		return
	}
	l.stop.Do(func() {
		l.cancel()
		<-l.done
	})
}

// Done is closed when the goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// WaitErrors reports how many Wait calls failed with a retryable error.
func (l *Loop) WaitErrors() int64 { return l.waitErrors.Load() }

// Stats reports how many drains ran, how many messages were handed to the
// deliver function, and how many deliveries panicked.
func (l *Loop) Stats() (drains, messages, panics int64) {
	return l.drains.Load(), l.messages.Load(), l.panics.Load()
}

func (l *Loop) run(ctx context.Context, ready chan struct{}) {
	defer close(l.done)

	l.logger.Debug("dispatch loop started")
	defer l.logger.Debug("dispatch loop stopped")

	if !l.drain() {
		return
	}
	close(ready)

	backoff := minWaitBackoff
	for {
		err := l.src.Wait(ctx)
		switch {
		case err == nil:
			backoff = minWaitBackoff
		case ctx.Err() != nil, errors.Is(err, source.ErrClosed):
			return
		default:
			// Only a closed source ends the loop. Anything else is retried,
			// and the drain below picks up whatever the failed wait missed.
			l.waitErrors.Add(1)
			l.logger.Warn("source wait failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxWaitBackoff)
		}

		if !l.drain() {
			return
		}
	}
}

// drain reports false when the source is closed.
func (l *Loop) drain() bool {
	l.drains.Add(1)
	n, err := l.src.Drain(l.safeDeliver)
	if errors.Is(err, source.ErrClosed) {
		return false
	}
	if err != nil {
		l.logger.Error("drain failed", "error", err, "delivered", n)
	}
	return true
}

func (l *Loop) safeDeliver(msg message.Message) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("sink panicked", "panic", r, "module", msg.Module, "category", msg.Category, "id", msg.ID)
		}
	}()
	l.messages.Add(1)
	l.deliver(msg)
}
