// Package client is the process-wide trace client. Open attaches the process
// to a trace channel; the returned Client filters the channel by
// module/category subscriptions and delivers matching messages, in arrival
// order, to at most one registered sink from a single background goroutine.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/tracetap/internal/dispatch"
	"github.com/mattjoyce/tracetap/internal/log"
	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/sink"
	"github.com/mattjoyce/tracetap/internal/source"
	"github.com/mattjoyce/tracetap/internal/subscription"
	"github.com/mattjoyce/tracetap/internal/workspace"
)

var (
	// ErrClosed is returned by every operation on a client after Close.
	ErrClosed = errors.New("trace client is closed")

	// ErrDispatchStopped is returned once the dispatch goroutine has exited
	// on its own, e.g. because the source was closed underneath the client.
	// Close is still required to release the working directory.
	ErrDispatchStopped = errors.New("trace client dispatch has stopped")
)

var (
	// bootstrapMu guards instance. It is never held while waiting on the
	// dispatch goroutine, so a sink may call Open or Current at any time.
	bootstrapMu sync.Mutex
	instance    *Client
)

// Options are consulted only when Open creates the instance.
type Options struct {
	// WorkspaceBase is where the working directory is created. Empty means
	// the OS temp directory.
	WorkspaceBase string

	// Workspaces overrides the working directory manager.
	Workspaces workspace.Manager

	// Channel configures the default source. TRACETAP_CHANNEL_ID and
	// TRACETAP_CHANNEL_PATH fill unset fields.
	Channel source.Options

	// NewSource overrides how the dispatch source is opened.
	NewSource func(workDir string) (source.Source, error)

	Logger *slog.Logger
}

// Stats are cumulative delivery counters.
type Stats struct {
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Panics    int64 `json:"panics"`
}

// Client is the process-wide trace client.
type Client struct {
	workspaces workspace.Manager
	ws         *workspace.Workspace
	src        source.Source
	loop       *dispatch.Loop
	logger     *slog.Logger

	// mu is the administrative lock: subscriptions, sink slot, closed flag.
	mu       sync.Mutex
	registry *subscription.Registry
	sink     sink.Registration
	closed   bool

	delivered atomic.Int64
	dropped   atomic.Int64
}

// Open returns the process-wide client, creating it on first use. Concurrent
// callers all receive the same pointer. A failed creation leaves nothing
// behind and is not retried.
func Open(opts Options) (*Client, error) {
	bootstrapMu.Lock()
	defer bootstrapMu.Unlock()

	// A client being closed no longer counts as the instance.
	if instance != nil && !instance.isClosed() {
		return instance, nil
	}

	c, err := create(opts)
	if err != nil {
		return nil, err
	}
	instance = c
	return c, nil
}

// Current returns the live client, or nil.
func Current() *Client {
	bootstrapMu.Lock()
	defer bootstrapMu.Unlock()
	return instance
}

func create(opts Options) (*Client, error) {
	manager := opts.Workspaces
	if manager == nil {
		fsm, err := workspace.NewFSManager(opts.WorkspaceBase)
		if err != nil {
			return nil, err
		}
		manager = fsm
	}

	ws, err := manager.Create(context.Background())
	if err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithClient(ws.Dir)
	}

	newSource := opts.NewSource
	if newSource == nil {
		channel := opts.Channel.WithEnv()
		if channel.Logger == nil {
			channel.Logger = logger
		}
		newSource = func(workDir string) (source.Source, error) {
			return source.Open(workDir, channel)
		}
	}

	src, err := newSource(ws.Dir)
	if err != nil {
		_ = manager.Remove(ws)
		return nil, fmt.Errorf("open dispatch source: %w", err)
	}

	c := &Client{
		workspaces: manager,
		ws:         ws,
		src:        src,
		logger:     logger,
		registry:   subscription.NewRegistry(),
	}
	c.loop = dispatch.New(src, c.deliver, logger)

	// Start performs the initial drain before returning.
	if err := c.loop.Start(context.Background()); err != nil {
		c.loop.Stop()
		_ = src.Close()
		_ = manager.Remove(ws)
		return nil, fmt.Errorf("start dispatch: %w", err)
	}

	logger.Info("trace client opened")
	return c, nil
}

// Close stops dispatch, closes the source, removes the working directory
// and finally releases the singleton slot. When Close returns the dispatch
// goroutine has exited. Close must not be called from inside a sink.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.mu.Unlock()

	c.loop.Stop()

	var errs []error
	if err := c.src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dispatch source: %w", err))
	}
	if err := c.workspaces.Remove(c.ws); err != nil {
		errs = append(errs, fmt.Errorf("remove working directory: %w", err))
	}

	bootstrapMu.Lock()
	if instance == c {
		instance = nil
	}
	bootstrapMu.Unlock()

	c.logger.Info("trace client closed", "delivered", c.delivered.Load(), "dropped", c.dropped.Load())
	return errors.Join(errs...)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// usableLocked reports why the client cannot take requests. c.mu must be
// held.
func (c *Client) usableLocked() error {
	if c.closed {
		return ErrClosed
	}
	select {
	case <-c.loop.Done():
		return ErrDispatchStopped
	default:
		return nil
	}
}

// WorkDir is the client's private working directory.
func (c *Client) WorkDir() string { return c.ws.Dir }

// Done is closed once the dispatch goroutine has exited.
func (c *Client) Done() <-chan struct{} { return c.loop.Done() }

// EnableMessage turns delivery of (module, category) on or off. An empty
// category addresses every category of module. Calls reach the source in
// call order; where subscriptions overlap the most recent one wins.
func (c *Client) EnableMessage(module, category string, enable bool) error {
	if module == "" {
		return fmt.Errorf("module is empty")
	}
	key := subscription.Key{Module: module, Category: category}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	if err := c.src.Enable(key, enable); err != nil {
		return fmt.Errorf("enable %s: %w", key, err)
	}
	c.registry.Set(key, enable)

	c.logger.Debug("subscription updated", "key", key.String(), "enabled", enable)
	return nil
}

// Subscriptions returns the currently enabled keys, sorted.
func (c *Client) Subscriptions() ([]subscription.Key, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	return c.registry.Keys(), nil
}

// RegisterSink installs s as the output. It fails with
// sink.ErrAlreadyRegistered when a sink is already installed.
func (c *Client) RegisterSink(s sink.Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	return c.sink.Register(s)
}

// UnregisterSink removes the output. Messages drained while no sink is
// registered are discarded. It fails with sink.ErrNotRegistered when no
// sink is installed.
func (c *Client) UnregisterSink() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usableLocked(); err != nil {
		return err
	}
	return c.sink.Unregister()
}

// SinkState reports whether a sink is installed.
func (c *Client) SinkState() sink.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink.State()
}

func (c *Client) Stats() Stats {
	_, _, panics := c.loop.Stats()
	return Stats{
		Delivered: c.delivered.Load(),
		Dropped:   c.dropped.Load(),
		Panics:    panics,
	}
}

// deliver runs on the dispatch goroutine. The sink is called outside the
// administrative lock so it may call back into the client.
func (c *Client) deliver(msg message.Message) {
	c.mu.Lock()
	out, ok := c.sink.Current()
	c.mu.Unlock()

	if !ok {
		c.dropped.Add(1)
		return
	}
	out.Output(msg)
	c.delivered.Add(1)
}
