// Package source provides dispatch sources: the channels a client drains.
//
// A Source owns two primitives. Wait parks the caller until the channel has
// (or may have) new messages, the context ends, or the source is closed. Drain
// takes the messages available right now that the subscription filter
// allows and hands them to a callback in arrival order. Filtering is the
// source's job; the client only forwards enable/disable calls.
//
// Shared channels (spool, sqlite) leave messages the filter refuses in
// place for other clients; SweepChannel expires them. The in-process memory
// channel has a single reader and discards them.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/subscription"
)

// ErrClosed is returned by Wait and Drain after Close.
var ErrClosed = errors.New("source closed")

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks github.com/mattjoyce/tracetap/internal/source Source

// Source is a dispatch source.
type Source interface {
	// Wait blocks with no timeout until new data may be available. It
	// returns ctx.Err() when ctx ends and ErrClosed after Close.
	Wait(ctx context.Context) error

	// Drain takes the currently available messages the filter allows and
	// calls fn for each in arrival order. It never blocks waiting for new
	// data. It returns the number of messages passed to fn.
	Drain(fn func(message.Message)) (int, error)

	// Enable applies one subscription change. Calls are applied in order and
	// the most recent matching call wins.
	Enable(key subscription.Key, enable bool) error

	// Close releases the source and wakes any Wait.
	Close() error
}

// Channel kinds.
const (
	KindSpool  = "spool"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

const (
	// EnvChannelID overrides the channel identifier.
	EnvChannelID = "TRACETAP_CHANNEL_ID"
	// EnvChannelPath overrides the channel base path.
	EnvChannelPath = "TRACETAP_CHANNEL_PATH"

	DefaultIdentifier = "default"
)

// Options selects and locates a channel.
type Options struct {
	Kind       string
	Identifier string
	BasePath   string
	Logger     *slog.Logger
}

// DefaultBasePath is <os temp>/tracetap.
func DefaultBasePath() string {
	return filepath.Join(os.TempDir(), "tracetap")
}

// WithEnv returns opts with the channel identifier and base path taken from
// the environment when set, then defaulted when still empty.
func (o Options) WithEnv() Options {
	if v := strings.TrimSpace(os.Getenv(EnvChannelID)); v != "" {
		o.Identifier = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvChannelPath)); v != "" {
		o.BasePath = v
	}
	return o.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Kind == "" {
		o.Kind = KindSpool
	}
	if o.Identifier == "" {
		o.Identifier = DefaultIdentifier
	}
	if o.BasePath == "" {
		o.BasePath = DefaultBasePath()
	}
	return o
}

func (o Options) validate() error {
	if strings.ContainsAny(o.Identifier, `/\`) || o.Identifier == "." || o.Identifier == ".." {
		return fmt.Errorf("channel identifier %q must be a plain name", o.Identifier)
	}
	return nil
}

// SpoolDir is the directory a spool channel lives in.
func (o Options) SpoolDir() string {
	o = o.withDefaults()
	return filepath.Join(o.BasePath, o.Identifier)
}

// DatabasePath is the file a sqlite channel lives in.
func (o Options) DatabasePath() string {
	o = o.withDefaults()
	return filepath.Join(o.BasePath, o.Identifier+".db")
}

// Open creates the source selected by opts against a client's working
// directory.
func Open(workDir string, opts Options) (Source, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	switch opts.Kind {
	case KindSpool:
		return OpenSpool(workDir, opts)
	case KindSQLite:
		return OpenSQLite(workDir, opts)
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown channel kind %q", opts.Kind)
	}
}
