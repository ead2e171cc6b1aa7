// Package emitter is the producing side of a trace channel. Tools and tests
// use it to put messages where a client's dispatch source will find them.
package emitter

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/queue"
	"github.com/mattjoyce/tracetap/internal/source"
	"github.com/mattjoyce/tracetap/internal/storage"
)

// Emitter writes messages onto a channel.
type Emitter interface {
	// Emit fills in a missing ID and Timestamp, writes msg, and returns the
	// message as written.
	Emit(ctx context.Context, msg message.Message) (message.Message, error)
	Close() error
}

// Open returns the emitter matching opts.Kind.
func Open(ctx context.Context, opts source.Options) (Emitter, error) {
	switch opts.Kind {
	case source.KindSpool, "":
		return NewSpool(opts)
	case source.KindSQLite:
		return NewSQLite(ctx, opts)
	default:
		return nil, fmt.Errorf("channel kind %q has no out-of-process emitter", opts.Kind)
	}
}

func prepare(msg message.Message) (message.Message, error) {
	if msg.Module == "" {
		return msg, fmt.Errorf("message module is empty")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg, nil
}

// Spool writes one envelope file per message into a spool channel directory.
type Spool struct {
	dir  string
	last atomic.Int64
}

var _ Emitter = (*Spool)(nil)

func NewSpool(opts source.Options) (*Spool, error) {
	dir := opts.SpoolDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create channel directory: %w", err)
	}
	return &Spool{dir: dir}, nil
}

// Dir is the channel directory written to.
func (s *Spool) Dir() string { return s.dir }

func (s *Spool) Emit(ctx context.Context, msg message.Message) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return msg, err
	}
	msg, err := prepare(msg)
	if err != nil {
		return msg, err
	}

	data, err := message.Marshal(msg)
	if err != nil {
		return msg, err
	}

	tmp := filepath.Join(s.dir, source.SpoolTempPrefix+msg.ID)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return msg, fmt.Errorf("write envelope: %w", err)
	}
	final := filepath.Join(s.dir, source.SpoolFileName(s.nextSeq(), msg.ID))
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return msg, fmt.Errorf("publish envelope: %w", err)
	}
	return msg, nil
}

// nextSeq is wall-clock nanoseconds, forced strictly increasing within this
// emitter so file names sort in emit order.
func (s *Spool) nextSeq() int64 {
	now := time.Now().UnixNano()
	for {
		last := s.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (s *Spool) Close() error { return nil }

// SQLite inserts messages into a sqlite channel database.
type SQLite struct {
	db    *sql.DB
	queue *queue.Queue
}

var _ Emitter = (*SQLite)(nil)

func NewSQLite(ctx context.Context, opts source.Options) (*SQLite, error) {
	db, err := storage.OpenSQLite(ctx, opts.DatabasePath())
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, queue: queue.New(db)}, nil
}

func (s *SQLite) Emit(ctx context.Context, msg message.Message) (message.Message, error) {
	msg, err := prepare(msg)
	if err != nil {
		return msg, err
	}

	data, err := message.Marshal(msg)
	if err != nil {
		return msg, err
	}

	if _, err := s.queue.Push(ctx, queue.PushRequest{
		ID:       msg.ID,
		Module:   msg.Module,
		Category: msg.Category,
		Envelope: data,
	}); err != nil {
		return msg, err
	}
	return msg, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
