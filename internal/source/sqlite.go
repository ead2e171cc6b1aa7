package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/mattjoyce/tracetap/internal/log"
	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/queue"
	"github.com/mattjoyce/tracetap/internal/storage"
	"github.com/mattjoyce/tracetap/internal/subscription"
)

// SQLite is a channel backed by a shared SQLite database. Emitters insert
// rows; Drain claims the rows the filter allows in one transaction and
// leaves the others for clients that subscribe to them. Writes to the
// database file (or its journal) wake Wait through fsnotify on the
// containing directory.
type SQLite struct {
	path    string
	db      *sql.DB
	queue   *queue.Queue
	filter  *subscription.Filter
	wake    *waker
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// cursor is the highest seq already offered to the filter. It restarts
	// from zero whenever the filter changes, since rows skipped earlier may
	// now match.
	drainMu   sync.Mutex
	cursor    int64
	cursorGen int64
	filterGen atomic.Int64

	wg       sync.WaitGroup
	rejected atomic.Int64
}

var _ Source = (*SQLite)(nil)

// OpenSQLite opens the channel database at opts.DatabasePath(). The SQLite
// channel keeps no per-client state on disk, so workDir is only logged.
func OpenSQLite(workDir string, opts Options) (*SQLite, error) {
	opts = opts.withDefaults()
	path := opts.DatabasePath()

	db, err := storage.OpenSQLite(context.Background(), path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create channel watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		_ = db.Close()
		return nil, fmt.Errorf("watch channel database directory: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("source")
	}

	s := &SQLite{
		path:    path,
		db:      db,
		queue:   queue.New(db),
		filter:  subscription.NewFilter(),
		wake:    newWaker(),
		watcher: watcher,
		logger:  logger.With("channel", path, "work_dir", workDir),
	}

	s.wg.Add(1)
	go s.watch()

	return s, nil
}

// Path is the channel database file.
func (s *SQLite) Path() string { return s.path }

// Rejected counts rows that failed to decode or verify.
func (s *SQLite) Rejected() int64 { return s.rejected.Load() }

func (s *SQLite) watch() {
	defer s.wg.Done()

	base := filepath.Base(s.path)
	for {
		select {
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			// channel.db, channel.db-journal, channel.db-wal
			if !strings.HasPrefix(filepath.Base(evt.Name), base) {
				continue
			}
			if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) {
				s.wake.notify()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("channel watcher error", "error", err)
			s.wake.notify()
		case <-s.wake.done:
			return
		}
	}
}

func (s *SQLite) Wait(ctx context.Context) error {
	return s.wake.wait(ctx)
}

func (s *SQLite) Drain(fn func(message.Message)) (int, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	if s.wake.closed() {
		return 0, ErrClosed
	}

	if gen := s.filterGen.Load(); gen != s.cursorGen {
		s.cursor, s.cursorGen = 0, gen
	}

	entries, last, err := s.queue.Claim(context.Background(), s.cursor, func(e queue.Entry) bool {
		return s.filter.Allows(e.Module, e.Category)
	})
	if err != nil {
		return 0, err
	}
	s.cursor = last

	n := 0
	for _, e := range entries {
		msg, err := message.Unmarshal(e.Envelope)
		if err != nil {
			s.rejected.Add(1)
			s.logger.Warn("rejecting malformed envelope", "seq", e.Seq, "id", e.ID, "error", err)
			continue
		}
		fn(msg)
		n++
	}
	return n, nil
}

func (s *SQLite) Enable(key subscription.Key, enable bool) error {
	if s.wake.closed() {
		return ErrClosed
	}
	s.filter.Apply(key, enable)
	s.filterGen.Add(1)
	// Rows skipped under the old filter may match now.
	s.wake.notify()
	return nil
}

func (s *SQLite) Close() error {
	s.wake.close()
	werr := s.watcher.Close()
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close channel database: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("close channel watcher: %w", werr)
	}
	return nil
}
