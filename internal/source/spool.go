package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/mattjoyce/tracetap/internal/log"
	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/storage"
	"github.com/mattjoyce/tracetap/internal/subscription"
)

const (
	// SpoolExt marks a complete envelope file. Emitters write under a temp
	// name and rename to <seq>-<id>.msg so readers never see partial files.
	SpoolExt = ".msg"

	// SpoolTempPrefix marks an envelope still being written.
	SpoolTempPrefix = ".tmp-"

	inflightDir = "inflight"
)

// SpoolFileName returns the final name of an envelope file. Names sort in
// arrival order.
func SpoolFileName(seq int64, id string) string {
	return fmt.Sprintf("%020d-%s%s", seq, id, SpoolExt)
}

// Spool is a directory channel watched with fsnotify. Each envelope is one
// file. A draining client claims the files its filter allows by moving them
// into its working directory, so each message is delivered to at most one
// client. Files no subscriber wants stay in the channel until swept.
type Spool struct {
	channelDir  string
	inflightDir string
	filter      *subscription.Filter
	wake        *waker
	watcher     *fsnotify.Watcher
	logger      *slog.Logger

	// skipped holds files the filter refused under filter generation
	// skippedGen, so they are not decoded again on every drain.
	drainMu    sync.Mutex
	skipped    map[string]struct{}
	skippedGen int64
	filterGen  atomic.Int64

	wg       sync.WaitGroup
	rejected atomic.Int64
}

var _ Source = (*Spool)(nil)

// OpenSpool watches opts.SpoolDir() and stages claimed files under workDir.
func OpenSpool(workDir string, opts Options) (*Spool, error) {
	opts = opts.withDefaults()
	if workDir == "" {
		return nil, fmt.Errorf("working directory is empty")
	}

	channelDir := opts.SpoolDir()
	if err := storage.ValidateLocalFilesystem(channelDir, "channel path"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(channelDir, 0o755); err != nil {
		return nil, fmt.Errorf("create channel directory: %w", err)
	}

	staging := filepath.Join(workDir, inflightDir)
	if err := os.MkdirAll(staging, 0o700); err != nil {
		return nil, fmt.Errorf("create inflight directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create channel watcher: %w", err)
	}
	if err := watcher.Add(channelDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch channel directory %q: %w", channelDir, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("source")
	}

	s := &Spool{
		channelDir:  channelDir,
		inflightDir: staging,
		filter:      subscription.NewFilter(),
		wake:        newWaker(),
		watcher:     watcher,
		logger:      logger.With("channel", channelDir),
	}

	s.wg.Add(1)
	go s.watch()

	return s, nil
}

// ChannelDir is the watched directory.
func (s *Spool) ChannelDir() string { return s.channelDir }

// Rejected counts envelope files that failed to decode or verify.
func (s *Spool) Rejected() int64 { return s.rejected.Load() }

func (s *Spool) watch() {
	defer s.wg.Done()

	for {
		select {
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(evt.Name, SpoolExt) {
				continue
			}
			if evt.Has(fsnotify.Create) || evt.Has(fsnotify.Write) {
				s.wake.notify()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			// Overflowed event queues lose notifications; drain anyway.
			s.logger.Warn("channel watcher error", "error", err)
			s.wake.notify()
		case <-s.wake.done:
			return
		}
	}
}

func (s *Spool) Wait(ctx context.Context) error {
	return s.wake.wait(ctx)
}

func (s *Spool) Drain(fn func(message.Message)) (int, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	if s.wake.closed() {
		return 0, ErrClosed
	}

	entries, err := os.ReadDir(s.channelDir)
	if err != nil {
		return 0, fmt.Errorf("read channel directory: %w", err)
	}

	if gen := s.filterGen.Load(); gen != s.skippedGen {
		s.skipped, s.skippedGen = nil, gen
	}
	// Rebuilt every pass so names claimed by other clients fall out.
	skipped := make(map[string]struct{}, len(s.skipped))

	n := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, SpoolExt) {
			continue
		}
		if _, ok := s.skipped[name]; ok {
			skipped[name] = struct{}{}
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.channelDir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			s.logger.Warn("failed to read envelope", "file", name, "error", err)
			continue
		}

		msg, err := message.Unmarshal(data)
		if err != nil {
			// No client can use it, so whoever sees it first removes it.
			if ok, cerr := s.claim(name); ok && cerr == nil {
				s.rejected.Add(1)
				s.logger.Warn("rejecting malformed envelope", "file", name, "error", err)
			}
			continue
		}
		if !s.filter.Allows(msg.Module, msg.Category) {
			skipped[name] = struct{}{}
			continue
		}

		ok, err := s.claim(name)
		if err != nil {
			s.logger.Warn("failed to claim envelope", "file", name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		fn(msg)
		n++
	}

	s.skipped = skipped
	return n, nil
}

// claim takes ownership of one envelope file by moving it out of the
// channel. ok is false when another client claimed it first.
func (s *Spool) claim(name string) (ok bool, err error) {
	src := filepath.Join(s.channelDir, name)
	dst := filepath.Join(s.inflightDir, name)

	err = os.Rename(src, dst)
	switch {
	case err == nil:
		_ = os.Remove(dst)
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}

	// Cross-device working directory: the remove is the claim.
	if err := os.Remove(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove envelope: %w", err)
	}
	return true, nil
}

func (s *Spool) Enable(key subscription.Key, enable bool) error {
	if s.wake.closed() {
		return ErrClosed
	}
	s.filter.Apply(key, enable)
	s.filterGen.Add(1)
	// Files skipped under the old filter may match now.
	s.wake.notify()
	return nil
}

func (s *Spool) Close() error {
	s.wake.close()
	err := s.watcher.Close()
	s.wg.Wait()

	if err != nil {
		return fmt.Errorf("close channel watcher: %w", err)
	}
	return nil
}
