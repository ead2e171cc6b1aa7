package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/tracetap/internal/queue"
	"github.com/mattjoyce/tracetap/internal/storage"
)

// SweepChannel removes messages older than olderThan from the channel in
// opts, whether or not any client subscribes to them, along with spool temp
// files abandoned by emitters that died mid-write. It returns how many were
// removed. A channel that does not exist yet has nothing to sweep.
func SweepChannel(ctx context.Context, opts Options, olderThan time.Duration) (int, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return 0, err
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("sweep age must be positive, got %s", olderThan)
	}
	cutoff := time.Now().Add(-olderThan)

	switch opts.Kind {
	case KindSpool:
		return sweepSpool(opts.SpoolDir(), cutoff)
	case KindSQLite:
		return sweepSQLite(ctx, opts.DatabasePath(), cutoff)
	case KindMemory:
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown channel kind %q", opts.Kind)
	}
}

func sweepSpool(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read channel directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(name, SpoolExt) && !strings.HasPrefix(name, SpoolTempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("remove expired envelope %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func sweepSQLite(ctx context.Context, path string, cutoff time.Time) (int, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return queue.New(db).DeleteOlderThan(ctx, cutoff)
}
