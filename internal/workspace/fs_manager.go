package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/tracetap/internal/lock"
)

const (
	// DirPrefix names every working directory so Sweep never touches
	// unrelated entries of a shared base such as the OS temp dir.
	DirPrefix = "tracetap-"

	ownerFile = ".owner"
)

// fsManager manages working directories on local disk.
type fsManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsManager)(nil)

// NewFSManager creates a filesystem-backed manager rooted at baseDir. An empty
// baseDir means the OS temp directory.
func NewFSManager(baseDir string) (*fsManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		trimmed = os.TempDir()
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace base directory: %w", err)
	}

	return &fsManager{
		baseDir: filepath.Clean(abs),
		now:     time.Now,
	}, nil
}

// BaseDir returns the directory working directories are created in.
func (m *fsManager) BaseDir() string { return m.baseDir }

// Create makes <base>/tracetap-<uuid> and locks it.
func (m *fsManager) Create(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(m.baseDir, DirPrefix+id)
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace %q: %w", id, err)
	}

	owner, err := lock.Acquire(filepath.Join(path, ownerFile))
	if err != nil {
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("lock workspace %q: %w", id, err)
	}

	return &Workspace{ID: id, Dir: path, owner: owner}, nil
}

// Remove releases the owner lock and deletes the directory tree.
func (m *fsManager) Remove(ws *Workspace) error {
	if ws == nil {
		return fmt.Errorf("workspace is nil")
	}
	if err := validateDir(m.baseDir, ws.Dir); err != nil {
		return err
	}

	releaseErr := ws.owner.Release()
	ws.owner = nil

	if err := os.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("remove workspace %q: %w", ws.ID, err)
	}
	if releaseErr != nil {
		return fmt.Errorf("release workspace %q: %w", ws.ID, releaseErr)
	}
	return nil
}

// Sweep removes working directories left behind by processes that exited
// without closing their client. A directory whose owner lock is still held is
// never removed, whatever its age.
func (m *fsManager) Sweep(ctx context.Context, olderThan time.Duration) (SweepReport, error) {
	if err := ctx.Err(); err != nil {
		return SweepReport{}, err
	}
	if olderThan <= 0 {
		return SweepReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return SweepReport{}, nil
	}
	if err != nil {
		return SweepReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := SweepReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DirPrefix) {
			continue
		}

		info, err := entry.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		held, err := lock.Held(filepath.Join(path, ownerFile))
		if err != nil {
			return report, fmt.Errorf("probe workspace owner %q: %w", entry.Name(), err)
		}
		if held {
			report.SkippedLive++
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func validateDir(baseDir, dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("workspace dir is empty")
	}
	if filepath.Dir(filepath.Clean(dir)) != baseDir {
		return fmt.Errorf("workspace dir %q is outside %q", dir, baseDir)
	}
	if !strings.HasPrefix(filepath.Base(dir), DirPrefix) {
		return fmt.Errorf("workspace dir %q is not a tracetap workspace", dir)
	}
	return nil
}
