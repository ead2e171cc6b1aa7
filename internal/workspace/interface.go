package workspace

import (
	"context"
	"time"

	"github.com/mattjoyce/tracetap/internal/lock"
)

// Workspace is a client's private working directory. It exists from Open to
// Close and is the only on-disk artifact the client owns.
type Workspace struct {
	ID  string
	Dir string

	owner *lock.OwnerLock
}

// SweepReport summarizes a sweep run.
type SweepReport struct {
	DeletedDirs int
	SkippedLive int
}

// Manager governs working directory lifecycle.
type Manager interface {
	// Create makes a fresh, uniquely named working directory and takes
	// ownership of it.
	Create(ctx context.Context) (*Workspace, error)

	// Remove releases ownership and deletes the directory recursively.
	Remove(ws *Workspace) error

	// Sweep deletes abandoned working directories older than olderThan.
	Sweep(ctx context.Context, olderThan time.Duration) (SweepReport, error)
}
