// Package queue implements the SQLite-backed trace channel. Emitters append
// sealed envelopes; a client claims the ones it subscribes to in insertion
// order and leaves the rest for other clients.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// enqueuedLayout is fixed width so enqueued_at compares correctly as text.
const enqueuedLayout = "2006-01-02T15:04:05.000000000Z"

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Push appends an envelope and returns its sequence number. An empty ID is
// filled with a fresh UUID.
func (q *Queue) Push(ctx context.Context, req PushRequest) (int64, error) {
	if req.Module == "" {
		return 0, fmt.Errorf("module is empty")
	}
	if len(req.Envelope) == 0 {
		return 0, fmt.Errorf("envelope is empty")
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC().Format(enqueuedLayout)

	res, err := q.db.ExecContext(ctx, `
INSERT INTO trace_channel(id, module, category, envelope, enqueued_at)
VALUES(?, ?, ?, ?, ?);
`, id, req.Module, req.Category, req.Envelope, now)
	if err != nil {
		return 0, fmt.Errorf("push envelope: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read envelope seq: %w", err)
	}
	return seq, nil
}

// PopAll removes and returns every queued entry, oldest first. Returns
// (nil, nil) when the channel is empty; an empty channel is never written to.
func (q *Queue) PopAll(ctx context.Context) ([]Entry, error) {
	claimed, _, err := q.Claim(ctx, 0, func(Entry) bool { return true })
	return claimed, err
}

// Claim scans entries with seq greater than after, oldest first, and removes
// the ones accept returns true for. Rejected entries stay queued. An entry
// already removed by another client is not returned. last is the highest
// seq scanned, or after when nothing newer exists.
func (q *Queue) Claim(ctx context.Context, after int64, accept func(Entry) bool) (claimed []Entry, last int64, err error) {
	last = after

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, last, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entries, err := scanEntries(ctx, tx, after)
	if err != nil {
		return nil, last, err
	}
	if len(entries) == 0 {
		return nil, last, nil
	}

	for _, e := range entries {
		if !accept(e) {
			continue
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM trace_channel WHERE seq = ?;`, e.Seq)
		if err != nil {
			return nil, last, fmt.Errorf("delete claimed entry %d: %w", e.Seq, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			continue
		}
		claimed = append(claimed, e)
	}

	if len(claimed) > 0 {
		if err := tx.Commit(); err != nil {
			return nil, last, fmt.Errorf("commit tx: %w", err)
		}
	}
	return claimed, entries[len(entries)-1].Seq, nil
}

func scanEntries(ctx context.Context, tx *sql.Tx, after int64) ([]Entry, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT seq, id, module, category, envelope, enqueued_at
FROM trace_channel
WHERE seq > ?
ORDER BY seq ASC;
`, after)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			enqueuedAt string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Module, &e.Category, &e.Envelope, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			e.EnqueuedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes entries enqueued before cutoff and returns how
// many were removed. It is the only way out for entries no client claims.
func (q *Queue) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM trace_channel WHERE enqueued_at < ?;`,
		cutoff.UTC().Format(enqueuedLayout))
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired entries: %w", err)
	}
	return int(n), nil
}

// Depth returns the number of queued entries.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trace_channel;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}
