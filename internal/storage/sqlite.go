package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is stored in PRAGMA user_version of every channel database.
const SchemaVersion = 1

// Several emitter processes and one client share a channel database, so it
// runs in WAL mode and waits on locks instead of failing. Pragmas go in the
// DSN so every pooled connection gets them.
var channelPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

func channelDSN(path string) string {
	q := url.Values{}
	for _, p := range channelPragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// OpenSQLite opens (creating if needed) the channel database at path and
// brings its schema up to SchemaVersion.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := ValidateLocalFilesystem(path, "channel database"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create channel database directory: %w", err)
	}

	db, err := sql.Open("sqlite", channelDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open channel database: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open channel database: %w", err)
	}

	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the channel table when the database is older than
// SchemaVersion, and refuses databases written by a newer tracetap. Rows are
// transient: emitters insert, the draining client deletes.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("channel database schema version %d is newer than supported %d", version, SchemaVersion)
	}
	if version == SchemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bootstrap channel database: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS trace_channel (
  seq         INTEGER PRIMARY KEY AUTOINCREMENT,
  id          TEXT NOT NULL,
  module      TEXT NOT NULL,
  category    TEXT NOT NULL,
  envelope    BLOB NOT NULL,
  enqueued_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS trace_channel_module_idx ON trace_channel(module, category);`,
		fmt.Sprintf("PRAGMA user_version = %d;", SchemaVersion),
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap channel database: %w", err)
		}
	}
	return tx.Commit()
}
