package loudnesscache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"conform/internal/loudness"
)

// Store persists loudness measurements keyed by file identity and
// normalization settings, backed by SQLite.
//
// Entries are plain typed columns validated on read. Nothing stored here is
// ever evaluated or executed; a corrupt or tampered row reads back as a
// cache miss.
type Store struct {
	db   *sql.DB
	path string
}

// Key identifies a cached measurement. Size and mtime guard against the
// file changing under the same path; SettingsHash invalidates entries when
// normalization settings change.
type Key struct {
	Path         string
	SizeBytes    int64
	MtimeNS      int64
	SettingsHash string
}

// Entry is a cached measurement with its storage timestamp.
type Entry struct {
	Key          Key
	Measurements loudness.Measurements
	StoredAt     time.Time
}

// Stats summarizes cache contents.
type Stats struct {
	Entries int64
	Oldest  time.Time
	Newest  time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS loudness_cache (
    path          TEXT    NOT NULL,
    size_bytes    INTEGER NOT NULL,
    mtime_ns      INTEGER NOT NULL,
    settings_hash TEXT    NOT NULL,
    input_i       REAL    NOT NULL,
    input_tp      REAL    NOT NULL,
    input_lra     REAL    NOT NULL,
    input_thresh  REAL    NOT NULL,
    offset        REAL    NOT NULL,
    stored_at     TEXT    NOT NULL,
    PRIMARY KEY (path, size_bytes, mtime_ns, settings_hash)
);
CREATE INDEX IF NOT EXISTS idx_loudness_cache_stored_at ON loudness_cache (stored_at);
`

// Open initializes or connects to the cache database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("loudness cache: empty path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// KeyFor builds a cache key for a file from its current on-disk identity.
func KeyFor(path string, settingsHash string) (Key, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Key{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Key{
		Path:         path,
		SizeBytes:    info.Size(),
		MtimeNS:      info.ModTime().UnixNano(),
		SettingsHash: settingsHash,
	}, nil
}

// Get looks up a cached measurement. ok is false on a miss; errors mean the
// cache itself failed, which callers downgrade to a miss.
func (s *Store) Get(ctx context.Context, key Key) (loudness.Measurements, bool, error) {
	ctx = ensureContext(ctx)
	var m loudness.Measurements
	found := false

	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT input_i, input_tp, input_lra, input_thresh, offset
             FROM loudness_cache
             WHERE path = ? AND size_bytes = ? AND mtime_ns = ? AND settings_hash = ?`,
			key.Path, key.SizeBytes, key.MtimeNS, key.SettingsHash,
		)
		scanErr := row.Scan(&m.I, &m.TP, &m.LRA, &m.Threshold, &m.Offset)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		found = true
		return nil
	})
	if err != nil {
		return loudness.Measurements{}, false, fmt.Errorf("cache get: %w", err)
	}
	return m, found, nil
}

// Put stores a measurement, replacing any entry under the same key.
func (s *Store) Put(ctx context.Context, key Key, m loudness.Measurements) error {
	ctx = ensureContext(ctx)
	storedAt := time.Now().UTC().Format(time.RFC3339Nano)
	err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO loudness_cache (
                path, size_bytes, mtime_ns, settings_hash,
                input_i, input_tp, input_lra, input_thresh, offset, stored_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key.Path, key.SizeBytes, key.MtimeNS, key.SettingsHash,
			m.I, m.TP, m.LRA, m.Threshold, m.Offset, storedAt,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Invalidate removes every entry for a path regardless of settings or file
// identity. Used after a file is rewritten in place.
func (s *Store) Invalidate(ctx context.Context, path string) error {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM loudness_cache WHERE path = ?`, path)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Prune deletes entries stored earlier than the cutoff and returns the
// number removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`DELETE FROM loudness_cache WHERE stored_at < ?`,
			cutoff.UTC().Format(time.RFC3339Nano),
		)
		if execErr != nil {
			return execErr
		}
		removed, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return removed, nil
}

// Stats reports entry count and age bounds.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	var (
		stats  Stats
		oldest sql.NullString
		newest sql.NullString
	)
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*), MIN(stored_at), MAX(stored_at) FROM loudness_cache`,
		)
		return row.Scan(&stats.Entries, &oldest, &newest)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	if oldest.Valid {
		if ts, parseErr := time.Parse(time.RFC3339Nano, oldest.String); parseErr == nil {
			stats.Oldest = ts
		}
	}
	if newest.Valid {
		if ts, parseErr := time.Parse(time.RFC3339Nano, newest.String); parseErr == nil {
			stats.Newest = ts
		}
	}
	return stats, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
