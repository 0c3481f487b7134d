// Package journal keeps a local record of flush outcomes so that delivery
// problems can be inspected after the fact. Events themselves are never
// stored.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docker/keytrail/pkg/sqliteutil"
	"github.com/docker/keytrail/pkg/telemetry"
)

// Outcome values.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// timeFormat is fixed width so that stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultLimit is the number of entries List returns for a non-positive limit.
const DefaultLimit = 20

var migrations = []sqliteutil.Migration{
	{
		Name: "create_flushes",
		SQL: `CREATE TABLE flushes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			flushed_at TEXT NOT NULL,
			flush_trigger TEXT NOT NULL,
			batch_size INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			discarded INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`,
	},
	{
		Name: "index_flushes_flushed_at",
		SQL:  `CREATE INDEX idx_flushes_flushed_at ON flushes (flushed_at)`,
	},
}

// Entry is one recorded flush cycle.
type Entry struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	Trigger   string    `json:"trigger"`
	BatchSize int       `json:"batch_size"`
	Attempts  int       `json:"attempts"`
	Discarded int       `json:"discarded"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// Store is a SQLite-backed journal. It implements telemetry.Recorder.
type Store struct {
	db *sql.DB
}

var _ telemetry.Recorder = (*Store)(nil)

// Open opens the journal at path. A database that cannot be migrated is moved
// aside to path.bak and a fresh one is created.
func Open(ctx context.Context, path string) (*Store, error) {
	store, err := openAndMigrate(ctx, path)
	if err == nil {
		return store, nil
	}

	slog.Warn("Failed to open journal, attempting recovery", "path", path, "error", err)
	if backupErr := backupDatabase(path); backupErr != nil {
		return nil, fmt.Errorf("journal migration failed: %w (backup also failed: %v)", err, backupErr)
	}

	store, err = openAndMigrate(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("journal migration failed even after reset: %w", err)
	}
	slog.Info("Recovered journal with a fresh database", "path", path)
	return store, nil
}

func openAndMigrate(ctx context.Context, path string) (*Store, error) {
	db, err := sqliteutil.OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := sqliteutil.Migrate(ctx, db, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// backupDatabase moves the database and its WAL artifacts to path.bak.
func backupDatabase(path string) error {
	backupPath := path + ".bak"

	if err := os.Rename(path, backupPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to move database file: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); err == nil {
			if err := os.Rename(path+suffix, backupPath+suffix); err != nil {
				slog.Warn("Failed to move journal artifact", "file", path+suffix, "error", err)
			}
		}
	}
	return nil
}

// RecordFlush stores the outcome of one flush cycle.
func (s *Store) RecordFlush(ctx context.Context, r telemetry.FlushResult) error {
	outcome, errText := OutcomeDelivered, ""
	if r.Err != nil {
		outcome, errText = OutcomeFailed, r.Err.Error()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flushes (flushed_at, flush_trigger, batch_size, attempts, discarded, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Time.UTC().Format(timeFormat), r.Trigger, r.BatchSize, r.Attempts, r.Discarded, outcome, errText)
	if err != nil {
		return fmt.Errorf("failed to record flush: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, flushed_at, flush_trigger, batch_size, attempts, discarded, outcome, error
		 FROM flushes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			flushed string
		)
		if err := rows.Scan(&e.ID, &flushed, &e.Trigger, &e.BatchSize, &e.Attempts, &e.Discarded, &e.Outcome, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if e.Time, err = time.Parse(timeFormat, flushed); err != nil {
			return nil, fmt.Errorf("invalid journal timestamp %q: %w", flushed, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flushes WHERE flushed_at < ?`, before.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
