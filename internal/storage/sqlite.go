package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"transmission_rss/migrations"
)

const memoryDSN = ":memory:"

// SQLite implements SeenSet backed by a SQLite database.
type SQLite struct {
	mu    sync.RWMutex
	db    *sql.DB
	state OpenState
}

// Open opens the seen-set at path, creating it when missing. An existing
// file that cannot be opened or fails the integrity check is renamed to
// "<path>.corrupt-<unix>" and replaced by an empty store; that is reported
// as StateRebuilt rather than an error.
func Open(ctx context.Context, path string, log *slog.Logger) (*SQLite, error) {
	if path != memoryDSN {
		if _, err := os.Stat(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: stat %s: %w", ErrStore, path, err)
		}
	}

	db, created, err := openDB(ctx, path)
	if err == nil {
		if created {
			return &SQLite{db: db, state: StateCreated}, nil
		}
		err = checkIntegrity(ctx, db)
		if err == nil {
			return &SQLite{db: db, state: StateExisting}, nil
		}
		_ = db.Close()
	}
	if path == memoryDSN {
		return nil, err
	}

	quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	log.Warn("seen-set unreadable, rebuilding", "path", path, "moved_to", quarantine, "error", err)
	if err := os.Rename(path, quarantine); err != nil {
		return nil, fmt.Errorf("%w: move corrupt store: %w", ErrStore, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Rename(path+suffix, quarantine+suffix)
	}

	db, _, err = openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, state: StateRebuilt}, nil
}

// openDB opens dsn and applies migrations. created reports that the
// seen_items table did not exist beforehand.
func openDB(ctx context.Context, dsn string) (db *sql.DB, created bool, err error) {
	db, err = sql.Open("sqlite", dsn)
	if err != nil {
		return nil, false, fmt.Errorf("%w: open sqlite: %w", ErrStore, err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, false, fmt.Errorf("%w: %s: %w", ErrStore, p, err)
		}
	}

	var tables int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'seen_items'`,
	).Scan(&tables)
	if err != nil {
		_ = db.Close()
		return nil, false, fmt.Errorf("%w: inspect schema: %w", ErrStore, err)
	}

	if err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return db, tables == 0, nil
}

func checkIntegrity(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick check: %s", result)
	}
	return nil
}

// State reports what Open found at the store path.
func (s *SQLite) State() OpenState {
	return s.state
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Contains reports whether fingerprint has been recorded.
func (s *SQLite) Contains(ctx context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_items WHERE fingerprint = ?`, fingerprint,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: check seen: %w", ErrStore, err)
	}
	return count > 0, nil
}

// Insert records fingerprint. Recording it twice is not an error.
func (s *SQLite) Insert(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_items (fingerprint) VALUES (?)`, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("%w: mark seen: %w", ErrStore, err)
	}
	return nil
}

// InsertAll records every fingerprint in a single transaction.
func (s *SQLite) InsertAll(ctx context.Context, fingerprints []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO seen_items (fingerprint) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %w", ErrStore, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, fp := range fingerprints {
		if _, err := stmt.ExecContext(ctx, fp); err != nil {
			return fmt.Errorf("%w: mark seen %s: %w", ErrStore, fp, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStore, err)
	}
	return nil
}

// Flush checkpoints the write-ahead log into the main database file.
func (s *SQLite) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("%w: checkpoint: %w", ErrStore, err)
	}
	return nil
}

// Count returns the number of recorded fingerprints.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count seen: %w", ErrStore, err)
	}
	return n, nil
}
