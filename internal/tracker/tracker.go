// Package tracker implements the durable photo download tracker: a small
// SQLite database mapping (filename, album) to a download record, with
// integrity checking, rotating backups, and corruption recovery. Its core
// guarantee is that a photo the user deleted locally is never redownloaded.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Sentinel errors. Callers check with errors.Is.
var (
	// ErrUnavailable means the store could not be opened or has stopped
	// serving queries. Fatal: the engine cannot run without the tracker.
	ErrUnavailable = errors.New("tracker: store unavailable")

	// ErrWriteFailed means a write could not be committed. Callers must
	// surface this, never swallow it.
	ErrWriteFailed = errors.New("tracker: write failed")
)

// DatabaseFileName is the tracker's on-disk name under the db parent dir.
const DatabaseFileName = "deletion_tracker.db"

// File permissions for the database and its parent directory.
const (
	dbDirPermissions = 0o755
	dbPermissions    = 0o644
)

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// Tracker is the durable (filename, album) -> PhotoRecord store. It is the
// exclusive writer of its database file; an internal mutex serializes
// writers so readers always see post-commit state.
type Tracker struct {
	mu     stdsync.Mutex
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the tracker database at dbPath. On open it runs an
// integrity check; a corrupt store triggers recovery from the newest valid
// backup, and if no backup is usable the corrupt file is set aside and a
// fresh store is created. Returns ErrUnavailable only when a fresh store
// cannot be created either.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), dbDirPermissions); err != nil {
		return nil, fmt.Errorf("%w: creating parent directory: %v", ErrUnavailable, err)
	}

	_, statErr := os.Stat(dbPath)
	exists := statErr == nil

	db, err := openAndCheck(ctx, dbPath)
	if err == nil {
		t := &Tracker{db: db, path: dbPath, logger: logger}

		if err := runMigrations(ctx, db, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		return t, nil
	}

	if !exists {
		// Nothing to recover; the disk or permissions are the problem.
		return nil, fmt.Errorf("%w: creating fresh store: %v", ErrUnavailable, err)
	}

	logger.Error("tracker database failed integrity check, attempting recovery",
		slog.String("path", dbPath),
		slog.String("error", err.Error()),
	)

	return recoverOrRecreate(ctx, dbPath, logger)
}

// openAndCheck opens the database, applies pragmas, and runs a structural
// integrity check. The returned handle is closed on any failure.
func openAndCheck(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("tracker: open sqlite: %w", err)
	}

	// Sole-writer: one connection avoids SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := integrityCheck(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// recoverOrRecreate restores the newest valid backup over a corrupt live
// file, or sets the corrupt file aside and starts fresh when no backup
// passes its integrity check.
func recoverOrRecreate(ctx context.Context, dbPath string, logger *slog.Logger) (*Tracker, error) {
	if restored, err := restoreNewestBackup(ctx, dbPath, logger); err == nil && restored {
		db, openErr := openAndCheck(ctx, dbPath)
		if openErr == nil {
			if migErr := runMigrations(ctx, db, logger); migErr != nil {
				db.Close()
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, migErr)
			}

			logger.Info("tracker recovered from backup", slog.String("path", dbPath))

			return &Tracker{db: db, path: dbPath, logger: logger}, nil
		}

		logger.Error("restored backup failed to open", slog.String("error", openErr.Error()))
	}

	// No usable backup: set the corrupt file aside for forensics and start fresh.
	aside := dbPath + ".corrupt-" + time.Now().UTC().Format(backupTimestampLayout)
	if err := os.Rename(dbPath, aside); err != nil {
		return nil, fmt.Errorf("%w: moving corrupt database aside: %v", ErrUnavailable, err)
	}

	logger.Warn("no usable backup, starting with a fresh tracker database",
		slog.String("corrupt_copy", aside),
	)

	db, err := openAndCheck(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: creating fresh store: %v", ErrUnavailable, err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Tracker{db: db, path: dbPath, logger: logger}, nil
}

// setPragmas configures SQLite for WAL mode and durability.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("tracker: %s: %w", p, err)
		}
	}

	return nil
}

// integrityCheck runs a structural scan of the database.
func integrityCheck(ctx context.Context, db *sql.DB) error {
	var result string

	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("tracker: integrity check: %w", err)
	}

	if result != "ok" {
		return fmt.Errorf("tracker: integrity check failed: %s", result)
	}

	return nil
}

// CheckIntegrity runs the structural scan against the open store. Used by
// scheduled maintenance.
func (t *Tracker) CheckIntegrity(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return integrityCheck(ctx, t.db)
}

// Path returns the location of the live database file.
func (t *Tracker) Path() string {
	return t.path
}

// Close releases the database handle. Safe to call more than once; the
// handle stays in place so a method call after Close fails with a
// closed-database error instead of panicking.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.db.Close(); err != nil {
		return fmt.Errorf("tracker: closing database: %w", err)
	}

	return nil
}
