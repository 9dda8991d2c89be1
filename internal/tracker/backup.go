package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Backup retention: a bounded ring of the most recent copies.
const maxBackups = 5

// backupTimestampLayout names backup files by UTC creation time, e.g.
// 20260824T153000Z-deletion_tracker.db. Lexical order equals time order.
const backupTimestampLayout = "20060102T150405Z"

// backupDirName is the subdirectory of the db parent holding backups.
const backupDirName = "backups"

// Backup writes a timestamped copy of the live database into the backup
// directory and rotates out the oldest copies beyond the retention ring.
// The WAL is checkpointed first so the main file is self-contained.
func (t *Tracker) Backup(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("tracker: checkpointing before backup: %w", err)
	}

	dir := filepath.Join(filepath.Dir(t.path), backupDirName)
	if err := os.MkdirAll(dir, dbDirPermissions); err != nil {
		return "", fmt.Errorf("tracker: creating backup directory: %w", err)
	}

	name := time.Now().UTC().Format(backupTimestampLayout) + "-" + DatabaseFileName
	dest := filepath.Join(dir, name)

	if err := copyFileAtomic(t.path, dest); err != nil {
		return "", fmt.Errorf("tracker: writing backup: %w", err)
	}

	rotateBackups(dir, t.logger)

	t.logger.Info("tracker backup created", slog.String("path", dest))

	return dest, nil
}

// RestoreFromBackup replaces the live database with the newest backup that
// passes an integrity check. Returns false when no usable backup exists.
// The store is reopened on success.
func (t *Tracker) RestoreFromBackup(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Close before the live file is replaced. The old handle stays in
	// place until the reopen succeeds, so a failed restore leaves later
	// calls erroring rather than panicking.
	if err := t.db.Close(); err != nil {
		return false, fmt.Errorf("tracker: closing before restore: %w", err)
	}

	restored, err := restoreNewestBackup(ctx, t.path, t.logger)
	if err != nil {
		return false, err
	}

	db, err := openAndCheck(ctx, t.path)
	if err != nil {
		return restored, fmt.Errorf("%w: reopening after restore: %v", ErrUnavailable, err)
	}

	if err := runMigrations(ctx, db, t.logger); err != nil {
		db.Close()
		return restored, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	t.db = db

	return restored, nil
}

// restoreNewestBackup tries backups newest-first, validating each before
// atomically replacing the live file. Returns false when none validate.
func restoreNewestBackup(ctx context.Context, dbPath string, logger *slog.Logger) (bool, error) {
	backups, err := listBackups(filepath.Join(filepath.Dir(dbPath), backupDirName))
	if err != nil {
		return false, err
	}

	for i := len(backups) - 1; i >= 0; i-- {
		candidate := backups[i]

		if err := validateBackup(ctx, candidate); err != nil {
			logger.Warn("skipping invalid backup",
				slog.String("path", candidate),
				slog.String("error", err.Error()),
			)

			continue
		}

		// Stale WAL/SHM sidecars of the corrupt live file would shadow the
		// restored content.
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")

		if err := copyFileAtomic(candidate, dbPath); err != nil {
			return false, fmt.Errorf("tracker: restoring from %s: %w", candidate, err)
		}

		logger.Info("tracker restored from backup", slog.String("backup", candidate))

		return true, nil
	}

	return false, nil
}

// validateBackup opens the candidate read-only and runs an integrity check.
func validateBackup(ctx context.Context, path string) error {
	db, err := openAndCheck(ctx, path)
	if err != nil {
		return err
	}

	return db.Close()
}

// listBackups returns backup paths sorted oldest-first. A missing backup
// directory yields an empty list.
func listBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("tracker: reading backup directory: %w", err)
	}

	var backups []string

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "-"+DatabaseFileName) {
			continue
		}

		backups = append(backups, filepath.Join(dir, e.Name()))
	}

	// Timestamp prefix makes lexical order chronological.
	sort.Strings(backups)

	return backups, nil
}

// rotateBackups removes the oldest backups beyond the retention ring.
// Rotation failures are logged, not fatal: a backup already succeeded.
func rotateBackups(dir string, logger *slog.Logger) {
	backups, err := listBackups(dir)
	if err != nil {
		logger.Warn("backup rotation failed", slog.String("error", err.Error()))
		return
	}

	for len(backups) > maxBackups {
		oldest := backups[0]
		backups = backups[1:]

		if err := os.Remove(oldest); err != nil {
			logger.Warn("removing old backup failed",
				slog.String("path", oldest),
				slog.String("error", err.Error()),
			)

			continue
		}

		logger.Debug("removed old backup", slog.String("path", oldest))
	}
}

// copyFileAtomic copies src to dest via a temp file and rename, so readers
// never observe a partial copy.
func copyFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-backup-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Chmod(tmpName, dbPermissions); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}
