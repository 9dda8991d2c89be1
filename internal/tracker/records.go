package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PhotoRecord is the durable record for one downloaded photo, keyed by the
// composite (Filename, AlbumName). DeletedLocally set means the engine must
// never download this key again; the remaining fields are preserved for
// forensics.
type PhotoRecord struct {
	Filename       string
	AlbumName      string
	RemoteID       string
	SizeBytes      int64
	DownloadedAt   time.Time
	LocalRelPath   string
	DeletedLocally bool
	LastCheckedAt  time.Time
}

// Stats summarizes tracker contents for the status command and cycle logs.
type Stats struct {
	TotalRecords int
	Deleted      int
	Albums       int
}

const photoColumns = `filename, album_name, remote_id, size_bytes,
	downloaded_at, local_relpath, deleted_locally, last_checked_at`

// Get returns the record for the given key, or nil when none exists. Reads
// fail only when the store itself is broken.
func (t *Tracker) Get(ctx context.Context, filename, album string) (*PhotoRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	row := t.db.QueryRowContext(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE filename = ? AND album_name = ?`,
		filename, album)

	rec, err := scanPhotoRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading %s/%s: %v", ErrUnavailable, album, filename, err)
	}

	return rec, nil
}

// RecordDownload inserts or updates the record for a completed download.
// DeletedLocally is cleared and DownloadedAt set to now; an existing record
// for the key is replaced, so at most one record exists per key.
func (t *Tracker) RecordDownload(ctx context.Context, filename, album, remoteID string, size int64, localRelPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC().UnixNano()

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO photos
			(filename, album_name, remote_id, size_bytes, downloaded_at,
			 local_relpath, deleted_locally, last_checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT(filename, album_name) DO UPDATE SET
			remote_id       = excluded.remote_id,
			size_bytes      = excluded.size_bytes,
			downloaded_at   = excluded.downloaded_at,
			local_relpath   = excluded.local_relpath,
			deleted_locally = 0,
			last_checked_at = excluded.last_checked_at`,
		filename, album, remoteID, size, now, localRelPath, now)
	if err != nil {
		return fmt.Errorf("%w: recording download %s/%s: %v", ErrWriteFailed, album, filename, err)
	}

	return nil
}

// MarkDeleted flags the key as locally deleted. All other fields are
// preserved. Marking a missing key is a write failure: the engine only
// marks keys it has previously recorded.
func (t *Tracker) MarkDeleted(ctx context.Context, filename, album string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.db.ExecContext(ctx,
		`UPDATE photos SET deleted_locally = 1 WHERE filename = ? AND album_name = ?`,
		filename, album)
	if err != nil {
		return fmt.Errorf("%w: marking deleted %s/%s: %v", ErrWriteFailed, album, filename, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: marking deleted %s/%s: %v", ErrWriteFailed, album, filename, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: marking deleted %s/%s: no such record", ErrWriteFailed, album, filename)
	}

	return nil
}

// TouchSeen updates only LastCheckedAt for the key. Missing keys are
// ignored: a photo seen remotely but never downloaded has no record yet.
func (t *Tracker) TouchSeen(ctx context.Context, filename, album string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC().UnixNano()

	_, err := t.db.ExecContext(ctx,
		`UPDATE photos SET last_checked_at = ? WHERE filename = ? AND album_name = ?`,
		now, filename, album)
	if err != nil {
		return fmt.Errorf("%w: touching %s/%s: %v", ErrWriteFailed, album, filename, err)
	}

	return nil
}

// IterAlbum streams all records for an album to fn, ordered by filename.
// Iteration stops at the first error fn returns.
func (t *Tracker) IterAlbum(ctx context.Context, album string, fn func(*PhotoRecord) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.db.QueryContext(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE album_name = ? ORDER BY filename`, album)
	if err != nil {
		return fmt.Errorf("tracker: iterating album %s: %w", album, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, scanErr := scanPhotoRecord(rows)
		if scanErr != nil {
			return scanErr
		}

		if fnErr := fn(rec); fnErr != nil {
			return fnErr
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("tracker: iterating album %s: %w", album, err)
	}

	return nil
}

// GetStats returns record counts across the store.
func (t *Tracker) GetStats(ctx context.Context) (*Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats

	err := t.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(deleted_locally), 0),
			COUNT(DISTINCT album_name)
		 FROM photos`).Scan(&s.TotalRecords, &s.Deleted, &s.Albums)
	if err != nil {
		return nil, fmt.Errorf("tracker: reading stats: %w", err)
	}

	return &s, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPhotoRecord scans one photos row, converting stored unix-nano
// timestamps back to UTC time.Time values.
func scanPhotoRecord(row rowScanner) (*PhotoRecord, error) {
	var (
		rec          PhotoRecord
		downloadedAt int64
		checkedAt    int64
		deleted      int
	)

	err := row.Scan(&rec.Filename, &rec.AlbumName, &rec.RemoteID, &rec.SizeBytes,
		&downloadedAt, &rec.LocalRelPath, &deleted, &checkedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("tracker: scanning photo record: %w", err)
	}

	rec.DeletedLocally = deleted != 0

	if downloadedAt != 0 {
		rec.DownloadedAt = time.Unix(0, downloadedAt).UTC()
	}

	if checkedAt != 0 {
		rec.LastCheckedAt = time.Unix(0, checkedAt).UTC()
	}

	return &rec, nil
}
