package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/icloudsync/iphoto-downloader/internal/authweb"
	"github.com/icloudsync/iphoto-downloader/internal/config"
	"github.com/icloudsync/iphoto-downloader/internal/icloud"
	"github.com/icloudsync/iphoto-downloader/internal/notify"
	"github.com/icloudsync/iphoto-downloader/internal/tracker"
)

// progressEvery is how many reconciled photos pass between progress log
// lines within an album.
const progressEvery = 50

// partialSuffix marks in-flight downloads. A crash leaves at most one
// .partial file behind; the next cycle overwrites it.
const partialSuffix = ".partial"

// Engine reconciles remote albums against the local tree and the deletion
// tracker. One Engine serves many cycles; it holds no per-cycle state.
type Engine struct {
	cfg      *config.Config
	tracker  *tracker.Tracker
	session  Session
	notifier Notifier
	obtainer CodeObtainer
	backoff  *Backoff
	gate     *Gate
	logger   *slog.Logger
}

// NewEngine wires an engine. The gate may be nil when no maintenance
// scheduler runs (single-shot mode).
func NewEngine(cfg *config.Config, tr *tracker.Tracker, session Session, notifier Notifier,
	obtainer CodeObtainer, backoff *Backoff, gate *Gate, logger *slog.Logger) *Engine {
	if gate == nil {
		gate = NewGate()
	}

	return &Engine{
		cfg:      cfg,
		tracker:  tr,
		session:  session,
		notifier: notifier,
		obtainer: obtainer,
		backoff:  backoff,
		gate:     gate,
		logger:   logger,
	}
}

// Gate returns the engine's pause gate for the maintenance scheduler.
func (e *Engine) Gate() *Gate {
	return e.gate
}

// RunCycle executes one full sync cycle: authenticate, enumerate, filter,
// reconcile each album. It returns the cycle's stats alongside any error,
// so callers can log partial progress from an interrupted cycle.
func (e *Engine) RunCycle(ctx context.Context) (*CycleStats, error) {
	start := time.Now()

	stats := &CycleStats{
		CycleID: uuid.NewString(),
		DryRun:  e.cfg.DryRun,
	}

	logger := e.logger.With(slog.String("cycle_id", stats.CycleID))
	logger.Info("sync cycle starting", slog.Bool("dry_run", stats.DryRun))

	defer func() {
		stats.Duration = time.Since(start)
	}()

	if !stats.DryRun {
		if _, err := e.tracker.Backup(ctx); err != nil {
			// A failed backup never blocks the cycle; the previous ring
			// entries still exist.
			logger.Warn("tracker backup failed", slog.String("error", err.Error()))
		}
	}

	if err := e.ensureAuthenticated(ctx, logger); err != nil {
		return stats, err
	}

	albums, err := e.session.ListAlbums(ctx)
	if err != nil {
		return stats, fmt.Errorf("sync: listing albums: %w", err)
	}

	selected, err := FilterAlbums(e.cfg, albums)
	if err != nil {
		return stats, err
	}

	logger.Info("albums selected",
		slog.Int("available", len(albums)),
		slog.Int("selected", len(selected)))

	for _, album := range selected {
		if err := e.syncAlbum(ctx, logger, album, stats); err != nil {
			return stats, err
		}

		if stats.capReached(e.cfg.MaxDownloads) {
			logger.Info("download cap reached, ending cycle early",
				slog.Int("max_downloads", e.cfg.MaxDownloads))
			break
		}
	}

	logger.Info("sync cycle finished",
		slog.Int("total", stats.TotalPhotos),
		slog.Int("downloaded", stats.Downloaded),
		slog.Int("existing", stats.AlreadyExists),
		slog.Int("deleted_skipped", stats.DeletedSkipped),
		slog.Int("errors", stats.Errors),
		slog.Int64("bytes", stats.BytesDownloaded),
		slog.Duration("duration", time.Since(start)))

	return stats, nil
}

// capReached reports whether the per-cycle download cap is exhausted.
// A cap of zero means unlimited.
func (s *CycleStats) capReached(max int) bool {
	return max > 0 && s.Downloaded >= max
}

// ensureAuthenticated establishes a working cloud session, driving the 2FA
// exchange when the service demands one.
func (e *Engine) ensureAuthenticated(ctx context.Context, logger *slog.Logger) error {
	status, err := e.session.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("sync: authenticating: %w", err)
	}

	switch status {
	case icloud.AuthOK:
		if err := e.backoff.Reset(); err != nil {
			logger.Warn("resetting 2FA back-off failed", slog.String("error", err.Error()))
		}

		return nil

	case icloud.AuthInvalidCredentials:
		return fmt.Errorf("%w: invalid credentials", ErrAuthFailed)

	case icloud.AuthServiceUnavailable:
		return fmt.Errorf("sync: authenticating: %w", icloud.ErrServiceUnavailable)

	case icloud.AuthTwoFactorRequired:
		return e.runTwoFactor(ctx, logger)

	default:
		return fmt.Errorf("%w: unexpected authentication status %d", ErrAuthFailed, status)
	}
}

// runTwoFactor drives the interactive code exchange, honoring the
// persisted back-off between consecutive incomplete attempts.
func (e *Engine) runTwoFactor(ctx context.Context, logger *slog.Logger) error {
	if !e.backoff.Ready() {
		until := e.backoff.Until()

		logger.Warn("2FA attempt suppressed by back-off",
			slog.Int("failures", e.backoff.Failures()),
			slog.Time("next_attempt", until))

		return fmt.Errorf("%w: backed off until %s", ErrTwoFactorIncomplete,
			until.Format(time.RFC3339))
	}

	cb := authweb.Callbacks{
		OnRequest: func(ctx context.Context) error {
			status, err := e.session.Request2FA(ctx)
			if err != nil {
				return err
			}

			if status != icloud.TwoFAOK {
				return fmt.Errorf("sync: code resend refused (%d)", status)
			}

			return nil
		},
		OnSubmit: func(code string) error {
			status, err := e.session.Verify2FA(ctx, code)
			if err != nil {
				return err
			}

			if status != icloud.VerifyOK {
				return fmt.Errorf("sync: code rejected (%d)", status)
			}

			return nil
		},
	}

	_, err := e.obtainer.ObtainCode(ctx, cb, authweb.DefaultObtainTimeout)
	if err != nil {
		if recordErr := e.backoff.RecordFailure(); recordErr != nil {
			logger.Warn("persisting 2FA back-off failed", slog.String("error", recordErr.Error()))
		}

		return fmt.Errorf("%w: %v", ErrTwoFactorIncomplete, err)
	}

	// The code was already verified by OnSubmit; promote the session so
	// the next cycle skips 2FA entirely.
	if err := e.session.TrustSession(ctx); err != nil {
		logger.Warn("session trust failed, 2FA will repeat next cycle",
			slog.String("error", err.Error()))
	}

	if err := e.backoff.Reset(); err != nil {
		logger.Warn("resetting 2FA back-off failed", slog.String("error", err.Error()))
	}

	if err := e.notifier.Notify(ctx, notify.KindAuthSuccess,
		"iPhoto Downloader: authenticated",
		"Two-factor authentication completed; syncing resumes.", ""); err != nil {
		logger.Warn("auth success notification failed", slog.String("error", err.Error()))
	}

	return nil
}

// syncAlbum reconciles one album. Per-photo errors are counted and logged;
// the album is abandoned after max_consecutive_failures in a row so one
// dead album cannot burn the whole cycle.
func (e *Engine) syncAlbum(ctx context.Context, logger *slog.Logger, album icloud.Album, stats *CycleStats) error {
	logger = logger.With(
		slog.String("album", album.Name),
		slog.String("kind", album.Kind.String()))

	photos, err := e.session.ListPhotos(ctx, album)
	if err != nil {
		stats.Errors++
		logger.Error("listing photos failed", slog.String("error", err.Error()))

		return nil
	}

	albumDir := filepath.Join(config.ExpandPath(e.cfg.SyncDirectory), SanitizeAlbumName(album.Name))

	if !e.cfg.DryRun {
		if err := os.MkdirAll(albumDir, 0o755); err != nil {
			stats.Errors++
			logger.Warn("skipping album, cannot create directory",
				slog.String("dir", albumDir),
				slog.String("error", err.Error()))

			return nil
		}
	}

	logger.Info("album sync starting", slog.Int("photos", len(photos)))

	seen := make(map[string]struct{}, len(photos))
	consecutiveFailures := 0

	for i, photo := range photos {
		if err := e.gate.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		name := NormalizeFilename(photo.Filename)
		if name == "" {
			logger.Warn("skipping photo with unusable filename",
				slog.String("filename", photo.Filename))

			continue
		}

		// Remote listings can carry the same filename twice; the first
		// occurrence wins within a cycle.
		if _, dup := seen[name]; dup {
			continue
		}

		seen[name] = struct{}{}
		stats.TotalPhotos++

		err := e.syncPhoto(ctx, logger, photo, name, album.Name, albumDir, stats)

		switch {
		case errors.Is(err, ErrInterrupted):
			return err
		case errors.Is(err, tracker.ErrWriteFailed), errors.Is(err, tracker.ErrUnavailable):
			// A tracker that cannot record state cannot uphold the
			// no-redownload guarantee. Fatal for the cycle.
			return err
		case err != nil:
			stats.Errors++
			consecutiveFailures++

			logger.Error("photo sync failed",
				slog.String("filename", name),
				slog.Int("consecutive_failures", consecutiveFailures),
				slog.String("error", err.Error()))

			if consecutiveFailures >= e.cfg.MaxConsecutiveFailures {
				logger.Error("abandoning album after repeated failures",
					slog.Int("threshold", e.cfg.MaxConsecutiveFailures))

				return nil
			}
		default:
			consecutiveFailures = 0
		}

		if (i+1)%progressEvery == 0 {
			logger.Info("album sync progress",
				slog.Int("processed", i+1),
				slog.Int("total", len(photos)),
				slog.Int("downloaded", stats.Downloaded))
		}

		if stats.capReached(e.cfg.MaxDownloads) {
			return nil
		}
	}

	logger.Info("album sync finished")

	return nil
}

// syncPhoto applies the per-photo decision table. name is the normalized
// filename (the tracker key and on-disk name); albumKey is the raw remote
// album name the tracker keys on.
func (e *Engine) syncPhoto(ctx context.Context, logger *slog.Logger, photo icloud.Photo,
	name, albumKey, albumDir string, stats *CycleStats) error {
	rec, err := e.tracker.Get(ctx, name, albumKey)
	if err != nil {
		return err
	}

	localPath := filepath.Join(albumDir, name)
	fileInfo, statErr := os.Stat(localPath)
	fileExists := statErr == nil && !fileInfo.IsDir()

	if rec != nil && rec.DeletedLocally {
		// The user deleted this photo on purpose. If it reappeared on
		// disk they restored it by hand; adopt it back, otherwise honor
		// the deletion forever.
		if fileExists {
			logger.Info("locally restored photo adopted", slog.String("filename", name))

			if e.cfg.DryRun {
				stats.AlreadyExists++
				return nil
			}

			if err := e.tracker.RecordDownload(ctx, name, albumKey, photo.RemoteID,
				fileInfo.Size(), filepath.Join(SanitizeAlbumName(albumKey), name)); err != nil {
				return err
			}

			stats.AlreadyExists++

			return nil
		}

		stats.DeletedSkipped++

		return nil
	}

	if rec != nil {
		if fileExists {
			stats.AlreadyExists++

			if e.cfg.DryRun {
				return nil
			}

			return e.tracker.TouchSeen(ctx, name, albumKey)
		}

		// Downloaded before, gone now: the user deleted it locally.
		logger.Info("local deletion detected", slog.String("filename", name))
		stats.DeletedSkipped++

		if e.cfg.DryRun {
			return nil
		}

		return e.tracker.MarkDeleted(ctx, name, albumKey)
	}

	if fileExists {
		// Present on disk but unknown to the tracker (pre-existing file
		// or lost database). Adopt it instead of redownloading.
		stats.AlreadyExists++

		if e.cfg.DryRun {
			return nil
		}

		return e.tracker.RecordDownload(ctx, name, albumKey, photo.RemoteID,
			fileInfo.Size(), filepath.Join(SanitizeAlbumName(albumKey), name))
	}

	if e.cfg.MaxFileSizeMB > 0 && photo.SizeBytes > int64(e.cfg.MaxFileSizeMB)*1024*1024 {
		logger.Info("skipping oversized photo",
			slog.String("filename", name),
			slog.Int64("size_bytes", photo.SizeBytes))

		return nil
	}

	if e.cfg.DryRun {
		logger.Info("would download", slog.String("filename", name))
		stats.Downloaded++

		return nil
	}

	written, err := e.download(ctx, photo, localPath)
	if err != nil {
		return err
	}

	if err := e.tracker.RecordDownload(ctx, name, albumKey, photo.RemoteID,
		written, filepath.Join(SanitizeAlbumName(albumKey), name)); err != nil {
		return err
	}

	stats.Downloaded++
	stats.BytesDownloaded += written

	logger.Debug("photo downloaded",
		slog.String("filename", name),
		slog.Int64("bytes", written))

	return nil
}

// download streams one photo to localPath via a .partial temp file and an
// atomic rename. Visible files are always complete.
func (e *Engine) download(ctx context.Context, photo icloud.Photo, localPath string) (int64, error) {
	dlCtx := ctx

	if timeout := e.cfg.DownloadTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc

		dlCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, expected, err := e.session.Download(dlCtx, photo.RemoteID)
	if err != nil {
		return 0, fmt.Errorf("sync: downloading %s: %w", photo.Filename, err)
	}
	defer body.Close()

	partial := localPath + partialSuffix

	f, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("sync: creating partial file: %w", err)
	}

	written, copyErr := io.Copy(f, body)

	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}

	if copyErr == nil && expected > 0 && written < expected {
		copyErr = fmt.Errorf("%w: got %d of %d bytes", icloud.ErrTruncated, written, expected)
	}

	if copyErr != nil {
		os.Remove(partial)

		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		}

		return 0, fmt.Errorf("sync: downloading %s: %w", photo.Filename, copyErr)
	}

	if err := os.Rename(partial, localPath); err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("sync: finalizing %s: %w", photo.Filename, err)
	}

	return written, nil
}
