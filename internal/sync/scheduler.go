package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/icloudsync/iphoto-downloader/internal/config"
	"github.com/icloudsync/iphoto-downloader/internal/notify"
)

// cycleWatchdog bounds one cycle; a wedged cycle must not stall the
// schedule forever.
const cycleWatchdog = 4 * time.Hour

// Scheduler drives the engine: once in single mode, on an interval in
// continuous mode, with periodic maintenance pauses in between.
type Scheduler struct {
	cfg      *config.Config
	engine   *Engine
	notifier Notifier
	logger   *slog.Logger
}

// NewScheduler wires a scheduler around an engine.
func NewScheduler(cfg *config.Config, engine *Engine, notifier Notifier, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
	}
}

// Run executes the configured mode until the context ends. In single mode
// it returns the one cycle's error; in continuous mode it returns only
// when the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.ExecutionMode == config.ModeSingle {
		return s.runOnce(ctx)
	}

	return s.runContinuous(ctx)
}

// runOnce executes exactly one cycle.
func (s *Scheduler) runOnce(ctx context.Context) error {
	err := s.cycle(ctx)
	if err != nil {
		s.notifyFailure(ctx, err)
	}

	return err
}

// runContinuous loops cycles on sync_interval with maintenance on
// maintenance_interval. A failed cycle is logged and notified, then the
// loop keeps going; only context cancellation stops it.
func (s *Scheduler) runContinuous(ctx context.Context) error {
	syncTicker := time.NewTicker(s.cfg.SyncInterval.Std())
	defer syncTicker.Stop()

	maintTicker := time.NewTicker(s.cfg.MaintenanceInterval.Std())
	defer maintTicker.Stop()

	s.logger.Info("continuous mode",
		slog.Duration("sync_interval", s.cfg.SyncInterval.Std()),
		slog.Duration("maintenance_interval", s.cfg.MaintenanceInterval.Std()))

	// First cycle runs immediately; the ticker paces the rest.
	if err := s.cycle(ctx); err != nil {
		if errors.Is(err, ErrInterrupted) || ctx.Err() != nil {
			return err
		}

		s.notifyFailure(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", slog.String("reason", ctx.Err().Error()))
			return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())

		case <-maintTicker.C:
			s.maintain(ctx)

		case <-syncTicker.C:
			err := s.cycle(ctx)
			if err == nil {
				continue
			}

			if errors.Is(err, ErrInterrupted) || ctx.Err() != nil {
				return err
			}

			s.notifyFailure(ctx, err)
		}
	}
}

// cycle runs one engine cycle under the watchdog deadline.
func (s *Scheduler) cycle(ctx context.Context) error {
	cycleCtx, cancel := context.WithTimeout(ctx, cycleWatchdog)
	defer cancel()

	stats, err := s.engine.RunCycle(cycleCtx)
	if err != nil {
		// Watchdog expiry without an outer cancellation means the cycle
		// wedged; the parent context surviving tells them apart.
		if cycleCtx.Err() != nil && ctx.Err() == nil && errors.Is(err, ErrInterrupted) {
			err = fmt.Errorf("sync: cycle exceeded watchdog (%s): %w", cycleWatchdog, err)
		}

		s.logger.Error("sync cycle failed",
			slog.String("cycle_id", stats.CycleID),
			slog.Int("downloaded", stats.Downloaded),
			slog.String("error", err.Error()))

		return err
	}

	return nil
}

// maintain pauses the engine, checkpoints and verifies the tracker, then
// resumes. Runs between cycles in continuous mode.
func (s *Scheduler) maintain(ctx context.Context) {
	s.logger.Info("maintenance starting")

	gate := s.engine.Gate()
	gate.Pause()
	defer gate.Resume()

	if _, err := s.engine.tracker.Backup(ctx); err != nil {
		s.logger.Warn("maintenance backup failed", slog.String("error", err.Error()))
	}

	if err := s.engine.tracker.CheckIntegrity(ctx); err != nil {
		s.logger.Error("tracker integrity check failed", slog.String("error", err.Error()))

		if _, restoreErr := s.engine.tracker.RestoreFromBackup(ctx); restoreErr != nil {
			s.logger.Error("tracker restore failed", slog.String("error", restoreErr.Error()))
		} else {
			s.logger.Warn("tracker restored from backup")
		}
	}

	s.logger.Info("maintenance finished")
}

// notifyFailure pushes one out-of-band message for a failed cycle.
// Incomplete 2FA is excluded: the auth-required notification already went
// out, and repeating it every back-off tick would spam the user.
func (s *Scheduler) notifyFailure(ctx context.Context, err error) {
	if errors.Is(err, ErrTwoFactorIncomplete) || errors.Is(err, ErrInterrupted) {
		return
	}

	if notifyErr := s.notifier.Notify(ctx, notify.KindFatal,
		"iPhoto Downloader: sync failed",
		err.Error(), ""); notifyErr != nil {
		s.logger.Warn("failure notification failed", slog.String("error", notifyErr.Error()))
	}
}
