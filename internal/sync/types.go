// Package sync implements the reconcile engine and its scheduler: per-album
// comparison of remote listings against the local tree and the deletion
// tracker. Locally deleted photos are never redownloaded, and the engine
// never deletes anything remotely.
package sync

import (
	"context"
	"errors"
	"io"
	stdsync "sync"
	"time"

	"github.com/icloudsync/iphoto-downloader/internal/authweb"
	"github.com/icloudsync/iphoto-downloader/internal/icloud"
	"github.com/icloudsync/iphoto-downloader/internal/notify"
)

// Sentinel errors mapped to exit codes in main.
var (
	// ErrAuthFailed means credentials were rejected outright.
	ErrAuthFailed = errors.New("sync: authentication failed")

	// ErrTwoFactorIncomplete means the 2FA exchange did not finish; the
	// scheduler applies exponential back-off to this one.
	ErrTwoFactorIncomplete = errors.New("sync: two-factor authentication not completed")

	// ErrConfiguredAlbumMissing means an allowlisted album was not found
	// remotely. Fatal for the cycle.
	ErrConfiguredAlbumMissing = errors.New("sync: configured album not found")

	// ErrInterrupted means a shutdown signal stopped the cycle.
	ErrInterrupted = errors.New("sync: interrupted")
)

// Session is the cloud capability surface the engine consumes, satisfied
// by *icloud.Client and by test fakes.
type Session interface {
	Authenticate(ctx context.Context) (icloud.AuthStatus, error)
	Request2FA(ctx context.Context) (icloud.TwoFAStatus, error)
	Verify2FA(ctx context.Context, code string) (icloud.VerifyStatus, error)
	TrustSession(ctx context.Context) error
	ListAlbums(ctx context.Context) ([]icloud.Album, error)
	ListPhotos(ctx context.Context, album icloud.Album) ([]icloud.Photo, error)
	Download(ctx context.Context, remoteID string) (io.ReadCloser, int64, error)
}

// Notifier is the out-of-band message channel, satisfied by
// notify.Pushover and notify.Noop.
type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, title, body, link string) error
}

// CodeObtainer is the 2FA coordinator surface, satisfied by
// *authweb.Coordinator.
type CodeObtainer interface {
	ObtainCode(ctx context.Context, cb authweb.Callbacks, timeout time.Duration) (string, error)
}

// CycleStats summarizes one sync cycle.
type CycleStats struct {
	CycleID         string
	TotalPhotos     int
	Downloaded      int
	AlreadyExists   int
	DeletedSkipped  int
	Errors          int
	BytesDownloaded int64
	DryRun          bool
	Duration        time.Duration
}

// Gate is the pause flag the scheduler raises for maintenance. The engine
// waits on it at every per-photo boundary; Pause blocks new work and
// Resume releases it. Context cancellation always wins over the pause.
type Gate struct {
	mu     stdsync.Mutex
	paused bool
	resume chan struct{}
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{resume: make(chan struct{})}
}

// Pause closes the gate. Workers block in Wait until Resume.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

// Resume reopens the gate and releases all waiters.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

// Wait blocks while the gate is paused. Returns the context error when the
// context ends first.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		paused := g.paused
		ch := g.resume
		g.mu.Unlock()

		if !paused {
			return ctx.Err()
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
