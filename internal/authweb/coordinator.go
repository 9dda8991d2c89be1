package authweb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/icloudsync/iphoto-downloader/internal/notify"
)

// Terminal failure modes of ObtainCode.
var (
	// ErrTimedOut means no valid code arrived within the deadline.
	ErrTimedOut = errors.New("authweb: 2FA timed out")

	// ErrCancelled means the exchange was cancelled from outside.
	ErrCancelled = errors.New("authweb: 2FA cancelled")
)

// DefaultObtainTimeout bounds the whole 2FA exchange.
const DefaultObtainTimeout = 5 * time.Minute

// shutdownGrace is how long the HTTP server gets to drain on shutdown.
const shutdownGrace = 3 * time.Second

// Callbacks are the capabilities the cloud session supplies: they call into
// the remote service. OnRequest triggers a code resend; OnSubmit verifies a
// candidate code and returns nil when the cloud accepts it.
type Callbacks struct {
	OnRequest func(ctx context.Context) error
	OnSubmit  func(code string) error
}

// Notifier is the out-of-band message channel, satisfied by
// notify.Pushover and notify.Noop.
type Notifier interface {
	Notify(ctx context.Context, kind notify.Kind, title, body, link string) error
}

// Coordinator runs the 2FA exchange: it serves the loopback web interface,
// pushes an out-of-band prompt, and blocks the caller until the user
// submits a code the cloud accepts (or the exchange fails).
type Coordinator struct {
	host     string
	portLow  int
	portHigh int
	notifier Notifier
	logger   *slog.Logger
}

// New creates a Coordinator binding to 127.0.0.1 within the given port
// range.
func New(portLow, portHigh int, notifier Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		host:     "127.0.0.1",
		portLow:  portLow,
		portHigh: portHigh,
		notifier: notifier,
		logger:   logger,
	}
}

// ObtainCode starts the web server, notifies the user, and blocks until a
// terminal state: the accepted code on success, ErrTimedOut / ErrCancelled
// otherwise. The server is always torn down before returning; the code is
// never stored.
func (c *Coordinator) ObtainCode(ctx context.Context, cb Callbacks, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultObtainTimeout
	}

	ln, err := bindLoopback(c.host, c.portLow, c.portHigh)
	if err != nil {
		return "", err
	}

	m := newMachine()
	srv := &server{m: m, cb: cb, logger: c.logger}

	httpSrv := &http.Server{
		Handler:      srv.handler(),
		ReadTimeout:  handlerTimeout,
		WriteTimeout: handlerTimeout,
	}

	var g errgroup.Group

	g.Go(func() error {
		if serveErr := httpSrv.Serve(ln); !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}

		return nil
	})

	pageURL := fmt.Sprintf("http://%s/", ln.Addr().String())
	m.transition(StateListening, "Enter the 6-digit code from your trusted device.")

	c.logger.Info("2FA web interface listening", slog.String("url", pageURL))

	if err := c.notifier.Notify(ctx, notify.KindAuthRequired,
		"iPhoto Downloader: 2FA required",
		"Two-factor authentication is required to continue syncing.",
		pageURL); err != nil {
		// Out-of-band delivery is best effort; the local page still works.
		c.logger.Warn("2FA notification failed", slog.String("error", err.Error()))
	}

	code, obtainErr := c.wait(ctx, m, timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		httpSrv.Close() //nolint:errcheck,gosec
	}

	if err := g.Wait(); err != nil {
		c.logger.Warn("2FA web server error", slog.String("error", err.Error()))
	}

	return code, obtainErr
}

// wait blocks until the machine reaches a terminal state, the timeout
// fires, or the context is cancelled.
func (c *Coordinator) wait(ctx context.Context, m *machine, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.done:
		state, _ := m.snapshot()

		switch state {
		case StateSuccess:
			return m.acceptedCode(), nil
		case StateCancelled:
			return "", ErrCancelled
		default:
			return "", ErrTimedOut
		}

	case <-timer.C:
		m.transition(StateFailed, "Timed out waiting for a code.")
		return "", ErrTimedOut

	case <-ctx.Done():
		m.transition(StateCancelled, "Authentication cancelled.")
		return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}
