// Package notify delivers one-way out-of-band push messages via the
// Pushover API: 2FA prompts, success confirmations, and fatal-error
// reports. Delivery is best-effort; retries are the caller's policy.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Kind classifies a notification. It selects priority and sound.
type Kind int

// Notification kinds.
const (
	KindInfo Kind = iota
	KindAuthRequired
	KindAuthSuccess
	KindFatal
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth_required"
	case KindAuthSuccess:
		return "auth_success"
	case KindFatal:
		return "fatal"
	default:
		return "info"
	}
}

// ErrNotifyFailed means the upstream service rejected the message.
var ErrNotifyFailed = errors.New("notify: delivery failed")

// defaultTimeout bounds how long a notification may block the caller.
const defaultTimeout = 10 * time.Second

// pushoverEndpoint is the Pushover message API.
const pushoverEndpoint = "https://api.pushover.net/1/messages.json"

// Pushover sends messages through the Pushover push service. Token and user
// key are secrets and never appear in logs or error messages.
type Pushover struct {
	endpoint   string
	token      string
	userKey    string
	device     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPushover creates a Pushover notifier. An httpClient of nil gets a
// client with the default 10 s timeout.
func NewPushover(token, userKey, device string, httpClient *http.Client, logger *slog.Logger) *Pushover {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Pushover{
		endpoint:   pushoverEndpoint,
		token:      token,
		userKey:    userKey,
		device:     device,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Notify delivers one message. link, when non-empty, is attached as a
// supplementary URL (the 2FA web page). Non-2xx responses surface as
// ErrNotifyFailed with the status code but never the response body, which
// could echo the token.
func (p *Pushover) Notify(ctx context.Context, kind Kind, title, body, link string) error {
	form := url.Values{
		"token":   {p.token},
		"user":    {p.userKey},
		"title":   {title},
		"message": {body},
	}

	if p.device != "" {
		form.Set("device", p.device)
	}

	if link != "" {
		form.Set("url", link)
		form.Set("url_title", "Open 2FA page")
	}

	switch kind {
	case KindAuthRequired:
		form.Set("priority", "1")
		form.Set("sound", "siren")
	case KindFatal:
		form.Set("priority", "1")
	case KindInfo, KindAuthSuccess:
		form.Set("priority", "0")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("notify: building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: HTTP %d", ErrNotifyFailed, resp.StatusCode)
	}

	p.logger.Debug("notification sent",
		slog.String("kind", kind.String()),
		slog.String("title", title),
	)

	return nil
}

// Noop is a disabled notifier used when Pushover is not configured.
type Noop struct{}

// Notify discards the message.
func (Noop) Notify(context.Context, Kind, string, string, string) error {
	return nil
}
