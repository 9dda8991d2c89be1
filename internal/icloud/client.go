package icloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

// Apple authentication and setup endpoints.
const (
	defaultAuthBase  = "https://idmsa.apple.com/appleauth/auth"
	defaultSetupBase = "https://setup.icloud.com/setup/ws/1"
)

// Client identity headers expected by the auth endpoints.
const (
	clientID        = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"
	clientUserAgent = "iphoto-downloader/0.1"
)

// Retry policy for transient failures (throttling, 5xx, network).
const (
	retryBaseDelay  = 1 * time.Second
	retryMaxAttempt = 4
)

// Client talks to the iCloud web API. It is not safe for concurrent use;
// the engine drives it from a single goroutine.
type Client struct {
	authBase   string
	setupBase  string
	httpClient *http.Client
	store      *SessionStore
	logger     *slog.Logger

	account  string
	password string

	// Per-login state captured from response headers.
	sessionID    string
	scnt         string
	sessionToken string
	trustToken   string

	// Service URLs from account validation.
	photosURL string
}

// NewClient creates a client for the given account. The session store is
// consulted before prompting: a persisted trusted session skips the 2FA
// exchange entirely.
func NewClient(account, password string, store *SessionStore, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("icloud: creating cookie jar: %w", err)
	}

	return &Client{
		authBase:  defaultAuthBase,
		setupBase: defaultSetupBase,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 60 * time.Second,
		},
		store:    store,
		logger:   logger,
		account:  account,
		password: password,
	}, nil
}

// Authenticate logs in to the remote service. A persisted trusted session
// is tried first; when it validates, no password round-trip happens at all.
func (c *Client) Authenticate(ctx context.Context) (AuthStatus, error) {
	if blob, err := c.store.load(c.account); err == nil && blob != nil {
		c.trustToken = blob.TrustToken
		c.sessionToken = blob.SessionToken
		c.sessionID = blob.SessionID
		c.scnt = blob.Scnt

		c.seedCookies(blob)

		if c.accountLogin(ctx) == nil {
			c.logger.Info("trusted session restored, 2FA not required")
			return AuthOK, nil
		}

		c.logger.Info("persisted session expired, performing full login")
		c.store.remove(c.account)
	}

	status, err := c.signIn(ctx)
	if err != nil || status != AuthOK {
		return status, err
	}

	// A fresh sign-in without a trust token still needs account validation
	// before the photo services are reachable.
	if err := c.accountLogin(ctx); err != nil {
		return AuthServiceUnavailable, err
	}

	return AuthOK, nil
}

// signIn performs the password login against the auth service and
// classifies the outcome into the enumerated statuses.
func (c *Client) signIn(ctx context.Context) (AuthStatus, error) {
	payload := map[string]any{
		"accountName": c.account,
		"password":    c.password,
		"rememberMe":  true,
	}

	if c.trustToken != "" {
		payload["trustTokens"] = []string{c.trustToken}
	}

	resp, err := c.doAuth(ctx, http.MethodPost, "/signin?isRememberMeEnabled=true", payload)
	if err != nil {
		return AuthServiceUnavailable, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer drainClose(resp)

	c.captureAuthHeaders(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		return AuthOK, nil
	case resp.StatusCode == http.StatusConflict:
		// 409: login accepted, second factor outstanding.
		return AuthTwoFactorRequired, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return AuthInvalidCredentials, nil
	default:
		return AuthServiceUnavailable, fmt.Errorf("%w: signin HTTP %d", ErrServiceUnavailable, resp.StatusCode)
	}
}

// Request2FA asks the auth service to push a fresh code to the user's
// trusted devices.
func (c *Client) Request2FA(ctx context.Context) (TwoFAStatus, error) {
	resp, err := c.doAuth(ctx, http.MethodPut, "/verify/trusteddevice", nil)
	if err != nil {
		return TwoFAServiceUnavailable, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer drainClose(resp)

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return TwoFAOK, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusLocked:
		return TwoFARateLimited, nil
	default:
		return TwoFAServiceUnavailable, fmt.Errorf("%w: resend HTTP %d", ErrServiceUnavailable, resp.StatusCode)
	}
}

// Verify2FA submits a candidate 6-digit code.
func (c *Client) Verify2FA(ctx context.Context, code string) (VerifyStatus, error) {
	payload := map[string]any{
		"securityCode": map[string]string{"code": code},
	}

	resp, err := c.doAuth(ctx, http.MethodPost, "/verify/trusteddevice/securitycode", payload)
	if err != nil {
		return VerifyServiceUnavailable, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer drainClose(resp)

	c.captureAuthHeaders(resp)

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return VerifyOK, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return VerifyCodeInvalid, nil
	default:
		return VerifyServiceUnavailable, fmt.Errorf("%w: verify HTTP %d", ErrServiceUnavailable, resp.StatusCode)
	}
}

// TrustSession asks the auth service to mark this session trusted and
// persists the resulting blob so the next run skips 2FA. Best effort: a
// failure is logged by the caller, not fatal.
func (c *Client) TrustSession(ctx context.Context) error {
	resp, err := c.doAuth(ctx, http.MethodGet, "/2sv/trust", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer drainClose(resp)

	if token := resp.Header.Get("X-Apple-TwoSV-Trust-Token"); token != "" {
		c.trustToken = token
	}

	if token := resp.Header.Get("X-Apple-Session-Token"); token != "" {
		c.sessionToken = token
	}

	if err := c.accountLogin(ctx); err != nil {
		return err
	}

	return c.persistSession()
}

// accountLogin validates the session against the setup service and learns
// the per-account web service URLs (the photos endpoint in particular).
func (c *Client) accountLogin(ctx context.Context) error {
	payload := map[string]any{
		"dsWebAuthToken": c.sessionToken,
		"extended_login": true,
	}

	if c.trustToken != "" {
		payload["trustToken"] = c.trustToken
	}

	resp, err := c.doJSON(ctx, http.MethodPost, c.setupBase+"/accountLogin", payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: accountLogin HTTP %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var body struct {
		WebServices map[string]struct {
			URL    string `json:"url"`
			Status string `json:"status"`
		} `json:"webservices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: decoding accountLogin: %v", ErrServiceUnavailable, err)
	}

	svc, ok := body.WebServices["ckdatabasews"]
	if !ok || svc.URL == "" {
		return fmt.Errorf("%w: account has no photo service", ErrServiceUnavailable)
	}

	c.photosURL = svc.URL

	return nil
}

// persistSession snapshots cookies and tokens into the session store.
func (c *Client) persistSession() error {
	setupURL, err := url.Parse(c.setupBase)
	if err != nil {
		return fmt.Errorf("icloud: parsing setup URL: %w", err)
	}

	blob := &sessionBlob{
		Account:      c.account,
		SessionToken: c.sessionToken,
		TrustToken:   c.trustToken,
		Scnt:         c.scnt,
		SessionID:    c.sessionID,
		Cookies:      storeCookies(c.httpClient.Jar.Cookies(setupURL)),
		SavedAt:      time.Now().UTC(),
	}

	return c.store.save(blob)
}

// seedCookies loads persisted cookies into the live jar.
func (c *Client) seedCookies(blob *sessionBlob) {
	setupURL, err := url.Parse(c.setupBase)
	if err != nil {
		return
	}

	c.httpClient.Jar.SetCookies(setupURL, blob.cookies())
}

// captureAuthHeaders records the session headers the auth service expects
// echoed on subsequent calls.
func (c *Client) captureAuthHeaders(resp *http.Response) {
	if v := resp.Header.Get("X-Apple-ID-Session-Id"); v != "" {
		c.sessionID = v
	}

	if v := resp.Header.Get("scnt"); v != "" {
		c.scnt = v
	}

	if v := resp.Header.Get("X-Apple-Session-Token"); v != "" {
		c.sessionToken = v
	}
}

// doAuth issues a request against the auth service with the identity and
// session headers attached.
func (c *Client) doAuth(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	return c.doRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := c.newJSONRequest(ctx, method, c.authBase+path, payload)
		if err != nil {
			return nil, err
		}

		req.Header.Set("X-Apple-OAuth-Client-Id", clientID)
		req.Header.Set("X-Apple-OAuth-Client-Type", "firstPartyAuth")
		req.Header.Set("X-Apple-Widget-Key", clientID)

		if c.sessionID != "" {
			req.Header.Set("X-Apple-ID-Session-Id", c.sessionID)
		}

		if c.scnt != "" {
			req.Header.Set("scnt", c.scnt)
		}

		return req, nil
	})
}

// doJSON issues a plain JSON request against an absolute URL.
func (c *Client) doJSON(ctx context.Context, method, absURL string, payload any) (*http.Response, error) {
	return c.doRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.newJSONRequest(ctx, method, absURL, payload)
	})
}

// newJSONRequest builds a request with an optional JSON body.
func (c *Client) newJSONRequest(ctx context.Context, method, absURL string, payload any) (*http.Request, error) {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("icloud: encoding request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, absURL, body)
	if err != nil {
		return nil, fmt.Errorf("icloud: building request: %w", err)
	}

	req.Header.Set("User-Agent", clientUserAgent)
	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// doRetry executes the request with exponential backoff on throttling, 5xx
// responses, and transport errors. Request bodies are rebuilt per attempt.
func (c *Client) doRetry(ctx context.Context, build func(context.Context) (*http.Request, error)) (*http.Response, error) {
	backoff := retry.WithMaxRetries(retryMaxAttempt, retry.NewExponential(retryBaseDelay))

	var resp *http.Response

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			// Transport errors are worth another attempt.
			return retry.RetryableError(err)
		}

		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= http.StatusInternalServerError {
			drainClose(r)
			return retry.RetryableError(fmt.Errorf("icloud: HTTP %d", r.StatusCode))
		}

		resp = r

		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// drainClose discards the remaining body so the connection can be reused.
func drainClose(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
}

// decodeBase64Name decodes the base64-encoded names the photo service uses
// for albums and filenames. Malformed values fall back to the raw string.
func decodeBase64Name(enc string) string {
	decoded, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return enc
	}

	return string(decoded)
}

// encodeBase64Name is the inverse, used in query filters.
func encodeBase64Name(name string) string {
	return base64.StdEncoding.EncodeToString([]byte(name))
}
