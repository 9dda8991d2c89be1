package icloud

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Owner-only permissions: the blob authenticates as the user.
const (
	sessionDirPermissions  = 0o700
	sessionFilePermissions = 0o600
)

// sessionBlob is the persisted trusted-session state. The format is opaque
// to callers; only this package reads it.
type sessionBlob struct {
	Account      string           `json:"account"`
	SessionToken string           `json:"session_token,omitempty"`
	TrustToken   string           `json:"trust_token,omitempty"`
	Scnt         string           `json:"scnt,omitempty"`
	SessionID    string           `json:"session_id,omitempty"`
	Cookies      []*storedCookie  `json:"cookies,omitempty"`
	SavedAt      time.Time        `json:"saved_at"`
}

// storedCookie is the serializable subset of http.Cookie we need.
type storedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires"`
	Secure  bool      `json:"secure"`
}

// SessionStore persists trusted-session blobs, one file per account, with
// owner-only permissions.
type SessionStore struct {
	dir    string
	logger *slog.Logger
}

// NewSessionStore creates a store rooted at dir (typically
// <user_state_dir>/iphoto_downloader/sessions).
func NewSessionStore(dir string, logger *slog.Logger) *SessionStore {
	return &SessionStore{dir: dir, logger: logger}
}

// path maps an account name to its blob file. The account is flattened so
// it is safe as a file name.
func (s *SessionStore) path(account string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}

		return r
	}, account)

	return filepath.Join(s.dir, safe+".json")
}

// save writes the blob atomically with owner-only permissions.
func (s *SessionStore) save(blob *sessionBlob) error {
	if err := os.MkdirAll(s.dir, sessionDirPermissions); err != nil {
		return fmt.Errorf("icloud: creating session directory: %w", err)
	}

	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("icloud: encoding session: %w", err)
	}

	dest := s.path(blob.Account)

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("icloud: writing session: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("icloud: writing session: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("icloud: writing session: %w", err)
	}

	if err := os.Chmod(tmpName, sessionFilePermissions); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("icloud: setting session permissions: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("icloud: writing session: %w", err)
	}

	s.logger.Debug("session saved", slog.String("path", dest))

	return nil
}

// load reads the blob for the account. Returns nil without error when no
// blob exists.
func (s *SessionStore) load(account string) (*sessionBlob, error) {
	data, err := os.ReadFile(s.path(account))
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("icloud: reading session: %w", err)
	}

	var blob sessionBlob

	if err := json.Unmarshal(data, &blob); err != nil {
		// A corrupt blob just forces a fresh login.
		s.logger.Warn("discarding unreadable session blob", slog.String("error", err.Error()))
		return nil, nil
	}

	return &blob, nil
}

// remove deletes the persisted blob for the account.
func (s *SessionStore) remove(account string) {
	os.Remove(s.path(account))
}

// cookies converts stored cookies back to http.Cookie values, dropping
// expired ones.
func (b *sessionBlob) cookies() []*http.Cookie {
	now := time.Now()

	var out []*http.Cookie

	for _, c := range b.Cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}

		out = append(out, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
			Secure:  c.Secure,
		})
	}

	return out
}

// storeCookies captures cookies from a jar's view of a URL for persistence.
func storeCookies(cookies []*http.Cookie) []*storedCookie {
	out := make([]*storedCookie, 0, len(cookies))

	for _, c := range cookies {
		out = append(out, &storedCookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
			Secure:  c.Secure,
		})
	}

	return out
}
