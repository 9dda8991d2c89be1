// Package icloud encapsulates the remote photo service: authentication
// with 2FA, trusted-session persistence, album and photo enumeration, and
// byte download. The engine consumes it through enumerated result kinds
// rather than raw HTTP errors.
package icloud

import (
	"errors"
)

// AlbumKind distinguishes the user's own albums from ones shared with them.
type AlbumKind int

// Album kinds.
const (
	KindPersonal AlbumKind = iota
	KindShared
)

// String returns the kind name.
func (k AlbumKind) String() string {
	if k == KindShared {
		return "shared"
	}

	return "personal"
}

// Album is a transient album listing, rebuilt each cycle.
type Album struct {
	Name      string
	Kind      AlbumKind
	ItemCount int // advisory
}

// Photo is one remote photo within an album.
type Photo struct {
	RemoteID  string
	Filename  string
	SizeBytes int64 // 0 means unknown
	AlbumName string
	Kind      AlbumKind
}

// AuthStatus is the outcome of Authenticate.
type AuthStatus int

// Authentication outcomes.
const (
	AuthOK AuthStatus = iota
	AuthTwoFactorRequired
	AuthInvalidCredentials
	AuthServiceUnavailable
)

// TwoFAStatus is the outcome of Request2FA.
type TwoFAStatus int

// 2FA resend outcomes.
const (
	TwoFAOK TwoFAStatus = iota
	TwoFARateLimited
	TwoFAServiceUnavailable
)

// VerifyStatus is the outcome of Verify2FA.
type VerifyStatus int

// Code verification outcomes.
const (
	VerifyOK VerifyStatus = iota
	VerifyCodeInvalid
	VerifyServiceUnavailable
)

// Sentinel errors surfaced by the client.
var (
	// ErrNotFound means the remote ID does not resolve to a photo.
	ErrNotFound = errors.New("icloud: photo not found")

	// ErrServiceUnavailable wraps transport failures and 5xx responses
	// that survived the retry budget.
	ErrServiceUnavailable = errors.New("icloud: service unavailable")

	// ErrTruncated means a download stream ended before the advertised
	// byte count.
	ErrTruncated = errors.New("icloud: download truncated")
)
