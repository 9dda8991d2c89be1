package icloud

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestSessionStore_RoundTrip(t *testing.T) {
	store := NewSessionStore(filepath.Join(t.TempDir(), "sessions"), testLogger())

	blob := &sessionBlob{
		Account:      "user@example.com",
		SessionToken: "sess-token",
		TrustToken:   "trust-token",
		Scnt:         "scnt-value",
		SessionID:    "session-id",
		SavedAt:      time.Now().UTC(),
	}

	require.NoError(t, store.save(blob))

	loaded, err := store.load("user@example.com")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, "sess-token", loaded.SessionToken)
	assert.Equal(t, "trust-token", loaded.TrustToken)
	assert.Equal(t, "scnt-value", loaded.Scnt)
}

func TestSessionStore_OwnerOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}

	dir := filepath.Join(t.TempDir(), "sessions")
	store := NewSessionStore(dir, testLogger())

	require.NoError(t, store.save(&sessionBlob{Account: "user@example.com"}))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(store.path("user@example.com"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fileInfo.Mode().Perm())
}

func TestSessionStore_MissingBlobIsNil(t *testing.T) {
	store := NewSessionStore(t.TempDir(), testLogger())

	blob, err := store.load("nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestSessionStore_CorruptBlobDiscarded(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir, testLogger())

	require.NoError(t, os.WriteFile(store.path("user@example.com"), []byte("{broken"), 0o600))

	blob, err := store.load("user@example.com")
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestSessionStore_AccountNameSanitized(t *testing.T) {
	store := NewSessionStore(t.TempDir(), testLogger())

	path := store.path("../evil/../../account")
	assert.Equal(t, store.dir, filepath.Dir(path))
}

func TestSessionStore_Remove(t *testing.T) {
	store := NewSessionStore(t.TempDir(), testLogger())

	require.NoError(t, store.save(&sessionBlob{Account: "user@example.com"}))
	store.remove("user@example.com")

	blob, err := store.load("user@example.com")
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestSessionBlob_ExpiredCookiesDropped(t *testing.T) {
	blob := &sessionBlob{
		Cookies: []*storedCookie{
			{Name: "live", Value: "v", Expires: time.Now().Add(time.Hour)},
			{Name: "expired", Value: "v", Expires: time.Now().Add(-time.Hour)},
			{Name: "session", Value: "v"}, // zero Expires: session cookie, kept
		},
	}

	cookies := blob.cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "live", cookies[0].Name)
	assert.Equal(t, "session", cookies[1].Name)
}
