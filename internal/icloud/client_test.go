package icloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, authBase, setupBase string) *Client {
	t.Helper()

	store := NewSessionStore(t.TempDir(), testLogger())

	c, err := NewClient("user@example.com", "hunter2", store, testLogger())
	require.NoError(t, err)

	if authBase != "" {
		c.authBase = authBase
	}

	if setupBase != "" {
		c.setupBase = setupBase
	}

	c.httpClient.Timeout = 5 * time.Second

	return c
}

// accountLoginOK responds like the setup service with a photos endpoint.
func accountLoginOK(photosURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"webservices": map[string]any{
				"ckdatabasews": map[string]any{"url": photosURL, "status": "active"},
			},
		})
	}
}

func TestSignIn_TwoFactorRequired(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/signin", r.URL.Path)
		w.Header().Set("X-Apple-ID-Session-Id", "sid-1")
		w.Header().Set("scnt", "scnt-1")
		w.WriteHeader(http.StatusConflict)
	}))
	defer auth.Close()

	c := newTestClient(t, auth.URL, "")

	status, err := c.signIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AuthTwoFactorRequired, status)

	// Session headers must be captured for the follow-up 2FA calls.
	assert.Equal(t, "sid-1", c.sessionID)
	assert.Equal(t, "scnt-1", c.scnt)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer auth.Close()

	c := newTestClient(t, auth.URL, "")

	status, err := c.signIn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AuthInvalidCredentials, status)
}

func TestAuthenticate_FreshLogin(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user@example.com", body["accountName"])

		w.Header().Set("X-Apple-Session-Token", "fresh-token")
		w.WriteHeader(http.StatusOK)
	}))
	defer auth.Close()

	setup := httptest.NewServer(accountLoginOK("https://photos.example.com"))
	defer setup.Close()

	c := newTestClient(t, auth.URL, setup.URL)

	status, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AuthOK, status)
	assert.Equal(t, "https://photos.example.com", c.photosURL)
}

func TestAuthenticate_TrustedSessionSkipsSignIn(t *testing.T) {
	signins := 0

	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		signins++
		w.WriteHeader(http.StatusConflict)
	}))
	defer auth.Close()

	setup := httptest.NewServer(accountLoginOK("https://photos.example.com"))
	defer setup.Close()

	c := newTestClient(t, auth.URL, setup.URL)

	require.NoError(t, c.store.save(&sessionBlob{
		Account:      "user@example.com",
		SessionToken: "persisted-token",
		TrustToken:   "persisted-trust",
		SavedAt:      time.Now().UTC(),
	}))

	status, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AuthOK, status)
	assert.Zero(t, signins, "a valid trusted session must skip the password login")
}

func TestAuthenticate_ExpiredSessionFallsBack(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer auth.Close()

	// accountLogin rejects the stale token.
	setup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer setup.Close()

	c := newTestClient(t, auth.URL, setup.URL)

	require.NoError(t, c.store.save(&sessionBlob{
		Account:      "user@example.com",
		SessionToken: "stale",
		SavedAt:      time.Now().UTC(),
	}))

	status, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AuthTwoFactorRequired, status)

	// The stale blob must be discarded.
	blob, err := c.store.load("user@example.com")
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestRequest2FA_RateLimited(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/verify/trusteddevice", r.URL.Path)
		w.WriteHeader(http.StatusLocked)
	}))
	defer auth.Close()

	c := newTestClient(t, auth.URL, "")

	status, err := c.Request2FA(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TwoFARateLimited, status)
}

func TestVerify2FA_CodeInvalid(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SecurityCode struct {
				Code string `json:"code"`
			} `json:"securityCode"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "000000", body.SecurityCode.Code)

		w.WriteHeader(http.StatusBadRequest)
	}))
	defer auth.Close()

	c := newTestClient(t, auth.URL, "")

	status, err := c.Verify2FA(context.Background(), "000000")
	require.NoError(t, err)
	assert.Equal(t, VerifyCodeInvalid, status)
}

func TestTrustSession_PersistsBlob(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2sv/trust", r.URL.Path)
		w.Header().Set("X-Apple-TwoSV-Trust-Token", "new-trust")
		w.Header().Set("X-Apple-Session-Token", "new-session")
		w.WriteHeader(http.StatusOK)
	}))
	defer auth.Close()

	setup := httptest.NewServer(accountLoginOK("https://photos.example.com"))
	defer setup.Close()

	c := newTestClient(t, auth.URL, setup.URL)

	require.NoError(t, c.TrustSession(context.Background()))

	blob, err := c.store.load("user@example.com")
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, "new-trust", blob.TrustToken)
	assert.Equal(t, "new-session", blob.SessionToken)
}

func TestBase64Names(t *testing.T) {
	assert.Equal(t, "Family Photos", decodeBase64Name(encodeBase64Name("Family Photos")))
	assert.Equal(t, "not base64!", decodeBase64Name("not base64!"))
}
