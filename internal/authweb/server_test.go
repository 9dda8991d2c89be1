package authweb

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testServer(t *testing.T, cb Callbacks) (*server, *httptest.Server) {
	t.Helper()

	srv := &server{m: newMachine(), cb: cb, logger: testLogger()}
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	return srv, ts
}

func decodeStatus(t *testing.T, resp *http.Response) statusResponse {
	t.Helper()

	defer resp.Body.Close()

	var s statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))

	return s
}

func TestBindLoopback_RejectsNonLoopback(t *testing.T) {
	_, err := bindLoopback("0.0.0.0", 8080, 8090)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotLoopback)

	_, err = bindLoopback("192.168.1.10", 8080, 8090)
	assert.ErrorIs(t, err, ErrNotLoopback)

	_, err = bindLoopback("not-an-ip", 8080, 8090)
	assert.ErrorIs(t, err, ErrNotLoopback)
}

func TestBindLoopback_ScansPastBusyPort(t *testing.T) {
	first, err := bindLoopback("127.0.0.1", 18080, 18085)
	require.NoError(t, err)
	defer first.Close()

	second, err := bindLoopback("127.0.0.1", 18080, 18085)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.Addr().String(), second.Addr().String())
}

func TestBindLoopback_ExhaustedRange(t *testing.T) {
	ln, err := bindLoopback("127.0.0.1", 18090, 18090)
	require.NoError(t, err)
	defer ln.Close()

	_, err = bindLoopback("127.0.0.1", 18090, 18090)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPortAvailable)
}

func TestHandleIndex_ServesPage(t *testing.T) {
	_, ts := testServer(t, Callbacks{})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestHandleStatus_ReportsState(t *testing.T) {
	srv, ts := testServer(t, Callbacks{})
	srv.m.transition(StateListening, "Enter the code.")

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)

	s := decodeStatus(t, resp)
	assert.Equal(t, "listening", s.State)
	assert.Equal(t, "Enter the code.", s.Message)
}

func TestHandleSubmit_InvalidJSON(t *testing.T) {
	srv, ts := testServer(t, Callbacks{})
	srv.m.transition(StateAwaitingCode, "ready")

	resp, err := http.Post(ts.URL+"/submit", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	state, _ := srv.m.snapshot()
	assert.Equal(t, StateAwaitingCode, state, "malformed input must not change state")
}

func TestHandleSubmit_BadFormat(t *testing.T) {
	srv, ts := testServer(t, Callbacks{})
	srv.m.transition(StateAwaitingCode, "ready")

	for _, code := range []string{"12345", "1234567", "abcdef", "12 456", ""} {
		body := strings.NewReader(`{"code":"` + code + `"}`)

		resp, err := http.Post(ts.URL+"/submit", "application/json", body)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "code %q", code)
	}

	state, _ := srv.m.snapshot()
	assert.Equal(t, StateAwaitingCode, state)
}

func TestHandleSubmit_AcceptedCode(t *testing.T) {
	verified := make(chan string, 1)

	srv, ts := testServer(t, Callbacks{
		OnSubmit: func(code string) error {
			verified <- code
			return nil
		},
	})
	srv.m.transition(StateAwaitingCode, "ready")

	resp, err := http.Post(ts.URL+"/submit", "application/json", strings.NewReader(`{"code":"123456"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case code := <-verified:
		assert.Equal(t, "123456", code)
	case <-time.After(time.Second):
		t.Fatal("verify callback not invoked")
	}

	select {
	case <-srv.m.done:
	case <-time.After(time.Second):
		t.Fatal("machine should reach a terminal state")
	}

	assert.Equal(t, "123456", srv.m.acceptedCode())
}

func TestHandleSubmit_ConcurrentValidationConflicts(t *testing.T) {
	release := make(chan struct{})

	srv, ts := testServer(t, Callbacks{
		OnSubmit: func(string) error {
			<-release
			return nil
		},
	})
	srv.m.transition(StateAwaitingCode, "ready")

	resp, err := http.Post(ts.URL+"/submit", "application/json", strings.NewReader(`{"code":"111111"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Second submission while the first is still validating.
	resp, err = http.Post(ts.URL+"/submit", "application/json", strings.NewReader(`{"code":"222222"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
}

func TestHandleSubmit_RejectedCodeReturnsToAwaiting(t *testing.T) {
	srv, ts := testServer(t, Callbacks{
		OnSubmit: func(string) error {
			return errors.New("code rejected upstream")
		},
	})
	srv.m.transition(StateAwaitingCode, "ready")

	resp, err := http.Post(ts.URL+"/submit", "application/json", strings.NewReader(`{"code":"123456"}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		state, _ := srv.m.snapshot()
		return state == StateAwaitingCode
	}, time.Second, 10*time.Millisecond)
}

func TestHandleRequest_TriggersResend(t *testing.T) {
	requested := 0

	srv, ts := testServer(t, Callbacks{
		OnRequest: func(context.Context) error {
			requested++
			return nil
		},
	})
	srv.m.transition(StateListening, "listening")

	resp, err := http.Post(ts.URL+"/request", "application/json", nil)
	require.NoError(t, err)

	s := decodeStatus(t, resp)
	assert.Equal(t, "awaiting_code", s.State)
	assert.Equal(t, 1, requested)

	// Immediate second request falls inside the resend window.
	resp, err = http.Post(ts.URL+"/request", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1, requested, "resend window must suppress the upstream call")
}

func TestHandleSubmit_RateLimited(t *testing.T) {
	srv, ts := testServer(t, Callbacks{
		OnSubmit: func(string) error {
			return errors.New("rejected")
		},
	})
	srv.m.transition(StateAwaitingCode, "ready")

	limited := false

	for i := 0; i < submitRateLimit+2; i++ {
		resp, err := http.Post(ts.URL+"/submit", "application/json", strings.NewReader(`{"code":"000000"}`))
		require.NoError(t, err)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}

	assert.True(t, limited, "submissions beyond the per-minute budget must get 429")
}
