package authweb

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Sentinel errors for the web server.
var (
	// ErrNoPortAvailable means every port in the configured range was taken.
	ErrNoPortAvailable = errors.New("authweb: no free port in configured range")

	// ErrNotLoopback rejects binding to anything but a loopback address.
	ErrNotLoopback = errors.New("authweb: refusing to bind non-loopback address")
)

// Server policy constants.
const (
	handlerTimeout = 5 * time.Second
	resendWindow   = 30 * time.Second

	// Per-IP submission budget (only loopback in practice).
	submitRateLimit  = 5
	submitRatePeriod = time.Minute
)

// codePattern matches exactly six ASCII digits.
var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

//go:embed index.html
var indexPage []byte

// server wires the state machine and callbacks into the HTTP surface.
type server struct {
	m      *machine
	cb     Callbacks
	logger *slog.Logger
}

// bindLoopback listens on the first free port of [low, high] on host. The
// host must resolve to a loopback IP; binding 0.0.0.0 is forbidden.
func bindLoopback(host string, low, high int) (net.Listener, error) {
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return nil, fmt.Errorf("%w: %q", ErrNotLoopback, host)
	}

	for port := low; port <= high; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
	}

	return nil, fmt.Errorf("%w: %d-%d", ErrNoPortAvailable, low, high)
}

// handler assembles the mux with rate limiting on /submit.
func (s *server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /request", s.handleRequest)

	submitLimiter := limiter.New(memory.NewStore(), limiter.Rate{
		Period: submitRatePeriod,
		Limit:  submitRateLimit,
	})
	middleware := mhttp.NewMiddleware(submitLimiter)

	mux.Handle("POST /submit", middleware.Handler(http.HandlerFunc(s.handleSubmit)))

	return mux
}

// handleIndex serves the polling HTML page.
func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexPage) //nolint:errcheck
}

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

// handleStatus reports the state machine's current state and message.
func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state, message := s.m.snapshot()

	writeJSON(w, http.StatusOK, statusResponse{State: state.String(), Message: message})
}

// handleRequest triggers the cloud's code resend. Idempotent under rate
// limit: at most one upstream call per 30 s window; excess requests just
// report the current status.
func (s *server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !s.m.allowRequest(resendWindow) {
		s.handleStatus(w, r)
		return
	}

	if err := s.cb.OnRequest(r.Context()); err != nil {
		s.logger.Warn("2FA code request rejected", slog.String("error", err.Error()))
		s.m.transition(StateListening, "Could not request a new code: "+err.Error())
	} else {
		s.m.transition(StateAwaitingCode, "Code sent. Check your device and enter it below.")
	}

	s.handleStatus(w, r)
}

// submitRequest is the JSON body of POST /submit.
type submitRequest struct {
	Code string `json:"code"`
}

// handleSubmit validates the code format, serializes verification (one in
// flight at a time), and hands the code to the verify callback. The
// verification runs asynchronously; the page polls /status for the result.
func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{State: "error", Message: "invalid JSON body"})
		return
	}

	if !codePattern.MatchString(req.Code) {
		// Invalid format causes no state change.
		writeJSON(w, http.StatusBadRequest, statusResponse{State: "error", Message: "code must be exactly 6 digits"})
		return
	}

	if !s.m.beginValidation() {
		writeJSON(w, http.StatusConflict, statusResponse{State: "error", Message: "a verification is already in progress"})
		return
	}

	go s.verify(req.Code)

	s.handleStatus(w, r)
}

// verify runs the verification callback off the request goroutine so the
// handler can respond within its timeout.
func (s *server) verify(code string) {
	if err := s.cb.OnSubmit(code); err != nil {
		s.logger.Warn("2FA code rejected", slog.String("error", err.Error()))
		s.m.transition(StateAwaitingCode, "Code rejected. Try again or request a new one.")

		return
	}

	s.m.succeed(code)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
