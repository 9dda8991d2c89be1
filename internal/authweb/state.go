// Package authweb obtains a 2FA code from a human through a small loopback
// web interface. A state machine serializes the whole exchange; the caller
// blocks in ObtainCode until a terminal state is reached.
package authweb

import (
	stdsync "sync"
	"time"
)

// State enumerates the 2FA exchange states.
type State int

// States. success, failed, and cancelled are terminal.
const (
	StateIdle State = iota
	StateListening
	StateRequested
	StateAwaitingCode
	StateValidating
	StateSuccess
	StateFailed
	StateCancelled
)

// String returns the wire name used in /status responses.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRequested:
		return "requested"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateValidating:
		return "validating"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the exchange is over.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateCancelled
}

// machine holds the serialized 2FA exchange state. Every transition happens
// under mu; done closes exactly once, on the first terminal transition.
type machine struct {
	mu          stdsync.Mutex
	state       State
	message     string
	code        string // the accepted code, set on success
	lastRequest time.Time
	done        chan struct{}
}

func newMachine() *machine {
	return &machine{
		state:   StateIdle,
		message: "Waiting to start",
		done:    make(chan struct{}),
	}
}

// snapshot returns the current state and user-facing message.
func (m *machine) snapshot() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state, m.message
}

// transition moves to the given state unconditionally. Terminal states are
// sticky: once reached, further transitions are ignored.
func (m *machine) transition(to State, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Terminal() {
		return
	}

	m.state = to
	m.message = message

	if to.Terminal() {
		close(m.done)
	}
}

// succeed records the accepted code and moves to success.
func (m *machine) succeed(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Terminal() {
		return
	}

	m.state = StateSuccess
	m.message = "Authentication successful. You can close this page."
	m.code = code

	close(m.done)
}

// beginValidation atomically checks that no verification is in flight and
// enters validating. Returns false when a submission must be rejected
// (another one is validating, or the exchange is already over).
func (m *machine) beginValidation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateValidating || m.state.Terminal() {
		return false
	}

	m.state = StateValidating
	m.message = "Verifying code..."

	return true
}

// allowRequest enforces the resend rate limit: at most one upstream resend
// per window. Returns false when the previous request is too recent.
func (m *machine) allowRequest(window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Terminal() || m.state == StateValidating {
		return false
	}

	if !m.lastRequest.IsZero() && time.Since(m.lastRequest) < window {
		return false
	}

	m.lastRequest = time.Now()
	m.state = StateRequested
	m.message = "Requesting a new code..."

	return true
}

// acceptedCode returns the code recorded by succeed.
func (m *machine) acceptedCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.code
}
