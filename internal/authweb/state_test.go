package authweb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateSuccess.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateIdle.Terminal())
	assert.False(t, StateListening.Terminal())
	assert.False(t, StateValidating.Terminal())
}

func TestMachine_TerminalIsSticky(t *testing.T) {
	m := newMachine()

	m.transition(StateListening, "listening")
	m.succeed("123456")

	m.transition(StateFailed, "should be ignored")

	state, _ := m.snapshot()
	assert.Equal(t, StateSuccess, state)
	assert.Equal(t, "123456", m.acceptedCode())
}

func TestMachine_DoneClosesOnce(t *testing.T) {
	m := newMachine()

	m.transition(StateFailed, "failed")

	select {
	case <-m.done:
	default:
		t.Fatal("done should be closed after a terminal transition")
	}

	// A second terminal transition must not close again (would panic).
	assert.NotPanics(t, func() { m.transition(StateCancelled, "late") })
}

func TestMachine_BeginValidationSerializes(t *testing.T) {
	m := newMachine()
	m.transition(StateAwaitingCode, "ready")

	require.True(t, m.beginValidation())
	assert.False(t, m.beginValidation(), "second submission while validating must be rejected")

	m.transition(StateAwaitingCode, "rejected")
	assert.True(t, m.beginValidation(), "after rejection a new submission is allowed")
}

func TestMachine_BeginValidationAfterTerminal(t *testing.T) {
	m := newMachine()
	m.succeed("123456")

	assert.False(t, m.beginValidation())
}

func TestMachine_AllowRequestWindow(t *testing.T) {
	m := newMachine()
	m.transition(StateListening, "listening")

	require.True(t, m.allowRequest(30*time.Second))
	assert.False(t, m.allowRequest(30*time.Second), "second resend within the window must be suppressed")

	// Simulate an elapsed window.
	m.mu.Lock()
	m.lastRequest = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	assert.True(t, m.allowRequest(30*time.Second))
}

func TestMachine_AllowRequestBlockedWhileValidating(t *testing.T) {
	m := newMachine()
	m.transition(StateAwaitingCode, "ready")
	require.True(t, m.beginValidation())

	assert.False(t, m.allowRequest(time.Nanosecond))
}
