package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/icloudsync/iphoto-downloader/internal/config"
	"github.com/icloudsync/iphoto-downloader/internal/lock"
	"github.com/icloudsync/iphoto-downloader/internal/sync"
	"github.com/icloudsync/iphoto-downloader/internal/tracker"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config error", config.ErrInvalid, exitConfig},
		{"wrapped config error", fmt.Errorf("loading: %w", config.ErrInvalid), exitConfig},
		{"auth failure", sync.ErrAuthFailed, exitAuth},
		{"incomplete 2fa", sync.ErrTwoFactorIncomplete, exitAuth},
		{"already running", lock.ErrAlreadyLocked, exitLocked},
		{"tracker unavailable", tracker.ErrUnavailable, exitTracker},
		{"interrupted", sync.ErrInterrupted, exitInterrupted},
		{"unclassified", errors.New("mystery"), exitConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestExitCode_InterruptWinsOverWrappedCauses(t *testing.T) {
	// A cycle interrupted mid-download may wrap a transport error; the
	// interrupt classification must win.
	err := fmt.Errorf("%w: %v", sync.ErrInterrupted, errors.New("copy aborted"))
	assert.Equal(t, exitInterrupted, exitCode(err))
}
