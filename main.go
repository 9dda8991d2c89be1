package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/icloudsync/iphoto-downloader/internal/config"
	"github.com/icloudsync/iphoto-downloader/internal/lock"
	"github.com/icloudsync/iphoto-downloader/internal/sync"
	"github.com/icloudsync/iphoto-downloader/internal/tracker"
)

// Process exit codes. Scripts and service managers key off these.
const (
	exitOK          = 0
	exitConfig      = 1
	exitAuth        = 2
	exitLocked      = 3
	exitTracker     = 4
	exitInterrupted = 5
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}

	os.Exit(exitOK)
}

// exitCode maps sentinel errors to the documented exit codes. Anything
// unclassified is a configuration/usage problem.
func exitCode(err error) int {
	switch {
	case errors.Is(err, sync.ErrInterrupted):
		return exitInterrupted
	case errors.Is(err, tracker.ErrUnavailable):
		return exitTracker
	case errors.Is(err, lock.ErrAlreadyLocked):
		return exitLocked
	case errors.Is(err, sync.ErrAuthFailed), errors.Is(err, sync.ErrTwoFactorIncomplete):
		return exitAuth
	case errors.Is(err, config.ErrInvalid):
		return exitConfig
	default:
		return exitConfig
	}
}
