package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// 2FA back-off schedule: doubles from 8 minutes per consecutive failure,
// capped at 2 days.
const (
	backoffBase = 8 * time.Minute
	backoffCap  = 48 * time.Hour
)

// backoffState is the persisted counter. It lives outside the sync root so
// deleting and recreating the library does not reset the schedule.
type backoffState struct {
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
}

// Backoff tracks consecutive incomplete 2FA attempts across process
// restarts.
type Backoff struct {
	path  string
	state backoffState
	now   func() time.Time
}

// NewBackoff loads the persisted counter from path. A missing or corrupt
// file starts from zero.
func NewBackoff(path string) *Backoff {
	b := &Backoff{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	if err != nil {
		return b
	}

	if err := json.Unmarshal(data, &b.state); err != nil {
		b.state = backoffState{}
	}

	return b
}

// Delay returns how long to wait for the current failure count: zero when
// there have been no failures, otherwise base doubled per extra failure up
// to the cap.
func (b *Backoff) Delay() time.Duration {
	return delayFor(b.state.Failures)
}

func delayFor(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}

	delay := backoffBase

	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}

	if delay > backoffCap {
		return backoffCap
	}

	return delay
}

// Until returns the earliest time a new 2FA attempt is allowed.
func (b *Backoff) Until() time.Time {
	if b.state.Failures == 0 {
		return b.now()
	}

	return b.state.LastFailure.Add(b.Delay())
}

// Ready reports whether a new attempt is allowed now.
func (b *Backoff) Ready() bool {
	return !b.now().Before(b.Until())
}

// RecordFailure bumps the counter and persists it.
func (b *Backoff) RecordFailure() error {
	b.state.Failures++
	b.state.LastFailure = b.now()

	return b.persist()
}

// Reset clears the counter after a successful authentication and removes
// the persisted file.
func (b *Backoff) Reset() error {
	b.state = backoffState{}

	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sync: clearing back-off state: %w", err)
	}

	return nil
}

// Failures returns the consecutive failure count.
func (b *Backoff) Failures() int {
	return b.state.Failures
}

func (b *Backoff) persist() error {
	data, err := json.Marshal(b.state)
	if err != nil {
		return fmt.Errorf("sync: encoding back-off state: %w", err)
	}

	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("sync: writing back-off state: %w", err)
	}

	return nil
}
