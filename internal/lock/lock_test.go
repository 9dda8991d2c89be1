package lock

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestAcquire_WritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	h, err := Acquire(path, testLogger())
	require.NoError(t, err)
	defer h.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquire_Contention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	first, err := Acquire(path, testLogger())
	require.NoError(t, err)
	defer first.Release()

	second, err := Acquire(path, testLogger())
	require.Error(t, err)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrAlreadyLocked)
	assert.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))
}

func TestRelease_AllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	first, err := Acquire(path, testLogger())
	require.NoError(t, err)
	first.Release()

	assert.NoFileExists(t, path)

	second, err := Acquire(path, testLogger())
	require.NoError(t, err)
	second.Release()
}

func TestRelease_NilSafe(t *testing.T) {
	var h *Handle

	assert.NotPanics(t, func() { h.Release() })
}

func TestAcquire_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "test.lock")

	h, err := Acquire(path, testLogger())
	require.NoError(t, err)
	defer h.Release()

	assert.FileExists(t, path)
}
