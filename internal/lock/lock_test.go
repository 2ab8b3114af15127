package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLock(t *testing.T, pid int, alive func(int) bool) *FileLock {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overnight.lock")
	return New(path,
		WithPID(func() int { return pid }),
		WithLivenessProbe(alive),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC) }),
	)
}

func TestAcquireWritesPIDAndTimestamp(t *testing.T) {
	l := testLock(t, 4242, func(int) bool { return true })
	require.NoError(t, l.Acquire())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Equal(t, "4242\n2026-03-01T02:30:00Z\n", string(data))

	info, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, 4242, info.PID)
	assert.Equal(t, time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC), info.StartedAt)
}

func TestAcquireHeldByLiveProcess(t *testing.T) {
	l := testLock(t, 100, func(int) bool { return true })
	require.NoError(t, os.WriteFile(l.Path(), []byte("200\n2026-02-28T00:00:00Z\n"), 0o644))

	err := l.Acquire()
	var held *AlreadyHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, 200, held.PID)
}

func TestAcquireHeldBySameProcess(t *testing.T) {
	first := testLock(t, 100, func(int) bool { return true })
	require.NoError(t, first.Acquire())

	// A second acquirer in the same process sees the same PID; the lock
	// must still read as held, not as stale.
	second := New(first.Path(),
		WithPID(func() int { return 100 }),
		WithLivenessProbe(func(int) bool { return true }),
	)
	err := second.Acquire()
	var held *AlreadyHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, 100, held.PID)

	info, err := first.Read()
	require.NoError(t, err)
	assert.Equal(t, 100, info.PID)
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	l := testLock(t, 100, func(int) bool { return false })
	require.NoError(t, os.WriteFile(l.Path(), []byte("200\n2026-02-28T00:00:00Z\n"), 0o644))

	require.NoError(t, l.Acquire())

	info, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, 100, info.PID)
}

func TestAcquireReclaimsMalformedLock(t *testing.T) {
	l := testLock(t, 100, func(int) bool { return true })
	require.NoError(t, os.WriteFile(l.Path(), []byte("not-a-pid\n"), 0o644))

	require.NoError(t, l.Acquire())

	info, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, 100, info.PID)
}

func TestReadIgnoresExtraLines(t *testing.T) {
	l := testLock(t, 1, func(int) bool { return true })
	payload := "77\n2026-01-02T03:04:05Z\nhostname=box\nnote\n"
	require.NoError(t, os.WriteFile(l.Path(), []byte(payload), 0o644))

	info, err := l.Read()
	require.NoError(t, err)
	assert.Equal(t, 77, info.PID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), info.StartedAt)
}

func TestReleaseOnlyRemovesOwnLock(t *testing.T) {
	l := testLock(t, 100, func(int) bool { return true })
	require.NoError(t, os.WriteFile(l.Path(), []byte("200\n2026-02-28T00:00:00Z\n"), 0o644))

	require.NoError(t, l.Release())
	_, err := os.Stat(l.Path())
	assert.NoError(t, err, "foreign lock must survive release")

	require.NoError(t, os.WriteFile(l.Path(), []byte("100\n2026-02-28T00:00:00Z\n"), 0o644))
	require.NoError(t, l.Release())
	_, err = os.Stat(l.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestReleaseMissingFileIsFine(t *testing.T) {
	l := testLock(t, 100, func(int) bool { return true })
	assert.NoError(t, l.Release())
}

func TestProcessAliveSelfAndBogus(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-5))
}

func TestAcquireCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "locks", "overnight.lock")
	l := New(path, WithPID(func() int { return 9 }), WithLivenessProbe(func(int) bool { return true }))
	require.NoError(t, l.Acquire())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('9'), data[0])
}
