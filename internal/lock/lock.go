// Package lock provides the single-instance file lock used by the
// automation drivers. The lock file holds the owner PID on the first
// line and an ISO timestamp on the second; extra lines are ignored so
// the format can grow without breaking old readers. A lock whose owner
// process is no longer alive is stale and may be reclaimed.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AlreadyHeldError reports that another live process holds the lock.
type AlreadyHeldError struct {
	Path string
	PID  int
}

func (e *AlreadyHeldError) Error() string {
	return fmt.Sprintf("lock %s already held by pid %d", e.Path, e.PID)
}

// Info is the parsed content of a lock file.
type Info struct {
	PID       int
	StartedAt time.Time
}

// FileLock guards one lock file path.
type FileLock struct {
	path  string
	pid   func() int
	alive func(pid int) bool
	clock func() time.Time
}

// Option configures a FileLock.
type Option func(*FileLock)

// WithPID replaces the own-PID source, mainly for tests.
func WithPID(pid func() int) Option {
	return func(l *FileLock) {
		l.pid = pid
	}
}

// WithLivenessProbe replaces the PID liveness probe, mainly for tests.
func WithLivenessProbe(alive func(pid int) bool) Option {
	return func(l *FileLock) {
		l.alive = alive
	}
}

// WithClock replaces the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *FileLock) {
		l.clock = clock
	}
}

// New creates a FileLock for path. Nothing is acquired yet.
func New(path string, opts ...Option) *FileLock {
	l := &FileLock{
		path:  path,
		pid:   os.Getpid,
		alive: ProcessAlive,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock, reclaiming a stale one when its owner is dead.
// Returns *AlreadyHeldError when a live process holds it.
func (l *FileLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := l.tryCreate(); err == nil {
		return nil
	} else if !os.IsExist(err) {
		return fmt.Errorf("create lock %s: %w", l.path, err)
	}

	info, err := l.Read()
	if err != nil {
		// Unreadable or malformed lock files are treated as stale.
		info = nil
	}
	// Any live holder counts, our own PID included: a second driver in
	// the same process must not steal the lock.
	if info != nil && info.PID > 0 && l.alive(info.PID) {
		return &AlreadyHeldError{Path: l.path, PID: info.PID}
	}

	// Stale: reclaim by removing and recreating exclusively. A
	// concurrent acquirer may win the race; report it as held in that
	// case.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale lock %s: %w", l.path, err)
	}
	if err := l.tryCreate(); err != nil {
		if os.IsExist(err) {
			holder := 0
			if again, readErr := l.Read(); readErr == nil && again != nil {
				holder = again.PID
			}
			return &AlreadyHeldError{Path: l.path, PID: holder}
		}
		return fmt.Errorf("create lock %s: %w", l.path, err)
	}
	return nil
}

// tryCreate writes the lock payload via O_CREATE|O_EXCL.
func (l *FileLock) tryCreate() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	payload := fmt.Sprintf("%d\n%s\n", l.pid(), l.clock().Format(time.RFC3339))
	_, writeErr := f.WriteString(payload)
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(l.path)
		return writeErr
	}
	if closeErr != nil {
		os.Remove(l.path)
		return closeErr
	}
	return nil
}

// Read parses the lock file. Returns (nil, nil) when it does not exist.
func (l *FileLock) Read() (*Info, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("lock %s: empty", l.path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("lock %s: bad pid line: %w", l.path, err)
	}
	info := &Info{PID: pid}
	if len(lines) > 1 {
		if ts, parseErr := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); parseErr == nil {
			info.StartedAt = ts
		}
	}
	return info, nil
}

// Release removes the lock only while it still records our PID, so a
// reclaimed lock owned by someone else is never deleted.
func (l *FileLock) Release() error {
	info, err := l.Read()
	if err != nil || info == nil {
		return err
	}
	if info.PID != l.pid() {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
