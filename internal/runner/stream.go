package runner

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// errAttemptTimeout marks one attempt exceeding its budget. The run loop
// converts the final occurrence into a command_timeout RunError.
var errAttemptTimeout = errors.New("attempt timed out")

// streamResult carries the raw process outcome of one attempt.
type streamResult struct {
	stdout     string
	stderr     string
	returncode int
}

// StreamFunc receives live output chunks. stream is "stdout" or "stderr".
// Calls are serialized.
type StreamFunc func(stream, chunk string)

// runStreaming executes one attempt, feeding stdin and forwarding output
// chunks as they arrive. A nil onStream collects silently.
func runStreaming(ctx context.Context, argv []string, runtimeInput, cwd string, timeout time.Duration, onStream StreamFunc) (*streamResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Stdin = strings.NewReader(runtimeInput)
	cmd.WaitDelay = time.Second // Allow I/O to drain after context cancellation

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var (
		streamMu sync.Mutex
		stdout   strings.Builder
		stderr   strings.Builder
		wg       sync.WaitGroup
	)
	forward := func(name string, r io.Reader, sink *strings.Builder) {
		defer wg.Done()
		buf := make([]byte, 4096)
		for {
			n, readErr := r.Read(buf)
			if n > 0 {
				chunk := string(buf[:n])
				streamMu.Lock()
				sink.WriteString(chunk)
				if onStream != nil {
					onStream(name, chunk)
				}
				streamMu.Unlock()
			}
			if readErr != nil {
				return
			}
		}
	}
	wg.Add(2)
	go forward("stdout", stdoutPipe, &stdout)
	go forward("stderr", stderrPipe, &stderr)
	wg.Wait()

	waitErr := cmd.Wait()

	// Caller cancellation outranks the attempt deadline.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if attemptCtx.Err() != nil {
		return nil, errAttemptTimeout
	}

	result := &streamResult{stdout: stdout.String(), stderr: stderr.String()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.returncode = exitErr.ExitCode()
			return result, nil
		}
		return nil, waitErr
	}
	return result, nil
}

// isNotFoundErr reports whether a start failure means the executable does
// not exist.
func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) && errors.Is(pathErr.Err, fs.ErrNotExist)
}
