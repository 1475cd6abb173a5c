// Package process runs external executables with a bounded timeout.
//
// Exit codes are reported, not interpreted: a decompiler that exits 1 after
// writing every file is common, so callers decide success from evidence on
// disk. Only two conditions are errors here: the process could not be
// started (ErrStart) and the process outlived its timeout (ErrTimedOut).
package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

var (
	ErrTimedOut = errors.New("process: timed out")
	ErrStart    = errors.New("process: cannot start")
)

// ExitCodeNotStarted is reported when the executable could not be launched.
const ExitCodeNotStarted = 127

// DefaultMaxOutput bounds the captured tail of stdout and stderr.
const DefaultMaxOutput = 64 << 10

// Request describes one invocation.
type Request struct {
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Result is what a finished (or abandoned) process left behind.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Invoker abstracts process execution so callers can be tested without
// real binaries.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// ExecInvoker runs processes on the local host via os/exec.
type ExecInvoker struct {
	// MaxOutput is the number of trailing bytes kept per stream.
	// Zero means DefaultMaxOutput.
	MaxOutput int
}

// Invoke starts req.Path and waits for it, killing its process group when
// the timeout elapses or ctx is cancelled.
func (e ExecInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	parent := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	limit := e.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	stdout := newTailBuffer(limit)
	stderr := newTailBuffer(limit)

	cmd := exec.CommandContext(ctx, req.Path, req.Args...)
	cmd.Dir = req.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: ExitCodeNotStarted, Duration: time.Since(start)},
			fmt.Errorf("%w: %s: %v", ErrStart, req.Path, err)
	}
	waitErr := cmd.Wait()

	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err := parent.Err(); err != nil {
		return result, err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%w after %s: %s", ErrTimedOut, req.Timeout, req.Path)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return result, fmt.Errorf("wait %s: %w", req.Path, waitErr)
	}
	return result, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= b.limit {
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		return n, nil
	}
	if over := len(b.buf) + n - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) Bytes() []byte {
	return b.buf
}
