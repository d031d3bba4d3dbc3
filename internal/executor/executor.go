// Package executor spawns session commands as direct child processes.
//
// Commands are tokenized with shell-word rules (quoting and escaping are
// honored) and the resulting argv is executed without any shell in
// between, so shell operators like ;, | and $() carry no meaning and
// cannot be used for injection. Each process runs in its own process
// group, output is streamed as it arrives, and a wall-clock timeout kills
// the group while the caller immediately receives a timed-out result with
// whatever output was captured.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

// Output stream names passed to OutputFunc and recorded in session
// history.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// readBufSize is the chunk size for draining process pipes.
const readBufSize = 32 * 1024

// killGrace is how long a process group gets between SIGTERM and SIGKILL.
const killGrace = 3 * time.Second

// ErrInvalidCommand reports a command line that cannot be executed at
// all: empty, or malformed shell-word quoting.
var ErrInvalidCommand = errors.New("invalid command")

// SpawnError reports that the process could not be started (missing
// binary, permission denied, bad working directory).
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn command: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// OutputFunc receives chunks of process output as they arrive. stream is
// StreamStdout or StreamStderr.
type OutputFunc func(stream, data string)

// Request describes a single execution.
type Request struct {
	Command  string            // raw command line
	Dir      string            // working directory, inherited when empty
	Env      map[string]string // extra variables on top of the service env
	Timeout  time.Duration     // requested timeout, clamped by the runner
	OnOutput OutputFunc        // optional streaming callback
}

// Result is the outcome of a finished execution. A timeout is reported
// here, not as an error: TimedOut is set, Success is false and ExitCode
// is nil because the process was killed before it could exit on its own.
type Result struct {
	Command    string    `json:"command"`
	ExitCode   *int      `json:"exit_code"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	TimedOut   bool      `json:"timed_out"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Runner executes commands with a default and a maximum timeout. The
// zero value is not usable; construct with NewRunner.
type Runner struct {
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	spawns         atomic.Int64
}

// NewRunner creates a Runner. Non-positive arguments fall back to 30s
// default / 5m maximum, and the default is capped at the maximum.
func NewRunner(defaultTimeout, maxTimeout time.Duration) *Runner {
	if maxTimeout <= 0 {
		maxTimeout = 5 * time.Minute
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if defaultTimeout > maxTimeout {
		defaultTimeout = maxTimeout
	}
	return &Runner{
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
	}
}

// EffectiveTimeout resolves a requested timeout: non-positive uses the
// default, anything above the maximum is clamped down to it.
func (r *Runner) EffectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return r.defaultTimeout
	}
	if requested > r.maxTimeout {
		return r.maxTimeout
	}
	return requested
}

// SpawnCount returns how many processes this runner has started. Commands
// rejected before spawn do not count.
func (r *Runner) SpawnCount() int64 {
	return r.spawns.Load()
}

// Tokenize splits a command line into argv with shell-word rules. No
// shell ever runs; this only reproduces its word splitting and quoting.
func Tokenize(command string) ([]string, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	return argv, nil
}

// Run executes req and blocks until the process exits, the timeout
// fires, or ctx is canceled. On timeout or cancellation the process
// group is signaled and the result is finalized immediately with the
// output captured so far; reaping continues in the background.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	argv, err := Tokenize(req.Command)
	if err != nil {
		return nil, err
	}

	timeout := r.EffectiveTimeout(req.Timeout)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.Dir
	cmd.Env = os.Environ()
	for name, value := range req.Env {
		cmd.Env = append(cmd.Env, name+"="+value)
	}
	// Own process group so kill signals reach children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Err: err}
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Err: err}
	}
	r.spawns.Add(1)

	var out capture
	var readers sync.WaitGroup
	readers.Add(2)
	go relay(stdout, StreamStdout, &out, req.OnOutput, &readers)
	go relay(stderr, StreamStderr, &out, req.OnOutput, &readers)

	// Pipes must be fully drained before Wait.
	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-waitCh:
		res := out.finalize(req.Command, started, false)
		if waitErr == nil {
			code := 0
			res.ExitCode = &code
			res.Success = true
			return res, nil
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			res.ExitCode = &code
			return res, nil
		}
		return nil, fmt.Errorf("wait for command: %w", waitErr)

	case <-timer.C:
		killGroup(cmd)
		res := out.finalize(req.Command, started, true)
		go func() { <-waitCh }()
		return res, nil

	case <-ctx.Done():
		killGroup(cmd)
		res := out.finalize(req.Command, started, false)
		go func() { <-waitCh }()
		return res, nil
	}
}

// killGroup sends SIGTERM to the command's process group and escalates
// to SIGKILL after the grace period. ESRCH from an already-gone group is
// harmless.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return
	}
	go func() {
		time.Sleep(killGrace)
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	}()
}

// relay drains one pipe into the capture buffer, forwarding each chunk
// to the streaming callback. Runs until the pipe closes.
func relay(pipe io.Reader, stream string, out *capture, fn OutputFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, readBufSize)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			data := string(buf[:n])
			out.append(stream, data)
			if fn != nil {
				fn(stream, data)
			}
		}
		if err != nil {
			return
		}
	}
}

// capture accumulates process output. The relay goroutines may still be
// writing when a timed-out result is finalized, so access is locked.
type capture struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
}

func (c *capture) append(stream, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stream == StreamStderr {
		c.stderr.WriteString(data)
		return
	}
	c.stdout.WriteString(data)
}

func (c *capture) finalize(command string, started time.Time, timedOut bool) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Result{
		Command:    command,
		Stdout:     strings.TrimSpace(c.stdout.String()),
		Stderr:     strings.TrimSpace(c.stderr.String()),
		TimedOut:   timedOut,
		DurationMs: time.Since(started).Milliseconds(),
		Timestamp:  started,
	}
}
