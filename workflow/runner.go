package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// Command is one process invocation of a step.
type Command struct {
	Script string
	Dir    string
	Env    []string
	// MaxOutput caps the retained bytes of each stream; 0 keeps everything.
	MaxOutput int
}

// CommandResult holds what a finished process left behind.
type CommandResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
}

// Runner executes step commands. A non-zero exit is reported through
// ExitCode with a nil error; the error is reserved for processes that could
// not start or were cut short by ctx.
type Runner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}

// ShellRunner runs scripts through a shell in their own process group, so a
// timeout kills the whole tree the step spawned.
type ShellRunner struct {
	Shell []string
	// WaitDelay bounds how long Run waits for output pipes after the
	// process was killed.
	WaitDelay time.Duration
}

// DefaultShell returns the platform shell invocation.
func DefaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"sh", "-c"}
}

// NewShellRunner creates a runner using shell, or DefaultShell when empty.
func NewShellRunner(shell []string) *ShellRunner {
	if len(shell) == 0 {
		shell = DefaultShell()
	}
	return &ShellRunner{Shell: shell, WaitDelay: 5 * time.Second}
}

// Run implements Runner.
func (r *ShellRunner) Run(ctx context.Context, c Command) (CommandResult, error) {
	args := append(append([]string(nil), r.Shell[1:]...), c.Script)
	cmd := exec.CommandContext(ctx, r.Shell[0], args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.WaitDelay = r.WaitDelay
	configureProcess(cmd)

	stdout := &cappedBuffer{max: c.MaxOutput}
	stderr := &cappedBuffer{max: c.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	res := CommandResult{
		ExitCode:  -1,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("command interrupted: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return res, nil
	}
	return res, fmt.Errorf("start command: %w", err)
}

// cappedBuffer keeps at most max bytes and swallows the rest so the child
// never blocks on a full pipe.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
