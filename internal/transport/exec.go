package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrTimeout is returned by Exec when the command outlived its timeout.
var ErrTimeout = errors.New("timed out")

// ExecResult holds the output of a local command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
}

// ExecOpts configures local execution. Shell runs through /bin/sh -c;
// otherwise Path is executed directly.
type ExecOpts struct {
	Path    string
	Shell   string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Exec runs a command and captures its output. Non-zero exit codes are
// captured, not treated as errors. Timeouts are errors. The environment
// holds only PATH and opts.Env.
func Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if opts.Shell != "" {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", opts.Shell)
	} else {
		cmd = exec.CommandContext(ctx, opts.Path)
	}
	cmd.Dir = opts.Dir
	cmd.Env = append([]string{"PATH=" + os.Getenv("PATH")}, opts.Env...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("command %w after %s", ErrTimeout, opts.Timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("executing command: %w", err)
	}

	return result, nil
}
