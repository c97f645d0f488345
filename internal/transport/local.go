package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// LocalTarget is the implicit target of checks without a selector.
const LocalTarget = "local"

// Local runs commands on this host. It only ever answers for LocalTarget.
type Local struct {
	scriptsDir string
	logger     *slog.Logger
}

// NewLocal creates a Local transport resolving file:// scripts against
// scriptsDir.
func NewLocal(scriptsDir string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{scriptsDir: scriptsDir, logger: logger}
}

func (l *Local) ResolveTargets(context.Context, string, string) ([]string, error) {
	return []string{LocalTarget}, nil
}

func (l *Local) Dispatch(ctx context.Context, _, _ string, command map[string]any, timeout time.Duration) (map[string]Response, error) {
	cmd, err := ParseCommand(command)
	if err != nil {
		return nil, err
	}

	opts := ExecOpts{
		Shell:   cmd.Cmd,
		Dir:     cmd.Cwd,
		Env:     cmd.Environ(),
		Timeout: timeout,
	}
	if cmd.Script != "" {
		if opts.Path, err = ResolveScript(cmd.Script, l.scriptsDir); err != nil {
			return nil, err
		}
	}

	res, err := Exec(ctx, opts)
	if errors.Is(err, ErrTimeout) {
		l.logger.Warn("local command timed out", "timeout", timeout)
		return map[string]Response{}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]Response{
		LocalTarget: {ReturnCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr},
	}, nil
}
