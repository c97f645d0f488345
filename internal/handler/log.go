package handler

import (
	"context"
	"log/slog"

	"github.com/sznuper/overwatch/internal/check"
)

func logSpec() Spec {
	return Spec{
		Name: "log",
		Doc:  "Log the result at info, warn or error level depending on its status.",
		New: func(p Params) (Handler, error) {
			if err := decode(p, &struct{}{}); err != nil {
				return nil, check.Invalidf("log", "%v", err)
			}
			return HandlerFunc(logResult), nil
		},
		NewBatch: func(p Params) (BatchHandler, error) {
			if err := decode(p, &struct{}{}); err != nil {
				return nil, check.Invalidf("log", "%v", err)
			}
			return BatchFunc(logBatch), nil
		},
	}
}

func levelFor(s check.Status) slog.Level {
	switch s {
	case check.OK:
		return slog.LevelInfo
	case check.Warn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func logResult(ctx context.Context, env *Env) (Verdict, error) {
	r := env.Result
	msg := "check succeeded"
	switch r.Status() {
	case check.Warn:
		msg = "check warning"
	case check.Error:
		msg = "check error"
	}
	env.Logger.Log(ctx, levelFor(r.Status()), msg,
		"retcode", r.ReturnCode,
		"count", r.Count,
		"stdout", r.Stdout,
		"stderr", r.Stderr,
	)
	return Continue, nil
}

func logBatch(ctx context.Context, b *Batch) ([]*check.Result, error) {
	msg := "alert raised"
	if b.Status == check.OK {
		msg = "alert resolved"
	}
	attrs := []any{"targets", b.Targets()}
	if b.MarkedResolved {
		attrs = append(attrs, "marked_resolved", true, "user", b.User)
	}
	b.Logger.Log(ctx, levelFor(b.Status), msg, attrs...)
	return nil, nil
}
