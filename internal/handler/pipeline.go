package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sznuper/overwatch/internal/check"
)

// DefaultTimeout bounds a single handler call.
const DefaultTimeout = 30 * time.Second

// Base ids of the alert handler lists.
const (
	RaisedID   = "raised"
	ResolvedID = "resolved"
)

// Pipeline executes handler lists. Failures are logged and turned into a
// halt; they never reach the caller.
type Pipeline struct {
	registry atomic.Pointer[Registry]
	state    StateStore
	logger   *slog.Logger
	timeout  time.Duration
}

// NewPipeline creates a Pipeline. A zero timeout uses DefaultTimeout.
func NewPipeline(reg *Registry, state StateStore, logger *slog.Logger, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{state: state, logger: logger, timeout: timeout}
	p.registry.Store(reg)
	return p
}

// Registry returns the registry handlers are resolved from.
func (p *Pipeline) Registry() *Registry { return p.registry.Load() }

// SetRegistry swaps the registry for lists started afterwards.
func (p *Pipeline) SetRegistry(reg *Registry) { p.registry.Store(reg) }

// Run passes r through list and reports whether the chain halted.
func (p *Pipeline) Run(ctx context.Context, c *check.Check, r *check.Result, list []check.Invocation) bool {
	return p.run(ctx, c, r, list, "0", nil)
}

func (p *Pipeline) run(ctx context.Context, c *check.Check, r *check.Result, list []check.Invocation, baseID string, vars map[string]any) bool {
	log := p.logger.With("check", c.Name, "target", r.Target)

	for i, inv := range list {
		id := fmt.Sprintf("%sf%d", baseID, i)
		hlog := log.With("handler", inv.Name, "id", id)

		verdict, err := p.invoke(ctx, c, r, inv, id, vars, hlog)
		if err != nil {
			hlog.Error("handler failed", "error", err)
			return true
		}
		if err := p.state.SetLastHandlerReturnCode(ctx, r.Target, c.Name, id, r.ReturnCode); err != nil {
			hlog.Warn("saving handler state", "error", err)
		}
		if verdict == Halt {
			hlog.Debug("handler halted the chain")
			return true
		}
	}
	return false
}

func (p *Pipeline) invoke(ctx context.Context, c *check.Check, r *check.Result, inv check.Invocation, id string, vars map[string]any, log *slog.Logger) (Verdict, error) {
	fail := func(err error) (Verdict, error) {
		return Halt, &ExecutionError{Handler: inv.Name, ID: id, Err: err}
	}

	spec, err := p.Registry().Lookup(inv.Name)
	if err != nil {
		return fail(err)
	}
	if spec.New == nil {
		return fail(fmt.Errorf("handler only runs on alert batches"))
	}

	data := resultData(c, r, id, vars)
	params, err := renderParams(inv.Params, data)
	if err != nil {
		return fail(err)
	}
	h, err := spec.New(params)
	if err != nil {
		return fail(err)
	}

	env := &Env{
		Check:    c,
		Result:   r,
		ID:       id,
		Data:     data,
		Vars:     vars,
		State:    p.state,
		Pipeline: p,
		Logger:   log,
	}
	verdict, err := call(ctx, p.deadline(h), func(ctx context.Context) (Verdict, error) {
		return h.Handle(ctx, env)
	})
	if err != nil {
		return fail(err)
	}
	return verdict, nil
}

// BatchOptions carry the manual-resolution flags into alert handlers.
type BatchOptions struct {
	MarkedResolved bool
	User           string
}

// RunBatch runs an alert handler list over results that moved to status
// together. It returns the results that made it through every handler,
// or nil when the batch was absorbed or a handler failed.
func (p *Pipeline) RunBatch(ctx context.Context, c *check.Check, status check.Status, results []*check.Result, list []check.Invocation, opts BatchOptions) []*check.Result {
	baseID := RaisedID
	if status == check.OK {
		baseID = ResolvedID
	}
	return p.runBatch(ctx, c, status, results, list, baseID, nil, opts)
}

func (p *Pipeline) runBatch(ctx context.Context, c *check.Check, status check.Status, results []*check.Result, list []check.Invocation, baseID string, vars map[string]any, opts BatchOptions) []*check.Result {
	log := p.logger.With("check", c.Name, "status", status.String())

	for i, inv := range list {
		id := fmt.Sprintf("%sf%d", baseID, i)
		hlog := log.With("handler", inv.Name, "id", id)

		b := &Batch{
			Check:          c,
			Status:         status,
			Results:        results,
			MarkedResolved: opts.MarkedResolved,
			User:           opts.User,
			ID:             id,
			Vars:           vars,
			State:          p.state,
			Pipeline:       p,
			Logger:         hlog,
		}
		filtered, err := p.invokeBatch(ctx, inv, b)
		if err != nil {
			hlog.Error("alert handler failed", "error", err)
			return nil
		}
		for _, r := range results {
			if err := p.state.SetLastHandlerReturnCode(ctx, r.Target, c.Name, id, r.ReturnCode); err != nil {
				hlog.Warn("saving handler state", "target", r.Target, "error", err)
			}
		}
		if filtered != nil {
			if len(filtered) == 0 {
				hlog.Debug("alert handler absorbed the batch")
				return nil
			}
			results = filtered
		}
	}
	return results
}

func (p *Pipeline) invokeBatch(ctx context.Context, inv check.Invocation, b *Batch) ([]*check.Result, error) {
	fail := func(err error) ([]*check.Result, error) {
		return nil, &ExecutionError{Handler: inv.Name, ID: b.ID, Err: err}
	}

	spec, err := p.Registry().Lookup(inv.Name)
	if err != nil {
		return fail(err)
	}
	if spec.NewBatch == nil {
		return fail(fmt.Errorf("handler cannot run on alert batches"))
	}

	b.Data = batchData(b)
	params, err := renderParams(inv.Params, b.Data)
	if err != nil {
		return fail(err)
	}
	h, err := spec.NewBatch(params)
	if err != nil {
		return fail(err)
	}

	out, err := call(ctx, p.deadline(h), func(ctx context.Context) ([]*check.Result, error) {
		return h.HandleBatch(ctx, b)
	})
	if err != nil {
		return fail(err)
	}
	return out, nil
}

// subLister is implemented by handlers that run a nested handler list.
type subLister interface{ runsSubList() }

// deadline is the time budget of one call of h. Handlers running a nested
// list get none: every handler inside the list is bounded on its own.
func (p *Pipeline) deadline(h any) time.Duration {
	if _, ok := h.(subLister); ok {
		return 0
	}
	return p.timeout
}

// call runs fn on its own goroutine, converting a panic into an error and
// giving up once timeout elapses. A zero timeout only follows ctx.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("handler did not return: %w", ctx.Err())
	}
}
