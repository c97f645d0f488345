package handler

import (
	"context"
	"fmt"

	"github.com/sznuper/overwatch/internal/check"
)

type forkParams struct {
	Handlers   any            `mapstructure:"handlers" validate:"required"`
	RenderArgs map[string]any `mapstructure:"render_args"`
}

// fork runs a sub-list with its own handler ids and extra render
// variables. A halt inside the branch stays inside the branch.
type fork struct {
	handlers   []check.Invocation
	renderArgs map[string]any
}

func forkSpec() Spec {
	return Spec{
		Name: "fork",
		Doc:  "Run a nested handler list with extra render_args. A halt in the branch does not stop the parent list.",
		New: func(p Params) (Handler, error) {
			return newFork(p)
		},
		NewBatch: func(p Params) (BatchHandler, error) {
			return newFork(p)
		},
	}
}

func newFork(p Params) (*fork, error) {
	var fp forkParams
	if err := decode(p, &fp); err != nil {
		return nil, check.Invalidf("fork", "%v", err)
	}
	list, err := check.ParseInvocations(fp.Handlers)
	if err != nil {
		return nil, check.Invalidf("fork", "handlers: %v", err)
	}
	return &fork{handlers: list, renderArgs: fp.RenderArgs}, nil
}

func (f *fork) nested() []check.Invocation { return f.handlers }

func (*fork) runsSubList() {}

func (f *fork) Handle(ctx context.Context, env *Env) (Verdict, error) {
	args, err := renderVars(f.renderArgs, env.Data)
	if err != nil {
		return Halt, fmt.Errorf("render_args: %w", err)
	}
	env.Logger.Debug("forking", "handlers", len(f.handlers))
	env.Pipeline.run(ctx, env.Check, env.Result, f.handlers, env.ID, mergeVars(env.Vars, args))
	return Continue, nil
}

func (f *fork) HandleBatch(ctx context.Context, b *Batch) ([]*check.Result, error) {
	args, err := renderVars(f.renderArgs, b.Data)
	if err != nil {
		return nil, fmt.Errorf("render_args: %w", err)
	}
	opts := BatchOptions{MarkedResolved: b.MarkedResolved, User: b.User}
	b.Pipeline.runBatch(ctx, b.Check, b.Status, b.Results, f.handlers, b.ID, mergeVars(b.Vars, args), opts)
	return nil, nil
}

// aliasHandler forks into a configured alias. Caller params override the
// alias defaults and both become render variables of the branch.
type aliasHandler struct {
	reg  *Registry
	name string
	args Params
}

func aliasSpec(reg *Registry) Spec {
	build := func(p Params) (*aliasHandler, error) {
		args := make(Params, len(p))
		var name string
		for k, v := range p {
			if k == "name" {
				name, _ = v.(string)
				continue
			}
			args[k] = v
		}
		if name == "" {
			return nil, check.Invalidf("alias", "name is required")
		}
		return &aliasHandler{reg: reg, name: name, args: args}, nil
	}
	return Spec{
		Name: "alias",
		Doc:  "Run the handler list of the alias given by name; other params become render variables.",
		New: func(p Params) (Handler, error) {
			return build(p)
		},
		NewBatch: func(p Params) (BatchHandler, error) {
			return build(p)
		},
	}
}

func (*aliasHandler) runsSubList() {}

func (a *aliasHandler) resolve(data map[string]any, inherited map[string]any) (Alias, map[string]any, error) {
	alias, err := a.reg.Alias(a.name)
	if err != nil {
		return Alias{}, nil, err
	}
	defaults, err := renderVars(alias.Args, data)
	if err != nil {
		return Alias{}, nil, fmt.Errorf("alias %s args: %w", a.name, err)
	}
	return alias, mergeVars(inherited, defaults, a.args), nil
}

func (a *aliasHandler) Handle(ctx context.Context, env *Env) (Verdict, error) {
	alias, vars, err := a.resolve(env.Data, env.Vars)
	if err != nil {
		return Halt, err
	}
	env.Pipeline.run(ctx, env.Check, env.Result, alias.Handlers, env.ID, vars)
	return Continue, nil
}

func (a *aliasHandler) HandleBatch(ctx context.Context, b *Batch) ([]*check.Result, error) {
	alias, vars, err := a.resolve(b.Data, b.Vars)
	if err != nil {
		return nil, err
	}
	opts := BatchOptions{MarkedResolved: b.MarkedResolved, User: b.User}
	b.Pipeline.runBatch(ctx, b.Check, b.Status, b.Results, alias.Handlers, b.ID, vars, opts)
	return nil, nil
}
