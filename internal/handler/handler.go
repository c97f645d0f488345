// Package handler runs the chain of side-effecting handlers a check result
// flows through, and the alert handler lists run on raise and resolve.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sznuper/overwatch/internal/check"
)

// Verdict is what a per-result handler tells the pipeline.
type Verdict int

const (
	// Continue passes the result on to the next handler.
	Continue Verdict = iota
	// Halt stops the chain. No alert transition happens for this cycle.
	Halt
)

func (v Verdict) String() string {
	if v == Halt {
		return "halt"
	}
	return "continue"
}

var (
	// ErrUnknownHandler is returned by Registry.Lookup for names that are
	// neither a handler nor an alias. The pipeline contains it as a halt.
	ErrUnknownHandler = errors.New("unknown handler")
	// ErrUnknownAlias is returned when the alias handler names an alias
	// that is not configured.
	ErrUnknownAlias = errors.New("unknown alias")
)

// ExecutionError is a contained handler failure: a returned error, a
// template error, a panic or a timeout.
type ExecutionError struct {
	Handler string
	ID      string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("handler %s (%s): %v", e.Handler, e.ID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Params are the rendered parameters of one invocation.
type Params map[string]any

// Env is everything a per-result handler may look at.
type Env struct {
	Check  *check.Check
	Result *check.Result
	// ID is the handler slot, unique within the check's handler tree.
	ID string
	// Data is the render context the params were rendered against.
	Data map[string]any
	// Vars are extra render variables inherited from fork or alias.
	Vars     map[string]any
	State    StateStore
	Pipeline *Pipeline
	Logger   *slog.Logger
}

// Batch is what an alert handler sees: every pair of one check that moved
// to Status in the same cycle.
type Batch struct {
	Check          *check.Check
	Status         check.Status
	Results        []*check.Result
	MarkedResolved bool
	User           string
	ID             string
	Data           map[string]any
	Vars           map[string]any
	State          StateStore
	Pipeline       *Pipeline
	Logger         *slog.Logger
}

// Targets lists the targets of the batch in order.
func (b *Batch) Targets() []string {
	out := make([]string, len(b.Results))
	for i, r := range b.Results {
		out[i] = r.Target
	}
	return out
}

// Handler processes a single result.
type Handler interface {
	Handle(ctx context.Context, env *Env) (Verdict, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *Env) (Verdict, error)

func (f HandlerFunc) Handle(ctx context.Context, env *Env) (Verdict, error) { return f(ctx, env) }

// BatchHandler processes an alert batch. A nil slice passes the batch on
// unchanged, a non-nil slice replaces it, and an empty one absorbs it.
type BatchHandler interface {
	HandleBatch(ctx context.Context, b *Batch) ([]*check.Result, error)
}

// BatchFunc adapts a function to BatchHandler.
type BatchFunc func(ctx context.Context, b *Batch) ([]*check.Result, error)

func (f BatchFunc) HandleBatch(ctx context.Context, b *Batch) ([]*check.Result, error) {
	return f(ctx, b)
}

// Spec describes a registered handler. New builds the per-result variant
// and NewBatch the alert variant; either may be nil when unsupported.
type Spec struct {
	Name     string
	Doc      string
	New      func(Params) (Handler, error)
	NewBatch func(Params) (BatchHandler, error)
}

// StateStore keeps the last return code seen by each handler slot.
type StateStore interface {
	LastHandlerReturnCode(ctx context.Context, target, name, handlerID string) (int, error)
	SetLastHandlerReturnCode(ctx context.Context, target, name, handlerID string, code int) error
}
