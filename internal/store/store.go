// Package store persists per-(target, check) state: results, alert
// records, enable toggles and the last return code seen by each handler slot.
package store

import (
	"context"
	"errors"

	"github.com/sznuper/overwatch/internal/check"
)

// ErrNotFound is returned when a (target, check) pair has no stored result.
var ErrNotFound = errors.New("not found")

// Filter narrows ListResults; empty fields match everything.
type Filter struct {
	Target string
	Check  string
}

func (f Filter) match(target, name string) bool {
	return (f.Target == "" || f.Target == target) && (f.Check == "" || f.Check == name)
}

// Store is the single shared mutable resource of the engine. Writes are
// scoped to one (target, check) key and Record is atomic per key.
type Store interface {
	// Get returns the stored result or ErrNotFound.
	Get(ctx context.Context, target, name string) (*check.Result, error)
	// Record advances the stored state with a new observation and returns
	// the new result with Previous set.
	Record(ctx context.Context, target, name string, obs check.Observation) (*check.Result, error)
	Upsert(ctx context.Context, r *check.Result) error
	SetAlertStatus(ctx context.Context, target, name string, s check.Status) error
	ListResults(ctx context.Context, f Filter) ([]*check.Result, error)

	IsTargetEnabled(ctx context.Context, target string) (bool, error)
	IsCheckEnabled(ctx context.Context, name string) (bool, error)
	IsTargetCheckEnabled(ctx context.Context, target, name string) (bool, error)
	SetTargetEnabled(ctx context.Context, target string, enabled bool) error
	SetCheckEnabled(ctx context.Context, name string, enabled bool) error
	SetTargetCheckEnabled(ctx context.Context, target, name string, enabled bool) error

	// LastHandlerReturnCode defaults to 0 for slots never seen.
	LastHandlerReturnCode(ctx context.Context, target, name, handlerID string) (int, error)
	SetLastHandlerReturnCode(ctx context.Context, target, name, handlerID string, code int) error

	AddAlert(ctx context.Context, a check.Alert) error
	RemoveAlert(ctx context.Context, target, name string) error
	ListAlerts(ctx context.Context) ([]check.Alert, error)

	// ResetCheck forgets results, alerts and handler state of a check.
	ResetCheck(ctx context.Context, name string) error
	// DeleteTarget forgets everything stored about a target.
	DeleteTarget(ctx context.Context, target string) error
	// Prune drops state whose check or target is not in the given sets.
	// A nil set skips that dimension. It returns the number of results removed.
	Prune(ctx context.Context, checks, targets []string) (int, error)

	Close() error
}
