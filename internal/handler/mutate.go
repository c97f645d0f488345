package handler

import (
	"context"

	"github.com/sznuper/overwatch/internal/check"
)

type mutateParams struct {
	PromoteAfter int `mapstructure:"promote_after" validate:"min=0"`
	DemoteUntil  int `mapstructure:"demote_until" validate:"min=0"`
}

// mutate rewrites the effective return code of a result. It has no alert
// variant: alert handlers work on statuses that are already decided.
type mutate struct {
	promoteAfter int
	demoteUntil  int
}

func mutateSpec() Spec {
	return Spec{
		Name: "mutate",
		Doc:  "Promote a WARN to ERROR once it repeated promote_after times, or demote an ERROR to WARN while it repeated at most demote_until times.",
		New: func(p Params) (Handler, error) {
			var mp mutateParams
			if err := decode(p, &mp); err != nil {
				return nil, check.Invalidf("mutate", "%v", err)
			}
			if mp.PromoteAfter == 0 && mp.DemoteUntil == 0 {
				return nil, check.Invalidf("mutate", "one of promote_after or demote_until is required")
			}
			return &mutate{promoteAfter: mp.PromoteAfter, demoteUntil: mp.DemoteUntil}, nil
		},
	}
}

func (m *mutate) Handle(_ context.Context, env *Env) (Verdict, error) {
	r := env.Result

	switch r.Status() {
	case check.Warn:
		if m.promoteAfter > 0 && r.Count >= m.promoteAfter {
			r.ReturnCode = 2
			env.Logger.Debug("promoted to error", "count", r.Count)
		}
	case check.Error:
		if m.demoteUntil > 0 && r.Count <= m.demoteUntil {
			r.ReturnCode = 1
			env.Logger.Debug("demoted to warning", "count", r.Count)
		}
	}
	return Continue, nil
}
