package handler

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/rangespec"
)

type absorbParams struct {
	Success          *bool  `mapstructure:"success"`
	Warn             *bool  `mapstructure:"warn"`
	Error            *bool  `mapstructure:"error"`
	OnlyChange       bool   `mapstructure:"only_change"`
	OnlyChangeStatus bool   `mapstructure:"only_change_status"`
	Count            int    `mapstructure:"count" validate:"min=0"`
	SuccessCount     int    `mapstructure:"success_count" validate:"min=0"`
	OutMatch         string `mapstructure:"out_match"`
	ErrMatch         string `mapstructure:"err_match"`
	OutErrMatch      string `mapstructure:"out_err_match"`
	Retcodes         string `mapstructure:"retcodes"`
}

// absorb drops results matching any of its filters. Filters are checked
// in a fixed order and the first one that decides wins.
type absorb struct {
	success, warn, errGate *bool
	onlyChange             bool
	onlyChangeStatus       bool
	count, successCount    int
	outRe, errRe, outErrRe *regexp.Regexp
	retcodes               rangespec.Spec
}

func absorbSpec() Spec {
	return Spec{
		Name: "absorb",
		Doc:  "Stop the chain for results matching a filter: status gates, only_change, only_change_status, count, success_count, out_match, err_match, out_err_match, retcodes.",
		New: func(p Params) (Handler, error) {
			return newAbsorb(p)
		},
		NewBatch: func(p Params) (BatchHandler, error) {
			return newAbsorb(p)
		},
	}
}

func newAbsorb(p Params) (*absorb, error) {
	var ap absorbParams
	if err := decode(p, &ap); err != nil {
		return nil, check.Invalidf("absorb", "%v", err)
	}
	if ap.Count > 1 && (ap.OnlyChange || ap.OnlyChangeStatus) {
		return nil, check.Invalidf("absorb", "count > 1 with only_change or only_change_status absorbs everything")
	}

	a := &absorb{
		success:          ap.Success,
		warn:             ap.Warn,
		errGate:          ap.Error,
		onlyChange:       ap.OnlyChange,
		onlyChangeStatus: ap.OnlyChangeStatus,
		count:            ap.Count,
		successCount:     ap.SuccessCount,
	}
	var err error
	if a.outRe, err = compileMatch("out_match", ap.OutMatch); err != nil {
		return nil, err
	}
	if a.errRe, err = compileMatch("err_match", ap.ErrMatch); err != nil {
		return nil, err
	}
	if a.outErrRe, err = compileMatch("out_err_match", ap.OutErrMatch); err != nil {
		return nil, err
	}
	if a.retcodes, err = rangespec.Parse(ap.Retcodes); err != nil {
		return nil, check.Invalidf("absorb", "retcodes: %v", err)
	}
	return a, nil
}

// compileMatch anchors the expression at the start of the text.
func compileMatch(param, expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(`^(?:` + expr + `)`)
	if err != nil {
		return nil, check.Invalidf("absorb", "%s: %v", param, err)
	}
	return re, nil
}

func (a *absorb) Handle(ctx context.Context, env *Env) (Verdict, error) {
	absorbed, err := a.absorbs(ctx, env.State, env.Check.Name, env.ID, env.Result)
	if err != nil {
		return Halt, err
	}
	if absorbed {
		return Halt, nil
	}
	return Continue, nil
}

// HandleBatch keeps the results the filters let through.
func (a *absorb) HandleBatch(ctx context.Context, b *Batch) ([]*check.Result, error) {
	kept := make([]*check.Result, 0, len(b.Results))
	for _, r := range b.Results {
		absorbed, err := a.absorbs(ctx, b.State, b.Check.Name, b.ID, r)
		if err != nil {
			return nil, err
		}
		if !absorbed {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// absorbs is a pure function of the result and the slot's stored state.
func (a *absorb) absorbs(ctx context.Context, state StateStore, name, id string, r *check.Result) (bool, error) {
	// A gate set to true absorbs the status outright, false never absorbs it.
	switch r.Status() {
	case check.OK:
		if a.success != nil {
			return *a.success, nil
		}
	case check.Warn:
		if a.warn != nil {
			return *a.warn, nil
		}
	default:
		if a.errGate != nil {
			return *a.errGate, nil
		}
	}

	if a.onlyChange || a.onlyChangeStatus {
		last, err := state.LastHandlerReturnCode(ctx, r.Target, name, id)
		if err != nil {
			return false, fmt.Errorf("reading last return code: %w", err)
		}
		if a.onlyChange && r.ReturnCode == last {
			return true, nil
		}
		if a.onlyChangeStatus && r.Status() == check.Normalize(last) {
			return true, nil
		}
	}

	if r.Status() == check.OK {
		if r.Count < a.successCount {
			return true, nil
		}
	} else if r.Count < a.count {
		return true, nil
	}

	if a.outRe != nil && a.outRe.MatchString(r.Stdout) {
		return true, nil
	}
	if a.errRe != nil && a.errRe.MatchString(r.Stderr) {
		return true, nil
	}
	if a.outErrRe != nil && (a.outErrRe.MatchString(r.Stdout) || a.outErrRe.MatchString(r.Stderr)) {
		return true, nil
	}

	return a.retcodes.Contains(r.ReturnCode), nil
}
