package check

import (
	"time"

	"github.com/google/uuid"
)

// Observation is one raw answer from a target.
type Observation struct {
	ReturnCode int
	Stdout     string
	Stderr     string
	At         time.Time
}

// Result is the mutable state of one (target, check) pair.
type Result struct {
	Target string `json:"target"`
	Check  string `json:"check"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// ReturnCode is the effective code; handlers such as mutate may rewrite it.
	ReturnCode int `json:"retcode"`
	// RawReturnCode is the code the transport reported for this cycle.
	RawReturnCode int       `json:"raw_retcode"`
	Count         int       `json:"count"`
	LastRun       time.Time `json:"last_run"`
	AlertStatus   Status    `json:"alert_status"`
	Enabled       bool      `json:"enabled"`

	// Previous is the state before this cycle. It is only set while the
	// result flows through the handler pipeline and is never persisted.
	Previous *Result `json:"-"`
}

// Key identifies a (target, check) pair.
type Key struct {
	Target string `json:"target"`
	Check  string `json:"check"`
}

// Key returns the pair this result belongs to.
func (r *Result) Key() Key { return Key{Target: r.Target, Check: r.Check} }

// Status is the normalized status of the effective return code.
func (r *Result) Status() Status { return Normalize(r.ReturnCode) }

// Mutated reports whether a handler rewrote the return code this cycle.
func (r *Result) Mutated() bool { return r.ReturnCode != r.RawReturnCode }

// Clone returns a copy without the Previous snapshot.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Previous = nil
	return &c
}

// Advance computes the next state of a pair from its stored state (nil for
// a first run) and a new observation. The repeat count resets to 1 whenever
// the return code differs from the stored one. A stored result rewritten by
// mutate keeps counting while the target repeats its raw code.
func Advance(prev *Result, target, name string, obs Observation) *Result {
	next := &Result{
		Target:        target,
		Check:         name,
		Stdout:        obs.Stdout,
		Stderr:        obs.Stderr,
		ReturnCode:    obs.ReturnCode,
		RawReturnCode: obs.ReturnCode,
		Count:         1,
		LastRun:       obs.At,
		AlertStatus:   OK,
		Enabled:       true,
	}
	if prev == nil {
		return next
	}
	next.Previous = prev.Clone()
	next.AlertStatus = prev.AlertStatus
	next.Enabled = prev.Enabled
	if prev.ReturnCode == obs.ReturnCode ||
		(prev.Mutated() && prev.RawReturnCode == obs.ReturnCode) {
		next.Count = prev.Count + 1
	}
	return next
}

// Alert is the audit record of a raised alert.
type Alert struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Check      string    `json:"check"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	ReturnCode int       `json:"retcode"`
	Status     Status    `json:"status"`
	Created    time.Time `json:"created"`
}

// Key returns the pair the alert belongs to.
func (a Alert) Key() Key { return Key{Target: a.Target, Check: a.Check} }

// NewAlert snapshots a result into an alert record.
func NewAlert(r *Result, at time.Time) Alert {
	return Alert{
		ID:         uuid.NewString(),
		Target:     r.Target,
		Check:      r.Check,
		Stdout:     r.Stdout,
		Stderr:     r.Stderr,
		ReturnCode: r.ReturnCode,
		Status:     r.Status(),
		Created:    at,
	}
}
