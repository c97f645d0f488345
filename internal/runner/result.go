package runner

import (
	"fmt"
	"time"

	"github.com/sznuper/overwatch/internal/check"
)

// Reasons a cycle ended without contacting any target.
const (
	SkippedDisabled  = "check disabled"
	SkippedNoTargets = "no targets matched"
)

// Outcome captures one execution cycle. Either Skipped is set and no
// target was contacted, or Results holds the final state of every
// processed target.
type Outcome struct {
	Check   string
	Skipped string
	Results map[string]*check.Result
	// Transitions lists the targets whose alert status changed, by new status.
	Transitions map[check.Status][]string
	Duration    time.Duration
}

// Ran reports whether the cycle dispatched the check.
func (o Outcome) Ran() bool { return o.Skipped == "" }

// TransportError is a failure of the dispatch itself. It aborts the cycle.
type TransportError struct {
	Check string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("check %s: transport: %v", e.Check, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
