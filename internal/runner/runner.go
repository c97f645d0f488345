// Package runner executes check cycles: dispatch, result bookkeeping, the
// per-result handler chain and the alert raise/resolve lifecycle.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/events"
	"github.com/sznuper/overwatch/internal/handler"
	"github.com/sznuper/overwatch/internal/lock"
	"github.com/sznuper/overwatch/internal/store"
	"github.com/sznuper/overwatch/internal/transport"
)

// ErrUnknownCheck is returned for check names that are not configured.
var ErrUnknownCheck = errors.New("unknown check")

// Defaults for Options.
const (
	DefaultConcurrency = 16
	// DefaultLease bounds how long a cycle may hold its check's lock.
	DefaultLease = 10 * time.Minute
)

// Options wires a Runner to its collaborators. Remote may be nil when no
// inventory is configured; checks with a target selector then fail.
type Options struct {
	Store       store.Store
	Pipeline    *handler.Pipeline
	Local       transport.Transport
	Remote      transport.Transport
	Publisher   events.Publisher
	Locks       *lock.Named
	Lease       time.Duration
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Runner orchestrates execution cycles of configured checks.
type Runner struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	checks map[string]*check.Check
}

// New creates a Runner for checks.
func New(opts Options, checks []*check.Check) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	if opts.Locks == nil {
		opts.Locks = lock.NewNamed()
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Runner{opts: opts, logger: opts.Logger}
	r.SetChecks(checks)
	return r
}

// SetChecks replaces the configured checks.
func (r *Runner) SetChecks(checks []*check.Check) {
	m := make(map[string]*check.Check, len(checks))
	for _, c := range checks {
		m[c.Name] = c
	}
	r.mu.Lock()
	r.checks = m
	r.mu.Unlock()
}

// Check returns the configured check called name.
func (r *Runner) Check(name string) (*check.Check, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[name]
	return c, ok
}

// Checks returns the configured checks sorted by name.
func (r *Runner) Checks() []*check.Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*check.Check, 0, len(r.checks))
	for _, name := range slices.Sorted(maps.Keys(r.checks)) {
		out = append(out, r.checks[name])
	}
	return out
}

// Store returns the store the runner records into.
func (r *Runner) Store() store.Store { return r.opts.Store }

// RunLocked runs one cycle of name while holding its lease lock, so two
// cycles of the same check never overlap.
func (r *Runner) RunLocked(ctx context.Context, name string) (Outcome, error) {
	release, err := r.opts.Locks.Acquire(ctx, lockName(name), r.opts.Lease)
	if err != nil {
		return Outcome{Check: name}, fmt.Errorf("locking check %s: %w", name, err)
	}
	defer release()
	return r.Run(ctx, name)
}

func lockName(check string) string { return "check/" + check }

// Run executes one cycle of name. The caller must make sure no other
// cycle of the same check runs concurrently; see RunLocked.
func (r *Runner) Run(ctx context.Context, name string) (Outcome, error) {
	start := time.Now()
	out := Outcome{Check: name}

	c, ok := r.Check(name)
	if !ok {
		return out, fmt.Errorf("%w %q", ErrUnknownCheck, name)
	}
	log := r.logger.With("check", name)
	st := r.opts.Store

	enabled, err := st.IsCheckEnabled(ctx, name)
	if err != nil {
		return out, fmt.Errorf("reading check toggle: %w", err)
	}
	if !enabled {
		log.Debug("skipping cycle", "reason", SkippedDisabled)
		out.Skipped = SkippedDisabled
		return out, nil
	}

	tr, selector, mode := r.opts.Local, transport.LocalTarget, check.MatchList
	if !c.Local() {
		if r.opts.Remote == nil {
			return out, &TransportError{Check: name, Err: errors.New("no remote transport configured")}
		}
		tr, selector, mode = r.opts.Remote, c.Target, c.MatchMode
	}

	var expected []string
	if c.Local() {
		expected = []string{transport.LocalTarget}
	} else {
		matched, err := tr.ResolveTargets(ctx, selector, mode)
		if err != nil {
			return out, &TransportError{Check: name, Err: err}
		}
		expected = matched
	}

	if expected != nil {
		kept := make([]string, 0, len(expected))
		for _, t := range expected {
			ok, err := r.targetEnabled(ctx, t, name)
			if err != nil {
				return out, err
			}
			if ok {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			log.Debug("skipping cycle", "reason", SkippedNoTargets, "selector", c.Target)
			out.Skipped = SkippedNoTargets
			return out, nil
		}
		expected = kept
		if !c.Local() {
			selector, mode = strings.Join(expected, ","), check.MatchList
		}
	}

	log.Debug("dispatching", "targets", len(expected), "timeout", c.Timeout)
	responses, err := tr.Dispatch(ctx, selector, mode, c.Command, c.Timeout)
	if err != nil {
		return out, &TransportError{Check: name, Err: err}
	}
	at := r.opts.Now()

	obs := make(map[string]check.Observation, len(responses))
	for t, resp := range responses {
		obs[t] = check.Observation{ReturnCode: resp.ReturnCode, Stdout: resp.Stdout, Stderr: resp.Stderr, At: at}
	}
	for _, t := range expected {
		if _, ok := obs[t]; !ok {
			log.Warn("target did not answer", "target", t)
			obs[t] = check.Observation{ReturnCode: check.TimeoutReturnCode, Stderr: check.TimeoutMarker, At: at}
		}
	}

	var (
		mu          sync.Mutex
		results     = make(map[string]*check.Result, len(obs))
		transitions []*check.Result
	)
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, t := range slices.Sorted(maps.Keys(obs)) {
		g.Go(func() error {
			res, changed := r.process(ctx, c, t, obs[t])
			if res == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			results[t] = res
			if changed {
				transitions = append(transitions, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	out.Results = results
	out.Transitions = r.transition(ctx, c, transitions)
	out.Duration = time.Since(start)
	log.Info("cycle completed", "targets", len(results), "transitions", len(transitions), "duration", out.Duration)
	return out, nil
}

func (r *Runner) targetEnabled(ctx context.Context, target, name string) (bool, error) {
	ok, err := r.opts.Store.IsTargetEnabled(ctx, target)
	if err != nil || !ok {
		return false, err
	}
	return r.opts.Store.IsTargetCheckEnabled(ctx, target, name)
}

// process records one target's observation and runs the check's handler
// chain over it. It reports whether the result qualifies for an alert
// transition. A nil result means the target was skipped.
func (r *Runner) process(ctx context.Context, c *check.Check, target string, obs check.Observation) (*check.Result, bool) {
	log := r.logger.With("check", c.Name, "target", target)
	st := r.opts.Store

	enabled, err := r.targetEnabled(ctx, target, c.Name)
	if err != nil {
		log.Error("reading target toggles", "error", err)
		return nil, false
	}
	if !enabled {
		log.Debug("target disabled, dropping answer")
		return nil, false
	}

	res, err := st.Record(ctx, target, c.Name, obs)
	if err != nil {
		log.Error("recording result", "error", err)
		return nil, false
	}

	alert := res.AlertStatus
	halted := r.opts.Pipeline.Run(ctx, c, res, c.Handlers)
	res.AlertStatus = alert

	if err := st.Upsert(ctx, res); err != nil {
		log.Error("saving result", "error", err)
		return nil, false
	}
	return res, !halted && res.Status() != alert
}

// transition runs the alert lifecycle for results whose status moved,
// one batch per new status.
func (r *Runner) transition(ctx context.Context, c *check.Check, changed []*check.Result) map[check.Status][]string {
	if len(changed) == 0 {
		return nil
	}
	groups := make(map[check.Status][]*check.Result)
	for _, res := range changed {
		groups[res.Status()] = append(groups[res.Status()], res)
	}

	out := make(map[check.Status][]string, len(groups))
	for _, status := range slices.Sorted(maps.Keys(groups)) {
		batch := groups[status]
		slices.SortFunc(batch, func(a, b *check.Result) int { return strings.Compare(a.Target, b.Target) })
		r.apply(ctx, c, status, batch, handler.BatchOptions{}, "")
		for _, res := range batch {
			out[status] = append(out[status], res.Target)
		}
	}
	return out
}

// apply moves batch to status: alert records, event, alert handlers and
// finally the stored alert status.
func (r *Runner) apply(ctx context.Context, c *check.Check, status check.Status, batch []*check.Result, opts handler.BatchOptions, reason string) {
	log := r.logger.With("check", c.Name, "status", status.String())
	st := r.opts.Store
	now := r.opts.Now()

	for _, res := range batch {
		if err := st.RemoveAlert(ctx, res.Target, c.Name); err != nil {
			log.Error("removing alert", "target", res.Target, "error", err)
		}
	}

	topic, list := events.TopicResolved, c.Resolved
	if status != check.OK {
		topic, list = events.TopicRaised, c.Raised
		for _, res := range batch {
			if err := st.AddAlert(ctx, check.NewAlert(res, now)); err != nil {
				log.Error("adding alert", "target", res.Target, "error", err)
			}
		}
	}
	r.opts.Publisher.Publish(ctx, events.New(topic, c.Name, status, batch, reason))
	r.opts.Pipeline.RunBatch(ctx, c, status, batch, list, opts)

	for _, res := range batch {
		if err := st.SetAlertStatus(ctx, res.Target, c.Name, status); err != nil {
			log.Error("saving alert status", "target", res.Target, "error", err)
			continue
		}
		res.AlertStatus = status
	}
	log.Info("alert status changed", "topic", topic, "targets", len(batch))
}

// Resolve marks the alerts of keys resolved on behalf of user, whatever
// their currently observed status. Keys are grouped by check so each
// check's resolved handlers see one batch.
func (r *Runner) Resolve(ctx context.Context, keys []check.Key, user string) ([]*check.Result, error) {
	if user == "" {
		user = "anonymous"
	}
	byCheck := make(map[string][]string)
	for _, k := range keys {
		if !slices.Contains(byCheck[k.Check], k.Target) {
			byCheck[k.Check] = append(byCheck[k.Check], k.Target)
		}
	}

	var (
		resolved []*check.Result
		errs     []error
	)
	for _, name := range slices.Sorted(maps.Keys(byCheck)) {
		targets := byCheck[name]
		slices.Sort(targets)
		out, err := r.resolveCheck(ctx, name, targets, user)
		resolved = append(resolved, out...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return resolved, errors.Join(errs...)
}

func (r *Runner) resolveCheck(ctx context.Context, name string, targets []string, user string) ([]*check.Result, error) {
	release, err := r.opts.Locks.Acquire(ctx, lockName(name), r.opts.Lease)
	if err != nil {
		return nil, fmt.Errorf("locking check %s: %w", name, err)
	}
	defer release()

	st := r.opts.Store
	log := r.logger.With("check", name, "user", user)

	var batch []*check.Result
	for _, t := range targets {
		res, err := st.Get(ctx, t, name)
		if errors.Is(err, store.ErrNotFound) {
			// Nothing recorded; only a stale alert record can remain.
			if err := st.RemoveAlert(ctx, t, name); err != nil {
				return nil, fmt.Errorf("removing alert %s/%s: %w", t, name, err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading result %s/%s: %w", t, name, err)
		}
		batch = append(batch, res)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	c, ok := r.Check(name)
	if !ok {
		// The check is gone from the configuration; settle state without handlers.
		log.Warn("resolving alerts of an unknown check")
		c = &check.Check{Name: name, Meta: map[string]any{}}
	}
	reason := "Marked resolved by " + user
	r.apply(ctx, c, check.OK, batch, handler.BatchOptions{MarkedResolved: true, User: user}, reason)
	log.Info("alerts marked resolved", "targets", len(batch))
	return batch, nil
}
