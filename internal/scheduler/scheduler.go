// Package scheduler invokes check cycles on their configured schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/runner"
)

// Runner runs one cycle of a check while holding its lock.
type Runner interface {
	RunLocked(ctx context.Context, name string) (runner.Outcome, error)
}

// Entry is a scheduled check.
type Entry struct {
	Check    string    `json:"check"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev"`
}

// Scheduler owns one cron entry per scheduled check. Overlapping runs of
// the same check are skipped.
type Scheduler struct {
	cron   *cron.Cron
	run    Runner
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	specs   map[string]string
}

// New creates a stopped scheduler.
func New(run Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger.With("component", "scheduler")}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		run:     run,
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
	}
}

// Reload replaces every entry with the schedules of checks. Checks
// without a schedule only run on demand. A bad schedule skips that check
// and is reported in the returned error.
func (s *Scheduler) Reload(checks []*check.Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.specs, name)
	}

	var errs []error
	for _, c := range checks {
		spec := c.Schedule.Spec()
		if spec == "" {
			continue
		}
		name := c.Name
		id, err := s.cron.AddFunc(spec, func() { s.trigger(name) })
		if err != nil {
			errs = append(errs, fmt.Errorf("scheduling %s: %w", name, err))
			continue
		}
		s.entries[name] = id
		s.specs[name] = spec
	}
	s.logger.Info("schedules loaded", "checks", len(s.entries))
	return errors.Join(errs...)
}

func (s *Scheduler) trigger(name string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	log := s.logger.With("check", name)
	out, err := s.run.RunLocked(ctx, name)
	if err != nil {
		log.Error("scheduled run failed", "error", err)
		return
	}
	if !out.Ran() {
		log.Debug("scheduled run skipped", "reason", out.Skipped)
	}
}

// Start begins firing entries. Runs receive ctx; the scheduler stops
// once ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries lists the scheduled checks sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		out = append(out, Entry{Check: name, Schedule: s.specs[name], Next: e.Next, Prev: e.Prev})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Check, b.Check) })
	return out
}

// cronLogger adapts slog to cron.Logger. Cron's routine chatter goes to
// debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
