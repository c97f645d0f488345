package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/sznuper/overwatch/internal/check"
)

type slotKey struct {
	check.Key
	HandlerID string
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.Mutex
	results  map[check.Key]*check.Result
	alerts   map[check.Key]check.Alert
	slots    map[slotKey]int
	targets  map[string]bool
	checks   map[string]bool
	disabled map[check.Key]bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		results:  make(map[check.Key]*check.Result),
		alerts:   make(map[check.Key]check.Alert),
		slots:    make(map[slotKey]int),
		targets:  make(map[string]bool),
		checks:   make(map[string]bool),
		disabled: make(map[check.Key]bool),
	}
}

func (m *Memory) view(r *check.Result) *check.Result {
	out := r.Clone()
	out.Enabled = !m.disabled[r.Key()]
	return out
}

func (m *Memory) Get(_ context.Context, target, name string) (*check.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[check.Key{Target: target, Check: name}]
	if !ok {
		return nil, ErrNotFound
	}
	return m.view(r), nil
}

func (m *Memory) Record(_ context.Context, target, name string, obs check.Observation) (*check.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := check.Key{Target: target, Check: name}
	next := check.Advance(m.results[key], target, name, obs)
	next.Enabled = !m.disabled[key]
	m.results[key] = next.Clone()
	return next, nil
}

func (m *Memory) Upsert(_ context.Context, r *check.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.Key()] = r.Clone()
	return nil
}

func (m *Memory) SetAlertStatus(_ context.Context, target, name string, s check.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[check.Key{Target: target, Check: name}]
	if !ok {
		return ErrNotFound
	}
	r.AlertStatus = s
	return nil
}

func (m *Memory) ListResults(_ context.Context, f Filter) ([]*check.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*check.Result
	for k, r := range m.results {
		if f.match(k.Target, k.Check) {
			out = append(out, m.view(r))
		}
	}
	sortResults(out)
	return out, nil
}

func sortResults(rs []*check.Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Target != rs[j].Target {
			return rs[i].Target < rs[j].Target
		}
		return rs[i].Check < rs[j].Check
	})
}

func (m *Memory) IsTargetEnabled(_ context.Context, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.targets[target], nil
}

func (m *Memory) IsCheckEnabled(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.checks[name], nil
}

func (m *Memory) IsTargetCheckEnabled(_ context.Context, target, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disabled[check.Key{Target: target, Check: name}], nil
}

func (m *Memory) SetTargetEnabled(_ context.Context, target string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	setDisabled(m.targets, target, enabled)
	return nil
}

func (m *Memory) SetCheckEnabled(_ context.Context, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	setDisabled(m.checks, name, enabled)
	return nil
}

func (m *Memory) SetTargetCheckEnabled(_ context.Context, target, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	setDisabled(m.disabled, check.Key{Target: target, Check: name}, enabled)
	return nil
}

func setDisabled[K comparable](set map[K]bool, k K, enabled bool) {
	if enabled {
		delete(set, k)
		return
	}
	set[k] = true
}

func (m *Memory) LastHandlerReturnCode(_ context.Context, target, name, handlerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[slotKey{check.Key{Target: target, Check: name}, handlerID}], nil
}

func (m *Memory) SetLastHandlerReturnCode(_ context.Context, target, name, handlerID string, code int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slotKey{check.Key{Target: target, Check: name}, handlerID}] = code
	return nil
}

func (m *Memory) AddAlert(_ context.Context, a check.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.Key()] = a
	return nil
}

func (m *Memory) RemoveAlert(_ context.Context, target, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alerts, check.Key{Target: target, Check: name})
	return nil
}

func (m *Memory) ListAlerts(_ context.Context) ([]check.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]check.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		if out[i].Check != out[j].Check {
			return out[i].Check < out[j].Check
		}
		return out[i].Target < out[j].Target
	})
	return out, nil
}

func (m *Memory) ResetCheck(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(func(k check.Key) bool { return k.Check == name })
	return nil
}

func (m *Memory) DeleteTarget(_ context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(func(k check.Key) bool { return k.Target == target })
	delete(m.targets, target)
	for k := range m.disabled {
		if k.Target == target {
			delete(m.disabled, k)
		}
	}
	return nil
}

func (m *Memory) Prune(_ context.Context, checks, targets []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropLocked(func(k check.Key) bool {
		return stale(k, checks, targets)
	}), nil
}

func stale(k check.Key, checks, targets []string) bool {
	if checks != nil && !slices.Contains(checks, k.Check) {
		return true
	}
	return targets != nil && !slices.Contains(targets, k.Target)
}

func (m *Memory) dropLocked(match func(check.Key) bool) int {
	n := 0
	for k := range m.results {
		if match(k) {
			delete(m.results, k)
			n++
		}
	}
	for k := range m.alerts {
		if match(k) {
			delete(m.alerts, k)
		}
	}
	for k := range m.slots {
		if match(k.Key) {
			delete(m.slots, k)
		}
	}
	return n
}

func (m *Memory) Close() error { return nil }
