package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/events"
	"github.com/sznuper/overwatch/internal/handler"
	"github.com/sznuper/overwatch/internal/store"
	"github.com/sznuper/overwatch/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport answers for the inventory names in answers. A nil
// inventory makes ResolveTargets report "unknown".
type fakeTransport struct {
	mu         sync.Mutex
	inventory  []string
	answers    map[string]transport.Response
	err        error
	dispatches int
	selectors  []string
}

func (f *fakeTransport) ResolveTargets(_ context.Context, selector, mode string) ([]string, error) {
	if f.inventory == nil {
		return nil, nil
	}
	return transport.Match(f.inventory, selector, mode)
}

func (f *fakeTransport) Dispatch(_ context.Context, selector, mode string, _ map[string]any, _ time.Duration) (map[string]transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches++
	f.selectors = append(f.selectors, selector)
	if f.err != nil {
		return nil, f.err
	}
	names, err := transport.Match(slices.Sorted(maps.Keys(f.answers)), selector, mode)
	if err != nil {
		return nil, err
	}
	out := make(map[string]transport.Response, len(names))
	for _, n := range names {
		out[n] = f.answers[n]
	}
	return out, nil
}

func (f *fakeTransport) answer(codes map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = make(map[string]transport.Response, len(codes))
	for n, c := range codes {
		f.answers[n] = transport.Response{ReturnCode: c, Stdout: "out " + n}
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(_ context.Context, ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// batchCall is one invocation of the recording alert handler.
type batchCall struct {
	id             string
	status         check.Status
	targets        []string
	markedResolved bool
	user           string
}

type harness struct {
	runner *Runner
	store  *store.Memory
	remote *fakeTransport
	events *eventLog

	mu    sync.Mutex
	calls []batchCall
}

func newHarness(t *testing.T, checks ...*check.Check) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemory(),
		remote: &fakeTransport{inventory: []string{"h1", "h2", "h3"}},
		events: &eventLog{},
	}

	reg := handler.NewRegistry(handler.Deps{})
	err := reg.Register(handler.Spec{
		Name: "record",
		NewBatch: func(handler.Params) (handler.BatchHandler, error) {
			return handler.BatchFunc(func(_ context.Context, b *handler.Batch) ([]*check.Result, error) {
				h.mu.Lock()
				defer h.mu.Unlock()
				h.calls = append(h.calls, batchCall{
					id:             b.ID,
					status:         b.Status,
					targets:        b.Targets(),
					markedResolved: b.MarkedResolved,
					user:           b.User,
				})
				return nil, nil
			}), nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pipeline := handler.NewPipeline(reg, h.store, quietLogger(), time.Second)
	h.runner = New(Options{
		Store:     h.store,
		Pipeline:  pipeline,
		Local:     transport.NewLocal(t.TempDir(), quietLogger()),
		Remote:    h.remote,
		Publisher: h.events,
		Logger:    quietLogger(),
	}, checks)
	return h
}

func (h *harness) batchCalls() []batchCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

func remoteCheck(t *testing.T, handlers ...check.Invocation) *check.Check {
	t.Helper()
	record := []check.Invocation{{Name: "record"}}
	return &check.Check{
		Name:      "disk",
		Command:   map[string]any{"cmd": "df -h"},
		Target:    "h*",
		MatchMode: check.MatchGlob,
		Timeout:   time.Second,
		Handlers:  handlers,
		Raised:    record,
		Resolved:  record,
		Meta:      map[string]any{},
	}
}

func mustRun(t *testing.T, h *harness, name string) Outcome {
	t.Helper()
	out, err := h.runner.Run(context.Background(), name)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func TestRun_RaiseThenResolve(t *testing.T) {
	h := newHarness(t, remoteCheck(t))
	h.remote.inventory = []string{"h1"}

	h.remote.answer(map[string]int{"h1": 2})
	out := mustRun(t, h, "disk")
	if !out.Ran() {
		t.Fatalf("skipped: %s", out.Skipped)
	}
	r := out.Results["h1"]
	if r == nil || r.AlertStatus != check.Error || r.Count != 1 {
		t.Fatalf("result = %+v, want alert ERROR count 1", r)
	}
	alerts, _ := h.store.ListAlerts(context.Background())
	if len(alerts) != 1 || alerts[0].Target != "h1" || alerts[0].Status != check.Error {
		t.Errorf("alerts = %+v, want one ERROR alert for h1", alerts)
	}

	// Still failing: no new transition.
	out = mustRun(t, h, "disk")
	if out.Results["h1"].Count != 2 || len(out.Transitions) != 0 {
		t.Errorf("second cycle: count %d transitions %v", out.Results["h1"].Count, out.Transitions)
	}

	h.remote.answer(map[string]int{"h1": 0})
	out = mustRun(t, h, "disk")
	if got := out.Transitions[check.OK]; len(got) != 1 || got[0] != "h1" {
		t.Errorf("transitions = %v, want OK [h1]", out.Transitions)
	}
	stored, err := h.store.Get(context.Background(), "h1", "disk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.AlertStatus != check.OK {
		t.Errorf("stored alert status = %s, want OK", stored.AlertStatus)
	}
	alerts, _ = h.store.ListAlerts(context.Background())
	if len(alerts) != 0 {
		t.Errorf("alerts after resolve = %+v, want none", alerts)
	}

	calls := h.batchCalls()
	if len(calls) != 2 {
		t.Fatalf("batch calls = %+v, want raise and resolve", calls)
	}
	if calls[0].id != "raisedf0" || calls[0].status != check.Error {
		t.Errorf("first call = %+v, want raised ERROR", calls[0])
	}
	if calls[1].id != "resolvedf0" || calls[1].status != check.OK || calls[1].markedResolved {
		t.Errorf("second call = %+v, want automatic resolve", calls[1])
	}

	evs := h.events.all()
	if len(evs) != 2 || evs[0].Topic != events.TopicRaised || evs[1].Topic != events.TopicResolved {
		t.Errorf("events = %+v, want raised then resolved", evs)
	}
}

func TestRun_AbsorbDebouncesRaise(t *testing.T) {
	h := newHarness(t, remoteCheck(t, check.Invocation{Name: "absorb", Params: map[string]any{"count": 3}}))
	h.remote.inventory = []string{"h1"}
	h.remote.answer(map[string]int{"h1": 2})

	for i := 1; i <= 2; i++ {
		out := mustRun(t, h, "disk")
		if len(out.Transitions) != 0 {
			t.Fatalf("cycle %d raised: %v", i, out.Transitions)
		}
		if out.Results["h1"].AlertStatus != check.OK {
			t.Fatalf("cycle %d alert status = %s, want OK", i, out.Results["h1"].AlertStatus)
		}
		if alerts, _ := h.store.ListAlerts(context.Background()); len(alerts) != 0 {
			t.Fatalf("cycle %d alerts = %+v, want none", i, alerts)
		}
		if evs := h.events.all(); len(evs) != 0 {
			t.Fatalf("cycle %d events = %+v, want none", i, evs)
		}
		if len(h.batchCalls()) != 0 {
			t.Fatalf("cycle %d ran the raised handlers", i)
		}
	}

	out := mustRun(t, h, "disk")
	if got := out.Transitions[check.Error]; len(got) != 1 {
		t.Errorf("third cycle transitions = %v, want ERROR [h1]", out.Transitions)
	}
	if len(h.batchCalls()) != 1 {
		t.Errorf("batch calls = %d, want 1", len(h.batchCalls()))
	}
	if alerts, _ := h.store.ListAlerts(context.Background()); len(alerts) != 1 {
		t.Errorf("alerts = %+v, want one", alerts)
	}
	if evs := h.events.all(); len(evs) != 1 || evs[0].Topic != events.TopicRaised {
		t.Errorf("events = %+v, want one raised", evs)
	}
}

func TestRun_AbsorbedResolveKeepsAlert(t *testing.T) {
	h := newHarness(t, remoteCheck(t, check.Invocation{Name: "absorb", Params: map[string]any{"success": true}}))
	h.remote.inventory = []string{"h1"}
	ctx := context.Background()

	h.remote.answer(map[string]int{"h1": 2})
	out := mustRun(t, h, "disk")
	if got := out.Transitions[check.Error]; len(got) != 1 {
		t.Fatalf("transitions = %v, want ERROR [h1]", out.Transitions)
	}

	h.remote.answer(map[string]int{"h1": 0})
	out = mustRun(t, h, "disk")
	if len(out.Transitions) != 0 {
		t.Errorf("transitions = %v, want none", out.Transitions)
	}
	if got := out.Results["h1"].AlertStatus; got != check.Error {
		t.Errorf("alert status = %s, want ERROR", got)
	}
	stored, err := h.store.Get(ctx, "h1", "disk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.AlertStatus != check.Error {
		t.Errorf("stored alert status = %s, want ERROR", stored.AlertStatus)
	}
	alerts, _ := h.store.ListAlerts(ctx)
	if len(alerts) != 1 || alerts[0].Status != check.Error {
		t.Errorf("alerts = %+v, want the open ERROR alert", alerts)
	}
	for _, ev := range h.events.all() {
		if ev.Topic == events.TopicResolved {
			t.Errorf("published %s for an absorbed result", ev.Topic)
		}
	}
	if calls := h.batchCalls(); len(calls) != 1 || calls[0].id != "raisedf0" {
		t.Errorf("batch calls = %+v, want only the raise", calls)
	}
}

func TestRun_BatchesByStatus(t *testing.T) {
	h := newHarness(t, remoteCheck(t))
	h.remote.answer(map[string]int{"h1": 1, "h2": 2, "h3": 5})

	out := mustRun(t, h, "disk")
	if len(out.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(out.Results))
	}

	calls := h.batchCalls()
	if len(calls) != 2 {
		t.Fatalf("batch calls = %+v, want one per status", calls)
	}
	if calls[0].status != check.Warn || !slices.Equal(calls[0].targets, []string{"h1"}) {
		t.Errorf("WARN batch = %+v", calls[0])
	}
	if calls[1].status != check.Error || !slices.Equal(calls[1].targets, []string{"h2", "h3"}) {
		t.Errorf("ERROR batch = %+v", calls[1])
	}
	if evs := h.events.all(); len(evs) != 2 {
		t.Errorf("events = %d, want 2", len(evs))
	}
}

func TestRun_StatusChangeReraises(t *testing.T) {
	h := newHarness(t, remoteCheck(t))
	h.remote.inventory = []string{"h1"}

	h.remote.answer(map[string]int{"h1": 1})
	mustRun(t, h, "disk")
	h.remote.answer(map[string]int{"h1": 2})
	out := mustRun(t, h, "disk")

	if got := out.Transitions[check.Error]; len(got) != 1 {
		t.Fatalf("transitions = %v, want ERROR [h1]", out.Transitions)
	}
	alerts, _ := h.store.ListAlerts(context.Background())
	if len(alerts) != 1 || alerts[0].Status != check.Error {
		t.Errorf("alerts = %+v, want one ERROR alert", alerts)
	}
}

func TestRun_SynthesizesTimeouts(t *testing.T) {
	h := newHarness(t, remoteCheck(t))
	h.remote.inventory = []string{"h1", "h2"}
	h.remote.answer(map[string]int{"h1": 0})

	out := mustRun(t, h, "disk")
	r := out.Results["h2"]
	if r == nil {
		t.Fatal("silent target missing from results")
	}
	if r.ReturnCode != check.TimeoutReturnCode || r.Stderr != check.TimeoutMarker {
		t.Errorf("timeout result = %d %q", r.ReturnCode, r.Stderr)
	}
	if r.AlertStatus != check.Error {
		t.Errorf("alert status = %s, want ERROR", r.AlertStatus)
	}
	if out.Results["h1"].AlertStatus != check.OK {
		t.Error("answering target changed status")
	}
}

func TestRun_Skips(t *testing.T) {
	t.Run("disabled check", func(t *testing.T) {
		h := newHarness(t, remoteCheck(t))
		_ = h.store.SetCheckEnabled(context.Background(), "disk", false)
		out := mustRun(t, h, "disk")
		if out.Skipped != SkippedDisabled {
			t.Errorf("skipped = %q, want %q", out.Skipped, SkippedDisabled)
		}
		if h.remote.dispatches != 0 {
			t.Error("disabled check contacted the transport")
		}
	})

	t.Run("no targets", func(t *testing.T) {
		c := remoteCheck(t)
		c.Target = "db*"
		h := newHarness(t, c)
		out := mustRun(t, h, "disk")
		if out.Skipped != SkippedNoTargets {
			t.Errorf("skipped = %q, want %q", out.Skipped, SkippedNoTargets)
		}
		if h.remote.dispatches != 0 {
			t.Error("empty match contacted the transport")
		}
	})

	t.Run("all targets disabled", func(t *testing.T) {
		h := newHarness(t, remoteCheck(t))
		ctx := context.Background()
		_ = h.store.SetTargetEnabled(ctx, "h1", false)
		_ = h.store.SetTargetEnabled(ctx, "h2", false)
		_ = h.store.SetTargetCheckEnabled(ctx, "h3", "disk", false)
		out := mustRun(t, h, "disk")
		if out.Skipped != SkippedNoTargets {
			t.Errorf("skipped = %q, want %q", out.Skipped, SkippedNoTargets)
		}
	})
}

func TestRun_DispatchesOnlyEnabledTargets(t *testing.T) {
	h := newHarness(t, remoteCheck(t))
	_ = h.store.SetTargetEnabled(context.Background(), "h2", false)
	h.remote.answer(map[string]int{"h1": 0, "h2": 0, "h3": 0})

	out := mustRun(t, h, "disk")
	if _, ok := out.Results["h2"]; ok {
		t.Error("disabled target processed")
	}
	if got := h.remote.selectors[0]; got != "h1,h3" {
		t.Errorf("selector = %q, want %q", got, "h1,h3")
	}
}

func TestRun_UnknownInventoryFiltersAnswers(t *testing.T) {
	h := newHarness(t, remoteCheck(t))
	h.remote.inventory = nil
	_ = h.store.SetTargetEnabled(context.Background(), "h2", false)
	h.remote.answer(map[string]int{"h1": 0, "h2": 2})

	out := mustRun(t, h, "disk")
	if len(out.Results) != 1 || out.Results["h1"] == nil {
		t.Errorf("results = %v, want only h1", slices.Sorted(maps.Keys(out.Results)))
	}
	if h.remote.selectors[0] != "h*" {
		t.Errorf("selector = %q, want the check's own", h.remote.selectors[0])
	}
}

func TestRun_Errors(t *testing.T) {
	h := newHarness(t, remoteCheck(t))

	if _, err := h.runner.Run(context.Background(), "nope"); !errors.Is(err, ErrUnknownCheck) {
		t.Errorf("error = %v, want ErrUnknownCheck", err)
	}

	boom := errors.New("connection refused")
	h.remote.err = boom
	_, err := h.runner.Run(context.Background(), "disk")
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if terr.Check != "disk" || !errors.Is(err, boom) {
		t.Errorf("transport error = %+v", terr)
	}
}

func TestRun_LocalCheck(t *testing.T) {
	c := &check.Check{
		Name:    "uptime",
		Command: map[string]any{"cmd": "echo degraded; exit 1"},
		Timeout: 5 * time.Second,
		Meta:    map[string]any{},
	}
	h := newHarness(t, c)

	out, err := h.runner.RunLocked(context.Background(), "uptime")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := out.Results[transport.LocalTarget]
	if r == nil {
		t.Fatalf("results = %v, want local", out.Results)
	}
	if r.ReturnCode != 1 || r.Stdout != "degraded\n" || r.AlertStatus != check.Warn {
		t.Errorf("result = %+v", r)
	}
	if h.remote.dispatches != 0 {
		t.Error("local check used the remote transport")
	}
}

func TestResolve_MarkedResolved(t *testing.T) {
	h := newHarness(t, remoteCheck(t))
	h.remote.answer(map[string]int{"h1": 2, "h2": 2, "h3": 0})
	mustRun(t, h, "disk")

	ctx := context.Background()
	resolved, err := h.runner.Resolve(ctx, []check.Key{
		{Target: "h2", Check: "disk"},
		{Target: "h1", Check: "disk"},
		{Target: "h1", Check: "disk"},
	}, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("resolved = %d, want 2", len(resolved))
	}

	calls := h.batchCalls()
	last := calls[len(calls)-1]
	if !last.markedResolved || last.user != "alice" || !slices.Equal(last.targets, []string{"h1", "h2"}) {
		t.Errorf("resolve call = %+v", last)
	}

	for _, target := range []string{"h1", "h2"} {
		r, _ := h.store.Get(ctx, target, "disk")
		if r.AlertStatus != check.OK {
			t.Errorf("%s alert status = %s, want OK", target, r.AlertStatus)
		}
		// The observed code is untouched.
		if r.ReturnCode != 2 {
			t.Errorf("%s retcode = %d, want 2", target, r.ReturnCode)
		}
	}
	if alerts, _ := h.store.ListAlerts(ctx); len(alerts) != 0 {
		t.Errorf("alerts = %+v, want none", alerts)
	}

	evs := h.events.all()
	if ev := evs[len(evs)-1]; ev.Topic != events.TopicResolved || ev.Reason != "Marked resolved by alice" {
		t.Errorf("event = %+v", ev)
	}

	// The next failing cycle raises again.
	out := mustRun(t, h, "disk")
	if got := out.Transitions[check.Error]; !slices.Equal(got, []string{"h1", "h2"}) {
		t.Errorf("transitions = %v, want ERROR [h1 h2]", out.Transitions)
	}
}

func TestResolve_UnknownPair(t *testing.T) {
	h := newHarness(t, remoteCheck(t))
	resolved, err := h.runner.Resolve(context.Background(), []check.Key{{Target: "h9", Check: "gone"}}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 0 || len(h.batchCalls()) != 0 {
		t.Errorf("resolved %d, calls %d; want nothing", len(resolved), len(h.batchCalls()))
	}
}

func TestRunner_SetChecks(t *testing.T) {
	h := newHarness(t, remoteCheck(t))
	if names := len(h.runner.Checks()); names != 1 {
		t.Fatalf("checks = %d, want 1", names)
	}
	h.runner.SetChecks(nil)
	if _, ok := h.runner.Check("disk"); ok {
		t.Error("check survived SetChecks(nil)")
	}
}
