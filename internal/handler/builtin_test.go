package handler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/notify"
	"github.com/sznuper/overwatch/internal/store"
)

func TestAbsorb_Filters(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		code   int
		count  int
		stdout string
		stderr string
		last   int
		want   bool
	}{
		{"success gate", Params{"success": true}, 0, 1, "", "", 0, true},
		{"success gate false wins", Params{"success": false, "retcodes": "0"}, 0, 1, "", "", 0, false},
		{"warn gate", Params{"warn": true}, 1, 1, "", "", 0, true},
		{"warn gate ignores errors", Params{"warn": true}, 2, 1, "", "", 0, false},
		{"error gate", Params{"error": true}, 5, 1, "", "", 0, true},
		{"only change same", Params{"onlyChange": true}, 2, 1, "", "", 2, true},
		{"only change differs", Params{"onlyChange": true}, 2, 1, "", "", 0, false},
		{"only change status error-like", Params{"onlyChangeStatus": true}, 3, 1, "", "", 2, true},
		{"only change status differs", Params{"onlyChangeStatus": true}, 1, 1, "", "", 2, false},
		{"count below", Params{"count": 3}, 2, 2, "", "", 0, true},
		{"count reached", Params{"count": 3}, 2, 3, "", "", 0, false},
		{"count ignores success", Params{"count": 3}, 0, 1, "", "", 0, false},
		{"success count below", Params{"successCount": 2}, 0, 1, "", "", 0, true},
		{"success count ignores errors", Params{"successCount": 2}, 2, 1, "", "", 0, false},
		{"out match", Params{"outMatch": "disk"}, 2, 1, "disk full", "", 0, true},
		{"out match anchored", Params{"outMatch": "disk"}, 2, 1, "the disk", "", 0, false},
		{"err match", Params{"err_match": "timeout"}, 2, 1, "", "timeout after 5s", 0, true},
		{"out err match on stderr", Params{"outErrMatch": ".*refused"}, 2, 1, "ok", "connection refused", 0, true},
		{"retcodes open range", Params{"retcodes": "0,2,100-104,400-"}, 500, 1, "", "", 0, true},
		{"retcodes miss", Params{"retcodes": "0,2,100-104,400-"}, 3, 1, "", "", 0, false},
		{"no filters", Params{}, 2, 1, "", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemory()
			ctx := context.Background()
			_ = st.SetLastHandlerReturnCode(ctx, "h1", "disk", "0f0", tt.last)

			a, err := newAbsorb(tt.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			r := result(tt.code, tt.count)
			r.Stdout, r.Stderr = tt.stdout, tt.stderr
			got, err := a.absorbs(ctx, st, "disk", "0f0", r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("absorbed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAbsorb_Idempotent(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_ = st.SetLastHandlerReturnCode(ctx, "h1", "disk", "0f0", 2)
	a, err := newAbsorb(Params{"onlyChangeStatus": true, "outMatch": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, code := range []int{0, 1, 2, 7} {
		r := result(code, 1)
		first, _ := a.absorbs(ctx, st, "disk", "0f0", r)
		second, _ := a.absorbs(ctx, st, "disk", "0f0", r)
		if first != second {
			t.Errorf("code %d: verdicts %v then %v", code, first, second)
		}
	}
}

func TestAbsorb_InvalidParams(t *testing.T) {
	tests := []Params{
		{"count": 3, "onlyChange": true},
		{"count": 2, "only_change_status": true},
		{"retcodes": "1-x"},
		{"outMatch": "("},
		{"bogus": true},
		{"count": -1},
	}
	for _, p := range tests {
		if _, err := newAbsorb(p); !errors.Is(err, check.ErrConfigValidation) {
			t.Errorf("newAbsorb(%v) error = %v, want ErrConfigValidation", p, err)
		}
	}
}

func TestAbsorb_WeakTypes(t *testing.T) {
	a, err := newAbsorb(Params{"count": "3", "warn": "true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.count != 3 || a.warn == nil || !*a.warn {
		t.Errorf("absorb = %+v, want count 3 and warn gate", a)
	}
}

func TestPipeline_AbsorbDebounce(t *testing.T) {
	p, _, _ := newPipeline(t, Deps{})
	list := invocations(t, []any{map[string]any{"absorb": map[string]any{"count": 3}}})
	for count, want := range map[int]bool{1: true, 2: true, 3: false, 4: false} {
		if got := p.Run(context.Background(), testCheck(), result(2, count), list); got != want {
			t.Errorf("count %d: halted = %v, want %v", count, got, want)
		}
	}
}

func TestPipeline_OnlyChangeUsesSlotState(t *testing.T) {
	p, _, _ := newPipeline(t, Deps{})
	list := invocations(t, []any{map[string]any{"absorb": map[string]any{"onlyChange": true}}})
	ctx := context.Background()

	steps := []struct {
		code int
		want bool
	}{
		{2, false},
		{2, true},
		{0, false},
		{0, true},
	}
	for i, s := range steps {
		if got := p.Run(ctx, testCheck(), result(s.code, 1), list); got != s.want {
			t.Errorf("step %d: halted = %v, want %v", i, got, s.want)
		}
	}
}

func mutated(t *testing.T, params Params, r *check.Result) *check.Result {
	t.Helper()
	spec := mutateSpec()
	h, err := spec.New(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.Handle(context.Background(), &Env{Result: r, Logger: quietLogger()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func TestMutate_Promote(t *testing.T) {
	if r := mutated(t, Params{"promoteAfter": 3}, result(1, 3)); r.Status() != check.Error {
		t.Errorf("count 3: status = %s, want ERROR", r.Status())
	}
	if r := mutated(t, Params{"promoteAfter": 3}, result(1, 2)); r.Status() != check.Warn {
		t.Errorf("count 2: status = %s, want WARN", r.Status())
	}
	if r := mutated(t, Params{"promoteAfter": 3}, result(0, 9)); r.Status() != check.OK {
		t.Errorf("ok result changed to %s", r.Status())
	}
}

func TestMutate_Demote(t *testing.T) {
	if r := mutated(t, Params{"demoteUntil": 2}, result(2, 2)); r.Status() != check.Warn {
		t.Errorf("count 2: status = %s, want WARN", r.Status())
	}
	if r := mutated(t, Params{"demoteUntil": 2}, result(2, 3)); r.Status() != check.Error {
		t.Errorf("count 3: status = %s, want ERROR", r.Status())
	}
}

func TestPipeline_AbsorbSeesMutatedStreak(t *testing.T) {
	p, _, _ := newPipeline(t, Deps{})
	// Stored as 2 after a promotion while the target kept answering 1.
	prev := &check.Result{Target: "h1", Check: "disk", ReturnCode: 2, RawReturnCode: 1, Count: 3}
	r := check.Advance(prev, "h1", "disk", check.Observation{ReturnCode: 1})

	list := invocations(t, []any{
		map[string]any{"absorb": map[string]any{"count": 4}},
		map[string]any{"mutate": map[string]any{"promoteAfter": 3}},
	})
	if p.Run(context.Background(), testCheck(), r, list) {
		t.Fatal("absorb halted a continued streak")
	}
	if r.Count != 4 {
		t.Errorf("count = %d, want 4", r.Count)
	}
	if r.ReturnCode != 2 || r.RawReturnCode != 1 {
		t.Errorf("retcodes = %d/%d, want 2/1", r.ReturnCode, r.RawReturnCode)
	}
}

func TestMutate_RequiresParam(t *testing.T) {
	if _, err := mutateSpec().New(Params{}); !errors.Is(err, check.ErrConfigValidation) {
		t.Errorf("error = %v, want ErrConfigValidation", err)
	}
	if mutateSpec().NewBatch != nil {
		t.Error("mutate must not have an alert variant")
	}
}

func batchOf(targets ...string) []*check.Result {
	out := make([]*check.Result, len(targets))
	for i, tgt := range targets {
		out[i] = &check.Result{Target: tgt, Check: "disk", ReturnCode: 2, RawReturnCode: 2, Count: i + 1}
	}
	return out
}

func TestRunBatch_FilterAndAbsorb(t *testing.T) {
	p, reg, _ := newPipeline(t, Deps{})
	rc := newRecorder()
	rc.register(t, reg, "capture", Continue)
	ctx := context.Background()

	list := invocations(t, []any{map[string]any{"absorb": map[string]any{"count": 2}}, "capture"})
	kept := p.RunBatch(ctx, testCheck(), check.Error, batchOf("h1", "h2", "h3"), list, BatchOptions{})
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	if got := rc.params["capture.targets"]["targets"]; got != "h2,h3" {
		t.Errorf("capture saw %q, want h2,h3", got)
	}
	if rc.ids[0] != "raisedf1" {
		t.Errorf("id = %q, want raisedf1", rc.ids[0])
	}

	list = invocations(t, []any{map[string]any{"absorb": map[string]any{"error": true}}, "capture"})
	if kept := p.RunBatch(ctx, testCheck(), check.Error, batchOf("h1"), list, BatchOptions{}); kept != nil {
		t.Errorf("kept = %v, want nil for an absorbed batch", kept)
	}
	if rc.count("capture") != 1 {
		t.Errorf("capture calls = %d, want 1", rc.count("capture"))
	}
}

func TestRunBatch_ErrorHalts(t *testing.T) {
	p, reg, _ := newPipeline(t, Deps{})
	rc := newRecorder()
	rc.register(t, reg, "capture", Continue)

	list := invocations(t, []any{map[string]any{"mutate": map[string]any{"promoteAfter": 2}}, "capture"})
	if kept := p.RunBatch(context.Background(), testCheck(), check.OK, batchOf("h1"), list, BatchOptions{}); kept != nil {
		t.Errorf("kept = %v, want nil", kept)
	}
	if rc.count("capture") != 0 {
		t.Error("handler after a failed alert handler ran")
	}
}

func TestRunBatch_ForkRendersArgs(t *testing.T) {
	p, reg, _ := newPipeline(t, Deps{})
	rc := newRecorder()
	rc.register(t, reg, "capture", Continue)

	list := invocations(t, []any{map[string]any{"fork": map[string]any{
		"render_args": map[string]any{"label": "{{.check}}-{{.count}}"},
		"handlers":    []any{map[string]any{"capture": map[string]any{"msg": "{{.label}} {{.status}}"}}},
	}}})
	p.RunBatch(context.Background(), testCheck(), check.OK, batchOf("h1", "h2"), list, BatchOptions{})
	if got := rc.params["capture"]["msg"]; got != "disk-2 OK" {
		t.Errorf("msg = %q, want %q", got, "disk-2 OK")
	}
	if rc.ids[0] != "resolvedf0f0" {
		t.Errorf("id = %q, want resolvedf0f0", rc.ids[0])
	}
}

type mailbox struct {
	urls     []string
	messages []string
	params   []map[string]string
}

func (m *mailbox) deps() Deps {
	sender := notify.SenderFunc(func(rawURL, message string, params map[string]string) error {
		m.urls = append(m.urls, rawURL)
		m.messages = append(m.messages, message)
		m.params = append(m.params, params)
		return nil
	})
	return Deps{
		Notifier: notify.NewNotifier(map[string]notify.Service{
			"sms": {URL: "generic://sms.example.com"},
		}, sender),
		Mail: notify.MailConfig{Host: "smtp.example.com", From: "overwatch@example.com", To: []string{"ops@example.com"}},
	}
}

func TestMail_BatchSummary(t *testing.T) {
	var mb mailbox
	p, _, _ := newPipeline(t, mb.deps())
	list := invocations(t, []any{"mail"})

	p.RunBatch(context.Background(), testCheck(), check.Error, batchOf("h1", "h2"), list, BatchOptions{})
	if len(mb.messages) != 1 {
		t.Fatalf("mails = %d, want 1", len(mb.messages))
	}
	if got := mb.params[0]["subject"]; got != "[ERROR] disk on 2 targets" {
		t.Errorf("subject = %q", got)
	}
	if !strings.Contains(mb.messages[0], "h2 2 times") {
		t.Errorf("body = %q, want per-target counts", mb.messages[0])
	}
	if !strings.HasPrefix(mb.urls[0], "smtp://smtp.example.com:25/?") {
		t.Errorf("url = %q, want default smtp settings", mb.urls[0])
	}

	p.RunBatch(context.Background(), testCheck(), check.OK, batchOf("h1"), list, BatchOptions{MarkedResolved: true, User: "alice"})
	if got := mb.params[1]["subject"]; got != "[RESOLVED] disk on h1" {
		t.Errorf("subject = %q", got)
	}
	if mb.messages[1] != "disk marked resolved by alice on h1" {
		t.Errorf("body = %q", mb.messages[1])
	}
}

func TestMail_PerResult(t *testing.T) {
	var mb mailbox
	p, _, _ := newPipeline(t, mb.deps())
	list := invocations(t, []any{map[string]any{"mail": map[string]any{
		"subject": "{{.check}} on {{.target}} is {{.status}}",
		"body":    "{{.stdout}}",
		"to":      "dev@example.com,qa@example.com",
	}}})

	r := result(2, 1)
	r.Stdout = "disk full"
	if halted := p.Run(context.Background(), testCheck(), r, list); halted {
		t.Fatal("halted = true, want false")
	}
	if mb.params[0]["subject"] != "disk on h1 is ERROR" || mb.messages[0] != "disk full" {
		t.Errorf("mail = %q / %q", mb.params[0]["subject"], mb.messages[0])
	}
	if !strings.Contains(mb.urls[0], "to=dev%40example.com%2Cqa%40example.com") {
		t.Errorf("url = %q, want overridden recipients", mb.urls[0])
	}

	// Subject and body are required outside alert lists.
	if !p.Run(context.Background(), testCheck(), r, invocations(t, []any{"mail"})) {
		t.Error("halted = false, want true")
	}
}

func TestNotify_Truncates(t *testing.T) {
	var mb mailbox
	p, _, _ := newPipeline(t, mb.deps())
	list := invocations(t, []any{map[string]any{"notify": map[string]any{
		"service": "sms",
		"message": "{{.target}}: {{.stdout}}",
		"maxlen":  10,
	}}})

	r := result(2, 1)
	r.Stdout = "a very long explanation"
	p.Run(context.Background(), testCheck(), r, list)
	if len(mb.messages) != 1 || mb.messages[0] != "h1: a very" {
		t.Errorf("messages = %q, want truncated text", mb.messages)
	}
}

func TestNotify_BatchDefaultMessage(t *testing.T) {
	var mb mailbox
	p, _, _ := newPipeline(t, mb.deps())
	list := invocations(t, []any{map[string]any{"notify": map[string]any{"service": "sms"}}})

	p.RunBatch(context.Background(), testCheck(), check.Warn, batchOf("h1"), list, BatchOptions{})
	if len(mb.messages) != 1 || mb.messages[0] != "[WARNING] disk on h1" {
		t.Errorf("messages = %q", mb.messages)
	}
}
