package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/handler"
	"github.com/sznuper/overwatch/internal/runner"
	"github.com/sznuper/overwatch/internal/store"
	"github.com/sznuper/overwatch/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	srv   *Server
	store *store.Memory
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := store.NewMemory()
	reg := handler.NewRegistry(handler.Deps{})
	checks := []*check.Check{
		{
			Name:    "disk",
			Command: map[string]any{"cmd": "echo full; exit 2"},
			Timeout: 5 * time.Second,
			Meta:    map[string]any{"owner": "infra"},
		},
		{
			Name:     "remote",
			Command:  map[string]any{"cmd": "true"},
			Target:   "web-*",
			Timeout:  time.Second,
			Schedule: check.Schedule{Every: time.Minute},
			Meta:     map[string]any{},
		},
	}
	pipeline := handler.NewPipeline(reg, st, quietLogger(), time.Second)
	r := runner.New(runner.Options{
		Store:    st,
		Pipeline: pipeline,
		Local:    transport.NewLocal(t.TempDir(), quietLogger()),
		Logger:   quietLogger(),
	}, checks)

	gin.SetMode(gin.TestMode)
	srv := New(Deps{Runner: r, Store: st, Pipeline: pipeline}, opts, quietLogger())
	return &fixture{srv: srv, store: st}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding %s %s: %v (body %q)", method, path, err, rec.Body.String())
	}
	return rec, resp
}

func TestChecks_ListAndGet(t *testing.T) {
	f := newFixture(t, Options{})
	rec, resp := f.do(t, http.MethodGet, "/api/v1/checks", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	list, _ := resp.Data.([]any)
	if len(list) != 2 {
		t.Fatalf("checks = %v", resp.Data)
	}
	first := list[0].(map[string]any)
	if first["name"] != "disk" || first["enabled"] != true {
		t.Errorf("first check = %v", first)
	}
	second := list[1].(map[string]any)
	if second["schedule"] != "@every 1m0s" || second["target"] != "web-*" {
		t.Errorf("second check = %v", second)
	}

	rec, _ = f.do(t, http.MethodGet, "/api/v1/checks/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown check status = %d, want 404", rec.Code)
	}
}

func TestChecks_RunAndResolve(t *testing.T) {
	f := newFixture(t, Options{})

	rec, resp := f.do(t, http.MethodPost, "/api/v1/checks/disk/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, body %s", rec.Code, rec.Body)
	}
	data := resp.Data.(map[string]any)
	local := data["results"].(map[string]any)[transport.LocalTarget].(map[string]any)
	if local["retcode"] != float64(2) || local["alert_status"] != "ERROR" {
		t.Errorf("local result = %v", local)
	}
	if tr := data["transitions"].(map[string]any); tr["ERROR"] == nil {
		t.Errorf("transitions = %v, want ERROR", tr)
	}

	_, resp = f.do(t, http.MethodGet, "/api/v1/alerts", "")
	if alerts := resp.Data.([]any); len(alerts) != 1 {
		t.Fatalf("alerts = %v, want one", resp.Data)
	}

	rec, _ = f.do(t, http.MethodPost, "/api/v1/alerts/resolve", `{"alerts":[{"target":"local","check":"disk"}]}`, "X-User", "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body %s", rec.Code, rec.Body)
	}
	_, resp = f.do(t, http.MethodGet, "/api/v1/alerts", "")
	if alerts, _ := resp.Data.([]any); len(alerts) != 0 {
		t.Errorf("alerts after resolve = %v", resp.Data)
	}

	_, resp = f.do(t, http.MethodGet, "/api/v1/checks/disk", "")
	results := resp.Data.(map[string]any)["results"].([]any)
	if len(results) != 1 || results[0].(map[string]any)["alert_status"] != "OK" {
		t.Errorf("results = %v", results)
	}
}

func TestChecks_RunErrors(t *testing.T) {
	f := newFixture(t, Options{})

	rec, resp := f.do(t, http.MethodPost, "/api/v1/checks/remote/run", "")
	if rec.Code != http.StatusBadGateway || resp.Error == nil || resp.Error.Code != "TRANSPORT_ERROR" {
		t.Errorf("remote run = %d %+v, want 502 TRANSPORT_ERROR", rec.Code, resp.Error)
	}

	f.do(t, http.MethodPost, "/api/v1/checks/disk/disable", "")
	rec, resp = f.do(t, http.MethodPost, "/api/v1/checks/disk/run", "")
	if rec.Code != http.StatusOK || resp.Data.(map[string]any)["skipped"] != runner.SkippedDisabled {
		t.Errorf("disabled run = %d %v", rec.Code, resp.Data)
	}
}

func TestResolve_Validation(t *testing.T) {
	f := newFixture(t, Options{})
	for _, body := range []string{`{}`, `{"alerts":[]}`, `{"alerts":[{"target":"h1"}]}`, `not json`} {
		rec, resp := f.do(t, http.MethodPost, "/api/v1/alerts/resolve", body)
		if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != "VALIDATION_ERROR" {
			t.Errorf("body %s: status = %d", body, rec.Code)
		}
	}
}

func TestTargets_Toggles(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := t.Context()

	f.do(t, http.MethodPost, "/api/v1/targets/web-01/disable", "")
	if ok, _ := f.store.IsTargetEnabled(ctx, "web-01"); ok {
		t.Error("target still enabled")
	}
	_, resp := f.do(t, http.MethodGet, "/api/v1/targets/web-01", "")
	if resp.Data.(map[string]any)["enabled"] != false {
		t.Errorf("target view = %v", resp.Data)
	}

	f.do(t, http.MethodPost, "/api/v1/targets/web-01/checks/remote/disable", "")
	if ok, _ := f.store.IsTargetCheckEnabled(ctx, "web-01", "remote"); ok {
		t.Error("pair still enabled")
	}
	rec, _ := f.do(t, http.MethodPost, "/api/v1/targets/web-01/checks/nope/disable", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown pair check status = %d, want 404", rec.Code)
	}

	f.do(t, http.MethodPost, "/api/v1/checks/disk/run", "")
	rec, _ = f.do(t, http.MethodDelete, "/api/v1/targets/local", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rs, _ := f.store.ListResults(ctx, store.Filter{Target: "local"}); len(rs) != 0 {
		t.Errorf("results after delete = %d", len(rs))
	}
}

func TestHandlers_List(t *testing.T) {
	f := newFixture(t, Options{})
	_, resp := f.do(t, http.MethodGet, "/api/v1/handlers", "")
	names := map[string]bool{}
	for _, h := range resp.Data.([]any) {
		m := h.(map[string]any)
		names[m["name"].(string)] = m["batch"].(bool)
	}
	for _, want := range []string{"log", "absorb", "mutate", "fork", "alias", "mail", "notify"} {
		if _, ok := names[want]; !ok {
			t.Errorf("handler %s missing", want)
		}
	}
	if names["mutate"] {
		t.Error("mutate reported as batch capable")
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{RequestsPerSecond: 1, Burst: 2})
	codes := make([]int, 0, 3)
	for range 3 {
		rec, _ := f.do(t, http.MethodGet, "/api/v1/ping", "")
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want 200 200 429", codes)
	}
}
