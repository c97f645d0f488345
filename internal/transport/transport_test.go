package transport

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	names := []string{"db-1", "db-2", "web-1", "web-10"}
	tests := []struct {
		selector string
		mode     string
		want     string
	}{
		{"*", "glob", "db-1 db-2 web-1 web-10"},
		{"db-*", "glob", "db-1 db-2"},
		{"web-?", "", "web-1"},
		{"web-1, db-2,nope", "list", "db-2 web-1"},
		{`web-\d+`, "pcre", "web-1 web-10"},
		{`web-1`, "pcre", "web-1"},
		{"zzz*", "glob", ""},
	}
	for _, tt := range tests {
		got, err := Match(names, tt.selector, tt.mode)
		if err != nil {
			t.Fatalf("Match(%q, %q): unexpected error: %v", tt.selector, tt.mode, err)
		}
		if strings.Join(got, " ") != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %q", tt.selector, tt.mode, got, tt.want)
		}
	}
}

func TestMatch_Errors(t *testing.T) {
	tests := []struct{ selector, mode string }{
		{"[", "glob"},
		{"(", "pcre"},
		{"x", "grain"},
	}
	for _, tt := range tests {
		if _, err := Match([]string{"a"}, tt.selector, tt.mode); err == nil {
			t.Errorf("Match(%q, %q): expected error", tt.selector, tt.mode)
		}
	}
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand(map[string]any{
		"cmd":  "df -h",
		"env":  map[string]any{"LANG": "C"},
		"args": map[string]any{"mount": "/", "limit": 90},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "LANG=C CHECK_ARG_LIMIT=90 CHECK_ARG_MOUNT=/"
	if got := strings.Join(c.Environ(), " "); got != want {
		t.Errorf("environ = %q, want %q", got, want)
	}
	line, err := c.Line()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line != "export LANG='C'; export CHECK_ARG_LIMIT='90'; export CHECK_ARG_MOUNT='/'; df -h" {
		t.Errorf("line = %q", line)
	}
}

func TestParseCommand_Errors(t *testing.T) {
	tests := []map[string]any{
		{},
		{"cmd": "a", "script": "file://b"},
		{"cmd": "a", "shell": "bash"},
	}
	for _, m := range tests {
		if _, err := ParseCommand(m); err == nil {
			t.Errorf("ParseCommand(%v): expected error", m)
		}
	}
	c, _ := ParseCommand(map[string]any{"script": "file://x"})
	if _, err := c.Line(); err == nil {
		t.Error("script commands should not render for remote execution")
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("it's"); got != `'it'\''s'` {
		t.Errorf("got %s", got)
	}
}

func TestLocal_Dispatch(t *testing.T) {
	l := NewLocal("", nil)
	targets, _ := l.ResolveTargets(context.Background(), "", "")
	if len(targets) != 1 || targets[0] != LocalTarget {
		t.Errorf("targets = %v, want [local]", targets)
	}

	out, err := l.Dispatch(context.Background(), "", "", map[string]any{
		"cmd":  "echo $CHECK_ARG_WHO; echo oops >&2; exit 1",
		"args": map[string]any{"who": "me"},
	}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, ok := out[LocalTarget]
	if !ok {
		t.Fatal("no response for local target")
	}
	if resp.ReturnCode != 1 || resp.Stdout != "me\n" || resp.Stderr != "oops\n" {
		t.Errorf("response = %+v", resp)
	}
}

func TestLocal_Script(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, dir, "disk.sh", "#!/bin/sh\necho usage=97\nexit 2\n")
	l := NewLocal(dir, nil)

	out, err := l.Dispatch(context.Background(), "", "", map[string]any{"script": "file://disk.sh"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[LocalTarget].ReturnCode != 2 {
		t.Errorf("retcode = %d, want 2", out[LocalTarget].ReturnCode)
	}

	if _, err := l.Dispatch(context.Background(), "", "", map[string]any{"script": "file://missing.sh"}, time.Second); err == nil {
		t.Error("expected error for missing script")
	}
}

func TestLocal_TimeoutIsNoAnswer(t *testing.T) {
	l := NewLocal("", nil)
	out, err := l.Dispatch(context.Background(), "", "", map[string]any{"cmd": "sleep 5"}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("responses = %v, want none", out)
	}
}
