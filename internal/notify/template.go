package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/sznuper/overwatch/internal/check"
)

// Render executes a Go text/template string with Sprig functions against
// data. Strings without actions are returned as is. Referencing a missing
// key is an error.
func Render(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	t, err := template.New("param").
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return buf.String(), nil
}

// StatusEmoji returns a marker for a status, handy in chat messages.
func StatusEmoji(s check.Status) string {
	switch s {
	case check.Error:
		return "\U0001f534" // 🔴
	case check.Warn:
		return "\U0001f7e1" // 🟡
	case check.OK:
		return "\U0001f7e2" // 🟢
	default:
		return "❓" // ❓
	}
}

// Subject builds "[RESOLVED|WARNING|ERROR] <check> on <target | N targets>".
func Subject(name string, status check.Status, results []*check.Result) string {
	var title string
	switch status {
	case check.OK:
		title = "RESOLVED"
	case check.Warn:
		title = "WARNING"
	default:
		title = "ERROR"
	}

	target := fmt.Sprintf("%d targets", len(results))
	if len(results) == 1 {
		target = results[0].Target
	}
	return fmt.Sprintf("[%s] %s on %s", title, name, target)
}

// Body lists every affected target with its repeat count and output.
func Body(name string, status check.Status, results []*check.Result) string {
	action := "failed"
	if status == check.OK {
		action = "succeeded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s on\n", name, action)
	for _, r := range results {
		plural := ""
		if r.Count > 1 {
			plural = "s"
		}
		fmt.Fprintf(&b, "    %s %d time%s\n", r.Target, r.Count, plural)
		if r.Stdout != "" {
			b.WriteString("STDOUT:\n" + r.Stdout)
			if !strings.HasSuffix(r.Stdout, "\n") {
				b.WriteString("\n")
			}
		}
		if r.Stderr != "" {
			b.WriteString("STDERR:\n" + r.Stderr)
			if !strings.HasSuffix(r.Stderr, "\n") {
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// ResolvedBody is the body sent when an operator resolves alerts by hand.
func ResolvedBody(name, user string, results []*check.Result) string {
	targets := make([]string, len(results))
	for i, r := range results {
		targets[i] = r.Target
	}
	return fmt.Sprintf("%s marked resolved by %s on %s", name, user, strings.Join(targets, ", "))
}

// Truncate cuts message to at most max runes; max <= 0 disables it.
func Truncate(message string, max int) string {
	if max <= 0 {
		return message
	}
	r := []rune(message)
	if len(r) <= max {
		return message
	}
	return string(r[:max])
}
