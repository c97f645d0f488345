// Package transport dispatches check commands to targets and collects
// their answers.
package transport

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Response is one target's answer to a dispatch.
type Response struct {
	ReturnCode int
	Stdout     string
	Stderr     string
}

// Transport resolves target selectors and runs commands on targets.
type Transport interface {
	// ResolveTargets lists the targets a selector matches. A nil slice
	// means the transport cannot tell before dispatching.
	ResolveTargets(ctx context.Context, selector, mode string) ([]string, error)
	// Dispatch runs command on the targets matched by selector. Targets
	// that did not answer within timeout are absent from the result.
	Dispatch(ctx context.Context, selector, mode string, command map[string]any, timeout time.Duration) (map[string]Response, error)
}

// Match returns the names a selector matches under mode, in the order
// of names.
func Match(names []string, selector, mode string) ([]string, error) {
	var keep func(string) bool

	switch mode {
	case "", "glob":
		if _, err := path.Match(selector, ""); err != nil {
			return nil, fmt.Errorf("glob %q: %w", selector, err)
		}
		keep = func(n string) bool {
			ok, _ := path.Match(selector, n)
			return ok
		}
	case "list":
		var want []string
		for _, s := range strings.Split(selector, ",") {
			if s = strings.TrimSpace(s); s != "" {
				want = append(want, s)
			}
		}
		keep = func(n string) bool { return slices.Contains(want, n) }
	case "pcre":
		re, err := regexp.Compile(`^(?:` + selector + `)$`)
		if err != nil {
			return nil, fmt.Errorf("pcre %q: %w", selector, err)
		}
		keep = re.MatchString
	default:
		return nil, fmt.Errorf("unknown match mode %q", mode)
	}

	out := []string{}
	for _, n := range names {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out, nil
}
