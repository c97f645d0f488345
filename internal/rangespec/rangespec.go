// Package rangespec parses compact integer-set notation such as
// "0,2,100-104,400-" used to match check return codes.
package rangespec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is wrapped by every parse failure.
var ErrInvalid = errors.New("invalid range spec")

// Error reports the offending token of a spec.
type Error struct {
	Spec  string
	Token string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid range spec %q: token %q: %s", e.Spec, e.Token, e.Msg)
}

func (e *Error) Unwrap() error { return ErrInvalid }

// span is an inclusive range; open spans have no upper bound.
type span struct {
	lo, hi int
	open   bool
}

func (s span) contains(v int) bool {
	if v < s.lo {
		return false
	}
	return s.open || v <= s.hi
}

// Spec is a parsed range specification. The zero value contains nothing.
type Spec struct {
	raw   string
	spans []span
}

// Parse parses a comma-separated list of integers and inclusive lo-hi ranges.
// Integers may be negative. Only the last entry may be an open range ("lo-").
func Parse(s string) (Spec, error) {
	out := Spec{raw: s}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}

	tokens := strings.Split(s, ",")
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		fail := func(msg string) (Spec, error) {
			return Spec{}, &Error{Spec: s, Token: tok, Msg: msg}
		}
		if tok == "" {
			return fail("empty entry")
		}

		if n, err := parseInt(tok); err == nil {
			out.spans = append(out.spans, span{lo: n, hi: n})
			continue
		}
		// A leading minus belongs to the start, so "-5--1" splits after "-5".
		sep := strings.Index(tok[1:], "-")
		if sep < 0 {
			return fail("not an integer")
		}
		lo, hi := tok[:sep+1], tok[sep+2:]

		start, err := parseInt(lo)
		if err != nil {
			return fail("range start is not an integer")
		}
		if strings.TrimSpace(hi) == "" {
			if i != len(tokens)-1 {
				return fail("open range must be the last entry")
			}
			out.spans = append(out.spans, span{lo: start, open: true})
			continue
		}
		end, err := parseInt(hi)
		if err != nil {
			return fail("range end is not an integer")
		}
		if end < start {
			return fail("range end is below start")
		}
		out.spans = append(out.spans, span{lo: start, hi: end})
	}
	return out, nil
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] == '+' {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s)
}

// Contains reports whether v matches any entry of the spec.
func (s Spec) Contains(v int) bool {
	for _, sp := range s.spans {
		if sp.contains(v) {
			return true
		}
	}
	return false
}

// Empty reports whether the spec has no entries.
func (s Spec) Empty() bool { return len(s.spans) == 0 }

func (s Spec) String() string { return s.raw }
