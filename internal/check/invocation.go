package check

import (
	"fmt"
	"maps"
	"sort"
)

// Invocation is one entry of a handler list: a handler name and the
// parameters bound to it. String parameter values may hold templates.
type Invocation struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// UnmarshalYAML accepts either a bare handler name or a single-key map of
// name to parameters:
//
//	- log
//	- absorb: {count: 3}
//	- mail:
func (inv *Invocation) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		if name == "" {
			return fmt.Errorf("handler: empty name")
		}
		inv.Name = name
		return nil
	}

	var obj map[string]any
	if err := unmarshal(&obj); err != nil {
		return fmt.Errorf("handler: must be a name or a single-key map of name to params")
	}
	if len(obj) != 1 {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Errorf("handler: expected exactly one handler name, got %v", keys)
	}
	for k, v := range obj {
		params, err := toParams(v)
		if err != nil {
			return fmt.Errorf("handler %q: %w", k, err)
		}
		inv.Name = k
		inv.Params = params
	}
	return nil
}

func toParams(v any) (map[string]any, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return p, nil
	case map[any]any:
		out := make(map[string]any, len(p))
		for k, val := range p {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("params must be a map, got %T", v)
	}
}

// ParseInvocations converts a generic decoded list (as found inside handler
// params, e.g. a fork's sub-list) into invocations.
func ParseInvocations(v any) ([]Invocation, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []Invocation:
		return list, nil
	case []any:
		out := make([]Invocation, 0, len(list))
		for i, item := range list {
			inv, err := parseInvocation(item)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			out = append(out, inv)
		}
		return out, nil
	case []map[string]any:
		out := make([]Invocation, 0, len(list))
		for i, item := range list {
			inv, err := parseInvocation(item)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			out = append(out, inv)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("handler list must be a sequence, got %T", v)
	}
}

func parseInvocation(item any) (Invocation, error) {
	switch it := item.(type) {
	case string:
		if it == "" {
			return Invocation{}, fmt.Errorf("empty handler name")
		}
		return Invocation{Name: it}, nil
	case Invocation:
		return it, nil
	case map[any]any:
		m := make(map[string]any, len(it))
		for k, v := range it {
			m[fmt.Sprint(k)] = v
		}
		return parseInvocation(m)
	case map[string]any:
		if len(it) != 1 {
			return Invocation{}, fmt.Errorf("expected exactly one handler name, got %d keys", len(it))
		}
		for k, v := range it {
			params, err := toParams(v)
			if err != nil {
				return Invocation{}, fmt.Errorf("handler %q: %w", k, err)
			}
			return Invocation{Name: k, Params: params}, nil
		}
	}
	return Invocation{}, fmt.Errorf("unsupported handler entry %T", item)
}

// CloneParams returns a shallow copy of the parameters.
func (inv Invocation) CloneParams() map[string]any {
	out := make(map[string]any, len(inv.Params))
	maps.Copy(out, inv.Params)
	return out
}
