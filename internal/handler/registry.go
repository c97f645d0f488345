package handler

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/notify"
)

// Alias is a named, reusable handler list with default render arguments.
type Alias struct {
	Name     string             `yaml:"-"`
	Handlers []check.Invocation `yaml:"handlers" validate:"required,min=1"`
	Args     map[string]any     `yaml:"args"`
}

// Deps are the collaborators the built-in handlers deliver through.
type Deps struct {
	Notifier *notify.Notifier
	Mail     notify.MailConfig
}

// Registry maps handler names to specs. Aliases share its namespace.
type Registry struct {
	mu      sync.RWMutex
	specs   map[string]Spec
	aliases map[string]Alias
}

// NewRegistry returns a registry holding the built-in handlers.
func NewRegistry(deps Deps) *Registry {
	if deps.Notifier == nil {
		deps.Notifier = notify.NewNotifier(nil, nil)
	}
	reg := &Registry{
		specs:   make(map[string]Spec),
		aliases: make(map[string]Alias),
	}
	for _, s := range []Spec{
		logSpec(),
		absorbSpec(),
		mutateSpec(),
		forkSpec(),
		aliasSpec(reg),
		mailSpec(deps),
		notifySpec(deps),
	} {
		reg.specs[s.Name] = s
	}
	return reg
}

// Register adds or replaces a handler.
func (r *Registry) Register(s Spec) error {
	if s.Name == "" {
		return fmt.Errorf("handler spec has no name")
	}
	if s.New == nil && s.NewBatch == nil {
		return fmt.Errorf("handler %s: no constructor", s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.aliases[s.Name]; ok {
		return check.Invalidf(s.Name, "handler name collides with an alias")
	}
	r.specs[s.Name] = s
	return nil
}

// AddAlias registers an alias under its own name.
func (r *Registry) AddAlias(a Alias) error {
	if a.Name == "" {
		return check.Invalidf("alias", "name is required")
	}
	if len(a.Handlers) == 0 {
		return check.Invalidf(a.Name, "alias has no handlers")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[a.Name]; ok {
		if _, isAlias := r.aliases[a.Name]; !isAlias {
			return check.Invalidf(a.Name, "alias collides with handler %q", a.Name)
		}
	}
	r.aliases[a.Name] = a
	name := a.Name
	r.specs[name] = Spec{
		Name: name,
		Doc:  "Alias for " + describeList(a.Handlers),
		New: func(p Params) (Handler, error) {
			return &aliasHandler{reg: r, name: name, args: p}, nil
		},
		NewBatch: func(p Params) (BatchHandler, error) {
			return &aliasHandler{reg: r, name: name, args: p}, nil
		},
	}
	return nil
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w %q", ErrUnknownHandler, name)
	}
	return s, nil
}

// Alias returns the alias registered under name.
func (r *Registry) Alias(name string) (Alias, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.aliases[name]
	if !ok {
		return Alias{}, fmt.Errorf("%w %q", ErrUnknownAlias, name)
	}
	return a, nil
}

// Specs lists every registered handler sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Sorted(maps.Keys(r.specs))
	out := make([]Spec, len(names))
	for i, n := range names {
		out[i] = r.specs[n]
	}
	return out
}

// Validate builds every invocation whose params hold no templates, so
// parameter mistakes surface at load time. Unknown names are left to fail
// at run time. Batch lists reject handlers without an alert variant.
func (r *Registry) Validate(list []check.Invocation, batch bool) error {
	for _, inv := range list {
		s, err := r.Lookup(inv.Name)
		if err != nil {
			continue
		}
		if batch && s.NewBatch == nil {
			return check.Invalidf(inv.Name, "handler cannot run on alert batches")
		}
		if !batch && s.New == nil {
			return check.Invalidf(inv.Name, "handler only runs on alert batches")
		}
		if templated(inv.Params) {
			continue
		}

		var built any
		if batch {
			built, err = s.NewBatch(inv.Params)
		} else {
			built, err = s.New(inv.Params)
		}
		if err != nil {
			return asValidation(inv.Name, err)
		}
		if n, ok := built.(interface{ nested() []check.Invocation }); ok {
			if err := r.Validate(n.nested(), batch); err != nil {
				return err
			}
		}
	}
	return nil
}

func templated(p map[string]any) bool {
	for _, v := range p {
		if s, ok := v.(string); ok && strings.Contains(s, "{{") {
			return true
		}
	}
	return false
}

func asValidation(name string, err error) error {
	var verr *check.ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return check.Invalidf(name, "%v", err)
}

func describeList(list []check.Invocation) string {
	names := make([]string, len(list))
	for i, inv := range list {
		names[i] = inv.Name
	}
	return strings.Join(names, ", ")
}
