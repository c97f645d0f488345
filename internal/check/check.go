// Package check holds the data model of the monitoring engine: check
// definitions, per-target results, alerts and normalized statuses.
package check

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Match modes understood by transports.
const (
	MatchGlob = "glob"
	MatchList = "list"
	MatchPCRE = "pcre"
)

// DefaultTimeout bounds a dispatch when the check does not set one.
const DefaultTimeout = 10 * time.Second

// Check is the immutable configuration of one health check.
type Check struct {
	Name      string
	Command   map[string]any
	Target    string
	MatchMode string
	Timeout   time.Duration
	Schedule  Schedule
	Handlers  []Invocation
	Raised    []Invocation
	Resolved  []Invocation
	Meta      map[string]any
}

// Local reports whether the check runs only on the local host.
func (c *Check) Local() bool { return c.Target == "" }

// Definition is the configuration form of a Check. Pointer fields
// distinguish "unset" from a zero value.
type Definition struct {
	Command   map[string]any `yaml:"command" validate:"required,min=1"`
	Target    string         `yaml:"target"`
	MatchMode *string        `yaml:"match_mode" validate:"omitempty,oneof=glob list pcre"`
	Timeout   *int           `yaml:"timeout" validate:"omitempty,min=1"`
	Schedule  Schedule       `yaml:"schedule"`
	Handlers  []Invocation   `yaml:"handlers" validate:"dive"`
	Raised    []Invocation   `yaml:"raised" validate:"dive"`
	Resolved  []Invocation   `yaml:"resolved" validate:"dive"`
	Meta      map[string]any `yaml:"meta"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New validates a definition and builds the Check named name.
func New(name string, def Definition) (*Check, error) {
	if strings.TrimSpace(name) == "" {
		return nil, Invalidf("check", "name is required")
	}
	if err := validate.Struct(def); err != nil {
		return nil, Invalidf(name, "%s", describe(err))
	}
	if def.Target == "" && (def.MatchMode != nil || def.Timeout != nil) {
		return nil, Invalidf(name, "match_mode and timeout require a target")
	}
	if def.Timeout != nil && *def.Timeout <= 0 {
		return nil, Invalidf(name, "timeout must be positive")
	}
	if err := def.Schedule.Validate(); err != nil {
		return nil, Invalidf(name, "%v", err)
	}
	for _, list := range [][]Invocation{def.Handlers, def.Raised, def.Resolved} {
		for i, inv := range list {
			if inv.Name == "" {
				return nil, Invalidf(name, "handler %d has no name", i)
			}
		}
	}

	c := &Check{
		Name:     name,
		Command:  def.Command,
		Target:   def.Target,
		Timeout:  DefaultTimeout,
		Schedule: def.Schedule,
		Handlers: def.Handlers,
		Raised:   def.Raised,
		Resolved: def.Resolved,
		Meta:     def.Meta,
	}
	if c.Target != "" {
		c.MatchMode = MatchGlob
	}
	if def.MatchMode != nil {
		c.MatchMode = *def.MatchMode
	}
	if def.Timeout != nil {
		c.Timeout = time.Duration(*def.Timeout) * time.Second
	}
	if c.Meta == nil {
		c.Meta = map[string]any{}
	}
	return c, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
