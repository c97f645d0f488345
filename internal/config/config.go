// Package config loads the monitoring definition file: checks, handler
// aliases, notification services, the SSH inventory and delivery settings.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/events"
	"github.com/sznuper/overwatch/internal/handler"
	"github.com/sznuper/overwatch/internal/notify"
	"github.com/sznuper/overwatch/internal/transport"
)

type Config struct {
	Options   Options                     `yaml:"options"`
	Services  map[string]notify.Service   `yaml:"services" validate:"dive"`
	Inventory map[string]transport.Host   `yaml:"inventory" validate:"dive"`
	SSH       transport.SSHOptions        `yaml:"ssh"`
	Mail      notify.MailConfig           `yaml:"mail"`
	Elastic   events.ElasticConfig        `yaml:"elastic"`
	AliasDefs map[string]handler.Alias    `yaml:"aliases" validate:"dive"`
	CheckDefs map[string]check.Definition `yaml:"checks"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`

	checks  []*check.Check
	aliases []handler.Alias
}

type Options struct {
	// ChecksDir holds extra *.yaml files, each a map of check name to
	// definition. Relative paths are resolved against the config file.
	ChecksDir  string `yaml:"checks_dir"`
	ScriptsDir string `yaml:"scripts_dir"`
	// RequiredMeta lists meta keys every check must define.
	RequiredMeta []string `yaml:"required_meta"`
	// HandlerTimeout bounds one handler call, in seconds.
	HandlerTimeout int `yaml:"handler_timeout" validate:"min=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Override adjusts the options read from the file before checks are built.
type Override func(*Options)

// Load reads, expands and validates the configuration at path.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&cfg.Options)
	}
	cfg.Path = path
	base := filepath.Dir(path)
	cfg.Options.ChecksDir = resolveDir(base, cfg.Options.ChecksDir)
	cfg.Options.ScriptsDir = resolveDir(base, cfg.Options.ScriptsDir)

	if err := cfg.loadChecksDir(); err != nil {
		return nil, err
	}
	if err := cfg.build(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	data, err = envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("expanding env vars: %w", err)
	}

	var cfg Config
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.CheckDefs == nil {
		cfg.CheckDefs = map[string]check.Definition{}
	}
	return &cfg, nil
}

func resolveDir(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}

// loadChecksDir merges every *.yaml and *.yml file of ChecksDir into
// CheckDefs. A name defined twice is an error.
func (c *Config) loadChecksDir() error {
	if c.Options.ChecksDir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.Options.ChecksDir)
	if err != nil {
		return fmt.Errorf("reading checks_dir: %w", err)
	}

	origin := make(map[string]string, len(c.CheckDefs))
	for name := range c.CheckDefs {
		origin[name] = c.Path
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(c.Options.ChecksDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if data, err = envsubst.Bytes(data); err != nil {
			return fmt.Errorf("expanding env vars in %s: %w", path, err)
		}
		var defs map[string]check.Definition
		if err := yaml.UnmarshalWithOptions(data, &defs, yaml.Strict()); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		for name, def := range defs {
			if prev, ok := origin[name]; ok {
				return check.Invalidf(name, "check defined in both %s and %s", prev, path)
			}
			origin[name] = path
			c.CheckDefs[name] = def
		}
	}
	return nil
}

func (c *Config) build() error {
	if err := validate.Struct(c); err != nil {
		return check.Invalidf("config", "%v", err)
	}

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(c.CheckDefs)) {
		ch, err := check.New(name, c.CheckDefs[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if missing := missingMeta(ch.Meta, c.Options.RequiredMeta); len(missing) > 0 {
			errs = append(errs, check.Invalidf(name, "missing required meta %s", strings.Join(missing, ", ")))
			continue
		}
		c.checks = append(c.checks, ch)
	}

	for _, name := range slices.Sorted(maps.Keys(c.AliasDefs)) {
		if _, ok := c.CheckDefs[name]; ok {
			errs = append(errs, check.Invalidf(name, "alias collides with a check of the same name"))
			continue
		}
		a := c.AliasDefs[name]
		a.Name = name
		c.aliases = append(c.aliases, a)
	}

	for name, h := range c.Inventory {
		if h.Address == "" {
			h.Address = name
			c.Inventory[name] = h
		}
	}
	return errors.Join(errs...)
}

func missingMeta(meta map[string]any, required []string) []string {
	var missing []string
	for _, key := range required {
		if _, ok := meta[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// Checks returns the validated checks sorted by name.
func (c *Config) Checks() []*check.Check { return c.checks }

// Aliases returns the handler aliases sorted by name.
func (c *Config) Aliases() []handler.Alias { return c.aliases }

// HandlerTimeout returns the configured handler timeout, or zero for the
// pipeline default.
func (c *Config) HandlerTimeout() time.Duration {
	return time.Duration(c.Options.HandlerTimeout) * time.Second
}

// Deps builds the delivery collaborators of the built-in handlers.
func (c *Config) Deps(sender notify.Sender) handler.Deps {
	return handler.Deps{
		Notifier: notify.NewNotifier(c.Services, sender),
		Mail:     c.Mail,
	}
}

// Registry builds a handler registry holding the built-ins and the
// configured aliases, and checks every handler list of every check
// against it.
func (c *Config) Registry(deps handler.Deps) (*handler.Registry, error) {
	reg := handler.NewRegistry(deps)
	for _, a := range c.aliases {
		if err := reg.AddAlias(a); err != nil {
			return nil, err
		}
	}

	var errs []error
	for _, ch := range c.checks {
		for _, l := range []struct {
			name  string
			list  []check.Invocation
			batch bool
		}{
			{"handlers", ch.Handlers, false},
			{"raised", ch.Raised, true},
			{"resolved", ch.Resolved, true},
		} {
			if err := reg.Validate(l.list, l.batch); err != nil {
				errs = append(errs, fmt.Errorf("check %s %s: %w", ch.Name, l.name, err))
			}
		}
	}
	return reg, errors.Join(errs...)
}

// TargetNames lists the inventory, sorted.
func (c *Config) TargetNames() []string {
	return slices.Sorted(maps.Keys(c.Inventory))
}
