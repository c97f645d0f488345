package transport

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Command is the decoded form of a check's command map:
//
//	command: {cmd: "df -h /", env: {LANG: C}}
//	command: {script: "file://disk.sh", args: {mount: /}}
type Command struct {
	Cmd    string            `mapstructure:"cmd"`
	Script string            `mapstructure:"script"`
	Args   map[string]any    `mapstructure:"args"`
	Env    map[string]string `mapstructure:"env"`
	Cwd    string            `mapstructure:"cwd"`
}

// ParseCommand decodes a command map. Exactly one of cmd and script is
// required.
func ParseCommand(m map[string]any) (Command, error) {
	var c Command
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return c, err
	}
	if err := dec.Decode(m); err != nil {
		return c, fmt.Errorf("command: %w", err)
	}
	if (c.Cmd == "") == (c.Script == "") {
		return c, fmt.Errorf("command: exactly one of cmd or script is required")
	}
	return c, nil
}

// Environ returns the extra environment of the command: env entries as
// given and args as CHECK_ARG_<NAME>, sorted for stable output.
func (c Command) Environ() []string {
	var env []string
	for _, k := range slices.Sorted(maps.Keys(c.Env)) {
		env = append(env, k+"="+c.Env[k])
	}
	for _, k := range slices.Sorted(maps.Keys(c.Args)) {
		env = append(env, "CHECK_ARG_"+strings.ToUpper(k)+"="+fmt.Sprint(c.Args[k]))
	}
	return env
}

// Line renders the command as a single shell line with its environment
// exported in front, for remote execution.
func (c Command) Line() (string, error) {
	if c.Cmd == "" {
		return "", fmt.Errorf("script commands only run on the local transport")
	}
	var b strings.Builder
	for _, kv := range c.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		fmt.Fprintf(&b, "export %s=%s; ", k, shellQuote(v))
	}
	if c.Cwd != "" {
		fmt.Fprintf(&b, "cd %s && ", shellQuote(c.Cwd))
	}
	b.WriteString(c.Cmd)
	return b.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
