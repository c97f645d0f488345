package check

import "strings"

// ParseFields extracts KEY=VALUE lines from check stdout so templates can
// refer to structured output. Lines without '=' are ignored; later keys win.
func ParseFields(stdout string) map[string]string {
	fields := make(map[string]string)

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		if key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}

	return fields
}
