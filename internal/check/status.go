package check

import (
	"fmt"
	"strings"
)

// Status is the normalized outcome of a check execution.
type Status int

const (
	OK Status = iota
	Warn
	Error
)

// TimeoutReturnCode is the return code synthesized for targets that never
// answered a dispatch.
const TimeoutReturnCode = 1000

// TimeoutMarker is the stderr of a synthesized timeout result.
const TimeoutMarker = "<< TARGET TIMED OUT >>"

// Normalize maps a raw return code onto a Status: 0 is OK, 1 is WARN and
// anything else is ERROR.
func Normalize(retcode int) Status {
	switch retcode {
	case 0:
		return OK
	case 1:
		return Warn
	default:
		return Error
	}
}

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus accepts the names produced by String, case-insensitively,
// plus the long forms "warning" and "critical".
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ok", "success":
		return OK, nil
	case "warn", "warning":
		return Warn, nil
	case "error", "critical":
		return Error, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
