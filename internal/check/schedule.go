package check

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule describes when a check runs: a fixed interval or a cron
// expression. The zero value means the check only runs on demand.
type Schedule struct {
	Every time.Duration
	Cron  string
}

// Spec returns the schedule in robfig/cron syntax, or "" when unscheduled.
func (s Schedule) Spec() string {
	switch {
	case s.Cron != "":
		return s.Cron
	case s.Every > 0:
		return "@every " + s.Every.String()
	default:
		return ""
	}
}

// IsZero reports whether the check is unscheduled.
func (s Schedule) IsZero() bool { return s.Every <= 0 && s.Cron == "" }

// Validate parses the schedule with the standard cron parser.
func (s Schedule) Validate() error {
	if s.Every < 0 {
		return fmt.Errorf("schedule interval must be positive")
	}
	spec := s.Spec()
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

func (s Schedule) String() string { return s.Spec() }

// UnmarshalYAML accepts a duration ("30s"), a bare number of seconds, a cron
// expression ("*/5 * * * *"), or a map of units:
//
//	schedule: {minutes: 1, seconds: 30}
func (s *Schedule) UnmarshalYAML(unmarshal func(any) error) error {
	var secs int
	if err := unmarshal(&secs); err == nil {
		s.Every = time.Duration(secs) * time.Second
		return nil
	}

	var str string
	if err := unmarshal(&str); err == nil {
		return s.parseString(str)
	}

	var units map[string]int
	if err := unmarshal(&units); err != nil {
		return fmt.Errorf("schedule: must be a duration, cron expression or a map of units")
	}
	var total time.Duration
	for unit, n := range units {
		d, ok := scheduleUnits[strings.ToLower(unit)]
		if !ok {
			return fmt.Errorf("schedule: unknown unit %q", unit)
		}
		total += time.Duration(n) * d
	}
	s.Every = total
	return nil
}

var scheduleUnits = map[string]time.Duration{
	"weeks":   7 * 24 * time.Hour,
	"days":    24 * time.Hour,
	"hours":   time.Hour,
	"minutes": time.Minute,
	"seconds": time.Second,
}

func (s *Schedule) parseString(str string) error {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil
	}
	if n, err := strconv.Atoi(str); err == nil {
		s.Every = time.Duration(n) * time.Second
		return nil
	}
	if d, err := time.ParseDuration(str); err == nil {
		s.Every = d
		return nil
	}
	s.Cron = str
	return nil
}
