// Package interval decides when a job is due from its last run and its
// interval string.
package interval

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrConfiguration marks a malformed interval or job definition.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError describes an interval that cannot be evaluated.
type ConfigurationError struct {
	Interval string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid interval %q: %s", e.Interval, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func configErr(raw, format string, args ...any) error {
	return &ConfigurationError{Interval: raw, Reason: fmt.Sprintf(format, args...)}
}

type Kind int

const (
	KindDuration Kind = iota
	KindCron
	KindRelative
)

func (k Kind) String() string {
	switch k {
	case KindDuration:
		return "duration"
	case KindCron:
		return "cron"
	case KindRelative:
		return "relative"
	default:
		return "unknown"
	}
}

// Spec is a parsed interval.
type Spec struct {
	raw      string
	kind     Kind
	offset   calendarOffset
	schedule cron.Schedule
	relative *relativeExpr
}

// calendarOffset keeps date parts apart from clock parts so that "1 month"
// follows calendar arithmetic while "90 minutes" stays a fixed offset.
type calendarOffset struct {
	years  int
	months int
	days   int
	clock  time.Duration
}

func (o calendarOffset) isZero() bool {
	return o.years == 0 && o.months == 0 && o.days == 0 && o.clock == 0
}

func (o calendarOffset) addTo(t time.Time) time.Time {
	return t.AddDate(o.years, o.months, o.days).Add(o.clock)
}

// Parse recognises, in order: ISO-8601 durations ("PT15M"), human durations
// ("15 minutes"), Go durations ("15m"), cron expressions ("cron:0 5 * * *",
// "@daily") and relative expressions ("next day 05:00").
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, configErr(raw, "interval required")
	}

	if strings.HasPrefix(s, "P") {
		off, err := parseISODuration(s)
		if err != nil {
			return Spec{}, configErr(raw, "%v", err)
		}
		return Spec{raw: raw, kind: KindDuration, offset: off}, nil
	}

	if off, ok := parseHumanDuration(s); ok {
		if off.isZero() {
			return Spec{}, configErr(raw, "interval must be > 0")
		}
		return Spec{raw: raw, kind: KindDuration, offset: off}, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Spec{}, configErr(raw, "interval must be > 0")
		}
		return Spec{raw: raw, kind: KindDuration, offset: calendarOffset{clock: d}}, nil
	}

	if expr, ok := cronCandidate(s); ok {
		sched, err := cron.ParseStandard(expr)
		if err == nil {
			return Spec{raw: raw, kind: KindCron, schedule: sched}, nil
		}
		if strings.HasPrefix(strings.ToLower(s), "cron:") || strings.HasPrefix(s, "@") {
			return Spec{}, configErr(raw, "%v", err)
		}
	}

	rel, err := parseRelative(s)
	if err != nil {
		return Spec{}, configErr(raw, "%v", err)
	}
	return Spec{raw: raw, kind: KindRelative, relative: rel}, nil
}

// MustParse is Parse for intervals known at compile time.
func MustParse(raw string) Spec {
	spec, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return spec
}

func (s Spec) Kind() Kind { return s.kind }

func (s Spec) String() string { return s.raw }

// Next returns the first run instant after base.
func (s Spec) Next(base time.Time) (time.Time, error) {
	switch s.kind {
	case KindDuration:
		return s.offset.addTo(base), nil
	case KindCron:
		next := s.schedule.Next(base)
		if next.IsZero() {
			return time.Time{}, configErr(s.raw, "schedule never fires")
		}
		return next, nil
	case KindRelative:
		next, ok := s.relative.next(base)
		if !ok {
			return time.Time{}, configErr(s.raw, "expression does not advance past %s", base.Format(time.RFC3339))
		}
		return next, nil
	default:
		return time.Time{}, configErr(s.raw, "unparsed interval")
	}
}

func cronCandidate(s string) (string, bool) {
	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		return strings.TrimSpace(s[len("cron:"):]), true
	}
	if strings.HasPrefix(s, "@") {
		return s, true
	}
	fields := strings.Fields(s)
	if len(fields) != 5 {
		return "", false
	}
	numeric := false
	for _, f := range fields {
		for _, r := range f {
			switch {
			case r >= '0' && r <= '9', r == '*':
				numeric = true
			case r == '/', r == ',', r == '-', r == '?':
			case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			default:
				return "", false
			}
		}
	}
	return s, numeric
}
