package interval

import (
	"sync"
	"time"
)

// Sentinel is the anchor used for jobs that have never run. It lies far
// enough in the past that every interval resolves to a due instant.
func Sentinel(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(1969, time.January, 1, 0, 0, 0, 0, loc)
}

// Evaluator computes due instants in a fixed location and memoises parsed
// intervals for the lifetime of a pass.
type Evaluator struct {
	location *time.Location

	mu    sync.Mutex
	specs map[string]parsed
}

type parsed struct {
	spec Spec
	err  error
}

func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{
		location: loc,
		specs:    make(map[string]parsed),
	}
}

func (e *Evaluator) Location() *time.Location {
	return e.location
}

func (e *Evaluator) parse(raw string) (Spec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.specs[raw]; ok {
		return p.spec, p.err
	}
	spec, err := Parse(raw)
	e.specs[raw] = parsed{spec: spec, err: err}
	return spec, err
}

// NextDue anchors the interval on lastRun, never on the current time, so
// repeated passes inside one due window agree on the same instant. A job
// that never ran is due at the sentinel whatever its interval, as long as
// the interval parses.
func (e *Evaluator) NextDue(lastRun *time.Time, raw string) (time.Time, error) {
	spec, err := e.parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	if lastRun == nil {
		return Sentinel(e.location), nil
	}
	return spec.Next(lastRun.In(e.location))
}

func (e *Evaluator) IsDue(lastRun *time.Time, raw string, now time.Time) (bool, error) {
	next, err := e.NextDue(lastRun, raw)
	if err != nil {
		return false, err
	}
	return !next.After(now), nil
}

var defaultEvaluator = NewEvaluator(time.Local)

// NextDue evaluates in the local time zone.
func NextDue(lastRun *time.Time, raw string) (time.Time, error) {
	return defaultEvaluator.NextDue(lastRun, raw)
}

// IsDue evaluates in the local time zone.
func IsDue(lastRun *time.Time, raw string, now time.Time) (bool, error) {
	return defaultEvaluator.IsDue(lastRun, raw, now)
}
