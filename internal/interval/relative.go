package interval

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type weekdayMode int

const (
	weekdayThisOrNext weekdayMode = iota
	weekdayNext
	weekdayLast
)

type clockTime struct {
	hour, minute, second int
}

// relativeExpr is the resolved form of a relative date string. Offsets are
// summed, the weekday and the time of day are absolute, mirroring how
// strtotime-style parsers combine their tokens.
type relativeExpr struct {
	offset      calendarOffset
	dayOf       string // "", "first" or "last"
	weekday     *time.Weekday
	weekdayMode weekdayMode
	resetTime   bool
	setTime     *clockTime
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var (
	reClock     = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?(am|pm)?$`)
	reClockAMPM = regexp.MustCompile(`^(\d{1,2})(am|pm)$`)
	reSigned    = regexp.MustCompile(`^([+-]?\d+)([a-z]*)$`)
)

func parseRelative(s string) (*relativeExpr, error) {
	tokens := strings.Fields(strings.ToLower(s))
	expr := &relativeExpr{}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		next := func() (string, error) {
			if i+1 >= len(tokens) {
				return "", fmt.Errorf("unexpected end after %q", tok)
			}
			i++
			return tokens[i], nil
		}

		switch tok {
		case "now", "at", "and":
			continue
		case "today", "midnight":
			expr.resetTime = true
			continue
		case "noon":
			expr.setTime = &clockTime{hour: 12}
			continue
		case "tomorrow":
			expr.offset.days++
			expr.resetTime = true
			continue
		case "yesterday":
			expr.offset.days--
			expr.resetTime = true
			continue
		case "ago":
			expr.offset = expr.offset.negate()
			continue
		case "first", "last":
			if i+2 < len(tokens) && tokens[i+1] == "day" && tokens[i+2] == "of" {
				if expr.dayOf != "" {
					return nil, fmt.Errorf("%q used twice", "day of")
				}
				expr.dayOf = tok
				i += 2
				continue
			}
			if tok == "first" {
				return nil, fmt.Errorf("expected %q after %q", "day of", tok)
			}
			fallthrough
		case "next", "previous", "this":
			target, err := next()
			if err != nil {
				return nil, err
			}
			n := map[string]int{"next": 1, "last": -1, "previous": -1, "this": 0}[tok]
			if wd, ok := weekdays[target]; ok {
				mode := map[string]weekdayMode{"next": weekdayNext, "last": weekdayLast, "previous": weekdayLast, "this": weekdayThisOrNext}[tok]
				if err := expr.setWeekday(wd, mode); err != nil {
					return nil, err
				}
				continue
			}
			u, ok := unitNames[target]
			if !ok {
				return nil, fmt.Errorf("unknown unit %q after %q", target, tok)
			}
			expr.offset.add(n, u)
			continue
		}

		if wd, ok := weekdays[tok]; ok {
			if err := expr.setWeekday(wd, weekdayThisOrNext); err != nil {
				return nil, err
			}
			continue
		}

		if ct, ok, err := parseClock(tok, tokens, &i); ok || err != nil {
			if err != nil {
				return nil, err
			}
			if expr.setTime != nil {
				return nil, fmt.Errorf("time of day given twice")
			}
			expr.setTime = ct
			continue
		}

		if m := reSigned.FindStringSubmatch(tok); m != nil {
			n, err := strconv.Atoi(strings.TrimPrefix(m[1], "+"))
			if err != nil {
				return nil, fmt.Errorf("bad amount %q", tok)
			}
			unitName := m[2]
			if unitName == "" {
				if unitName, err = next(); err != nil {
					return nil, err
				}
			}
			u, ok := unitNames[unitName]
			if !ok {
				return nil, fmt.Errorf("unknown unit %q", unitName)
			}
			expr.offset.add(n, u)
			continue
		}

		return nil, fmt.Errorf("unrecognised token %q", tok)
	}
	return expr, nil
}

func (e *relativeExpr) setWeekday(wd time.Weekday, mode weekdayMode) error {
	if e.weekday != nil {
		return fmt.Errorf("weekday given twice")
	}
	e.weekday = &wd
	e.weekdayMode = mode
	return nil
}

func parseClock(tok string, tokens []string, i *int) (*clockTime, bool, error) {
	suffix := ""
	if *i+1 < len(tokens) && (tokens[*i+1] == "am" || tokens[*i+1] == "pm") {
		suffix = tokens[*i+1]
	}

	var h, m, sec int
	switch {
	case reClock.MatchString(tok):
		g := reClock.FindStringSubmatch(tok)
		h, _ = strconv.Atoi(g[1])
		m, _ = strconv.Atoi(g[2])
		if g[3] != "" {
			sec, _ = strconv.Atoi(g[3])
		}
		if g[4] != "" {
			suffix = g[4]
		} else if suffix != "" {
			*i++
		}
	case reClockAMPM.MatchString(tok):
		g := reClockAMPM.FindStringSubmatch(tok)
		h, _ = strconv.Atoi(g[1])
		suffix = g[2]
	default:
		return nil, false, nil
	}

	if suffix != "" {
		if h < 1 || h > 12 {
			return nil, true, fmt.Errorf("bad hour in %q", tok)
		}
		h %= 12
		if suffix == "pm" {
			h += 12
		}
	}
	if h > 23 || m > 59 || sec > 59 {
		return nil, true, fmt.Errorf("bad time of day %q", tok)
	}
	return &clockTime{hour: h, minute: m, second: sec}, true, nil
}

func (e *relativeExpr) apply(base time.Time) time.Time {
	loc := base.Location()
	var t time.Time
	if e.dayOf != "" {
		t = time.Date(base.Year()+e.offset.years, base.Month()+time.Month(e.offset.months), 1,
			base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), loc)
		if e.dayOf == "last" {
			t = t.AddDate(0, 1, -1)
		}
		t = t.AddDate(0, 0, e.offset.days)
	} else {
		t = base.AddDate(e.offset.years, e.offset.months, e.offset.days)
	}

	reset := e.resetTime
	if e.weekday != nil {
		reset = true
		delta := (int(*e.weekday) - int(t.Weekday()) + 7) % 7
		switch e.weekdayMode {
		case weekdayNext:
			if delta == 0 {
				delta = 7
			}
		case weekdayLast:
			delta = -((int(t.Weekday()) - int(*e.weekday) + 7) % 7)
			if delta == 0 {
				delta = -7
			}
		}
		t = t.AddDate(0, 0, delta)
	}

	switch {
	case e.setTime != nil:
		t = time.Date(t.Year(), t.Month(), t.Day(), e.setTime.hour, e.setTime.minute, e.setTime.second, 0, loc)
	case reset:
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}

	return t.Add(e.offset.clock)
}

// backward reports whether the expression explicitly points into the past,
// like "yesterday", "2 days ago" or "last monday". Such an expression never
// yields a recurrence.
func (e *relativeExpr) backward() bool {
	o := e.offset
	if o.years < 0 || o.months < 0 || o.days < 0 || o.clock < 0 {
		return true
	}
	return e.weekday != nil && e.weekdayMode == weekdayLast
}

// next applies the expression to base and, when the result does not lie
// after base, rolls it forward to the following occurrence: a week for
// weekday expressions, a month for "first/last day of" and a day for a
// time of day. It reports false when no later occurrence exists.
func (e *relativeExpr) next(base time.Time) (time.Time, bool) {
	t := e.apply(base)
	if t.After(base) {
		return t, true
	}
	if e.backward() {
		return t, false
	}

	switch {
	case e.dayOf != "":
		rolled := *e
		for i := 0; i < 12 && !t.After(base); i++ {
			rolled.offset.months++
			t = rolled.apply(base)
		}
	case e.weekday != nil:
		for !t.After(base) {
			t = t.AddDate(0, 0, 7)
		}
	case e.setTime != nil || e.resetTime:
		for !t.After(base) {
			t = t.AddDate(0, 0, 1)
		}
	}
	return t, t.After(base)
}
