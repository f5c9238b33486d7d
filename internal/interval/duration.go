package interval

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reISODuration = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

func parseISODuration(s string) (calendarOffset, error) {
	m := reISODuration.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return calendarOffset{}, fmt.Errorf("malformed ISO-8601 duration")
	}

	n := make([]int, len(m))
	for i := 1; i < len(m); i++ {
		if m[i] == "" {
			continue
		}
		v, err := strconv.Atoi(m[i])
		if err != nil {
			return calendarOffset{}, fmt.Errorf("malformed ISO-8601 duration: %w", err)
		}
		n[i] = v
	}

	off := calendarOffset{
		years:  n[1],
		months: n[2],
		days:   n[3]*7 + n[4],
		clock:  time.Duration(n[5])*time.Hour + time.Duration(n[6])*time.Minute + time.Duration(n[7])*time.Second,
	}
	if off.isZero() {
		return calendarOffset{}, fmt.Errorf("interval must be > 0")
	}
	return off, nil
}

type unit int

const (
	unitSecond unit = iota
	unitMinute
	unitHour
	unitDay
	unitWeek
	unitFortnight
	unitMonth
	unitYear
)

var unitNames = map[string]unit{
	"sec": unitSecond, "secs": unitSecond, "second": unitSecond, "seconds": unitSecond,
	"min": unitMinute, "mins": unitMinute, "minute": unitMinute, "minutes": unitMinute,
	"hour": unitHour, "hours": unitHour,
	"day": unitDay, "days": unitDay,
	"week": unitWeek, "weeks": unitWeek,
	"fortnight": unitFortnight, "fortnights": unitFortnight,
	"month": unitMonth, "months": unitMonth,
	"year": unitYear, "years": unitYear,
}

func (o *calendarOffset) add(n int, u unit) {
	switch u {
	case unitSecond:
		o.clock += time.Duration(n) * time.Second
	case unitMinute:
		o.clock += time.Duration(n) * time.Minute
	case unitHour:
		o.clock += time.Duration(n) * time.Hour
	case unitDay:
		o.days += n
	case unitWeek:
		o.days += 7 * n
	case unitFortnight:
		o.days += 14 * n
	case unitMonth:
		o.months += n
	case unitYear:
		o.years += n
	}
}

func (o calendarOffset) negate() calendarOffset {
	return calendarOffset{years: -o.years, months: -o.months, days: -o.days, clock: -o.clock}
}

// parseHumanDuration accepts "15 minutes", "1 day 2 hours" and the same with
// a leading "every". Signed amounts belong to the relative grammar.
func parseHumanDuration(s string) (calendarOffset, bool) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) > 0 && fields[0] == "every" {
		fields = fields[1:]
	}
	if len(fields) == 0 || len(fields)%2 != 0 {
		return calendarOffset{}, false
	}

	var off calendarOffset
	for i := 0; i < len(fields); i += 2 {
		if strings.HasPrefix(fields[i], "+") || strings.HasPrefix(fields[i], "-") {
			return calendarOffset{}, false
		}
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return calendarOffset{}, false
		}
		u, ok := unitNames[fields[i+1]]
		if !ok {
			return calendarOffset{}, false
		}
		off.add(n, u)
	}
	return off, true
}
