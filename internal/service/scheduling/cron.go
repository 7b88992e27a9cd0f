package scheduling

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NextRunHorizonMinutes bounds the forward scan of CalculateNextRun. A
// schedule with no match inside 24 hours is a configuration error, not a
// transient failure.
const NextRunHorizonMinutes = 24 * 60

// cronFieldPattern matches one cron field: numbers, lists, ranges, steps, or *.
var cronFieldPattern = regexp.MustCompile(`^[0-9*,/-]+$`)

// ValidateCronExpression checks the shape of a 5-field cron expression
// (minute hour day-of-month month day-of-week). Surrounding whitespace is
// tolerated.
func ValidateCronExpression(expr string) bool {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return false
	}
	for _, f := range fields {
		if !cronFieldPattern.MatchString(f) {
			return false
		}
	}
	return true
}

// ParseCronField expands one cron field into the set of matching values
// within [min, max]. Supports *, comma lists, ranges (a-b), and steps
// (base/step or */step).
func ParseCronField(field string, min, max int) (map[int]bool, error) {
	values := make(map[int]bool)

	for _, part := range strings.Split(field, ",") {
		switch {
		case part == "*":
			for v := min; v <= max; v++ {
				values[v] = true
			}

		case strings.Contains(part, "/"):
			pieces := strings.SplitN(part, "/", 2)
			step, err := strconv.Atoi(pieces[1])
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("invalid step in cron field %q", field)
			}
			start := min
			if pieces[0] != "*" && pieces[0] != "" {
				start, err = strconv.Atoi(pieces[0])
				if err != nil {
					return nil, fmt.Errorf("invalid step base in cron field %q", field)
				}
			}
			for v := start; v <= max; v += step {
				values[v] = true
			}

		case strings.Contains(part, "-"):
			pieces := strings.SplitN(part, "-", 2)
			lo, err := strconv.Atoi(pieces[0])
			if err != nil {
				return nil, fmt.Errorf("invalid range in cron field %q", field)
			}
			hi, err := strconv.Atoi(pieces[1])
			if err != nil || hi < lo {
				return nil, fmt.Errorf("invalid range in cron field %q", field)
			}
			for v := lo; v <= hi; v++ {
				values[v] = true
			}

		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value in cron field %q", field)
			}
			values[v] = true
		}
	}

	for v := range values {
		if v < min || v > max {
			delete(values, v)
		}
	}
	return values, nil
}

type cronSchedule struct {
	minutes     map[int]bool
	hours       map[int]bool
	daysOfMonth map[int]bool
	months      map[int]bool
	daysOfWeek  map[int]bool
}

func parseCronExpression(expr string) (*cronSchedule, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minutes, err := ParseCronField(fields[0], 0, 59)
	if err != nil {
		return nil, err
	}
	hours, err := ParseCronField(fields[1], 0, 23)
	if err != nil {
		return nil, err
	}
	daysOfMonth, err := ParseCronField(fields[2], 1, 31)
	if err != nil {
		return nil, err
	}
	months, err := ParseCronField(fields[3], 1, 12)
	if err != nil {
		return nil, err
	}
	daysOfWeek, err := ParseCronField(fields[4], 0, 6)
	if err != nil {
		return nil, err
	}

	return &cronSchedule{
		minutes:     minutes,
		hours:       hours,
		daysOfMonth: daysOfMonth,
		months:      months,
		daysOfWeek:  daysOfWeek,
	}, nil
}

// dayOfWeek converts Go's Sunday=0 convention to the Monday=0..Sunday=6
// convention used by cron day-of-week fields here.
func dayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func (s *cronSchedule) matches(t time.Time) bool {
	return s.minutes[t.Minute()] &&
		s.hours[t.Hour()] &&
		s.daysOfMonth[t.Day()] &&
		s.months[int(t.Month())] &&
		s.daysOfWeek[dayOfWeek(t)]
}

// ShouldRunNow reports whether all five cron fields match the given instant.
// Invalid expressions never match.
func ShouldRunNow(expr string, now time.Time) bool {
	schedule, err := parseCronExpression(expr)
	if err != nil {
		return false
	}
	return schedule.matches(now)
}

// CalculateNextRun scans forward minute by minute for the next instant the
// expression matches, up to 24 hours ahead. The second return value is false
// when no match exists within the horizon or the expression is invalid.
func CalculateNextRun(expr string, from time.Time) (time.Time, bool) {
	schedule, err := parseCronExpression(expr)
	if err != nil {
		return time.Time{}, false
	}

	candidate := from.Truncate(time.Minute)
	for i := 0; i < NextRunHorizonMinutes; i++ {
		candidate = candidate.Add(time.Minute)
		if schedule.matches(candidate) {
			return candidate, true
		}
	}
	return time.Time{}, false
}
