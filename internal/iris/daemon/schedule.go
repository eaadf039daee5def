package daemon

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule decides when a job is next due.
type Schedule interface {
	// Next returns the first activation strictly after the given time.
	Next(after time.Time) time.Time
}

type every time.Duration

// Every returns a schedule firing at a fixed interval.
func Every(d time.Duration) Schedule {
	return every(d)
}

func (e every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

func (e every) String() string {
	return "every " + time.Duration(e).String()
}

type daily struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt returns a schedule firing once a day at hour:minute local time.
func DailyAt(hour, minute int) Schedule {
	return DailyAtIn(hour, minute, time.Local)
}

// DailyAtIn is DailyAt in an explicit location.
func DailyAtIn(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.Local
	}
	return daily{hour: hour, minute: minute, loc: loc}
}

func (d daily) Next(after time.Time) time.Time {
	t := after.In(d.loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

func (d daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d", d.hour, d.minute)
}

// ParseCron parses the daily subset of cron syntax, "M H * * *", into a
// schedule in local time. Day-of-month, month and day-of-week must be "*".
func ParseCron(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: want 5 fields, got %d", expr, len(fields))
	}
	for i, f := range fields[2:] {
		if f != "*" {
			return nil, fmt.Errorf("invalid cron expression %q: field %d must be *", expr, i+3)
		}
	}

	minute, err := cronField(fields[0], 59)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: minute: %w", expr, err)
	}
	hour, err := cronField(fields[1], 23)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: hour: %w", expr, err)
	}
	return DailyAt(hour, minute), nil
}

func cronField(s string, max int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if n < 0 || n > max {
		return 0, fmt.Errorf("%d out of range 0-%d", n, max)
	}
	return n, nil
}
