package clinic

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// NormalizeDate returns the calendar date t falls on in loc, as UTC midnight.
func NormalizeDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts "YYYY-MM-DD" or an RFC3339 timestamp.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return NormalizeDate(ts, loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

func FormatDate(d time.Time) string {
	return d.UTC().Format(DateLayout)
}

// parseClock validates "HH:MM" and returns minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidTemplate, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidateTemplate checks a single recurring slot definition.
func ValidateTemplate(tpl SlotTemplate) error {
	start, err := parseClock(tpl.StartTime)
	if err != nil {
		return err
	}
	end, err := parseClock(tpl.EndTime)
	if err != nil {
		return err
	}
	if end <= start {
		return fmt.Errorf("%w: %s-%s ends before it starts", ErrInvalidTemplate, tpl.StartTime, tpl.EndTime)
	}
	if tpl.MaxCapacity < 1 {
		return fmt.Errorf("%w: %s-%s has capacity %d", ErrInvalidCapacity, tpl.StartTime, tpl.EndTime, tpl.MaxCapacity)
	}
	return nil
}
