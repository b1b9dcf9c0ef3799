package domain

import (
	"fmt"
	"time"
)

// DateLayout is the ISO-8601 calendar-date format used everywhere.
// Only the calendar-date portion matters; all parsing is done in UTC.
const DateLayout = "2006-01-02"

// ParseDate parses an ISO-8601 YYYY-MM-DD string
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a time as an ISO-8601 calendar date
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// AddDays shifts a calendar date by n days (n may be negative)
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, n)), nil
}

// DaysBetween returns end − start in whole calendar days
func DaysBetween(start, end string) (int, error) {
	s, err := ParseDate(start)
	if err != nil {
		return 0, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return 0, err
	}
	return int(e.Sub(s).Hours() / 24), nil
}

// DateRange returns every calendar date from start to end inclusive
func DateRange(start, end string) ([]string, error) {
	s, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	if e.Before(s) {
		return nil, fmt.Errorf("end date %s precedes start date %s", end, start)
	}

	var days []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		days = append(days, FormatDate(d))
	}
	return days, nil
}
