package model

import (
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ParseClock converts an "HH:MM" wall-clock string to minutes past midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("model: parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock converts minutes past midnight to "HH:MM", wrapping past 24h.
func FormatClock(minutes int) string {
	minutes = ((minutes % 1440) + 1440) % 1440
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate validates a "YYYY-MM-DD" service date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("model: parse date %q: %w", s, err)
	}
	return t, nil
}

// DateOf returns the calendar date of t as "YYYY-MM-DD".
func DateOf(t time.Time) string { return t.Format(DateLayout) }

// ClockOf returns the wall clock of t as "HH:MM".
func ClockOf(t time.Time) string { return t.Format(ClockLayout) }

// MinutesOf returns t's wall clock as minutes past midnight.
func MinutesOf(t time.Time) int { return t.Hour()*60 + t.Minute() }

// At resolves a service date plus minutes past midnight to an absolute
// instant in loc.
func At(date string, minutes int, loc *time.Location) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, minutes, 0, 0, loc), nil
}

// SlotIDFor builds the canonical slot identifier, e.g.
// "2025-11-18_home_to_campus_0830".
func SlotIDFor(date string, dir Direction, startMinutes int) string {
	return fmt.Sprintf("%s_%s_%02d%02d", date, dir, startMinutes/60, startMinutes%60)
}

// NewTimeContext builds a TimeContext from a service date and "HH:MM" clock.
func NewTimeContext(date, clock string, weather Weather) (TimeContext, error) {
	d, err := ParseDate(date)
	if err != nil {
		return TimeContext{}, err
	}
	m, err := ParseClock(clock)
	if err != nil {
		return TimeContext{}, err
	}
	return TimeContext{Date: date, Minutes: m, Weekday: d.Weekday(), Weather: weather}, nil
}

// ContextAt builds a TimeContext for an absolute instant.
func ContextAt(t time.Time, weather Weather) TimeContext {
	return TimeContext{Date: DateOf(t), Minutes: MinutesOf(t), Weekday: t.Weekday(), Weather: weather}
}
