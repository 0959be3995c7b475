// Package timeutil provides the UTC calendar helpers chart weeks are built
// on. Chart weeks always start at 00:00 UTC on a group's tracking day, so
// every helper here works in UTC regardless of the caller's local zone.
// No external dependencies - uses only standard library.
package timeutil

import "time"

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// StartOfDay returns 00:00:00 UTC of the given time's day.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last nanosecond of the given time's day in UTC.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// MostRecentWeekday returns the start of the most recent day with the given
// weekday, counting the day of t itself.
func MostRecentWeekday(t time.Time, day time.Weekday) time.Time {
	t = StartOfDay(t)
	diff := (int(t.Weekday()) - int(day) + 7) % 7
	return t.AddDate(0, 0, -diff)
}

// SameDay reports whether two times fall on the same UTC day.
func SameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(StartOfDay(b).Sub(StartOfDay(a)).Hours() / 24)
}

// FormatDate returns the date in ISO format (2006-01-02).
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Unix returns the time as a unix timestamp, the format listening-history
// APIs take week boundaries in.
func Unix(t time.Time) int64 {
	return t.UTC().Unix()
}
