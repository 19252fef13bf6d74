package expense

import "time"

// DateOnly truncates t to UTC midnight. Matching compares calendar days,
// never wall-clock times, so every date entering a score is normalized
// through here first.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayNumber maps t to a monotonically increasing day index so that
// calendar-day distance is an integer subtraction. DST and timezone
// shifts cannot skew the result because the input is normalized to UTC.
func DayNumber(t time.Time) int {
	u := DateOnly(t)
	return int(u.Unix() / 86400)
}

// DaysApart returns the absolute calendar-day distance between a and b.
func DaysApart(a, b time.Time) int {
	d := DayNumber(a) - DayNumber(b)
	if d < 0 {
		d = -d
	}
	return d
}
