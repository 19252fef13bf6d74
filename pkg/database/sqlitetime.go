package database

import "time"

// SQLite stores timestamps as RFC 3339 text. These helpers keep the
// write and read formats in one place so every lite-mode store agrees.

// FormatTime renders t for a SQLite TEXT column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime reads a SQLite TEXT timestamp, tolerating second and
// nanosecond precision. Unparseable or empty values yield the zero
// time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

// FormatDate renders a calendar date for a SQLite TEXT column. Dates
// carry no time component; lexicographic order equals date order.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// ParseDate reads a SQLite TEXT calendar date, tolerating full
// timestamps written by older rows.
func ParseDate(value string) time.Time {
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t
	}
	return ParseTime(value)
}
