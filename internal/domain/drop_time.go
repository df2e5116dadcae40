package domain

import (
	"strings"
	"time"
)

var dropTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseDropTime parses an ISO-8601 instant. Values without an offset are
// read as UTC. The result is UTC truncated to the minute.
func ParseDropTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, Validationf("dropAtUTC is required")
	}
	for _, layout := range dropTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Truncate(time.Minute), nil
		}
	}
	return time.Time{}, Validationf("dropAtUTC %q is not a valid ISO-8601 instant", raw)
}

// DayBounds returns the UTC day containing t as [start, end).
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
