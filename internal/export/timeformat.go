package export

import (
	"strings"
	"time"
)

// compactLayout is the timestamp format carried in the upload XML files.
const compactLayout = "20060102150405"

// SentinelISO8601 is emitted whenever a timestamp cannot be represented;
// conversion is a total function and never fails.
const SentinelISO8601 = "1970-01-01T00:00:00Z"

// CompactTimestamp renders a time in the compact upload format, UTC.
// The zero time maps to the epoch rather than an error.
func CompactTimestamp(t time.Time) string {
	if t.IsZero() {
		return time.Unix(0, 0).UTC().Format(compactLayout)
	}
	return t.UTC().Format(compactLayout)
}

// ISO8601 renders a time as ISO-8601 UTC for GPX output. The zero time
// degrades to the sentinel epoch date.
func ISO8601(t time.Time) string {
	if t.IsZero() {
		return SentinelISO8601
	}
	return t.UTC().Format(time.RFC3339)
}

// ParseCompact converts a compact timestamp back into a time. Malformed
// input degrades to the zero time, so ISO8601(ParseCompact(x)) is total.
func ParseCompact(value string) time.Time {
	value = strings.TrimSpace(value)
	t, err := time.ParseInLocation(compactLayout, value, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
