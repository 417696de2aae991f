package ingest

import (
	"strings"
	"time"
)

// The simulator appends a literal "Z" to an already offset-qualified
// isoformat() string, so both shapes show up in real logs.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-07:00Z",
	"2006-01-02T15:04:05.999999999",
}

// parseTimestamp returns the zero time for values it cannot read; the
// timestamp is informational and never a reason to drop a record.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
