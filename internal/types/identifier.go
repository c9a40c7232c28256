package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// StampLayout is ISO-8601 with millisecond precision, the format browsers
// produce for Date.toISOString.
const StampLayout = "2006-01-02T15:04:05.000Z07:00"

// NewID returns an opaque identifier built from a UUIDv7: a 48-bit millisecond
// timestamp followed by random bits, so ids sort roughly by creation time.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

// Now returns the current UTC time truncated to milliseconds.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Stamp formats t as an ISO-8601 string.
func Stamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}

// ParseStamp accepts any RFC 3339 timestamp, with or without fractional
// seconds.
func ParseStamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}
