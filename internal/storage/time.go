package storage

import "time"

// Now returns the current instant in UTC. Every timestamp the engines
// persist or compare against flows through this function rather than a
// bare time.Now(), so tests can be deterministic about "now" if they
// need to be.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatTime renders t as ISO-8601 with an explicit UTC offset.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime accepts both "Z" and "+00:00" offset forms.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
