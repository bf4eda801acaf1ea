package domain

import (
	"math"
	"strings"
	"time"
)

// TimeLayout is the fixed-width layout every stored timestamp uses. The
// fraction always has nine digits so distinct instants never share a string.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Epoch bounds keep FormatTime output inside years 0000-9999.
const (
	minEpochSeconds = -62167219200 // 0000-01-01T00:00:00Z
	maxEpochSeconds = 253402300799 // 9999-12-31T23:59:59Z
)

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
}

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses an ISO-8601 timestamp. Values without a zone are UTC.
// Instants outside years 0000-9999 in UTC are rejected.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, inRange(t)
		}
	}
	return time.Time{}, false
}

func inRange(t time.Time) bool {
	sec := t.Unix()
	return sec >= minEpochSeconds && sec <= maxEpochSeconds
}

// CanonicalTime rewrites a parseable timestamp into TimeLayout so that string
// comparison matches chronological order. Unparseable input is returned
// unchanged.
func CanonicalTime(s string) string {
	if t, ok := ParseTime(s); ok {
		return FormatTime(t)
	}
	return s
}

// EpochTime converts a numeric epoch to a time: values below 1e11 are
// seconds, larger values milliseconds. It reports false for NaN, infinities
// and epochs outside years 0000-9999.
func EpochTime(v float64) (time.Time, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	if v >= 1e11 {
		if v/1000 >= maxEpochSeconds+1 {
			return time.Time{}, false
		}
		t := time.UnixMilli(int64(v)).UTC()
		return t, inRange(t)
	}
	if v < minEpochSeconds {
		return time.Time{}, false
	}
	// Float seconds only carry about microsecond precision at current epochs.
	sec := math.Floor(v)
	usec := math.Round((v - sec) * 1e6)
	t := time.Unix(int64(sec), int64(usec)*1000).UTC()
	return t, inRange(t)
}
