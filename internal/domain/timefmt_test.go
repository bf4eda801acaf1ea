package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "2024-01-01T23:00:00Z", want: "2024-01-01T23:00:00.000000000Z"},
		{in: "2024-01-01T23:00Z", want: "2024-01-01T23:00:00.000000000Z"},
		{in: "2024-01-01T23:00:00.123456789Z", want: "2024-01-01T23:00:00.123456789Z"},
		{in: "2024-01-01T23:00:00.1231Z", want: "2024-01-01T23:00:00.123100000Z"},
		{in: "2024-01-02T01:00:00+02:00", want: "2024-01-01T23:00:00.000000000Z"},
		{in: "2024-01-01T23:00:00.5", want: "2024-01-01T23:00:00.500000000Z"},
		{in: "2024-01-01 23:00:00", want: "2024-01-01T23:00:00.000000000Z"},
		{in: "not a time", want: "not a time"},
		{in: "", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, CanonicalTime(tc.in))
		})
	}
}

func TestCanonicalTime_SortsChronologically(t *testing.T) {
	a := CanonicalTime("2024-01-01T23:59:59.9Z")
	b := CanonicalTime("2024-01-02T00:00:00+00:00")
	assert.Less(t, a, b)
}

func TestCanonicalTime_KeepsSubMillisecondInstantsDistinct(t *testing.T) {
	a := CanonicalTime("2024-01-01T10:00:00.1231Z")
	b := CanonicalTime("2024-01-01T10:00:00.1239Z")
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
	assert.Len(t, a, len(TimeLayout))
}

func TestEpochTime(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, v := range []float64{1704067200, 1704067200000} {
		got, ok := EpochTime(v)
		assert.True(t, ok)
		assert.True(t, want.Equal(got), "%v", v)
	}

	got, ok := EpochTime(1704067200.25)
	assert.True(t, ok)
	assert.Equal(t, "2024-01-01T00:00:00.250000000Z", FormatTime(got))

	got, ok = EpochTime(1704067200123)
	assert.True(t, ok)
	assert.Equal(t, "2024-01-01T00:00:00.123000000Z", FormatTime(got))
}

func TestEpochTime_OutOfRange(t *testing.T) {
	for _, v := range []float64{1e300, -1e300, 9e18, 253402300800000, -62167219201, math.NaN(), math.Inf(1)} {
		_, ok := EpochTime(v)
		assert.False(t, ok, "%v", v)
	}

	got, ok := EpochTime(253402300799999)
	assert.True(t, ok)
	assert.Len(t, FormatTime(got), len(TimeLayout), "last representable millisecond stays fixed-width")
}
