package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	ts := FromTime(now)
	require.Equal(t, now, ts.Time())
}

func TestTimestampFromTimeExactTicks(t *testing.T) {
	// A present-day epoch second is ~1.8e9; the conversion must not route
	// through nanoseconds-times-rate, which would exceed int64.
	ts := FromTime(time.Unix(1_785_000_000, 500_000_000))
	require.Equal(t, Timestamp90k(1_785_000_000*int64(Rate90k)+45_000), ts)
	require.Equal(t, time.Unix(1_785_000_000, 500_000_000).UTC(), ts.Time())
}

func TestTimestampArithmetic(t *testing.T) {
	start := Timestamp90k(1000)
	d := Duration90k(500)
	end := start.Add(d)
	require.Equal(t, Timestamp90k(1500), end)
	require.Equal(t, d, end.Sub(start))
}

func TestDurationFromTimeDuration(t *testing.T) {
	d := FromDuration(1 * time.Second)
	require.Equal(t, Duration90k(Rate90k), d)
	require.Equal(t, 1*time.Second, d.Duration())
}

func TestCompositeIDRoundTrip(t *testing.T) {
	id := NewCompositeID(StreamID(7), 42)
	require.Equal(t, StreamID(7), id.Stream())
	require.Equal(t, uint32(42), id.Seq())
	require.NoError(t, id.Validate(StreamID(7)))
	require.Error(t, id.Validate(StreamID(8)))
}

func TestCompositeIDString(t *testing.T) {
	id := NewCompositeID(StreamID(1), 1)
	require.Equal(t, "0000000100000001", id.String())
}

func TestMaxRecordingDuration(t *testing.T) {
	require.Equal(t, Duration90k(5*60*Rate90k), MaxRecordingDuration)
}
