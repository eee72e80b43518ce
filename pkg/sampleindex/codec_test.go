package sampleindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRoundTrip encodes three known samples and confirms decoding
// reproduces them exactly.
func TestRoundTrip(t *testing.T) {
	entries := []Entry{
		{Duration: 90000, Size: 12345, IsSync: true},
		{Duration: 90000, Size: 2000, IsSync: false},
		{Duration: 45000, Size: 1500, IsSync: false},
	}

	blob := Encode(DeltasFromAbsolute(entries))
	got, err := DecodeAll(blob)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestRoundTripEmpty(t *testing.T) {
	blob := Encode(nil)
	got, err := DecodeAll(blob)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRoundTripNegativeDeltas(t *testing.T) {
	entries := []Entry{
		{Duration: 3000, Size: 50000, IsSync: true},
		{Duration: 3003, Size: 1200, IsSync: false},
		{Duration: 2997, Size: 800, IsSync: false},
		{Duration: 3000, Size: 40000, IsSync: true},
	}
	blob := Encode(DeltasFromAbsolute(entries))
	got, err := DecodeAll(blob)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestCorruptTruncated(t *testing.T) {
	entries := []Entry{{Duration: 90000, Size: 40000, IsSync: true}}
	blob := Encode(DeltasFromAbsolute(entries))
	_, err := DecodeAll(blob[:len(blob)-1])
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCorruptNegativeSize(t *testing.T) {
	// A size delta that drives the cumulative size negative is corrupt.
	deltas := []Delta{{DurationDelta: 90000, SizeDelta: -5}}
	blob := Encode(deltas)
	_, err := DecodeAll(blob)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestValidateTotals(t *testing.T) {
	entries := []Entry{
		{Duration: 3000, Size: 100, IsSync: true},
		{Duration: 3000, Size: 120, IsSync: false},
	}
	require.NoError(t, ValidateTotals(entries, 2, 1, 6000))
	require.Error(t, ValidateTotals(entries, 3, 1, 6000))
	require.Error(t, ValidateTotals(entries, 2, 2, 6000))
	require.Error(t, ValidateTotals(entries, 2, 1, 9000))
}

func TestDecoderSequentialNext(t *testing.T) {
	entries := []Entry{
		{Duration: 3000, Size: 100, IsSync: true},
		{Duration: 3000, Size: 120, IsSync: false},
	}
	blob := Encode(DeltasFromAbsolute(entries))
	dec := NewDecoder(blob)

	e, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entries[0], e)

	e, ok, err = dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entries[1], e)

	_, ok, err = dec.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
