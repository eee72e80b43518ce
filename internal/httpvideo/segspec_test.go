package httpvideo

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

func TestParseSegmentsSingleID(t *testing.T) {
	specs, err := parseSegments("4294967297")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, clock.CompositeID(4294967297), specs[0].CompositeID)
	require.Nil(t, specs[0].OpenID)
	require.Nil(t, specs[0].RelStart)
	require.Nil(t, specs[0].RelEnd)
}

func TestParseSegmentsDecimalRange(t *testing.T) {
	streamID := clock.StreamID(1)
	start := clock.NewCompositeID(streamID, 10)
	end := clock.NewCompositeID(streamID, 12)

	tok := strconv.FormatInt(int64(start), 10) + "-" + strconv.FormatInt(int64(end), 10)
	specs, err := parseSegments(tok)
	require.NoError(t, err)
	require.Len(t, specs, 3)
	require.Equal(t, clock.NewCompositeID(streamID, 10), specs[0].CompositeID)
	require.Equal(t, clock.NewCompositeID(streamID, 11), specs[1].CompositeID)
	require.Equal(t, clock.NewCompositeID(streamID, 12), specs[2].CompositeID)
}

func TestParseSegmentsWithOpenIDAndRelBounds(t *testing.T) {
	id := clock.NewCompositeID(clock.StreamID(2), 5)
	tok := strconv.FormatInt(int64(id), 10) + "@7.1000-2000"

	specs, err := parseSegments(tok)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.NotNil(t, specs[0].OpenID)
	require.Equal(t, clock.OpenID(7), *specs[0].OpenID)
	require.NotNil(t, specs[0].RelStart)
	require.Equal(t, clock.Duration90k(1000), *specs[0].RelStart)
	require.NotNil(t, specs[0].RelEnd)
	require.Equal(t, clock.Duration90k(2000), *specs[0].RelEnd)
}

func TestParseSegmentsRelBoundsOnlyApplyToEnds(t *testing.T) {
	streamID := clock.StreamID(3)
	start := clock.NewCompositeID(streamID, 1)
	end := clock.NewCompositeID(streamID, 3)
	tok := strconv.FormatInt(int64(start), 10) + "-" + strconv.FormatInt(int64(end), 10) + ".500-9000"

	specs, err := parseSegments(tok)
	require.NoError(t, err)
	require.Len(t, specs, 3)
	require.NotNil(t, specs[0].RelStart)
	require.Nil(t, specs[0].RelEnd)
	require.Nil(t, specs[1].RelStart)
	require.Nil(t, specs[1].RelEnd)
	require.Nil(t, specs[2].RelStart)
	require.NotNil(t, specs[2].RelEnd)
}

func TestParseSegmentsMultipleTokens(t *testing.T) {
	a := clock.NewCompositeID(clock.StreamID(1), 1)
	b := clock.NewCompositeID(clock.StreamID(1), 2)
	specs, err := parseSegments(strconv.FormatInt(int64(a), 10) + "," + strconv.FormatInt(int64(b), 10))
	require.NoError(t, err)
	require.Len(t, specs, 2)
}

func TestParseSegmentsEmpty(t *testing.T) {
	_, err := parseSegments("")
	require.Error(t, err)
}

func TestParseSegmentsMismatchedStreamRange(t *testing.T) {
	a := clock.NewCompositeID(clock.StreamID(1), 1)
	b := clock.NewCompositeID(clock.StreamID(2), 1)
	_, err := parseSegments(strconv.FormatInt(int64(a), 10) + "-" + strconv.FormatInt(int64(b), 10))
	require.Error(t, err)
}

func TestParseUUIDAcceptsDashedAndBare(t *testing.T) {
	dashed := "01020304-0506-0708-090a-0b0c0d0e0f10"
	bare := "0102030405060708090a0b0c0d0e0f10"

	got1, err := parseUUID(dashed)
	require.NoError(t, err)
	got2, err := parseUUID(bare)
	require.NoError(t, err)
	require.Equal(t, got1, got2)
	require.Equal(t, [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, got1)
}

func TestParseUUIDRejectsWrongLength(t *testing.T) {
	_, err := parseUUID("abcd")
	require.Error(t, err)
}
