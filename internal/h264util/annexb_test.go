package h264util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertAnnexBToAVC(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1e}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}

	var annexB []byte
	annexB = append(annexB, annexBStartCode4...)
	annexB = append(annexB, sps...)
	annexB = append(annexB, annexBStartCode3...)
	annexB = append(annexB, pps...)

	avc, err := ConvertAnnexBToAVC(annexB)
	require.NoError(t, err)

	nalus, err := SplitAVC(avc)
	require.NoError(t, err)
	require.Equal(t, [][]byte{sps, pps}, nalus)
}

func TestConvertAnnexBToAVCEmpty(t *testing.T) {
	_, err := ConvertAnnexBToAVC(nil)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestSplitAnnexBTrimsTrailingZero(t *testing.T) {
	// A start code's leading zero bytes can be mistaken for the previous
	// NAL's trailing padding; splitAnnexB must trim that padding off the
	// NAL that precedes the next start code.
	sps := []byte{0x67, 0x42, 0x00, 0x1e, 0x00}
	var annexB []byte
	annexB = append(annexB, annexBStartCode4...)
	annexB = append(annexB, sps...)
	annexB = append(annexB, annexBStartCode4...)
	annexB = append(annexB, 0x68, 0xce)

	nalus := splitAnnexB(annexB)
	require.Len(t, nalus, 2)
	require.Equal(t, []byte{0x67, 0x42, 0x00, 0x1e}, nalus[0])
	require.Equal(t, []byte{0x68, 0xce}, nalus[1])
}
