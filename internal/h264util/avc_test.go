package h264util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendSplitAVCRoundTrip(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1e}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	slice := []byte{0x65, 0x88, 0x84, 0x00}

	var data []byte
	data = AppendAVC(data, sps)
	data = AppendAVC(data, pps)
	data = AppendAVC(data, slice)

	nalus, err := SplitAVC(data)
	require.NoError(t, err)
	require.Equal(t, [][]byte{sps, pps, slice}, nalus)
}

func TestSplitAVCTruncated(t *testing.T) {
	_, err := SplitAVC([]byte{0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ErrTruncated)

	var data []byte
	data = AppendAVC(data, []byte{0x65, 0x01, 0x02})
	_, err = SplitAVC(data[:len(data)-1])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestNALType(t *testing.T) {
	require.Equal(t, uint8(NALTypeIDRSlice), NALType([]byte{0x65, 0xff}))
	require.Equal(t, uint8(NALTypeSPS), NALType([]byte{0x67, 0x42}))
	require.Equal(t, uint8(0), NALType(nil))
}

func TestFindParameterSets(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1e}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	slice := []byte{0x65, 0x88, 0x84, 0x00}

	gotSPS, gotPPS := FindParameterSets([][]byte{slice, sps, pps, sps})
	require.Equal(t, sps, gotSPS)
	require.Equal(t, pps, gotPPS)
}

func TestFindParameterSetsMissing(t *testing.T) {
	slice := []byte{0x65, 0x88, 0x84, 0x00}
	gotSPS, gotPPS := FindParameterSets([][]byte{slice})
	require.Nil(t, gotSPS)
	require.Nil(t, gotPPS)
}
