// Package h264util provides the H.264 framing and parameter-set helpers
// shared by the writer and the MP4 builder: AVC length-prefixed NAL
// (de)framing, Annex B conversion, and SPS parsing for the video sample
// entry.
package h264util

import (
	"encoding/binary"
	"errors"
)

// NAL unit type constants.
const (
	NALTypeSlice    = 1
	NALTypeIDRSlice = 5
	NALTypeSEI      = 6
	NALTypeSPS      = 7
	NALTypePPS      = 8
	NALTypeAUD      = 9
)

// ErrTruncated is returned when AVC length-prefixed data is malformed.
var ErrTruncated = errors.New("h264util: truncated AVC NAL unit")

// SplitAVC splits AVC-framed data (4-byte big-endian length prefix per NAL
// unit) into individual NAL units.
func SplitAVC(data []byte) ([][]byte, error) {
	var nalus [][]byte
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, ErrTruncated
		}
		length := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		offset += 4
		if length < 0 || offset+length > len(data) {
			return nil, ErrTruncated
		}
		nalus = append(nalus, data[offset:offset+length])
		offset += length
	}
	return nalus, nil
}

// AppendAVC appends nalu to dst with a 4-byte big-endian length prefix,
// the inverse of SplitAVC.
func AppendAVC(dst, nalu []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nalu)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, nalu...)
}

// NALType extracts the NAL unit type from a raw (non-prefixed) NAL unit.
func NALType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1f
}

// FindParameterSets scans AVC-framed data for the first SPS and PPS NAL
// units.
func FindParameterSets(nalus [][]byte) (sps, pps []byte) {
	for _, n := range nalus {
		switch NALType(n) {
		case NALTypeSPS:
			if sps == nil {
				sps = n
			}
		case NALTypePPS:
			if pps == nil {
				pps = n
			}
		}
	}
	return sps, pps
}
