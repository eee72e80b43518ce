// Package mp4 builds MP4 output virtually: a hand-rolled ISO BMFF box
// encoder for the classic full `.mp4` mode (moov/stbl/elst), plus
// fragmented `.m4s`/init-segment output built on
// github.com/bluenviron/mediacommon/pkg/formats/fmp4. Builder output is
// a Plan: a sequence of in-memory slices and sample-file byte ranges,
// never a single contiguous buffer.
package mp4

import "encoding/binary"

// box wraps body with the ISO BMFF 4-byte big-endian size and 4-byte
// fourcc header. fourcc must be exactly 4 bytes.
func box(fourcc string, body []byte) []byte {
	out := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	copy(out[4:8], fourcc)
	return append(out, body...)
}

// boxes concatenates the full encoding of each child box in order.
func boxes(children ...[]byte) []byte {
	var out []byte
	for _, c := range children {
		out = append(out, c...)
	}
	return out
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func u24(v uint32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// fullBoxHeader is the 4-byte version+flags prefix of an ISO BMFF "full
// box" (the FullBox variant stsd, stts, stsz, stss, stsc, stco, mvhd,
// tkhd, mdhd, hdlr, vmhd, dref, elst, and co64 all share).
func fullBoxHeader(version uint8, flags uint32) []byte {
	return append([]byte{version}, u24(flags)...)
}

// unityMatrix is the identity transformation matrix mvhd and tkhd both
// carry, fixed-point 16.16/2.30.
func unityMatrix() []byte {
	m := make([]byte, 36)
	binary.BigEndian.PutUint32(m[0:4], 0x00010000)
	binary.BigEndian.PutUint32(m[16:20], 0x00010000)
	binary.BigEndian.PutUint32(m[32:36], 0x40000000)
	return m
}
