package h264util

import (
	"bytes"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// annexBStartCode3 and annexBStartCode4 are the two Annex B start code
// lengths a bitstream may mix.
var (
	annexBStartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	annexBStartCode3 = []byte{0x00, 0x00, 0x01}
)

// ConvertAnnexBToAVC reframes an Annex B bitstream (NAL units separated by
// 3- or 4-byte start codes) into AVC length-prefixed framing, the form
// the writer and sampleindex codec expect throughout this package. This
// only matters when a test harness, or an external RTSP collaborator
// configured for Annex B output, hands the writer a bitstream instead of
// already-AVC-framed access units.
func ConvertAnnexBToAVC(annexB []byte) ([]byte, error) {
	nalus := splitAnnexB(annexB)
	if len(nalus) == 0 {
		return nil, fmt.Errorf("%w: no NAL units in Annex B stream", ErrTruncated)
	}
	var out []byte
	for _, n := range nalus {
		out = AppendAVC(out, n)
	}
	return out, nil
}

func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0
	for i < len(data) {
		if bytes.HasPrefix(data[i:], annexBStartCode4) {
			if start >= 0 {
				nalus = append(nalus, trimTrailingZero(data[start:i]))
			}
			i += 4
			start = i
			continue
		}
		if bytes.HasPrefix(data[i:], annexBStartCode3) {
			if start >= 0 {
				nalus = append(nalus, trimTrailingZero(data[start:i]))
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

func trimTrailingZero(nalu []byte) []byte {
	for len(nalu) > 0 && nalu[len(nalu)-1] == 0 {
		nalu = nalu[:len(nalu)-1]
	}
	return nalu
}

// DepacketizeRTP reassembles one access unit's Annex B bitstream from a
// sequence of RTP packets belonging to the same frame, using pion's H.264
// depacketizer. The result is
// handed to ConvertAnnexBToAVC.
func DepacketizeRTP(pkts []*rtp.Packet) ([]byte, error) {
	var depacketizer codecs.H264Packet
	var out []byte
	for _, pkt := range pkts {
		payload, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			return nil, fmt.Errorf("depacketize RTP payload: %w", err)
		}
		out = append(out, payload...)
	}
	return out, nil
}
