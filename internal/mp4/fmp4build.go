package mp4

import (
	"fmt"

	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4/seekablebuffer"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/playback"
	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// maxMediaSegmentBytes enforces the 4GiB `.m4s` ceiling: a media
// segment's samples are read fully into memory to build one fmp4.Part, so
// a segment beyond this must fail rather than exhaust the process.
const maxMediaSegmentBytes = 1 << 32

// BuildInit builds the `/api/init/<sha1>.mp4` fragmented-MP4 initialization
// segment for one video sample entry, via bluenviron/mediacommon's fmp4
// encoder.
func BuildInit(entry metadb.VideoSampleEntry) ([]byte, error) {
	sps, pps, err := splitAVCCParameterSets(entry.Data)
	if err != nil {
		return nil, err
	}

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        videoTrackID,
			TimeScale: clock.Rate90k,
			Codec:     &fmp4.CodecH264{SPS: sps, PPS: pps},
		}},
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("mp4: marshal init segment: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildMediaSegment builds one `.m4s` fragment for a single resolved
// segment: its samples, read as one contiguous range from the sample
// file, become a single fmp4.Part with one sample per PartSample.
func BuildMediaSegment(seg *playback.IndexedSegment, dirs DirLocator, sequenceNumber uint32) ([]byte, error) {
	if len(seg.Samples) == 0 {
		return nil, fmt.Errorf("mp4: BuildMediaSegment: segment has no samples")
	}

	first := seg.Samples[0]
	last := seg.Samples[len(seg.Samples)-1]
	rangeLen := last.Offset + last.Size - first.Offset
	if rangeLen > maxMediaSegmentBytes {
		return nil, storage.Wrap(storage.KindTooLarge, fmt.Sprintf("media segment is %d bytes, exceeds %d byte cap", rangeLen, maxMediaSegmentBytes), nil)
	}

	dir, err := dirs.DirByID(seg.SampleFileDirID)
	if err != nil {
		return nil, fmt.Errorf("mp4: locate sample file directory %d: %w", seg.SampleFileDirID, err)
	}
	f, err := dir.OpenSampleFile(seg.CompositeID)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw := make([]byte, rangeLen)
	if _, err := f.ReadAt(raw, first.Offset); err != nil {
		return nil, fmt.Errorf("mp4: read sample range: %w", err)
	}

	samples := make([]*fmp4.PartSample, len(seg.Samples))
	baseRelStart := first.RelStart
	for i, s := range seg.Samples {
		lo := s.Offset - first.Offset
		hi := lo + s.Size
		samples[i] = &fmp4.PartSample{
			PTSOffset:       int32(s.RelStart - baseRelStart),
			IsNonSyncSample: !s.IsSync,
			Duration:        uint32(s.Duration),
			Payload:         raw[lo:hi],
		}
	}

	part := &fmp4.Part{
		SequenceNumber: sequenceNumber,
		Tracks: []*fmp4.PartTrack{{
			ID:       videoTrackID,
			BaseTime: uint64(baseRelStart),
			Samples:  samples,
		}},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("mp4: marshal media segment: %w", err)
	}
	return buf.Bytes(), nil
}

// splitAVCCParameterSets extracts the SPS/PPS byte strings from an avc1
// box's embedded avcC, for the fmp4 encoder's CodecH264 (which wants the
// raw parameter sets, not a re-encoded avcC).
func splitAVCCParameterSets(avc1Data []byte) (sps, pps []byte, err error) {
	avcC, err := findBox(avc1Data, "avcC")
	if err != nil {
		return nil, nil, err
	}
	if len(avcC) < 6 {
		return nil, nil, fmt.Errorf("mp4: avcC too short")
	}
	pos := 5
	numSPS := int(avcC[pos] & 0x1f)
	pos++
	if numSPS != 1 {
		return nil, nil, fmt.Errorf("mp4: unsupported avcC SPS count %d", numSPS)
	}
	spsLen := int(avcC[pos])<<8 | int(avcC[pos+1])
	pos += 2
	sps = avcC[pos : pos+spsLen]
	pos += spsLen

	numPPS := int(avcC[pos])
	pos++
	if numPPS != 1 {
		return nil, nil, fmt.Errorf("mp4: unsupported avcC PPS count %d", numPPS)
	}
	ppsLen := int(avcC[pos])<<8 | int(avcC[pos+1])
	pos += 2
	pps = avcC[pos : pos+ppsLen]

	return sps, pps, nil
}

// findBox locates the first occurrence of a child box by fourcc within a
// parent box's bytes by linear scan over the ISO BMFF box-length chain.
// Sufficient here since avc1's children (excluding the fixed
// VisualSampleEntry header) are just avcC in this builder's own output.
func findBox(data []byte, fourcc string) ([]byte, error) {
	const avc1FixedHeaderLen = 8 + 78
	pos := avc1FixedHeaderLen
	for pos+8 <= len(data) {
		size := int(data[pos])<<24 | int(data[pos+1])<<16 | int(data[pos+2])<<8 | int(data[pos+3])
		if size < 8 || pos+size > len(data) {
			break
		}
		if string(data[pos+4:pos+8]) == fourcc {
			return data[pos+8 : pos+size], nil
		}
		pos += size
	}
	return nil, fmt.Errorf("mp4: box %q not found", fourcc)
}
