package mp4

import (
	"fmt"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/playback"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

const (
	videoTrackID    = 1
	subtitleTrackID = 2
)

// FullOptions configures BuildFull's optional features.
type FullOptions struct {
	// TimestampSubtitles adds a `text` trak carrying one sample per
	// wall-clock second, each holding a formatted timestamp string.
	TimestampSubtitles bool
}

// contentChunk is one contiguous run of bytes destined for the single
// virtual mdat, in the order it will be written; its absolute offset is
// only known once every chunk's length (and the moov's final size) is.
type contentChunk struct {
	slice Slice
}

// BuildFull builds a full `.mp4`: `ftyp` + a single `moov` describing
// the concatenation of every segment as one (optionally two) tracks,
// plus a single `mdat` whose content is the referenced sample bytes,
// never copied into this builder's own buffers.
func BuildFull(segs []*playback.IndexedSegment, entry metadb.VideoSampleEntry, opts FullOptions) (*Plan, error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("mp4: BuildFull requires at least one segment")
	}

	var videoChunks []contentChunk
	var sizes []uint32
	var syncSamples []uint32
	var sttsRuns []sttsRun
	var stscEntries []stscEntry
	var totalDuration clock.Duration90k
	var sampleNum uint32

	for _, seg := range segs {
		if len(seg.Samples) == 0 {
			continue
		}
		first := seg.Samples[0]
		last := seg.Samples[len(seg.Samples)-1]
		videoChunks = append(videoChunks, contentChunk{
			slice: fileSlice(seg.SampleFileDirID, seg.CompositeID, first.Offset, last.Offset+last.Size-first.Offset),
		})
		stscEntries = append(stscEntries, stscEntry{
			FirstChunk:      uint32(len(videoChunks)),
			SamplesPerChunk: uint32(len(seg.Samples)),
		})

		for _, s := range seg.Samples {
			sampleNum++
			sizes = append(sizes, uint32(s.Size))
			if s.IsSync {
				syncSamples = append(syncSamples, sampleNum)
			}
			appendSTTSRun(&sttsRuns, uint32(s.Duration))
			totalDuration += s.Duration
		}
	}
	if len(videoChunks) == 0 {
		return nil, fmt.Errorf("mp4: no samples across %d segment(s)", len(segs))
	}

	// The first segment's sample list was extended back to the nearest
	// preceding sync sample; skip is the resulting pre-roll, trimmed via
	// an edit list so playback appears to start exactly at the request.
	firstSeg := segs[0]
	var skip clock.Duration90k
	if len(firstSeg.Samples) > 0 {
		skip = firstSeg.SegmentStart - firstSeg.Samples[0].RelStart
	}

	var subtitle *subtitleTrack
	if opts.TimestampSubtitles {
		subtitle = buildSubtitleTrack(firstSeg.RecordingStart.Add(skip), totalDuration-skip)
	}

	// entry.Data is already a complete avc1 box (BuildVideoSampleEntry's
	// output), so it drops straight into stsd without rebuilding avcC.
	stsd := stsdBox(entry.Data)
	stts := sttsBox(sttsRuns)
	stsz := stszBox(sizes)
	stss := stssBox(syncSamples)
	stsc := stscBox(stscEntries)

	var subSTSD, subSTTS, subSTSZ, subSTSC []byte
	if subtitle != nil {
		subSTSD = stsdBox(textSampleEntryBox())
		subSTTS = sttsBox(subtitle.sttsRuns)
		subSTSZ = stszBox(subtitle.sizes)
		subSTSC = stscBox([]stscEntry{{FirstChunk: 1, SamplesPerChunk: uint32(len(subtitle.sizes))}})
	}

	buildMoov := func(videoOffsets, subtitleOffsets []uint64, use64 bool) []byte {
		coBox := chunkOffsetBox(videoOffsets, use64)
		videoStbl := stblBox(stsd, stts, stsz, stss, stsc, coBox)
		videoMinf := minfBox(vmhdBox(), dinfBox(), videoStbl)
		var videoEdts []byte
		if skip > 0 {
			videoEdts = edtsBox(elstBox(uint32(totalDuration-skip), uint32(skip)))
		}
		videoMdia := mdiaBox(mdhdBox(clock.Rate90k, uint32(totalDuration)), hdlrBox("vide", "moonfire video"), videoMinf)
		videoTrak := trakBox(tkhdBox(videoTrackID, uint32(totalDuration), entry.Width, entry.Height), videoEdts, videoMdia)

		traks := []([]byte){videoTrak}
		nextTrackID := uint32(videoTrackID + 1)

		if subtitle != nil {
			subCo := chunkOffsetBox(subtitleOffsets, use64)
			subStbl := stblBox(subSTSD, subSTTS, subSTSZ, nil, subSTSC, subCo)
			subMinf := minfBox(nmhdBox(), dinfBox(), subStbl)
			subMdia := mdiaBox(mdhdBox(clock.Rate90k, uint32(subtitle.totalDuration)), hdlrBox("text", "moonfire timestamps"), subMinf)
			subTrak := trakBox(tkhdBox(subtitleTrackID, uint32(subtitle.totalDuration), 0, 0), nil, subMdia)
			traks = append(traks, subTrak)
			nextTrackID = subtitleTrackID + 1
		}

		mvhd := mvhdBox(clock.Rate90k, uint32(totalDuration), nextTrackID)
		return moovBox(mvhd, traks...)
	}

	var mdatLen int64
	for _, c := range videoChunks {
		mdatLen += c.slice.len()
	}
	var subtitleSlice Slice
	if subtitle != nil {
		subtitleSlice = bytesSlice(subtitle.payload)
		mdatLen += subtitleSlice.len()
	}
	use64 := mdatLen+8 > 0xFFFFFFFF

	placeholderVideo := make([]uint64, len(videoChunks))
	var placeholderSub []uint64
	if subtitle != nil {
		placeholderSub = make([]uint64, 1)
	}
	moovForSizing := buildMoov(placeholderVideo, placeholderSub, use64)

	ftyp := ftypBox()
	mdatHdr := mdatHeader(mdatLen)
	base := int64(len(ftyp)) + int64(len(moovForSizing)) + int64(len(mdatHdr))

	videoOffsets := make([]uint64, len(videoChunks))
	var cum int64
	for i, c := range videoChunks {
		videoOffsets[i] = uint64(base + cum)
		cum += c.slice.len()
	}
	var subtitleOffsets []uint64
	if subtitle != nil {
		subtitleOffsets = []uint64{uint64(base + cum)}
	}

	moov := buildMoov(videoOffsets, subtitleOffsets, use64)
	if len(moov) != len(moovForSizing) {
		return nil, fmt.Errorf("mp4: internal error: moov size changed between sizing passes")
	}

	slices := make([]Slice, 0, len(videoChunks)+4)
	slices = append(slices, bytesSlice(ftyp), bytesSlice(moov), bytesSlice(mdatHdr))
	for _, c := range videoChunks {
		slices = append(slices, c.slice)
	}
	if subtitle != nil {
		slices = append(slices, subtitleSlice)
	}

	return newPlan(slices), nil
}

func chunkOffsetBox(offsets []uint64, use64 bool) []byte {
	if use64 {
		return co64Box(offsets)
	}
	offs32 := make([]uint32, len(offsets))
	for i, o := range offsets {
		offs32[i] = uint32(o)
	}
	return stcoBox(offs32)
}

func appendSTTSRun(runs *[]sttsRun, delta uint32) {
	if n := len(*runs); n > 0 && (*runs)[n-1].Delta == delta {
		(*runs)[n-1].Count++
		return
	}
	*runs = append(*runs, sttsRun{Count: 1, Delta: delta})
}
