package mp4

import "encoding/binary"

// ftypBox declares the brands this builder targets: ISO base media plus
// AVC's own brand, matching what avc1/avcC-bearing files advertise.
func ftypBox() []byte {
	body := []byte("isom")
	body = append(body, u32(512)...)
	body = append(body, []byte("isomiso2avc1mp41")...)
	return box("ftyp", body)
}

func mvhdBox(timescale, durationTicks, nextTrackID uint32) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(0)...) // creation_time
	body = append(body, u32(0)...) // modification_time
	body = append(body, u32(timescale)...)
	body = append(body, u32(durationTicks)...)
	body = append(body, u32(0x00010000)...) // rate 1.0
	body = append(body, u16(0x0100)...)     // volume 1.0
	body = append(body, make([]byte, 2)...) // reserved
	body = append(body, make([]byte, 8)...) // reserved
	body = append(body, unityMatrix()...)
	body = append(body, make([]byte, 24)...) // pre_defined
	body = append(body, u32(nextTrackID)...)
	return box("mvhd", body)
}

// trackEnabled | trackInMovie, the flags every playable track carries.
const tkhdFlags = 0x000001 | 0x000002

func tkhdBox(trackID, durationTicks uint32, width, height int) []byte {
	body := fullBoxHeader(0, tkhdFlags)
	body = append(body, u32(0)...) // creation_time
	body = append(body, u32(0)...) // modification_time
	body = append(body, u32(trackID)...)
	body = append(body, u32(0)...) // reserved
	body = append(body, u32(durationTicks)...)
	body = append(body, make([]byte, 8)...) // reserved
	body = append(body, u16(0)...)          // layer
	body = append(body, u16(0)...)          // alternate_group
	body = append(body, u16(0)...)          // volume, 0 for video
	body = append(body, make([]byte, 2)...) // reserved
	body = append(body, unityMatrix()...)
	body = append(body, u32(uint32(width)<<16)...)
	body = append(body, u32(uint32(height)<<16)...)
	return box("tkhd", body)
}

// languageUndetermined is "und" packed as three 5-bit offsets from 0x60.
const languageUndetermined = 0x55c4

func mdhdBox(timescale, durationTicks uint32) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(0)...) // creation_time
	body = append(body, u32(0)...) // modification_time
	body = append(body, u32(timescale)...)
	body = append(body, u32(durationTicks)...)
	body = append(body, u16(languageUndetermined)...)
	body = append(body, u16(0)...) // pre_defined
	return box("mdhd", body)
}

func hdlrBox(handlerType, name string) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(0)...)               // pre_defined
	body = append(body, []byte(handlerType)...)  // 4-byte handler type
	body = append(body, make([]byte, 12)...)     // reserved
	body = append(body, []byte(name)...)
	body = append(body, 0) // null-terminated
	return box("hdlr", body)
}

func vmhdBox() []byte {
	body := fullBoxHeader(0, 1)
	body = append(body, u16(0)...)          // graphicsmode
	body = append(body, make([]byte, 6)...) // opcolor
	return box("vmhd", body)
}

func urlBox() []byte {
	return box("url ", fullBoxHeader(0, 1)) // flags=1: data is in this file
}

func drefBox() []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(1)...)
	body = append(body, urlBox()...)
	return box("dref", body)
}

func dinfBox() []byte {
	return box("dinf", drefBox())
}

func avcCBox(sps, pps []byte) []byte {
	body := []byte{
		1,           // configurationVersion
		sps[1],      // AVCProfileIndication
		sps[2],      // profile_compatibility
		sps[3],      // AVCLevelIndication
		0xfc | 3,    // reserved(6) | lengthSizeMinusOne=3 (4-byte AVC lengths)
		0xe0 | 1,    // reserved(3) | numOfSequenceParameterSets=1
	}
	body = append(body, u16(uint16(len(sps)))...)
	body = append(body, sps...)
	body = append(body, 1) // numOfPictureParameterSets
	body = append(body, u16(uint16(len(pps)))...)
	body = append(body, pps...)
	return box("avcC", body)
}

func avc1Box(width, height int, avcC []byte) []byte {
	body := make([]byte, 0, 78+len(avcC))
	body = append(body, make([]byte, 6)...) // reserved
	body = append(body, u16(1)...)          // data_reference_index
	body = append(body, make([]byte, 16)...)
	body = append(body, u16(uint16(width))...)
	body = append(body, u16(uint16(height))...)
	body = append(body, u32(0x00480000)...) // horizresolution, 72 dpi
	body = append(body, u32(0x00480000)...) // vertresolution, 72 dpi
	body = append(body, u32(0)...)          // reserved
	body = append(body, u16(1)...)          // frame_count
	body = append(body, make([]byte, 32)...)
	body = append(body, u16(0x0018)...) // depth, 24 bpp
	body = append(body, []byte{0xff, 0xff}...) // pre_defined = -1
	body = append(body, avcC...)
	return box("avc1", body)
}

func stsdBox(sampleEntry []byte) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(1)...) // entry_count
	body = append(body, sampleEntry...)
	return box("stsd", body)
}

type sttsRun struct{ Count, Delta uint32 }

func sttsBox(runs []sttsRun) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(uint32(len(runs)))...)
	for _, r := range runs {
		body = append(body, u32(r.Count)...)
		body = append(body, u32(r.Delta)...)
	}
	return box("stts", body)
}

func stszBox(sizes []uint32) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(0)...) // sample_size=0: explicit per-sample table
	body = append(body, u32(uint32(len(sizes)))...)
	for _, s := range sizes {
		body = append(body, u32(s)...)
	}
	return box("stsz", body)
}

func stssBox(syncSampleNumbers []uint32) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(uint32(len(syncSampleNumbers)))...)
	for _, n := range syncSampleNumbers {
		body = append(body, u32(n)...)
	}
	return box("stss", body)
}

type stscEntry struct{ FirstChunk, SamplesPerChunk uint32 }

func stscBox(entries []stscEntry) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(uint32(len(entries)))...)
	for _, e := range entries {
		body = append(body, u32(e.FirstChunk)...)
		body = append(body, u32(e.SamplesPerChunk)...)
		body = append(body, u32(1)...) // sample_description_index
	}
	return box("stsc", body)
}

func stcoBox(offsets []uint32) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(uint32(len(offsets)))...)
	for _, o := range offsets {
		body = append(body, u32(o)...)
	}
	return box("stco", body)
}

func co64Box(offsets []uint64) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(uint32(len(offsets)))...)
	for _, o := range offsets {
		body = append(body, u64(o)...)
	}
	return box("co64", body)
}

func stblBox(stsd, stts, stsz, stss, stsc, chunkOffsets []byte) []byte {
	return box("stbl", boxes(stsd, stts, stsz, stss, stsc, chunkOffsets))
}

func minfBox(vmhd, dinf, stbl []byte) []byte {
	return box("minf", boxes(vmhd, dinf, stbl))
}

func mdiaBox(mdhd, hdlr, minf []byte) []byte {
	return box("mdia", boxes(mdhd, hdlr, minf))
}

// elstBox builds a single-entry edit list that skips mediaTime ticks of
// leading pre-roll so playback starts at the requested time despite an
// earlier key frame being included in the media.
func elstBox(segmentDuration uint32, mediaTime uint32) []byte {
	body := fullBoxHeader(0, 0)
	body = append(body, u32(1)...) // entry_count
	body = append(body, u32(segmentDuration)...)
	body = append(body, u32(mediaTime)...)
	body = append(body, u16(1)...) // media_rate_integer
	body = append(body, u16(0)...) // media_rate_fraction
	return box("elst", body)
}

func edtsBox(elst []byte) []byte {
	return box("edts", elst)
}

func trakBox(tkhd, edts, mdia []byte) []byte {
	children := boxes(tkhd)
	if edts != nil {
		children = append(children, edts...)
	}
	children = append(children, mdia...)
	return box("trak", children)
}

func moovBox(mvhd []byte, traks ...[]byte) []byte {
	children := boxes(mvhd)
	for _, t := range traks {
		children = append(children, t...)
	}
	return box("moov", children)
}

// mdatHeader returns the box header for an mdat whose body is contentLen
// bytes, using the 64-bit size extension if contentLen doesn't fit a
// 32-bit box size.
func mdatHeader(contentLen int64) []byte {
	const headerLen = 8
	if contentLen+headerLen <= 0xFFFFFFFF {
		hdr := make([]byte, headerLen)
		binary.BigEndian.PutUint32(hdr[0:4], uint32(contentLen+headerLen))
		copy(hdr[4:8], "mdat")
		return hdr
	}
	const longHeaderLen = 16
	hdr := make([]byte, longHeaderLen)
	binary.BigEndian.PutUint32(hdr[0:4], 1) // size==1: 64-bit size follows
	copy(hdr[4:8], "mdat")
	binary.BigEndian.PutUint64(hdr[8:16], uint64(contentLen+longHeaderLen))
	return hdr
}
