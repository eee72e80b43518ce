package mp4

import (
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// subtitleTrack is the optional `text` trak's sample table, built entirely
// in memory: one short sample per wall-clock second is negligible next to
// the video track, so it never needs the slice-plan's file-range path.
type subtitleTrack struct {
	sizes         []uint32
	sttsRuns      []sttsRun
	payload       []byte
	totalDuration clock.Duration90k
}

// buildSubtitleTrack lays out one text sample per wall-clock second over
// [start, start+visibleDuration), each payload a QuickTime-style counted
// UTF-8 string carrying the absolute timestamp.
func buildSubtitleTrack(start clock.Timestamp90k, visibleDuration clock.Duration90k) *subtitleTrack {
	if visibleDuration <= 0 {
		return nil
	}

	t := &subtitleTrack{totalDuration: visibleDuration}
	var elapsed clock.Duration90k
	for elapsed < visibleDuration {
		delta := clock.Duration90k(clock.Rate90k)
		if remaining := visibleDuration - elapsed; remaining < delta {
			delta = remaining
		}

		ts := start.Add(elapsed).Time().Format("2006-01-02 15:04:05 MST")
		p := textSamplePayload(ts)
		t.payload = append(t.payload, p...)
		t.sizes = append(t.sizes, uint32(len(p)))
		appendSTTSRun(&t.sttsRuns, uint32(delta))

		elapsed += delta
	}
	return t
}

// textSamplePayload encodes s as a QuickTime text-track sample: a 16-bit
// big-endian length prefix followed by the UTF-8 bytes.
func textSamplePayload(s string) []byte {
	out := u16(uint16(len(s)))
	return append(out, []byte(s)...)
}

// textSampleEntryBox builds a minimal QuickTime `text` sample description,
// enough for players that walk the stsd table generically; styling fields
// are all zeroed since every sample here is plain timestamp text.
func textSampleEntryBox() []byte {
	body := make([]byte, 0, 96)
	body = append(body, make([]byte, 6)...) // reserved
	body = append(body, u16(1)...)          // data_reference_index
	body = append(body, u32(0)...)          // displayFlags
	body = append(body, u32(0)...)          // textJustification
	body = append(body, make([]byte, 6)...) // background color
	body = append(body, make([]byte, 8)...) // default text box
	body = append(body, u32(0)...)          // reserved
	body = append(body, u16(0)...)          // fontNumber
	body = append(body, u16(0)...)          // fontFace
	body = append(body, 0)                  // reserved
	body = append(body, u16(0)...)          // reserved
	body = append(body, make([]byte, 6)...) // foreground color
	body = append(body, 0)                  // textName: empty pstring
	return box("text", body)
}

// nmhdBox is the generic ("null") media header FullBox used by track types
// (like text) that don't need vmhd/smhd's type-specific fields.
func nmhdBox() []byte {
	return box("nmhd", fullBoxHeader(0, 0))
}
