// Package playback implements the playback index: given a list of
// segment specs, it resolves each one (committed row, flush-pending entry,
// or the writer's currently-growing recording) and walks its sample index
// to compute per-sample byte offsets, durations, and chunk layout. The
// result feeds the MP4 builder, which never decodes a sample index itself.
package playback

import (
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// SegmentSpec names one recording (or portion of one) to include in a
// playback response, in the caller's request order.
type SegmentSpec struct {
	CompositeID clock.CompositeID
	OpenID      *clock.OpenID    // nil means "don't check"
	RelStart    *clock.Duration90k // nil means from the start
	RelEnd      *clock.Duration90k // nil means through the recording's end
}

// SampleRef is one sample within a resolved segment: its time offset
// relative to the recording's start, its byte offset and size within the
// recording's sample file, and whether it's a sync sample.
type SampleRef struct {
	RelStart clock.Duration90k
	Offset   int64
	Size     int64
	IsSync   bool
	Duration clock.Duration90k
}

// IndexedSegment is the resolved, sample-accurate view of one SegmentSpec
//, the authoritative input to the MP4
// builder.
type IndexedSegment struct {
	StreamID           clock.StreamID
	CompositeID        clock.CompositeID
	OpenID             clock.OpenID
	RunOffset          int
	SampleFileDirID    int64
	VideoSampleEntryID int64
	RecordingStart     clock.Timestamp90k

	// Samples is every sample from the nearest sync sample at or before
	// RelStart through the last sample whose cumulative duration reaches
	// RelEnd (or the recording's end).
	Samples []SampleRef

	// SegmentStart/SegmentEnd are the requested (not sync-extended) bounds,
	// relative to RecordingStart.
	SegmentStart clock.Duration90k
	SegmentEnd   clock.Duration90k

	// Growing is true if this segment was resolved from a writer's
	// in-progress recording rather than a committed or pending-flush row.
	Growing bool
}

// Duration returns the total decoded duration spanned by seg.Samples.
func (seg *IndexedSegment) Duration() clock.Duration90k {
	var total clock.Duration90k
	for _, s := range seg.Samples {
		total += s.Duration
	}
	return total
}
