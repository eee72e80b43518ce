// Package sampleindex implements the sample index codec: a compact,
// sequentially-decodable byte string recording, for every sample in a
// recording, its (duration, size, is_sync) triple.
//
// Each entry packs the zigzag-encoded duration delta from the previous
// sample together with the sync flag into one varint (`2*zigzag(delta) +
// is_sync`), followed by a second varint for the zigzag-encoded size
// delta. The first sample's deltas are taken from zero. This keeps the
// common case of near-constant inter-frame duration and slowly drifting
// frame size down to two or three bytes per sample.
package sampleindex

import "errors"

// ErrCorrupt is returned when a blob ends mid-sample, encodes a sample
// whose absolute size is negative, or otherwise cannot represent a valid
// sample sequence.
var ErrCorrupt = errors.New("sampleindex: corrupt blob")

// Delta is one input sample expressed relative to its predecessor, the
// shape callers build while streaming samples from a writer.
type Delta struct {
	DurationDelta int64 // duration(this) - duration(previous); previous = 0 for the first sample
	SizeDelta     int64 // size(this) - size(previous); previous = 0 for the first sample
	IsSync        bool
}

// Entry is one decoded sample: absolute duration, size, and sync flag.
type Entry struct {
	Duration int64
	Size     int64
	IsSync   bool
}

// Encode serializes deltas in order into a single blob.
func Encode(deltas []Delta) []byte {
	// Rough estimate: 3 bytes/sample covers the common case without
	// forcing repeated reallocation.
	buf := make([]byte, 0, len(deltas)*3)
	for _, d := range deltas {
		combined := zigzagEncode(d.DurationDelta) << 1
		if d.IsSync {
			combined |= 1
		}
		buf = putUvarint(buf, combined)
		buf = putUvarint(buf, zigzagEncode(d.SizeDelta))
	}
	return buf
}

// Decoder performs a sequential, allocation-free walk over an encoded
// blob. Random binary search is deliberately unsupported; callers needing a specific cumulative-duration offset scan
// forward with Next.
type Decoder struct {
	buf          []byte
	pos          int
	prevDuration int64
	prevSize     int64
	done         bool
}

// NewDecoder returns a Decoder positioned at the start of blob.
func NewDecoder(blob []byte) *Decoder {
	return &Decoder{buf: blob}
}

// Next decodes the next entry. It returns (Entry{}, false, nil) once the
// blob is exhausted, or a non-nil error if the blob is malformed.
func (d *Decoder) Next() (Entry, bool, error) {
	if d.done || d.pos >= len(d.buf) {
		return Entry{}, false, nil
	}

	combined, n, err := getUvarint(d.buf[d.pos:])
	if err != nil {
		return Entry{}, false, ErrCorrupt
	}
	d.pos += n

	isSync := combined&1 == 1
	durationDelta := zigzagDecode(combined >> 1)

	sizeDeltaRaw, n, err := getUvarint(d.buf[d.pos:])
	if err != nil {
		return Entry{}, false, ErrCorrupt
	}
	d.pos += n
	sizeDelta := zigzagDecode(sizeDeltaRaw)

	duration := d.prevDuration + durationDelta
	size := d.prevSize + sizeDelta
	if size <= 0 {
		return Entry{}, false, ErrCorrupt
	}

	d.prevDuration = duration
	d.prevSize = size

	return Entry{Duration: duration, Size: size, IsSync: isSync}, true, nil
}

// DecodeAll decodes every entry in blob, for callers that don't need the
// incremental Decoder (tests, the offline consistency checker).
func DecodeAll(blob []byte) ([]Entry, error) {
	dec := NewDecoder(blob)
	var out []Entry
	for {
		e, ok, err := dec.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

// ValidateTotals checks the recording-level invariants: the blob must
// decode to exactly wantSamples entries, of which wantSyncSamples are
// sync samples, whose durations sum to wantDuration.
func ValidateTotals(entries []Entry, wantSamples, wantSyncSamples int, wantDuration int64) error {
	if len(entries) != wantSamples {
		return ErrCorrupt
	}
	var totalDuration int64
	var syncCount int
	for _, e := range entries {
		totalDuration += e.Duration
		if e.IsSync {
			syncCount++
		}
	}
	if totalDuration != wantDuration || syncCount != wantSyncSamples {
		return ErrCorrupt
	}
	return nil
}

// DeltasFromAbsolute is the writer-side inverse of Decoder: it turns a
// sequence of absolute (duration, size, is_sync) triples into the deltas
// Encode expects. Exposed for tests and for the offline checker, which
// re-derives a blob to compare against what's stored.
func DeltasFromAbsolute(entries []Entry) []Delta {
	deltas := make([]Delta, len(entries))
	var prevDuration, prevSize int64
	for i, e := range entries {
		deltas[i] = Delta{
			DurationDelta: e.Duration - prevDuration,
			SizeDelta:     e.Size - prevSize,
			IsSync:        e.IsSync,
		}
		prevDuration = e.Duration
		prevSize = e.Size
	}
	return deltas
}
