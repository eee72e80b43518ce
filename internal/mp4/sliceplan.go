package mp4

import (
	"fmt"
	"io"

	"github.com/moonfire-nvr/moonfire-nvr/internal/sampledir"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// DirLocator resolves a sample file directory id to its open handle, so a
// Plan can defer opening recording files until it actually serves a byte
// range. Satisfied by *sampledir.Registry.
type DirLocator interface {
	DirByID(dirID int64) (*sampledir.Dir, error)
}

// Slice is one piece of a Plan: either bytes already held in memory (a
// synthesized box) or a byte range within a sample file, never both.
type Slice struct {
	bytes       []byte
	dirID       int64
	compositeID clock.CompositeID
	offset      int64
	length      int64
}

func bytesSlice(b []byte) Slice { return Slice{bytes: b} }

func fileSlice(dirID int64, id clock.CompositeID, offset, length int64) Slice {
	return Slice{dirID: dirID, compositeID: id, offset: offset, length: length}
}

func (s Slice) len() int64 {
	if s.bytes != nil {
		return int64(len(s.bytes))
	}
	return s.length
}

// Plan is an ordered sequence of Slices representing one HTTP response
// body. The sample-file portions are never read into memory until a
// range is actually served.
type Plan struct {
	slices []Slice
	total  int64
}

func newPlan(slices []Slice) *Plan {
	var total int64
	for _, s := range slices {
		total += s.len()
	}
	return &Plan{slices: slices, total: total}
}

// Len returns the total byte length of the plan's virtual output.
func (p *Plan) Len() int64 { return p.total }

// WriteRange writes bytes [start, end) of the plan's output to w, opening
// and seeking into sample files through dirs as needed. end is exclusive;
// pass 0 for start and p.Len() for end to write the whole plan.
func (p *Plan) WriteRange(w io.Writer, dirs DirLocator, start, end int64) error {
	if start < 0 || end > p.total || start > end {
		return fmt.Errorf("mp4: invalid range [%d,%d) over %d-byte plan", start, end, p.total)
	}

	var pos int64
	for _, s := range p.slices {
		sliceLen := s.len()
		sliceEnd := pos + sliceLen
		if sliceEnd <= start || pos >= end {
			pos = sliceEnd
			continue
		}

		lo := start - pos
		if lo < 0 {
			lo = 0
		}
		hi := end - pos
		if hi > sliceLen {
			hi = sliceLen
		}

		if err := writeSlicePortion(w, dirs, s, lo, hi); err != nil {
			return err
		}
		pos = sliceEnd
	}
	return nil
}

func writeSlicePortion(w io.Writer, dirs DirLocator, s Slice, lo, hi int64) error {
	if s.bytes != nil {
		_, err := w.Write(s.bytes[lo:hi])
		return err
	}

	dir, err := dirs.DirByID(s.dirID)
	if err != nil {
		return fmt.Errorf("mp4: locate sample file directory %d: %w", s.dirID, err)
	}
	f, err := dir.OpenSampleFile(s.compositeID)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(s.offset+lo, io.SeekStart); err != nil {
		return fmt.Errorf("mp4: seek sample file: %w", err)
	}
	if _, err := io.CopyN(w, f, hi-lo); err != nil {
		return fmt.Errorf("mp4: read sample file range: %w", err)
	}
	return nil
}
