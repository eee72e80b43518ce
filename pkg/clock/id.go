package clock

import "fmt"

// StreamID identifies one camera stream (main or sub) within the metadata
// database.
type StreamID int32

// OpenID identifies one read-write attachment of the storage engine to its
// database. Monotonic, never reused.
type OpenID int64

// CompositeID is a 64-bit ID whose high 32 bits are the stream ID and
// whose low 32 bits are a per-stream sequence number. Sorting by
// CompositeID equals sorting by (stream, sequence); it is never reused,
// even after row deletion.
type CompositeID int64

// NewCompositeID builds a CompositeID from a stream and its per-stream
// sequence number.
func NewCompositeID(stream StreamID, seq uint32) CompositeID {
	return CompositeID(uint64(uint32(stream))<<32 | uint64(seq))
}

// Stream extracts the stream ID encoded in the high 32 bits.
func (c CompositeID) Stream() StreamID {
	return StreamID(int32(uint32(uint64(c) >> 32)))
}

// Seq extracts the per-stream sequence number encoded in the low 32 bits.
func (c CompositeID) Seq() uint32 {
	return uint32(uint64(c))
}

// Validate returns an error if c's encoded stream does not match want,
// enforcing `composite_id >> 32 == stream_id`.
func (c CompositeID) Validate(want StreamID) error {
	if c.Stream() != want {
		return fmt.Errorf("composite id %s: stream mismatch, want %d got %d", c, want, c.Stream())
	}
	return nil
}

// String renders the fixed-width hex form used as the on-disk sample file
// name.
func (c CompositeID) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}
