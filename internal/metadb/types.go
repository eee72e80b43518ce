package metadb

import "github.com/moonfire-nvr/moonfire-nvr/pkg/clock"

// Open is a monotonic record of a read-write database attach.
type Open struct {
	ID        clock.OpenID
	UUID      [16]byte
	StartTime clock.Timestamp90k
	EndTime   *clock.Timestamp90k
	Duration  *clock.Duration90k
}

// SampleFileDir is one configured sample file directory's DB row.
type SampleFileDir struct {
	ID                 int64
	Path               string
	UUID               [16]byte
	LastCompleteOpenID *clock.OpenID
}

// Stream is a camera's main or sub stream row.
type Stream struct {
	ID              clock.StreamID
	CameraID        int64
	Type            string // "main" or "sub"
	SampleFileDirID int64
	RTSPURL         string
	RetainBytes     int64
	FlushIfSec      int64
	NextRecordingID uint32
	Record          bool
}

// VideoSampleEntry is an immutable, content-addressed sample entry row.
type VideoSampleEntry struct {
	ID           int64
	SHA1         [20]byte
	Width        int
	Height       int
	RFC6381Codec string
	Data         []byte
}

// Recording is one completed segment's row.
type Recording struct {
	CompositeID        clock.CompositeID
	OpenID             clock.OpenID
	StreamID           clock.StreamID
	RunOffset          int
	Flags              int
	SampleFileBytes    int64
	StartTime90k       clock.Timestamp90k
	Duration90k        clock.Duration90k
	VideoSamples       int64
	VideoSyncSamples   int64
	VideoSampleEntryID int64
}

// TrailingZero reports whether the recording's final sample's duration is
// unknown.
func (r *Recording) TrailingZero() bool {
	return r.Flags&RecordingFlagTrailingZero != 0
}

// RecordingPlayback carries the sample index blob alongside a recording.
type RecordingPlayback struct {
	CompositeID  clock.CompositeID
	SampleIndex  []byte
}

// RecordingIntegrity carries optional diagnostic columns, preserved in
// the schema but left null unless computed.
type RecordingIntegrity struct {
	CompositeID            clock.CompositeID
	LocalTimeSinceOpen90k  *int64
	WallTimeDelta90k       *int64
	SampleFileSHA1         []byte
}

// UncommittedRecording is everything a writer publishes to the flush
// scheduler for one completed (or growing) recording.
type UncommittedRecording struct {
	Recording  Recording
	Playback   RecordingPlayback
	Integrity  *RecordingIntegrity
}

// Order selects ascending or descending iteration for ListRecordings.
type Order int

const (
	Ascending Order = iota
	Descending
)
