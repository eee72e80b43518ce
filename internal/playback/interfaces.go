package playback

import (
	"context"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/writer"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// MetaSource is the subset of *metadb.Store the resolver reads. Satisfied
// by *metadb.Store.
type MetaSource interface {
	GetRecording(ctx context.Context, id clock.CompositeID) (metadb.Recording, error)
	LookupPlayback(ctx context.Context, id clock.CompositeID) ([]byte, error)
	GetStream(ctx context.Context, id clock.StreamID) (metadb.Stream, error)
	ListRecordings(ctx context.Context, streamID clock.StreamID, startTime, endTime clock.Timestamp90k, order metadb.Order) ([]metadb.Recording, error)
}

// PendingSource looks up a closed-but-not-yet-flushed recording. Satisfied
// by *flush.Scheduler.
type PendingSource interface {
	PendingEntry(id clock.CompositeID) (metadb.UncommittedRecording, bool)
}

// GrowingSource looks up the recording currently being written for a
// stream, if any. Satisfied by *writer.Registry.
type GrowingSource interface {
	Growing(streamID clock.StreamID) *writer.GrowingSnapshot
}
