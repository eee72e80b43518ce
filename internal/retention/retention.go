// Package retention implements the per-stream byte-quota garbage
// collector: while actual on-disk bytes exceed retain_bytes, the oldest
// committed recording (lowest composite_id) is moved to the garbage set.
// Selections go to internal/flush's GarbageChanged, which owns the
// actual unlink.
package retention

import (
	"context"
	"fmt"
	"math"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/obs"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

const (
	minTimestamp = clock.Timestamp90k(math.MinInt64)
	maxTimestamp = clock.Timestamp90k(math.MaxInt64)
)

// GrowingBytes reports the size of a stream's currently-growing
// recording, which counts toward its retained bytes but is never itself a
// garbage candidate. Satisfied by *writer.Registry.
type GrowingBytes interface {
	GrowingRecordingBytes(streamID clock.StreamID) int64
}

// GarbageNotifier receives newly-selected garbage rows. Satisfied by
// *flush.Scheduler.
type GarbageNotifier interface {
	GarbageChanged(added, removed []metadb.GarbageEntry)
}

// Config carries the Collector's dependencies.
type Config struct {
	Store    *metadb.Store
	Growing  GrowingBytes
	Notifier GarbageNotifier
	Log      *obs.Logger // optional
}

// Collector runs the oldest-first retention sweep across every stream.
type Collector struct {
	store    *metadb.Store
	growing  GrowingBytes
	notifier GarbageNotifier
	log      *obs.Logger
}

// New constructs a Collector.
func New(cfg Config) *Collector {
	return &Collector{
		store:    cfg.Store,
		growing:  cfg.Growing,
		notifier: cfg.Notifier,
		log:      cfg.Log,
	}
}

// RunOnce sweeps every configured stream once, moving enough of the
// oldest recordings to the garbage set to bring each stream back under
// its retain_bytes budget.
func (c *Collector) RunOnce(ctx context.Context) error {
	streams, err := c.store.ListStreams(ctx)
	if err != nil {
		return fmt.Errorf("retention: list streams: %w", err)
	}

	var toGarbage []metadb.GarbageEntry
	for _, stream := range streams {
		selected, err := c.sweepStream(ctx, stream)
		if err != nil {
			return err
		}
		toGarbage = append(toGarbage, selected...)
	}

	if len(toGarbage) > 0 && c.notifier != nil {
		c.notifier.GarbageChanged(toGarbage, nil)
	}
	return nil
}

// sweepStream selects the oldest-first recordings to garbage for a single
// stream, without mutating any state itself; RunOnce folds the selection
// into a single GarbageChanged call across all streams.
func (c *Collector) sweepStream(ctx context.Context, stream metadb.Stream) ([]metadb.GarbageEntry, error) {
	if stream.RetainBytes <= 0 {
		return nil, nil // unbounded retention; nothing to collect
	}

	recordings, err := c.store.ListRecordings(ctx, stream.ID, minTimestamp, maxTimestamp, metadb.Ascending)
	if err != nil {
		return nil, fmt.Errorf("retention: list recordings for stream %d: %w", stream.ID, err)
	}

	var growing int64
	if c.growing != nil {
		growing = c.growing.GrowingRecordingBytes(stream.ID)
	}

	total := growing
	for _, rec := range recordings {
		total += rec.SampleFileBytes
	}

	var selected []metadb.GarbageEntry
	for _, rec := range recordings {
		if total <= stream.RetainBytes {
			break
		}
		selected = append(selected, metadb.GarbageEntry{
			DirID:       stream.SampleFileDirID,
			CompositeID: rec.CompositeID,
		})
		total -= rec.SampleFileBytes
	}

	if len(selected) > 0 && c.log != nil {
		c.log.Stream(int32(stream.ID)).Info().
			Int("count", len(selected)).
			Int64("retain_bytes", stream.RetainBytes).
			Msg("retention selected recordings for garbage collection")
	}

	return selected, nil
}
