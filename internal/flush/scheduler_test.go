package flush

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/sampledir"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time         { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type nilDirResolver struct{}

func (nilDirResolver) DirByID(dirID int64) (*sampledir.Dir, error) { return nil, nil }

func newTestScheduler(t *testing.T) (*Scheduler, *metadb.Store, *stepClock) {
	t.Helper()
	store, err := metadb.NewStore("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &stepClock{t: time.Unix(0, 0)}
	s := New(Config{
		Store:      store,
		Dirs:       nilDirResolver{},
		Clock:      clk,
		FlushIfSec: map[clock.StreamID]time.Duration{1: 30 * time.Second},
		Watermark:  2,
		MinPeriod:  time.Millisecond,
	})
	return s, store, clk
}

func mkRecording(id clock.CompositeID) metadb.UncommittedRecording {
	return metadb.UncommittedRecording{
		Recording: metadb.Recording{CompositeID: id, StreamID: id.Stream(), Duration90k: 1},
		Playback:  metadb.RecordingPlayback{CompositeID: id, SampleIndex: []byte{1}},
	}
}

func TestPublishTriggersFlushAtWatermark(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestScheduler(t)

	id1 := clock.NewCompositeID(1, 1)
	id2 := clock.NewCompositeID(1, 2)
	id3 := clock.NewCompositeID(1, 3)

	s.Publish(ctx, 1, mkRecording(id1))
	s.Publish(ctx, 1, mkRecording(id2))
	require.Equal(t, 2, s.heap.Len())

	s.Publish(ctx, 1, mkRecording(id3)) // crosses watermark (2), should signal a wake
	select {
	case <-s.wake:
	case <-time.After(time.Second):
		t.Fatal("expected a wake signal once the watermark was exceeded")
	}
}

func TestNextWaitUsesEarliestDeadline(t *testing.T) {
	s, _, clk := newTestScheduler(t)
	require.Equal(t, time.Second, s.nextWait(), "empty heap waits a default tick")

	s.Publish(context.Background(), 1, mkRecording(clock.NewCompositeID(1, 1)))
	require.Equal(t, 30*time.Second, s.nextWait())

	clk.advance(31 * time.Second)
	require.Equal(t, time.Duration(0), s.nextWait())
}

func TestGarbageChangedWakesScheduler(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.GarbageChanged([]metadb.GarbageEntry{{DirID: 1, CompositeID: clock.NewCompositeID(1, 1)}}, nil)
	select {
	case <-s.wake:
	case <-time.After(time.Second):
		t.Fatal("expected GarbageChanged to signal a wake")
	}
}
