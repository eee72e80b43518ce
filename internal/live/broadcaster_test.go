package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moonfire-nvr/moonfire-nvr/internal/writer"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

func TestSubscribeReceivesFragmentAfterSubscription(t *testing.T) {
	b := New(4)
	streamID := clock.StreamID(1)

	// A fragment offered before Subscribe must not be delivered.
	b.GOPBoundary(streamID, writer.FragmentDescriptor{CompositeID: clock.NewCompositeID(streamID, 1)})

	sub := b.Subscribe(streamID)
	defer sub.Close()

	b.GOPBoundary(streamID, writer.FragmentDescriptor{CompositeID: clock.NewCompositeID(streamID, 2)})

	select {
	case frag := <-sub.C():
		require.Equal(t, clock.NewCompositeID(streamID, 2), frag.CompositeID)
		require.False(t, frag.Dropped)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fragment")
	}
}

func TestOverflowDropsOldestAndMarksLoss(t *testing.T) {
	b := New(2)
	streamID := clock.StreamID(7)
	sub := b.Subscribe(streamID)
	defer sub.Close()

	// With a depth-2 queue, 4 offers force two evictions: the third offer
	// evicts seq 1 (marking loss for whichever fragment is delivered
	// next), and the fourth offer both consumes that pending mark (on
	// seq 4) and evicts seq 2 to make room.
	for i := uint32(1); i <= 4; i++ {
		b.GOPBoundary(streamID, writer.FragmentDescriptor{CompositeID: clock.NewCompositeID(streamID, i)})
	}

	first := <-sub.C()
	require.Equal(t, clock.NewCompositeID(streamID, 3), first.CompositeID)
	require.False(t, first.Dropped)

	second := <-sub.C()
	require.Equal(t, clock.NewCompositeID(streamID, 4), second.CompositeID)
	require.True(t, second.Dropped)
}

func TestUnsubscribedStreamIsNoOp(t *testing.T) {
	b := New(4)
	require.NotPanics(t, func() {
		b.GOPBoundary(clock.StreamID(42), writer.FragmentDescriptor{})
	})
}

func TestCloseClosesAllSubscriptions(t *testing.T) {
	b := New(4)
	sub1 := b.Subscribe(clock.StreamID(1))
	sub2 := b.Subscribe(clock.StreamID(2))

	b.Close()

	_, ok := <-sub1.C()
	require.False(t, ok)
	_, ok = <-sub2.C()
	require.False(t, ok)
}

func TestSubscriptionCloseRemovesFromSet(t *testing.T) {
	b := New(4)
	streamID := clock.StreamID(3)
	sub := b.Subscribe(streamID)
	sub.Close()

	// Offering a fragment after Close must not panic even though the
	// subscription is gone.
	require.NotPanics(t, func() {
		b.GOPBoundary(streamID, writer.FragmentDescriptor{})
	})
}
