package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	e := New(KindLocked, "directory already open")
	require.Equal(t, "locked: directory already open", e.Error())

	wrapped := Wrap(KindCorrupt, "decode sample index", errors.New("unexpected eof"))
	require.Equal(t, "corrupt: decode sample index: unexpected eof", wrapped.Error())
}

func TestIsMatchesWrappedKind(t *testing.T) {
	inner := New(KindTooLarge, "segment exceeds 4GiB")
	outer := fmt.Errorf("build media segment: %w", inner)

	require.True(t, Is(outer, KindTooLarge))
	require.False(t, Is(outer, KindCorrupt))
}

func TestIsFalseForPlainError(t *testing.T) {
	require.False(t, Is(errors.New("plain"), KindCorrupt))
	require.False(t, Is(nil, KindCorrupt))
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	e := Wrap(KindQuota, "commit batch", inner)
	require.ErrorIs(t, e, inner)
}

func TestKindStringUnknown(t *testing.T) {
	require.Equal(t, "unknown", Kind(99).String())
}
