package sampledir

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

func TestOpenFreshDirectoryHasNoMeta(t *testing.T) {
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	defer d.Close()
	require.Nil(t, d.Meta())
}

func TestOpenIsExclusive(t *testing.T) {
	dir := t.TempDir()
	d1, err := Open(dir)
	require.NoError(t, err)
	defer d1.Close()

	_, err = Open(dir)
	require.Error(t, err)
	require.True(t, storage.Is(err, storage.KindLocked))
}

func TestMetaWriteProtocolRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	require.NoError(t, err)
	defer d.Close()

	dirUUID := [16]byte{1, 2, 3}
	require.NoError(t, d.WriteInProgressOpen(clock.OpenID(5), dirUUID, clock.Timestamp90k(100)))
	require.NotNil(t, d.Meta().InProgress)
	require.Nil(t, d.Meta().LastComplete)

	require.NoError(t, d.PromoteToLastComplete(clock.OpenID(5), dirUUID, clock.Timestamp90k(100), clock.Timestamp90k(200)))
	require.Nil(t, d.Meta().InProgress)
	require.Equal(t, clock.OpenID(5), d.Meta().LastComplete.ID)
	require.Equal(t, clock.Timestamp90k(200), d.Meta().LastComplete.End)

	d2, err := Open(dir) // re-open to confirm it survives a process restart
	require.Error(t, err) // still locked by d
	require.True(t, storage.Is(err, storage.KindLocked))
	require.Nil(t, d2)

	require.NoError(t, d.Close())
	d3, err := Open(dir)
	require.NoError(t, err)
	defer d3.Close()
	require.Equal(t, dirUUID, d3.Meta().DirUUID)
	require.Equal(t, clock.OpenID(5), d3.Meta().LastComplete.ID)
}

func TestCorruptMetaFileIsDetected(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, d.WriteInProgressOpen(clock.OpenID(1), [16]byte{9}, clock.Timestamp90k(0)))
	require.NoError(t, d.Close())

	path := dir + "/meta"
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff // flip a CRC bit
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(dir)
	require.Error(t, err)
	require.True(t, storage.Is(err, storage.KindCorrupt))
}

func TestSampleFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	require.NoError(t, err)
	defer d.Close()

	id := clock.NewCompositeID(3, 7)
	f, err := d.CreateSampleFile(id)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ids, err := d.ListSampleFiles()
	require.NoError(t, err)
	require.Contains(t, ids, id)

	rf, err := d.OpenSampleFile(id)
	require.NoError(t, err)
	data, err := io.ReadAll(rf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.NoError(t, rf.Close())

	require.NoError(t, d.DeleteSampleFile(id))
	require.NoError(t, d.DeleteSampleFile(id)) // tolerate missing

	ids, err = d.ListSampleFiles()
	require.NoError(t, err)
	require.NotContains(t, ids, id)
}
