package httpvideo

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

func newTestStore(t *testing.T) *metadb.Store {
	t.Helper()
	s, err := metadb.NewStore("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func seedCameraStream(t *testing.T, s *metadb.Store) (cameraUUID [16]byte, streamID clock.StreamID) {
	t.Helper()
	ctx := context.Background()

	dir, err := s.UpsertSampleFileDir(ctx, "/sample0", [16]byte{1})
	require.NoError(t, err)

	cameraUUID = [16]byte{2, 2, 2, 2}
	cameraID, err := s.UpsertCamera(ctx, cameraUUID, "front")
	require.NoError(t, err)

	streamID, err = s.UpsertStream(ctx, cameraID, "main", dir.ID, "rtsp://cam/main", 1<<30, 60, true)
	require.NoError(t, err)
	return cameraUUID, streamID
}

func TestRecordingsHandlerListsCommitted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cameraUUID, streamID := seedCameraStream(t, store)

	openRow, err := store.CreateOpen(ctx, [16]byte{9}, clock.Timestamp90k(0))
	require.NoError(t, err)
	entryID, err := store.InsertVideoSampleEntry(ctx, metadb.VideoSampleEntry{
		SHA1: [20]byte{3}, Width: 1280, Height: 720, RFC6381Codec: "avc1.42001f", Data: []byte{1, 2, 3},
	})
	require.NoError(t, err)

	id := clock.NewCompositeID(streamID, 0)
	uncommitted := []metadb.UncommittedRecording{{
		Recording: metadb.Recording{
			CompositeID: id, StreamID: streamID, OpenID: openRow.ID,
			SampleFileBytes: 4096, Duration90k: clock.Duration90k(90000),
			VideoSamples: 30, VideoSyncSamples: 1, VideoSampleEntryID: entryID,
		},
		Playback: metadb.RecordingPlayback{CompositeID: id, SampleIndex: []byte{1, 2, 3}},
	}}
	require.NoError(t, store.CommitBatch(ctx, uncommitted, nil, nil))

	srv := New(Config{Meta: store})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/cameras/"+hex.EncodeToString(cameraUUID[:])+"/main/recordings", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp recordingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Recordings, 1)
	require.Equal(t, int64(id), resp.Recordings[0].StartID)
	require.False(t, resp.Recordings[0].Growing)
}

func TestRecordingsHandlerUnknownCameraIs404(t *testing.T) {
	store := newTestStore(t)
	seedCameraStream(t, store)

	srv := New(Config{Meta: store})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/cameras/ffffffffffffffffffffffffffffffff/main/recordings", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordingsHandlerMalformedUUIDIs404(t *testing.T) {
	store := newTestStore(t)
	srv := New(Config{Meta: store})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/cameras/not-a-uuid/main/recordings", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
