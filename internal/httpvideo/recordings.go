package httpvideo

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/writer"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// recordingRow is one JSON entry of the recordings listing.
type recordingRow struct {
	StartID            int64  `json:"startId"`
	EndID              *int64 `json:"endId,omitempty"`
	FirstUncommitted   bool   `json:"firstUncommitted"`
	Growing            bool   `json:"growing"`
	OpenID             int64  `json:"openId"`
	StartTime90k       int64  `json:"startTime90k"`
	EndTime90k         int64  `json:"endTime90k"`
	SampleFileBytes    int64  `json:"sampleFileBytes"`
	VideoSamples       int64  `json:"videoSamples"`
	VideoSampleEntryID int64  `json:"videoSampleEntryId"`
}

type recordingsResponse struct {
	Recordings []recordingRow `json:"recordings"`
}

// recordingView unifies a committed Recording row, a flush-pending
// UncommittedRecording, and a writer's GrowingSnapshot into one shape for
// listing, sorting, and run-coalescing.
type recordingView struct {
	id                 clock.CompositeID
	openID             clock.OpenID
	runOffset          int
	start              clock.Timestamp90k
	duration           clock.Duration90k
	sampleFileBytes    int64
	videoSamples       int64
	videoSampleEntryID int64
	committed          bool
	growing            bool
}

// RecordingsHandler serves `GET /api/cameras/<uuid>/<stream>/recordings`
//: a descending list of recordings in [startTime90k, endTime90k),
// adjacent recordings from the same run coalesced into a single entry
// with startId/endId, each flagged for commit state.
func (s *Server) RecordingsHandler(w http.ResponseWriter, r *http.Request) {
	streamID, err := s.resolveStream(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	startTime, err := parseTimeParam(q, "startTime90k", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	endTime, err := parseTimeParam(q, "endTime90k", 1<<62)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	views, err := s.listViews(r.Context(), streamID, startTime, endTime)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := recordingsResponse{Recordings: coalesce(views)}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// listViews gathers every recording overlapping [startTime, endTime) for
// streamID from all three sources (committed rows, flush-pending
// entries, and the writer's current growing recording) in descending
// composite-id order.
func (s *Server) listViews(ctx context.Context, streamID clock.StreamID, startTime, endTime clock.Timestamp90k) ([]recordingView, error) {
	committed, err := s.Meta.ListRecordings(ctx, streamID, startTime, endTime, metadb.Descending)
	if err != nil {
		return nil, err
	}

	var views []recordingView
	for _, rec := range committed {
		views = append(views, recordingView{
			id:                 rec.CompositeID,
			openID:             rec.OpenID,
			runOffset:          rec.RunOffset,
			start:              rec.StartTime90k,
			duration:           rec.Duration90k,
			sampleFileBytes:    rec.SampleFileBytes,
			videoSamples:       rec.VideoSamples,
			videoSampleEntryID: rec.VideoSampleEntryID,
			committed:          true,
		})
	}

	if s.Pending != nil {
		for _, u := range s.Pending.PendingForStream(streamID) {
			rec := u.Recording
			if rec.StartTime90k >= endTime || rec.StartTime90k+rec.Duration90k <= startTime {
				continue
			}
			views = append(views, recordingView{
				id:                 rec.CompositeID,
				openID:             rec.OpenID,
				runOffset:          rec.RunOffset,
				start:              rec.StartTime90k,
				duration:           rec.Duration90k,
				sampleFileBytes:    rec.SampleFileBytes,
				videoSamples:       rec.VideoSamples,
				videoSampleEntryID: rec.VideoSampleEntryID,
			})
		}
	}

	if s.Growing != nil {
		if snap := s.Growing.Growing(streamID); snap != nil {
			views = append(views, growingView(snap))
		}
	}

	sort.Slice(views, func(i, j int) bool { return views[i].id > views[j].id })
	return views, nil
}

func growingView(snap *writer.GrowingSnapshot) recordingView {
	var bytes, samples int64
	for _, e := range snap.Samples {
		bytes += e.Size
		samples++
	}
	return recordingView{
		id:                 snap.CompositeID,
		openID:             snap.OpenID,
		runOffset:          snap.RunOffset,
		start:              snap.StartTime,
		sampleFileBytes:    bytes,
		videoSamples:       samples,
		videoSampleEntryID: snap.EntryID,
		growing:            true,
	}
}

// coalesce merges adjacent committed recordings from the same run
// (contiguous run_offset and start/end times) into a single JSON row
// spanning startId..endId. Pending and growing
// entries are never coalesced with their neighbors, since a client
// distinguishes them by id for retry/backoff purposes.
func coalesce(views []recordingView) []recordingRow {
	var out []recordingRow
	var firstUncommittedSeen bool

	for i := 0; i < len(views); i++ {
		v := views[i]
		row := recordingRow{
			StartID:            int64(v.id),
			OpenID:             int64(v.openID),
			StartTime90k:       int64(v.start),
			EndTime90k:         int64(v.start + v.duration),
			SampleFileBytes:    v.sampleFileBytes,
			VideoSamples:       v.videoSamples,
			VideoSampleEntryID: v.videoSampleEntryID,
			Growing:            v.growing,
		}

		if !v.committed && !firstUncommittedSeen {
			row.FirstUncommitted = true
			firstUncommittedSeen = true
		}

		if v.committed {
			for i+1 < len(views) {
				next := views[i+1]
				if !next.committed || next.runOffset != v.runOffset-1 || next.start+next.duration != v.start {
					break
				}
				row.EndTime90k = int64(next.start + next.duration)
				row.SampleFileBytes += next.sampleFileBytes
				row.VideoSamples += next.videoSamples
				v = next
				i++
			}
			if row.StartID != int64(v.id) {
				endID := int64(v.id)
				row.EndID = &endID
			}
		}

		out = append(out, row)
	}
	return out
}

func parseTimeParam(q map[string][]string, name string, def int64) (clock.Timestamp90k, error) {
	vals, ok := q[name]
	if !ok || len(vals) == 0 || vals[0] == "" {
		return clock.Timestamp90k(def), nil
	}
	n, err := strconv.ParseInt(vals[0], 10, 64)
	if err != nil {
		return 0, err
	}
	return clock.Timestamp90k(n), nil
}
