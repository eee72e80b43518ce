// Package httpvideo exposes the engine's HTTP surface as a set of
// http.Handler values: recordings listing, full and fragmented MP4
// playback, the init segment, and the live multipart stream. It owns no
// listener or mux of its own; the transport (routing, TLS, auth) stays
// an external collaborator.
package httpvideo

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/moonfire-nvr/moonfire-nvr/internal/live"
	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/mp4"
	"github.com/moonfire-nvr/moonfire-nvr/internal/obs"
	"github.com/moonfire-nvr/moonfire-nvr/internal/playback"
	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/internal/writer"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// MetaSource is the subset of *metadb.Store the HTTP layer reads
// directly (beyond what it delegates to playback.Resolver).
type MetaSource interface {
	StreamByCameraUUID(ctx context.Context, cameraUUID [16]byte, streamType string) (metadb.Stream, error)
	ListRecordings(ctx context.Context, streamID clock.StreamID, startTime, endTime clock.Timestamp90k, order metadb.Order) ([]metadb.Recording, error)
	GetVideoSampleEntry(ctx context.Context, id int64) (metadb.VideoSampleEntry, error)
	GetVideoSampleEntryBySHA1(ctx context.Context, sha1 [20]byte) (metadb.VideoSampleEntry, error)
}

// PendingLister exposes flush-pending recordings for the listing
// endpoint. Satisfied by *flush.Scheduler.
type PendingLister interface {
	PendingForStream(streamID clock.StreamID) []metadb.UncommittedRecording
}

// GrowingLookup exposes a stream's in-progress recording. Satisfied by
// *writer.Registry.
type GrowingLookup interface {
	Growing(streamID clock.StreamID) *writer.GrowingSnapshot
}

// Config carries Server's dependencies. Meta, Resolver, and Dirs are
// required; Pending, Growing, and Live are optional (their absence just
// narrows what the handlers can report). OpenID is the process's current
// open id, reported in every live.m4s response's X-Open-Id header.
type Config struct {
	Meta     MetaSource
	Resolver *playback.Resolver
	Dirs     mp4.DirLocator
	Pending  PendingLister
	Growing  GrowingLookup
	Live     *live.Broadcaster
	OpenID   clock.OpenID
	Log      *obs.Logger
}

// Server holds the handlers' shared dependencies.
type Server struct {
	Meta     MetaSource
	Resolver *playback.Resolver
	Dirs     mp4.DirLocator
	Pending  PendingLister
	Growing  GrowingLookup
	Live     *live.Broadcaster
	OpenID   clock.OpenID
	Log      *obs.Logger
}

// New constructs a Server from cfg.
func New(cfg Config) *Server {
	return &Server{
		Meta:     cfg.Meta,
		Resolver: cfg.Resolver,
		Dirs:     cfg.Dirs,
		Pending:  cfg.Pending,
		Growing:  cfg.Growing,
		Live:     cfg.Live,
		OpenID:   cfg.OpenID,
		Log:      cfg.Log,
	}
}

// RegisterRoutes mounts every handler onto mux using Go 1.22
// path-parameter patterns, for a caller that wants the default layout.
// A caller needing a different prefix or additional middleware may
// instead call the Handler methods directly.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cameras/{uuid}/{stream}/recordings", s.RecordingsHandler)
	mux.HandleFunc("GET /api/cameras/{uuid}/{stream}/view.mp4", s.ViewMP4Handler)
	mux.HandleFunc("GET /api/cameras/{uuid}/{stream}/view.m4s", s.ViewM4SHandler)
	mux.HandleFunc("GET /api/cameras/{uuid}/{stream}/live.m4s", s.LiveHandler)
	mux.HandleFunc("GET /api/init/{sha1}", s.InitHandler)
}

// resolveStream parses the {uuid}/{stream} path parameters and looks up
// the corresponding stream id.
func (s *Server) resolveStream(r *http.Request) (clock.StreamID, error) {
	rawUUID := r.PathValue("uuid")
	streamType := r.PathValue("stream")

	id, err := parseUUID(rawUUID)
	if err != nil {
		return 0, storage.New(storage.KindMismatch, "malformed camera uuid")
	}
	st, err := s.Meta.StreamByCameraUUID(r.Context(), id, streamType)
	if err != nil {
		return 0, err
	}
	return st.ID, nil
}

// writeError maps a storage.Error's Kind to an HTTP status code
// and writes a small JSON body describing the failure. A request-time
// Mismatch additionally describes the range of recordings the stream
// actually has, when the caller attached one.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	switch {
	case storage.Is(err, storage.KindMismatch):
		status = http.StatusNotFound
		if se, ok := storage.As(err); ok && se.AvailableStart != nil && se.AvailableEnd != nil {
			body["availableRange"] = map[string]int64{
				"startTime90k": int64(*se.AvailableStart),
				"endTime90k":   int64(*se.AvailableEnd),
			}
		}
	case storage.Is(err, storage.KindTooLarge):
		status = http.StatusRequestEntityTooLarge
	case storage.Is(err, storage.KindCancelled):
		return // request aborted; nothing to roll back
	case storage.Is(err, storage.KindQuota):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
