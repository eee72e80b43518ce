package httpvideo

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/moonfire-nvr/moonfire-nvr/internal/mp4"
	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
)

// ViewMP4Handler serves `GET.../view.mp4?s=...&ts=`: a
// byte-exact full MP4 spanning the requested segments, with Range and
// ETag support.
func (s *Server) ViewMP4Handler(w http.ResponseWriter, r *http.Request) {
	streamID, err := s.resolveStream(r)
	if err != nil {
		writeError(w, err)
		return
	}

	specs, err := parseSegments(r.URL.Query().Get("s"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ts := r.URL.Query().Get("ts") == "true"

	segs, err := s.Resolver.ResolveAll(r.Context(), specs)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, seg := range segs {
		if seg.StreamID != streamID {
			writeError(w, storage.New(storage.KindMismatch, "segment does not belong to the requested stream"))
			return
		}
	}

	entry, err := s.Meta.GetVideoSampleEntry(r.Context(), segs[0].VideoSampleEntryID)
	if err != nil {
		writeError(w, err)
		return
	}

	plan, err := mp4.BuildFull(segs, entry, mp4.FullOptions{TimestampSubtitles: ts})
	if err != nil {
		writeError(w, err)
		return
	}

	etag := mp4.ETag(segs, "mp4", ts)
	serveSlicePlan(w, r, plan, s.Dirs, etag, "video/mp4")
}

// ViewM4SHandler serves `GET.../view.m4s?s=...`: a single
// fragmented-MP4 media segment, never containing an edit list. Fails
// with 413 if the segment's samples would exceed 4 GiB, per
// mp4.BuildMediaSegment.
func (s *Server) ViewM4SHandler(w http.ResponseWriter, r *http.Request) {
	streamID, err := s.resolveStream(r)
	if err != nil {
		writeError(w, err)
		return
	}

	specs, err := parseSegments(r.URL.Query().Get("s"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(specs) != 1 {
		http.Error(w, "httpvideo: view.m4s accepts exactly one segment", http.StatusBadRequest)
		return
	}

	segs, err := s.Resolver.ResolveAll(r.Context(), specs)
	if err != nil {
		writeError(w, err)
		return
	}
	if segs[0].StreamID != streamID {
		writeError(w, storage.New(storage.KindMismatch, "segment does not belong to the requested stream"))
		return
	}

	data, err := mp4.BuildMediaSegment(segs[0], s.Dirs, 1)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("ETag", `"`+mp4.ETag(segs, "m4s", false)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data) //nolint:errcheck
}

// InitHandler serves `GET /api/init/<sha1>.mp4`: the fragmented-MP4
// initialization segment for one video sample entry, named by content
// hash so it can be cached indefinitely.
func (s *Server) InitHandler(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSuffix(r.PathValue("sha1"), ".mp4")
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 20 {
		http.Error(w, "httpvideo: malformed sha1", http.StatusBadRequest)
		return
	}
	var sum [20]byte
	copy(sum[:], b)

	entry, err := s.Meta.GetVideoSampleEntryBySHA1(r.Context(), sum)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := mp4.BuildInit(entry)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data) //nolint:errcheck
}

// serveSlicePlan writes plan's virtual byte stream to w, honoring a
// conditional GET against etag and an optional single-range Range
// request.
func serveSlicePlan(w http.ResponseWriter, r *http.Request, plan *mp4.Plan, dirs mp4.DirLocator, etag, contentType string) {
	quoted := `"` + etag + `"`
	w.Header().Set("ETag", quoted)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	if inm := r.Header.Get("If-None-Match"); inm == quoted {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	start, end := int64(0), plan.Len()
	status := http.StatusOK
	if rng := r.Header.Get("Range"); rng != "" {
		var err error
		start, end, err = parseRange(rng, plan.Len())
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		}
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, plan.Len()))
	}

	w.Header().Set("Content-Length", strconv.FormatInt(end-start, 10))
	w.WriteHeader(status)
	plan.WriteRange(w, dirs, start, end) //nolint:errcheck
}

// parseRange parses a single-range "bytes=start-end" Range header value,
// per RFC 7233's single-range case; multi-range requests are rejected by
// returning the full entity (Go's net/http callers typically only send
// single ranges for progressive video playback, which is this handler's
// only client).
func parseRange(header string, total int64) (start, end int64, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, fmt.Errorf("httpvideo: unsupported Range unit")
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, total, nil
	}

	lo, hi, _ := strings.Cut(spec, "-")
	switch {
	case lo == "":
		n, err := strconv.ParseInt(hi, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		if n > total {
			n = total
		}
		return total - n, total, nil
	case hi == "":
		n, err := strconv.ParseInt(lo, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		return n, total, nil
	default:
		lon, err := strconv.ParseInt(lo, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		hin, err := strconv.ParseInt(hi, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		if hin >= total {
			hin = total - 1
		}
		return lon, hin + 1, nil
	}
}
