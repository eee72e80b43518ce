package httpvideo

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/moonfire-nvr/moonfire-nvr/internal/live"
	"github.com/moonfire-nvr/moonfire-nvr/internal/mp4"
	"github.com/moonfire-nvr/moonfire-nvr/internal/playback"
)

// LiveHandler serves `GET.../live.m4s`: a `multipart/mixed`
// stream where each part is one recording's `.m4s` fragment, delivered as
// soon as the writer closes that recording. A subscriber connecting mid-stream receives
// only fragments offered after it subscribes.
func (s *Server) LiveHandler(w http.ResponseWriter, r *http.Request) {
	if s.Live == nil {
		http.Error(w, "httpvideo: live streaming is not enabled", http.StatusNotImplemented)
		return
	}

	streamID, err := s.resolveStream(r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "httpvideo: streaming unsupported by this transport", http.StatusInternalServerError)
		return
	}

	sub := s.Live.Subscribe(streamID)
	defer sub.Close()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	w.Header().Set("X-Open-Id", strconv.FormatInt(int64(s.OpenID), 10))
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return
		case frag, ok := <-sub.C():
			if !ok {
				return
			}
			seq++
			if err := s.writeLiveFragment(r, mw, frag, seq); err != nil {
				if s.Log != nil {
					s.Log.Component("httpvideo").Warn().Err(err).Msg("live stream write failed; closing")
				}
				return
			}
			flusher.Flush()
		}
	}
}

// writeLiveFragment resolves one fragment descriptor to sample
// bytes and writes it as one multipart part with Content-Length,
// Content-Type (with codecs=), X-Recording-Id, X-Time-Range, and
// X-Video-Sample-Entry-Sha1 headers.
func (s *Server) writeLiveFragment(r *http.Request, mw *multipart.Writer, frag live.Fragment, seq uint32) error {
	spec := playback.SegmentSpec{
		CompositeID: frag.CompositeID,
		OpenID:      &frag.OpenID,
		RelStart:    &frag.RelStart,
		RelEnd:      &frag.RelEnd,
	}
	seg, err := s.Resolver.Resolve(r.Context(), spec)
	if err != nil {
		return err
	}

	data, err := mp4.BuildMediaSegment(seg, s.Dirs, seq)
	if err != nil {
		return err
	}

	entry, err := s.Meta.GetVideoSampleEntry(r.Context(), frag.VideoSampleEntryID)
	if err != nil {
		return err
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", frag.MIMEType)
	header.Set("Content-Length", strconv.Itoa(len(data)))
	header.Set("X-Recording-Id", strconv.FormatInt(int64(frag.CompositeID), 10))
	header.Set("X-Time-Range", fmt.Sprintf("%d-%d", frag.RelStart, frag.RelEnd))
	header.Set("X-Video-Sample-Entry-Sha1", fmt.Sprintf("%x", entry.SHA1))
	if frag.Dropped {
		header.Set("X-Fragments-Dropped", "true")
	}

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}
