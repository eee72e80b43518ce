package mp4

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/moonfire-nvr/moonfire-nvr/internal/playback"
)

// ETag computes a stable hash over the resolved segments' identities and
// the build options, so two identical requests with no intervening state
// change yield byte-identical outputs and a matching ETag.
func ETag(segs []*playback.IndexedSegment, mode string, timestampTrack bool) string {
	h := sha1.New()
	fmt.Fprintf(h, "mode=%s;ts=%v;", mode, timestampTrack)
	for _, seg := range segs {
		fmt.Fprintf(h, "%d:%d:%d:%d;", seg.CompositeID, seg.OpenID, seg.SegmentStart, seg.SegmentEnd)
	}
	return hex.EncodeToString(h.Sum(nil))
}
