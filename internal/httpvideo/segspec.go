package httpvideo

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/moonfire-nvr/moonfire-nvr/internal/playback"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// parseSegments parses the `s=` query value's
// `s=START[-END][@OPEN][.REL_START-REL_END]` grammar into an ordered list
// of playback.SegmentSpec, one per comma-separated token, each token
// expanded into one spec per composite id in its START-END range. A
// REL_START applies only to the range's first spec and a REL_END only to
// its last, matching the one place in the system a partial recording can
// appear: the very first or very last segment of a request.
func parseSegments(s string) ([]playback.SegmentSpec, error) {
	if s == "" {
		return nil, fmt.Errorf("httpvideo: empty s= parameter")
	}

	var out []playback.SegmentSpec
	for _, tok := range strings.Split(s, ",") {
		specs, err := parseSegmentToken(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, specs...)
	}
	return out, nil
}

func parseSegmentToken(tok string) ([]playback.SegmentSpec, error) {
	idAndOpenPart := tok
	var relPart string
	if dot := strings.IndexByte(tok, '.'); dot >= 0 {
		idAndOpenPart = tok[:dot]
		relPart = tok[dot+1:]
	}

	rangePart := idAndOpenPart
	var openID *clock.OpenID
	if at := strings.IndexByte(idAndOpenPart, '@'); at >= 0 {
		rangePart = idAndOpenPart[:at]
		n, err := strconv.ParseInt(idAndOpenPart[at+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("httpvideo: bad open id in %q: %w", tok, err)
		}
		v := clock.OpenID(n)
		openID = &v
	}

	startStr, endStr, hasEnd := strings.Cut(rangePart, "-")
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("httpvideo: bad composite id in %q: %w", tok, err)
	}
	startID := clock.CompositeID(start)
	endID := startID
	if hasEnd {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("httpvideo: bad composite id in %q: %w", tok, err)
		}
		endID = clock.CompositeID(end)
		if endID.Stream() != startID.Stream() || endID.Seq() < startID.Seq() {
			return nil, fmt.Errorf("httpvideo: invalid composite id range in %q", tok)
		}
	}

	var relStart, relEnd *clock.Duration90k
	if relPart != "" {
		relStartStr, relEndStr, _ := strings.Cut(relPart, "-")
		if relStartStr != "" {
			n, err := strconv.ParseInt(relStartStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("httpvideo: bad rel_start in %q: %w", tok, err)
			}
			v := clock.Duration90k(n)
			relStart = &v
		}
		if relEndStr != "" {
			n, err := strconv.ParseInt(relEndStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("httpvideo: bad rel_end in %q: %w", tok, err)
			}
			v := clock.Duration90k(n)
			relEnd = &v
		}
	}

	n := int(endID.Seq()-startID.Seq()) + 1
	specs := make([]playback.SegmentSpec, n)
	for i := 0; i < n; i++ {
		specs[i] = playback.SegmentSpec{
			CompositeID: clock.NewCompositeID(startID.Stream(), startID.Seq()+uint32(i)),
			OpenID:      openID,
		}
	}
	specs[0].RelStart = relStart
	specs[n-1].RelEnd = relEnd
	return specs, nil
}

// parseUUID decodes a bare-hex or dashed UUID string into its 16-byte
// form, accepting either since clients may URL-encode either way.
func parseUUID(s string) ([16]byte, error) {
	var out [16]byte
	clean := strings.ReplaceAll(s, "-", "")
	if len(clean) != 32 {
		return out, fmt.Errorf("httpvideo: uuid %q is not 32 hex characters", s)
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return out, fmt.Errorf("httpvideo: uuid %q: %w", s, err)
	}
	copy(out[:], b)
	return out, nil
}
