package mp4

import (
	"crypto/sha1"
	"fmt"

	"github.com/moonfire-nvr/moonfire-nvr/internal/h264util"
	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
)

// BuildVideoSampleEntry constructs a video sample entry row from a
// stream's current SPS/PPS: an `avc1` VisualSampleEntry box (embedding
// `avcC`), content-addressed by the SHA-1 of its serialized bytes so
// recordings sharing parameters share one row.
func BuildVideoSampleEntry(sps, pps []byte) (metadb.VideoSampleEntry, error) {
	if len(sps) < 4 {
		return metadb.VideoSampleEntry{}, fmt.Errorf("mp4: SPS too short (%d bytes)", len(sps))
	}

	parsed, err := h264util.ParseSPS(sps)
	if err != nil {
		return metadb.VideoSampleEntry{}, err
	}

	data := avc1Box(parsed.Width, parsed.Height, avcCBox(sps, pps))
	return metadb.VideoSampleEntry{
		SHA1:         sha1.Sum(data),
		Width:        parsed.Width,
		Height:       parsed.Height,
		RFC6381Codec: parsed.RFC6381Codec(),
		Data:         data,
	}, nil
}
