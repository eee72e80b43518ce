package h264util

import (
	"fmt"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

// ParsedSPS is the subset of a parsed sequence parameter set the video
// sample entry needs.
type ParsedSPS struct {
	Width        int
	Height       int
	ProfileIdc   uint8
	LevelIdc     uint8
	ConstraintByte byte
}

// ParseSPS decodes a raw SPS NAL unit (without AVC length prefix or the
// NAL header byte removed) using mediacommon's H.264 SPS parser.
func ParseSPS(nalu []byte) (*ParsedSPS, error) {
	var sps h264.SPS
	if err := sps.Unmarshal(nalu); err != nil {
		return nil, fmt.Errorf("parse SPS: %w", err)
	}

	// byte 1 of the raw SPS NAL payload (after the 1-byte NAL header) is
	// profile_idc; byte 2 packs the constraint_set flags.
	var constraintByte byte
	if len(nalu) > 2 {
		constraintByte = nalu[2]
	}

	return &ParsedSPS{
		Width:          sps.Width(),
		Height:         sps.Height(),
		ProfileIdc:     sps.ProfileIdc,
		LevelIdc:       sps.LevelIdc,
		ConstraintByte: constraintByte,
	}, nil
}

// RFC6381Codec builds the `avc1.PPCCLL` codec string ISO BMFF/HLS clients
// expect, matching the three-byte AVCProfileIndication /
// profile_compatibility / AVCLevelIndication encoding of the `avcC` box.
func (p *ParsedSPS) RFC6381Codec() string {
	return fmt.Sprintf("avc1.%02x%02x%02x", p.ProfileIdc, p.ConstraintByte, p.LevelIdc)
}
