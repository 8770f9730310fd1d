package bitstream

import "encoding/binary"

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	h264NALTypeIDR = 5
	h264NALTypeSPS = 7
	h264NALTypePPS = 8
)

// H.265 NAL unit types relevant to random access (ITU-T H.265 Table 7-1).
const (
	h265NALTypeIDRWRADL = 19
	h265NALTypeIDRNLP   = 20
	h265NALTypeCRA      = 21
)

// Codec identifies the bitstream flavor for NAL classification.
type Codec int

const (
	CodecH264 Codec = iota
	CodecH265
)

// IsKeyframe scans a length-prefixed access unit and reports whether it
// contains a random-access picture (IDR for H.264; IDR or CRA for
// H.265). Used as a fallback when the relay omits the keyframe flag.
// Malformed input reports false.
func IsKeyframe(data []byte, codec Codec) bool {
	pos := 0
	for pos+4 <= len(data) {
		naluLen := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if naluLen <= 0 || pos+naluLen > len(data) {
			return false
		}
		switch codec {
		case CodecH264:
			if data[pos]&0x1F == h264NALTypeIDR {
				return true
			}
		case CodecH265:
			t := data[pos] >> 1 & 0x3F
			if t == h265NALTypeIDRWRADL || t == h265NALTypeIDRNLP || t == h265NALTypeCRA {
				return true
			}
		}
		pos += naluLen
	}
	return false
}
