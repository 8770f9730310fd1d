// Package bitstream converts video access units between the two NAL
// framings used by this pipeline: 4-byte big-endian length prefixes
// (MP4/ISOBMFF convention, as delivered by the relay) and Annex B
// start codes (as consumed by the decoders). It also classifies NAL
// units for keyframe detection when the relay does not flag keyframes.
package bitstream

import (
	"encoding/binary"
	"errors"
)

// ErrMalformed indicates a length-prefixed input whose declared NAL
// length reads past the end of the buffer, or a trailing fragment
// shorter than a 4-byte length prefix.
var ErrMalformed = errors.New("bitstream: malformed length-prefixed input")

// startCode is the 4-byte Annex B start code emitted before each NAL.
var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// LengthPrefixedToAnnexB converts a length-prefixed access unit to a
// freshly allocated Annex B buffer. A zero-length NAL is valid and
// emits a bare start code. The output never aliases the input.
func LengthPrefixedToAnnexB(data []byte) ([]byte, error) {
	// Length prefixes and start codes are the same size, so the output
	// matches the input length exactly; reserve a little extra so the
	// append path never reallocates on well-formed input.
	out := make([]byte, 0, len(data)+64)

	pos := 0
	for pos < len(data) {
		if pos+4 > len(data) {
			return nil, ErrMalformed
		}
		naluLen := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if naluLen < 0 || pos+naluLen > len(data) {
			return nil, ErrMalformed
		}
		out = append(out, startCode...)
		out = append(out, data[pos:pos+naluLen]...)
		pos += naluLen
	}
	return out, nil
}

// AnnexBToLengthPrefixed converts Annex B NALUs (start-code prefixed) to
// 4-byte big-endian length-prefixed framing. Each input NALU may carry a
// 3-byte or 4-byte start code.
func AnnexBToLengthPrefixed(nalus [][]byte) []byte {
	var total int
	for _, nalu := range nalus {
		raw := stripStartCode(nalu)
		total += 4 + len(raw)
	}

	out := make([]byte, 0, total)
	for _, nalu := range nalus {
		raw := stripStartCode(nalu)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
		out = append(out, lenBuf[:]...)
		out = append(out, raw...)
	}
	return out
}

// stripStartCode removes a 3-byte or 4-byte Annex B start code prefix.
func stripStartCode(nalu []byte) []byte {
	if len(nalu) >= 4 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 0 && nalu[3] == 1 {
		return nalu[4:]
	}
	if len(nalu) >= 3 && nalu[0] == 0 && nalu[1] == 0 && nalu[2] == 1 {
		return nalu[3:]
	}
	return nalu
}
