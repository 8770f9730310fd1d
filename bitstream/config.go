package bitstream

import "encoding/binary"

// ConfigRecordToAnnexB converts a decoder configuration record
// (AVCDecoderConfigurationRecord or HEVCDecoderConfigurationRecord, as
// carried in catalog initData and the video config extension) into
// Annex B parameter set NALUs. Input that already carries a start code
// is returned unchanged.
func ConfigRecordToAnnexB(config []byte, codec Codec) ([]byte, error) {
	if hasStartCode(config) {
		return config, nil
	}
	switch codec {
	case CodecH265:
		return hevcConfigToAnnexB(config)
	default:
		return avcConfigToAnnexB(config)
	}
}

func hasStartCode(data []byte) bool {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

// avcConfigToAnnexB extracts the SPS and PPS arrays from an
// AVCDecoderConfigurationRecord (ISO 14496-15 §5.3.3.1).
func avcConfigToAnnexB(config []byte) ([]byte, error) {
	if len(config) < 7 || config[0] != 1 {
		return nil, ErrMalformed
	}
	out := make([]byte, 0, len(config)+16)

	pos := 5
	numSPS := int(config[pos] & 0x1F)
	pos++
	var err error
	out, pos, err = appendParamSets(out, config, pos, numSPS)
	if err != nil {
		return nil, err
	}

	if pos >= len(config) {
		return nil, ErrMalformed
	}
	numPPS := int(config[pos])
	pos++
	out, _, err = appendParamSets(out, config, pos, numPPS)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// hevcConfigToAnnexB extracts the VPS/SPS/PPS arrays from an
// HEVCDecoderConfigurationRecord (ISO 14496-15 §8.3.3.1): a 22-byte
// fixed header, then numOfArrays, each array holding 16-bit
// length-prefixed NALUs.
func hevcConfigToAnnexB(config []byte) ([]byte, error) {
	if len(config) < 23 || config[0] != 1 {
		return nil, ErrMalformed
	}
	out := make([]byte, 0, len(config)+16)

	pos := 22
	numArrays := int(config[pos])
	pos++
	for i := 0; i < numArrays; i++ {
		if pos+3 > len(config) {
			return nil, ErrMalformed
		}
		pos++ // array_completeness and NAL unit type
		count := int(binary.BigEndian.Uint16(config[pos:]))
		pos += 2
		var err error
		out, pos, err = appendParamSets(out, config, pos, count)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// appendParamSets copies count 16-bit length-prefixed NALUs from
// config starting at pos, each behind an Annex B start code.
func appendParamSets(out, config []byte, pos, count int) ([]byte, int, error) {
	for i := 0; i < count; i++ {
		if pos+2 > len(config) {
			return nil, 0, ErrMalformed
		}
		length := int(binary.BigEndian.Uint16(config[pos:]))
		pos += 2
		if pos+length > len(config) {
			return nil, 0, ErrMalformed
		}
		out = append(out, startCode...)
		out = append(out, config[pos:pos+length]...)
		pos += length
	}
	return out, pos, nil
}
