package bitstream

import (
	"bytes"
	"errors"
	"testing"
)

func TestAVCConfigToAnnexB(t *testing.T) {
	t.Parallel()
	sps := []byte{0x67, 0x64, 0x00, 0x1F, 0xAC}
	pps := []byte{0x68, 0xEB, 0xE3, 0xCB}
	config := []byte{
		0x01, 0x64, 0x00, 0x1F, 0xFF, // version, profile, compat, level, lengthSize
		0xE1,       // 1 SPS
		0x00, 0x05, // SPS length
	}
	config = append(config, sps...)
	config = append(config, 0x01, 0x00, 0x04) // 1 PPS, PPS length
	config = append(config, pps...)

	got, err := ConfigRecordToAnnexB(config, CodecH264)
	if err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte{0, 0, 0, 1}, sps...), append([]byte{0, 0, 0, 1}, pps...)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("annex b = %x, want %x", got, want)
	}
}

func TestHEVCConfigToAnnexB(t *testing.T) {
	t.Parallel()
	vps := []byte{0x40, 0x01, 0x0C}
	sps := []byte{0x42, 0x01, 0x01, 0x60}
	pps := []byte{0x44, 0x01, 0xC1}

	config := make([]byte, 22)
	config[0] = 1
	config = append(config, 3) // numOfArrays
	for _, ps := range [][]byte{vps, sps, pps} {
		config = append(config, 0x80|ps[0]>>1&0x3F) // array_completeness | NAL type
		config = append(config, 0x00, 0x01)         // 1 NALU
		config = append(config, 0x00, byte(len(ps)))
		config = append(config, ps...)
	}

	got, err := ConfigRecordToAnnexB(config, CodecH265)
	if err != nil {
		t.Fatal(err)
	}
	var want []byte
	for _, ps := range [][]byte{vps, sps, pps} {
		want = append(want, 0, 0, 0, 1)
		want = append(want, ps...)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("annex b = %x, want %x", got, want)
	}
}

func TestConfigAnnexBPassthrough(t *testing.T) {
	t.Parallel()
	in := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x64}
	got, err := ConfigRecordToAnnexB(in, CodecH264)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, in) {
		t.Fatalf("passthrough = %x, want %x", got, in)
	}

	short := []byte{0x00, 0x00, 0x01, 0x67}
	if got, err := ConfigRecordToAnnexB(short, CodecH264); err != nil || !bytes.Equal(got, short) {
		t.Fatalf("3-byte start code passthrough = %x, %v", got, err)
	}
}

func TestConfigMalformed(t *testing.T) {
	t.Parallel()
	cases := [][]byte{
		nil,
		{0x01},                                     // truncated header
		{0x02, 0x64, 0x00, 0x1F, 0xFF, 0xE0},       // bad version
		{0x01, 0x64, 0x00, 0x1F, 0xFF, 0xE1, 0x00}, // truncated SPS length
		{0x01, 0x64, 0x00, 0x1F, 0xFF, 0xE1, 0x00, 0x05, 0x67}, // SPS shorter than declared
		{0x01, 0x64, 0x00, 0x1F, 0xFF, 0xE1, 0x00, 0x01, 0x67}, // missing PPS count
	}
	for _, config := range cases {
		if _, err := ConfigRecordToAnnexB(config, CodecH264); !errors.Is(err, ErrMalformed) {
			t.Errorf("ConfigRecordToAnnexB(%x) = %v, want ErrMalformed", config, err)
		}
	}

	hevcTruncated := make([]byte, 22)
	hevcTruncated[0] = 1
	hevcTruncated = append(hevcTruncated, 1, 0xA0) // 1 array, no NALU count
	if _, err := ConfigRecordToAnnexB(hevcTruncated, CodecH265); !errors.Is(err, ErrMalformed) {
		t.Errorf("truncated hevc array = %v, want ErrMalformed", err)
	}
}
