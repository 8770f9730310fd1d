package catalog

import (
	"bytes"
	"encoding/base64"
	"testing"
)

// A catalog in the shape relays publish for a hang broadcast.
const sampleCatalog = `{
	"version": 1,
	"streamingFormat": 1,
	"streamingFormatVersion": "0.2",
	"commonTrackFields": {"namespace": "hang/demo", "packaging": "loc"},
	"tracks": [
		{"name": "video", "selectionParams": {"codec": "avc1.64001F", "width": 1280, "height": 720, "initData": "AUQAH//hAAE="}},
		{"name": "audio0", "selectionParams": {"codec": "mp4a.40.02", "samplerate": 48000, "channelConfig": "2"}},
		{"name": "captions", "selectionParams": {"codec": "caption/v2"}}
	]
}`

func TestParseSampleCatalog(t *testing.T) {
	t.Parallel()
	c, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatal(err)
	}

	if c.Version != 1 {
		t.Fatalf("version = %d, want 1", c.Version)
	}
	if c.CommonTrackFields.Packaging != "loc" {
		t.Fatalf("packaging = %q", c.CommonTrackFields.Packaging)
	}
	if len(c.Tracks) != 3 {
		t.Fatalf("track count = %d, want 3", len(c.Tracks))
	}

	v := c.VideoTrack()
	if v == nil || v.Name != "video" {
		t.Fatalf("video track = %+v", v)
	}
	if v.Codec() != CodecH264 {
		t.Fatalf("video codec = %v, want h264", v.Codec())
	}
	if v.SelectionParams.Width != 1280 || v.SelectionParams.Height != 720 {
		t.Fatalf("video dims = %dx%d", v.SelectionParams.Width, v.SelectionParams.Height)
	}

	init, err := v.InitData()
	if err != nil {
		t.Fatal(err)
	}
	want, _ := base64.StdEncoding.DecodeString("AUQAH//hAAE=")
	if !bytes.Equal(init, want) {
		t.Fatalf("initData = %x", init)
	}

	a := c.AudioTrack()
	if a == nil || a.Name != "audio0" {
		t.Fatalf("audio track = %+v", a)
	}
	if a.Codec() != CodecAAC {
		t.Fatalf("audio codec = %v, want aac", a.Codec())
	}
	if a.SelectionParams.SampleRate != 48000 || a.Channels() != 2 {
		t.Fatalf("audio params = %d Hz / %d ch", a.SelectionParams.SampleRate, a.Channels())
	}
}

func TestParseEmptyObject(t *testing.T) {
	t.Parallel()
	c, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if c.VideoTrack() != nil || c.AudioTrack() != nil {
		t.Fatal("empty catalog should have no media tracks")
	}
}

func TestParseInvalidJSON(t *testing.T) {
	t.Parallel()
	if _, err := Parse([]byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCodecMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		codec string
		want  Codec
	}{
		{"avc1.42E01E", CodecH264},
		{"avc3.640028", CodecH264},
		{"hev1.1.6.L93.B0", CodecHEVC},
		{"hvc1.2.4.L120.B0", CodecHEVC},
		{"av01.0.05M.08", CodecAV1},
		{"mp4a.40.02", CodecAAC},
		{"opus", CodecOpus},
		{"caption/v2", CodecUnknown},
		{"", CodecUnknown},
	}
	for _, tc := range cases {
		tr := Track{SelectionParams: SelectionParams{Codec: tc.codec}}
		if got := tr.Codec(); got != tc.want {
			t.Errorf("Codec(%q) = %v, want %v", tc.codec, got, tc.want)
		}
	}
}

func TestChannelsDefault(t *testing.T) {
	t.Parallel()
	tr := Track{}
	if tr.Channels() != 2 {
		t.Fatalf("Channels() = %d, want default 2", tr.Channels())
	}
	tr.SelectionParams.ChannelConfig = "6"
	if tr.Channels() != 6 {
		t.Fatalf("Channels() = %d, want 6", tr.Channels())
	}
}
