// Package catalog parses the per-broadcast catalog descriptor
// (draft-ietf-moq-catalogformat) delivered once per subscription before
// any media unit. The catalog enumerates the broadcast's tracks and
// their codecs; the subscription controller uses it to configure the
// decoders.
package catalog

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Codec identifies a decoder family selected from a track's RFC 6381
// codec parameter string.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecHEVC
	CodecAV1
	CodecAAC
	CodecOpus
)

// String returns the codec family name.
func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	case CodecAV1:
		return "av1"
	case CodecAAC:
		return "aac"
	case CodecOpus:
		return "opus"
	default:
		return "unknown"
	}
}

// Catalog is the top-level catalog structure.
type Catalog struct {
	Version                int          `json:"version"`
	StreamingFormat        int          `json:"streamingFormat"`
	StreamingFormatVersion string       `json:"streamingFormatVersion"`
	CommonTrackFields      CommonFields `json:"commonTrackFields"`
	Tracks                 []Track      `json:"tracks"`
}

// CommonFields holds fields shared by all tracks in the catalog.
type CommonFields struct {
	Namespace string `json:"namespace"`
	Packaging string `json:"packaging"`
}

// Track describes a single track in the catalog.
type Track struct {
	Name            string          `json:"name"`
	SelectionParams SelectionParams `json:"selectionParams"`
}

// SelectionParams holds codec and media parameters for track selection.
type SelectionParams struct {
	Codec         string `json:"codec"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	InitData      string `json:"initData,omitempty"`
	SampleRate    int    `json:"samplerate,omitempty"`
	ChannelConfig string `json:"channelConfig,omitempty"`
}

// Parse decodes catalog JSON as delivered by the catalog callback.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	return &c, nil
}

// VideoTrack returns the first track whose codec maps to a video
// decoder family, or nil when the catalog advertises none.
func (c *Catalog) VideoTrack() *Track {
	for i := range c.Tracks {
		switch c.Tracks[i].Codec() {
		case CodecH264, CodecHEVC, CodecAV1:
			return &c.Tracks[i]
		}
	}
	return nil
}

// AudioTrack returns the first track whose codec maps to an audio
// decoder family, or nil when the catalog advertises none.
func (c *Catalog) AudioTrack() *Track {
	for i := range c.Tracks {
		switch c.Tracks[i].Codec() {
		case CodecAAC, CodecOpus:
			return &c.Tracks[i]
		}
	}
	return nil
}

// Codec maps the track's RFC 6381 codec string to a decoder family.
func (t *Track) Codec() Codec {
	s := strings.ToLower(t.SelectionParams.Codec)
	switch {
	case strings.HasPrefix(s, "avc1"), strings.HasPrefix(s, "avc3"):
		return CodecH264
	case strings.HasPrefix(s, "hev1"), strings.HasPrefix(s, "hvc1"):
		return CodecHEVC
	case strings.HasPrefix(s, "av01"):
		return CodecAV1
	case strings.HasPrefix(s, "mp4a"):
		return CodecAAC
	case strings.HasPrefix(s, "opus"):
		return CodecOpus
	default:
		return CodecUnknown
	}
}

// InitData decodes the track's base64 decoder configuration record
// (AVCDecoderConfigurationRecord or HEVCDecoderConfigurationRecord).
// Returns nil when the catalog carries none.
func (t *Track) InitData() ([]byte, error) {
	if t.SelectionParams.InitData == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(t.SelectionParams.InitData)
	if err != nil {
		return nil, fmt.Errorf("catalog: initData: %w", err)
	}
	return b, nil
}

// Channels returns the audio channel count from the track's
// channelConfig, defaulting to 2 when absent or unparsable.
func (t *Track) Channels() int {
	var n int
	if _, err := fmt.Sscanf(t.SelectionParams.ChannelConfig, "%d", &n); err != nil || n <= 0 {
		return 2
	}
	return n
}
