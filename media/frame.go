// Package media defines the decoded frame types that flow from the
// decoders through the staging primitives to the host compositor and
// audio mixer.
package media

// Frame is a single decoded video picture in packed RGBA byte order,
// row-major with no padding rows (stride = Width*4). Data is owned by
// the frame; consumers must treat it as read-only.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	PTS    uint64 // presentation timestamp, microseconds
}

// Valid reports whether the frame satisfies the packed-RGBA invariant:
// positive dimensions and len(Data) == Width*Height*4.
func (f *Frame) Valid() bool {
	return f != nil && f.Width > 0 && f.Height > 0 && len(f.Data) == f.Width*f.Height*4
}

// PCMFrame is a single decoded audio frame as interleaved signed 16-bit
// little-endian samples at the broadcast's native sample rate. The core
// never resamples; rate conversion is the host mixer's job.
type PCMFrame struct {
	Data       []byte
	SampleRate int
	Channels   int
	Samples    int // samples per channel
	PTS        uint64
}
