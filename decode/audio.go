package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"

	"github.com/hangmedia/hangsource/catalog"
	"github.com/hangmedia/hangsource/media"
)

// AudioDecoder decodes compressed audio units into interleaved signed
// 16-bit PCM at the source sample rate. No rate conversion is done;
// only the sample format is normalized. It is not safe for concurrent
// use.
type AudioDecoder struct {
	log *slog.Logger

	decCodec *astiav.Codec
	ctx      *astiav.CodecContext
	packet   *astiav.Packet
	frame    *astiav.Frame
	outFrame *astiav.Frame
	swr      *astiav.SoftwareResampleContext

	sampleRate int
	channels   int

	mu sync.Mutex

	framesDecoded atomic.Uint64
	decodeErrs    atomic.Uint64
}

// NewAudioDecoder builds a decoder for the catalog's audio track.
// initData is the decoder configuration record from the catalog (the
// AudioSpecificConfig for AAC), or nil. An unknown codec defaults to
// AAC.
func NewAudioDecoder(c catalog.Codec, sampleRate, channels int, initData []byte, log *slog.Logger) (*AudioDecoder, error) {
	if log == nil {
		log = slog.Default()
	}
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if channels <= 0 {
		channels = 2
	}

	codecID, ok := audioCodecID(c)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, c)
	}
	decCodec := astiav.FindDecoder(codecID)
	if decCodec == nil {
		return nil, fmt.Errorf("%w: no FFmpeg decoder for %s", ErrUnsupportedCodec, c)
	}

	ctx := astiav.AllocCodecContext(decCodec)
	if ctx == nil {
		return nil, errors.New("decode: alloc audio codec context")
	}
	ctx.SetSampleRate(sampleRate)
	ctx.SetChannelLayout(channelLayout(channels))
	if len(initData) > 0 {
		if err := ctx.SetExtraData(initData); err != nil {
			ctx.Free()
			return nil, fmt.Errorf("decode: set audio extradata: %w", err)
		}
	}

	if err := ctx.Open(decCodec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("decode: open audio codec: %w", err)
	}

	d := &AudioDecoder{
		log:        log.With("component", "audio-decoder", "codec", c.String()),
		decCodec:   decCodec,
		ctx:        ctx,
		packet:     astiav.AllocPacket(),
		frame:      astiav.AllocFrame(),
		outFrame:   astiav.AllocFrame(),
		sampleRate: sampleRate,
		channels:   channels,
	}
	d.log.Info("audio decoder ready", "sampleRate", sampleRate, "channels", channels)
	return d, nil
}

// Stats reports decoded frame and error counts.
func (d *AudioDecoder) Stats() (decoded, errs uint64) {
	return d.framesDecoded.Load(), d.decodeErrs.Load()
}

// Decode feeds one compressed audio unit and returns the resulting PCM,
// or (nil, nil) when the decoder buffered the input without output.
func (d *AudioDecoder) Decode(data []byte, pts uint64) (*media.PCMFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.packet.FromData(data); err != nil {
		d.decodeErrs.Add(1)
		return nil, fmt.Errorf("decode: audio packet from data: %w", err)
	}
	d.packet.SetPts(int64(pts))
	defer d.packet.Unref()

	if err := d.ctx.SendPacket(d.packet); err != nil && !errors.Is(err, astiav.ErrEagain) {
		d.decodeErrs.Add(1)
		return nil, fmt.Errorf("decode: send audio packet: %w", err)
	}

	var pcm []byte
	var samples, gotRate, gotChannels int
	for {
		if err := d.ctx.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			d.decodeErrs.Add(1)
			return nil, fmt.Errorf("decode: receive audio frame: %w", err)
		}
		if gotRate == 0 {
			gotRate = d.frame.SampleRate()
			gotChannels = d.frame.ChannelLayout().Channels()
		}

		chunk, n, err := d.frameToS16(d.frame)
		d.frame.Unref()
		if err != nil {
			d.decodeErrs.Add(1)
			return nil, err
		}
		pcm = append(pcm, chunk...)
		samples += n
	}

	if samples == 0 {
		return nil, nil
	}
	d.framesDecoded.Add(1)
	rate, channels := pcmParams(gotRate, gotChannels, d.sampleRate, d.channels)
	return &media.PCMFrame{
		Data:       pcm,
		SampleRate: rate,
		Channels:   channels,
		Samples:    samples,
		PTS:        pts,
	}, nil
}

// pcmParams labels PCM with the decoder's observed sample rate and
// channel count. The bitstream wins over the configured values, which
// are defaults when no catalog arrived; configured values only fill in
// when the frame reports nothing.
func pcmParams(frameRate, frameChannels, cfgRate, cfgChannels int) (int, int) {
	rate, channels := cfgRate, cfgChannels
	if frameRate > 0 {
		rate = frameRate
	}
	if frameChannels > 0 {
		channels = frameChannels
	}
	return rate, channels
}

// frameToS16 copies one decoded frame as interleaved S16. Planar or
// float output goes through libswresample; packed S16 is copied
// directly.
func (d *AudioDecoder) frameToS16(src *astiav.Frame) ([]byte, int, error) {
	n := src.NbSamples()

	if src.SampleFormat() == astiav.SampleFormatS16 {
		raw, err := src.Data().Bytes(0)
		if err != nil {
			return nil, 0, fmt.Errorf("decode: audio frame bytes: %w", err)
		}
		need := n * 2 * src.ChannelLayout().Channels()
		if need > len(raw) {
			need = len(raw)
		}
		out := make([]byte, need)
		copy(out, raw[:need])
		return out, n, nil
	}

	if d.swr == nil {
		d.swr = astiav.AllocSoftwareResampleContext()
		if d.swr == nil {
			return nil, 0, errors.New("decode: alloc resample context")
		}
	}

	d.outFrame.Unref()
	d.outFrame.SetSampleFormat(astiav.SampleFormatS16)
	d.outFrame.SetChannelLayout(src.ChannelLayout())
	d.outFrame.SetSampleRate(src.SampleRate())
	d.outFrame.SetNbSamples(n)
	if err := d.outFrame.AllocBuffer(0); err != nil {
		return nil, 0, fmt.Errorf("decode: alloc pcm buffer: %w", err)
	}
	if err := d.swr.ConvertFrame(src, d.outFrame); err != nil {
		return nil, 0, fmt.Errorf("decode: convert audio frame: %w", err)
	}

	got := d.outFrame.NbSamples()
	raw, err := d.outFrame.Data().Bytes(0)
	if err != nil {
		return nil, 0, fmt.Errorf("decode: converted frame bytes: %w", err)
	}
	need := got * 2 * d.outFrame.ChannelLayout().Channels()
	if need > len(raw) {
		need = len(raw)
	}
	out := make([]byte, need)
	copy(out, raw[:need])
	return out, got, nil
}

// Close releases all FFmpeg state.
func (d *AudioDecoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.swr != nil {
		d.swr.Free()
		d.swr = nil
	}
	if d.packet != nil {
		d.packet.Free()
		d.packet = nil
	}
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.outFrame != nil {
		d.outFrame.Free()
		d.outFrame = nil
	}
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
}

// audioCodecID maps a catalog codec to the FFmpeg decoder ID. Unknown
// defaults to AAC.
func audioCodecID(c catalog.Codec) (astiav.CodecID, bool) {
	switch c {
	case catalog.CodecAAC, catalog.CodecUnknown:
		return astiav.CodecIDAac, true
	case catalog.CodecOpus:
		return astiav.CodecIDOpus, true
	}
	return 0, false
}

func channelLayout(channels int) astiav.ChannelLayout {
	if channels == 1 {
		return astiav.ChannelLayoutMono
	}
	return astiav.ChannelLayoutStereo
}
