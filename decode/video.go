package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"

	"github.com/hangmedia/hangsource/bitstream"
	"github.com/hangmedia/hangsource/catalog"
	"github.com/hangmedia/hangsource/media"
)

var (
	// ErrDecoderFailed means the decoder could not be initialized in
	// either hardware or software mode, or hit an unrecoverable error.
	ErrDecoderFailed = errors.New("decode: decoder failed")

	// ErrUnsupportedCodec means the catalog named a codec FFmpeg has
	// no decoder for.
	ErrUnsupportedCodec = errors.New("decode: unsupported codec")
)

// State describes which decode path a VideoDecoder is using.
type State int

const (
	StateUninitialized State = iota
	StateHardwareReady
	StateSoftwareReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHardwareReady:
		return "hardware"
	case StateSoftwareReady:
		return "software"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Provisional dimensions used until the first frame reports the real
// geometry.
const (
	defaultWidth  = 1920
	defaultHeight = 1080
)

// renderNodes are the DRM render nodes probed for a VA-API device, in
// order. renderD128 is the first render node on most systems.
var renderNodes = []string{
	"/dev/dri/renderD128",
	"/dev/dri/renderD129",
}

// VideoDecoder decodes length-prefixed access units into packed RGBA
// frames. It is not safe for concurrent use; the subscription's video
// callback is the only caller.
type VideoDecoder struct {
	log   *slog.Logger
	codec catalog.Codec
	state State

	decCodec *astiav.Codec
	ctx      *astiav.CodecContext
	hwCtx    *astiav.HardwareDeviceContext

	scaler  rgbaScaler
	packet  *astiav.Packet
	frame   *astiav.Frame
	swFrame *astiav.Frame

	// extradata is set on the codec context at open; pendingConfig is
	// prepended to the next access unit so a mid-stream config takes
	// effect without reopening the codec.
	extradata     []byte
	pendingConfig []byte

	width, height int

	mu sync.Mutex

	framesDecoded atomic.Uint64
	decodeErrs    atomic.Uint64
}

// NewVideoDecoder builds a decoder for the given codec. initData is
// the decoder configuration record from the catalog (SPS/PPS for
// H.264), or nil when parameter sets arrive in-band. The VA-API path
// is tried first; when no render node or hardware context is available
// the decoder opens in software mode. An unknown codec falls back to
// H.264, matching what relays send when the catalog is absent.
func NewVideoDecoder(c catalog.Codec, initData []byte, log *slog.Logger) (*VideoDecoder, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &VideoDecoder{
		log:    log.With("component", "video-decoder", "codec", c.String()),
		codec:  c,
		width:  defaultWidth,
		height: defaultHeight,
	}

	codecID, ok := videoCodecID(c)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, c)
	}
	d.decCodec = astiav.FindDecoder(codecID)
	if d.decCodec == nil {
		return nil, fmt.Errorf("%w: no FFmpeg decoder for %s", ErrUnsupportedCodec, c)
	}
	if len(initData) > 0 {
		d.applyConfig(initData)
	}

	if err := d.open(true); err != nil {
		d.log.Warn("hardware decoder unavailable, using software", "error", err)
		if err := d.open(false); err != nil {
			d.state = StateFailed
			return nil, fmt.Errorf("%w: %v", ErrDecoderFailed, err)
		}
	}

	d.packet = astiav.AllocPacket()
	d.frame = astiav.AllocFrame()
	d.swFrame = astiav.AllocFrame()

	d.log.Info("video decoder ready", "state", d.state.String())
	return d, nil
}

// open initializes the codec context, with a VA-API device context
// when hardware is requested.
func (d *VideoDecoder) open(hardware bool) error {
	ctx := astiav.AllocCodecContext(d.decCodec)
	if ctx == nil {
		return errors.New("alloc codec context")
	}
	ctx.SetWidth(d.width)
	ctx.SetHeight(d.height)
	if len(d.extradata) > 0 {
		if err := ctx.SetExtraData(d.extradata); err != nil {
			ctx.Free()
			return fmt.Errorf("set extradata: %w", err)
		}
	}

	if hardware {
		hwCtx, err := openHardwareContext()
		if err != nil {
			ctx.Free()
			return err
		}
		ctx.SetHardwareDeviceContext(hwCtx)
		d.hwCtx = hwCtx
	}

	if err := ctx.Open(d.decCodec, nil); err != nil {
		ctx.Free()
		if d.hwCtx != nil {
			d.hwCtx.Free()
			d.hwCtx = nil
		}
		return fmt.Errorf("open codec: %w", err)
	}

	d.ctx = ctx
	if hardware {
		d.state = StateHardwareReady
	} else {
		d.state = StateSoftwareReady
	}
	return nil
}

// openHardwareContext probes the DRM render nodes for a VA-API device.
func openHardwareContext() (*astiav.HardwareDeviceContext, error) {
	t := astiav.FindHardwareDeviceTypeByName("vaapi")
	if t == astiav.HardwareDeviceTypeNone {
		return nil, errors.New("vaapi not compiled into FFmpeg")
	}

	var lastErr error
	for _, node := range renderNodes {
		if _, err := os.Stat(node); err != nil {
			lastErr = err
			continue
		}
		hwCtx, err := astiav.CreateHardwareDeviceContext(t, node, nil, 0)
		if err != nil {
			lastErr = fmt.Errorf("create device context on %s: %w", node, err)
			continue
		}
		return hwCtx, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no DRM render node found")
	}
	return nil, lastErr
}

// State reports the active decode path.
func (d *VideoDecoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Dimensions reports the last decoded frame geometry, or the
// provisional defaults before the first frame.
func (d *VideoDecoder) Dimensions() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

// Stats reports decoded frame and error counts.
func (d *VideoDecoder) Stats() (decoded, errs uint64) {
	return d.framesDecoded.Load(), d.decodeErrs.Load()
}

// SetConfig installs a decoder configuration record received
// mid-stream (the video config extension carried on keyframes). The
// parameter sets ride in front of the next access unit, so no codec
// reopen is needed.
func (d *VideoDecoder) SetConfig(config []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyConfig(config)
}

// applyConfig converts a configuration record for the decoder. NAL
// codecs get Annex B parameter sets, both as extradata for the next
// open and prepended to the next unit; AV1 keeps the raw record as
// extradata only, since its sequence header travels in-band.
func (d *VideoDecoder) applyConfig(config []byte) {
	if len(config) == 0 {
		return
	}
	if d.codec == catalog.CodecAV1 {
		d.extradata = append([]byte(nil), config...)
		return
	}
	annexB, err := bitstream.ConfigRecordToAnnexB(config, bitstreamCodec(d.codec))
	if err != nil {
		d.log.Warn("unusable decoder config record", "bytes", len(config), "error", err)
		return
	}
	d.extradata = annexB
	d.pendingConfig = annexB
}

// Decode feeds one length-prefixed access unit to the decoder and
// returns the newest decoded frame as packed RGBA, or (nil, nil) when
// the decoder buffered the input without emitting a frame yet.
//
// A hard error on the hardware path demotes the decoder to software
// and retries the same access unit once.
func (d *VideoDecoder) Decode(data []byte, pts uint64) (*media.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateFailed {
		return nil, ErrDecoderFailed
	}

	annexB, err := bitstream.LengthPrefixedToAnnexB(data)
	if err != nil {
		d.decodeErrs.Add(1)
		return nil, fmt.Errorf("repack access unit: %w", err)
	}
	if len(d.pendingConfig) > 0 {
		annexB = append(append([]byte(nil), d.pendingConfig...), annexB...)
		d.pendingConfig = nil
	}

	frame, err := d.decodeAnnexB(annexB, pts)
	if err != nil && d.state == StateHardwareReady {
		d.log.Warn("hardware decode failed, demoting to software", "error", err)
		if derr := d.demoteToSoftware(); derr != nil {
			d.state = StateFailed
			return nil, fmt.Errorf("%w: %v", ErrDecoderFailed, derr)
		}
		frame, err = d.decodeAnnexB(annexB, pts)
	}
	if err != nil {
		d.decodeErrs.Add(1)
		return nil, err
	}
	if frame != nil {
		d.framesDecoded.Add(1)
		d.width, d.height = frame.Width, frame.Height
	}
	return frame, nil
}

// decodeAnnexB runs one send/receive cycle. When the packet produces
// multiple frames only the newest is returned.
func (d *VideoDecoder) decodeAnnexB(annexB []byte, pts uint64) (*media.Frame, error) {
	if err := d.packet.FromData(annexB); err != nil {
		return nil, fmt.Errorf("packet from data: %w", err)
	}
	d.packet.SetPts(int64(pts))
	defer d.packet.Unref()

	if err := d.ctx.SendPacket(d.packet); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("send packet: %w", err)
	}

	var out *media.Frame
	for {
		if err := d.ctx.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				break
			}
			return nil, fmt.Errorf("receive frame: %w", err)
		}

		src := d.frame
		if d.state == StateHardwareReady && d.frame.PixelFormat() == astiav.PixelFormatVaapi {
			d.swFrame.Unref()
			if err := d.frame.TransferHardwareData(d.swFrame); err != nil {
				d.frame.Unref()
				return nil, fmt.Errorf("transfer hardware frame: %w", err)
			}
			d.swFrame.SetPts(d.frame.Pts())
			src = d.swFrame
		}

		w, h, rgba, err := d.scaler.toRGBA(src)
		d.frame.Unref()
		if err != nil {
			return nil, err
		}
		out = &media.Frame{Data: rgba, Width: w, Height: h, PTS: pts}
	}
	return out, nil
}

// demoteToSoftware tears down the hardware context and reopens the
// codec in software mode.
func (d *VideoDecoder) demoteToSoftware() error {
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
	if d.hwCtx != nil {
		d.hwCtx.Free()
		d.hwCtx = nil
	}
	return d.open(false)
}

// Close releases all FFmpeg state. The decoder must not be used after
// Close.
func (d *VideoDecoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.scaler.close()
	if d.packet != nil {
		d.packet.Free()
		d.packet = nil
	}
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.swFrame != nil {
		d.swFrame.Free()
		d.swFrame = nil
	}
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
	if d.hwCtx != nil {
		d.hwCtx.Free()
		d.hwCtx = nil
	}
	d.state = StateUninitialized
}

// bitstreamCodec maps a catalog codec to its NAL syntax family.
// Unknown defaults to H.264 like videoCodecID.
func bitstreamCodec(c catalog.Codec) bitstream.Codec {
	if c == catalog.CodecHEVC {
		return bitstream.CodecH265
	}
	return bitstream.CodecH264
}

// videoCodecID maps a catalog codec to the FFmpeg decoder ID. Unknown
// defaults to H.264.
func videoCodecID(c catalog.Codec) (astiav.CodecID, bool) {
	switch c {
	case catalog.CodecH264, catalog.CodecUnknown:
		return astiav.CodecIDH264, true
	case catalog.CodecHEVC:
		return astiav.CodecIDHevc, true
	case catalog.CodecAV1:
		return astiav.CodecIDAv1, true
	}
	return 0, false
}

// rgbaScaler converts decoded frames to tightly packed RGBA through
// libswscale, reallocating its context when the source geometry or
// pixel format changes.
type rgbaScaler struct {
	ssc        *astiav.SoftwareScaleContext
	dst        *astiav.Frame
	srcW, srcH int
	srcPix     astiav.PixelFormat
}

func (s *rgbaScaler) ensure(src *astiav.Frame) error {
	sw, sh := src.Width(), src.Height()
	sp := src.PixelFormat()
	if s.ssc != nil && sw == s.srcW && sh == s.srcH && sp == s.srcPix {
		return nil
	}
	s.close()

	ssc, err := astiav.CreateSoftwareScaleContext(
		sw, sh, sp,
		sw, sh, astiav.PixelFormatRgba,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return fmt.Errorf("create scale context (%dx%d %s to RGBA): %w", sw, sh, sp, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(sw)
	dst.SetHeight(sh)
	dst.SetPixelFormat(astiav.PixelFormatRgba)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("alloc scale buffer: %w", err)
	}

	s.ssc = ssc
	s.dst = dst
	s.srcW, s.srcH, s.srcPix = sw, sh, sp
	return nil
}

// toRGBA converts src into a contiguous RGBA slice of width*height*4
// bytes.
func (s *rgbaScaler) toRGBA(src *astiav.Frame) (int, int, []byte, error) {
	if err := s.ensure(src); err != nil {
		return 0, 0, nil, err
	}
	if err := s.ssc.ScaleFrame(src, s.dst); err != nil {
		return 0, 0, nil, fmt.Errorf("scale frame: %w", err)
	}
	n, err := s.dst.ImageBufferSize(1)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("image buffer size: %w", err)
	}
	out := make([]byte, n)
	if _, err := s.dst.ImageCopyToBuffer(out, 1); err != nil {
		return 0, 0, nil, fmt.Errorf("image copy: %w", err)
	}
	return s.srcW, s.srcH, out, nil
}

func (s *rgbaScaler) close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}
