package moq

import (
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MoQ stream type constants (draft-ietf-moq-transport-15).
const (
	// StreamTypeSubgroupSIDExt indicates a subgroup stream with an explicit
	// Subgroup ID in the header and per-object extension headers.
	StreamTypeSubgroupSIDExt uint64 = 0x0d
)

// LOC header extension IDs (draft-ietf-moq-loc-01).
const (
	locExtCaptureTimestamp  uint64 = 2  // even: varint value = microseconds
	locExtVideoFrameMarking uint64 = 4  // even: varint value = RFC 9626 flags
	locExtVideoConfig       uint64 = 13 // odd: length-prefixed byte string
)

// RFC 9626 Video Frame Marking: the I bit marks an independent
// (keyframe) picture.
const vfmIndependent uint64 = 0x20

// SubgroupHeader is the stream-level header at the start of a
// unidirectional data stream.
type SubgroupHeader struct {
	TrackAlias uint64
	GroupID    uint64
	SubgroupID uint64
	Priority   byte
}

// Object is a single MoQ object with its decoded LOC extensions.
type Object struct {
	ObjectID uint64
	Payload  []byte

	// CaptureTimestamp is the LOC capture timestamp in microseconds;
	// HasTimestamp reports whether the extension was present.
	CaptureTimestamp uint64
	HasTimestamp     bool

	// Keyframe is the RFC 9626 video-frame-marking independent bit;
	// HasFrameMarking reports whether the extension was present.
	Keyframe        bool
	HasFrameMarking bool

	// VideoConfig is the decoder configuration record carried on
	// keyframes, or nil.
	VideoConfig []byte
}

// byteReader is the reader shape required by the stream parser: QUIC
// receive streams satisfy it once wrapped in a bufio.Reader.
type byteReader interface {
	io.Reader
	io.ByteReader
}

// ReadSubgroupHeader reads and validates the subgroup header at the
// start of a data stream.
func ReadSubgroupHeader(r byteReader) (SubgroupHeader, error) {
	var h SubgroupHeader

	streamType, err := quicvarint.Read(r)
	if err != nil {
		return h, fmt.Errorf("read stream type: %w", err)
	}
	if streamType != StreamTypeSubgroupSIDExt {
		return h, fmt.Errorf("moq: unsupported stream type 0x%x", streamType)
	}

	if h.TrackAlias, err = quicvarint.Read(r); err != nil {
		return h, fmt.Errorf("read track alias: %w", err)
	}
	if h.GroupID, err = quicvarint.Read(r); err != nil {
		return h, fmt.Errorf("read group id: %w", err)
	}
	if h.SubgroupID, err = quicvarint.Read(r); err != nil {
		return h, fmt.Errorf("read subgroup id: %w", err)
	}
	if h.Priority, err = r.ReadByte(); err != nil {
		return h, fmt.Errorf("read priority: %w", err)
	}
	return h, nil
}

// ReadObject reads the next object from a data stream. A clean end of
// stream between objects returns io.EOF.
func ReadObject(r byteReader) (Object, error) {
	var o Object

	objectID, err := quicvarint.Read(r)
	if err != nil {
		if err == io.EOF {
			return o, io.EOF
		}
		return o, fmt.Errorf("read object id: %w", err)
	}
	o.ObjectID = objectID

	extLen, err := quicvarint.Read(r)
	if err != nil {
		return o, fmt.Errorf("read extension length: %w", err)
	}
	if extLen > 0 {
		exts := make([]byte, extLen)
		if _, err := io.ReadFull(r, exts); err != nil {
			return o, fmt.Errorf("read extensions: %w", err)
		}
		if err := o.parseExtensions(exts); err != nil {
			return o, err
		}
	}

	payloadLen, err := quicvarint.Read(r)
	if err != nil {
		return o, fmt.Errorf("read payload length: %w", err)
	}
	o.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, o.Payload); err != nil {
		return o, fmt.Errorf("read payload: %w", err)
	}
	return o, nil
}

// parseExtensions decodes the LOC header extensions. Even IDs carry a
// varint value, odd IDs a length-prefixed byte string; unknown
// extensions are skipped.
func (o *Object) parseExtensions(data []byte) error {
	r := newBufReader(data)
	for r.pos < len(r.data) {
		id, err := r.readVarint()
		if err != nil {
			return &ParseError{Field: "extension_id", Err: err}
		}
		if id%2 == 1 {
			val, err := r.readVarIntBytes()
			if err != nil {
				return &ParseError{Field: "extension_bytes", Err: err}
			}
			if id == locExtVideoConfig {
				o.VideoConfig = val
			}
			continue
		}
		val, err := r.readVarint()
		if err != nil {
			return &ParseError{Field: "extension_value", Err: err}
		}
		switch id {
		case locExtCaptureTimestamp:
			o.CaptureTimestamp = val
			o.HasTimestamp = true
		case locExtVideoFrameMarking:
			o.Keyframe = val&vfmIndependent != 0
			o.HasFrameMarking = true
		}
	}
	return nil
}
