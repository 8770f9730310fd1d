package moq

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MoQ Transport draft-15 message type IDs.
const (
	MsgSubscribe      uint64 = 0x03
	MsgSubscribeOK    uint64 = 0x04
	MsgSubscribeError uint64 = 0x05
	MsgUnsubscribe    uint64 = 0x0a
	MsgGoAway         uint64 = 0x10
	MsgMaxRequestID   uint64 = 0x15
	MsgClientSetup    uint64 = 0x20
	MsgServerSetup    uint64 = 0x21
)

// Version is the MoQ Transport version: draft-15 uses 0xff000000 + draft number.
const Version uint64 = 0xff00000f

// Setup parameter keys (draft-15 §6.2).
const (
	ParamPath         uint64 = 0x01 // odd → length-prefixed byte string
	ParamMaxRequestID uint64 = 0x02 // even → varint value
)

// Subscribe filter types (draft-15 §6.6).
const (
	FilterNextGroupStart uint64 = 0x01
	FilterLatestObject   uint64 = 0x02
	FilterAbsoluteStart  uint64 = 0x03
	FilterAbsoluteRange  uint64 = 0x04
)

// Group order values (draft-15 §6.6).
const (
	GroupOrderDefault    byte = 0x00
	GroupOrderAscending  byte = 0x01
	GroupOrderDescending byte = 0x02
)

// ClientSetup is the first message sent on the control stream.
type ClientSetup struct {
	Versions     []uint64
	Path         string
	MaxRequestID uint64
	HasPath      bool
}

// ServerSetup is the relay's response to a ClientSetup.
type ServerSetup struct {
	SelectedVersion uint64
	MaxRequestID    uint64
}

// Subscribe requests delivery of a track.
type Subscribe struct {
	RequestID  uint64
	Namespace  []string
	TrackName  string
	Priority   byte
	GroupOrder byte
	Forward    byte
	FilterType uint64
	StartGroup uint64 // only for AbsoluteStart / AbsoluteRange
	StartObj   uint64 // only for AbsoluteStart / AbsoluteRange
	EndGroup   uint64 // only for AbsoluteRange
}

// SubscribeOK confirms a subscription and assigns its track alias.
type SubscribeOK struct {
	RequestID     uint64
	TrackAlias    uint64
	Expires       uint64
	GroupOrder    byte
	ContentExists bool
	LargestGroup  uint64 // only when ContentExists
	LargestObj    uint64 // only when ContentExists
}

// SubscribeErrorMsg rejects a subscription.
type SubscribeErrorMsg struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

// GoAway signals a graceful session shutdown by the relay.
type GoAway struct {
	NewSessionURI string
}

// ReadControlMsg reads a MoQ control message from the control stream.
// Wire format: [message_type (varint)] [message_length (uint16 big-endian)] [payload].
func ReadControlMsg(r interface {
	io.Reader
	io.ByteReader
}) (uint64, []byte, error) {
	msgType, err := quicvarint.Read(r)
	if err != nil {
		return 0, nil, fmt.Errorf("read message type: %w", err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}

	return msgType, payload, nil
}

// WriteControlMsg writes a MoQ control message to the control stream as a
// single Write call to ensure atomicity even without external synchronization.
func WriteControlMsg(w io.Writer, msgType uint64, payload []byte) error {
	var buf []byte
	buf = quicvarint.Append(buf, msgType)

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// SerializeClientSetup serializes a CLIENT_SETUP payload.
func SerializeClientSetup(cs ClientSetup) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, uint64(len(cs.Versions)))
	for _, v := range cs.Versions {
		buf = quicvarint.Append(buf, v)
	}

	numParams := uint64(1) // MAX_REQUEST_ID
	if cs.HasPath {
		numParams++
	}
	buf = quicvarint.Append(buf, numParams)
	if cs.HasPath {
		buf = quicvarint.Append(buf, ParamPath)
		buf = appendVarIntBytes(buf, []byte(cs.Path))
	}
	buf = quicvarint.Append(buf, ParamMaxRequestID)
	buf = quicvarint.Append(buf, cs.MaxRequestID)
	return buf
}

// SerializeSubscribe serializes a SUBSCRIBE payload.
func SerializeSubscribe(s Subscribe) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, s.RequestID)
	buf = AppendNamespaceTuple(buf, s.Namespace)
	buf = appendVarIntBytes(buf, []byte(s.TrackName))
	buf = append(buf, s.Priority, s.GroupOrder, s.Forward)
	buf = quicvarint.Append(buf, s.FilterType)

	switch s.FilterType {
	case FilterAbsoluteStart:
		buf = quicvarint.Append(buf, s.StartGroup)
		buf = quicvarint.Append(buf, s.StartObj)
	case FilterAbsoluteRange:
		buf = quicvarint.Append(buf, s.StartGroup)
		buf = quicvarint.Append(buf, s.StartObj)
		buf = quicvarint.Append(buf, s.EndGroup)
	}

	// NumParams = 0
	buf = quicvarint.Append(buf, 0)
	return buf
}

// SerializeUnsubscribe serializes an UNSUBSCRIBE payload.
func SerializeUnsubscribe(requestID uint64) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, requestID)
	return buf
}

// ParseServerSetup parses a SERVER_SETUP payload.
func ParseServerSetup(data []byte) (ServerSetup, error) {
	r := newBufReader(data)
	var ss ServerSetup

	var err error
	ss.SelectedVersion, err = r.readVarint()
	if err != nil {
		return ss, &ParseError{Field: "selected_version", Err: err}
	}

	numParams, err := r.readVarint()
	if err != nil {
		return ss, &ParseError{Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		key, val, bytesVal, err := r.readParam()
		if err != nil {
			return ss, &ParseError{Field: "param", Err: err}
		}
		_ = bytesVal
		if key == ParamMaxRequestID {
			ss.MaxRequestID = val
		}
	}
	return ss, nil
}

// ParseSubscribeOK parses a SUBSCRIBE_OK payload.
func ParseSubscribeOK(data []byte) (SubscribeOK, error) {
	r := newBufReader(data)
	var sok SubscribeOK

	var err error
	sok.RequestID, err = r.readVarint()
	if err != nil {
		return sok, &ParseError{Field: "request_id", Err: err}
	}
	sok.TrackAlias, err = r.readVarint()
	if err != nil {
		return sok, &ParseError{Field: "track_alias", Err: err}
	}
	sok.Expires, err = r.readVarint()
	if err != nil {
		return sok, &ParseError{Field: "expires", Err: err}
	}
	sok.GroupOrder, err = r.readByte()
	if err != nil {
		return sok, &ParseError{Field: "group_order", Err: err}
	}

	contentExists, err := r.readByte()
	if err != nil {
		return sok, &ParseError{Field: "content_exists", Err: err}
	}
	if contentExists != 0 {
		sok.ContentExists = true
		sok.LargestGroup, err = r.readVarint()
		if err != nil {
			return sok, &ParseError{Field: "largest_group", Err: err}
		}
		sok.LargestObj, err = r.readVarint()
		if err != nil {
			return sok, &ParseError{Field: "largest_object", Err: err}
		}
	}

	// Remaining params are irrelevant to a subscriber; skip them.
	return sok, nil
}

// ParseSubscribeError parses a SUBSCRIBE_ERROR payload.
func ParseSubscribeError(data []byte) (SubscribeErrorMsg, error) {
	r := newBufReader(data)
	var se SubscribeErrorMsg

	var err error
	se.RequestID, err = r.readVarint()
	if err != nil {
		return se, &ParseError{Field: "request_id", Err: err}
	}
	se.ErrorCode, err = r.readVarint()
	if err != nil {
		return se, &ParseError{Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return se, &ParseError{Field: "reason_phrase", Err: err}
	}
	se.ReasonPhrase = string(reason)
	return se, nil
}

// ParseGoAway parses a GOAWAY payload.
func ParseGoAway(data []byte) (GoAway, error) {
	r := newBufReader(data)
	uri, err := r.readVarIntBytes()
	if err != nil {
		return GoAway{}, &ParseError{Field: "new_session_uri", Err: err}
	}
	return GoAway{NewSessionURI: string(uri)}, nil
}

// ParseMaxRequestID parses a MAX_REQUEST_ID payload.
func ParseMaxRequestID(data []byte) (uint64, error) {
	r := newBufReader(data)
	id, err := r.readVarint()
	if err != nil {
		return 0, &ParseError{Field: "request_id", Err: err}
	}
	return id, nil
}

// AppendNamespaceTuple appends a namespace tuple to buf:
// [count(i)] [len(i) bytes]...
func AppendNamespaceTuple(buf []byte, parts []string) []byte {
	buf = quicvarint.Append(buf, uint64(len(parts)))
	for _, p := range parts {
		buf = appendVarIntBytes(buf, []byte(p))
	}
	return buf
}

// appendVarIntBytes appends a varint-length-prefixed byte string to buf.
func appendVarIntBytes(buf []byte, data []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(data)))
	buf = append(buf, data...)
	return buf
}

// bufReader wraps a byte slice for sequential varint/byte reading.
type bufReader struct {
	data []byte
	pos  int
}

func newBufReader(data []byte) *bufReader {
	return &bufReader{data: data}
}

func (b *bufReader) readVarint() (uint64, error) {
	if b.pos >= len(b.data) {
		return 0, io.ErrUnexpectedEOF
	}
	val, n, err := quicvarint.Parse(b.data[b.pos:])
	if err != nil {
		return 0, err
	}
	b.pos += n
	return val, nil
}

func (b *bufReader) readByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, io.ErrUnexpectedEOF
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *bufReader) readVarIntBytes() ([]byte, error) {
	length, err := b.readVarint()
	if err != nil {
		return nil, err
	}
	end := b.pos + int(length)
	if end > len(b.data) {
		return nil, io.ErrUnexpectedEOF
	}
	v := b.data[b.pos:end]
	b.pos = end
	return v, nil
}

// readParam reads one setup parameter. Even keys carry a varint value,
// odd keys a length-prefixed byte string.
func (b *bufReader) readParam() (key, val uint64, bytesVal []byte, err error) {
	key, err = b.readVarint()
	if err != nil {
		return 0, 0, nil, err
	}
	if key%2 == 1 {
		bytesVal, err = b.readVarIntBytes()
		return key, 0, bytesVal, err
	}
	val, err = b.readVarint()
	return key, val, nil, err
}
