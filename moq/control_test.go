package moq

import (
	"bytes"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
)

func TestControlMsgRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	payload := []byte{0x01, 0x02, 0x03}

	if err := WriteControlMsg(&buf, MsgSubscribe, payload); err != nil {
		t.Fatal(err)
	}

	msgType, got, err := ReadControlMsg(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgSubscribe {
		t.Fatalf("type = 0x%x, want 0x%x", msgType, MsgSubscribe)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %x, want %x", got, payload)
	}
}

func TestControlMsgEmptyPayload(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteControlMsg(&buf, MsgUnsubscribe, nil); err != nil {
		t.Fatal(err)
	}
	msgType, payload, err := ReadControlMsg(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgUnsubscribe || len(payload) != 0 {
		t.Fatalf("got type 0x%x payload %x", msgType, payload)
	}
}

func TestSerializeClientSetup(t *testing.T) {
	t.Parallel()
	data := SerializeClientSetup(ClientSetup{
		Versions:     []uint64{Version},
		Path:         "demo",
		HasPath:      true,
		MaxRequestID: 100,
	})

	r := newBufReader(data)

	numVersions, err := r.readVarint()
	if err != nil || numVersions != 1 {
		t.Fatalf("numVersions = %d, %v", numVersions, err)
	}
	v, _ := r.readVarint()
	if v != Version {
		t.Fatalf("version = 0x%x, want 0x%x", v, Version)
	}

	numParams, _ := r.readVarint()
	if numParams != 2 {
		t.Fatalf("numParams = %d, want 2", numParams)
	}

	var gotPath string
	var gotMax uint64
	for i := uint64(0); i < numParams; i++ {
		key, val, bytesVal, err := r.readParam()
		if err != nil {
			t.Fatal(err)
		}
		switch key {
		case ParamPath:
			gotPath = string(bytesVal)
		case ParamMaxRequestID:
			gotMax = val
		}
	}
	if gotPath != "demo" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotMax != 100 {
		t.Fatalf("maxRequestID = %d", gotMax)
	}
}

func TestSerializeSubscribeLayout(t *testing.T) {
	t.Parallel()
	data := SerializeSubscribe(Subscribe{
		RequestID:  7,
		Namespace:  []string{"demo", "track"},
		TrackName:  "video",
		Priority:   128,
		GroupOrder: GroupOrderAscending,
		Forward:    1,
		FilterType: FilterLatestObject,
	})

	r := newBufReader(data)
	if id, _ := r.readVarint(); id != 7 {
		t.Fatalf("requestID = %d", id)
	}
	count, _ := r.readVarint()
	if count != 2 {
		t.Fatalf("namespace tuple count = %d", count)
	}
	for i, want := range []string{"demo", "track"} {
		b, err := r.readVarIntBytes()
		if err != nil || string(b) != want {
			t.Fatalf("namespace[%d] = %q, %v", i, b, err)
		}
	}
	name, _ := r.readVarIntBytes()
	if string(name) != "video" {
		t.Fatalf("trackName = %q", name)
	}
	prio, _ := r.readByte()
	order, _ := r.readByte()
	fwd, _ := r.readByte()
	if prio != 128 || order != GroupOrderAscending || fwd != 1 {
		t.Fatalf("prio/order/fwd = %d/%d/%d", prio, order, fwd)
	}
	filter, _ := r.readVarint()
	if filter != FilterLatestObject {
		t.Fatalf("filter = %d", filter)
	}
	numParams, _ := r.readVarint()
	if numParams != 0 {
		t.Fatalf("numParams = %d", numParams)
	}
	if r.pos != len(data) {
		t.Fatalf("trailing bytes: %d of %d consumed", r.pos, len(data))
	}
}

// serializeSubscribeOK mirrors the relay's SUBSCRIBE_OK layout.
func serializeSubscribeOK(sok SubscribeOK) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, sok.RequestID)
	buf = quicvarint.Append(buf, sok.TrackAlias)
	buf = quicvarint.Append(buf, sok.Expires)
	buf = append(buf, sok.GroupOrder)
	if sok.ContentExists {
		buf = append(buf, 1)
		buf = quicvarint.Append(buf, sok.LargestGroup)
		buf = quicvarint.Append(buf, sok.LargestObj)
	} else {
		buf = append(buf, 0)
	}
	buf = quicvarint.Append(buf, 0) // NumParams
	return buf
}

func TestParseSubscribeOK(t *testing.T) {
	t.Parallel()
	want := SubscribeOK{
		RequestID:     3,
		TrackAlias:    42,
		Expires:       0,
		GroupOrder:    GroupOrderAscending,
		ContentExists: true,
		LargestGroup:  17,
		LargestObj:    5,
	}

	got, err := ParseSubscribeOK(serializeSubscribeOK(want))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseSubscribeOKNoContent(t *testing.T) {
	t.Parallel()
	got, err := ParseSubscribeOK(serializeSubscribeOK(SubscribeOK{RequestID: 1, TrackAlias: 9}))
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentExists || got.TrackAlias != 9 {
		t.Fatalf("got %+v", got)
	}
}

func TestParseSubscribeError(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = quicvarint.Append(buf, 4)  // requestID
	buf = quicvarint.Append(buf, 10) // errorCode
	buf = appendVarIntBytes(buf, []byte("unknown track"))

	se, err := ParseSubscribeError(buf)
	if err != nil {
		t.Fatal(err)
	}
	if se.RequestID != 4 || se.ErrorCode != 10 || se.ReasonPhrase != "unknown track" {
		t.Fatalf("got %+v", se)
	}
}

func TestParseSubscribeOKTruncated(t *testing.T) {
	t.Parallel()
	data := serializeSubscribeOK(SubscribeOK{RequestID: 1, TrackAlias: 2})
	if _, err := ParseSubscribeOK(data[:2]); err == nil {
		t.Fatal("expected error on truncated payload")
	}
}

func TestParseServerSetup(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = quicvarint.Append(buf, Version)
	buf = quicvarint.Append(buf, 1)
	buf = quicvarint.Append(buf, ParamMaxRequestID)
	buf = quicvarint.Append(buf, 64)

	ss, err := ParseServerSetup(buf)
	if err != nil {
		t.Fatal(err)
	}
	if ss.SelectedVersion != Version || ss.MaxRequestID != 64 {
		t.Fatalf("got %+v", ss)
	}
}

func TestParseGoAway(t *testing.T) {
	t.Parallel()
	var buf []byte
	buf = appendVarIntBytes(buf, []byte("https://relay2.example/moq"))

	ga, err := ParseGoAway(buf)
	if err != nil {
		t.Fatal(err)
	}
	if ga.NewSessionURI != "https://relay2.example/moq" {
		t.Fatalf("uri = %q", ga.NewSessionURI)
	}
}
