package moq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/hangmedia/hangsource/bitstream"
)

// Track names within a hang broadcast, matching the relay's catalog.
const (
	trackNameCatalog = "catalog"
	trackNameVideo   = "video"
	trackNameAudio   = "audio0"
)

type trackKind int

const (
	trackCatalog trackKind = iota
	trackVideo
	trackAudio
)

// Callbacks receive the demultiplexed subscription streams. They are
// invoked on the session's reader goroutines and must not block; the
// source checks its active flag first and returns fast when inactive.
// Any callback may be nil.
type Callbacks struct {
	// OnCatalog delivers the broadcast's catalog JSON, at most once,
	// before any media unit.
	OnCatalog func(catalogJSON string)

	// OnVideo delivers one video access unit in length-prefixed NAL
	// framing with its presentation timestamp (microseconds) and
	// keyframe flag.
	OnVideo func(track int, data []byte, pts uint64, keyframe bool)

	// OnAudio delivers one compressed audio unit with its presentation
	// timestamp (microseconds).
	OnAudio func(track int, data []byte, pts uint64)

	// OnVideoConfig delivers the decoder configuration record carried
	// on keyframes, when the relay includes one.
	OnVideoConfig func(config []byte)

	// OnError surfaces a relay error code. The subscription stops
	// delivering media after an error; reconnection is the caller's
	// decision.
	OnError func(code int)
}

// Subscription binds a broadcast path to a set of callbacks. Media
// objects arrive on relay-driven reader goroutines until Close.
type Subscription struct {
	log    *slog.Logger
	sess   *Session
	cb     Callbacks
	cancel context.CancelFunc
	g      *errgroup.Group

	mu     sync.RWMutex
	tracks map[uint64]trackBinding // track alias → binding

	requestIDs []uint64
	closed     atomic.Bool
}

type trackBinding struct {
	kind  trackKind
	index int
}

// Subscribe creates a subscription for the broadcast path (namespace
// segments separated by '/'). It subscribes to the catalog, video, and
// audio tracks, waits for the relay's responses, and starts the data
// stream accept loop. A rejected video track fails the subscription;
// rejected catalog or audio tracks are tolerated with a warning.
func (s *Session) Subscribe(ctx context.Context, broadcast string, cb Callbacks) (*Subscription, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	namespace := strings.Split(broadcast, "/")

	sub := &Subscription{
		log:    s.log.With("broadcast", broadcast),
		sess:   s,
		cb:     cb,
		tracks: make(map[uint64]trackBinding),
	}

	reqs := map[uint64]trackBinding{}
	for _, t := range []struct {
		name     string
		kind     trackKind
		index    int
		priority byte
	}{
		{trackNameCatalog, trackCatalog, 0, priorityCatalog},
		{trackNameVideo, trackVideo, 0, priorityVideo},
		{trackNameAudio, trackAudio, 0, priorityAudio},
	} {
		reqID := s.nextRequestID
		s.nextRequestID++

		msg := Subscribe{
			RequestID:  reqID,
			Namespace:  namespace,
			TrackName:  t.name,
			Priority:   t.priority,
			GroupOrder: GroupOrderAscending,
			Forward:    1,
			FilterType: FilterLatestObject,
		}
		if err := s.writeControl(MsgSubscribe, SerializeSubscribe(msg)); err != nil {
			return nil, fmt.Errorf("moq: write SUBSCRIBE %s: %w", t.name, err)
		}
		reqs[reqID] = trackBinding{kind: t.kind, index: t.index}
		sub.requestIDs = append(sub.requestIDs, reqID)
	}

	if err := sub.awaitResponses(reqs); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	sub.g, runCtx = errgroup.WithContext(runCtx)
	sub.g.Go(func() error { return sub.acceptLoop(runCtx) })
	sub.g.Go(func() error { return sub.controlLoop(runCtx) })

	sub.log.Info("subscription established", "tracks", len(sub.tracks))
	return sub, nil
}

// awaitResponses reads control messages until every SUBSCRIBE has been
// answered with SUBSCRIBE_OK or SUBSCRIBE_ERROR.
func (sub *Subscription) awaitResponses(pending map[uint64]trackBinding) error {
	for len(pending) > 0 {
		msgType, payload, err := ReadControlMsg(sub.sess.controlReader)
		if err != nil {
			return fmt.Errorf("moq: read subscribe response: %w", err)
		}

		switch msgType {
		case MsgSubscribeOK:
			sok, err := ParseSubscribeOK(payload)
			if err != nil {
				return err
			}
			binding, ok := pending[sok.RequestID]
			if !ok {
				continue
			}
			delete(pending, sok.RequestID)
			sub.mu.Lock()
			sub.tracks[sok.TrackAlias] = binding
			sub.mu.Unlock()

		case MsgSubscribeError:
			se, err := ParseSubscribeError(payload)
			if err != nil {
				return err
			}
			binding, ok := pending[se.RequestID]
			if !ok {
				continue
			}
			delete(pending, se.RequestID)
			if binding.kind == trackVideo {
				return &SubscribeError{TrackName: trackNameVideo, Code: se.ErrorCode, ReasonPhrase: se.ReasonPhrase}
			}
			sub.log.Warn("track subscription rejected",
				"kind", binding.kind, "code", se.ErrorCode, "reason", se.ReasonPhrase)

		case MsgMaxRequestID, MsgGoAway:
			// Quota updates are irrelevant at this request volume; a
			// GOAWAY during setup will surface as a read error next.

		default:
			sub.log.Debug("ignoring control message during subscribe", "type", msgType)
		}
	}
	return nil
}

// acceptLoop accepts relay-initiated unidirectional data streams and
// spawns a reader for each.
func (sub *Subscription) acceptLoop(ctx context.Context) error {
	for {
		stream, err := sub.sess.conn.AcceptUniStream(ctx)
		if err != nil {
			sub.surfaceError(err)
			return err
		}
		sub.g.Go(func() error {
			sub.runStream(ctx, stream)
			return nil
		})
	}
}

// runStream reads one data stream to completion, cancelling the
// stream's read side when ctx ends so Close never waits on a relay
// that stopped sending without a FIN.
func (sub *Subscription) runStream(ctx context.Context, stream quic.ReceiveStream) {
	done := context.AfterFunc(ctx, func() {
		stream.CancelRead(0)
	})
	defer done()
	sub.readStream(stream)
}

// controlLoop consumes post-subscribe control messages until the
// session ends.
func (sub *Subscription) controlLoop(ctx context.Context) error {
	done := context.AfterFunc(ctx, func() {
		sub.sess.control.CancelRead(0)
	})
	defer done()

	for {
		msgType, payload, err := ReadControlMsg(sub.sess.controlReader)
		if err != nil {
			sub.surfaceError(err)
			return err
		}
		switch msgType {
		case MsgGoAway:
			ga, err := ParseGoAway(payload)
			if err == nil {
				sub.log.Info("relay sent GOAWAY", "newSessionURI", ga.NewSessionURI)
			}
		default:
			sub.log.Debug("ignoring control message", "type", msgType)
		}
	}
}

// readStream parses one data stream: subgroup header, then objects
// until end of stream, dispatching each to the bound track's callback.
func (sub *Subscription) readStream(stream quic.ReceiveStream) {
	r := bufio.NewReader(stream)

	hdr, err := ReadSubgroupHeader(r)
	if err != nil {
		sub.log.Debug("bad subgroup header", "error", err)
		return
	}

	sub.mu.RLock()
	binding, known := sub.tracks[hdr.TrackAlias]
	sub.mu.RUnlock()
	if !known {
		sub.log.Debug("stream for unknown track alias", "alias", hdr.TrackAlias)
		return
	}

	for {
		obj, err := ReadObject(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !sub.closed.Load() {
				sub.log.Debug("object read failed", "alias", hdr.TrackAlias, "error", err)
			}
			return
		}
		sub.dispatch(binding, obj)
	}
}

// dispatch routes one object to the matching callback.
func (sub *Subscription) dispatch(binding trackBinding, obj Object) {
	if sub.closed.Load() {
		return
	}

	switch binding.kind {
	case trackCatalog:
		if sub.cb.OnCatalog != nil {
			sub.cb.OnCatalog(string(obj.Payload))
		}

	case trackVideo:
		if obj.VideoConfig != nil && sub.cb.OnVideoConfig != nil {
			sub.cb.OnVideoConfig(obj.VideoConfig)
		}
		if sub.cb.OnVideo != nil {
			keyframe := obj.Keyframe
			if !obj.HasFrameMarking {
				// Relay omitted the frame marking extension; fall back
				// to scanning the access unit's NAL types.
				keyframe = bitstream.IsKeyframe(obj.Payload, bitstream.CodecH264) ||
					bitstream.IsKeyframe(obj.Payload, bitstream.CodecH265)
			}
			sub.cb.OnVideo(binding.index, obj.Payload, obj.CaptureTimestamp, keyframe)
		}

	case trackAudio:
		if sub.cb.OnAudio != nil {
			sub.cb.OnAudio(binding.index, obj.Payload, obj.CaptureTimestamp)
		}
	}
}

// surfaceError forwards a relay failure to the error callback, once,
// unless the subscription is closing.
func (sub *Subscription) surfaceError(err error) {
	if sub.closed.Load() || sub.cb.OnError == nil {
		return
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		sub.cb.OnError(int(appErr.ErrorCode))
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	sub.cb.OnError(-1)
}

// Close unsubscribes and stops callback delivery. It blocks until all
// in-flight callbacks have returned, so a caller that observes Close
// returning will receive no further callbacks.
func (sub *Subscription) Close() error {
	if !sub.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, reqID := range sub.requestIDs {
		if err := sub.sess.writeControl(MsgUnsubscribe, SerializeUnsubscribe(reqID)); err != nil {
			sub.log.Debug("unsubscribe write failed", "requestID", reqID, "error", err)
			break
		}
	}

	sub.cancel()
	sub.g.Wait()
	sub.log.Info("subscription closed")
	return nil
}
