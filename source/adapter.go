package source

import (
	"context"
	"log/slog"

	"github.com/hangmedia/hangsource/catalog"
	"github.com/hangmedia/hangsource/decode"
	"github.com/hangmedia/hangsource/moq"
)

// DialMoQ is the production dialer, backed by the in-repo MoQ client.
func DialMoQ(ctx context.Context, url string) (Session, error) {
	sess, err := moq.Connect(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &moqSession{sess: sess}, nil
}

// NewMoQSession wraps an already-established MoQ session, for callers
// that dial with custom TLS or QUIC options.
func NewMoQSession(sess *moq.Session) Session {
	return &moqSession{sess: sess}
}

type moqSession struct {
	sess *moq.Session
}

func (m *moqSession) Subscribe(ctx context.Context, broadcast string, cb moq.Callbacks) (Subscription, error) {
	return m.sess.Subscribe(ctx, broadcast, cb)
}

func (m *moqSession) Close() error {
	return m.sess.Close()
}

// defaultVideoDecoder builds FFmpeg-backed video decoders.
func defaultVideoDecoder(log *slog.Logger) func(c catalog.Codec, initData []byte) (VideoDecoder, error) {
	return func(c catalog.Codec, initData []byte) (VideoDecoder, error) {
		return decode.NewVideoDecoder(c, initData, log)
	}
}

// defaultAudioDecoder builds FFmpeg-backed audio decoders.
func defaultAudioDecoder(log *slog.Logger) func(c catalog.Codec, sampleRate, channels int, initData []byte) (AudioDecoder, error) {
	return func(c catalog.Codec, sampleRate, channels int, initData []byte) (AudioDecoder, error) {
		return decode.NewAudioDecoder(c, sampleRate, channels, initData, log)
	}
}
