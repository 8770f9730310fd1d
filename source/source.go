// Package source is the host-facing ingest source: one Source binds a
// relay URL and broadcast path to a subscription, a pair of decoders,
// and the staging primitives the host's render and mixer loops read.
//
// Lifecycle calls (Update, Activate, Deactivate, Destroy) come from the
// host's lifecycle goroutine. VideoRender comes from the render
// goroutine. Media callbacks arrive on relay-driven goroutines and
// check the active flag before touching the decoders.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hangmedia/hangsource/catalog"
	"github.com/hangmedia/hangsource/media"
	"github.com/hangmedia/hangsource/moq"
	"github.com/hangmedia/hangsource/staging"
)

// Default dimensions reported while no frame has been decoded.
const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// Settings is the host's string-keyed configuration for one source.
type Settings struct {
	URL       string
	Broadcast string
}

// Session is the relay session surface the source drives. The in-repo
// MoQ client provides the production implementation; tests substitute
// fakes.
type Session interface {
	Subscribe(ctx context.Context, broadcast string, cb moq.Callbacks) (Subscription, error)
	Close() error
}

// Subscription is an active track subscription.
type Subscription interface {
	Close() error
}

// VideoDecoder turns length-prefixed access units into RGBA frames.
// A (nil, nil) return means the unit was consumed without output.
// SetConfig installs a decoder configuration record received
// mid-stream.
type VideoDecoder interface {
	Decode(data []byte, pts uint64) (*media.Frame, error)
	SetConfig(config []byte)
	Close()
}

// AudioDecoder turns compressed audio units into PCM.
type AudioDecoder interface {
	Decode(data []byte, pts uint64) (*media.PCMFrame, error)
	Close()
}

// Config supplies the source's collaborators. Zero-value fields get
// production defaults (MoQ client, FFmpeg decoders).
type Config struct {
	Log *slog.Logger

	// Dial opens a relay session for the configured URL.
	Dial func(ctx context.Context, url string) (Session, error)

	// NewVideoDecoder builds a video decoder for the codec the catalog
	// advertises (CodecUnknown before a catalog arrives) and its
	// decoder configuration record, when the catalog carries one.
	NewVideoDecoder func(c catalog.Codec, initData []byte) (VideoDecoder, error)

	// NewAudioDecoder builds an audio decoder for the catalog's audio
	// track parameters.
	NewAudioDecoder func(c catalog.Codec, sampleRate, channels int, initData []byte) (AudioDecoder, error)

	// NewTexture allocates a compositor texture for VideoRender. When
	// nil the source stages frames but renders nothing, which is what
	// headless consumers want.
	NewTexture func(width, height int) Texture
}

// Stats is a snapshot of the source's counters.
type Stats struct {
	FramesStaged  uint64
	AudioStaged   uint64
	DecodeErrors  uint64
	FramesDropped uint64
	AudioDropped  uint64
	RelayErrors   uint64
}

// Source is one ingest source instance.
type Source struct {
	log *slog.Logger
	cfg Config

	// mu orders lifecycle transitions; active is additionally an
	// atomic so callbacks can check it without the lifecycle mutex.
	mu        sync.Mutex
	url       string
	broadcast string
	active    atomic.Bool

	sess Session
	sub  Subscription

	// decMu guards the decoder handles, which the catalog callback may
	// replace while media callbacks are decoding.
	decMu sync.RWMutex
	video VideoDecoder
	audio AudioDecoder

	slot   *staging.FrameSlot
	frames *staging.FrameQueue
	pcm    *staging.PCMQueue

	texture Texture
	texW    int
	texH    int

	framesStaged atomic.Uint64
	audioStaged  atomic.Uint64
	decodeErrs   atomic.Uint64
	relayErrs    atomic.Uint64
}

// New creates a source and applies the initial settings. When both URL
// and broadcast are configured the source activates immediately,
// matching host semantics where create implies update.
func New(settings Settings, cfg Config) *Source {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = DialMoQ
	}
	if cfg.NewVideoDecoder == nil {
		cfg.NewVideoDecoder = defaultVideoDecoder(cfg.Log)
	}
	if cfg.NewAudioDecoder == nil {
		cfg.NewAudioDecoder = defaultAudioDecoder(cfg.Log)
	}

	s := &Source{
		log:    cfg.Log.With("component", "source"),
		cfg:    cfg,
		slot:   staging.NewFrameSlot(),
		frames: &staging.FrameQueue{},
		pcm:    &staging.PCMQueue{},
	}
	if err := s.Update(settings); err != nil {
		s.log.Error("initial activation failed", "error", err)
	}
	return s
}

// Update applies new settings. Unchanged settings are a no-op. Changed
// settings deactivate the current subscription, store the new values,
// and reactivate when both are non-empty. In-flight frames are lost
// across reactivation.
func (s *Source) Update(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.url == settings.URL && s.broadcast == settings.Broadcast {
		return nil
	}

	s.deactivateLocked()
	s.url = settings.URL
	s.broadcast = settings.Broadcast

	if s.url != "" && s.broadcast != "" {
		return s.activateLocked()
	}
	return nil
}

// Activate opens the session, initializes decoders, and subscribes.
// It is idempotent while active and a no-op while unconfigured.
func (s *Source) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activateLocked()
}

func (s *Source) activateLocked() error {
	if s.active.Load() {
		return nil
	}
	if s.url == "" || s.broadcast == "" {
		// Not yet configured; the host retries via Update.
		return nil
	}
	if err := validateURL(s.url); err != nil {
		s.log.Error("activation rejected", "url", s.url, "error", err)
		return err
	}

	s.log.Info("activating", "url", s.url, "broadcast", s.broadcast)

	sess, err := s.cfg.Dial(context.Background(), s.url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}

	video, err := s.cfg.NewVideoDecoder(catalog.CodecUnknown, nil)
	if err != nil {
		sess.Close()
		return fmt.Errorf("%w: %v", ErrDecoderUnavailable, err)
	}
	audio, err := s.cfg.NewAudioDecoder(catalog.CodecUnknown, 0, 0, nil)
	if err != nil {
		video.Close()
		sess.Close()
		return fmt.Errorf("%w: %v", ErrDecoderUnavailable, err)
	}

	sub, err := sess.Subscribe(context.Background(), s.broadcast, moq.Callbacks{
		OnCatalog:     s.onCatalog,
		OnVideo:       s.onVideo,
		OnAudio:       s.onAudio,
		OnVideoConfig: s.onVideoConfig,
		OnError:       s.onError,
	})
	if err != nil {
		audio.Close()
		video.Close()
		sess.Close()
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}

	s.sess = sess
	s.sub = sub
	s.decMu.Lock()
	s.video = video
	s.audio = audio
	s.decMu.Unlock()
	s.active.Store(true)

	s.log.Info("activated")
	return nil
}

// Deactivate closes the subscription and session, destroys the
// decoders, and flushes the staging primitives. Idempotent.
func (s *Source) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateLocked()
}

func (s *Source) deactivateLocked() {
	if !s.active.Load() {
		return
	}
	s.log.Info("deactivating")
	s.active.Store(false)

	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}

	s.decMu.Lock()
	if s.video != nil {
		s.video.Close()
		s.video = nil
	}
	if s.audio != nil {
		s.audio.Close()
		s.audio = nil
	}
	s.decMu.Unlock()

	s.slot.Clear()
	s.frames.Clear()
	s.pcm.Clear()
	s.log.Info("deactivated")
}

// Destroy tears the source down. Safe to call while active; the
// subscription is closed before any owned state is released.
func (s *Source) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deactivateLocked()
	s.slot.Close()
	if s.texture != nil {
		s.texture.Destroy()
		s.texture = nil
	}
	s.url = ""
	s.broadcast = ""
}

// Width reports the latest frame's width, or the default while no
// frame is staged.
func (s *Source) Width() int {
	if w, _, ok := s.slot.Dimensions(); ok {
		return w
	}
	return DefaultWidth
}

// Height reports the latest frame's height, or the default while no
// frame is staged.
func (s *Source) Height() int {
	if _, h, ok := s.slot.Dimensions(); ok {
		return h
	}
	return DefaultHeight
}

// Active reports whether a subscription is established.
func (s *Source) Active() bool {
	return s.active.Load()
}

// Frames exposes the decoded-frame queue for host consumers that want
// every frame rather than newest-wins.
func (s *Source) Frames() *staging.FrameQueue { return s.frames }

// Audio exposes the PCM queue for the host's mixer loop.
func (s *Source) Audio() *staging.PCMQueue { return s.pcm }

// Slot exposes the latest-frame slot.
func (s *Source) Slot() *staging.FrameSlot { return s.slot }

// Stats returns a snapshot of the source's counters.
func (s *Source) Stats() Stats {
	return Stats{
		FramesStaged:  s.framesStaged.Load(),
		AudioStaged:   s.audioStaged.Load(),
		DecodeErrors:  s.decodeErrs.Load(),
		FramesDropped: s.frames.Dropped(),
		AudioDropped:  s.pcm.Dropped(),
		RelayErrors:   s.relayErrs.Load(),
	}
}

// validateURL requires scheme://host with a non-empty host segment.
func validateURL(url string) error {
	idx := strings.Index(url, "://")
	if idx < 0 {
		return fmt.Errorf("%w: url %q has no scheme", ErrInvalidConfiguration, url)
	}
	if strings.TrimSpace(url[idx+3:]) == "" {
		return fmt.Errorf("%w: url %q has no host", ErrInvalidConfiguration, url)
	}
	return nil
}
