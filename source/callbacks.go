package source

import (
	"github.com/hangmedia/hangsource/catalog"
)

// onCatalog reconfigures the decoders from the broadcast's catalog.
// Arrives at most once per subscription, before any media unit.
func (s *Source) onCatalog(catalogJSON string) {
	if !s.active.Load() {
		return
	}
	s.log.Info("catalog received", "bytes", len(catalogJSON))

	cat, err := catalog.Parse([]byte(catalogJSON))
	if err != nil {
		s.log.Error("catalog unparsable, keeping default decoders", "error", err)
		return
	}

	var video VideoDecoder
	if vt := cat.VideoTrack(); vt != nil {
		initData, err := vt.InitData()
		if err != nil {
			s.log.Warn("catalog video initData undecodable", "error", err)
		}
		v, err := s.cfg.NewVideoDecoder(vt.Codec(), initData)
		if err != nil {
			s.log.Error("video decoder for catalog codec failed, keeping default",
				"codec", vt.Codec().String(), "error", err)
		} else {
			video = v
			s.log.Info("video decoder configured from catalog",
				"codec", vt.Codec().String(),
				"width", vt.SelectionParams.Width, "height", vt.SelectionParams.Height)
		}
	}

	var audio AudioDecoder
	if at := cat.AudioTrack(); at != nil {
		initData, err := at.InitData()
		if err != nil {
			s.log.Warn("catalog initData undecodable", "error", err)
		}
		a, err := s.cfg.NewAudioDecoder(at.Codec(), at.SelectionParams.SampleRate, at.Channels(), initData)
		if err != nil {
			s.log.Error("audio decoder for catalog codec failed, keeping default",
				"codec", at.Codec().String(), "error", err)
		} else {
			audio = a
			s.log.Info("audio decoder configured from catalog",
				"codec", at.Codec().String(),
				"sampleRate", at.SelectionParams.SampleRate, "channels", at.Channels())
		}
	}

	s.decMu.Lock()
	if video != nil {
		if s.video != nil {
			s.video.Close()
		}
		s.video = video
	}
	if audio != nil {
		if s.audio != nil {
			s.audio.Close()
		}
		s.audio = audio
	}
	s.decMu.Unlock()
}

// onVideo decodes one access unit and stages the result. Per-unit
// decode failures drop the unit; they never end the subscription.
func (s *Source) onVideo(track int, data []byte, pts uint64, keyframe bool) {
	if !s.active.Load() {
		return
	}
	s.log.Debug("video unit", "track", track, "bytes", len(data), "pts", pts, "keyframe", keyframe)

	s.decMu.RLock()
	dec := s.video
	s.decMu.RUnlock()
	if dec == nil {
		return
	}

	frame, err := dec.Decode(data, pts)
	if err != nil {
		s.decodeErrs.Add(1)
		s.log.Debug("video decode failed", "pts", pts, "error", err)
		return
	}
	if frame == nil {
		// Decoder buffered the unit; nothing to stage.
		return
	}

	if s.slot.Store(frame) {
		s.frames.Push(frame)
		s.framesStaged.Add(1)
	}
}

// onVideoConfig forwards the decoder configuration record carried on
// keyframes to the video decoder.
func (s *Source) onVideoConfig(config []byte) {
	if !s.active.Load() {
		return
	}
	s.log.Debug("video config received", "bytes", len(config))

	s.decMu.RLock()
	dec := s.video
	s.decMu.RUnlock()
	if dec == nil {
		return
	}
	dec.SetConfig(config)
}

// onAudio decodes one compressed audio unit into the PCM queue.
func (s *Source) onAudio(track int, data []byte, pts uint64) {
	if !s.active.Load() {
		return
	}
	s.log.Debug("audio unit", "track", track, "bytes", len(data), "pts", pts)

	s.decMu.RLock()
	dec := s.audio
	s.decMu.RUnlock()
	if dec == nil {
		return
	}

	pcm, err := dec.Decode(data, pts)
	if err != nil {
		s.decodeErrs.Add(1)
		s.log.Debug("audio decode failed", "pts", pts, "error", err)
		return
	}
	if pcm == nil {
		return
	}

	s.pcm.Push(pcm)
	s.audioStaged.Add(1)
}

// onError records a relay failure. The subscription stops delivering
// after an error; the user re-drives via Update.
func (s *Source) onError(code int) {
	s.relayErrs.Add(1)
	s.log.Error("relay error", "code", code)
}
