package source

import "github.com/hangmedia/hangsource/media"

// textureParam is the effect parameter the frame texture binds to.
const textureParam = "image"

// Texture is a compositor-owned dynamic RGBA texture.
type Texture interface {
	// SetImage uploads packed RGBA rows with the given byte stride.
	SetImage(data []byte, stride int)
	Destroy()
}

// Effect is the compositor's shader surface for one draw call.
type Effect interface {
	SetTexture(param string, tex Texture)
	DrawSprite(tex Texture, width, height int)
}

// VideoRender uploads the latest staged frame and draws it. Called
// from the host's render goroutine only; a no-op while inactive or
// while no frame is staged. The slot stays locked for the duration of
// the upload so the buffer cannot be replaced mid-copy.
func (s *Source) VideoRender(effect Effect) {
	if !s.active.Load() || s.cfg.NewTexture == nil {
		return
	}

	s.slot.With(func(f *media.Frame) {
		w, h := f.Width, f.Height
		if w <= 0 || h <= 0 {
			return
		}

		if s.texture == nil || s.texW != w || s.texH != h {
			if s.texture != nil {
				s.texture.Destroy()
			}
			s.texture = s.cfg.NewTexture(w, h)
			s.texW, s.texH = w, h
			s.log.Debug("texture (re)allocated", "width", w, "height", h)
		}
		if s.texture == nil {
			return
		}

		s.texture.SetImage(f.Data, w*4)
		effect.SetTexture(textureParam, s.texture)
		effect.DrawSprite(s.texture, w, h)
	})
}
