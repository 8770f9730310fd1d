// Package decode wraps FFmpeg (via go-astiav) decoders for the video
// and audio elementary streams delivered by a relay subscription.
//
// Video decoding prefers a VA-API hardware context on a DRM render
// node and falls back to software decoding when no usable node or
// profile exists. Decoded video is converted to packed RGBA; decoded
// audio is converted to interleaved signed 16-bit PCM at the source
// sample rate.
package decode
