// Package moq implements the subscriber side of MoQ Transport
// (draft-ietf-moq-transport-15) over raw QUIC: session setup, track
// subscription, and the data-stream reader for subgroup/object framing
// with LOC header extensions. A [Session] connects to a relay; a
// [Subscription] binds a broadcast path to a set of callbacks that
// deliver the catalog, video and audio access units, and relay errors.
//
// This package contains no decoding or staging logic; those live in
// [github.com/hangmedia/hangsource/decode] and
// [github.com/hangmedia/hangsource/staging].
package moq
