package source

import "errors"

var (
	// ErrInvalidConfiguration means the URL is missing a scheme or host.
	ErrInvalidConfiguration = errors.New("source: invalid configuration")

	// ErrSessionUnavailable means the relay session failed to open.
	ErrSessionUnavailable = errors.New("source: session unavailable")

	// ErrDecoderUnavailable means neither a hardware nor a software
	// video decoder could be initialized.
	ErrDecoderUnavailable = errors.New("source: decoder unavailable")

	// ErrSubscribeFailed means the broadcast subscription was rejected.
	ErrSubscribeFailed = errors.New("source: subscribe failed")
)
