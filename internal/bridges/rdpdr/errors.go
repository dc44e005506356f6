package rdpdr

import "errors"

var (
	// ErrMalformedMessage indicates a payload that is not valid JSON for
	// its topic.
	ErrMalformedMessage = errors.New("rdpdr: malformed message")

	// ErrBridgeStopped is returned by Start after Stop.
	ErrBridgeStopped = errors.New("rdpdr: bridge stopped")
)
