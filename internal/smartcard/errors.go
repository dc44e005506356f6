package smartcard

import "errors"

// Domain errors for the smartcard package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, smartcard.ErrDeviceClosed) {
//	    // device was freed, answer the peer directly
//	}
var (
	// ErrDeviceClosed is returned when submitting to a device that has been freed.
	ErrDeviceClosed = errors.New("smartcard: device closed")

	// ErrNilRequest is returned when a nil request is submitted.
	ErrNilRequest = errors.New("smartcard: nil request")

	// ErrNoHandler is returned by New when no device-control handler is configured.
	ErrNoHandler = errors.New("smartcard: handler is required")

	// ErrDuplicateKey is returned when adding a key that is already registered.
	ErrDuplicateKey = errors.New("smartcard: key already registered")

	// ErrInvalidOptions is returned by New when options fail validation.
	ErrInvalidOptions = errors.New("smartcard: invalid options")
)
