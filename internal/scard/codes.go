package scard

import "fmt"

// ReturnCode is a PC/SC result code carried back to the remote caller.
type ReturnCode uint32

// PC/SC return codes used by the handler and emulator.
const (
	Success             ReturnCode = 0x00000000
	ErrInternal         ReturnCode = 0x80100001
	ErrCancelled        ReturnCode = 0x80100002
	ErrInvalidHandle    ReturnCode = 0x80100003
	ErrInvalidParameter ReturnCode = 0x80100004
	ErrInsufficientBuf  ReturnCode = 0x80100008
	ErrUnknownReader    ReturnCode = 0x80100009
	ErrTimeout          ReturnCode = 0x8010000A
	ErrSharingViolation ReturnCode = 0x8010000B
	ErrNoSmartcard      ReturnCode = 0x8010000C
	ErrProtoMismatch    ReturnCode = 0x8010000F
	ErrNoService        ReturnCode = 0x8010001D
	ErrUnsupported      ReturnCode = 0x80100022
	ErrNoReaders        ReturnCode = 0x8010002E
	WarnRemovedCard     ReturnCode = 0x80100069
)

var returnCodeNames = map[ReturnCode]string{
	Success:             "SCARD_S_SUCCESS",
	ErrInternal:         "SCARD_F_INTERNAL_ERROR",
	ErrCancelled:        "SCARD_E_CANCELLED",
	ErrInvalidHandle:    "SCARD_E_INVALID_HANDLE",
	ErrInvalidParameter: "SCARD_E_INVALID_PARAMETER",
	ErrInsufficientBuf:  "SCARD_E_INSUFFICIENT_BUFFER",
	ErrUnknownReader:    "SCARD_E_UNKNOWN_READER",
	ErrTimeout:          "SCARD_E_TIMEOUT",
	ErrSharingViolation: "SCARD_E_SHARING_VIOLATION",
	ErrNoSmartcard:      "SCARD_E_NO_SMARTCARD",
	ErrProtoMismatch:    "SCARD_E_PROTO_MISMATCH",
	ErrNoService:        "SCARD_E_NO_SERVICE",
	ErrUnsupported:      "SCARD_E_UNSUPPORTED_FEATURE",
	ErrNoReaders:        "SCARD_E_NO_READERS_AVAILABLE",
	WarnRemovedCard:     "SCARD_W_REMOVED_CARD",
}

// String returns the PC/SC name of the code.
func (c ReturnCode) String() string {
	if name, ok := returnCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("SCARD_0x%08X", uint32(c))
}

// Err converts a failure code to a Go error. Success yields nil.
func (c ReturnCode) Err() error {
	if c == Success {
		return nil
	}
	return &CodeError{Code: c}
}

// CodeError wraps a failure ReturnCode.
type CodeError struct {
	Code ReturnCode
}

func (e *CodeError) Error() string {
	return "scard: " + e.Code.String()
}

// Reader state flags reported by GetStatusChange.
// The upper 16 bits of an event state carry the reader's change counter.
const (
	StateUnaware     uint32 = 0x0000
	StateIgnore      uint32 = 0x0001
	StateChanged     uint32 = 0x0002
	StateUnknown     uint32 = 0x0004
	StateUnavailable uint32 = 0x0008
	StateEmpty       uint32 = 0x0010
	StatePresent     uint32 = 0x0020
	StateExclusive   uint32 = 0x0080
	StateInUse       uint32 = 0x0100
)

// Card states reported by Status.
const (
	CardAbsent   uint32 = 1
	CardPresent  uint32 = 2
	CardSpecific uint32 = 6
)

// Share modes and protocols.
const (
	ShareExclusive uint32 = 1
	ShareShared    uint32 = 2
	ShareDirect    uint32 = 3

	ProtocolT0 uint32 = 0x0001
	ProtocolT1 uint32 = 0x0002
)

// TimeoutInfinite disables the GetStatusChange timeout.
const TimeoutInfinite uint32 = 0xFFFFFFFF
