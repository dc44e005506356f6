package irp

import "fmt"

// Status is an NTSTATUS value reported in a device I/O response.
type Status uint32

// NTSTATUS values used by the dispatch engine and handlers.
const (
	StatusSuccess          Status = 0x00000000
	StatusUnsuccessful     Status = 0xC0000001
	StatusInvalidParameter Status = 0xC000000D
	StatusNoMemory         Status = 0xC0000017
	StatusNotSupported     Status = 0xC00000BB
	StatusCancelled        Status = 0xC0000120
	StatusBufferTooSmall   Status = 0xC0000023
)

// IsSuccess reports whether the status is a success value.
func (s Status) IsSuccess() bool {
	return s&0xC0000000 == 0
}

// String returns the symbolic name of the status, or its hex value.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "STATUS_SUCCESS"
	case StatusUnsuccessful:
		return "STATUS_UNSUCCESSFUL"
	case StatusInvalidParameter:
		return "STATUS_INVALID_PARAMETER"
	case StatusNoMemory:
		return "STATUS_NO_MEMORY"
	case StatusNotSupported:
		return "STATUS_NOT_SUPPORTED"
	case StatusCancelled:
		return "STATUS_CANCELLED"
	case StatusBufferTooSmall:
		return "STATUS_BUFFER_TOO_SMALL"
	default:
		return fmt.Sprintf("0x%08X", uint32(s))
	}
}
