package smartcard

import "github.com/nerrad567/scardbridge/internal/irp"

// Disposition is how the dispatcher executes a device-control request.
type Disposition int

const (
	// DispositionUnrecognized requests carry no control code and are
	// answered by the device itself.
	DispositionUnrecognized Disposition = iota

	// DispositionSync requests run inline on the dispatcher goroutine.
	DispositionSync

	// DispositionAsync requests run on their own worker.
	DispositionAsync
)

// String returns the disposition name used in logs and the status API.
func (d Disposition) String() string {
	switch d {
	case DispositionSync:
		return "sync"
	case DispositionAsync:
		return "async"
	default:
		return "unrecognized"
	}
}

// syncCodes are always executed inline so that context management stays
// ordered with respect to the requests around it.
var syncCodes = map[irp.IoControlCode]struct{}{
	irp.IoctlEstablishContext:    {},
	irp.IoctlReleaseContext:      {},
	irp.IoctlIsValidContext:      {},
	irp.IoctlAccessStartedEvent:  {},
	irp.IoctlReleaseStartedEvent: {},
}

// Classify maps a device-control code to its disposition.
//
// The sync list wins over everything. With asyncMode enabled every other
// code gets a worker, including Transmit, Status and GetStatusChange, which
// may block for a long time. Codes outside the smart-card table also get a
// worker and the handler decides what to answer. With asyncMode disabled
// everything runs inline. Only the zero code is unrecognized.
func Classify(code irp.IoControlCode, asyncMode bool) Disposition {
	if code == 0 {
		return DispositionUnrecognized
	}
	if _, ok := syncCodes[code]; ok {
		return DispositionSync
	}
	if !asyncMode {
		return DispositionSync
	}
	return DispositionAsync
}

// MarshalText encodes the disposition by name.
func (d Disposition) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
