package irp

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MajorFunction is the operation category of a request.
type MajorFunction uint32

// Major function codes used by device redirection.
const (
	MajorCreate                 MajorFunction = 0x00
	MajorClose                  MajorFunction = 0x02
	MajorRead                   MajorFunction = 0x03
	MajorWrite                  MajorFunction = 0x04
	MajorQueryInformation       MajorFunction = 0x05
	MajorSetInformation         MajorFunction = 0x06
	MajorQueryVolumeInformation MajorFunction = 0x0A
	MajorSetVolumeInformation   MajorFunction = 0x0B
	MajorDirectoryControl       MajorFunction = 0x0C
	MajorDeviceControl          MajorFunction = 0x0E
	MajorLockControl            MajorFunction = 0x11
)

// String returns the protocol name of the major function.
func (m MajorFunction) String() string {
	switch m {
	case MajorCreate:
		return "IRP_MJ_CREATE"
	case MajorClose:
		return "IRP_MJ_CLOSE"
	case MajorRead:
		return "IRP_MJ_READ"
	case MajorWrite:
		return "IRP_MJ_WRITE"
	case MajorQueryInformation:
		return "IRP_MJ_QUERY_INFORMATION"
	case MajorSetInformation:
		return "IRP_MJ_SET_INFORMATION"
	case MajorQueryVolumeInformation:
		return "IRP_MJ_QUERY_VOLUME_INFORMATION"
	case MajorSetVolumeInformation:
		return "IRP_MJ_SET_VOLUME_INFORMATION"
	case MajorDirectoryControl:
		return "IRP_MJ_DIRECTORY_CONTROL"
	case MajorDeviceControl:
		return "IRP_MJ_DEVICE_CONTROL"
	case MajorLockControl:
		return "IRP_MJ_LOCK_CONTROL"
	default:
		return fmt.Sprintf("IRP_MJ_0x%02X", uint32(m))
	}
}

// CompleteFunc receives a request once its processing has finished.
// It is supplied by the transport and typically encodes and sends the
// result to the remote peer.
type CompleteFunc func(req *Request)

// Request is a single I/O request addressed to a redirected device.
//
// Between dispatch and completion a request is owned by exactly one
// goroutine: the dispatcher for inline requests, or its worker for
// asynchronous ones.
type Request struct {
	// CompletionID identifies the request while it is outstanding.
	CompletionID uint32

	// DeviceID and FileID address the redirected device and open file.
	DeviceID uint32
	FileID   uint32

	MajorFunction MajorFunction
	MinorFunction uint32

	// IoControlCode is the device-control code, peeked from the request
	// body by the transport. Zero means the code was absent.
	IoControlCode IoControlCode

	// Input is the request body. Output receives the response body.
	Input              []byte
	Output             []byte
	OutputBufferLength uint32

	// IoStatus is the request result reported to the peer.
	IoStatus Status

	// Worker identifies the goroutine running an asynchronous request.
	// It is nil for requests executed inline by the dispatcher.
	Worker *Worker

	// ReceivedAt is set by the transport when the request was decoded.
	ReceivedAt time.Time

	complete CompleteFunc
}

// New creates a request with the given completion callback.
func New(completionID uint32, major MajorFunction, complete CompleteFunc) *Request {
	return &Request{
		CompletionID:  completionID,
		MajorFunction: major,
		ReceivedAt:    time.Now(),
		complete:      complete,
	}
}

// Complete invokes the request's completion callback.
//
// Devices call this through their own completion path so that registry
// bookkeeping happens first; transports never call it directly.
func (r *Request) Complete() {
	if r.complete != nil {
		r.complete(r)
	}
}

// SetCompleteFunc replaces the completion callback.
func (r *Request) SetCompleteFunc(fn CompleteFunc) {
	r.complete = fn
}

// Worker identifies the goroutine executing one asynchronous request.
type Worker struct {
	// ID is unique per device for the device's lifetime.
	ID uint64

	started time.Time
	done    chan struct{}
	exited  atomic.Bool
}

// NewWorker creates the identity for a worker that is about to start.
func NewWorker(id uint64) *Worker {
	return &Worker{
		ID:      id,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// Exit marks the worker as finished. Safe to call more than once.
func (w *Worker) Exit() {
	if w.exited.CompareAndSwap(false, true) {
		close(w.done)
	}
}

// Done is closed once the worker goroutine has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Started returns when the worker was created.
func (w *Worker) Started() time.Time {
	return w.started
}
