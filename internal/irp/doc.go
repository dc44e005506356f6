// Package irp defines the I/O request packets exchanged with a remote
// device-redirection peer.
//
// An IRP is created by the transport when it decodes a request from the
// peer, handed to a device for dispatch, and completed exactly once. The
// completion callback is how the result travels back to the transport.
//
// Operation categories (MajorFunction) and device-control codes
// (IoControlCode) are defined by the redirection protocol and are treated
// as opaque integers everywhere except the smart-card classifier.
package irp
