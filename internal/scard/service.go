package scard

import (
	"context"
	"time"

	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// CardHandle identifies a connection to a card.
type CardHandle uint64

// ReaderState is one entry of a GetStatusChange call.
type ReaderState struct {
	Reader       string `json:"reader"`
	CurrentState uint32 `json:"current_state"`
	EventState   uint32 `json:"event_state"`
	ATR          []byte `json:"atr,omitempty"`
}

// CardStatus is the result of Status.
type CardStatus struct {
	Reader   string `json:"reader"`
	State    uint32 `json:"state"`
	Protocol uint32 `json:"protocol"`
	ATR      []byte `json:"atr,omitempty"`
}

// Service is the local smart-card resource manager that redirected calls
// are executed against.
//
// GetStatusChange and Transmit may block. Every other method returns
// promptly.
type Service interface {
	EstablishContext(scope uint32) (smartcard.ContextHandle, ReturnCode)
	ReleaseContext(h smartcard.ContextHandle) ReturnCode
	IsValidContext(h smartcard.ContextHandle) ReturnCode
	ListReaders(h smartcard.ContextHandle) ([]string, ReturnCode)

	// GetStatusChange waits until one of states differs from the reader's
	// actual state, the timeout expires, Cancel is called on h, or ctx ends.
	// A negative timeout waits forever.
	GetStatusChange(ctx context.Context, h smartcard.ContextHandle, timeout time.Duration, states []ReaderState) ([]ReaderState, ReturnCode)

	// Cancel wakes every GetStatusChange blocked on h.
	Cancel(h smartcard.ContextHandle) ReturnCode

	Connect(h smartcard.ContextHandle, reader string, shareMode, preferredProtocols uint32) (CardHandle, uint32, ReturnCode)
	Disconnect(card CardHandle, disposition uint32) ReturnCode
	Status(card CardHandle) (CardStatus, ReturnCode)
	Transmit(ctx context.Context, card CardHandle, apdu []byte) ([]byte, ReturnCode)
}

// contextCanceller registers a service context in the device's context
// registry.
type contextCanceller struct {
	svc    Service
	handle smartcard.ContextHandle
}

func (c contextCanceller) Cancel() error {
	return c.svc.Cancel(c.handle).Err()
}
