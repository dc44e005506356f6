package scard

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// Responder produces the response APDU for a command APDU.
type Responder func(apdu []byte) []byte

// statusWordOK is the ISO 7816 success status word.
var statusWordOK = []byte{0x90, 0x00}

// Emulator is an in-memory Service with virtual readers.
//
// Cards are inserted and removed with InsertCard and RemoveCard; every
// change wakes pending GetStatusChange calls.
type Emulator struct {
	mu       sync.Mutex
	readers  map[string]*virtualReader
	contexts map[smartcard.ContextHandle]*emuContext
	cards    map[CardHandle]*cardConn
	next     uint64

	// changed is closed and replaced whenever a reader changes.
	changed chan struct{}

	waiting atomic.Int32
}

type virtualReader struct {
	name      string
	atr       []byte
	responder Responder
	counter   uint32
	exclusive bool
	conns     int
}

type emuContext struct {
	// cancel is closed by Cancel and then replaced.
	cancel chan struct{}
}

type cardConn struct {
	ctx      smartcard.ContextHandle
	reader   string
	protocol uint32
	share    uint32
	// counter is the reader change counter when the card was connected.
	counter uint32
}

// NewEmulator creates an emulator with empty readers of the given names.
func NewEmulator(readers ...string) *Emulator {
	e := &Emulator{
		readers:  make(map[string]*virtualReader),
		contexts: make(map[smartcard.ContextHandle]*emuContext),
		cards:    make(map[CardHandle]*cardConn),
		next:     0x10000,
		changed:  make(chan struct{}),
	}
	for _, name := range readers {
		e.readers[name] = &virtualReader{name: name}
	}
	return e
}

// AddReader attaches a new empty reader.
func (e *Emulator) AddReader(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.readers[name]; ok {
		return
	}
	e.readers[name] = &virtualReader{name: name}
	e.notifyLocked()
}

// InsertCard places a card with the given ATR into reader. A nil responder
// answers every APDU with 90 00.
func (e *Emulator) InsertCard(reader string, atr []byte, responder Responder) ReturnCode {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.readers[reader]
	if !ok {
		return ErrUnknownReader
	}
	if responder == nil {
		responder = func([]byte) []byte { return append([]byte(nil), statusWordOK...) }
	}
	r.atr = append([]byte(nil), atr...)
	r.responder = responder
	r.counter++
	e.notifyLocked()
	return Success
}

// RemoveCard empties reader. Open connections to the card become stale.
func (e *Emulator) RemoveCard(reader string) ReturnCode {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.readers[reader]
	if !ok {
		return ErrUnknownReader
	}
	if r.atr == nil {
		return ErrNoSmartcard
	}
	r.atr = nil
	r.responder = nil
	r.exclusive = false
	r.counter++
	e.notifyLocked()
	return Success
}

func (e *Emulator) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Emulator) nextHandleLocked() uint64 {
	e.next++
	return e.next
}

func (e *Emulator) EstablishContext(scope uint32) (smartcard.ContextHandle, ReturnCode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := smartcard.ContextHandle(e.nextHandleLocked())
	e.contexts[h] = &emuContext{cancel: make(chan struct{})}
	return h, Success
}

func (e *Emulator) ReleaseContext(h smartcard.ContextHandle) ReturnCode {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.contexts[h]
	if !ok {
		return ErrInvalidHandle
	}
	close(c.cancel)
	delete(e.contexts, h)

	for id, conn := range e.cards {
		if conn.ctx == h {
			e.disconnectLocked(id, conn)
		}
	}
	return Success
}

func (e *Emulator) IsValidContext(h smartcard.ContextHandle) ReturnCode {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.contexts[h]; !ok {
		return ErrInvalidHandle
	}
	return Success
}

func (e *Emulator) ListReaders(h smartcard.ContextHandle) ([]string, ReturnCode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.contexts[h]; !ok {
		return nil, ErrInvalidHandle
	}
	if len(e.readers) == 0 {
		return nil, ErrNoReaders
	}
	names := make([]string, 0, len(e.readers))
	for name := range e.readers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, Success
}

func (e *Emulator) Cancel(h smartcard.ContextHandle) ReturnCode {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.contexts[h]
	if !ok {
		return ErrInvalidHandle
	}
	close(c.cancel)
	c.cancel = make(chan struct{})
	return Success
}

func (e *Emulator) GetStatusChange(ctx context.Context, h smartcard.ContextHandle, timeout time.Duration, states []ReaderState) ([]ReaderState, ReturnCode) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		e.mu.Lock()
		c, ok := e.contexts[h]
		if !ok {
			e.mu.Unlock()
			return nil, ErrInvalidHandle
		}
		out, changed := e.compareLocked(states)
		if changed {
			e.mu.Unlock()
			return out, Success
		}
		cancelled := c.cancel
		wake := e.changed
		e.waiting.Add(1)
		e.mu.Unlock()

		rc := Success
		select {
		case <-wake:
		case <-cancelled:
			rc = ErrCancelled
		case <-ctx.Done():
			rc = ErrCancelled
		case <-expired:
			rc = ErrTimeout
		}
		e.waiting.Add(-1)
		if rc != Success {
			return out, rc
		}
	}
}

// Waiting returns the number of GetStatusChange calls currently blocked.
func (e *Emulator) Waiting() int {
	return int(e.waiting.Load())
}

// compareLocked reports the actual state of every reader in states and
// whether any differs from what the caller believes.
func (e *Emulator) compareLocked(states []ReaderState) ([]ReaderState, bool) {
	out := make([]ReaderState, len(states))
	changed := false

	for i, s := range states {
		out[i] = s
		out[i].ATR = nil
		if s.CurrentState&StateIgnore != 0 {
			out[i].EventState = StateIgnore
			continue
		}

		actual := StateUnknown
		if r, ok := e.readers[s.Reader]; ok {
			actual = r.stateLocked()
			out[i].ATR = append([]byte(nil), r.atr...)
		}

		if actual != s.CurrentState&^StateChanged {
			out[i].EventState = actual | StateChanged
			changed = true
		} else {
			out[i].EventState = actual
		}
	}
	return out, changed
}

func (r *virtualReader) stateLocked() uint32 {
	state := StateEmpty
	if r.atr != nil {
		state = StatePresent
		if r.conns > 0 {
			state |= StateInUse
		}
		if r.exclusive {
			state |= StateExclusive
		}
	}
	return state | (r.counter&0xFFFF)<<16
}

func (e *Emulator) Connect(h smartcard.ContextHandle, reader string, shareMode, preferredProtocols uint32) (CardHandle, uint32, ReturnCode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.contexts[h]; !ok {
		return 0, 0, ErrInvalidHandle
	}
	r, ok := e.readers[reader]
	if !ok {
		return 0, 0, ErrUnknownReader
	}
	if r.atr == nil && shareMode != ShareDirect {
		return 0, 0, ErrNoSmartcard
	}
	if r.exclusive || (shareMode == ShareExclusive && r.conns > 0) {
		return 0, 0, ErrSharingViolation
	}

	protocol := uint32(0)
	if shareMode != ShareDirect {
		switch {
		case preferredProtocols&ProtocolT1 != 0:
			protocol = ProtocolT1
		case preferredProtocols&ProtocolT0 != 0:
			protocol = ProtocolT0
		default:
			return 0, 0, ErrProtoMismatch
		}
	}

	card := CardHandle(e.nextHandleLocked())
	e.cards[card] = &cardConn{
		ctx:      h,
		reader:   reader,
		protocol: protocol,
		share:    shareMode,
		counter:  r.counter,
	}
	r.conns++
	if shareMode == ShareExclusive {
		r.exclusive = true
	}
	e.notifyLocked()
	return card, protocol, Success
}

func (e *Emulator) Disconnect(card CardHandle, disposition uint32) ReturnCode {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn, ok := e.cards[card]
	if !ok {
		return ErrInvalidHandle
	}
	e.disconnectLocked(card, conn)
	return Success
}

func (e *Emulator) disconnectLocked(card CardHandle, conn *cardConn) {
	delete(e.cards, card)
	if r, ok := e.readers[conn.reader]; ok {
		if r.conns > 0 {
			r.conns--
		}
		if conn.share == ShareExclusive {
			r.exclusive = false
		}
	}
	e.notifyLocked()
}

// connLocked returns the reader behind card, or the code explaining why
// the card can no longer be used.
func (e *Emulator) connLocked(card CardHandle) (*cardConn, *virtualReader, ReturnCode) {
	conn, ok := e.cards[card]
	if !ok {
		return nil, nil, ErrInvalidHandle
	}
	r, ok := e.readers[conn.reader]
	if !ok {
		return nil, nil, ErrUnknownReader
	}
	if r.atr == nil || r.counter != conn.counter {
		return nil, nil, WarnRemovedCard
	}
	return conn, r, Success
}

func (e *Emulator) Status(card CardHandle) (CardStatus, ReturnCode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn, r, rc := e.connLocked(card)
	if rc != Success {
		return CardStatus{}, rc
	}
	return CardStatus{
		Reader:   r.name,
		State:    CardSpecific,
		Protocol: conn.protocol,
		ATR:      append([]byte(nil), r.atr...),
	}, Success
}

func (e *Emulator) Transmit(ctx context.Context, card CardHandle, apdu []byte) ([]byte, ReturnCode) {
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}
	if len(apdu) < 4 {
		return nil, ErrInvalidParameter
	}

	e.mu.Lock()
	_, r, rc := e.connLocked(card)
	var responder Responder
	if rc == Success {
		responder = r.responder
	}
	e.mu.Unlock()

	if rc != Success {
		return nil, rc
	}
	return responder(apdu), Success
}
