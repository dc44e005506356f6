package scard

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/scardbridge/internal/irp"
	"github.com/nerrad567/scardbridge/internal/smartcard"
)

type handlerHarness struct {
	t    *testing.T
	emu  *Emulator
	dev  *smartcard.Device
	done chan *irp.Request
	next uint32
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	emu := NewEmulator("Reader 0")

	opts := smartcard.DefaultOptions()
	opts.Handler = NewHandler(emu, nil)
	dev, err := smartcard.New(opts)
	if err != nil {
		t.Fatalf("smartcard.New() error = %v", err)
	}
	t.Cleanup(dev.Free)

	return &handlerHarness{
		t:    t,
		emu:  emu,
		dev:  dev,
		done: make(chan *irp.Request, 16),
	}
}

// submit sends a call and returns the request without waiting.
func (h *handlerHarness) submit(code irp.IoControlCode, call any) *irp.Request {
	h.t.Helper()
	h.next++
	req := irp.New(h.next, irp.MajorDeviceControl, func(r *irp.Request) { h.done <- r })
	req.IoControlCode = code
	if call != nil {
		body, err := json.Marshal(call)
		if err != nil {
			h.t.Fatalf("json.Marshal() error = %v", err)
		}
		req.Input = body
	}
	if err := h.dev.Submit(req); err != nil {
		h.t.Fatalf("Submit() error = %v", err)
	}
	return req
}

func (h *handlerHarness) wait() (*irp.Request, Result) {
	h.t.Helper()
	select {
	case req := <-h.done:
		var res Result
		if len(req.Output) > 0 {
			if err := json.Unmarshal(req.Output, &res); err != nil {
				h.t.Fatalf("json.Unmarshal() error = %v", err)
			}
		}
		return req, res
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for completion")
		return nil, Result{}
	}
}

func (h *handlerHarness) call(code irp.IoControlCode, call any) Result {
	h.t.Helper()
	h.submit(code, call)
	req, res := h.wait()
	if req.IoStatus != irp.StatusSuccess {
		h.t.Fatalf("%v IoStatus = %v", code, req.IoStatus)
	}
	return res
}

func (h *handlerHarness) establish() uint64 {
	h.t.Helper()
	res := h.call(irp.IoctlEstablishContext, Call{Scope: 2})
	if res.ReturnCode != Success || res.Context == 0 {
		h.t.Fatalf("EstablishContext = %+v", res)
	}
	return res.Context
}

func TestHandler_ContextRegistration(t *testing.T) {
	h := newHandlerHarness(t)

	ctx := h.establish()
	if !h.dev.Contexts().Contains(smartcard.ContextHandle(ctx)) {
		t.Fatal("context not registered with device")
	}

	if res := h.call(irp.IoctlIsValidContext, Call{Context: ctx}); res.ReturnCode != Success {
		t.Errorf("IsValidContext = %v", res.ReturnCode)
	}

	if res := h.call(irp.IoctlReleaseContext, Call{Context: ctx}); res.ReturnCode != Success {
		t.Errorf("ReleaseContext = %v", res.ReturnCode)
	}
	if h.dev.Contexts().Count() != 0 {
		t.Errorf("contexts after release = %d, want 0", h.dev.Contexts().Count())
	}

	if res := h.call(irp.IoctlIsValidContext, Call{Context: ctx}); res.ReturnCode != ErrInvalidHandle {
		t.Errorf("IsValidContext after release = %v, want %v", res.ReturnCode, ErrInvalidHandle)
	}
}

func TestHandler_DeviceInitCancelsStatusChange(t *testing.T) {
	h := newHandlerHarness(t)
	ctx := h.establish()

	infinite := TimeoutInfinite
	h.submit(irp.IoctlGetStatusChangeW, Call{
		Context:      ctx,
		TimeoutMs:    &infinite,
		ReaderStates: []ReaderState{{Reader: "Reader 0", CurrentState: StateEmpty}},
	})

	// The wait is parked on a worker; the dispatcher still answers.
	waitForWaiters(t, h.emu, 1)
	if res := h.call(irp.IoctlIsValidContext, Call{Context: ctx}); res.ReturnCode != Success {
		t.Fatalf("IsValidContext = %v", res.ReturnCode)
	}

	if n := h.dev.Init(); n != 1 {
		t.Errorf("Init() = %d, want 1", n)
	}

	req, res := h.wait()
	if req.IoControlCode != irp.IoctlGetStatusChangeW {
		t.Fatalf("completed %v, want GetStatusChangeW", req.IoControlCode)
	}
	if req.IoStatus != irp.StatusSuccess {
		t.Errorf("IoStatus = %v, want STATUS_SUCCESS", req.IoStatus)
	}
	if res.ReturnCode != ErrCancelled || res.ReturnCodeName != "SCARD_E_CANCELLED" {
		t.Errorf("ReturnCode = %v (%s), want SCARD_E_CANCELLED", res.ReturnCode, res.ReturnCodeName)
	}

	// The context survives the reset.
	if res := h.call(irp.IoctlIsValidContext, Call{Context: ctx}); res.ReturnCode != Success {
		t.Errorf("IsValidContext after Init = %v", res.ReturnCode)
	}
}

func TestHandler_StatusChangeSeesInsertedCard(t *testing.T) {
	h := newHandlerHarness(t)
	ctx := h.establish()

	timeout := uint32(2000)
	h.submit(irp.IoctlGetStatusChangeA, Call{
		Context:      ctx,
		TimeoutMs:    &timeout,
		ReaderStates: []ReaderState{{Reader: "Reader 0", CurrentState: StateEmpty}},
	})
	waitForWaiters(t, h.emu, 1)
	h.emu.InsertCard("Reader 0", []byte{0x3B, 0x02}, nil)

	_, res := h.wait()
	if res.ReturnCode != Success {
		t.Fatalf("ReturnCode = %v", res.ReturnCode)
	}
	if len(res.ReaderStates) != 1 || res.ReaderStates[0].EventState&StatePresent == 0 {
		t.Errorf("ReaderStates = %+v, want PRESENT", res.ReaderStates)
	}
}

func TestHandler_ConnectTransmitDisconnect(t *testing.T) {
	h := newHandlerHarness(t)
	h.emu.InsertCard("Reader 0", []byte{0x3B, 0x02}, nil)
	ctx := h.establish()

	res := h.call(irp.IoctlListReadersW, Call{Context: ctx})
	if len(res.Readers) != 1 || res.Readers[0] != "Reader 0" {
		t.Fatalf("ListReaders = %+v", res)
	}

	res = h.call(irp.IoctlConnectW, Call{
		Context:            ctx,
		Reader:             "Reader 0",
		ShareMode:          ShareShared,
		PreferredProtocols: ProtocolT1,
	})
	if res.ReturnCode != Success || res.Card == 0 || res.ActiveProtocol != ProtocolT1 {
		t.Fatalf("Connect = %+v", res)
	}
	card := res.Card

	res = h.call(irp.IoctlTransmit, Call{Card: card, SendBuffer: []byte{0x00, 0xB0, 0x00, 0x00}})
	if res.ReturnCode != Success || len(res.RecvBuffer) != 2 || res.RecvBuffer[0] != 0x90 {
		t.Errorf("Transmit = %+v", res)
	}

	res = h.call(irp.IoctlStatusW, Call{Card: card})
	if res.Status == nil || res.Status.Reader != "Reader 0" {
		t.Errorf("Status = %+v", res)
	}

	if res := h.call(irp.IoctlDisconnect, Call{Card: card}); res.ReturnCode != Success {
		t.Errorf("Disconnect = %v", res.ReturnCode)
	}
	if res := h.call(irp.IoctlTransmit, Call{Card: card, SendBuffer: []byte{0, 0, 0, 0}}); res.ReturnCode != ErrInvalidHandle {
		t.Errorf("Transmit after disconnect = %v, want %v", res.ReturnCode, ErrInvalidHandle)
	}
}

func TestHandler_TrivialAndUnsupportedCalls(t *testing.T) {
	h := newHandlerHarness(t)

	tests := []struct {
		name string
		code irp.IoControlCode
		want ReturnCode
	}{
		{"access started event", irp.IoctlAccessStartedEvent, Success},
		{"release started event", irp.IoctlReleaseStartedEvent, Success},
		{"get attrib", irp.IoctlGetAttrib, ErrUnsupported},
		{"locate cards", irp.IoctlLocateCardsA, ErrUnsupported},
		{"unknown code", irp.IoControlCode(0x00090400), ErrUnsupported},
		{"foreign device type", irp.IoControlCode(0x00220000), ErrUnsupported},
	}
	for _, tt := range tests {
		if res := h.call(tt.code, nil); res.ReturnCode != tt.want {
			t.Errorf("%s: ReturnCode = %v, want %v", tt.name, res.ReturnCode, tt.want)
		}
	}
}

func TestHandler_MalformedInput(t *testing.T) {
	h := newHandlerHarness(t)

	req := irp.New(99, irp.MajorDeviceControl, func(r *irp.Request) { h.done <- r })
	req.IoControlCode = irp.IoctlEstablishContext
	req.Input = []byte("{not json")
	if err := h.dev.Submit(req); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, res := h.wait()
	if got.IoStatus != irp.StatusInvalidParameter {
		t.Errorf("IoStatus = %v, want STATUS_INVALID_PARAMETER", got.IoStatus)
	}
	if res.ReturnCode != ErrInvalidParameter {
		t.Errorf("ReturnCode = %v, want %v", res.ReturnCode, ErrInvalidParameter)
	}
	if h.dev.Contexts().Count() != 0 {
		t.Error("context registered for malformed call")
	}
}

func TestHandler_OutputBufferTooSmall(t *testing.T) {
	h := newHandlerHarness(t)

	req := irp.New(1, irp.MajorDeviceControl, func(r *irp.Request) { h.done <- r })
	req.IoControlCode = irp.IoctlAccessStartedEvent
	req.OutputBufferLength = 4
	_ = h.dev.Submit(req)

	got, _ := h.wait()
	if got.IoStatus != irp.StatusBufferTooSmall {
		t.Errorf("IoStatus = %v, want STATUS_BUFFER_TOO_SMALL", got.IoStatus)
	}
	if got.Output != nil {
		t.Errorf("Output = %q, want nil", got.Output)
	}
}
