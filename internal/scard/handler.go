package scard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/scardbridge/internal/irp"
	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// Logger defines the logging interface used by the handler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler executes smart-card device-control requests against a Service.
//
// The request body is a JSON Call; the response body is a JSON Result.
// PC/SC failures are reported in Result.ReturnCode with IoStatus success,
// so the peer sees them the same way a local PC/SC caller would.
type Handler struct {
	svc    Service
	logger Logger
}

// NewHandler creates a handler for svc.
func NewHandler(svc Service, logger Logger) *Handler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Handler{svc: svc, logger: logger}
}

// DeviceControl decodes, executes and completes req.
func (h *Handler) DeviceControl(ctx context.Context, dev *smartcard.Device, req *irp.Request) irp.Status {
	status := irp.StatusSuccess

	var (
		call   Call
		result Result
	)
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &call); err != nil {
			h.logger.Warn("decoding smart card call failed",
				"io_control_code", req.IoControlCode.String(),
				"completion_id", req.CompletionID,
				"error", err,
			)
			status = irp.StatusInvalidParameter
			result.ReturnCode = ErrInvalidParameter
		}
	}
	if status == irp.StatusSuccess {
		result = h.execute(ctx, dev, req.IoControlCode, &call)
	}
	result.ReturnCodeName = result.ReturnCode.String()

	body, err := json.Marshal(result)
	switch {
	case err != nil:
		h.logger.Error("encoding smart card result failed", "completion_id", req.CompletionID, "error", err)
		status = irp.StatusUnsuccessful
		body = nil
	case req.OutputBufferLength > 0 && len(body) > int(req.OutputBufferLength):
		status = irp.StatusBufferTooSmall
		body = nil
	}

	req.Output = body
	req.IoStatus = status
	dev.Complete(req)
	return status
}

func (h *Handler) execute(ctx context.Context, dev *smartcard.Device, code irp.IoControlCode, call *Call) Result {
	hctx := smartcard.ContextHandle(call.Context)
	card := CardHandle(call.Card)

	switch code {
	case irp.IoctlEstablishContext:
		handle, rc := h.svc.EstablishContext(call.Scope)
		if rc != Success {
			return Result{ReturnCode: rc}
		}
		if err := dev.Contexts().Add(handle, contextCanceller{svc: h.svc, handle: handle}); err != nil {
			h.logger.Warn("context already registered", "context", uint64(handle), "error", err)
		}
		return Result{ReturnCode: Success, Context: uint64(handle)}

	case irp.IoctlReleaseContext:
		dev.Contexts().Remove(hctx)
		return Result{ReturnCode: h.svc.ReleaseContext(hctx)}

	case irp.IoctlIsValidContext:
		return Result{ReturnCode: h.svc.IsValidContext(hctx)}

	case irp.IoctlAccessStartedEvent, irp.IoctlReleaseStartedEvent:
		return Result{ReturnCode: Success}

	case irp.IoctlListReadersA, irp.IoctlListReadersW:
		readers, rc := h.svc.ListReaders(hctx)
		return Result{ReturnCode: rc, Readers: readers}

	case irp.IoctlGetStatusChangeA, irp.IoctlGetStatusChangeW:
		timeout := time.Duration(-1)
		if call.TimeoutMs != nil && *call.TimeoutMs != TimeoutInfinite {
			timeout = time.Duration(*call.TimeoutMs) * time.Millisecond
		}
		states, rc := h.svc.GetStatusChange(ctx, hctx, timeout, call.ReaderStates)
		return Result{ReturnCode: rc, ReaderStates: states}

	case irp.IoctlCancel:
		return Result{ReturnCode: h.svc.Cancel(hctx)}

	case irp.IoctlConnectA, irp.IoctlConnectW:
		handle, protocol, rc := h.svc.Connect(hctx, call.Reader, call.ShareMode, call.PreferredProtocols)
		return Result{ReturnCode: rc, Card: uint64(handle), ActiveProtocol: protocol}

	case irp.IoctlDisconnect:
		return Result{ReturnCode: h.svc.Disconnect(card, call.Disposition)}

	case irp.IoctlStatusA, irp.IoctlStatusW:
		st, rc := h.svc.Status(card)
		if rc != Success {
			return Result{ReturnCode: rc}
		}
		return Result{ReturnCode: rc, Status: &st}

	case irp.IoctlTransmit:
		resp, rc := h.svc.Transmit(ctx, card, call.SendBuffer)
		return Result{ReturnCode: rc, RecvBuffer: resp}

	default:
		h.logger.Debug("smart card call not implemented", "io_control_code", code.String())
		return Result{ReturnCode: ErrUnsupported}
	}
}
