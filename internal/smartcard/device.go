package smartcard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/scardbridge/internal/irp"
)

// DefaultName is the device name announced for smart-card redirection.
const DefaultName = "SCARD"

// Handler executes device-control requests.
//
// DeviceControl runs either on the dispatcher goroutine or on a worker,
// depending on the request's disposition. It must eventually call
// dev.Complete(req) exactly once. The returned status is informational;
// the status reported to the peer is req.IoStatus.
//
// ctx is cancelled when the device is freed.
type Handler interface {
	DeviceControl(ctx context.Context, dev *Device, req *irp.Request) irp.Status
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, dev *Device, req *irp.Request) irp.Status

// DeviceControl calls f(ctx, dev, req).
func (f HandlerFunc) DeviceControl(ctx context.Context, dev *Device, req *irp.Request) irp.Status {
	return f(ctx, dev, req)
}

// Canceller is a session resource that can be told to abandon blocking
// calls in progress.
type Canceller interface {
	Cancel() error
}

// ContextHandle identifies a session context opened by a handler.
type ContextHandle uint64

// Completion describes a finished request. It is captured before the
// request's completion callback runs.
type Completion struct {
	DeviceName    string            `json:"device"`
	CompletionID  uint32            `json:"completion_id"`
	DeviceID      uint32            `json:"device_id"`
	MajorFunction irp.MajorFunction `json:"major_function"`
	IoControlCode irp.IoControlCode `json:"io_control_code"`
	Status        irp.Status        `json:"status"`
	Disposition   Disposition       `json:"disposition"`
	WorkerID      uint64            `json:"worker_id,omitempty"`
	OutputLength  int               `json:"output_length"`
	Duration      time.Duration     `json:"duration"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// Observer is notified after every completion.
//
// OnCompletion runs on the completing goroutine and must not block.
type Observer interface {
	OnCompletion(c Completion)
}

// OutstandingRequest is a snapshot of one registered request.
type OutstandingRequest struct {
	CompletionID  uint32            `json:"completion_id"`
	IoControlCode irp.IoControlCode `json:"io_control_code"`
	Code          string            `json:"code"`
	Disposition   string            `json:"disposition"`
	WorkerID      uint64            `json:"worker_id,omitempty"`
	AcceptedAt    time.Time         `json:"accepted_at"`
}

// Stats is a point-in-time view of a device.
type Stats struct {
	Name           string `json:"name"`
	AsyncMode      bool   `json:"async_mode"`
	MaxWorkers     int    `json:"max_workers"`
	Queued         int    `json:"queued"`
	Outstanding    int    `json:"outstanding"`
	Contexts       int    `json:"contexts"`
	ActiveWorkers  int64  `json:"active_workers"`
	WaitingWorkers int64  `json:"waiting_workers"`
	WorkersStarted uint64 `json:"workers_started"`
	Submitted      uint64 `json:"submitted"`
	Completed      uint64 `json:"completed"`
	Unsupported    uint64 `json:"unsupported"`
	Rejected       uint64 `json:"rejected"`
	// DuplicateCompletions counts Complete calls ignored because the
	// request was no longer outstanding.
	DuplicateCompletions uint64 `json:"duplicate_completions"`
	Closed               bool   `json:"closed"`
}

// Options configures a Device.
type Options struct {
	// Name is the announced device name. Defaults to DefaultName.
	Name string

	// AsyncMode runs every known non-context call on a worker.
	// When false every known call runs inline on the dispatcher.
	AsyncMode bool

	// MaxWorkers bounds concurrently running handlers. Zero is unbounded.
	MaxWorkers int

	// Handler executes device-control requests. Required.
	Handler Handler

	// Logger receives engine diagnostics. May be nil.
	Logger Logger

	// Observers are notified after every completion.
	Observers []Observer
}

// DefaultOptions returns options with async mode enabled and no worker bound.
func DefaultOptions() Options {
	return Options{
		Name:      DefaultName,
		AsyncMode: true,
	}
}

// outstanding is the registry entry of an accepted request.
type outstanding struct {
	req         *irp.Request
	disposition Disposition
	worker      *irp.Worker
	acceptedAt  time.Time
}

// Device is a redirected smart-card device: one dispatch queue, one
// dispatcher goroutine, and the registries of outstanding requests and
// open contexts.
type Device struct {
	name       string
	asyncMode  bool
	maxWorkers int
	handler    Handler
	logger     Logger

	queue       *Queue
	outstanding *Registry[uint32, *outstanding]
	contexts    *Registry[ContextHandle, Canceller]
	exec        *executor

	obsMu     sync.RWMutex
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc

	dispatcherDone chan struct{}
	freeOnce       sync.Once
	freed          atomic.Bool

	submitted   atomic.Uint64
	completed   atomic.Uint64
	unsupported atomic.Uint64
	rejected    atomic.Uint64

	duplicateCompletions atomic.Uint64
}

// New creates a device and starts its dispatcher goroutine.
//
// Returns:
//   - *Device: ready to accept requests via Submit
//   - error: ErrNoHandler or ErrInvalidOptions
func New(opts Options) (*Device, error) {
	if opts.Handler == nil {
		return nil, ErrNoHandler
	}
	if opts.MaxWorkers < 0 {
		return nil, fmt.Errorf("%w: max workers must be >= 0, got %d", ErrInvalidOptions, opts.MaxWorkers)
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		name:           opts.Name,
		asyncMode:      opts.AsyncMode,
		maxWorkers:     opts.MaxWorkers,
		handler:        opts.Handler,
		logger:         opts.Logger,
		queue:          NewQueue(),
		outstanding:    NewRegistry[uint32, *outstanding](),
		contexts:       NewRegistry[ContextHandle, Canceller](),
		exec:           newExecutor(opts.MaxWorkers),
		observers:      append([]Observer(nil), opts.Observers...),
		ctx:            ctx,
		cancel:         cancel,
		dispatcherDone: make(chan struct{}),
	}

	go d.dispatchLoop()

	d.logger.Info("smart card device started",
		"device", d.name,
		"async_mode", d.asyncMode,
		"max_workers", d.maxWorkers,
	)
	return d, nil
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Contexts returns the registry of open session contexts.
// Handlers add a context when they open it and remove it when released.
func (d *Device) Contexts() *Registry[ContextHandle, Canceller] {
	return d.contexts
}

// AddObserver registers an observer for completions.
func (d *Device) AddObserver(o Observer) {
	d.obsMu.Lock()
	d.observers = append(d.observers, o)
	d.obsMu.Unlock()
}

// Submit hands a request to the dispatcher. It never waits for the
// request to be processed.
func (d *Device) Submit(req *irp.Request) error {
	if req == nil {
		return ErrNilRequest
	}
	if err := d.queue.Post(req); err != nil {
		return err
	}
	d.submitted.Add(1)
	return nil
}

// Done is closed when the dispatcher goroutine has exited.
func (d *Device) Done() <-chan struct{} {
	return d.dispatcherDone
}

func (d *Device) dispatchLoop() {
	defer close(d.dispatcherDone)

	for {
		m := d.queue.wait()
		if m.quit {
			d.logger.Debug("dispatcher exiting", "device", d.name)
			return
		}
		d.dispatch(m.req)
	}
}

// dispatch routes one request. Runs on the dispatcher goroutine.
func (d *Device) dispatch(req *irp.Request) {
	if req.MajorFunction != irp.MajorDeviceControl {
		d.logger.Warn("unsupported smart card request",
			"major_function", req.MajorFunction.String(),
			"minor_function", req.MinorFunction,
			"completion_id", req.CompletionID,
		)
		d.unsupported.Add(1)
		req.IoStatus = irp.StatusNotSupported
		d.finish(req, DispositionUnrecognized, req.ReceivedAt)
		return
	}

	disposition := Classify(req.IoControlCode, d.asyncMode)
	if disposition == DispositionUnrecognized {
		d.logger.Warn("empty smart card control code",
			"completion_id", req.CompletionID,
		)
		d.unsupported.Add(1)
		req.IoStatus = irp.StatusInvalidParameter
		d.finish(req, DispositionUnrecognized, req.ReceivedAt)
		return
	}
	if !req.IoControlCode.IsSmartCard() {
		d.logger.Debug("unknown control code passed to handler",
			"io_control_code", req.IoControlCode.String(),
			"completion_id", req.CompletionID,
			"disposition", disposition.String(),
		)
	}

	entry := &outstanding{req: req, disposition: disposition, acceptedAt: time.Now()}
	if disposition == DispositionAsync {
		entry.worker = d.exec.newWorker()
	}
	if err := d.outstanding.Add(req.CompletionID, entry); err != nil {
		d.logger.Error("duplicate completion id",
			"completion_id", req.CompletionID,
			"io_control_code", req.IoControlCode.String(),
		)
		d.rejected.Add(1)
		req.IoStatus = irp.StatusInvalidParameter
		d.finish(req, disposition, entry.acceptedAt)
		return
	}

	if disposition == DispositionSync {
		d.invoke(req)
		return
	}

	req.Worker = entry.worker
	d.exec.spawn(d.ctx, entry.worker,
		func() { d.invoke(req) },
		func() {
			d.logger.Debug("worker abandoned before start",
				"completion_id", req.CompletionID,
				"io_control_code", req.IoControlCode.String(),
			)
			req.IoStatus = irp.StatusCancelled
			d.Complete(req)
		},
	)
}

// invoke runs the handler. A panicking handler completes its request with
// STATUS_UNSUCCESSFUL if it has not completed it already.
func (d *Device) invoke(req *irp.Request) {
	code := req.IoControlCode
	id := req.CompletionID

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("smart card handler panicked",
				"panic", r,
				"completion_id", id,
				"io_control_code", code.String(),
			)
			if d.isOutstanding(req) {
				req.IoStatus = irp.StatusUnsuccessful
				d.Complete(req)
			}
		}
	}()

	status := d.handler.DeviceControl(d.ctx, d, req)
	if !status.IsSuccess() {
		d.logger.Debug("device control failed",
			"completion_id", id,
			"io_control_code", code.String(),
			"status", status.String(),
		)
	}
}

func (d *Device) isOutstanding(req *irp.Request) bool {
	entry, ok := d.outstanding.Get(req.CompletionID)
	return ok && entry.req == req
}

// Complete removes req from the outstanding registry and invokes its
// completion callback. Handlers call this exactly once per request; a
// further call while the device is open is logged and ignored.
func (d *Device) Complete(req *irp.Request) {
	if req == nil {
		return
	}

	disposition := DispositionUnrecognized
	acceptedAt := req.ReceivedAt

	entry, ok := d.outstanding.RemoveIf(req.CompletionID, func(e *outstanding) bool {
		return e.req == req
	})
	switch {
	case ok:
		disposition = entry.disposition
		acceptedAt = entry.acceptedAt
	case d.freed.Load():
		d.logger.Debug("completing request after device free", "completion_id", req.CompletionID)
	default:
		// Already completed, or its completion id now belongs to another request.
		d.logger.Warn("ignoring completion of request that is not outstanding",
			"completion_id", req.CompletionID,
			"io_control_code", req.IoControlCode.String(),
		)
		d.duplicateCompletions.Add(1)
		return
	}

	d.finish(req, disposition, acceptedAt)
}

// finish runs the completion callback and notifies observers.
func (d *Device) finish(req *irp.Request, disposition Disposition, acceptedAt time.Time) {
	now := time.Now()
	c := Completion{
		DeviceName:    d.name,
		CompletionID:  req.CompletionID,
		DeviceID:      req.DeviceID,
		MajorFunction: req.MajorFunction,
		IoControlCode: req.IoControlCode,
		Status:        req.IoStatus,
		Disposition:   disposition,
		OutputLength:  len(req.Output),
		CompletedAt:   now,
	}
	if !acceptedAt.IsZero() {
		c.Duration = now.Sub(acceptedAt)
	}
	if req.Worker != nil {
		c.WorkerID = req.Worker.ID
	}

	req.Complete()
	d.completed.Add(1)

	d.obsMu.RLock()
	observers := d.observers
	d.obsMu.RUnlock()
	for _, o := range observers {
		o.OnCompletion(c)
	}
}

// Init cancels every registered context so that handlers blocked on them
// return and complete their requests. Contexts stay registered.
// Returns the number of contexts cancelled.
func (d *Device) Init() int {
	cancelled := 0
	d.contexts.Range(func(handle ContextHandle, c Canceller) bool {
		if err := c.Cancel(); err != nil {
			d.logger.Warn("cancelling smart card context failed",
				"context", uint64(handle),
				"error", err,
			)
		}
		cancelled++
		return true
	})

	d.logger.Info("smart card device reset", "device", d.name, "contexts_cancelled", cancelled)
	return cancelled
}

// Free stops the dispatcher and releases the device's queue and
// registries. It waits for the dispatcher goroutine but not for workers.
// Later calls are no-ops.
func (d *Device) Free() {
	d.freeOnce.Do(func() {
		d.queue.PostQuit()
		<-d.dispatcherDone

		d.freed.Store(true)
		d.cancel()

		dropped := d.queue.release()
		outstanding := d.outstanding.Count()
		d.outstanding.Clear()
		d.contexts.Clear()

		d.logger.Info("smart card device freed",
			"device", d.name,
			"outstanding", outstanding,
			"dropped", dropped,
		)
	})
}

// Outstanding returns a snapshot of registered requests in acceptance order.
func (d *Device) Outstanding() []OutstandingRequest {
	out := make([]OutstandingRequest, 0, d.outstanding.Count())
	d.outstanding.Range(func(id uint32, e *outstanding) bool {
		r := OutstandingRequest{
			CompletionID:  id,
			IoControlCode: e.req.IoControlCode,
			Code:          e.req.IoControlCode.String(),
			Disposition:   e.disposition.String(),
			AcceptedAt:    e.acceptedAt,
		}
		if e.worker != nil {
			r.WorkerID = e.worker.ID
		}
		out = append(out, r)
		return true
	})
	return out
}

// Stats returns current counters.
func (d *Device) Stats() Stats {
	return Stats{
		Name:           d.name,
		AsyncMode:      d.asyncMode,
		MaxWorkers:     d.maxWorkers,
		Queued:         d.queue.Len(),
		Outstanding:    d.outstanding.Count(),
		Contexts:       d.contexts.Count(),
		ActiveWorkers:  d.exec.active.Load(),
		WaitingWorkers: d.exec.waiting.Load(),
		WorkersStarted: d.exec.started.Load(),
		Submitted:      d.submitted.Load(),
		Completed:      d.completed.Load(),
		Unsupported:    d.unsupported.Load(),
		Rejected:       d.rejected.Load(),
		Closed:         d.freed.Load(),

		DuplicateCompletions: d.duplicateCompletions.Load(),
	}
}
