package smartcard

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/scardbridge/internal/irp"
)

// executor starts one worker goroutine per asynchronous request.
//
// With a bound of zero every worker runs its handler immediately. With a
// bound of N a worker waits for one of N slots. Each worker queues on the
// semaphore only after its predecessor has been granted a slot or given
// up, so slots are granted in dispatch order. The goroutine exists from
// the moment the request is dispatched and the dispatcher never waits.
type executor struct {
	slots *semaphore.Weighted

	mu   sync.Mutex
	last chan struct{} // closed once the previous worker leaves the line

	nextID  atomic.Uint64
	active  atomic.Int64
	waiting atomic.Int64
	started atomic.Uint64
}

func newExecutor(maxWorkers int) *executor {
	e := &executor{}
	if maxWorkers > 0 {
		e.slots = semaphore.NewWeighted(int64(maxWorkers))
	}
	return e
}

// newWorker allocates the identity of the next worker.
func (e *executor) newWorker() *irp.Worker {
	return irp.NewWorker(e.nextID.Add(1))
}

// spawn starts worker.
//
// run is called once the worker holds a slot. abandon is called instead
// when ctx ends while the worker is still waiting.
func (e *executor) spawn(ctx context.Context, worker *irp.Worker, run, abandon func()) {
	e.started.Add(1)

	var prev, turn chan struct{}
	if e.slots != nil {
		turn = make(chan struct{})
		e.mu.Lock()
		prev, e.last = e.last, turn
		e.mu.Unlock()
	}

	go func() {
		defer worker.Exit()

		if e.slots != nil {
			e.waiting.Add(1)
			err := e.acquire(ctx, prev, turn)
			e.waiting.Add(-1)
			if err != nil {
				abandon()
				return
			}
			defer e.slots.Release(1)
		}

		e.active.Add(1)
		defer e.active.Add(-1)
		run()
	}()
}

// acquire waits for prev, then for a slot. turn is closed on return so the
// next worker in line can proceed.
func (e *executor) acquire(ctx context.Context, prev, turn chan struct{}) error {
	defer close(turn)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.slots.Acquire(ctx, 1)
}
