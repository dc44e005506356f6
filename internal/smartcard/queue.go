package smartcard

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/nerrad567/scardbridge/internal/irp"
)

// message is one item of the dispatch queue.
// A message with quit set is the shutdown sentinel.
type message struct {
	req  *irp.Request
	quit bool
}

// Queue is the device's dispatch queue: unbounded, FIFO, many producers and
// a single consumer.
//
// Post never blocks waiting for the consumer. Once the quit sentinel has been
// posted the queue refuses further requests.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	closed bool
}

// NewQueue creates an empty dispatch queue.
func NewQueue() *Queue {
	q := &Queue{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Post appends a request.
// Returns ErrDeviceClosed once the quit sentinel has been posted.
func (q *Queue) Post(req *irp.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrDeviceClosed
	}
	q.items.Add(message{req: req})
	q.cond.Signal()
	return nil
}

// PostQuit appends the shutdown sentinel. Later calls are no-ops.
func (q *Queue) PostQuit() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.items.Add(message{quit: true})
	q.cond.Signal()
}

// wait blocks until an item is available and removes it.
func (q *Queue) wait() message {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Length() == 0 {
		q.cond.Wait()
	}
	return q.items.Remove().(message)
}

// Len returns the number of queued items, including a pending sentinel.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// release drops any remaining items. Only called after the consumer exited.
func (q *Queue) release() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for q.items.Length() > 0 {
		if m := q.items.Remove().(message); !m.quit {
			dropped++
		}
	}
	return dropped
}
