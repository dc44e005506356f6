package smartcard

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/scardbridge/internal/irp"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	for i := uint32(1); i <= 100; i++ {
		if err := q.Post(irp.New(i, irp.MajorDeviceControl, nil)); err != nil {
			t.Fatalf("Post(%d) error = %v", i, err)
		}
	}
	if q.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", q.Len())
	}

	for i := uint32(1); i <= 100; i++ {
		m := q.wait()
		if m.quit {
			t.Fatalf("unexpected sentinel at %d", i)
		}
		if m.req.CompletionID != i {
			t.Fatalf("wait() = %d, want %d", m.req.CompletionID, i)
		}
	}
}

func TestQueue_WaitBlocksUntilPost(t *testing.T) {
	q := NewQueue()
	got := make(chan message, 1)

	go func() { got <- q.wait() }()

	select {
	case <-got:
		t.Fatal("wait() returned on empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	_ = q.Post(irp.New(42, irp.MajorDeviceControl, nil))

	select {
	case m := <-got:
		if m.req.CompletionID != 42 {
			t.Errorf("CompletionID = %d, want 42", m.req.CompletionID)
		}
	case <-time.After(time.Second):
		t.Fatal("wait() did not wake after Post")
	}
}

func TestQueue_PostQuit(t *testing.T) {
	q := NewQueue()
	_ = q.Post(irp.New(1, irp.MajorDeviceControl, nil))

	q.PostQuit()
	q.PostQuit()

	if err := q.Post(irp.New(2, irp.MajorDeviceControl, nil)); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("Post() after quit error = %v, want ErrDeviceClosed", err)
	}

	// Items posted before the sentinel are still delivered first.
	if m := q.wait(); m.quit || m.req.CompletionID != 1 {
		t.Fatalf("first item = %+v, want request 1", m)
	}
	if m := q.wait(); !m.quit {
		t.Fatal("second item is not the sentinel")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (sentinel posted once)", q.Len())
	}
}

func TestQueue_Release(t *testing.T) {
	q := NewQueue()
	_ = q.Post(irp.New(1, irp.MajorDeviceControl, nil))
	_ = q.Post(irp.New(2, irp.MajorDeviceControl, nil))
	q.PostQuit()

	if dropped := q.release(); dropped != 2 {
		t.Errorf("release() = %d, want 2", dropped)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}
