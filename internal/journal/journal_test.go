package journal

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scardbridge/internal/infrastructure/database"
	"github.com/nerrad567/scardbridge/internal/irp"
	"github.com/nerrad567/scardbridge/internal/smartcard"
	"github.com/nerrad567/scardbridge/migrations"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func completion(id uint32, at time.Time) smartcard.Completion {
	return smartcard.Completion{
		DeviceName:    "SCARD",
		CompletionID:  id,
		DeviceID:      1,
		MajorFunction: irp.MajorDeviceControl,
		IoControlCode: irp.IoctlTransmit,
		Status:        irp.StatusSuccess,
		Disposition:   smartcard.DispositionAsync,
		WorkerID:      uint64(id),
		OutputLength:  12,
		Duration:      750 * time.Microsecond,
		CompletedAt:   at,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSQLiteRepository_InsertAndRecent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	for i := uint32(1); i <= 3; i++ {
		if err := repo.Insert(ctx, EntryFromCompletion(completion(i, base.Add(time.Duration(i)*time.Second)))); err != nil {
			t.Fatalf("Insert(%d) error = %v", i, err)
		}
	}

	entries, err := repo.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(Recent(2)) = %d, want 2", len(entries))
	}
	if entries[0].CompletionID != 3 || entries[1].CompletionID != 2 {
		t.Errorf("order = %d, %d, want 3, 2", entries[0].CompletionID, entries[1].CompletionID)
	}

	e := entries[0]
	if e.ID == "" {
		t.Error("entry has no ID")
	}
	if e.Code != "SCARD_IOCTL_TRANSMIT" || e.IoControlCode != uint32(irp.IoctlTransmit) {
		t.Errorf("code = %s (0x%X)", e.Code, e.IoControlCode)
	}
	if e.MajorFunction != "IRP_MJ_DEVICE_CONTROL" {
		t.Errorf("MajorFunction = %q", e.MajorFunction)
	}
	if e.StatusName != "STATUS_SUCCESS" || e.Disposition != "async" {
		t.Errorf("status/disposition = %s/%s", e.StatusName, e.Disposition)
	}
	if e.WorkerID != 3 || e.OutputLength != 12 || e.Duration != 750*time.Microsecond {
		t.Errorf("worker/output/duration = %d/%d/%v", e.WorkerID, e.OutputLength, e.Duration)
	}
	if !e.CompletedAt.Equal(base.Add(3 * time.Second)) {
		t.Errorf("CompletedAt = %v, want %v", e.CompletedAt, base.Add(3*time.Second))
	}
}

func TestSQLiteRepository_Prune(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	// Sub-second timestamps must still order correctly against whole seconds.
	times := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(2 * time.Second),
	}
	for i, at := range times {
		if err := repo.Insert(ctx, EntryFromCompletion(completion(uint32(i+1), at))); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	n, err := repo.Prune(ctx, base.Add(time.Second))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d, want 2", n)
	}

	entries, _ := repo.Recent(ctx, 0)
	if len(entries) != 1 || entries[0].CompletionID != 3 {
		t.Errorf("remaining = %+v, want only completion 3", entries)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{1, 1},
		{MaxLimit, MaxLimit},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestJournal_WritesCompletions(t *testing.T) {
	repo := openTestRepo(t)
	j := New(repo, Options{BufferSize: 8})
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := uint32(1); i <= 3; i++ {
		j.OnCompletion(completion(i, time.Now()))
	}
	j.Stop()

	if st := j.Stats(); st.Written != 3 || st.Dropped != 0 {
		t.Errorf("Stats() = %+v, want 3 written", st)
	}
	entries, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("len(Recent()) = %d, want 3", len(entries))
	}

	// Stopped journals drop and refuse to restart.
	j.OnCompletion(completion(4, time.Now()))
	if st := j.Stats(); st.Dropped != 1 {
		t.Errorf("Dropped after Stop = %d, want 1", st.Dropped)
	}
	if err := j.Start(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Start() after Stop error = %v, want ErrNotRunning", err)
	}
	j.Stop()
}

// blockingRepo holds every Insert until released.
type blockingRepo struct {
	mu       sync.Mutex
	inserted []Entry
	entered  chan struct{}
	release  chan struct{}
	err      error
}

func newBlockingRepo() *blockingRepo {
	return &blockingRepo{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (r *blockingRepo) Insert(_ context.Context, e Entry) error {
	r.entered <- struct{}{}
	<-r.release
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.inserted = append(r.inserted, e)
	return nil
}

func (r *blockingRepo) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

func (r *blockingRepo) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func TestJournal_DropsWhenBufferFull(t *testing.T) {
	repo := newBlockingRepo()
	j := New(repo, Options{BufferSize: 1})
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	j.OnCompletion(completion(1, time.Now()))
	<-repo.entered // writer is busy with 1

	j.OnCompletion(completion(2, time.Now())) // buffered
	j.OnCompletion(completion(3, time.Now())) // dropped

	if st := j.Stats(); st.Dropped != 1 || st.Pending != 1 {
		t.Errorf("Stats() = %+v, want 1 dropped and 1 pending", st)
	}

	close(repo.release)
	j.Stop()

	if st := j.Stats(); st.Written != 2 {
		t.Errorf("Written = %d, want 2", st.Written)
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.inserted) != 2 || repo.inserted[1].CompletionID != 2 {
		t.Errorf("inserted = %+v", repo.inserted)
	}
}

func TestJournal_CountsFailedWrites(t *testing.T) {
	repo := newBlockingRepo()
	repo.err = errors.New("disk full")
	close(repo.release)

	j := New(repo, Options{})
	_ = j.Start(context.Background())
	j.OnCompletion(completion(1, time.Now()))
	j.Stop()

	if st := j.Stats(); st.Failed != 1 || st.Written != 0 {
		t.Errorf("Stats() = %+v, want 1 failed", st)
	}
}

// countingPruneRepo wraps a repository and signals each Prune.
type countingPruneRepo struct {
	Repository
	pruned chan time.Time
}

func (r *countingPruneRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	select {
	case r.pruned <- olderThan:
	default:
	}
	return r.Repository.Prune(ctx, olderThan)
}

func TestJournal_RetentionLoop(t *testing.T) {
	repo := &countingPruneRepo{Repository: openTestRepo(t), pruned: make(chan time.Time, 1)}
	ctx := context.Background()

	old := EntryFromCompletion(completion(1, time.Now().Add(-2*time.Hour)))
	if err := repo.Insert(ctx, old); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	j := New(repo, Options{Retention: time.Hour, PruneInterval: 5 * time.Millisecond})
	if err := j.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer j.Stop()

	select {
	case cutoff := <-repo.pruned:
		if time.Since(cutoff) < time.Hour {
			t.Errorf("cutoff %v is newer than the retention window", cutoff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prune never ran")
	}
	waitFor(t, func() bool { return j.Stats().Pruned == 1 })
}

func TestJournal_ObservesDevice(t *testing.T) {
	repo := openTestRepo(t)
	j := New(repo, Options{})
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer j.Stop()

	opts := smartcard.DefaultOptions()
	opts.Handler = smartcard.HandlerFunc(func(_ context.Context, dev *smartcard.Device, req *irp.Request) irp.Status {
		req.IoStatus = irp.StatusSuccess
		dev.Complete(req)
		return irp.StatusSuccess
	})
	opts.Observers = []smartcard.Observer{j}
	dev, err := smartcard.New(opts)
	if err != nil {
		t.Fatalf("smartcard.New() error = %v", err)
	}
	defer dev.Free()

	req := irp.New(7, irp.MajorDeviceControl, func(*irp.Request) {})
	req.IoControlCode = irp.IoctlEstablishContext
	if err := dev.Submit(req); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	waitFor(t, func() bool { return j.Stats().Written == 1 })

	entries, err := j.Recent(context.Background(), 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Recent() = %v, %v", entries, err)
	}
	if entries[0].CompletionID != 7 || entries[0].Disposition != "sync" {
		t.Errorf("entry = %+v, want completion 7 dispatched sync", entries[0])
	}
}
