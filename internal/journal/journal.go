package journal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// ErrNotRunning is returned by Start when the journal was already stopped.
var ErrNotRunning = errors.New("journal: stopped")

const (
	defaultBufferSize = 1024
	writeTimeout      = 5 * time.Second
)

// Logger is the logging dependency.
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

// Options configures a Journal.
type Options struct {
	// BufferSize is the number of completions queued for writing.
	BufferSize int

	// Retention is how long entries are kept. Zero keeps everything.
	Retention time.Duration

	// PruneInterval is how often old entries are removed.
	PruneInterval time.Duration

	Logger Logger
}

// Stats reports journal counters.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Pruned  uint64 `json:"pruned"`
	Pending int    `json:"pending"`
}

// Journal records completions through a Repository.
type Journal struct {
	repo    Repository
	opts    Options
	logger  Logger
	entries chan Entry

	stopped atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	pruned  atomic.Uint64
}

// New creates a journal. Call Start before attaching it to a device.
func New(repo Repository, opts Options) *Journal {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Journal{
		repo:    repo,
		opts:    opts,
		logger:  logger,
		entries: make(chan Entry, opts.BufferSize),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the writer and, when retention is configured, the pruner.
func (j *Journal) Start(ctx context.Context) error {
	if j.stopped.Load() {
		return ErrNotRunning
	}

	j.wg.Add(1)
	go j.writeLoop()

	if j.opts.Retention > 0 && j.opts.PruneInterval > 0 {
		j.wg.Add(1)
		go j.pruneLoop(ctx)
	}

	j.logger.Info("journal started",
		"buffer_size", j.opts.BufferSize,
		"retention", j.opts.Retention.String(),
	)
	return nil
}

// Stop writes what is already queued and stops the background goroutines.
// Safe to call more than once.
func (j *Journal) Stop() {
	j.once.Do(func() {
		j.stopped.Store(true)
		close(j.stopCh)
		j.wg.Wait()

		st := j.Stats()
		j.logger.Info("journal stopped", "written", st.Written, "dropped", st.Dropped)
	})
}

// OnCompletion queues c for writing. It never blocks: when the buffer is
// full, or the journal is stopped, the completion is dropped and counted.
func (j *Journal) OnCompletion(c smartcard.Completion) {
	if j.stopped.Load() {
		j.dropped.Add(1)
		return
	}
	select {
	case j.entries <- EntryFromCompletion(c):
	default:
		if j.dropped.Add(1) == 1 {
			j.logger.Warn("journal buffer full, dropping completions", "buffer_size", j.opts.BufferSize)
		}
	}
}

// Recent returns the newest entries.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.repo.Recent(ctx, limit)
}

// Prune removes entries older than the cutoff.
func (j *Journal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := j.repo.Prune(ctx, olderThan)
	if err == nil && n > 0 {
		j.pruned.Add(uint64(n)) // #nosec G115 -- n > 0
	}
	return n, err
}

// Stats returns the journal counters.
func (j *Journal) Stats() Stats {
	return Stats{
		Written: j.written.Load(),
		Dropped: j.dropped.Load(),
		Failed:  j.failed.Load(),
		Pruned:  j.pruned.Load(),
		Pending: len(j.entries),
	}
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case e := <-j.entries:
			j.write(e)
		case <-j.stopCh:
			for {
				select {
				case e := <-j.entries:
					j.write(e)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := j.repo.Insert(ctx, e); err != nil {
		j.failed.Add(1)
		j.logger.Error("journal write failed", "completion_id", e.CompletionID, "error", err)
		return
	}
	j.written.Add(1)
}

func (j *Journal) pruneLoop(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
			n, err := j.Prune(ctx, time.Now().Add(-j.opts.Retention))
			if err != nil {
				j.logger.Warn("journal prune failed", "error", err)
				continue
			}
			if n > 0 {
				j.logger.Debug("journal pruned", "removed", n)
			}
		}
	}
}
