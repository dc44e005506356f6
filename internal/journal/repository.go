package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/scardbridge/internal/irp"
	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// timeFormat sorts lexicographically, which Prune relies on.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// Limits for Recent.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Entry is one journalled completion.
type Entry struct {
	ID            string        `json:"id"`
	DeviceName    string        `json:"device"`
	CompletionID  uint32        `json:"completion_id"`
	DeviceID      uint32        `json:"device_id"`
	MajorFunction string        `json:"major_function"`
	IoControlCode uint32        `json:"io_control_code"`
	Code          string        `json:"code"`
	Status        uint32        `json:"status"`
	StatusName    string        `json:"status_name"`
	Disposition   string        `json:"disposition"`
	WorkerID      uint64        `json:"worker_id,omitempty"`
	OutputLength  int           `json:"output_length"`
	Duration      time.Duration `json:"duration"`
	CompletedAt   time.Time     `json:"completed_at"`

	major irp.MajorFunction
}

// EntryFromCompletion converts an engine completion into a journal entry
// with a fresh ID.
func EntryFromCompletion(c smartcard.Completion) Entry {
	completedAt := c.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	return Entry{
		ID:            uuid.NewString(),
		DeviceName:    c.DeviceName,
		CompletionID:  c.CompletionID,
		DeviceID:      c.DeviceID,
		MajorFunction: c.MajorFunction.String(),
		IoControlCode: uint32(c.IoControlCode),
		Code:          c.IoControlCode.String(),
		Status:        uint32(c.Status),
		StatusName:    c.Status.String(),
		Disposition:   c.Disposition.String(),
		WorkerID:      c.WorkerID,
		OutputLength:  c.OutputLength,
		Duration:      c.Duration,
		CompletedAt:   completedAt.UTC(),
		major:         c.MajorFunction,
	}
}

// Repository stores journal entries.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLiteRepository stores entries in the irp_journal table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert writes one entry.
func (r *SQLiteRepository) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO irp_journal (id, device_name, completion_id, device_id, major_function,
			ioctl_code, ioctl_name, status, status_name, disposition, worker_id,
			output_length, duration_us, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceName, int64(e.CompletionID), int64(e.DeviceID), int64(e.major),
		int64(e.IoControlCode), e.Code, int64(e.Status), e.StatusName, e.Disposition,
		int64(e.WorkerID), e.OutputLength, e.Duration.Microseconds(),
		e.CompletedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. limit is clamped to
// [1, MaxLimit]; zero or negative means DefaultLimit.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_name, completion_id, device_id, major_function, ioctl_code,
			ioctl_name, status, status_name, disposition, worker_id, output_length,
			duration_us, completed_at
		 FROM irp_journal ORDER BY completed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                                   Entry
			completionID, deviceID, major, code int64
			status, workerID, durationUs        int64
			completedAt                         string
		)
		if err := rows.Scan(&e.ID, &e.DeviceName, &completionID, &deviceID, &major, &code,
			&e.Code, &status, &e.StatusName, &e.Disposition, &workerID, &e.OutputLength,
			&durationUs, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}

		e.CompletionID = uint32(completionID) // #nosec G115 -- stored from uint32
		e.DeviceID = uint32(deviceID)         // #nosec G115 -- stored from uint32
		e.major = irp.MajorFunction(major)    // #nosec G115 -- stored from uint32
		e.MajorFunction = e.major.String()
		e.IoControlCode = uint32(code) // #nosec G115 -- stored from uint32
		e.Status = uint32(status)      // #nosec G115 -- stored from uint32
		e.WorkerID = uint64(workerID)  // #nosec G115 -- stored from uint64
		e.Duration = time.Duration(durationUs) * time.Microsecond

		e.CompletedAt, err = time.Parse(timeFormat, completedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", completedAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Prune deletes entries completed before olderThan and returns how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM irp_journal WHERE completed_at < ?", olderThan.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return n, nil
}

// ClampLimit applies the Recent limit rules.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
