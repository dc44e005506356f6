package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// Measurement names.
const (
	MeasurementCompletion  = "irp_completion"
	MeasurementDeviceStats = "device_stats"
)

// OnCompletion records a completed request, making Client a
// smartcard.Observer.
func (c *Client) OnCompletion(comp smartcard.Completion) {
	c.writePoint(CompletionPoint(comp))
}

// WriteDeviceStats records a snapshot of the device counters.
func (c *Client) WriteDeviceStats(stats smartcard.Stats) {
	c.writePoint(StatsPoint(stats, time.Now()))
}

// RunStatsLoop writes dev's stats every interval until ctx is done.
func (c *Client) RunStatsLoop(ctx context.Context, dev *smartcard.Device, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.WriteDeviceStats(dev.Stats())
		}
	}
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

// CompletionPoint converts a completion into an irp_completion point.
// Tags stay low-cardinality; the completion ID is a field.
func CompletionPoint(comp smartcard.Completion) *write.Point {
	return write.NewPoint(MeasurementCompletion,
		map[string]string{
			"device":      comp.DeviceName,
			"code":        comp.IoControlCode.String(),
			"disposition": comp.Disposition.String(),
			"status":      comp.Status.String(),
		},
		map[string]interface{}{
			"completion_id": int64(comp.CompletionID),
			"duration_us":   comp.Duration.Microseconds(),
			"output_bytes":  int64(comp.OutputLength),
		},
		comp.CompletedAt)
}

// StatsPoint converts a stats snapshot into a device_stats point.
func StatsPoint(stats smartcard.Stats, at time.Time) *write.Point {
	return write.NewPoint(MeasurementDeviceStats,
		map[string]string{
			"device": stats.Name,
		},
		map[string]interface{}{
			"queued":                int64(stats.Queued),
			"outstanding":           int64(stats.Outstanding),
			"contexts":              int64(stats.Contexts),
			"active_workers":        stats.ActiveWorkers,
			"waiting_workers":       stats.WaitingWorkers,
			"submitted":             int64(stats.Submitted),
			"completed":             int64(stats.Completed),
			"unsupported":           int64(stats.Unsupported),
			"rejected":              int64(stats.Rejected),
			"duplicate_completions": int64(stats.DuplicateCompletions),
		},
		at)
}
