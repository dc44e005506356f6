package rdpdr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/scardbridge/internal/smartcard"
)

const defaultHealthInterval = 30 * time.Second

// HealthReporter publishes retained bridge health at a fixed interval.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	stats     func() smartcard.Stats

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher publishes health messages. Usually the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Stats supplies the device snapshot included in every report.
	Stats func() smartcard.Stats
}

// NewHealthReporter creates a health reporter. Call Start to begin
// reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		stats:     cfg.Stats,
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for health reporting.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	defer h.loggerMu.Unlock()
	h.logger = logger
}

// Start publishes immediately, then every interval until Stop or ctx ends.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends the report loop and publishes a final "stopping" status.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		h.publishStatus(HealthStopping, "bridge shutting down")
	})
}

// PublishStarting announces that the bridge is coming up.
func (h *HealthReporter) PublishStarting() {
	h.publishStatus(HealthStarting, "")
}

// PublishNow publishes the current status outside the regular interval.
func (h *HealthReporter) PublishNow() {
	status, reason := h.determineStatus()
	h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.PublishNow()

	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.PublishNow()
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.stats != nil && h.stats().Closed {
		return HealthUnhealthy, "device closed"
	}
	if h.publisher != nil && !h.publisher.IsConnected() {
		return HealthDegraded, "mqtt disconnected"
	}
	return HealthHealthy, ""
}

// buildMessage assembles a health message for status.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Status:        status,
		Reason:        reason,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC(),
	}
	if h.stats != nil {
		st := h.stats()
		msg.Device = st.Name
		msg.AsyncMode = st.AsyncMode
		msg.Outstanding = st.Outstanding
		msg.Contexts = st.Contexts
		msg.ActiveWorkers = st.ActiveWorkers
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) {
	if h.publisher == nil {
		return
	}
	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		h.logError("marshalling health message", err)
		return
	}
	if err := h.publisher.Publish(HealthTopic(h.bridgeID), payload, 1, true); err != nil {
		h.logError("publishing health message", err)
	}
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
