package rdpdr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/scardbridge/internal/irp"
	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// Device is the part of smartcard.Device the bridge drives.
type Device interface {
	Submit(req *irp.Request) error
	Init() int
	Stats() smartcard.Stats
}

// MQTTClient is the MQTT surface the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Logger is the logging surface the bridge needs. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// BridgeID keys every topic. Required.
	BridgeID string

	Version string

	// QoS for subscriptions and completions. Default: 1.
	QoS byte

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	// Device receives decoded requests. Required.
	Device Device

	// MQTTClient carries requests and completions. Required.
	MQTTClient MQTTClient

	Logger Logger
}

// Bridge connects a Device to a remote peer over MQTT.
type Bridge struct {
	id     string
	qos    byte
	device Device
	mqtt   MQTTClient
	health *HealthReporter

	// mu guards stopped against inflight.Add so Stop can Wait safely.
	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup

	stopOnce sync.Once

	received      atomic.Uint64
	malformed     atomic.Uint64
	rejected      atomic.Uint64
	completed     atomic.Uint64
	dropped       atomic.Uint64
	publishFailed atomic.Uint64
	announces     atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge ID is required")
	}
	if opts.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}

	b := &Bridge{
		id:     opts.BridgeID,
		qos:    qos,
		device: opts.Device,
		mqtt:   opts.MQTTClient,
		logger: opts.Logger,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Stats:     opts.Device.Stats,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}
	return b, nil
}

// ID returns the bridge identifier.
func (b *Bridge) ID() string {
	return b.id
}

// Start subscribes to the request and announce topics and begins health
// reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return ErrBridgeStopped
	}

	b.health.PublishStarting()

	if err := b.mqtt.Subscribe(IRPTopic(b.id), b.qos, b.handleIRP); err != nil {
		return fmt.Errorf("subscribing to %s: %w", IRPTopic(b.id), err)
	}
	if err := b.mqtt.Subscribe(AnnounceTopic(b.id), b.qos, b.handleAnnounce); err != nil {
		return fmt.Errorf("subscribing to %s: %w", AnnounceTopic(b.id), err)
	}

	b.health.Start(ctx)
	b.logInfo("bridge started", "bridge_id", b.id)
	return nil
}

// Stop stops health reporting and waits for completions being published.
// Completions arriving afterwards are dropped. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		b.health.Stop()
		b.inflight.Wait()

		b.logInfo("bridge stopped", "bridge_id", b.id)
	})
}

// handleIRP decodes a request and submits it to the device.
func (b *Bridge) handleIRP(_ string, payload []byte) {
	b.received.Add(1)

	msg, err := ParseIRPMessage(payload)
	if err != nil {
		b.malformed.Add(1)
		b.logWarn("dropping malformed IRP", "error", err, "bytes", len(payload))
		return
	}

	req := msg.Request(b.complete)
	b.logDebug("IRP received",
		"completion_id", req.CompletionID,
		"major", req.MajorFunction.String(),
		"code", req.IoControlCode.String(),
	)

	if err := b.device.Submit(req); err != nil {
		b.rejected.Add(1)
		b.logWarn("device rejected IRP", "completion_id", req.CompletionID, "error", err)
		req.IoStatus = irp.StatusCancelled
		req.Output = nil
		b.complete(req)
	}
}

// handleAnnounce resets the device for a (re)connected peer.
func (b *Bridge) handleAnnounce(_ string, payload []byte) {
	b.announces.Add(1)

	var msg AnnounceMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			b.logWarn("ignoring malformed announce body", "error", err)
		}
	}

	cancelled := b.device.Init()
	b.logInfo("peer announced, device reset",
		"client", msg.ClientName,
		"cancelled_contexts", cancelled,
	)
	b.health.PublishNow()
}

// complete is the completion callback of every submitted request.
func (b *Bridge) complete(req *irp.Request) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.dropped.Add(1)
		b.logDebug("dropping completion after stop", "completion_id", req.CompletionID)
		return
	}
	b.inflight.Add(1)
	b.mu.Unlock()
	defer b.inflight.Done()

	payload, err := json.Marshal(NewCompletionMessage(req))
	if err != nil {
		b.publishFailed.Add(1)
		b.logError("marshalling completion", err)
		return
	}
	if err := b.mqtt.Publish(CompletionTopic(b.id), payload, b.qos, false); err != nil {
		b.publishFailed.Add(1)
		b.logError("publishing completion", err)
		return
	}
	b.completed.Add(1)
}

// BridgeMetrics contains counters for the API metrics endpoint.
type BridgeMetrics struct {
	BridgeID      string `json:"bridge_id"`
	Connected     bool   `json:"connected"`
	Received      uint64 `json:"received"`
	Malformed     uint64 `json:"malformed"`
	Rejected      uint64 `json:"rejected"`
	Completed     uint64 `json:"completed"`
	Dropped       uint64 `json:"dropped"`
	PublishFailed uint64 `json:"publish_failed"`
	Announces     uint64 `json:"announces"`
}

// GetMetrics returns current bridge counters.
func (b *Bridge) GetMetrics() BridgeMetrics {
	return BridgeMetrics{
		BridgeID:      b.id,
		Connected:     b.mqtt.IsConnected(),
		Received:      b.received.Load(),
		Malformed:     b.malformed.Load(),
		Rejected:      b.rejected.Load(),
		Completed:     b.completed.Load(),
		Dropped:       b.dropped.Load(),
		PublishFailed: b.publishFailed.Load(),
		Announces:     b.announces.Load(),
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
