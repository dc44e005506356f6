package rdpdr

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/scardbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/scardbridge/internal/irp"
)

// IRPMessage is a device I/O request from the peer.
// Topic: scardbridge/irp/{bridge_id}
// QoS: 1, Retained: No
type IRPMessage struct {
	CompletionID  uint32 `json:"completion_id"`
	DeviceID      uint32 `json:"device_id"`
	FileID        uint32 `json:"file_id"`
	MajorFunction uint32 `json:"major_function"`
	MinorFunction uint32 `json:"minor_function,omitempty"`

	// IoControlCode is zero or absent for anything but device control.
	IoControlCode uint32 `json:"io_control_code,omitempty"`

	// Input is the call body, base64 in JSON.
	Input []byte `json:"input,omitempty"`

	// OutputBufferLength is the peer's output buffer size. Zero means
	// unlimited.
	OutputBufferLength uint32 `json:"output_buffer_length,omitempty"`
}

// CompletionMessage answers one IRPMessage.
// Topic: scardbridge/completion/{bridge_id}
// QoS: 1, Retained: No
type CompletionMessage struct {
	CompletionID uint32    `json:"completion_id"`
	DeviceID     uint32    `json:"device_id"`
	IoStatus     uint32    `json:"io_status"`
	IoStatusName string    `json:"io_status_name"`
	Output       []byte    `json:"output,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AnnounceMessage is published by the peer when it (re)connects.
// Topic: scardbridge/announce/{bridge_id}
type AnnounceMessage struct {
	ClientName string    `json:"client_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// HealthStatus is the bridge's reported state.
type HealthStatus string

const (
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: scardbridge/health/{bridge_id}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Device        string       `json:"device"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	AsyncMode     bool         `json:"async_mode"`
	Outstanding   int          `json:"outstanding"`
	Contexts      int          `json:"contexts"`
	ActiveWorkers int64        `json:"active_workers"`
	Timestamp     time.Time    `json:"timestamp"`
}

// ParseIRPMessage decodes an IRP payload.
func ParseIRPMessage(payload []byte) (IRPMessage, error) {
	var msg IRPMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return IRPMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return msg, nil
}

// Request converts the message into an irp.Request with the given
// completion callback.
func (m IRPMessage) Request(complete irp.CompleteFunc) *irp.Request {
	req := irp.New(m.CompletionID, irp.MajorFunction(m.MajorFunction), complete)
	req.DeviceID = m.DeviceID
	req.FileID = m.FileID
	req.MinorFunction = m.MinorFunction
	req.IoControlCode = irp.IoControlCode(m.IoControlCode)
	req.Input = m.Input
	req.OutputBufferLength = m.OutputBufferLength
	return req
}

// NewCompletionMessage builds the answer for a finished request.
func NewCompletionMessage(req *irp.Request) CompletionMessage {
	return CompletionMessage{
		CompletionID: req.CompletionID,
		DeviceID:     req.DeviceID,
		IoStatus:     uint32(req.IoStatus),
		IoStatusName: req.IoStatus.String(),
		Output:       req.Output,
		Timestamp:    time.Now().UTC(),
	}
}

// IRPTopic returns the topic the bridge subscribes to for requests.
func IRPTopic(bridgeID string) string { return mqtt.Topics{}.IRP(bridgeID) }

// CompletionTopic returns the topic completions are published on.
func CompletionTopic(bridgeID string) string { return mqtt.Topics{}.Completion(bridgeID) }

// AnnounceTopic returns the topic peers announce themselves on.
func AnnounceTopic(bridgeID string) string { return mqtt.Topics{}.Announce(bridgeID) }

// HealthTopic returns the retained health topic.
func HealthTopic(bridgeID string) string { return mqtt.Topics{}.Health(bridgeID) }
