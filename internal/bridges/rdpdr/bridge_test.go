package rdpdr

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scardbridge/internal/irp"
	"github.com/nerrad567/scardbridge/internal/scard"
	"github.com/nerrad567/scardbridge/internal/smartcard"
)

const testBridgeID = "bridge-test"

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	publishErr    error
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *MockMQTTClient) GetSubscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscriptions...)
}

// GetPublished returns published messages on topic.
func (m *MockMQTTClient) GetPublished(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers payload to the handler subscribed to topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler := m.handlers[topic]
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

type bridgeHarness struct {
	t      *testing.T
	emu    *scard.Emulator
	dev    *smartcard.Device
	mqtt   *MockMQTTClient
	bridge *Bridge
}

func newBridgeHarness(t *testing.T) *bridgeHarness {
	t.Helper()

	emu := scard.NewEmulator("Reader 0")
	opts := smartcard.DefaultOptions()
	opts.Handler = scard.NewHandler(emu, nil)
	dev, err := smartcard.New(opts)
	if err != nil {
		t.Fatalf("smartcard.New() error = %v", err)
	}
	t.Cleanup(dev.Free)

	mqtt := NewMockMQTTClient()
	b, err := NewBridge(BridgeOptions{
		BridgeID:       testBridgeID,
		Version:        "test",
		HealthInterval: time.Hour,
		Device:         dev,
		MQTTClient:     mqtt,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	return &bridgeHarness{t: t, emu: emu, dev: dev, mqtt: mqtt, bridge: b}
}

// send publishes an IRP for code with call as its body.
func (h *bridgeHarness) send(id uint32, code irp.IoControlCode, call any) {
	h.t.Helper()
	msg := IRPMessage{
		CompletionID:  id,
		DeviceID:      7,
		MajorFunction: uint32(irp.MajorDeviceControl),
		IoControlCode: uint32(code),
	}
	if call != nil {
		body, err := json.Marshal(call)
		if err != nil {
			h.t.Fatalf("json.Marshal() error = %v", err)
		}
		msg.Input = body
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.t.Fatalf("json.Marshal() error = %v", err)
	}
	h.mqtt.SimulateMessage(IRPTopic(testBridgeID), payload)
}

// waitCompletions waits until n completions have been published.
func (h *bridgeHarness) waitCompletions(n int) []CompletionMessage {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		published := h.mqtt.GetPublished(CompletionTopic(testBridgeID))
		if len(published) >= n {
			out := make([]CompletionMessage, len(published))
			for i, p := range published {
				if p.Retained {
					h.t.Errorf("completion %d published retained", i)
				}
				if err := json.Unmarshal(p.Payload, &out[i]); err != nil {
					h.t.Fatalf("json.Unmarshal() error = %v", err)
				}
			}
			return out
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("got %d completions, want %d", len(published), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func decodeResult(t *testing.T, msg CompletionMessage) scard.Result {
	t.Helper()
	var res scard.Result
	if err := json.Unmarshal(msg.Output, &res); err != nil {
		t.Fatalf("decoding output %q: %v", msg.Output, err)
	}
	return res
}

func TestNewBridge_Validation(t *testing.T) {
	dev := &stubDevice{}
	mqtt := NewMockMQTTClient()

	tests := []struct {
		name    string
		opts    BridgeOptions
		wantErr bool
	}{
		{"valid", BridgeOptions{BridgeID: "b", Device: dev, MQTTClient: mqtt}, false},
		{"missing id", BridgeOptions{Device: dev, MQTTClient: mqtt}, true},
		{"missing device", BridgeOptions{BridgeID: "b", MQTTClient: mqtt}, true},
		{"missing mqtt", BridgeOptions{BridgeID: "b", Device: dev}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBridge(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBridge() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && b.qos != 1 {
				t.Errorf("default QoS = %d, want 1", b.qos)
			}
		})
	}
}

func TestBridge_StartSubscribesAndReportsHealth(t *testing.T) {
	h := newBridgeHarness(t)

	subs := h.mqtt.GetSubscriptions()
	want := map[string]bool{IRPTopic(testBridgeID): true, AnnounceTopic(testBridgeID): true}
	if len(subs) != len(want) {
		t.Fatalf("subscriptions = %v", subs)
	}
	for _, s := range subs {
		if !want[s] {
			t.Errorf("unexpected subscription %q", s)
		}
	}

	health := h.mqtt.GetPublished(HealthTopic(testBridgeID))
	if len(health) == 0 {
		t.Fatal("no health published")
	}
	var first HealthMessage
	if err := json.Unmarshal(health[0].Payload, &first); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if first.Status != HealthStarting || !health[0].Retained {
		t.Errorf("first health = %+v retained=%v, want retained starting", first, health[0].Retained)
	}
	if first.Device != smartcard.DefaultName || !first.AsyncMode {
		t.Errorf("health device = %q async=%v", first.Device, first.AsyncMode)
	}
}

func TestBridge_IRPRoundTrip(t *testing.T) {
	h := newBridgeHarness(t)

	h.send(1, irp.IoctlEstablishContext, scard.Call{Scope: 2})
	got := h.waitCompletions(1)[0]

	if got.CompletionID != 1 || got.DeviceID != 7 {
		t.Errorf("ids = %d/%d, want 1/7", got.CompletionID, got.DeviceID)
	}
	if irp.Status(got.IoStatus) != irp.StatusSuccess || got.IoStatusName != "STATUS_SUCCESS" {
		t.Errorf("IoStatus = 0x%08X (%s), want STATUS_SUCCESS", got.IoStatus, got.IoStatusName)
	}
	res := decodeResult(t, got)
	if res.ReturnCode != scard.Success || res.Context == 0 {
		t.Fatalf("result = %+v", res)
	}
	if !h.dev.Contexts().Contains(smartcard.ContextHandle(res.Context)) {
		t.Error("context not registered with device")
	}

	m := h.bridge.GetMetrics()
	if m.Received != 1 || m.Completed != 1 || m.Malformed != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestBridge_MalformedIRPDropped(t *testing.T) {
	h := newBridgeHarness(t)

	h.mqtt.SimulateMessage(IRPTopic(testBridgeID), []byte("{not json"))

	if n := len(h.mqtt.GetPublished(CompletionTopic(testBridgeID))); n != 0 {
		t.Errorf("completions = %d, want 0", n)
	}
	if m := h.bridge.GetMetrics(); m.Malformed != 1 || m.Received != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestBridge_RejectedIRPCompletesCancelled(t *testing.T) {
	h := newBridgeHarness(t)
	h.dev.Free()

	h.send(5, irp.IoctlEstablishContext, scard.Call{})
	got := h.waitCompletions(1)[0]

	if got.CompletionID != 5 {
		t.Errorf("CompletionID = %d, want 5", got.CompletionID)
	}
	if irp.Status(got.IoStatus) != irp.StatusCancelled {
		t.Errorf("IoStatus = %s, want STATUS_CANCELLED", got.IoStatusName)
	}
	if len(got.Output) != 0 {
		t.Errorf("Output = %q, want empty", got.Output)
	}
	if m := h.bridge.GetMetrics(); m.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", m.Rejected)
	}
}

func TestBridge_AnnounceCancelsBlockedCalls(t *testing.T) {
	h := newBridgeHarness(t)

	h.send(1, irp.IoctlEstablishContext, scard.Call{Scope: 2})
	ctx := decodeResult(t, h.waitCompletions(1)[0]).Context

	infinite := scard.TimeoutInfinite
	h.send(2, irp.IoctlGetStatusChangeW, scard.Call{
		Context:      ctx,
		TimeoutMs:    &infinite,
		ReaderStates: []scard.ReaderState{{Reader: "Reader 0", CurrentState: scard.StateEmpty}},
	})

	deadline := time.Now().Add(time.Second)
	for h.emu.Waiting() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("status change never blocked")
		}
		time.Sleep(time.Millisecond)
	}

	announce, _ := json.Marshal(AnnounceMessage{ClientName: "peer", Timestamp: time.Now()})
	h.mqtt.SimulateMessage(AnnounceTopic(testBridgeID), announce)

	got := h.waitCompletions(2)[1]
	if got.CompletionID != 2 {
		t.Fatalf("CompletionID = %d, want 2", got.CompletionID)
	}
	if res := decodeResult(t, got); res.ReturnCode != scard.ErrCancelled {
		t.Errorf("ReturnCode = %v, want %v", res.ReturnCode, scard.ErrCancelled)
	}
	if m := h.bridge.GetMetrics(); m.Announces != 1 {
		t.Errorf("Announces = %d, want 1", m.Announces)
	}
}

func TestBridge_PublishFailureCounted(t *testing.T) {
	h := newBridgeHarness(t)
	h.mqtt.SetPublishError(errors.New("broker gone"))

	h.send(1, irp.IoctlAccessStartedEvent, nil)

	deadline := time.Now().Add(2 * time.Second)
	for h.bridge.GetMetrics().PublishFailed == 0 {
		if time.Now().After(deadline) {
			t.Fatal("publish failure not counted")
		}
		time.Sleep(time.Millisecond)
	}
	if m := h.bridge.GetMetrics(); m.Completed != 0 {
		t.Errorf("Completed = %d, want 0", m.Completed)
	}
}

func TestBridge_StopIdempotentAndDropsLateCompletions(t *testing.T) {
	h := newBridgeHarness(t)

	h.bridge.Stop()
	h.bridge.Stop()

	health := h.mqtt.GetPublished(HealthTopic(testBridgeID))
	var last HealthMessage
	if err := json.Unmarshal(health[len(health)-1].Payload, &last); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("last health = %q, want stopping", last.Status)
	}

	req := irp.New(9, irp.MajorDeviceControl, nil)
	h.bridge.complete(req)
	if n := len(h.mqtt.GetPublished(CompletionTopic(testBridgeID))); n != 0 {
		t.Errorf("completions after stop = %d, want 0", n)
	}
	if m := h.bridge.GetMetrics(); m.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", m.Dropped)
	}

	if err := h.bridge.Start(context.Background()); !errors.Is(err, ErrBridgeStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrBridgeStopped", err)
	}
}

// stubDevice is a Device that records calls without executing them.
type stubDevice struct {
	mu        sync.Mutex
	submitted []*irp.Request
	inits     int
	stats     smartcard.Stats
}

func (d *stubDevice) Submit(req *irp.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted = append(d.submitted, req)
	return nil
}

func (d *stubDevice) Init() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inits++
	return 0
}

func (d *stubDevice) Stats() smartcard.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
