package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/scardbridge/internal/bridges/rdpdr"
	"github.com/nerrad567/scardbridge/internal/journal"
	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// SystemMetrics represents the complete metrics response.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	WebSocket     WSMetrics            `json:"websocket"`
	MQTT          MQTTMetrics          `json:"mqtt"`
	Device        smartcard.Stats      `json:"device"`
	Bridge        *rdpdr.BridgeMetrics `json:"bridge,omitempty"`
	Journal       *journal.Stats       `json:"journal,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

// handleMetrics returns device, transport and runtime metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Device: s.device.Stats(),
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
		metrics.WebSocket.DroppedEvents = s.hub.Dropped()
	}
	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Configured: true, Connected: s.mqtt.IsConnected()}
	}
	if s.bridge != nil {
		m := s.bridge.GetMetrics()
		metrics.Bridge = &m
	}
	if s.journal != nil {
		st := s.journal.Stats()
		metrics.Journal = &st
	}

	writeJSON(w, http.StatusOK, metrics)
}
