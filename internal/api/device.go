package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/nerrad567/scardbridge/internal/smartcard"
)

// IRPView is an outstanding request as reported by GET /irps.
type IRPView struct {
	smartcard.OutstandingRequest
	AgeMs int64 `json:"age_ms"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.device.Stats()
	status := "ok"
	code := http.StatusOK
	if st.Closed {
		status = "device_closed"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"device":  st.Name,
		"version": s.version,
	})
}

// handleListIRPs lists outstanding requests in acceptance order.
func (s *Server) handleListIRPs(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	outstanding := s.device.Outstanding()
	views := make([]IRPView, 0, len(outstanding))
	for _, o := range outstanding {
		views = append(views, IRPView{
			OutstandingRequest: o,
			AgeMs:              now.Sub(o.AcceptedAt).Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"irps":  views,
		"count": len(views),
	})
}

// handleListContexts lists active context handles, ascending.
func (s *Server) handleListContexts(w http.ResponseWriter, _ *http.Request) {
	keys := s.device.Contexts().Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	handles := make([]string, 0, len(keys))
	for _, k := range keys {
		handles = append(handles, "0x"+strconv.FormatUint(uint64(k), 16))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contexts": handles,
		"count":    len(handles),
	})
}

// handleCancel runs the device reset sweep.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.device.Init()
	s.logger.Info("device cancel requested via API",
		"cancelled_contexts", cancelled,
		"request_id", requestIDFrom(r.Context()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": cancelled,
	})
}

// handleJournal lists recent completions. ?limit=N, default 50, max 500.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "journal is not enabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading journal", "error", err)
		writeInternalError(w, "failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
