package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Hawkyie/optechtracker/internal/poller"
	"github.com/Hawkyie/optechtracker/internal/telemetry"
)

// importRequest is the body for POST /import.
type importRequest struct {
	Paths []string `json:"paths"`
}

// handleRefresh runs one sync cycle immediately.
//
// Unlike the periodic loop, failures surface to the caller: the operator
// pressed the button and deserves to know why nothing happened. An
// overlapping cycle returns 409 and is not queued.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "sync is not configured")
		return
	}

	stats, err := s.poller.RunCycle(r.Context())
	if err != nil {
		if errors.Is(err, poller.ErrCycleInProgress) {
			writeConflict(w, "a sync cycle is already running")
			return
		}
		s.logger.Warn("manual refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, "fetch_failed", err.Error())
		return
	}

	s.broadcastCycle(stats)
	writeJSON(w, http.StatusOK, stats)
}

// handleImport reconciles payloads from local JSON files.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Paths) == 0 {
		writeBadRequest(w, "paths must not be empty")
		return
	}

	summary, err := s.tracker.ImportFiles(r.Context(), telemetry.ReadPayloadFile, req.Paths)
	if err != nil {
		s.logger.Error("import failed", "error", err)
		writeInternalError(w, "import failed")
		return
	}

	if s.hub != nil && summary.Created+summary.Updated > 0 {
		s.hub.Broadcast(ChannelSyncCycle, summary)
	}
	writeJSON(w, http.StatusOK, summary)
}

// broadcastCycle pushes cycle stats and alerts to websocket subscribers.
func (s *Server) broadcastCycle(stats poller.CycleStats) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(ChannelSyncCycle, stats)
	for _, a := range stats.Alerts {
		s.hub.Broadcast(ChannelAlert, a)
	}
}
