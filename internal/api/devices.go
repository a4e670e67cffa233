package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Hawkyie/optechtracker/internal/device"
	"github.com/Hawkyie/optechtracker/internal/tracker"
)

// createDeviceRequest is the body for POST /devices.
type createDeviceRequest struct {
	Name string `json:"name"`
	Type string `json:"device_type"`
}

// updateDeviceRequest is the body for PATCH /devices/{id}.
// Absent fields are left unchanged.
type updateDeviceRequest struct {
	Name      *string `json:"name"`
	Type      *string `json:"device_type"`
	Notes     *string `json:"notes"`
	StreamRef *string `json:"stream_ref"`
}

// handleListDevices returns all tracked devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.tracker.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleCreateDevice adds an operator-created device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.tracker.Create(req.Name, req.Type)
	if err != nil {
		if errors.Is(err, device.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "name must be 1-100 characters")
			return
		}
		s.logger.Error("creating device failed", "error", err)
		writeInternalError(w, "creating device failed")
		return
	}

	s.broadcastDevice(d)
	writeJSON(w, http.StatusCreated, d)
}

// handleGetDevice returns one device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.tracker.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDevice applies operator edits to a device.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.tracker.Update(chi.URLParam(r, "id"), tracker.Update{
		Name:      req.Name,
		Type:      req.Type,
		Notes:     req.Notes,
		StreamRef: req.StreamRef,
	})
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, device.ErrInvalidName):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "name must be 1-100 characters")
		default:
			s.logger.Error("updating device failed", "error", err)
			writeInternalError(w, "updating device failed")
		}
		return
	}

	s.broadcastDevice(d)
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tracker.Delete(id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("deleting device failed", "error", err)
		writeInternalError(w, "deleting device failed")
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(ChannelDeviceDeleted, map[string]string{"id": id})
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleDeviceEvents returns archived events for a device, newest first.
// Falls back to the device's in-memory event log when the archive is
// disabled.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.tracker.Get(id)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}

	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"device_id": id,
			"events":    d.EventLog,
			"source":    "memory",
		})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
	}

	entries, err := s.history.ListByDevice(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("listing archived events failed", "device", id, "error", err)
		writeInternalError(w, "listing events failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"events":    entries,
		"source":    "archive",
	})
}

// broadcastDevice pushes a device snapshot to websocket subscribers.
func (s *Server) broadcastDevice(d *device.Device) {
	if s.hub != nil {
		s.hub.Broadcast(ChannelDeviceUpdated, d)
	}
}
