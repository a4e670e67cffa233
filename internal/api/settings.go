package api

import (
	"encoding/json"
	"net/http"

	"github.com/Hawkyie/optechtracker/internal/infrastructure/config"
)

// settingsResponse is the body for GET /settings. The token is redacted
// to presence only.
type settingsResponse struct {
	URL       string `json:"url"`
	TokenSet  bool   `json:"token_set"`
	MediaBase string `json:"media_base,omitempty"`
}

// settingsRequest is the body for PUT /settings. Absent fields are left
// unchanged; an explicit empty string clears the value.
type settingsRequest struct {
	URL       *string `json:"url"`
	Token     *string `json:"token"`
	MediaBase *string `json:"media_base"`
}

// handleGetSettings returns the current telemetry source settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if s.telemetry == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "telemetry is not configured")
		return
	}

	cur := s.telemetry.Settings()
	writeJSON(w, http.StatusOK, settingsResponse{
		URL:       cur.URL,
		TokenSet:  cur.Token != "",
		MediaBase: cur.MediaBase,
	})
}

// handlePutSettings updates the telemetry source settings.
//
// The new settings take effect on the next sync cycle. When a config
// saver is wired, the change is also written back to the config file so
// it survives a restart; a failed write keeps the runtime change and
// reports it in the response.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "telemetry is not configured")
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	next := s.telemetry.Settings()
	if req.URL != nil {
		next.URL = *req.URL
	}
	if req.Token != nil {
		next.Token = *req.Token
	}
	if req.MediaBase != nil {
		next.MediaBase = *req.MediaBase
	}

	s.telemetry.UpdateSettings(next)
	s.logger.Info("telemetry settings updated", "url", next.URL)

	persisted := false
	if s.saver != nil {
		err := s.saver.SaveTelemetry(config.TelemetryConfig{
			URL:       next.URL,
			Token:     next.Token,
			MediaBase: next.MediaBase,
		})
		if err != nil {
			s.logger.Warn("persisting settings failed", "error", err)
		} else {
			persisted = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"url":        next.URL,
		"token_set":  next.Token != "",
		"media_base": next.MediaBase,
		"persisted":  persisted,
	})
}
