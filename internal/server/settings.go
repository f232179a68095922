package server

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/config"
	"github.com/kartoza/bridge-predict/internal/httputil"
	"github.com/kartoza/bridge-predict/internal/predict"
)

// settingsResponse reports the saved settings alongside what is in effect
type settingsResponse struct {
	Saved             *config.Settings `json:"saved"`
	ActiveBackend     string           `json:"activeBackend"`
	PredictionURL     string           `json:"predictionUrl"`
	AvailableBackends []string         `json:"availableBackends"`
}

func (s *Server) settingsView(saved *config.Settings) settingsResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return settingsResponse{
		Saved:             saved,
		ActiveBackend:     s.sessions.Service().Name(),
		PredictionURL:     s.cfg.Prediction.URL,
		AvailableBackends: predict.ListBackends(),
	}
}

// handleGetSettings returns the current prediction settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	saved := &config.Settings{}
	if s.settingsPath != "" {
		loaded, err := config.LoadSettingsFrom(s.settingsPath)
		if err != nil {
			httputil.RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		saved = loaded
	}
	httputil.RespondJSON(w, http.StatusOK, s.settingsView(saved))
}

// handleUpdateSettings persists a new prediction endpoint or backend and
// switches new sessions over to it
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req config.Settings
	if err := httputil.DecodeJSON(w, r, 16<<10, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Backend = strings.ToLower(strings.TrimSpace(req.Backend))
	req.PredictionURL = strings.TrimSpace(req.PredictionURL)

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	s.mu.Lock()
	next := s.cfg.Prediction
	s.mu.Unlock()
	if req.Backend != "" {
		next.Backend = req.Backend
	}
	if req.PredictionURL != "" {
		next.URL = req.PredictionURL
	}

	// Build the backend first so a bad setting is never saved
	svc, err := predict.New(next, s.logger)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Fields left empty in the request keep their saved values
	saved := &config.Settings{}
	if s.settingsPath != "" {
		loaded, err := config.LoadSettingsFrom(s.settingsPath)
		if err != nil {
			httputil.RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		saved = loaded
	}
	if req.Backend != "" {
		saved.Backend = req.Backend
	}
	if req.PredictionURL != "" {
		saved.PredictionURL = req.PredictionURL
	}

	if s.settingsPath != "" {
		if err := config.SaveSettingsTo(s.settingsPath, saved); err != nil {
			httputil.RespondError(w, http.StatusInternalServerError, "could not save settings: "+err.Error())
			return
		}
	}

	s.mu.Lock()
	s.cfg.Prediction = next
	s.mu.Unlock()
	s.sessions.SetService(svc)

	s.logger.Info("prediction settings updated",
		zap.String("backend", next.Backend),
		zap.String("url", next.URL))
	httputil.RespondJSON(w, http.StatusOK, s.settingsView(saved))
}
