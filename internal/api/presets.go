package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/httputil"
	"github.com/kartoza/bridge-predict/internal/params"
	"github.com/kartoza/bridge-predict/internal/presets"
)

type presetRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	SessionID   string     `json:"sessionId,omitempty"`
	Values      params.Set `json:"values,omitempty"`
}

// presetsAvailable writes a 503 when no preset store is configured
func (h *Handler) presetsAvailable(w http.ResponseWriter) bool {
	if h.presetStore == nil {
		httputil.RespondError(w, http.StatusServiceUnavailable, "presets not available")
		return false
	}
	return true
}

func (h *Handler) respondPresetError(w http.ResponseWriter, err error) {
	if errors.Is(err, presets.ErrPresetNotFound) {
		httputil.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error("preset store error", zap.Error(err))
	httputil.RespondError(w, http.StatusInternalServerError, err.Error())
}

// handleListPresets returns all saved presets
func (h *Handler) handleListPresets(w http.ResponseWriter, r *http.Request) {
	if h.presetStore == nil {
		httputil.RespondJSON(w, http.StatusOK, []*presets.Preset{})
		return
	}
	list, err := h.presetStore.List()
	if err != nil {
		h.respondPresetError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, list)
}

// handleCreatePreset saves the parameters of a session (or explicit values)
// under a name
func (h *Handler) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	if !h.presetsAvailable(w) {
		return
	}

	var req presetRequest
	if err := httputil.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	values := req.Values
	if req.SessionID != "" {
		s, err := h.sessions.Get(req.SessionID)
		if err != nil {
			httputil.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		values = s.Store.Snapshot().Params
	}
	if len(values) == 0 {
		httputil.RespondError(w, http.StatusBadRequest, "sessionId or values is required")
		return
	}

	preset, err := h.presetStore.Create(&presets.Preset{
		Name:        req.Name,
		Description: req.Description,
		Values:      values,
	})
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("preset saved", zap.String("preset", preset.ID), zap.String("name", preset.Name))
	httputil.RespondJSON(w, http.StatusCreated, preset)
}

// handleGetPreset returns a single preset
func (h *Handler) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	if !h.presetsAvailable(w) {
		return
	}
	preset, err := h.presetStore.Get(mux.Vars(r)["id"])
	if err != nil {
		h.respondPresetError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, preset)
}

// handleUpdatePreset renames a preset or replaces its values
func (h *Handler) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	if !h.presetsAvailable(w) {
		return
	}

	var req presetRequest
	if err := httputil.DecodeJSON(w, r, maxJSONBody, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updates := &presets.Preset{Name: req.Name, Description: req.Description, Values: req.Values}
	if req.SessionID != "" {
		s, err := h.sessions.Get(req.SessionID)
		if err != nil {
			httputil.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		updates.Values = s.Store.Snapshot().Params
	}

	preset, err := h.presetStore.Update(mux.Vars(r)["id"], updates)
	if err != nil {
		h.respondPresetError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, preset)
}

// handleDeletePreset removes a preset
func (h *Handler) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if !h.presetsAvailable(w) {
		return
	}
	if err := h.presetStore.Delete(mux.Vars(r)["id"]); err != nil {
		h.respondPresetError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyPreset loads a preset into a session. The image is untouched.
func (h *Handler) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	if !h.presetsAvailable(w) {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	preset, err := h.presetStore.Get(mux.Vars(r)["presetId"])
	if err != nil {
		h.respondPresetError(w, err)
		return
	}

	s.Store.Load(preset.Values)
	h.logger.Debug("preset applied", zap.String("session", s.ID), zap.String("preset", preset.ID))
	httputil.RespondJSON(w, http.StatusOK, newSessionView(s))
}
