package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/config"
	"github.com/kartoza/bridge-predict/internal/httputil"
	"github.com/kartoza/bridge-predict/internal/params"
	"github.com/kartoza/bridge-predict/internal/presets"
	"github.com/kartoza/bridge-predict/internal/session"
)

// maxJSONBody caps small JSON request bodies
const maxJSONBody = 64 << 10

// Handler provides HTTP API endpoints
type Handler struct {
	sessions    *session.Manager
	presetStore *presets.Store
	cfg         config.Config
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

// NewHandler creates a new API handler. presetStore may be nil, in which
// case the preset endpoints report that presets are unavailable.
func NewHandler(
	sessions *session.Manager,
	presetStore *presets.Store,
	cfg config.Config,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:    sessions,
		presetStore: presetStore,
		cfg:         cfg,
		logger:      logger.Named("api"),
		upgrader: websocket.Upgrader{
			// The UI is served from this origin or the desktop webview
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes sets up all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Health and info
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/info", h.handleInfo).Methods("GET")
	r.HandleFunc("/fields", h.handleListFields).Methods("GET")

	// Sessions
	r.HandleFunc("/sessions", h.handleCreateSession).Methods("POST")
	r.HandleFunc("/sessions/{id}", h.handleGetSession).Methods("GET")
	r.HandleFunc("/sessions/{id}", h.handleDeleteSession).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/parameters/{field}", h.handleSetParameter).Methods("PUT")
	r.HandleFunc("/sessions/{id}/parameters/{field}", h.handleClearParameter).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/image", h.handleSetImage).Methods("PUT")
	r.HandleFunc("/sessions/{id}/image", h.handleClearImage).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/predict", h.handlePredict).Methods("POST")
	r.HandleFunc("/sessions/{id}/result", h.handleGetResult).Methods("GET")
	r.HandleFunc("/sessions/{id}/events", h.handleEvents).Methods("GET")
	r.HandleFunc("/sessions/{id}/presets/{presetId}", h.handleApplyPreset).Methods("POST")

	// Presets
	r.HandleFunc("/presets", h.handleListPresets).Methods("GET")
	r.HandleFunc("/presets", h.handleCreatePreset).Methods("POST")
	r.HandleFunc("/presets/{id}", h.handleGetPreset).Methods("GET")
	r.HandleFunc("/presets/{id}", h.handleUpdatePreset).Methods("PUT")
	r.HandleFunc("/presets/{id}", h.handleDeletePreset).Methods("DELETE")
}

// handleHealth returns server health status
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInfo returns server information
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"version":        h.cfg.Version,
		"backend":        h.sessions.Service().Name(),
		"fields":         len(params.Fields()),
		"sessions":       h.sessions.Len(),
		"presets_loaded": h.presetStore != nil,
	}
	httputil.RespondJSON(w, http.StatusOK, info)
}

// handleListFields returns the parameter table
func (h *Handler) handleListFields(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, params.Fields())
}
