package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/api"
	"github.com/kartoza/bridge-predict/internal/config"
	"github.com/kartoza/bridge-predict/internal/predict"
	"github.com/kartoza/bridge-predict/internal/presets"
	"github.com/kartoza/bridge-predict/internal/session"
)

//go:embed static/*
var staticFS embed.FS

// Server holds all the components for the web application
type Server struct {
	cfg          config.Config
	httpServer   *http.Server
	router       *mux.Router
	sessions     *session.Manager
	presetStore  *presets.Store
	logger       *zap.Logger
	settingsPath string

	// mu guards cfg.Prediction, which the settings endpoint rewrites, and
	// the sweeper lifecycle flags
	mu       sync.Mutex
	sweeping bool
	stopped  bool

	// settingsMu serialises load-merge-save of the settings file
	settingsMu sync.Mutex

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// Option customises a Server
type Option func(*Server)

// WithSettingsPath stores settings at path instead of the user config dir
func WithSettingsPath(path string) Option {
	return func(s *Server) { s.settingsPath = path }
}

// New creates a new Server with all components initialized
func New(cfg config.Config, svc predict.Service, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		sessions: session.NewManager(svc, cfg.Prediction.Timeout, cfg.SessionTTL, logger.Named("session")),
		logger:   logger.Named("server"),

		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams and ?wait=true predictions are long-lived
		IdleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.settingsPath == "" {
		path, err := config.SettingsPath()
		if err != nil {
			s.logger.Warn("settings will not be persisted", zap.Error(err))
		}
		s.settingsPath = path
	}

	// Presets are optional; the API reports them as unavailable
	presetStore, err := presets.NewStore(cfg.DataDir)
	if err != nil {
		s.logger.Warn("presets store not available", zap.Error(err))
	} else {
		s.presetStore = presetStore
	}

	s.setupRoutes()

	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session manager
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Settings management routes
	s.router.HandleFunc("/api/settings", s.handleGetSettings).Methods("GET")
	s.router.HandleFunc("/api/settings", s.handleUpdateSettings).Methods("PUT")

	// API routes
	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiHandler := api.NewHandler(s.sessions, s.presetStore, s.cfg, s.logger)
	apiHandler.RegisterRoutes(apiRouter)

	// Static frontend files (embedded)
	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		s.logger.Warn("could not load embedded static files", zap.Error(err))
		return
	}

	// SPA fallback: serve index.html for any non-API route
	fileServer := http.FileServer(http.FS(staticContent))
	s.router.PathPrefix("/").Handler(spaHandler{staticContent: staticContent, fileServer: fileServer})
}

// Start begins listening for HTTP connections. It returns nil once Stop has
// been called.
func (s *Server) Start() error {
	s.startSweeper()

	s.logger.Info("server listening", zap.String("url", fmt.Sprintf("http://localhost:%d", s.cfg.Port)))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startSweeper expires idle sessions in the background
func (s *Server) startSweeper() {
	s.mu.Lock()
	ttl := s.cfg.SessionTTL
	if ttl <= 0 || s.sweeping || s.stopped {
		s.mu.Unlock()
		return
	}
	s.sweeping = true
	s.mu.Unlock()

	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.sessions.Sweep(now)
			case <-s.stopSweep:
				return
			}
		}
	}()
}

// Stop gracefully shuts down the server. It is safe to call from another
// goroutine while Start is running, and more than once.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	alreadyStopped := s.stopped
	s.stopped = true
	sweeping := s.sweeping
	s.mu.Unlock()
	if alreadyStopped {
		return nil
	}

	close(s.stopSweep)
	if sweeping {
		<-s.sweepDone
	}

	err := s.httpServer.Shutdown(ctx)

	// Close stores
	s.sessions.Close()
	if s.presetStore != nil {
		s.presetStore.Close()
	}

	return err
}

// spaHandler serves the SPA, falling back to index.html for client-side routing
type spaHandler struct {
	staticContent fs.FS
	fileServer    http.Handler
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "index.html"
	}

	// fs.FS paths must not have a leading slash
	cleanPath := strings.TrimPrefix(path, "/")

	if _, err := fs.Stat(h.staticContent, cleanPath); err != nil {
		// Unknown API paths are real 404s, not pages
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		r.URL.Path = "/"
	}

	h.fileServer.ServeHTTP(w, r)
}
