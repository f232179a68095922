package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/controller"
	"github.com/kartoza/bridge-predict/internal/events"
	"github.com/kartoza/bridge-predict/internal/predict"
	"github.com/kartoza/bridge-predict/internal/store"
)

// ErrSessionNotFound is returned for unknown or expired session ids
var ErrSessionNotFound = errors.New("session not found")

// Session is one user's form: its parameters, image and request state
type Session struct {
	ID         string
	CreatedAt  time.Time
	Bus        *events.Bus
	Store      *store.Store
	Controller *controller.Controller

	mu       sync.Mutex
	lastSeen time.Time
}

// LastSeen returns when the session was last accessed
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) close() {
	s.Controller.Close()
	s.Bus.Close()
}

// Manager owns every live session
type Manager struct {
	service predict.Service
	timeout time.Duration
	ttl     time.Duration
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewManager creates a manager whose sessions submit to svc. Sessions idle
// for longer than ttl are removed by Sweep; a zero ttl keeps them forever.
func NewManager(svc predict.Service, requestTimeout, ttl time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		service:  svc,
		timeout:  requestTimeout,
		ttl:      ttl,
		logger:   logger,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Service returns the prediction backend new sessions submit to
func (m *Manager) Service() predict.Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.service
}

// SetService switches the backend for sessions created from now on.
// Existing sessions keep the backend they were created with.
func (m *Manager) SetService(svc predict.Service) {
	m.mu.Lock()
	m.service = svc
	m.mu.Unlock()
	m.logger.Info("prediction backend switched", zap.String("backend", svc.Name()))
}

// Create starts a new session seeded with the default parameters
func (m *Manager) Create() *Session {
	id := uuid.New().String()
	l := m.logger.With(zap.String("session", id))

	bus := events.NewBus()
	st := store.New(bus, l)
	now := m.now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		Bus:       bus,
		Store:     st,
		lastSeen:  now,
	}

	m.mu.Lock()
	s.Controller = controller.New(st, m.service, bus, m.timeout, l)
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Debug("session created", zap.String("session", id))
	return s
}

// Get returns a session and marks it as seen
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Delete closes and removes a session
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.close()
	m.logger.Debug("session deleted", zap.String("session", id))
	return nil
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle since before now minus the ttl and returns
// how many were removed
func (m *Manager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-m.ttl)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
	if len(expired) > 0 {
		m.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Close closes every session
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}
