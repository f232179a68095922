package predict

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/config"
)

// BackendConstructor builds a Service from the prediction configuration
type BackendConstructor func(cfg config.PredictionConfig, logger *zap.Logger) (Service, error)

var (
	mu       sync.RWMutex
	registry = map[string]BackendConstructor{}
)

func init() {
	RegisterBackend(config.BackendHTTP, func(cfg config.PredictionConfig, logger *zap.Logger) (Service, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("http backend requires a prediction URL")
		}
		return NewHTTPService(cfg.URL, cfg.Timeout, nil, logger), nil
	})
	RegisterBackend(config.BackendSimulated, func(cfg config.PredictionConfig, logger *zap.Logger) (Service, error) {
		return NewSimulatedService(SimulatedConfig{
			MinDelay:     cfg.MinDelay,
			MaxDelay:     cfg.MaxDelay,
			Seed:         cfg.Seed,
			DetectAngles: cfg.DetectAngles,
		}, logger), nil
	})
}

// RegisterBackend registers a named backend constructor. Registering the
// same name again overwrites the previous constructor.
func RegisterBackend(name string, ctor BackendConstructor) {
	if name == "" || ctor == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(name)] = ctor
}

// New constructs the configured backend
func New(cfg config.PredictionConfig, logger *zap.Logger) (Service, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = config.DefaultBackend
	}

	mu.RLock()
	ctor, ok := registry[backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("prediction backend %q not registered: available backends=%v", backend, ListBackends())
	}

	svc, err := ctor(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to construct prediction backend %q: %w", backend, err)
	}
	return svc, nil
}

// ListBackends returns the registered backend names, sorted
func ListBackends() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
