package predict

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// weakPoints are the member names a simulated result may report
var weakPoints = []string{
	"mid-span bottom chord",
	"left support joint",
	"right support joint",
	"top chord compression member",
	"diagonal web member",
}

// SimulatedConfig tunes the simulated backend
type SimulatedConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// Seed of 0 seeds from the clock
	Seed int64
	// DetectAngles makes results carry inclination and declination
	DetectAngles bool
	// Wait blocks for d or until ctx ends; nil uses a timer
	Wait func(ctx context.Context, d time.Duration) error
}

// SimulatedService stands in for the external model: it waits a random
// delay and synthesises a plausible result without any network I/O.
type SimulatedService struct {
	cfg    SimulatedConfig
	mu     sync.Mutex
	rng    *rand.Rand
	logger *zap.Logger
}

// NewSimulatedService creates a simulated backend
func NewSimulatedService(cfg SimulatedConfig, logger *zap.Logger) *SimulatedService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.Wait == nil {
		cfg.Wait = sleep
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	l := logger.Named("predict").With(zap.String("backend", "simulated"))
	l.Info("created simulated prediction backend",
		zap.Duration("min_delay", cfg.MinDelay),
		zap.Duration("max_delay", cfg.MaxDelay),
		zap.Bool("detect_angles", cfg.DetectAngles))

	return &SimulatedService{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		logger: l,
	}
}

// Name implements Service
func (s *SimulatedService) Name() string { return "simulated" }

// Predict implements Service
func (s *SimulatedService) Predict(ctx context.Context, req *Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// Draw everything up front so a seed fully determines the result
	s.mu.Lock()
	delay := s.cfg.MinDelay
	if span := s.cfg.MaxDelay - s.cfg.MinDelay; span > 0 {
		delay += time.Duration(s.rng.Int63n(int64(span) + 1))
	}
	load := float64(100 + s.rng.Intn(501)) // 100-600 g
	confidence := round(0.80+s.rng.Float64()*0.18, 2)
	weak := weakPoints[s.rng.Intn(len(weakPoints))]
	incl := round(s.rng.Float64()*90, 1)
	decl := round(s.rng.Float64()*90, 1)
	s.mu.Unlock()

	s.logger.Debug("simulating prediction", zap.Duration("delay", delay))
	if err := s.cfg.Wait(ctx, delay); err != nil {
		return nil, &TransportError{Op: "send", Err: err}
	}

	res := &Result{
		FailureLoad:  load,
		Unit:         Grams,
		Confidence:   &confidence,
		WeakestPoint: &weak,
		Backend:      s.Name(),
		ReceivedAt:   time.Now().UTC(),
	}
	if s.cfg.DetectAngles {
		res.Inclination = &incl
		res.Declination = &decl
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
