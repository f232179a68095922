package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names for the prediction service
const (
	BackendHTTP      = "http"
	BackendSimulated = "simulated"
)

const (
	DefaultBackend       = BackendSimulated
	DefaultPredictionURL = "http://localhost:5000/predict"
)

// Config holds the application configuration
type Config struct {
	Port           int
	DataDir        string
	Version        string
	Headless       bool
	LogLevel       string
	MaxUploadBytes int64
	SessionTTL     time.Duration
	Prediction     PredictionConfig
}

// PredictionConfig selects and tunes the prediction backend
type PredictionConfig struct {
	Backend string
	URL     string
	// Timeout of 0 means the client waits for the service indefinitely
	Timeout      time.Duration
	MinDelay     time.Duration
	MaxDelay     time.Duration
	Seed         int64
	DetectAngles bool
}

// setDefaults registers every key with its default value
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")
	v.SetDefault("headless", false)
	v.SetDefault("max_upload_bytes", 10*1024*1024) // 10MB
	v.SetDefault("session_ttl", 2*time.Hour)
	v.SetDefault("request_timeout", time.Duration(0))
	v.SetDefault("sim_min_delay", 4*time.Second)
	v.SetDefault("sim_max_delay", 8*time.Second)
	v.SetDefault("sim_seed", 0)
	v.SetDefault("sim_detect_angles", false)
}

// New returns a viper instance with defaults and BRIDGE_* environment
// variables bound. Callers may layer flags on top before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds a Config from v, falling back to saved settings for the
// prediction endpoint when neither a flag nor the environment set one.
func Load(v *viper.Viper, settings *Settings) (Config, error) {
	cfg := Config{
		Port:           v.GetInt("port"),
		DataDir:        v.GetString("data_dir"),
		Headless:       v.GetBool("headless"),
		LogLevel:       v.GetString("log_level"),
		MaxUploadBytes: v.GetInt64("max_upload_bytes"),
		SessionTTL:     v.GetDuration("session_ttl"),
		Prediction: PredictionConfig{
			Backend:      strings.ToLower(strings.TrimSpace(v.GetString("backend"))),
			URL:          v.GetString("prediction_url"),
			Timeout:      v.GetDuration("request_timeout"),
			MinDelay:     v.GetDuration("sim_min_delay"),
			MaxDelay:     v.GetDuration("sim_max_delay"),
			Seed:         v.GetInt64("sim_seed"),
			DetectAngles: v.GetBool("sim_detect_angles"),
		},
	}

	// Flags and environment win, then saved settings, then defaults
	if settings != nil {
		if cfg.Prediction.URL == "" {
			cfg.Prediction.URL = settings.PredictionURL
		}
		if cfg.Prediction.Backend == "" {
			cfg.Prediction.Backend = settings.Backend
		}
	}
	if cfg.Prediction.URL == "" {
		cfg.Prediction.URL = DefaultPredictionURL
	}
	if cfg.Prediction.Backend == "" {
		cfg.Prediction.Backend = DefaultBackend
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return Config{}, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	return cfg, nil
}

// Validate checks the values that cannot be repaired with a default
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Prediction.Backend {
	case BackendHTTP:
		if c.Prediction.URL == "" {
			return fmt.Errorf("prediction_url is required for the %s backend", BackendHTTP)
		}
	case BackendSimulated:
		if c.Prediction.MinDelay < 0 || c.Prediction.MaxDelay < c.Prediction.MinDelay {
			return fmt.Errorf("invalid simulated delay range %s..%s", c.Prediction.MinDelay, c.Prediction.MaxDelay)
		}
	default:
		return fmt.Errorf("unknown prediction backend %q", c.Prediction.Backend)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	return nil
}
