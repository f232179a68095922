package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
	webview "github.com/webview/webview_go"
	"go.uber.org/zap"

	"github.com/kartoza/bridge-predict/internal/config"
	"github.com/kartoza/bridge-predict/internal/logging"
	"github.com/kartoza/bridge-predict/internal/predict"
	"github.com/kartoza/bridge-predict/internal/server"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "bridge-predict",
		Usage:   "Spaghetti bridge failure load prediction",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"BRIDGE_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Prediction backend (http, simulated)",
			},
			&cli.StringFlag{
				Name:  "prediction-url",
				Usage: "Endpoint of the prediction service",
			},
			&cli.DurationFlag{
				Name:  "request-timeout",
				Usage: "Give up on the prediction service after this long (0 waits forever)",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory for presets and other local data",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			predictCommand(),
			fieldsCommand(),
			versionCommand(),
		},
		// Running without a command starts the server
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"port":            "port",
	"data-dir":        "data_dir",
	"headless":        "headless",
	"log-level":       "log_level",
	"backend":         "backend",
	"prediction-url":  "prediction_url",
	"request-timeout": "request_timeout",
}

// loadConfig resolves configuration as flag > env > saved settings > default
func loadConfig(c *cli.Context) (config.Config, *zap.Logger, error) {
	v := config.New()
	bindFlags(c, v)

	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load settings: %v\n", err)
		settings = nil
	}

	cfg, err := config.Load(v, settings)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg.Version = version

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	zap.ReplaceGlobals(logger)

	return cfg, logger, nil
}

func bindFlags(c *cli.Context, v *viper.Viper) {
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			v.Set(key, c.Value(flag))
		}
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the server and open the application window",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Value: 8080,
				Usage: "HTTP server port",
			},
			&cli.BoolFlag{
				Name:  "headless",
				Usage: "Run in headless mode (no GUI window)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Find an available port (try up to 10 ports starting from the requested one)
	availablePort, err := findAvailablePort(cfg.Port, 10)
	if err != nil {
		return fmt.Errorf("failed to find available port: %w", err)
	}
	if availablePort != cfg.Port {
		logger.Info("port in use, using another", zap.Int("requested", cfg.Port), zap.Int("port", availablePort))
	}
	cfg.Port = availablePort

	logger.Info("Bridge Predict starting",
		zap.String("version", version),
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.String("backend", cfg.Prediction.Backend))

	svc, err := predict.New(cfg.Prediction, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, svc, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for server to be ready
	serverURL := fmt.Sprintf("http://localhost:%d", cfg.Port)
	waitForServer(serverURL, 10*time.Second, logger)

	if cfg.Headless {
		// Headless mode: wait for signal or error
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-stop:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		}
		return srv.Stop()
	}

	// GUI mode: open embedded WebView window
	logger.Info("opening application window")
	w := webview.New(false)
	defer w.Destroy()

	w.SetTitle("Bridge Predict")
	w.SetSize(1280, 800, webview.HintNone)
	w.Navigate(serverURL)

	// When the webview window closes, shut down the server
	go func() {
		select {
		case err := <-errCh:
			if err != nil {
				logger.Error("server error", zap.Error(err))
			}
		case sig := <-stop:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		}
		w.Terminate()
	}()

	// Run blocks until the window is closed
	w.Run()

	logger.Info("window closed, shutting down server")
	return srv.Stop()
}

// waitForServer polls until the server is accepting connections
func waitForServer(url string, timeout time.Duration, logger *zap.Logger) {
	addr := url[len("http://"):]
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	logger.Warn("server may not be ready", zap.String("url", url))
}

// findAvailablePort finds an available port, starting from the given port.
// If the port is in use, it tries subsequent ports up to maxAttempts times.
func findAvailablePort(startPort int, maxAttempts int) (int, error) {
	for i := 0; i < maxAttempts; i++ {
		port := startPort + i
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			listener.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port found after %d attempts starting from %d", maxAttempts, startPort)
}
