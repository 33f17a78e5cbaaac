// Command apiserver serves the KeyMed-Intelligence HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/KeyMed-Intelligence/internal/bootstrap"
	"github.com/turtacn/KeyMed-Intelligence/internal/config"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/KeyMed-Intelligence/internal/interfaces/http"
	"github.com/turtacn/KeyMed-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/KeyMed-Intelligence/internal/interfaces/http/middleware"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: KEYMED_* environment)")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	if err := run(*configPath, *httpPort); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, httpPort int) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if httpPort > 0 {
		cfg.Server.Port = httpPort
	}

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	logger.Info("starting KeyMed-Intelligence API server",
		logging.String("version", version),
		logging.String("commit", commit),
		logging.Int("port", cfg.Server.Port),
		logging.String("store_backend", cfg.Import.StoreBackend),
	)

	if configPath != "" {
		watchLogLevel(configPath, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Source: "keymed-apiserver"})
	if err != nil {
		return err
	}
	defer comps.Close()

	router := httpserver.NewRouter(httpserver.RouterConfig{
		ImportHandler:      handlers.NewImportHandler(comps.Imports, comps.Classifier, logger),
		PatternHandler:     handlers.NewPatternHandler(comps.Analysis, logger),
		HealthHandler:      handlers.NewHealthHandler(version, comps.HealthCheckers()...),
		CORSOrigins:        cfg.Server.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
		MaxBodySize:        cfg.Server.MaxBodySize,
		Logging:            middleware.DefaultLoggingConfig(),
		Logger:             logger,
		MetricsCollector:   comps.Collector,
		AppMetrics:         comps.Metrics,
	})
	srv := httpserver.NewServer(cfg.Server, router, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
		return err
	}
	logger.Info("API server stopped")
	return nil
}

// watchLogLevel applies log level edits without a restart.
func watchLogLevel(configPath string, logger logging.Logger) {
	setter, ok := logger.(logging.LevelSetter)
	if !ok {
		return
	}
	err := config.Watch(configPath, func(cfg *config.Config) {
		setter.SetLevel(cfg.Log.Level)
		logger.Info("log level reloaded", logging.String("level", cfg.Log.Level))
	}, func(err error) {
		logger.Warn("ignoring invalid configuration edit", logging.Err(err))
	})
	if err != nil {
		logger.Warn("configuration watch disabled", logging.Err(err))
	}
}

//Personal.AI order the ending
