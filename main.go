package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/s3eon/b2edge/internal/config"
)

var (
	configFile   string
	listen       string
	logLevel     string
	validateOnly bool
)

func init() {
	flag.StringVar(&configFile, "config", getEnvOrDefault("B2EDGE_CONFIG", "b2edge.yaml"), "Path to the YAML configuration")
	flag.StringVar(&listen, "listen", getEnvOrDefault("B2EDGE_LISTEN", ""), "Address to listen on, overrides the configuration")
	flag.StringVar(&logLevel, "log-level", getEnvOrDefault("B2EDGE_LOG_LEVEL", ""), "Log level (debug, info, warn, error), overrides the configuration")
	flag.BoolVar(&validateOnly, "validate", false, "Validate the configuration and exit")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Default().Error("Failed to load configuration", "path", configFile, "error", err)
		os.Exit(1)
	}
	if listen != "" {
		cfg.Listen.Value = listen
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			slog.Default().Error("Invalid log level", "error", err)
			os.Exit(1)
		}
	}

	log := setupLogging(os.Stderr, cfg.Log.Format, cfg.LogLevel())
	if validateOnly {
		log.Info("Configuration is valid", "path", configFile)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Failed to run", "error", err)
		os.Exit(1)
	}
}
