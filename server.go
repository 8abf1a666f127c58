// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/s3eon/b2edge/internal/config"
	"github.com/s3eon/b2edge/internal/metrics"
	"github.com/s3eon/b2edge/internal/router"
	"github.com/s3eon/b2edge/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

// newHandler wires the router and the probe endpoints from cfg.
func newHandler(cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (http.Handler, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("origin registry: %w", err)
	}

	resolver := cfg.Resolver()
	if err := resolver.Check(); err != nil {
		// an override parameter still routes, so keep serving
		log.Warn("edge location cannot be resolved from the environment", "error", err)
	}

	bt, err := cfg.BackendTransport()
	if err != nil {
		return nil, fmt.Errorf("backend transport: %w", err)
	}

	authenticator, err := cfg.Authenticator(log, m)
	if err != nil {
		return nil, fmt.Errorf("authenticator: %w", err)
	}

	opts := append(cfg.RouterOptions(),
		router.WithAuthenticator(authenticator),
		router.WithLogger(log),
		router.WithMetrics(m),
	)
	r, err := router.New(registry, resolver, bt, opts...)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	// Object keys may contain "//" or dot segments, so the router must see the
	// raw path. http.ServeMux would clean it and redirect.
	routed := m.Middleware(r)
	var metricsHandler http.Handler
	probes := []string{"/livez", "/readyz"}
	if cfg.Metrics.Enabled && m != nil {
		metricsHandler = m.Handler()
		probes = append(probes, cfg.Metrics.Path)
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet || req.Method == http.MethodHead {
			switch req.URL.Path {
			case "/livez":
				w.WriteHeader(http.StatusOK)
				return
			case "/readyz":
				if err := resolver.Check(); err != nil {
					http.Error(w, err.Error(), http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
				return
			case cfg.Metrics.Path:
				if metricsHandler != nil {
					metricsHandler.ServeHTTP(w, req)
					return
				}
			}
		}
		routed.ServeHTTP(w, req)
	})

	log.Info("router configured",
		"locations", registry.Locations(),
		"backends", cfg.BackendNames(),
		"signing", cfg.Signing.Enabled,
	)
	return tracing.Middleware(h, probes...), nil
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.TracingOptions(), log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	h, err := newHandler(cfg, log, m)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen.Value,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("Starting b2edge", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
