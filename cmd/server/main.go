// Copyright 2026 The CZ7 Host Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cz7host/cz7host/internal/app"
	"github.com/cz7host/cz7host/internal/config"
	"github.com/cz7host/cz7host/internal/observability/logger"
	"github.com/cz7host/cz7host/internal/observability/metrics"
	"github.com/cz7host/cz7host/internal/observability/tracing"
	"github.com/cz7host/cz7host/internal/store/postgres"
	transportHTTP "github.com/cz7host/cz7host/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting cz7host orchestrator")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	} else {
		defer tracer.Shutdown(ctx)
	}

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		meter = metrics.Noop()
	}
	defer meter.Shutdown(ctx)

	// Database, backends and orchestrator
	a, err := app.New(ctx, cfg, meter)
	if err != nil {
		slog.Error("failed to initialize orchestrator", logger.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("failed to release backends", logger.Error(err))
		}
	}()
	slog.Info("orchestrator ready",
		slog.Any("kinds", a.Orchestrator.SupportedKinds()),
	)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Close()

	verifier := transportHTTP.NewTokenVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
	handler := transportHTTP.NewHandler(a.Orchestrator, a.Quota)
	router := transportHTTP.NewRouter(handler, rateLimiter, verifier, transportHTTP.RouterConfig{
		RequestTimeout: cfg.RequestTimeout(),
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		slog.Error("server error", logger.Error(err))
	}

	slog.Info("shutting down server")

	// Graceful shutdown. In-flight provisioning finishes or rolls back
	// before the backends are closed.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := app.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
