// Copyright (c) 2026 John Earle
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

// legalmail API server
//
// Entry point for the HTTP service. It:
//  1. Loads configuration from the environment and optional config.yaml
//  2. Connects to Redis and PostgreSQL when configured
//  3. Wires the template resolver, mail transport and case synchronizer
//  4. Serves the build, send, audit, health and metrics endpoints
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bcem/legalmail/internal/api"
	"github.com/bcem/legalmail/internal/app"
	"github.com/bcem/legalmail/internal/config"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("starting legalmail API server",
		"env", cfg.Env,
		"transport", cfg.MailTransport,
		"log_dir", cfg.LogDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Wire services ---
	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialise services", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.Config{
		Mailer:     svc.Pipeline,
		Dedup:      svc.Dedup,
		Events:     svc.Events,
		Usage:      svc.Usage,
		Metrics:    svc.Metrics,
		Production: cfg.Production(),
		Logger:     logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
	}

	// --- Graceful Shutdown ---
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		// In-flight sends finish their post-send tasks before the
		// backends close.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("legalmail API listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		svc.Close()
		os.Exit(1)
	}

	<-stopped
	svc.Close()
	slog.Info("legalmail API stopped")
}
