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

// Package app wires configuration into the running services shared by
// the HTTP server and the batch CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/legalmail/internal/api"
	"github.com/bcem/legalmail/internal/audit"
	"github.com/bcem/legalmail/internal/config"
	"github.com/bcem/legalmail/internal/dedup"
	"github.com/bcem/legalmail/internal/deliverylog"
	"github.com/bcem/legalmail/internal/graph"
	"github.com/bcem/legalmail/internal/metrics"
	"github.com/bcem/legalmail/internal/neos"
	"github.com/bcem/legalmail/internal/pipeline"
	"github.com/bcem/legalmail/internal/quota"
	"github.com/bcem/legalmail/internal/smtpmail"
	"github.com/bcem/legalmail/internal/template"
)

// App holds the wired services.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Registry
	Dedup    dedup.Claimer
	// Events and Usage are nil unless a database is configured.
	Events api.EventLister
	Usage  api.UsageReader
	// Neos is nil when case synchronization is disabled.
	Neos *neos.Client

	rdb    *redis.Client
	pgPool *pgxpool.Pool
}

// NewLogger creates the JSON logger used by both binaries.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// ParseLevel maps a configured level name onto slog. Unknown names are
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New connects the optional backends and builds the pipeline. Redis and
// PostgreSQL are used when configured; otherwise quota, idempotency and
// audit fall back to in-process implementations.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewRegistry(),
	}

	if err := a.connectRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	rec, err := a.connectPostgres(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	resolver, err := newResolver(ctx, cfg.Templates)
	if err != nil {
		a.Close()
		return nil, err
	}

	limits := quota.Limits{}
	if cfg.Quota.EmailsPerMonth > 0 {
		limits[quota.EventEmailsSent] = cfg.Quota.EmailsPerMonth
	}
	var limiter quota.Limiter = quota.NewMemoryLimiter(limits)
	if a.rdb != nil {
		limiter = quota.NewRedisLimiter(a.rdb, limits)
	}

	deps := pipeline.Deps{
		Templates: resolver,
		Sender:    newSender(cfg),
		Log:       deliverylog.NewWriter(cfg.LogDir, cfg.TrackingBaseURL),
		Quota:     limiter,
		Audit:     rec,
		Metrics:   a.Metrics,
		Logger:    logger,
	}
	if cfg.Neos.Enabled() {
		a.Neos = NewNeosClient(cfg)
		deps.Cases = neos.NewSynchronizer(a.Neos)
	} else {
		logger.Info("case synchronization disabled: NEOS credentials not configured")
	}
	a.Pipeline = pipeline.New(deps)

	logger.Info("services wired",
		"transport", cfg.MailTransport,
		"redis", a.rdb != nil,
		"postgres", a.pgPool != nil,
		"remote_templates", cfg.Templates.Bucket != "",
		"case_sync", a.Neos != nil,
	)
	return a, nil
}

func (a *App) connectRedis(ctx context.Context) error {
	if a.Config.RedisURL == "" {
		a.Dedup = dedup.NewMemoryFilter(a.Config.IdempotencyTTL)
		return nil
	}
	opt, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	a.Dedup = dedup.NewFilter(rdb, a.Config.IdempotencyTTL)
	a.Logger.Info("connected to Redis")
	return nil
}

// connectPostgres returns the audit recorder: the PostgreSQL store when a
// database is configured, the log recorder otherwise.
func (a *App) connectPostgres(ctx context.Context) (audit.Recorder, error) {
	if a.Config.DatabaseURL == "" {
		return audit.NewLogRecorder(a.Logger), nil
	}
	pool, err := pgxpool.New(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pgPool = pool

	store, err := audit.NewPGStore(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("initialise audit store: %w", err)
	}
	a.Events = store
	a.Usage = store
	a.Logger.Info("connected to PostgreSQL")
	return store, nil
}

func newResolver(ctx context.Context, tc config.TemplateConfig) (*template.Resolver, error) {
	rc := template.ResolverConfig{
		BaseDir:  tc.Dir,
		CacheDir: tc.CacheDir,
		CacheTTL: tc.CacheTTL,
	}
	if tc.Bucket != "" {
		src, err := template.NewS3Source(ctx, template.S3Options{
			Bucket:       tc.Bucket,
			Prefix:       tc.Prefix,
			Region:       tc.Region,
			Endpoint:     tc.Endpoint,
			AccessKey:    tc.AccessKey,
			SecretKey:    tc.SecretKey,
			UsePathStyle: tc.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("template store: %w", err)
		}
		rc.Remote = src
	}
	return template.NewResolver(rc), nil
}

func newSender(cfg *config.Config) pipeline.Sender {
	if cfg.MailTransport == config.TransportSMTP {
		return smtpmail.NewSender(smtpmail.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			TLSMode:  cfg.SMTP.TLSMode,
			Timeout:  30 * time.Second,
		})
	}
	return graph.NewSender(graph.SenderConfig{
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		GraphBaseURL: cfg.Graph.BaseURL,
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		SenderEmail:  cfg.Graph.SenderEmail,
		Retry:        cfg.Retry,
	})
}

// NewNeosClient builds the case-management client from cfg.
func NewNeosClient(cfg *config.Config) *neos.Client {
	return neos.NewClient(neos.Config{
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
		BaseURL:       cfg.Neos.BaseURL,
		AuthURL:       cfg.Neos.AuthURL,
		CompanyID:     cfg.Neos.CompanyID,
		IntegrationID: cfg.Neos.IntegrationID,
		APIKey:        cfg.Neos.APIKey,
		ClassID:       cfg.Neos.ClassID,
		CaseDateID:    cfg.Neos.CaseDateID,
		Retry:         cfg.Retry,
	})
}

// Close releases backend connections.
func (a *App) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
}
