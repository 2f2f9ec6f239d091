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

// Package config loads service configuration. Sources are applied in
// order: built-in defaults, an optional config.yaml (with ${VAR}
// expansion), then environment variables. A .env file in the working
// directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bcem/legalmail/internal/backoff"
)

// Mail transports.
const (
	TransportGraph = "graph"
	TransportSMTP  = "smtp"
)

// GraphConfig holds the Microsoft Graph app registration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id" env:"GRAPH_TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"GRAPH_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"GRAPH_CLIENT_SECRET"`
	SenderEmail  string `yaml:"sender_email" env:"DEFAULT_SENDER_EMAIL" validate:"omitempty,email"`
	// LegacySenderEmail is read from GRAPH_SENDER_EMAIL and only used when
	// DEFAULT_SENDER_EMAIL is unset.
	LegacySenderEmail string `yaml:"-" env:"GRAPH_SENDER_EMAIL"`
	BaseURL           string `yaml:"base_url" env:"GRAPH_BASE_URL" validate:"omitempty,url"`
}

// SMTPConfig holds the SMTP relay used when MAIL_TRANSPORT=smtp.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT" validate:"min=0,max=65535"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	From     string `yaml:"from" env:"FROM" validate:"omitempty,email"`
	TLSMode  string `yaml:"tls_mode" env:"TLS_MODE" validate:"omitempty,oneof=starttls ssl none"`
}

// NeosConfig holds the case-management API settings.
type NeosConfig struct {
	BaseURL       string `yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	AuthURL       string `yaml:"auth_url" env:"AUTH_URL" validate:"omitempty,url"`
	CompanyID     string `yaml:"company_id" env:"COMPANY_ID"`
	IntegrationID string `yaml:"integration_id" env:"INTEGRATION_ID"`
	APIKey        string `yaml:"api_key" env:"API_KEY"`
	ClassID       string `yaml:"class_id" env:"CLASS_ID" validate:"omitempty,uuid"`
	CaseDateID    string `yaml:"case_date_id" env:"CASE_DATE_ID" validate:"omitempty,uuid"`
}

// Enabled reports whether case synchronization has credentials.
func (n NeosConfig) Enabled() bool {
	return n.AuthURL != "" && n.APIKey != ""
}

// TemplateConfig controls template resolution and the remote cache.
type TemplateConfig struct {
	Dir      string        `yaml:"dir" env:"DIR"`
	CacheDir string        `yaml:"cache_dir" env:"CACHE_DIR"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`

	// S3-compatible remote store. Empty Bucket disables remote fetches.
	Bucket       string `yaml:"bucket" env:"BUCKET"`
	Prefix       string `yaml:"prefix" env:"PREFIX"`
	Region       string `yaml:"region" env:"REGION"`
	Endpoint     string `yaml:"endpoint" env:"ENDPOINT" validate:"omitempty,url"`
	AccessKey    string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" env:"SECRET_KEY"`
	UsePathStyle bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// QuotaConfig sets the monthly per-tenant allowance. Zero is unmetered.
type QuotaConfig struct {
	EmailsPerMonth int64 `yaml:"emails_per_month" env:"EMAILS_PER_MONTH" validate:"min=0"`
}

// Config holds all configuration for the legal mail service.
type Config struct {
	Env      string `yaml:"env" env:"ENV"`
	Port     int    `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// Delivery log
	LogDir          string `yaml:"log_dir" env:"LOG_DIR" validate:"required"`
	TrackingBaseURL string `yaml:"tracking_base_url" env:"TRACKING_BASE_URL" validate:"omitempty,url"`

	// Optional backends. Empty values fall back to in-process stores.
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	MailTransport  string        `yaml:"mail_transport" env:"MAIL_TRANSPORT" validate:"oneof=graph smtp"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"IDEMPOTENCY_TTL"`

	Graph     GraphConfig    `yaml:"graph"`
	SMTP      SMTPConfig     `yaml:"smtp" envPrefix:"SMTP_"`
	Neos      NeosConfig     `yaml:"neos" envPrefix:"NEOS_"`
	Templates TemplateConfig `yaml:"templates" envPrefix:"TEMPLATE_"`
	Quota     QuotaConfig    `yaml:"quota" envPrefix:"QUOTA_"`
	Retry     backoff.Policy `yaml:"retry"`
}

// Production reports whether ENV selects the production identity model.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func defaults() *Config {
	return &Config{
		Env:            "development",
		Port:           8080,
		LogLevel:       "info",
		LogDir:         "email_automation/logs",
		MailTransport:  TransportGraph,
		IdempotencyTTL: 24 * time.Hour,
		SMTP:           SMTPConfig{Port: 587, TLSMode: "starttls"},
		Templates: TemplateConfig{
			CacheDir: "email_templates_cache",
			CacheTTL: 15 * time.Minute,
		},
		Retry: backoff.Policy{
			MaxRetries: 2,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   5 * time.Second,
		},
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// CONFIG_PATH is consulted and a missing file is not an error.
func Load(path string) (*Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Graph.SenderEmail == "" {
		cfg.Graph.SenderEmail = cfg.Graph.LegacySenderEmail
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.MailTransport = strings.ToLower(cfg.MailTransport)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	return nil
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("validate config: %w", err)
	}

	if cfg.MailTransport == TransportSMTP && cfg.SMTP.Host == "" {
		return fmt.Errorf("invalid configuration: SMTP_HOST is required when MAIL_TRANSPORT=smtp")
	}
	return nil
}
