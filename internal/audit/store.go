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

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a Recorder backed by Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates an audit store and ensures its tables exist.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	s := &PGStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	slog.Info("audit store initialised")
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id          UUID PRIMARY KEY,
			name        TEXT NOT NULL,
			tenant_id   TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			attributes  JSONB NOT NULL DEFAULT '{}'::jsonb,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_events(tenant_id, occurred_at DESC);

		CREATE TABLE IF NOT EXISTS usage_events (
			id          UUID PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			event       TEXT NOT NULL,
			amount      BIGINT NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_usage_tenant_event ON usage_events(tenant_id, event, occurred_at);
	`)
	return err
}

// RecordEvent inserts an audit event.
func (s *PGStore) RecordEvent(ctx context.Context, e Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, name, tenant_id, user_id, attributes, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.Name, e.TenantID, e.UserID, nonNil(e.Attributes), e.At)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// RecordUsage inserts a usage row.
func (s *PGStore) RecordUsage(ctx context.Context, u Usage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_events (id, tenant_id, user_id, event, amount, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.TenantID, u.UserID, u.Event, u.Amount, nonNil(u.Metadata), u.At)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// ListEvents returns the most recent audit events for a tenant.
func (s *PGStore) ListEvents(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, tenant_id, user_id, attributes, occurred_at
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// UsageSince sums a tenant's usage of event since the given time.
func (s *PGStore) UsageSince(ctx context.Context, tenantID, event string, since time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM usage_events
		WHERE tenant_id = $1 AND event = $2 AND occurred_at >= $3
	`, tenantID, event, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

// rowScanner is the part of pgx.Rows that collectEvents reads.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

var _ rowScanner = (pgx.Rows)(nil)

func collectEvents(rows rowScanner) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Name, &e.TenantID, &e.UserID, &e.Attributes, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
