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

// Package audit records audit events and metered usage for each tenant.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/legalmail/internal/sanitize"
)

// Audit event names.
const (
	EventEmailBuilt  = "Email Built"
	EventEmailSent   = "Email Sent"
	EventEmailLogged = "Email Logged"
)

// Event is an audit-trail entry.
type Event struct {
	ID         uuid.UUID
	Name       string
	TenantID   string
	UserID     string
	Attributes map[string]string
	At         time.Time
}

// Usage is one metered consumption.
type Usage struct {
	ID       uuid.UUID
	TenantID string
	UserID   string
	Event    string
	Amount   int64
	Metadata map[string]string
	At       time.Time
}

// Recorder persists audit events and usage.
type Recorder interface {
	RecordEvent(ctx context.Context, e Event) error
	RecordUsage(ctx context.Context, u Usage) error
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(name, tenantID, userID string, attrs map[string]string) Event {
	return Event{
		ID:         uuid.New(),
		Name:       name,
		TenantID:   tenantID,
		UserID:     userID,
		Attributes: attrs,
		At:         time.Now().UTC(),
	}
}

// NewUsage stamps a usage record with a fresh id and the current time.
func NewUsage(tenantID, userID, event string, amount int64, meta map[string]string) Usage {
	return Usage{
		ID:       uuid.New(),
		TenantID: tenantID,
		UserID:   userID,
		Event:    event,
		Amount:   amount,
		Metadata: meta,
		At:       time.Now().UTC(),
	}
}

// LogRecorder writes audit records to a structured logger. It is used when
// no database is configured.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a LogRecorder. A nil logger uses slog.Default.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) RecordEvent(ctx context.Context, e Event) error {
	r.logger.InfoContext(ctx, "audit event",
		"event_id", e.ID.String(),
		"event", e.Name,
		"tenant", e.TenantID,
		"user", sanitize.MaskEmail(e.UserID),
		"attributes", redactAll(e.Attributes),
	)
	return nil
}

func (r *LogRecorder) RecordUsage(ctx context.Context, u Usage) error {
	r.logger.InfoContext(ctx, "usage",
		"usage_id", u.ID.String(),
		"event", u.Event,
		"amount", u.Amount,
		"tenant", u.TenantID,
		"user", sanitize.MaskEmail(u.UserID),
	)
	return nil
}

func redactAll(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = sanitize.Redact(v)
	}
	return out
}
