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

// Package pipeline builds merged emails for case clients and runs the
// send-and-update workflow: recipient check, quota, delivery, then the
// best-effort case, log, usage and audit tasks.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/bcem/legalmail/internal/audit"
	"github.com/bcem/legalmail/internal/deliverylog"
	"github.com/bcem/legalmail/internal/metrics"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/neos"
	"github.com/bcem/legalmail/internal/quota"
)

// Sender delivers a composed message.
type Sender interface {
	Send(ctx context.Context, msg models.ComposedMessage) error
}

// CaseSynchronizer pushes post-send state to the case-management system.
type CaseSynchronizer interface {
	Sync(ctx context.Context, caseID string) neos.Report
}

// DeliveryLogger records a sent email.
type DeliveryLogger interface {
	Log(ctx context.Context, rec deliverylog.Record) error
}

// TemplateResolver maps a template name to a readable local path.
type TemplateResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Deps are the collaborators of a Pipeline. Templates and Sender are
// required; a nil Cases or Log disables that task, a nil Quota is
// unmetered and a nil Audit logs audit records instead of storing them.
type Deps struct {
	Templates TemplateResolver
	Sender    Sender
	Cases     CaseSynchronizer
	Log       DeliveryLogger
	Quota     quota.Limiter
	Audit     audit.Recorder
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Pipeline runs build and send operations. It is safe for concurrent use
// when its collaborators are.
type Pipeline struct {
	templates TemplateResolver
	sender    Sender
	cases     CaseSynchronizer
	log       DeliveryLogger
	quota     quota.Limiter
	audit     audit.Recorder
	metrics   *metrics.Registry
	logger    *slog.Logger
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := d.Audit
	if rec == nil {
		rec = audit.NewLogRecorder(logger)
	}
	return &Pipeline{
		templates: d.Templates,
		sender:    d.Sender,
		cases:     d.Cases,
		log:       d.Log,
		quota:     d.Quota,
		audit:     rec,
		metrics:   d.Metrics,
		logger:    logger,
	}
}
