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

package neos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/sanitize"
)

// Task names reported by Sync, in execution order.
const (
	TaskCaseStatus     = "case_status"
	TaskToken          = "token"
	TaskCaseDate       = "case_date"
	TaskClassification = "classification"
)

// Outcome is the result of one remote update.
type Outcome struct {
	Task string
	Err  error
}

// Report collects the outcome of a Sync call.
type Report struct {
	CaseID  string
	Skipped bool
	// SkipReason is set when Skipped is true.
	SkipReason error
	Outcomes   []Outcome
}

// Err joins every failed outcome, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Task, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Synchronizer updates a case after its questionnaire was sent.
type Synchronizer struct {
	client *Client
}

// NewSynchronizer creates a Synchronizer over client.
func NewSynchronizer(client *Client) *Synchronizer {
	return &Synchronizer{client: client}
}

// Sync moves the case to "Questionnaire Sent", then stamps the case date
// and the classification. Every step is best-effort: failures are logged
// and collected in the report. An invalid case id makes no remote call.
func (s *Synchronizer) Sync(ctx context.Context, caseID string) Report {
	report := Report{CaseID: caseID}
	if !ValidCaseID(caseID) {
		slog.Warn("case id is not a GUID; skipping case updates", "case_id", sanitize.Redact(caseID))
		report.Skipped = true
		report.SkipReason = apperr.Validation(apperr.CodeNeosCase, "case id is not a GUID")
		return report
	}

	record := func(task string, err error) {
		report.Outcomes = append(report.Outcomes, Outcome{Task: task, Err: err})
		if err != nil {
			slog.Warn("case update failed",
				"task", task,
				"case_id", caseID,
				"error", sanitize.Redact(err.Error()),
			)
		}
	}

	record(TaskCaseStatus, s.client.UpdateCaseStatus(ctx, caseID, StatusQuestionnaireSent))

	token, err := s.client.Authenticate(ctx)
	record(TaskToken, err)
	if err != nil {
		return report
	}

	record(TaskCaseDate, s.client.UpdateCaseDateLabel(ctx, caseID, token))
	record(TaskClassification, s.client.UpdateClassification(ctx, caseID, token))

	return report
}
