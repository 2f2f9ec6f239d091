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

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/audit"
	"github.com/bcem/legalmail/internal/deliverylog"
	"github.com/bcem/legalmail/internal/identity"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/neos"
	"github.com/bcem/legalmail/internal/quota"
	"github.com/bcem/legalmail/internal/sanitize"
)

// Post-send task names.
const (
	TaskCaseSync    = "case_sync"
	TaskDeliveryLog = "delivery_log"
	TaskUsage       = "usage"
	TaskAudit       = "audit"
)

// SendRequest is one send-and-update call. The recipient is always taken
// from the client record's e-mail column.
type SendRequest struct {
	Identity     identity.Identity
	Client       models.ClientRecord
	TemplateName string
	Message      models.ComposedMessage
}

// TaskResult is the outcome of one post-send task.
type TaskResult struct {
	Task    string
	Skipped bool
	Detail  string
	Err     error
}

// Result is the terminal outcome of SendAndUpdate. Code is empty on
// success. Diagnostics never affect Code.
type Result struct {
	Code        string
	Err         error
	Diagnostics []TaskResult
}

// OK reports whether the email was sent.
func (r Result) OK() bool { return r.Code == "" }

// Tag is the short status shown to callers.
func (r Result) Tag() string {
	if r.OK() {
		return "Sent"
	}
	return "Failed: " + r.Code
}

// postSendTask runs after a successful delivery. Its result is recorded
// but never changes the terminal outcome.
type postSendTask struct {
	name string
	run  func(ctx context.Context) TaskResult
}

// SendAndUpdate sends the message and then runs the post-send tasks.
// Only a bad recipient, a quota denial or a delivery failure make the
// result a failure.
func (p *Pipeline) SendAndUpdate(ctx context.Context, req SendRequest) Result {
	start := time.Now()

	res := p.send(ctx, req)
	if !res.OK() {
		p.metrics.EmailFailed(res.Code, time.Since(start))
		return res
	}

	// Bookkeeping for a delivered email must not be lost to a caller that
	// has gone away.
	taskCtx := context.WithoutCancel(ctx)
	for _, t := range p.postSendTasks(req) {
		tr := t.run(taskCtx)
		tr.Task = t.name
		if tr.Err != nil {
			p.metrics.TaskFailed(t.name)
			p.logger.Warn("post-send task failed",
				"task", t.name,
				"tenant", req.Identity.TenantID,
				"error", sanitize.Redact(tr.Err.Error()),
			)
		}
		res.Diagnostics = append(res.Diagnostics, tr)
	}

	p.metrics.EmailSent(time.Since(start))
	return res
}

func (p *Pipeline) send(ctx context.Context, req SendRequest) Result {
	id := req.Identity

	to := sanitize.Email(req.Client.Email())
	if sanitize.IsSentinel(to) {
		err := apperr.Validation(apperr.CodeSendRecipient,
			fmt.Sprintf("cannot send email: invalid email for %s", sanitize.Text(req.Client.Name())))
		return p.fail(err, apperr.CodeSendRecipient)
	}

	if p.quota != nil {
		key := quota.Key{Tenant: id.TenantID, User: id.UserID, Event: quota.EventEmailsSent}
		if err := p.quota.Consume(ctx, key, 1); err != nil {
			return p.fail(err, apperr.CodeQuotaBackend)
		}
	}

	msg := req.Message
	msg.To = to
	if err := p.sender.Send(ctx, msg); err != nil {
		return p.fail(err, apperr.CodeSendFailed)
	}

	p.logger.Info("email sent",
		"tenant", id.TenantID,
		"to", sanitize.MaskEmail(to),
		"template", req.TemplateName,
	)
	return Result{}
}

// fail reports err through the shared handler and tags the result with
// err's own code, or fallback when it carries none.
func (p *Pipeline) fail(err error, fallback string) Result {
	code := apperr.CodeOf(err, fallback)
	apperr.Report(p.logger, err, code, "failed to send email")
	return Result{Code: code, Err: err}
}

func (p *Pipeline) postSendTasks(req SendRequest) []postSendTask {
	id := req.Identity
	caseID := caseIDFor(req)

	var templatePath string
	resolvePath := func(ctx context.Context) string {
		if templatePath != "" {
			return templatePath
		}
		templatePath = req.TemplateName
		if p.templates != nil {
			if path, err := p.templates.Resolve(ctx, req.TemplateName); err == nil {
				templatePath = path
			}
		}
		return templatePath
	}

	return []postSendTask{
		{TaskCaseSync, func(ctx context.Context) TaskResult {
			if p.cases == nil {
				return TaskResult{Skipped: true, Detail: "case synchronization disabled"}
			}
			report := p.cases.Sync(ctx, caseID)
			if report.Skipped {
				detail := "case id missing"
				if report.SkipReason != nil {
					detail = report.SkipReason.Error()
				}
				return TaskResult{Skipped: true, Detail: detail}
			}
			return TaskResult{Err: report.Err()}
		}},
		{TaskDeliveryLog, func(ctx context.Context) TaskResult {
			if p.log == nil {
				return TaskResult{Skipped: true, Detail: "delivery log disabled"}
			}
			path := resolvePath(ctx)
			err := p.log.Log(ctx, deliverylog.Record{
				TenantID:     id.TenantID,
				UserID:       id.UserID,
				Client:       req.Client,
				Subject:      req.Message.Subject,
				Body:         req.Message.Body,
				TemplatePath: path,
				CC:           req.Message.CC,
			})
			if err != nil {
				apperr.Report(p.logger, err, apperr.CodeLogWrite,
					fmt.Sprintf("failed to log email for %s", sanitize.Text(req.Client.Name())))
				return TaskResult{Err: err}
			}
			p.recordEvent(ctx, audit.NewEvent(audit.EventEmailLogged, id.TenantID, id.UserID, map[string]string{
				"client_name":   sanitize.Text(req.Client.Name()),
				"template_path": path,
			}))
			return TaskResult{}
		}},
		{TaskUsage, func(ctx context.Context) TaskResult {
			err := p.audit.RecordUsage(ctx, audit.NewUsage(id.TenantID, id.UserID, quota.EventEmailsSent, 1,
				map[string]string{"template_path": resolvePath(ctx)}))
			return TaskResult{Err: err}
		}},
		{TaskAudit, func(ctx context.Context) TaskResult {
			err := p.audit.RecordEvent(ctx, audit.NewEvent(audit.EventEmailSent, id.TenantID, id.UserID, map[string]string{
				"client_name":   sanitize.Text(req.Client.Name()),
				"template_path": resolvePath(ctx),
				"case_id":       caseID,
			}))
			return TaskResult{Err: err}
		}},
	}
}

// caseIDFor returns the record's case id, or the first GUID in the subject
// when the record carries none.
func caseIDFor(req SendRequest) string {
	caseID := sanitize.Text(req.Client.CaseID())
	if neos.ValidCaseID(caseID) {
		return caseID
	}
	if guid := neos.ExtractGUID(req.Message.Subject); guid != "" {
		return guid
	}
	return caseID
}
