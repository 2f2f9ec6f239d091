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
	"strings"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/audit"
	"github.com/bcem/legalmail/internal/identity"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/sanitize"
	"github.com/bcem/legalmail/internal/template"
)

// Draft is a merged email ready to be sent.
type Draft struct {
	Identity     identity.Identity
	Client       models.ClientRecord
	TemplateName string
	TemplatePath string
	Message      models.ComposedMessage
	// Replacements holds the sanitized values used for the merge.
	Replacements map[string]string
}

// Request turns the draft into a send request.
func (d *Draft) Request() SendRequest {
	return SendRequest{
		Identity:     d.Identity,
		Client:       d.Client,
		TemplateName: d.TemplateName,
		Message:      d.Message,
	}
}

// Replacements returns the sanitized merge values for a client. The short
// keys name, RA and ID are the ones legacy templates use.
func Replacements(client models.ClientRecord) map[string]string {
	name := sanitize.Text(client.Name())
	ra := sanitize.Text(client.ReferringAttorney())
	caseNumber := sanitize.Text(client.CaseNumber())

	repl := map[string]string{
		"name":              name,
		"RA":                ra,
		"ID":                caseNumber,
		"ClientName":        name,
		"ReferringAttorney": ra,
		"CaseNumber":        caseNumber,
		"CaseID":            sanitize.Text(client.CaseID()),
	}
	if raEmail := sanitize.Email(client.ReferringAttorneyEmail()); !sanitize.IsSentinel(raEmail) {
		repl[template.KeyReferringAttorneyEmail] = raEmail
	}
	return repl
}

// Build validates the client's address, resolves and merges the template
// and records an "Email Built" audit event.
func (p *Pipeline) Build(ctx context.Context, id identity.Identity, client models.ClientRecord, templateName string, attachments []models.Attachment) (*Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, apperr.CodeBuildInternal, "build cancelled")
	}

	repl := Replacements(client)

	to := sanitize.Email(client.Email())
	if sanitize.IsSentinel(to) {
		return nil, apperr.Validation(apperr.CodeBuildRecipient,
			fmt.Sprintf("invalid email for client %s", repl["name"])).
			WithDetails(fmt.Sprintf("case %s", repl["ID"]))
	}

	path, err := p.templates.Resolve(ctx, templateName)
	if err != nil {
		return nil, apperr.Wrap(err, kindOf(err, apperr.KindValidation), apperr.CodeBuildTemplate,
			fmt.Sprintf("template %q unavailable", templateName))
	}

	merged, err := template.Merge(path, repl)
	if err != nil {
		return nil, apperr.Wrap(err, kindOf(err, apperr.KindValidation), apperr.CodeBuildMerge,
			fmt.Sprintf("template merge failed for %s", path))
	}
	if strings.TrimSpace(merged.Subject) == "" || strings.TrimSpace(merged.Body) == "" {
		return nil, apperr.Validation(apperr.CodeBuildMerge,
			fmt.Sprintf("template merge produced an empty subject or body for %s", path))
	}

	p.recordEvent(ctx, audit.NewEvent(audit.EventEmailBuilt, id.TenantID, id.UserID, map[string]string{
		"client_name":   repl["name"],
		"template_path": path,
	}))

	return &Draft{
		Identity:     id,
		Client:       client,
		TemplateName: templateName,
		TemplatePath: path,
		Replacements: repl,
		Message: models.ComposedMessage{
			To:          to,
			CC:          merged.CC,
			Subject:     merged.Subject,
			Body:        merged.Body,
			ContentType: models.ContentTypeHTML,
			Attachments: attachments,
		},
	}, nil
}

func (p *Pipeline) recordEvent(ctx context.Context, e audit.Event) {
	if err := p.audit.RecordEvent(ctx, e); err != nil {
		p.logger.Warn("audit event not recorded",
			"event", e.Name,
			"tenant", e.TenantID,
			"error", sanitize.Redact(err.Error()),
		)
	}
}

func kindOf(err error, fallback apperr.Kind) apperr.Kind {
	if e, ok := apperr.As(err); ok && e.Kind != "" {
		return e.Kind
	}
	return fallback
}
