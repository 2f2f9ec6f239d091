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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/audit"
	"github.com/bcem/legalmail/internal/dedup"
	"github.com/bcem/legalmail/internal/identity"
	"github.com/bcem/legalmail/internal/metrics"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/pipeline"
	"github.com/bcem/legalmail/internal/quota"
)

const (
	// IdempotencyHeader carries an optional client-chosen key for sends.
	IdempotencyHeader = "Idempotency-Key"

	// maxBodyBytes bounds request bodies, attachments included.
	maxBodyBytes = 25 << 20

	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Mailer is the pipeline surface the API needs.
type Mailer interface {
	Build(ctx context.Context, id identity.Identity, client models.ClientRecord, templateName string, attachments []models.Attachment) (*pipeline.Draft, error)
	SendAndUpdate(ctx context.Context, req pipeline.SendRequest) pipeline.Result
}

// EventLister reads stored audit events.
type EventLister interface {
	ListEvents(ctx context.Context, tenantID string, limit int) ([]audit.Event, error)
}

// UsageReader sums metered usage.
type UsageReader interface {
	UsageSince(ctx context.Context, tenantID, event string, since time.Time) (int64, error)
}

// Config holds the Handler's collaborators. Mailer is required; a nil
// Dedup ignores Idempotency-Key, and a nil Events or Usage hides the
// matching read route.
type Config struct {
	Mailer     Mailer
	Dedup      dedup.Claimer
	Events     EventLister
	Usage      UsageReader
	Metrics    *metrics.Registry
	Production bool
	Logger     *slog.Logger
}

// Handler serves the email API.
type Handler struct {
	mailer     Mailer
	dedup      dedup.Claimer
	events     EventLister
	usage      UsageReader
	metrics    *metrics.Registry
	production bool
	logger     *slog.Logger
	validate   *validator.Validate
}

// NewHandler creates an API handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		mailer:     cfg.Mailer,
		dedup:      cfg.Dedup,
		events:     cfg.Events,
		usage:      cfg.Usage,
		metrics:    cfg.Metrics,
		production: cfg.Production,
		logger:     logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// EmailRequest is the body of the build and send endpoints. Attachment
// content is base64 in JSON.
type EmailRequest struct {
	Client      models.ClientRecord `json:"client" validate:"required"`
	Template    string              `json:"template" validate:"required"`
	Attachments []models.Attachment `json:"attachments" validate:"dive"`
}

// DraftResponse is a built, unsent email.
type DraftResponse struct {
	To           string   `json:"to"`
	CC           []string `json:"cc"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	TemplatePath string   `json:"template_path"`
}

// SendResponse reports a send. Tasks maps each post-send task to ok,
// skipped or failed.
type SendResponse struct {
	Status string            `json:"status"`
	Code   string            `json:"code,omitempty"`
	Tasks  map[string]string `json:"tasks,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventResponse is one audit event.
type EventResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	UserID     string            `json:"user_id"`
	Attributes map[string]string `json:"attributes"`
	At         time.Time         `json:"at"`
}

// UsageResponse is a tenant's usage of one event in the current period.
type UsageResponse struct {
	Event string    `json:"event"`
	Since time.Time `json:"since"`
	Total int64     `json:"total"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// BuildEmail merges a template for one client without sending.
func (h *Handler) BuildEmail(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	draft, err := h.mailer.Build(r.Context(), h.identity(r), req.Client, req.Template, req.Attachments)
	if err != nil {
		h.writeError(w, err, apperr.CodeBuildInternal)
		return
	}

	msg := draft.Message
	writeJSON(w, http.StatusOK, DraftResponse{
		To:           msg.To,
		CC:           nonNilStrings(msg.CC),
		Subject:      msg.Subject,
		Body:         msg.Body,
		TemplatePath: draft.TemplatePath,
	})
}

// SendEmail builds and sends one email, then runs the post-send tasks.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := h.identity(r)

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.dedup != nil {
		fresh, err := h.dedup.Claim(ctx, id.TenantID, key)
		if err != nil {
			h.logger.Error("idempotency claim failed", "tenant", id.TenantID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
				Code:    "IDEMPOTENCY_UNAVAILABLE",
				Message: "idempotency store unavailable",
			})
			return
		}
		if !fresh {
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Code:    "IDEMPOTENCY_DUPLICATE",
				Message: "a send with this idempotency key was already accepted",
			})
			return
		}
	} else {
		key = ""
	}

	// release lets a failed send be retried under the same key.
	release := func() {
		if key == "" {
			return
		}
		if err := h.dedup.Release(context.WithoutCancel(ctx), id.TenantID, key); err != nil {
			h.logger.Warn("idempotency release failed", "tenant", id.TenantID, "error", err)
		}
	}

	draft, err := h.mailer.Build(ctx, id, req.Client, req.Template, req.Attachments)
	if err != nil {
		release()
		h.writeError(w, err, apperr.CodeBuildInternal)
		return
	}

	res := h.mailer.SendAndUpdate(ctx, draft.Request())
	if !res.OK() {
		release()
	}

	writeJSON(w, sendStatus(res.Code), SendResponse{
		Status: res.Tag(),
		Code:   res.Code,
		Tasks:  taskStatuses(res.Diagnostics),
	})
}

// ListEvents returns the caller's tenant audit trail, newest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	id := h.identity(r)
	events, err := h.events.ListEvents(r.Context(), id.TenantID, limit)
	if err != nil {
		h.logger.Error("list audit events failed", "tenant", id.TenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "AUDIT_READ", Message: "failed to read audit events"})
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			ID:         e.ID.String(),
			Name:       e.Name,
			UserID:     e.UserID,
			Attributes: e.Attributes,
			At:         e.At,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Usage reports the caller's tenant usage since the start of the month.
// The event defaults to emails sent.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	event := r.URL.Query().Get("event")
	if event == "" {
		event = quota.EventEmailsSent
	}
	since := quota.PeriodStart(time.Now())

	id := h.identity(r)
	total, err := h.usage.UsageSince(r.Context(), id.TenantID, event, since)
	if err != nil {
		h.logger.Error("read usage failed", "tenant", id.TenantID, "event", event, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "USAGE_READ", Message: "failed to read usage"})
		return
	}
	writeJSON(w, http.StatusOK, UsageResponse{Event: event, Since: since, Total: total})
}

func (h *Handler) identity(r *http.Request) identity.Identity {
	return identity.FromPrincipal(r.Header.Get(identity.PrincipalHeader), h.production)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*EmailRequest, bool) {
	var req EmailRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: "request body is not valid JSON"})
		return nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		msg := err.Error()
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = strings.ToLower(verrs[0].Field()) + " is " + verrs[0].Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: msg})
		return nil, false
	}
	return &req, true
}

// publicMessages are the only messages a build error exposes. Error
// messages can carry client data, so they stay in the logs.
var publicMessages = map[string]string{
	apperr.CodeBuildRecipient: "client email address is missing or invalid",
	apperr.CodeBuildTemplate:  "template not found",
	apperr.CodeBuildMerge:     "template could not be merged",
	apperr.CodeBuildInternal:  "email could not be built",
}

// writeError maps a build error onto a client error with a fixed
// per-code message.
func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	code := apperr.CodeOf(err, fallback)
	msg, ok := publicMessages[code]
	if !ok {
		msg = "request failed"
	}
	status := http.StatusInternalServerError
	if code != apperr.CodeBuildInternal && strings.HasPrefix(code, "EMAIL_BUILD_") {
		status = http.StatusUnprocessableEntity
	}
	logMsg := msg
	if e, ok := apperr.As(err); ok {
		logMsg = e.Message
	}
	apperr.Report(h.logger, err, code, logMsg)
	writeJSON(w, status, ErrorResponse{Code: code, Message: msg})
}

// sendStatus maps a send result code onto an HTTP status.
func sendStatus(code string) int {
	switch {
	case code == "":
		return http.StatusOK
	case code == apperr.CodeSendRecipient, strings.HasPrefix(code, "EMAIL_BUILD_"):
		return http.StatusUnprocessableEntity
	case code == apperr.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func taskStatuses(diags []pipeline.TaskResult) map[string]string {
	if len(diags) == 0 {
		return nil
	}
	out := make(map[string]string, len(diags))
	for _, d := range diags {
		switch {
		case d.Err != nil:
			out[d.Task] = "failed"
		case d.Skipped:
			out[d.Task] = "skipped"
		default:
			out[d.Task] = "ok"
		}
	}
	return out
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}
