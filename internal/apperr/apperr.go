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

// Package apperr defines the application error taxonomy. Every failure that
// can reach a caller carries a stable machine-readable code so build-time,
// send-time and logging-time failures can be told apart.
package apperr

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bcem/legalmail/internal/sanitize"
)

// Kind classifies errors into the buckets used by the pipeline.
type Kind string

const (
	KindConfig      Kind = "config"
	KindValidation  Kind = "validation"
	KindTransport   Kind = "transport"
	KindPersistence Kind = "persistence"
	KindQuota       Kind = "quota"
	KindInternal    Kind = "internal"
)

// Stable error codes.
const (
	CodeTemplateNotFound  = "TEMPLATE_404"
	CodeTemplateMalformed = "TEMPLATE_FORMAT"

	CodeBuildRecipient = "EMAIL_BUILD_001"
	CodeBuildTemplate  = "EMAIL_BUILD_002"
	CodeBuildMerge     = "EMAIL_BUILD_003"
	CodeBuildInternal  = "EMAIL_BUILD_004"

	CodeSendRecipient = "EMAIL_SEND_001"
	CodeSendFailed    = "EMAIL_SEND_002"
	CodeSendConfig    = "EMAIL_CONFIG_001"
	CodeSendAuth      = "EMAIL_AUTH_001"

	CodeQuotaExceeded = "EMAIL_QUOTA_001"
	CodeQuotaBackend  = "EMAIL_QUOTA_002"

	CodeLogWrite = "EMAIL_LOG_001"

	CodeNeosAuth = "NEOS_AUTH_001"
	CodeNeosHTTP = "NEOS_HTTP_001"
	CodeNeosCase = "NEOS_CASE_001"
)

// Error is a structured application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// New creates an error with the given kind, code and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error that wraps err.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// WithDetails returns a copy of e carrying a diagnostic detail payload.
func (e *Error) WithDetails(details string) *Error {
	c := *e
	c.Details = details
	return &c
}

// Config returns a ConfigError.
func Config(code, message string) *Error { return New(KindConfig, code, message) }

// Validation returns a ValidationError.
func Validation(code, message string) *Error { return New(KindValidation, code, message) }

// Transport returns a TransportError.
func Transport(code, message string) *Error { return New(KindTransport, code, message) }

// Persistence returns a PersistenceError wrapping err.
func Persistence(code, message string, err error) *Error {
	return Wrap(err, KindPersistence, code, message)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or fallback when err is not an
// application error.
func CodeOf(err error, fallback string) string {
	if ae, ok := As(err); ok && ae.Code != "" {
		return ae.Code
	}
	return fallback
}

// Report is the shared error-reporting collaborator. It logs err under the
// given code with sensitive values redacted and never returns it.
func Report(logger *slog.Logger, err error, code, userMessage string) {
	if err == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{
		"code", CodeOf(err, code),
		"error", sanitize.Redact(err.Error()),
	}
	if ae, ok := As(err); ok {
		attrs = append(attrs, "kind", string(ae.Kind))
		if ae.Details != "" {
			attrs = append(attrs, "details", sanitize.Redact(ae.Details))
		}
	}
	logger.Error(sanitize.Redact(userMessage), attrs...)
}
