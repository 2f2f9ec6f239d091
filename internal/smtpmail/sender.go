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

// Package smtpmail is an alternative mail transport that relays composed
// messages through an SMTP server.
package smtpmail

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"strings"
	"time"

	mail "github.com/go-mail/mail"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/sanitize"
	"github.com/bcem/legalmail/internal/template"
)

// Config holds the SMTP relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLSMode is "starttls" (default), "ssl" or "none".
	TLSMode string
	Timeout time.Duration
}

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// Sender delivers messages over SMTP.
type Sender struct {
	from   string
	dialer dialer
}

// NewSender creates an SMTP sender.
func NewSender(cfg Config) *Sender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	switch strings.ToLower(cfg.TLSMode) {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}

	return &Sender{from: strings.TrimSpace(cfg.From), dialer: d}
}

// Send relays msg. Attachments are streamed from memory.
func (s *Sender) Send(ctx context.Context, msg models.ComposedMessage) error {
	if s.from == "" {
		return apperr.Config(apperr.CodeSendConfig, "smtp from address is not configured")
	}
	if sanitize.IsSentinel(msg.To) {
		return apperr.Validation(apperr.CodeSendRecipient, "recipient address is missing")
	}
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(err, apperr.KindTransport, apperr.CodeSendFailed, "smtp send cancelled")
	}

	if err := s.dialer.DialAndSend(buildMessage(s.from, msg)); err != nil {
		return apperr.Wrap(err, apperr.KindTransport, apperr.CodeSendFailed, "smtp send")
	}

	slog.Info("email relayed over smtp",
		"to", sanitize.MaskEmail(msg.To),
		"cc", len(msg.CC),
		"attachments", len(msg.Attachments),
	)
	return nil
}

func buildMessage(from string, msg models.ComposedMessage) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)

	var cc []string
	for _, addr := range msg.CC {
		if strings.TrimSpace(addr) != "" {
			cc = append(cc, addr)
		}
	}
	if len(cc) > 0 {
		m.SetHeader("Cc", cc...)
	}
	m.SetHeader("Subject", msg.Subject)

	if strings.EqualFold(msg.ContentType, models.ContentTypeText) {
		m.SetBody("text/plain", msg.Body)
	} else {
		m.SetBody("text/html", template.CleanHTMLBody(msg.Body))
	}

	for _, a := range msg.Attachments {
		content := a.Content
		m.Attach(a.Filename, mail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}))
	}
	return m
}
