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

package smtpmail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/quotedprintable"
	"strings"
	"testing"

	mail "github.com/go-mail/mail"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/sanitize"
)

type fakeDialer struct {
	sent []*mail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*mail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func testMessage() models.ComposedMessage {
	return models.ComposedMessage{
		To:          "jane@example.com",
		CC:          []string{"ra@firm.com", ""},
		Subject:     "Welcome",
		Body:        "<p>Hi</p>",
		ContentType: models.ContentTypeHTML,
		Attachments: []models.Attachment{{Filename: "intake.pdf", Content: []byte("%PDF")}},
	}
}

func TestBuildMessage_Headers(t *testing.T) {
	m := buildMessage("intake@firm.com", testMessage())

	if got := m.GetHeader("From"); len(got) != 1 || got[0] != "intake@firm.com" {
		t.Errorf("From = %v", got)
	}
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "jane@example.com" {
		t.Errorf("To = %v", got)
	}
	if got := m.GetHeader("Cc"); len(got) != 1 || got[0] != "ra@firm.com" {
		t.Errorf("Cc = %v, want [ra@firm.com]", got)
	}
	if got := m.GetHeader("Subject"); len(got) != 1 || got[0] != "Welcome" {
		t.Errorf("Subject = %v", got)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	raw := buf.String()
	if !strings.Contains(raw, "text/html") {
		t.Error("html body part missing")
	}
	if !strings.Contains(raw, `filename="intake.pdf"`) {
		t.Error("attachment missing")
	}
}

func TestBuildMessage_NormalizesHTMLBody(t *testing.T) {
	msg := testMessage()
	msg.Body = "<p>Hello <b>Jane"
	msg.Attachments = nil

	var buf bytes.Buffer
	if _, err := buildMessage("intake@firm.com", msg).WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	raw := decodeQP(t, buf.String())
	if !strings.Contains(raw, "<!DOCTYPE html>") {
		t.Errorf("fragment not wrapped in a document:\n%s", raw)
	}
	if !strings.Contains(raw, "<p>Hello <b>Jane</b></p>") {
		t.Errorf("fragment not balanced:\n%s", raw)
	}
}

func TestBuildMessage_PlainTextUntouched(t *testing.T) {
	msg := testMessage()
	msg.ContentType = models.ContentTypeText
	msg.Body = "Hello <b>Jane"
	msg.Attachments = nil

	var buf bytes.Buffer
	if _, err := buildMessage("intake@firm.com", msg).WriteTo(&buf); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if !strings.Contains(buf.String(), "text/plain") {
		t.Errorf("content type not plain:\n%s", buf.String())
	}
	body := decodeQP(t, buf.String())
	if !strings.Contains(body, "Hello <b>Jane") || strings.Contains(body, "<!DOCTYPE html>") {
		t.Errorf("plain body rewritten:\n%s", body)
	}
}

// decodeQP undoes the quoted-printable body encoding so assertions can
// match the markup.
func decodeQP(t *testing.T, raw string) string {
	t.Helper()
	_, body, ok := strings.Cut(raw, "\r\n\r\n")
	if !ok {
		t.Fatalf("no body in message:\n%s", raw)
	}
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body)))
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return string(decoded)
}

func TestSend_UsesDialer(t *testing.T) {
	d := &fakeDialer{}
	s := &Sender{from: "intake@firm.com", dialer: d}

	if err := s.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(d.sent))
	}
}

func TestSend_Errors(t *testing.T) {
	tests := []struct {
		name string
		s    *Sender
		msg  models.ComposedMessage
		code string
	}{
		{
			name: "no from",
			s:    &Sender{dialer: &fakeDialer{}},
			msg:  testMessage(),
			code: apperr.CodeSendConfig,
		},
		{
			name: "sentinel recipient",
			s:    &Sender{from: "intake@firm.com", dialer: &fakeDialer{}},
			msg:  models.ComposedMessage{To: sanitize.InvalidEmail},
			code: apperr.CodeSendRecipient,
		},
		{
			name: "dial failure",
			s:    &Sender{from: "intake@firm.com", dialer: &fakeDialer{err: errors.New("connection refused")}},
			msg:  testMessage(),
			code: apperr.CodeSendFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Send(context.Background(), tt.msg)
			if !errors.Is(err, &apperr.Error{Code: tt.code}) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
}
