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
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/audit"
	"github.com/bcem/legalmail/internal/backoff"
	"github.com/bcem/legalmail/internal/identity"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/neos"
	"github.com/bcem/legalmail/internal/quota"
	"github.com/bcem/legalmail/internal/sanitize"
)

const testCaseID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"

var testIdentity = identity.Identity{UserID: "paralegal@firm.com", TenantID: "firm-com"}

func testClient() models.ClientRecord {
	return models.ClientRecord{
		models.FieldClientName:  "Jane Doe",
		models.FieldClientEmail: "Jane@Example.com",
		models.FieldCaseNumber:  "2026-0042",
		models.FieldCaseID:      testCaseID,
	}
}

func testRequest(client models.ClientRecord) SendRequest {
	return SendRequest{
		Identity:     testIdentity,
		Client:       client,
		TemplateName: "welcome.txt",
		Message: models.ComposedMessage{
			Subject:     "Welcome Jane",
			Body:        "<!DOCTYPE html><html><body>Hi</body></html>",
			CC:          []string{"ra@firm.com"},
			ContentType: models.ContentTypeHTML,
		},
	}
}

type harness struct {
	sender  *fakeSender
	cases   *fakeCases
	log     *fakeLog
	limiter *fakeLimiter
	audit   *fakeAudit
}

func newHarness() (*Pipeline, *harness) {
	h := &harness{
		sender:  &fakeSender{},
		cases:   &fakeCases{},
		log:     &fakeLog{},
		limiter: &fakeLimiter{},
		audit:   &fakeAudit{},
	}
	p := New(Deps{
		Templates: staticResolver{path: "templates/welcome.txt"},
		Sender:    h.sender,
		Cases:     h.cases,
		Log:       h.log,
		Quota:     h.limiter,
		Audit:     h.audit,
	})
	return p, h
}

func TestSendAndUpdate_Success(t *testing.T) {
	p, h := newHarness()

	res := p.SendAndUpdate(context.Background(), testRequest(testClient()))
	if !res.OK() || res.Tag() != "Sent" {
		t.Fatalf("result = %+v, want Sent", res)
	}

	if h.sender.count() != 1 || h.sender.sent[0].To != "jane@example.com" {
		t.Errorf("sent = %+v", h.sender.sent)
	}
	if len(h.cases.calls) != 1 || h.cases.calls[0] != testCaseID {
		t.Errorf("case sync calls = %v", h.cases.calls)
	}
	if len(h.log.records) != 1 || h.log.records[0].TemplatePath != "templates/welcome.txt" {
		t.Errorf("log records = %+v", h.log.records)
	}
	if len(h.audit.usage) != 1 || h.audit.usage[0].Event != quota.EventEmailsSent {
		t.Errorf("usage = %+v", h.audit.usage)
	}

	names := h.audit.names()
	if len(names) != 2 || names[0] != audit.EventEmailLogged || names[1] != audit.EventEmailSent {
		t.Errorf("audit events = %v", names)
	}

	want := []string{TaskCaseSync, TaskDeliveryLog, TaskUsage, TaskAudit}
	if len(res.Diagnostics) != len(want) {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
	for i, d := range res.Diagnostics {
		if d.Task != want[i] || d.Err != nil || d.Skipped {
			t.Errorf("diagnostic[%d] = %+v, want clean %s", i, d, want[i])
		}
	}
}

func TestSendAndUpdate_InvalidRecipient(t *testing.T) {
	for _, addr := range []string{"", sanitize.InvalidEmail, "not-an-address"} {
		p, h := newHarness()
		client := testClient()
		client[models.FieldClientEmail] = addr

		res := p.SendAndUpdate(context.Background(), testRequest(client))
		if res.Code != apperr.CodeSendRecipient {
			t.Errorf("%q: code = %q, want %s", addr, res.Code, apperr.CodeSendRecipient)
		}
		if res.Tag() != "Failed: EMAIL_SEND_001" {
			t.Errorf("%q: tag = %q", addr, res.Tag())
		}
		if h.sender.count() != 0 || h.limiter.calls != 0 || len(h.cases.calls) != 0 || len(h.log.records) != 0 {
			t.Errorf("%q: collaborators were called", addr)
		}
	}
}

func TestSendAndUpdate_QuotaDenied(t *testing.T) {
	p, h := newHarness()
	limiter := quota.NewMemoryLimiter(quota.Limits{quota.EventEmailsSent: 1})
	p.quota = limiter

	if res := p.SendAndUpdate(context.Background(), testRequest(testClient())); !res.OK() {
		t.Fatalf("first send: %+v", res)
	}
	res := p.SendAndUpdate(context.Background(), testRequest(testClient()))
	if res.Code != apperr.CodeQuotaExceeded {
		t.Errorf("code = %q, want %s", res.Code, apperr.CodeQuotaExceeded)
	}
	if h.sender.count() != 1 {
		t.Errorf("sends = %d, want 1", h.sender.count())
	}
}

func TestSendAndUpdate_QuotaBackendError(t *testing.T) {
	p, h := newHarness()
	h.limiter.err = errBoom

	res := p.SendAndUpdate(context.Background(), testRequest(testClient()))
	if res.Code != apperr.CodeQuotaBackend {
		t.Errorf("code = %q, want %s", res.Code, apperr.CodeQuotaBackend)
	}
	if h.sender.count() != 0 {
		t.Error("sender called after quota backend failure")
	}
}

func TestSendAndUpdate_SenderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"plain error", errBoom, apperr.CodeSendFailed},
		{"config error", apperr.Config(apperr.CodeSendConfig, "no sender"), apperr.CodeSendConfig},
		{"auth error", apperr.Transport(apperr.CodeSendAuth, "token"), apperr.CodeSendAuth},
		{"rejected", apperr.Transport(apperr.CodeSendFailed, "HTTP 400"), apperr.CodeSendFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, h := newHarness()
			h.sender.err = tt.err

			res := p.SendAndUpdate(context.Background(), testRequest(testClient()))
			if res.Code != tt.code {
				t.Errorf("code = %q, want %s", res.Code, tt.code)
			}
			if !errors.Is(res.Err, tt.err) {
				t.Errorf("err = %v, want %v", res.Err, tt.err)
			}
			if len(h.cases.calls) != 0 || len(h.log.records) != 0 || len(res.Diagnostics) != 0 {
				t.Error("post-send tasks ran after a failed send")
			}
		})
	}
}

func TestSendAndUpdate_PostSendFailuresDoNotFailSend(t *testing.T) {
	p, h := newHarness()
	h.cases.report = neos.Report{Outcomes: []neos.Outcome{
		{Task: neos.TaskCaseStatus, Err: errBoom},
		{Task: neos.TaskCaseDate, Err: errBoom},
	}}
	h.log.err = apperr.Persistence(apperr.CodeLogWrite, "disk full", errBoom)
	h.audit.err = errBoom

	res := p.SendAndUpdate(context.Background(), testRequest(testClient()))
	if !res.OK() {
		t.Fatalf("result = %+v, want success", res)
	}

	for _, d := range res.Diagnostics {
		if d.Err == nil {
			t.Errorf("%s: expected a recorded failure", d.Task)
		}
	}
}

func TestSendAndUpdate_PostSendTasksSurviveCancellation(t *testing.T) {
	p, h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())

	p.sender = senderFunc(func(context.Context, models.ComposedMessage) error {
		cancel()
		return nil
	})

	res := p.SendAndUpdate(ctx, testRequest(testClient()))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if len(h.log.ctxErrs) != 1 || h.log.ctxErrs[0] != nil {
		t.Errorf("delivery log ran with cancelled context: %v", h.log.ctxErrs)
	}
}

type senderFunc func(ctx context.Context, msg models.ComposedMessage) error

func (f senderFunc) Send(ctx context.Context, msg models.ComposedMessage) error { return f(ctx, msg) }

// TestSendAndUpdate_NonGUIDCaseID wires the real case synchronizer against
// a counting server: no remote call is made and the send still succeeds.
func TestSendAndUpdate_NonGUIDCaseID(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := neos.NewClient(neos.Config{
		HTTPClient: srv.Client(),
		BaseURL:    srv.URL,
		AuthURL:    srv.URL + "/auth",
		Retry:      backoff.NoRetry,
	})

	p, _ := newHarness()
	p.cases = neos.NewSynchronizer(client)

	c := testClient()
	c[models.FieldCaseID] = "12345"

	res := p.SendAndUpdate(context.Background(), testRequest(c))
	if !res.OK() {
		t.Fatalf("result = %+v, want success", res)
	}
	if calls.Load() != 0 {
		t.Errorf("case API calls = %d, want 0", calls.Load())
	}
	if d := res.Diagnostics[0]; d.Task != TaskCaseSync || !d.Skipped {
		t.Errorf("case_sync diagnostic = %+v, want skipped", d)
	}
}

func TestSendAndUpdate_CaseIDFromSubject(t *testing.T) {
	p, h := newHarness()

	c := testClient()
	c[models.FieldCaseID] = "not-a-guid"
	req := testRequest(c)
	req.Message.Subject = "Questionnaire for case " + testCaseID + " (Jane)"

	if res := p.SendAndUpdate(context.Background(), req); !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if len(h.cases.calls) != 1 || h.cases.calls[0] != testCaseID {
		t.Errorf("synced case ids = %v, want [%s]", h.cases.calls, testCaseID)
	}
}

func TestSendAndUpdate_RecordCaseIDWinsOverSubject(t *testing.T) {
	p, h := newHarness()

	req := testRequest(testClient())
	req.Message.Subject = "Re: 00000000-0000-4000-8000-000000000000"

	if res := p.SendAndUpdate(context.Background(), req); !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if len(h.cases.calls) != 1 || h.cases.calls[0] != testCaseID {
		t.Errorf("synced case ids = %v, want [%s]", h.cases.calls, testCaseID)
	}
}

func TestSendAndUpdate_OptionalCollaborators(t *testing.T) {
	sender := &fakeSender{}
	p := New(Deps{Sender: sender})

	res := p.SendAndUpdate(context.Background(), testRequest(testClient()))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if !res.Diagnostics[0].Skipped || !res.Diagnostics[1].Skipped {
		t.Errorf("diagnostics = %+v, want case sync and log skipped", res.Diagnostics)
	}
}

func TestResult_Tag(t *testing.T) {
	if got := (Result{}).Tag(); got != "Sent" {
		t.Errorf("Tag = %q", got)
	}
	if got := (Result{Code: apperr.CodeQuotaExceeded}).Tag(); got != "Failed: EMAIL_QUOTA_001" {
		t.Errorf("Tag = %q", got)
	}
}
