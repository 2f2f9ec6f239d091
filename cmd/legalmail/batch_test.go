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

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/identity"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/pipeline"
)

const emailCol = models.FieldClientEmail

type fakeMailer struct {
	// failFor maps a client e-mail to the send result code returned for it.
	failFor map[string]string

	builds   atomic.Int32
	sends    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32

	mu      sync.Mutex
	tenants []string
}

func (f *fakeMailer) Build(_ context.Context, id identity.Identity, client models.ClientRecord, templateName string, _ []models.Attachment) (*pipeline.Draft, error) {
	f.builds.Add(1)
	f.mu.Lock()
	f.tenants = append(f.tenants, id.TenantID)
	f.mu.Unlock()

	if client.Email() == "" {
		return nil, apperr.Validation(apperr.CodeBuildRecipient, "invalid email")
	}
	return &pipeline.Draft{Identity: id, Client: client, TemplateName: templateName}, nil
}

func (f *fakeMailer) SendAndUpdate(_ context.Context, req pipeline.SendRequest) pipeline.Result {
	f.sends.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	if code, ok := f.failFor[req.Client.Email()]; ok {
		return pipeline.Result{Code: code}
	}
	return pipeline.Result{}
}

func TestReadRows(t *testing.T) {
	in := "\ufeffname, " + emailCol + ",Case Number\n" +
		"Jane Doe,jane@example.com,2024-001\n" +
		",,\n" +
		"John Roe,john@example.com\n"

	rows, err := readRows(strings.NewReader(in))
	if err != nil {
		t.Fatalf("readRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (blank row dropped)", len(rows))
	}
	if rows[0].Name() != "Jane Doe" || rows[0].Email() != "jane@example.com" || rows[0].CaseNumber() != "2024-001" {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[1].CaseNumber() != "" {
		t.Errorf("short row case number = %q, want empty", rows[1].CaseNumber())
	}
}

func TestReadRows_Errors(t *testing.T) {
	if _, err := readRows(strings.NewReader("")); err == nil {
		t.Error("expected error for empty csv")
	}
	if _, err := readRows(strings.NewReader("a,b\n\"unterminated,1\n")); err == nil {
		t.Error("expected error for malformed csv")
	}
}

func batchRows(emails ...string) []models.ClientRecord {
	rows := make([]models.ClientRecord, 0, len(emails))
	for i, e := range emails {
		rows = append(rows, models.ClientRecord{"name": "Client " + string(rune('A'+i)), emailCol: e})
	}
	return rows
}

func TestBatchJob_Run(t *testing.T) {
	m := &fakeMailer{failFor: map[string]string{"c@example.com": apperr.CodeSendFailed}}
	job := batchJob{
		mailer:      m,
		identity:    identity.Identity{UserID: "amy@firm.com", TenantID: "firm-com"},
		template:    "welcome",
		concurrency: 2,
	}

	results := job.run(context.Background(), batchRows("a@example.com", "", "c@example.com", "d@example.com"))

	want := []struct {
		status string
		code   string
	}{
		{"Sent", ""},
		{"Failed: " + apperr.CodeBuildRecipient, apperr.CodeBuildRecipient},
		{"Failed: " + apperr.CodeSendFailed, apperr.CodeSendFailed},
		{"Sent", ""},
	}
	for i, w := range want {
		if results[i].Row != i+1 {
			t.Errorf("results[%d].Row = %d, want %d", i, results[i].Row, i+1)
		}
		if results[i].Status != w.status || results[i].Code != w.code {
			t.Errorf("results[%d] = %+v, want status %q code %q", i, results[i], w.status, w.code)
		}
	}
	if got := m.sends.Load(); got != 3 {
		t.Errorf("sends = %d, want 3 (build failure is not sent)", got)
	}
	if got := m.peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
	for _, tenant := range m.tenants {
		if tenant != "firm-com" {
			t.Errorf("tenant = %q, want firm-com", tenant)
		}
	}
}

func TestBatchJob_DryRun(t *testing.T) {
	m := &fakeMailer{}
	job := batchJob{mailer: m, template: "welcome", concurrency: 4, dryRun: true}

	results := job.run(context.Background(), batchRows("a@example.com", "b@example.com"))

	for _, r := range results {
		if r.Status != "Built" {
			t.Errorf("row %d status = %q, want Built", r.Row, r.Status)
		}
	}
	if m.sends.Load() != 0 {
		t.Error("dry run sent email")
	}
	if m.builds.Load() != 2 {
		t.Errorf("builds = %d, want 2", m.builds.Load())
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	err := report(&buf, []rowResult{
		{Row: 1, Client: "Jane Doe", To: "j***@example.com", Status: "Sent"},
		{Row: 2, Client: "John Roe", Status: "Failed: EMAIL_SEND_002", Code: apperr.CodeSendFailed},
	})

	if err == nil || !strings.Contains(err.Error(), "1 of 2 rows failed") {
		t.Errorf("err = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ROW", "Jane Doe", "Failed: EMAIL_SEND_002", "2 rows, 1 succeeded, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := report(&buf, []rowResult{{Row: 1, Status: "Sent"}}); err != nil {
		t.Errorf("all rows sent: %v", err)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSendBatchCmd_RequiredFlags(t *testing.T) {
	_, err := execute(t, "send-batch", "--template", "welcome")
	if err == nil || !strings.Contains(err.Error(), "csv") {
		t.Errorf("err = %v, want missing --csv", err)
	}
}

func TestSendBatchCmd_InvalidConcurrency(t *testing.T) {
	_, err := execute(t, "send-batch", "--csv", "rows.csv", "--template", "welcome", "--concurrency", "0")
	if err == nil || !strings.Contains(err.Error(), "concurrency") {
		t.Errorf("err = %v, want concurrency error", err)
	}
}

func TestNeosTokenCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"AccessToken":"abcdef"}`))
	}))
	defer srv.Close()

	t.Setenv("CONFIG_PATH", "")
	t.Setenv("NEOS_AUTH_URL", srv.URL)
	t.Setenv("NEOS_API_KEY", "key")
	t.Setenv("LOG_DIR", t.TempDir())

	out, err := execute(t, "neos-token", "--log-level", "error")
	if err != nil {
		t.Fatalf("neos-token: %v", err)
	}
	if !strings.Contains(out, "token acquired (6 characters)") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "abcdef") {
		t.Error("token printed")
	}
}

func TestNeosTokenCmd_NotConfigured(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("NEOS_AUTH_URL", "")
	t.Setenv("NEOS_API_KEY", "")

	_, err := execute(t, "neos-token")
	if err == nil || !strings.Contains(err.Error(), "NEOS_AUTH_URL") {
		t.Errorf("err = %v", err)
	}
}
