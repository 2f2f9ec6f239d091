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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/audit"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/template"
)

func newBuildPipeline(t *testing.T, content string) (*Pipeline, *fakeAudit) {
	t.Helper()
	dir := t.TempDir()
	if content != "" {
		if err := os.WriteFile(filepath.Join(dir, "welcome.txt"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	rec := &fakeAudit{}
	p := New(Deps{
		Templates: template.NewResolver(template.ResolverConfig{BaseDir: dir, CacheDir: filepath.Join(dir, "cache")}),
		Sender:    &fakeSender{},
		Audit:     rec,
	})
	return p, rec
}

func TestBuild_MergesClientValues(t *testing.T) {
	p, rec := newBuildPipeline(t, "Subject: Welcome {{name}} ({{ID}})\nBody:\nHello {{name}}, referred by {{RA}}")

	client := testClient()
	client[models.FieldReferringAttorney] = "Smith, Al"
	client[models.FieldReferringAttorneyEmail] = "RA@Firm.com"

	d, err := p.Build(context.Background(), testIdentity, client, "welcome.txt", []models.Attachment{{Filename: "a.pdf"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.Message.Subject != "Welcome Jane Doe (2026-0042)" {
		t.Errorf("subject = %q", d.Message.Subject)
	}
	if !strings.Contains(d.Message.Body, "Hello Jane Doe, referred by Smith, Al") {
		t.Errorf("body = %q", d.Message.Body)
	}
	if d.Message.To != "jane@example.com" {
		t.Errorf("to = %q", d.Message.To)
	}
	if len(d.Message.CC) != 1 || d.Message.CC[0] != "ra@firm.com" {
		t.Errorf("cc = %v", d.Message.CC)
	}
	if len(d.Message.Attachments) != 1 {
		t.Errorf("attachments = %d", len(d.Message.Attachments))
	}
	if names := rec.names(); len(names) != 1 || names[0] != audit.EventEmailBuilt {
		t.Errorf("audit events = %v", names)
	}

	req := d.Request()
	if req.TemplateName != "welcome.txt" || req.Message.Subject != d.Message.Subject {
		t.Errorf("request = %+v", req)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name     string
		template string
		email    string
		code     string
	}{
		{"invalid recipient", "Subject: S\nBody:\nB", "nobody", apperr.CodeBuildRecipient},
		{"missing template", "", "jane@example.com", apperr.CodeBuildTemplate},
		{"malformed template", "no markers here", "jane@example.com", apperr.CodeBuildMerge},
		{"empty subject", "Subject:\nBody:\nB", "jane@example.com", apperr.CodeBuildMerge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := newBuildPipeline(t, tt.template)
			client := testClient()
			client[models.FieldClientEmail] = tt.email

			_, err := p.Build(context.Background(), testIdentity, client, "welcome.txt", nil)
			if !errors.Is(err, &apperr.Error{Code: tt.code}) {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
			if len(rec.names()) != 0 {
				t.Error("audit event recorded for a failed build")
			}
		})
	}
}

func TestBuild_Cancelled(t *testing.T) {
	p, _ := newBuildPipeline(t, "Subject: S\nBody:\nB")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Build(ctx, testIdentity, testClient(), "welcome.txt", nil)
	if !errors.Is(err, &apperr.Error{Code: apperr.CodeBuildInternal}) {
		t.Errorf("err = %v, want %s", err, apperr.CodeBuildInternal)
	}
}

func TestReplacements_Aliases(t *testing.T) {
	client := testClient()
	client[models.FieldClientName] = "<b>Jane</b>"

	repl := Replacements(client)
	if repl["name"] != "Jane" || repl["ClientName"] != "Jane" {
		t.Errorf("name aliases = %q / %q", repl["name"], repl["ClientName"])
	}
	if repl["ID"] != "2026-0042" || repl["CaseNumber"] != "2026-0042" {
		t.Errorf("case number aliases = %q / %q", repl["ID"], repl["CaseNumber"])
	}
	if _, ok := repl[template.KeyReferringAttorneyEmail]; ok {
		t.Error("cc key set without a referring attorney email")
	}
}
