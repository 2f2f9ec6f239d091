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

// Package deliverylog appends one entry per sent email to a per-tenant CSV
// file and a per-tenant JSON array.
package deliverylog

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/neos"
	"github.com/bcem/legalmail/internal/sanitize"
)

// DefaultTrackingBase is the open-tracking host embedded in each entry.
const DefaultTrackingBase = "https://tracking.legalhub.app"

// Entry is one delivery record. JSON keys and CSV headers share the same
// column names.
type Entry struct {
	Timestamp       string `json:"Timestamp"`
	ClientName      string `json:"Client Name"`
	Email           string `json:"Email"`
	Subject         string `json:"Subject"`
	Body            string `json:"Body"`
	TemplatePath    string `json:"Template Path"`
	CCList          string `json:"CC List"`
	CaseID          string `json:"Case ID"`
	ClassCodeBefore string `json:"Class Code Before"`
	ClassCodeAfter  string `json:"Class Code After"`
	UserID          string `json:"User ID"`
	TenantID        string `json:"Tenant ID"`
	OpenTrackingURL string `json:"OpenTrackingURL"`
}

var header = []string{
	"Timestamp", "Client Name", "Email", "Subject", "Body", "Template Path",
	"CC List", "Case ID", "Class Code Before", "Class Code After", "User ID",
	"Tenant ID", "OpenTrackingURL",
}

func (e Entry) row() []string {
	return []string{
		e.Timestamp, e.ClientName, e.Email, e.Subject, e.Body, e.TemplatePath,
		e.CCList, e.CaseID, e.ClassCodeBefore, e.ClassCodeAfter, e.UserID,
		e.TenantID, e.OpenTrackingURL,
	}
}

// Record is what the orchestrator hands over after a successful send.
type Record struct {
	TenantID     string
	UserID       string
	Client       models.ClientRecord
	Subject      string
	Body         string
	TemplatePath string
	CC           []string
}

// Writer persists delivery entries under a directory.
type Writer struct {
	dir          string
	trackingBase string
	now          func() time.Time

	// locks holds one *sync.Mutex per tenant.
	locks sync.Map
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir, trackingBase string) *Writer {
	if trackingBase == "" {
		trackingBase = DefaultTrackingBase
	}
	return &Writer{
		dir:          dir,
		trackingBase: strings.TrimRight(trackingBase, "/"),
		now:          time.Now,
	}
}

// Log appends rec to both stores. Both are always attempted; any failure
// is returned as a single EMAIL_LOG_001 error.
func (w *Writer) Log(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return apperr.Persistence(apperr.CodeLogWrite, "delivery log cancelled", err)
	}

	entry := w.entry(rec)
	tenant := fileSafe(rec.TenantID)

	mu := w.lock(tenant)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return apperr.Persistence(apperr.CodeLogWrite, "create log directory", err)
	}

	csvErr := w.appendCSV(tenant, entry)
	jsonErr := w.appendJSON(tenant, entry)
	if err := errors.Join(csvErr, jsonErr); err != nil {
		return apperr.Persistence(apperr.CodeLogWrite, "write delivery log", err)
	}
	return nil
}

// ReadEntries returns the JSON store for tenant. A missing or corrupt file
// yields no entries.
func (w *Writer) ReadEntries(tenant string) ([]Entry, error) {
	tenant = fileSafe(tenant)
	mu := w.lock(tenant)
	mu.Lock()
	defer mu.Unlock()
	return w.readJSON(tenant)
}

func (w *Writer) entry(rec Record) Entry {
	caseID := sanitize.Text(rec.Client.CaseID())
	userID := sanitize.Text(rec.UserID)
	tenantID := sanitize.Text(rec.TenantID)
	name := rec.Client.Name()
	if name == "" {
		name = "Unknown"
	}
	return Entry{
		Timestamp:       w.now().Format(time.RFC3339Nano),
		ClientName:      sanitize.Text(name),
		Email:           sanitize.Email(rec.Client.Email()),
		Subject:         sanitize.Text(rec.Subject),
		Body:            sanitize.Text(rec.Body),
		TemplatePath:    filepath.Clean(rec.TemplatePath),
		CCList:          ccList(rec.CC),
		CaseID:          caseID,
		ClassCodeBefore: neos.StatusIntakeCompleted,
		ClassCodeAfter:  neos.StatusQuestionnaireSent,
		UserID:          userID,
		TenantID:        tenantID,
		OpenTrackingURL: fmt.Sprintf("%s/open/%s/%s/%s", w.trackingBase, tenantID, userID, caseID),
	}
}

// ccList joins the valid CC addresses, normalized.
func ccList(cc []string) string {
	out := make([]string, 0, len(cc))
	for _, addr := range cc {
		if a := sanitize.Email(addr); !sanitize.IsSentinel(a) {
			out = append(out, a)
		}
	}
	return strings.Join(out, ", ")
}

func (w *Writer) lock(tenant string) *sync.Mutex {
	mu, _ := w.locks.LoadOrStore(tenant, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (w *Writer) csvPath(tenant string) string {
	return filepath.Join(w.dir, tenant+"_sent_email_log.csv")
}

func (w *Writer) jsonPath(tenant string) string {
	return filepath.Join(w.dir, tenant+"_sent_email_log.json")
}

func (w *Writer) appendCSV(tenant string, e Entry) error {
	f, err := os.OpenFile(w.csvPath(tenant), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat csv log: %w", err)
	}

	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	if err := cw.Write(e.row()); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv log: %w", err)
	}
	return nil
}

func (w *Writer) appendJSON(tenant string, e Entry) error {
	entries, _ := w.readJSON(tenant)
	entries = append(entries, e)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json log: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, tenant+"_sent_email_log.*.tmp")
	if err != nil {
		return fmt.Errorf("create temp json log: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp json log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp json log: %w", err)
	}
	if err := os.Rename(tmpName, w.jsonPath(tenant)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace json log: %w", err)
	}
	return nil
}

// readJSON treats a missing or undecodable file as an empty array.
func (w *Writer) readJSON(tenant string) ([]Entry, error) {
	data, err := os.ReadFile(w.jsonPath(tenant))
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return []Entry{}, fmt.Errorf("read json log: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return []Entry{}, nil
	}
	return entries, nil
}

// fileSafe keeps tenant ids from escaping the log directory.
func fileSafe(tenant string) string {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return "unknown-tenant"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '.':
			return '-'
		}
		return r
	}, tenant)
}
