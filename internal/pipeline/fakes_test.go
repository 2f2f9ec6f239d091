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
	"sync"

	"github.com/bcem/legalmail/internal/audit"
	"github.com/bcem/legalmail/internal/deliverylog"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/neos"
	"github.com/bcem/legalmail/internal/quota"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []models.ComposedMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg models.ComposedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeCases struct {
	calls  []string
	report neos.Report
}

func (f *fakeCases) Sync(_ context.Context, caseID string) neos.Report {
	f.calls = append(f.calls, caseID)
	r := f.report
	r.CaseID = caseID
	return r
}

type fakeLog struct {
	records []deliverylog.Record
	ctxErrs []error
	err     error
}

func (f *fakeLog) Log(ctx context.Context, rec deliverylog.Record) error {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeLimiter struct {
	calls int
	err   error
}

func (f *fakeLimiter) Consume(context.Context, quota.Key, int64) error {
	f.calls++
	return f.err
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
	usage  []audit.Usage
	err    error
}

func (f *fakeAudit) RecordEvent(_ context.Context, e audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeAudit) RecordUsage(_ context.Context, u audit.Usage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.usage = append(f.usage, u)
	return nil
}

func (f *fakeAudit) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Name)
	}
	return out
}

type staticResolver struct {
	path string
	err  error
}

func (r staticResolver) Resolve(context.Context, string) (string, error) {
	return r.path, r.err
}

var errBoom = errors.New("boom")
