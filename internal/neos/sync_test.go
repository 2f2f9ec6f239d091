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

package neos

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/backoff"
)

func TestSync_InvalidCaseIDMakesNoCalls(t *testing.T) {
	fn := &fakeNeos{}
	srv := httptest.NewServer(fn.handler(t))
	defer srv.Close()

	s := NewSynchronizer(newTestClient(srv, backoff.NoRetry))
	for _, id := range []string{"", "12345", "3f2504e0-4f89-11d3-9a0c-0305e82c330", "zzzzzzzz-4f89-11d3-9a0c-0305e82c3301"} {
		r := s.Sync(context.Background(), id)
		if !r.Skipped {
			t.Errorf("Sync(%q) not skipped", id)
		}
		if !errors.Is(r.SkipReason, &apperr.Error{Code: apperr.CodeNeosCase}) {
			t.Errorf("Sync(%q) skip reason = %v", id, r.SkipReason)
		}
	}
	if n := len(fn.snapshot()); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestSync_AllTasks(t *testing.T) {
	fn := &fakeNeos{}
	srv := httptest.NewServer(fn.handler(t))
	defer srv.Close()

	r := NewSynchronizer(newTestClient(srv, backoff.NoRetry)).Sync(context.Background(), testCaseID)
	if r.Skipped {
		t.Fatal("unexpected skip")
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var tasks []string
	for _, o := range r.Outcomes {
		tasks = append(tasks, o.Task)
	}
	want := []string{TaskCaseStatus, TaskToken, TaskCaseDate, TaskClassification}
	if len(tasks) != len(want) {
		t.Fatalf("tasks = %v, want %v", tasks, want)
	}
	for i := range want {
		if tasks[i] != want[i] {
			t.Errorf("tasks[%d] = %s, want %s", i, tasks[i], want[i])
		}
	}

	var methods []string
	for _, req := range fn.snapshot() {
		methods = append(methods, req.Method+" "+req.Path)
	}
	wantCalls := []string{
		"POST /auth",
		"PATCH /cases/" + testCaseID,
		"POST /auth",
		"PUT /cases/v2/" + testCaseID + "/caseDates",
		"PATCH /cases/" + testCaseID,
	}
	if len(methods) != len(wantCalls) {
		t.Fatalf("calls = %v, want %v", methods, wantCalls)
	}
	for i := range wantCalls {
		if methods[i] != wantCalls[i] {
			t.Errorf("call[%d] = %s, want %s", i, methods[i], wantCalls[i])
		}
	}
}

func TestSync_FailuresAreCollected(t *testing.T) {
	fn := &fakeNeos{fail: map[string]int{
		"PUT /cases/v2/" + testCaseID + "/caseDates": http.StatusInternalServerError,
	}}
	srv := httptest.NewServer(fn.handler(t))
	defer srv.Close()

	r := NewSynchronizer(newTestClient(srv, backoff.NoRetry)).Sync(context.Background(), testCaseID)
	if r.Err() == nil {
		t.Fatal("expected joined error")
	}

	failed := map[string]bool{}
	for _, o := range r.Outcomes {
		failed[o.Task] = o.Err != nil
	}
	if !failed[TaskCaseDate] {
		t.Error("case_date should have failed")
	}
	if failed[TaskClassification] || failed[TaskCaseStatus] {
		t.Errorf("unexpected failures: %v", failed)
	}
}

func TestSync_TokenFailureStopsRemainingUpdates(t *testing.T) {
	fn := &fakeNeos{authCode: http.StatusForbidden}
	srv := httptest.NewServer(fn.handler(t))
	defer srv.Close()

	r := NewSynchronizer(newTestClient(srv, backoff.NoRetry)).Sync(context.Background(), testCaseID)
	if len(r.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want case_status and token", r.Outcomes)
	}
	for _, o := range r.Outcomes {
		if o.Err == nil {
			t.Errorf("%s: expected error", o.Task)
		}
	}
}
