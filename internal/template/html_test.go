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


package template

import (
	"strings"
	"testing"
)

func TestCleanHTMLBody(t *testing.T) {
	doc := "<html><body><p>kept</p></body></html>"
	if got := CleanHTMLBody(doc); got != doc {
		t.Errorf("document rewritten: %q", got)
	}

	got := CleanHTMLBody("<p>Hello <b>there")
	if !strings.HasPrefix(got, "<!DOCTYPE html>") {
		t.Errorf("fragment not wrapped: %q", got)
	}
	if !strings.Contains(got, "<p>Hello <b>there</b></p>") {
		t.Errorf("fragment not balanced: %q", got)
	}
}
