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

// Package template merges two-section email templates with client values
// and resolves template names to local files, falling back to a remote
// template cache.
//
// Template format:
//
//	Subject: Welcome {{ClientName}}
//	Body:
//	<html or text content with {{placeholders}}>
package template

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/sanitize"
)

const (
	subjectMarker = "Subject:"
	bodyMarker    = "Body:"

	// KeyReferringAttorneyEmail, when present in the replacements, becomes
	// the sole CC recipient.
	KeyReferringAttorneyEmail = "ReferringAttorneyEmail"
)

var placeholderRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Merged is the result of merging a template.
type Merged struct {
	Subject string
	Body    string
	CC      []string
}

// Merge loads the template at path and substitutes every {{key}} with the
// sanitized value from replacements. Unknown placeholders are left as-is.
func Merge(path string, replacements map[string]string) (Merged, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Merged{}, apperr.Validation(apperr.CodeTemplateNotFound,
				fmt.Sprintf("template %q not found", path))
		}
		return Merged{}, apperr.Wrap(err, apperr.KindInternal, apperr.CodeTemplateNotFound,
			fmt.Sprintf("read template %q", path))
	}

	return MergeString(string(data), replacements)
}

// MergeString merges template content that is already in memory.
func MergeString(content string, replacements map[string]string) (Merged, error) {
	subject, body, err := split(content)
	if err != nil {
		return Merged{}, err
	}

	subject = substitute(subject, replacements)
	body = substitute(body, replacements)

	cc := []string{}
	if v := strings.TrimSpace(replacements[KeyReferringAttorneyEmail]); v != "" {
		cc = append(cc, v)
	}

	return Merged{
		Subject: subject,
		Body:    WrapHTML(body),
		CC:      cc,
	}, nil
}

// substitute replaces placeholders in a single pass over s. Values are
// never rescanned, so a value containing "{{key}}" stays literal.
func substitute(s string, replacements map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		value, ok := replacements[m[2:len(m)-2]]
		if !ok {
			return m
		}
		return sanitize.Text(value)
	})
}

// split separates the subject line from the body. The body starts after the
// first Body: marker that follows Subject:, so later literal "Body:" text is
// kept in the content.
func split(content string) (subject, body string, err error) {
	si := strings.Index(content, subjectMarker)
	if si < 0 {
		return "", "", apperr.Validation(apperr.CodeTemplateMalformed,
			"template must contain both 'Subject:' and 'Body:' sections")
	}
	rest := content[si+len(subjectMarker):]

	bi := strings.Index(rest, bodyMarker)
	if bi < 0 {
		return "", "", apperr.Validation(apperr.CodeTemplateMalformed,
			"template must contain both 'Subject:' and 'Body:' sections")
	}

	subject = strings.TrimSpace(rest[:bi])
	body = strings.TrimSpace(rest[bi+len(bodyMarker):])
	return subject, body, nil
}

// IsHTMLDocument reports whether body already starts with an HTML document
// marker.
func IsHTMLDocument(body string) bool {
	lower := strings.ToLower(strings.TrimSpace(body))
	return strings.HasPrefix(lower, "<html") || strings.HasPrefix(lower, "<!doctype")
}

// WrapHTML wraps body in a minimal UTF-8 HTML document unless it already is
// one.
func WrapHTML(body string) string {
	if IsHTMLDocument(body) {
		return body
	}
	return "<!DOCTYPE html>\n<html>\n<head><meta charset=\"UTF-8\"></head>\n<body>\n" +
		body +
		"\n</body>\n</html>"
}
