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

// Package sanitize strips unsafe characters from client values before they
// enter templates or the delivery log, and redacts PII from log output.
package sanitize

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

// InvalidEmail is the sentinel address meaning "no usable contact email
// was found".
const InvalidEmail = "invalid@example.com"

var (
	scriptRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleRe  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)

	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phoneRe = regexp.MustCompile(`\(?\b\d{3}\)?[-. ]?\d{3}[-. ]\d{4}\b`)
)

// Text removes script and style blocks, HTML tags and control characters
// (newlines and tabs are kept), then trims surrounding whitespace.
func Text(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = styleRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")

	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// Email normalizes an address. Empty or unparseable input yields
// InvalidEmail.
func Email(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return InvalidEmail
	}

	addr, err := mail.ParseAddress(s)
	if err != nil {
		return InvalidEmail
	}

	address := strings.ToLower(addr.Address)
	at := strings.LastIndex(address, "@")
	if at <= 0 || !strings.Contains(address[at+1:], ".") {
		return InvalidEmail
	}
	return address
}

// IsSentinel reports whether addr is empty or the sentinel invalid address.
func IsSentinel(addr string) bool {
	addr = strings.TrimSpace(addr)
	return addr == "" || strings.EqualFold(addr, InvalidEmail)
}

// MaskEmail keeps the domain and the first character of the local part.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return email
	}
	if len(local) == 1 {
		return "*@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
}

// Redact masks e-mail addresses, SSN-shaped and phone-shaped digit runs in
// free text.
func Redact(s string) string {
	s = emailRe.ReplaceAllStringFunc(s, MaskEmail)
	s = ssnRe.ReplaceAllString(s, "[SSN]")
	s = phoneRe.ReplaceAllString(s, "[PHONE]")
	return s
}
