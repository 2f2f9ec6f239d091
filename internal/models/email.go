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

// Package models defines the data structures shared across the mail pipeline.
package models

import "strings"

// Spreadsheet columns read from a client row.
const (
	FieldClientName             = "Case Details First Party Name (First, Last)"
	FieldClientEmail            = "Case Details First Party Details Default Email Account Address"
	FieldCaseNumber             = "Case Number"
	FieldCaseID                 = "CaseID"
	FieldReferringAttorney      = "Referred By Name (Full - Last, First)"
	FieldReferringAttorneyEmail = "Referred By Email"
)

// ClientRecord is one legal case/client row sourced from the dashboard.
// Only a handful of keys are read; the rest are carried through untouched.
type ClientRecord map[string]string

func (c ClientRecord) first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(c[k]); v != "" {
			return v
		}
	}
	return ""
}

// Name returns the client's display name.
func (c ClientRecord) Name() string {
	return c.first(FieldClientName, "name", "ClientName")
}

// Email returns the raw (unsanitized) contact address.
func (c ClientRecord) Email() string { return c.first(FieldClientEmail) }

// CaseNumber returns the case number column.
func (c ClientRecord) CaseNumber() string { return c.first(FieldCaseNumber) }

// CaseID returns the case-management identifier, falling back to the case
// number column which holds the GUID in most exports.
func (c ClientRecord) CaseID() string { return c.first(FieldCaseID, FieldCaseNumber) }

// ReferringAttorney returns the referring attorney's name.
func (c ClientRecord) ReferringAttorney() string { return c.first(FieldReferringAttorney) }

// ReferringAttorneyEmail returns the referring attorney's address, if any.
func (c ClientRecord) ReferringAttorneyEmail() string {
	return c.first(FieldReferringAttorneyEmail)
}

// Attachment is a file attached to an outgoing email.
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// Body content types.
const (
	ContentTypeHTML = "html"
	ContentTypeText = "text"
)

// ComposedMessage is a fully built email ready for a transport. It is
// produced once per send attempt and treated as immutable afterwards.
type ComposedMessage struct {
	To          string       `json:"to"`
	CC          []string     `json:"cc"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	ContentType string       `json:"content_type"`
	Attachments []Attachment `json:"attachments"`
}
