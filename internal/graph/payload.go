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

package graph

import (
	"encoding/base64"
	"strings"

	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/template"
)

// sendMailRequest is the body of POST /users/{sender}/sendMail.
type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems string       `json:"saveToSentItems"`
}

type graphMessage struct {
	Subject      string            `json:"subject"`
	Body         graphBody         `json:"body"`
	ToRecipients []graphRecipient  `json:"toRecipients"`
	CcRecipients []graphRecipient  `json:"ccRecipients"`
	Attachments  []graphAttachment `json:"attachments"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

const fileAttachmentType = "#microsoft.graph.fileAttachment"

func recipient(addr string) graphRecipient {
	var r graphRecipient
	r.EmailAddress.Address = addr
	return r
}

// buildSendMail converts a composed message into the Graph request body.
func buildSendMail(msg models.ComposedMessage) sendMailRequest {
	contentType := graphContentType(msg.ContentType)
	body := msg.Body
	if contentType == "HTML" {
		body = template.CleanHTMLBody(body)
	}

	cc := make([]graphRecipient, 0, len(msg.CC))
	for _, addr := range msg.CC {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		cc = append(cc, recipient(addr))
	}

	attachments := make([]graphAttachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, graphAttachment{
			ODataType:    fileAttachmentType,
			Name:         a.Filename,
			ContentType:  "application/octet-stream",
			ContentBytes: base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	return sendMailRequest{
		Message: graphMessage{
			Subject:      msg.Subject,
			Body:         graphBody{ContentType: contentType, Content: body},
			ToRecipients: []graphRecipient{recipient(msg.To)},
			CcRecipients: cc,
			Attachments:  attachments,
		},
		SaveToSentItems: "true",
	}
}

// graphContentType maps our content type onto Graph's casing.
func graphContentType(ct string) string {
	if strings.EqualFold(strings.TrimSpace(ct), models.ContentTypeText) {
		return "Text"
	}
	return "HTML"
}
