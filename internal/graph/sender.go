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

// Package graph submits composed messages through the Microsoft Graph
// sendMail endpoint using an app-only client-credential token.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/backoff"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/sanitize"
)

const (
	// DefaultBaseURL is the Graph v1.0 root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	graphScope = "https://graph.microsoft.com/.default"

	// maxErrorBody caps how much of a rejected response is kept for
	// diagnostics.
	maxErrorBody = 4096
)

// Sender delivers messages through Graph.
type Sender struct {
	httpClient   *http.Client
	graphBaseURL string
	senderEmail  string
	creds        *clientcredentials.Config
	retry        backoff.Policy
}

// SenderConfig holds the Graph sender settings.
type SenderConfig struct {
	HTTPClient   *http.Client
	GraphBaseURL string
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Entra ID token endpoint derived from TenantID.
	TokenURL    string
	SenderEmail string
	Retry       backoff.Policy
}

// NewSender creates a Graph mail sender.
func NewSender(cfg SenderConfig) *Sender {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.GraphBaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID)
	}

	return &Sender{
		httpClient:   httpClient,
		graphBaseURL: strings.TrimRight(baseURL, "/"),
		senderEmail:  strings.TrimSpace(cfg.SenderEmail),
		creds: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		retry: cfg.Retry,
	}
}

// Send submits msg. A fresh token is requested for every call; success is
// the provider's 202 Accepted.
func (s *Sender) Send(ctx context.Context, msg models.ComposedMessage) error {
	if s.senderEmail == "" {
		return apperr.Config(apperr.CodeSendConfig, "sender email is not configured")
	}
	if sanitize.IsSentinel(msg.To) {
		return apperr.Validation(apperr.CodeSendRecipient, "recipient address is missing")
	}

	token, err := s.token(ctx)
	if err != nil {
		return apperr.Wrap(err, apperr.KindTransport, apperr.CodeSendAuth, "acquire graph token")
	}

	body, err := json.Marshal(buildSendMail(msg))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInternal, apperr.CodeSendFailed, "marshal sendMail body")
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", s.graphBaseURL, url.PathEscape(s.senderEmail))

	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.post(ctx, endpoint, token, body)
	})
	if err != nil {
		return err
	}

	slog.Info("email accepted by graph",
		"to", sanitize.MaskEmail(msg.To),
		"cc", len(msg.CC),
		"attachments", len(msg.Attachments),
	)
	return nil
}

func (s *Sender) post(ctx context.Context, endpoint, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(err, apperr.KindInternal, apperr.CodeSendFailed, "build sendMail request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return backoff.Retryable(apperr.Wrap(err, apperr.KindTransport, apperr.CodeSendFailed, "post sendMail"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	sendErr := apperr.Transport(apperr.CodeSendFailed, "graph sendMail rejected").
		WithDetails(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))

	slog.Warn("graph sendMail returned non-accepted status",
		"status", resp.StatusCode,
	)

	if backoff.RetryableStatus(resp.StatusCode) {
		return backoff.Retryable(sendErr)
	}
	return sendErr
}

// token performs a client-credential exchange. The oauth2 HTTP client
// context key routes the exchange through the sender's client.
func (s *Sender) token(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	tok, err := s.creds.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client credentials exchange: %w", err)
	}
	return tok.AccessToken, nil
}
