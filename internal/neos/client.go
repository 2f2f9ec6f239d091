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

// Package neos talks to the NEOS case-management API: partner token
// exchange, classification and case-date updates, and case status.
package neos

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

	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/backoff"
)

const (
	DefaultBaseURL    = "https://staging-api.neos-cloud.com"
	DefaultClassID    = "cd4b826f-1781-4769-9a70-b2dc01461be2"
	DefaultCaseDateID = "63af2451-1838-4959-9203-b2dc01311d01"

	StatusIntakeCompleted   = "Intake Completed"
	StatusQuestionnaireSent = "Questionnaire Sent"

	// caseDateSuffix pins the stamped case date to midnight UTC.
	caseDateSuffix = "T00:00:00Z"

	maxErrorBody = 4096
)

// Config holds the NEOS endpoints and partner credentials.
type Config struct {
	HTTPClient    *http.Client
	BaseURL       string
	AuthURL       string
	CompanyID     string
	IntegrationID string
	APIKey        string
	ClassID       string
	CaseDateID    string
	Retry         backoff.Policy
	// Now defaults to time.Now.
	Now func() time.Time
}

// Client is a NEOS REST client.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	authURL       string
	companyID     string
	integrationID string
	apiKey        string
	classID       string
	caseDateID    string
	retry         backoff.Policy
	now           func() time.Time
}

// NewClient creates a NEOS client, filling unset identifiers with the
// deployment defaults.
func NewClient(cfg Config) *Client {
	c := &Client{
		httpClient:    cfg.HTTPClient,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		authURL:       cfg.AuthURL,
		companyID:     cfg.CompanyID,
		integrationID: cfg.IntegrationID,
		apiKey:        cfg.APIKey,
		classID:       cfg.ClassID,
		caseDateID:    cfg.CaseDateID,
		retry:         cfg.Retry,
		now:           cfg.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.classID == "" {
		c.classID = DefaultClassID
	}
	if c.caseDateID == "" {
		c.caseDateID = DefaultCaseDateID
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type authRequest struct {
	CompanyID     string `json:"companyId"`
	IntegrationID string `json:"integrationId"`
	APIKey        string `json:"apiKey"`
}

type authResponse struct {
	AccessToken string `json:"AccessToken"`
}

// Authenticate exchanges the partner credentials for an access token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.authURL == "" {
		return "", apperr.Config(apperr.CodeNeosAuth, "neos auth url is not configured")
	}

	body, err := json.Marshal(authRequest{
		CompanyID:     c.companyID,
		IntegrationID: c.integrationID,
		APIKey:        c.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshal auth request: %w", err)
	}

	var token string
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build auth request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Retryable(apperr.Wrap(err, apperr.KindTransport, apperr.CodeNeosAuth, "post neos auth"))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			authErr := apperr.Transport(apperr.CodeNeosAuth, "neos auth failed").
				WithDetails(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, readSnippet(resp.Body)))
			if backoff.RetryableStatus(resp.StatusCode) {
				return backoff.Retryable(authErr)
			}
			return authErr
		}

		var ar authResponse
		if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
			return apperr.Wrap(err, apperr.KindTransport, apperr.CodeNeosAuth, "decode neos auth response")
		}
		if ar.AccessToken == "" {
			return apperr.Transport(apperr.CodeNeosAuth, "neos auth response has no AccessToken")
		}
		token = ar.AccessToken
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

type caseDate struct {
	CaseDateID                       string `json:"CaseDateId"`
	Date                             string `json:"Date"`
	DuplicateCompletedChecklistItems bool   `json:"DuplicateCompletedChecklistItems"`
}

type caseDatesRequest struct {
	CaseDates []caseDate `json:"CaseDates"`
}

// UpdateClassification sets the case's ClassId to the configured class.
func (c *Client) UpdateClassification(ctx context.Context, caseID, token string) error {
	return c.send(ctx, http.MethodPatch, c.caseURL(caseID), token, "application/json-patch+json",
		[]patchOp{{Op: "replace", Path: "/ClassId", Value: c.classID}})
}

// UpdateCaseDateLabel stamps the configured case date with today's date.
func (c *Client) UpdateCaseDateLabel(ctx context.Context, caseID, token string) error {
	payload := caseDatesRequest{CaseDates: []caseDate{{
		CaseDateID: c.caseDateID,
		Date:       c.now().UTC().Format(time.DateOnly) + caseDateSuffix,
	}}}
	return c.send(ctx, http.MethodPut, c.baseURL+"/cases/v2/"+url.PathEscape(caseID)+"/caseDates",
		token, "application/json", payload)
}

// UpdateCaseStatus authenticates and sets the case Status.
func (c *Client) UpdateCaseStatus(ctx context.Context, caseID, status string) error {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodPatch, c.caseURL(caseID), token, "application/json-patch+json",
		[]patchOp{{Op: "replace", Path: "/Status", Value: status}})
}

func (c *Client) caseURL(caseID string) string {
	return c.baseURL + "/cases/" + url.PathEscape(caseID)
}

// send issues a JSON request and accepts 200 or 204.
func (c *Client) send(ctx context.Context, method, endpoint, token, contentType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", method, endpoint, err)
	}

	return c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return backoff.Retryable(apperr.Wrap(err, apperr.KindTransport, apperr.CodeNeosHTTP,
				fmt.Sprintf("%s %s", method, endpoint)))
		}
		defer resp.Body.Close()

		slog.Debug("neos response", "method", method, "url", endpoint, "status", resp.StatusCode)

		switch resp.StatusCode {
		case http.StatusOK, http.StatusNoContent:
			return nil
		}

		httpErr := apperr.Transport(apperr.CodeNeosHTTP, fmt.Sprintf("%s %s rejected", method, endpoint)).
			WithDetails(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, readSnippet(resp.Body)))
		if backoff.RetryableStatus(resp.StatusCode) {
			return backoff.Retryable(httpErr)
		}
		return httpErr
	})
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
