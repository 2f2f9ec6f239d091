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

// Package backoff wraps sethvargo/go-retry with an explicit, configurable
// retry policy for outbound API calls.
package backoff

import (
	"context"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy describes how a network call is retried. The zero value performs
// a single attempt.
type Policy struct {
	MaxRetries uint64        `yaml:"max_retries" env:"RETRY_MAX_RETRIES"`
	BaseDelay  time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY"`
	MaxDelay   time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY"`
}

// NoRetry is the single-attempt policy.
var NoRetry = Policy{}

// Do runs fn under the policy. Errors returned through Retryable are
// retried; any other error stops immediately.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}

	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithMaxRetries(p.MaxRetries, b)

	return retry.Do(ctx, b, fn)
}

// Retryable marks err as safe to retry.
func Retryable(err error) error {
	return retry.RetryableError(err)
}

// RetryableStatus reports whether an HTTP status indicates a transient
// provider-side failure.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
