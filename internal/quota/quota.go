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

// Package quota enforces monthly per-tenant usage limits. Consumption is
// atomic: a denied request leaves the counter unchanged.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/legalmail/internal/apperr"
)

// EventEmailsSent is the metered event for outbound mail.
const EventEmailsSent = "emails_sent"

const keyPrefix = "legalmail:quota:"

// ErrExceeded is wrapped by every denial.
var ErrExceeded = errors.New("quota exceeded")

// Key identifies the counter being consumed.
type Key struct {
	Tenant string
	User   string
	Event  string
}

// Limits maps an event name to its monthly allowance. Events without a
// positive limit are unmetered.
type Limits map[string]int64

// Limiter checks and consumes quota in one step.
type Limiter interface {
	Consume(ctx context.Context, key Key, amount int64) error
}

func period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodStart is the first instant of t's quota period.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// periodEnd is the first instant of the following month.
func periodEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func redisKey(k Key, now time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, k.Tenant, k.Event, period(now))
}

func exceeded(k Key, limit int64) error {
	return apperr.Wrap(ErrExceeded, apperr.KindQuota, apperr.CodeQuotaExceeded,
		fmt.Sprintf("monthly %s quota of %d reached for tenant %s", k.Event, limit, k.Tenant))
}

// RedisLimiter keeps counters in Redis with INCRBY and rolls back on denial.
type RedisLimiter struct {
	rdb    *redis.Client
	limits Limits
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(rdb *redis.Client, limits Limits) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limits: limits, now: time.Now}
}

// Consume adds amount to the tenant's monthly counter.
func (l *RedisLimiter) Consume(ctx context.Context, key Key, amount int64) error {
	limit := l.limits[key.Event]
	if limit <= 0 {
		return nil
	}

	now := l.now()
	k := redisKey(key, now)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, k, amount)
		// Keep the counter a day past the period for reporting.
		pipe.ExpireAt(ctx, k, periodEnd(now).Add(24*time.Hour))
		return nil
	})
	if err != nil {
		return apperr.Wrap(err, apperr.KindQuota, apperr.CodeQuotaBackend, "quota INCRBY")
	}

	if incr.Val() > limit {
		if err := l.rdb.DecrBy(ctx, k, amount).Err(); err != nil {
			return apperr.Wrap(err, apperr.KindQuota, apperr.CodeQuotaBackend, "quota rollback")
		}
		return exceeded(key, limit)
	}
	return nil
}

// MemoryLimiter is an in-process limiter for single-instance deployments
// and tests.
type MemoryLimiter struct {
	mu     sync.Mutex
	limits Limits
	used   map[string]int64
	now    func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(limits Limits) *MemoryLimiter {
	return &MemoryLimiter{limits: limits, used: make(map[string]int64), now: time.Now}
}

// Consume adds amount to the tenant's monthly counter.
func (l *MemoryLimiter) Consume(_ context.Context, key Key, amount int64) error {
	limit := l.limits[key.Event]
	if limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := redisKey(key, l.now())
	if l.used[k]+amount > limit {
		return exceeded(key, limit)
	}
	l.used[k] += amount
	return nil
}

// Used reports the current period's counter for key.
func (l *MemoryLimiter) Used(key Key) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[redisKey(key, l.now())]
}
