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

// Package dedup remembers idempotency keys so a retried API send is not
// delivered twice. Keys are scoped per tenant.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a claimed key is remembered.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces idempotency keys in Redis.
	keyPrefix = "legalmail:idem:"
)

// Claimer records idempotency keys.
type Claimer interface {
	// Claim returns true if key had not been claimed for tenant before.
	Claim(ctx context.Context, tenant, key string) (bool, error)
	// Release forgets a claim so the request can be retried.
	Release(ctx context.Context, tenant, key string) error
}

func claimKey(tenant, key string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, tenant, key)
}

// Filter is a Claimer backed by Redis.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates an idempotency filter backed by Redis.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{rdb: rdb, ttl: ttl}
}

// Claim marks the key as seen atomically (SETNX).
func (f *Filter) Claim(ctx context.Context, tenant, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, claimKey(tenant, key), 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Release deletes the claim.
func (f *Filter) Release(ctx context.Context, tenant, key string) error {
	if err := f.rdb.Del(ctx, claimKey(tenant, key)).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// MemoryFilter is a process-local Claimer.
type MemoryFilter struct {
	c   *cache.Cache
	ttl time.Duration
}

// NewMemoryFilter creates an in-memory idempotency filter.
func NewMemoryFilter(ttl time.Duration) *MemoryFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFilter{c: cache.New(ttl, 10*time.Minute), ttl: ttl}
}

// Claim uses cache.Add, which fails when the key is already present.
func (f *MemoryFilter) Claim(_ context.Context, tenant, key string) (bool, error) {
	return f.c.Add(claimKey(tenant, key), struct{}{}, f.ttl) == nil, nil
}

// Release deletes the claim.
func (f *MemoryFilter) Release(_ context.Context, tenant, key string) error {
	f.c.Delete(claimKey(tenant, key))
	return nil
}
