/*
Package cache provides read-through caching for computed schedule summaries.

PURPOSE:
  Schedule summaries (totals, next due date, outstanding balances) are cheap
  to compute but hot: list views hit them for every loan. The cache holds the
  JSON-rendered summary keyed by loan ID and version, so any mutation of the
  aggregate naturally misses the stale entry.

KEYING:
  schedule:<loanID>:v<version>

  Versioned keys make invalidation trivial: writers never have to delete,
  they just bump the loan version. Old entries age out via TTL.

IMPLEMENTATIONS:
  - Redis: shared cache for multi-instance deployments
  - Memory: process-local map for tests and single-node development
*/
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pesa/lending-engine/engine"
)

// ScheduleCache stores rendered schedule summaries by loan and version.
type ScheduleCache interface {
	Get(ctx context.Context, loanID engine.LoanID, version int64) ([]byte, bool)
	Set(ctx context.Context, loanID engine.LoanID, version int64, payload []byte) error
}

func key(loanID engine.LoanID, version int64) string {
	return fmt.Sprintf("schedule:%s:v%d", loanID, version)
}

// =============================================================================
// REDIS CACHE
// =============================================================================

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the given Redis address. Entries expire after ttl so
// superseded versions age out without explicit invalidation.
func NewRedis(addr string, ttl time.Duration) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &Redis{client: rdb, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, loanID engine.LoanID, version int64) ([]byte, bool) {
	val, err := r.client.Get(ctx, key(loanID, version)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, loanID engine.LoanID, version int64, payload []byte) error {
	return r.client.Set(ctx, key(loanID, version), payload, r.ttl).Err()
}

// Ping verifies connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// =============================================================================
// MEMORY CACHE
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, loanID engine.LoanID, version int64) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.entries[key(loanID, version)]
	return payload, ok
}

func (m *Memory) Set(_ context.Context, loanID engine.LoanID, version int64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key(loanID, version)] = payload
	return nil
}
