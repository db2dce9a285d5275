// Package cache holds short-lived query results for read endpoints such as
// the eligible-jobs listing. Values are opaque bytes; callers encode.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
)

// Cache is implemented by Memory and Redis.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Memory is a small in-process cache with per-entry expiry.
type Memory struct {
	mu    sync.RWMutex
	store map[string]entry
	clock clock.Clock
}

type entry struct {
	v         []byte
	expiresAt time.Time
}

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.System{}
	}
	return &Memory{store: make(map[string]entry), clock: clk}
}

// Get returns the cached value and true if present and not expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.clock.Now().After(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.store[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.store, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.v...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	m.store[key] = entry{v: append([]byte(nil), val...), expiresAt: m.clock.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.store, k)
	}
	m.mu.Unlock()
	return nil
}

// Len counts stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
