package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps collections in process memory. Records are cloned on the
// way in and out so callers never share maps with the store.
// Safe for concurrent access. Intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]storage.Record
}

func New() *Store {
	return &Store{collections: make(map[string][]storage.Record)}
}

func (m *Store) Ping(_ context.Context) error { return nil }

func (m *Store) Close() error { return nil }

func (m *Store) FindOne(_ context.Context, collection string, filter storage.Filter) (storage.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.collections[collection] {
		if filter.Matches(rec) {
			return rec.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *Store) FindMany(_ context.Context, collection string, filter storage.Filter, order *storage.Order, limit int) ([]storage.Record, error) {
	m.mu.RLock()
	out := make([]storage.Record, 0)
	for _, rec := range m.collections[collection] {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	m.mu.RUnlock()

	if order != nil {
		sort.SliceStable(out, func(i, j int) bool {
			if order.Desc {
				return lessValue(out[j][order.Field], out[i][order.Field])
			}
			return lessValue(out[i][order.Field], out[j][order.Field])
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) Insert(_ context.Context, collection string, rec storage.Record) error {
	if rec.ID() == "" {
		return fmt.Errorf("memory insert %s: record has no id", collection)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.collections[collection] {
		if existing.ID() == rec.ID() {
			return fmt.Errorf("memory insert %s: duplicate id %q", collection, rec.ID())
		}
	}
	m.collections[collection] = append(m.collections[collection], rec.Clone())
	return nil
}

func (m *Store) Update(_ context.Context, collection string, filter storage.Filter, patch storage.Record) (int64, error) {
	patch = patch.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.collections[collection] {
		if !filter.Matches(rec) {
			continue
		}
		for k, v := range patch {
			rec[k] = v
		}
		n++
	}
	return n, nil
}

func (m *Store) Delete(_ context.Context, collection string, filter storage.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.collections[collection]
	kept := recs[:0]
	var n int64
	for _, rec := range recs {
		if filter.Matches(rec) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	m.collections[collection] = kept
	return n, nil
}

// Upsert checks and inserts under one lock, so concurrent callers racing on
// the same conflict key see exactly one insert.
func (m *Store) Upsert(_ context.Context, collection string, rec storage.Record, conflictKey string) (bool, error) {
	key, ok := rec[conflictKey]
	if !ok {
		return false, fmt.Errorf("memory upsert %s: record has no %q", collection, conflictKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	probe := storage.Filter{conflictKey: key}
	for _, existing := range m.collections[collection] {
		if probe.Matches(existing) {
			return false, nil
		}
	}
	m.collections[collection] = append(m.collections[collection], rec.Clone())
	return true, nil
}

func lessValue(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}
