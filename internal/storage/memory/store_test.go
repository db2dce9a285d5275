package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

func TestFindUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Insert(ctx, storage.Jobs, storage.Record{"id": "j1", "status": "pending_assign", "rank": 2.0}))
	require.NoError(t, s.Insert(ctx, storage.Jobs, storage.Record{"id": "j2", "status": "pending_assign", "rank": 1.0}))
	require.NoError(t, s.Insert(ctx, storage.Jobs, storage.Record{"id": "j3", "status": "completed", "rank": 3.0}))
	require.Error(t, s.Insert(ctx, storage.Jobs, storage.Record{"id": "j1"}))

	got, err := s.FindOne(ctx, storage.Jobs, storage.Filter{"id": "j2"})
	require.NoError(t, err)
	assert.Equal(t, "pending_assign", got["status"])

	_, err = s.FindOne(ctx, storage.Jobs, storage.Filter{"id": "nope"})
	require.ErrorIs(t, err, storage.ErrNotFound)

	pending, err := s.FindMany(ctx, storage.Jobs, storage.Filter{"status": "pending_assign"}, &storage.Order{Field: "rank"}, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "j2", pending[0].ID())

	n, err := s.Update(ctx, storage.Jobs, storage.Filter{"id": "j1"}, storage.Record{"status": "accepted"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// mutating a returned record must not leak into the store
	got["status"] = "mutated"
	again, err := s.FindOne(ctx, storage.Jobs, storage.Filter{"id": "j2"})
	require.NoError(t, err)
	assert.Equal(t, "pending_assign", again["status"])

	n, err = s.Delete(ctx, storage.Jobs, storage.Filter{"status": "completed"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	all, err := s.FindMany(ctx, storage.Jobs, nil, &storage.Order{Field: "rank", Desc: true}, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "j1", all[0].ID())
}

func TestUpsertInsertsOnceUnderContention(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Upsert(ctx, storage.PayoutLedger, storage.Record{"id": string(rune('a' + i)), "job_id": "job-1"}, "job_id")
			if err != nil {
				t.Errorf("upsert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	recs, err := s.FindMany(ctx, storage.PayoutLedger, storage.Filter{"job_id": "job-1"}, nil, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
