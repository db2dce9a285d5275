package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	s, err := Open(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate())
	return s
}

func TestPostgresStatements(t *testing.T) {
	q := &query{d: postgresDialect{}}
	where, err := q.where(storage.Filter{"status": "pending_assign", "id": "j1"})
	require.NoError(t, err)
	assert.Equal(t, " WHERE id = $1 AND doc->>'status' = $2", where)
	assert.Equal(t, []any{"j1", "pending_assign"}, q.args)

	s := &Store{dialect: postgresDialect{}}
	stmt, args, err := s.insertStmt(storage.PayoutLedger, storage.Record{"id": "l1", "job_id": "j1"})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO payout_ledger (id, doc) VALUES ($1, $2::jsonb)", stmt)
	assert.Equal(t, "l1", args[0])

	_, err = q.where(storage.Filter{"status; drop table jobs": "x"})
	require.ErrorIs(t, err, storage.ErrInvalidField)
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	require.NoError(t, s.Insert(ctx, storage.Jobs, storage.Record{
		"id":     "j1",
		"status": "pending_assign",
		"metadata": map[string]any{
			"order_id": "o-1",
		},
	}))
	require.NoError(t, s.Insert(ctx, storage.Jobs, storage.Record{"id": "j2", "status": "completed"}))

	got, err := s.FindOne(ctx, storage.Jobs, storage.Filter{"id": "j1"})
	require.NoError(t, err)
	assert.Equal(t, "pending_assign", got["status"])
	assert.Equal(t, "o-1", got["metadata"].(map[string]any)["order_id"])

	_, err = s.FindOne(ctx, storage.Jobs, storage.Filter{"id": "missing"})
	require.ErrorIs(t, err, storage.ErrNotFound)

	n, err := s.Update(ctx, storage.Jobs, storage.Filter{"id": "j1"}, storage.Record{
		"status":   "accepted",
		"metadata": map[string]any{"accepted_at": "2026-01-01T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err = s.FindOne(ctx, storage.Jobs, storage.Filter{"id": "j1"})
	require.NoError(t, err)
	assert.Equal(t, "accepted", got["status"])
	// top-level replace: the old metadata key is gone
	assert.Equal(t, map[string]any{"accepted_at": "2026-01-01T00:00:00Z"}, got["metadata"])

	recs, err := s.FindMany(ctx, storage.Jobs, nil, &storage.Order{Field: "status"}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "j1", recs[0].ID())

	n, err = s.Delete(ctx, storage.Jobs, storage.Filter{"status": "completed"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSQLiteUpsertIsInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Upsert(ctx, storage.PayoutLedger, storage.Record{
				"id":     fmt.Sprintf("l%d", i),
				"job_id": "job-1",
				"state":  "pending",
			}, "job_id")
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, ok := range results {
		if ok {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted)

	recs, err := s.FindMany(ctx, storage.PayoutLedger, storage.Filter{"job_id": "job-1"}, nil, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = s.Upsert(ctx, storage.Jobs, storage.Record{"id": "x", "order_id": "o"}, "order_id")
	require.Error(t, err)
}
