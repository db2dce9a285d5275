package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func put(t *testing.T, s storage.Store, coll string, v any) {
	t.Helper()
	rec, err := storage.Encode(v)
	require.NoError(t, err)
	require.NoError(t, s.Insert(context.Background(), coll, rec))
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	put(t, s, storage.Sessions, models.Session{
		ID: "s1", Token: "tok-primary-000000001", SubjectID: "tech-1", SubjectKind: models.SubjectTechnician,
		IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour),
	})
	put(t, s, storage.Sessions, models.Session{
		ID: "s2", SessionID: "tok-legacy-0000000002", SubjectID: "tech-2",
		IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour),
	})
	put(t, s, storage.AdminSessions, models.Session{
		ID: "a1", Token: "tok-admin-00000000003", SubjectID: "admin-1", Role: "admin",
		IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour),
	})
	put(t, s, storage.Sessions, models.Session{
		ID: "s4", Token: "tok-expired-000000004", SubjectID: "tech-4", SubjectKind: models.SubjectTechnician,
		IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Second),
	})
	return s
}

func newAuth(s storage.Store, opts ...Option) *Authenticator {
	base := []Option{WithClock(clock.NewFake(now)), WithLogger(discard)}
	return NewAuthenticator(s, append(base, opts...)...)
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		wantID   string
		wantKind models.SubjectKind
		wantErr  error
	}{
		{name: "primary token", token: "tok-primary-000000001", wantID: "tech-1", wantKind: models.SubjectTechnician},
		{name: "legacy session_id", token: "tok-legacy-0000000002", wantID: "tech-2", wantKind: models.SubjectTechnician},
		{name: "role-bearing admin table", token: "tok-admin-00000000003", wantID: "admin-1", wantKind: models.SubjectAdministrator},
		{name: "expired", token: "tok-expired-000000004", wantErr: ErrSessionExpired},
		{name: "unknown", token: "tok-nobody-0000000009", wantErr: ErrUnknownToken},
		{name: "empty", token: "", wantErr: apperr.ErrInvalidSession},
		{name: "too short", token: "abc", wantErr: apperr.ErrInvalidSession},
	}
	s := seed(t)
	a := newAuth(s)
	defer a.Wait()

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := a.Authenticate(context.Background(), tc.token)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.ErrorIs(t, err, apperr.ErrInvalidSession)
				assert.Equal(t, models.Identity{}, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, id.SubjectID)
			assert.Equal(t, tc.wantKind, id.SubjectKind)
		})
	}
}

func TestExpiryBoundaryIsExclusive(t *testing.T) {
	s := memory.New()
	put(t, s, storage.Sessions, models.Session{
		ID: "s", Token: "tok-boundary-00000001", SubjectID: "t", SubjectKind: models.SubjectTechnician, ExpiresAt: now,
	})
	clk := clock.NewFake(now)
	a := newAuth(s, WithClock(clk))

	_, err := a.Authenticate(context.Background(), "tok-boundary-00000001")
	require.NoError(t, err)

	clk.Advance(time.Nanosecond)
	_, err = a.Authenticate(context.Background(), "tok-boundary-00000001")
	require.ErrorIs(t, err, ErrSessionExpired)
	a.Wait()
}

type spyResolver struct {
	calls int
	match *Match
}

func (r *spyResolver) Name() string { return "spy" }

func (r *spyResolver) Resolve(_ context.Context, _ string) (*Match, error) {
	r.calls++
	return r.match, nil
}

func TestResolversShortCircuit(t *testing.T) {
	s := seed(t)
	first := &spyResolver{}
	after := &spyResolver{}
	a := newAuth(s, WithResolvers(first, &FieldResolver{Store: s, Collection: storage.Sessions, Field: "token"}, after))

	id, err := a.Authenticate(context.Background(), "tok-primary-000000001")
	require.NoError(t, err)
	a.Wait()

	assert.Equal(t, "tech-1", id.SubjectID)
	assert.Equal(t, "sessions.token", id.Resolver)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, after.calls)
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	s := seed(t)
	a := newAuth(s)

	_, err := a.Authenticate(context.Background(), "tok-legacy-0000000002")
	require.NoError(t, err)
	a.Wait()

	rec, err := s.FindOne(context.Background(), storage.Sessions, storage.Filter{"session_id": "tok-legacy-0000000002"})
	require.NoError(t, err)
	var sess models.Session
	require.NoError(t, storage.Decode(rec, &sess))
	assert.True(t, sess.LastSeenAt.Equal(now))
}

type flakyStore struct {
	*memory.Store
	findErr   error
	updateErr error
}

func (f *flakyStore) FindOne(ctx context.Context, c string, filter storage.Filter) (storage.Record, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.Store.FindOne(ctx, c, filter)
}

func (f *flakyStore) Update(ctx context.Context, c string, filter storage.Filter, patch storage.Record) (int64, error) {
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	return f.Store.Update(ctx, c, filter, patch)
}

func TestTouchFailureIsNotAnError(t *testing.T) {
	s := &flakyStore{Store: seed(t), updateErr: errors.New("write timeout")}
	a := newAuth(s)

	id, err := a.Authenticate(context.Background(), "tok-primary-000000001")
	a.Wait()
	require.NoError(t, err)
	assert.Equal(t, "tech-1", id.SubjectID)
}

func TestStoreFailureIsStoreUnavailable(t *testing.T) {
	s := &flakyStore{Store: seed(t), findErr: errors.New("connection refused")}
	a := newAuth(s)

	_, err := a.Authenticate(context.Background(), "tok-primary-000000001")
	require.ErrorIs(t, err, apperr.ErrStoreUnavailable)
}

func TestRequireAdmin(t *testing.T) {
	require.NoError(t, RequireAdmin(models.Identity{SubjectID: "a", SubjectKind: models.SubjectAdministrator}))
	require.ErrorIs(t, RequireAdmin(models.Identity{SubjectID: "t", SubjectKind: models.SubjectTechnician}), apperr.ErrUnauthorized)
}

func TestUnknownRoleIsNotAMatch(t *testing.T) {
	s := memory.New()
	put(t, s, storage.AdminSessions, models.Session{
		ID: "x", Token: "tok-weird-role-000001", SubjectID: "x", Role: "auditor", ExpiresAt: now.Add(time.Hour),
	})
	a := newAuth(s)
	_, err := a.Authenticate(context.Background(), "tok-weird-role-000001")
	require.ErrorIs(t, err, ErrUnknownToken)
}
