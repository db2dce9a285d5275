package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage/memory"
)

func TestLoginIssuesUsableSession(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	put(t, s, storage.Technicians, models.Technician{ID: "tech-9", Email: "pro@example.com", PasswordHash: hash})

	clk := clock.NewFake(now)
	iss := &Issuer{Store: s, Clock: clk, Logger: discard}

	sess, err := iss.Login(ctx, " Pro@Example.com ", "hunter22")
	require.NoError(t, err)
	assert.Len(t, sess.Token, 64)
	assert.Equal(t, "tech-9", sess.SubjectID)
	assert.Equal(t, now.Add(DefaultSessionLifetime), sess.ExpiresAt)

	a := newAuth(s, WithClock(clk))
	id, err := a.Authenticate(ctx, sess.Token)
	a.Wait()
	require.NoError(t, err)
	assert.Equal(t, models.Identity{SubjectID: "tech-9", SubjectKind: models.SubjectTechnician, Resolver: "sessions.token"}, id)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	hash, err := HashPassword("right-password")
	require.NoError(t, err)
	put(t, s, storage.Technicians, models.Technician{ID: "tech-9", Email: "pro@example.com", PasswordHash: hash})
	iss := &Issuer{Store: s}

	_, err = iss.Login(ctx, "pro@example.com", "wrong-password")
	require.ErrorIs(t, err, apperr.ErrInvalidSession)

	_, err = iss.Login(ctx, "nobody@example.com", "right-password")
	require.ErrorIs(t, err, apperr.ErrInvalidSession)

	_, err = iss.Login(ctx, "", "")
	require.ErrorIs(t, err, apperr.ErrValidation)

	recs, err := s.FindMany(ctx, storage.Sessions, nil, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
