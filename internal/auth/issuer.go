package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

const DefaultSessionLifetime = 7 * 24 * time.Hour

// Issuer creates technician sessions on successful login.
type Issuer struct {
	Store    storage.Store
	Clock    clock.Clock
	Lifetime time.Duration
	Logger   *slog.Logger
}

func (i *Issuer) Login(ctx context.Context, email, password string) (models.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return models.Session{}, apperr.Validation("email and password are required")
	}

	rec, err := i.Store.FindOne(ctx, storage.Technicians, storage.Filter{"email": email})
	if errors.Is(err, storage.ErrNotFound) {
		return models.Session{}, apperr.InvalidSession("credentials not found")
	}
	if err != nil {
		return models.Session{}, apperr.StoreUnavailable(err, "technician lookup")
	}
	var tech models.Technician
	if err := storage.Decode(rec, &tech); err != nil {
		return models.Session{}, apperr.Wrap(apperr.KindInternal, err, "decode technician")
	}
	if tech.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(tech.PasswordHash), []byte(password)) != nil {
		return models.Session{}, apperr.InvalidSession("credentials not found")
	}

	token, err := NewToken()
	if err != nil {
		return models.Session{}, apperr.Wrap(apperr.KindInternal, err, "generate token")
	}
	now := i.now()
	lifetime := i.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	s := models.Session{
		ID:          token,
		Token:       token,
		SubjectID:   tech.ID,
		SubjectKind: models.SubjectTechnician,
		IssuedAt:    now,
		ExpiresAt:   now.Add(lifetime),
		LastSeenAt:  now,
	}
	recOut, err := storage.Encode(s)
	if err != nil {
		return models.Session{}, apperr.Wrap(apperr.KindInternal, err, "encode session")
	}
	if err := i.Store.Insert(ctx, storage.Sessions, recOut); err != nil {
		return models.Session{}, apperr.StoreUnavailable(err, "session insert")
	}
	if i.Logger != nil {
		i.Logger.Info("session issued", "subject_id", tech.ID, "expires_at", s.ExpiresAt)
	}
	return s, nil
}

func (i *Issuer) now() time.Time {
	if i.Clock == nil {
		return time.Now()
	}
	return i.Clock.Now()
}

// NewToken returns 32 random bytes, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashPassword returns the bcrypt hash stored on technician records.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
