package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/observability"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

const (
	DefaultMinTokenLength = 16
	defaultTouchTimeout   = 5 * time.Second
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrUnknownToken   = errors.New("unknown token")
)

// Authenticator resolves opaque tokens to identities by trying its
// resolvers in order and stopping at the first match.
type Authenticator struct {
	resolvers    []Resolver
	store        storage.Store
	clock        clock.Clock
	logger       *slog.Logger
	minLen       int
	touchTimeout time.Duration

	touches sync.WaitGroup
}

type Option func(*Authenticator)

func WithResolvers(r ...Resolver) Option { return func(a *Authenticator) { a.resolvers = r } }

func WithMinTokenLength(n int) Option { return func(a *Authenticator) { a.minLen = n } }

func WithClock(c clock.Clock) Option { return func(a *Authenticator) { a.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(a *Authenticator) { a.logger = l } }

func NewAuthenticator(store storage.Store, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:        store,
		clock:        clock.System{},
		logger:       slog.Default(),
		minLen:       DefaultMinTokenLength,
		touchTimeout: defaultTouchTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.resolvers == nil {
		a.resolvers = DefaultResolvers(store)
	}
	return a
}

// Authenticate returns the identity behind token. Unknown, short and
// expired tokens all fail with an invalid_session error.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	if token == "" || len(token) < a.minLen {
		observability.AuthResults.WithLabelValues("none", "malformed").Inc()
		return models.Identity{}, apperr.InvalidSession("missing or malformed token")
	}

	var (
		m        *Match
		resolver string
	)
	for _, r := range a.resolvers {
		found, err := r.Resolve(ctx, token)
		if err != nil {
			observability.AuthResults.WithLabelValues(r.Name(), "store_error").Inc()
			observability.StoreErrors.WithLabelValues("find_one").Inc()
			return models.Identity{}, apperr.StoreUnavailable(err, "session lookup")
		}
		if found != nil {
			m, resolver = found, r.Name()
			break
		}
	}
	if m == nil {
		observability.AuthResults.WithLabelValues("none", "unknown").Inc()
		return models.Identity{}, apperr.Wrap(apperr.KindInvalidSession, ErrUnknownToken, "invalid session")
	}

	now := a.clock.Now()
	if now.After(m.Session.ExpiresAt) {
		observability.AuthResults.WithLabelValues(resolver, "expired").Inc()
		return models.Identity{}, apperr.Wrap(apperr.KindInvalidSession, ErrSessionExpired, "session expired")
	}

	observability.AuthResults.WithLabelValues(resolver, "ok").Inc()
	a.touch(ctx, m, token, now)
	return models.Identity{SubjectID: m.Session.SubjectID, SubjectKind: m.Kind, Resolver: resolver}, nil
}

// touch refreshes last_seen_at without holding up the request. A failed
// write is logged and otherwise ignored.
func (a *Authenticator) touch(ctx context.Context, m *Match, token string, now time.Time) {
	a.touches.Add(1)
	go func() {
		defer a.touches.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.touchTimeout)
		defer cancel()
		_, err := a.store.Update(ctx, m.Collection, storage.Filter{m.Field: token}, storage.Record{"last_seen_at": now})
		if err != nil {
			observability.SessionTouchErrors.Inc()
			a.logger.Warn("session touch failed", "collection", m.Collection, "subject_id", m.Session.SubjectID, "error", err)
		}
	}()
}

// Wait blocks until in-flight last_seen_at updates finish.
func (a *Authenticator) Wait() { a.touches.Wait() }

// RequireAdmin fails with unauthorized unless id is an administrator.
func RequireAdmin(id models.Identity) error {
	if !id.IsAdmin() {
		return apperr.Unauthorized("administrator required")
	}
	return nil
}
