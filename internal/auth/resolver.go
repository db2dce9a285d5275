package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

// Match is a session row found by a resolver, plus where it was found so
// the authenticator can refresh last_seen_at in the same place.
type Match struct {
	Session    models.Session
	Kind       models.SubjectKind
	Collection string
	Field      string
}

// Resolver is one strategy for turning a token into a session row.
// A nil Match with a nil error means "not here, try the next one".
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, token string) (*Match, error)
}

// FieldResolver looks the token up by exact match on one field of one
// collection.
type FieldResolver struct {
	Store      storage.Store
	Collection string
	Field      string
	// DefaultKind applies when the row names neither a subject kind nor a role.
	DefaultKind models.SubjectKind
}

func (r *FieldResolver) Name() string { return r.Collection + "." + r.Field }

func (r *FieldResolver) Resolve(ctx context.Context, token string) (*Match, error) {
	rec, err := r.Store.FindOne(ctx, r.Collection, storage.Filter{r.Field: token})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s models.Session
	if err := storage.Decode(rec, &s); err != nil {
		return nil, err
	}
	kind, ok := r.kindOf(s)
	if !ok || s.SubjectID == "" {
		return nil, nil
	}
	return &Match{Session: s, Kind: kind, Collection: r.Collection, Field: r.Field}, nil
}

func (r *FieldResolver) kindOf(s models.Session) (models.SubjectKind, bool) {
	switch s.SubjectKind {
	case models.SubjectTechnician, models.SubjectAdministrator:
		return s.SubjectKind, true
	}
	if s.SubjectKind != "" {
		return "", false
	}
	if s.Role != "" {
		return roleKind(s.Role)
	}
	if r.DefaultKind == "" {
		return models.SubjectTechnician, true
	}
	return r.DefaultKind, true
}

func roleKind(role string) (models.SubjectKind, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin", "administrator", "owner", "dispatcher":
		return models.SubjectAdministrator, true
	case "tech", "technician", "pro":
		return models.SubjectTechnician, true
	default:
		return "", false
	}
}

// DefaultResolvers returns the lookup order: token primary key, the legacy
// session_id field, then the role-bearing admin session table.
func DefaultResolvers(store storage.Store) []Resolver {
	return []Resolver{
		&FieldResolver{Store: store, Collection: storage.Sessions, Field: "token"},
		&FieldResolver{Store: store, Collection: storage.Sessions, Field: "session_id"},
		&FieldResolver{Store: store, Collection: storage.AdminSessions, Field: "token", DefaultKind: models.SubjectAdministrator},
	}
}
