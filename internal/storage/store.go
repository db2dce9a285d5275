// Package storage is the record store gateway: collection-oriented
// reads and writes with no business logic. Records are JSON-shaped maps;
// callers convert to and from domain structs with Encode and Decode.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names used by the dispatch core.
const (
	Sessions      = "sessions"
	AdminSessions = "admin_sessions"
	Technicians   = "technicians"
	Jobs          = "jobs"
	PayoutLedger  = "payout_ledger"
)

var (
	ErrNotFound          = errors.New("storage: record not found")
	ErrUnknownCollection = errors.New("storage: unknown collection")
	ErrInvalidField      = errors.New("storage: invalid field name")
)

// Record is one stored document. Every record has a string "id".
type Record map[string]any

// Filter matches records whose fields equal the given values.
type Filter map[string]any

// Order sorts FindMany results by Field.
type Order struct {
	Field string
	Desc  bool
}

// Store defines the operations the core needs from the store of record.
// Every call is atomic on a single row or table.
type Store interface {
	FindOne(ctx context.Context, collection string, filter Filter) (Record, error)
	FindMany(ctx context.Context, collection string, filter Filter, order *Order, limit int) ([]Record, error)
	Insert(ctx context.Context, collection string, rec Record) error
	// Update merges patch into every matching record and returns the count.
	Update(ctx context.Context, collection string, filter Filter, patch Record) (int64, error)
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
	// Upsert inserts rec unless a record with the same conflictKey value
	// already exists. It reports whether rec was inserted.
	Upsert(ctx context.Context, collection string, rec Record, conflictKey string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Encode converts a domain value into a Record via its JSON form.
func Encode(v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, nil
}

// Decode fills v from rec.
func Decode(rec Record, v any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// ID returns the record's id field.
func (r Record) ID() string {
	s, _ := r["id"].(string)
	return s
}

// Clone returns a deep copy through the record's JSON form.
func (r Record) Clone() Record {
	out, err := Encode(r)
	if err != nil {
		cp := make(Record, len(r))
		for k, v := range r {
			cp[k] = v
		}
		return cp
	}
	return out
}

// Matches reports whether every filter field equals the record's field.
// Values are compared by their string form so numbers and strings coming
// from JSON documents compare the same way the SQL store does.
func (f Filter) Matches(rec Record) bool {
	for k, want := range f {
		got, ok := rec[k]
		if !ok || got == nil {
			if want == nil {
				continue
			}
			return false
		}
		if want == nil || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Get loads the first record matching filter into v.
func Get(ctx context.Context, s Store, collection string, filter Filter, v any) error {
	rec, err := s.FindOne(ctx, collection, filter)
	if err != nil {
		return err
	}
	return Decode(rec, v)
}
