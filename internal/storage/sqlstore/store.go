package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

var _ storage.Store = (*Store)(nil)

var fieldName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// uniqueKeys lists, per collection, the document fields backed by a unique
// index in the migrations. Upsert only accepts these (or "id").
var uniqueKeys = map[string][]string{
	storage.Sessions:      {"token"},
	storage.AdminSessions: {"token"},
	storage.Technicians:   {"email"},
	storage.Jobs:          {},
	storage.PayoutLedger:  {"job_id"},
}

// Store is the record store gateway over database/sql. Each collection is a
// table of (seq, id, doc) rows where doc holds the JSON record.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn using the named dialect ("postgres" or "sqlite").
func Open(ctx context.Context, dialect, dsn string) (*Store, error) {
	d, err := DialectFor(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore open: %w", err)
	}
	if d.Name() == "sqlite" {
		// one writer at a time avoids SQLITE_BUSY under concurrent requests
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore ping: %w", err)
	}
	return &Store{db: db, dialect: d}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) FindOne(ctx context.Context, collection string, filter storage.Filter) (storage.Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	q := &query{d: s.dialect}
	where, err := q.where(filter)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT doc FROM %s%s ORDER BY seq LIMIT 1", collection, where)

	var raw []byte
	if err := s.db.QueryRowContext(ctx, stmt, q.args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore find_one %s: %w", collection, err)
	}
	return decodeDoc(raw)
}

func (s *Store) FindMany(ctx context.Context, collection string, filter storage.Filter, order *storage.Order, limit int) ([]storage.Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	q := &query{d: s.dialect}
	where, err := q.where(filter)
	if err != nil {
		return nil, err
	}
	orderBy := " ORDER BY seq"
	if order != nil {
		if !fieldName.MatchString(order.Field) {
			return nil, fmt.Errorf("%w: %q", storage.ErrInvalidField, order.Field)
		}
		dir := "ASC"
		if order.Desc {
			dir = "DESC"
		}
		orderBy = fmt.Sprintf(" ORDER BY %s %s, seq", s.dialect.Field(order.Field), dir)
	}
	stmt := fmt.Sprintf("SELECT doc FROM %s%s%s", collection, where, orderBy)
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, q.args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore find_many %s: %w", collection, err)
	}
	defer rows.Close()

	out := make([]storage.Record, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlstore find_many %s: %w", collection, err)
		}
		rec, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore find_many %s: %w", collection, err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, collection string, rec storage.Record) error {
	stmt, args, err := s.insertStmt(collection, rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("sqlstore insert %s: %w", collection, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection string, filter storage.Filter, patch storage.Record) (int64, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(patch))
	for k := range patch {
		if !fieldName.MatchString(k) {
			return 0, fmt.Errorf("%w: %q", storage.ErrInvalidField, k)
		}
		if k == "id" {
			return 0, fmt.Errorf("sqlstore update %s: id is immutable", collection)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := &query{d: s.dialect}
	var set string
	if s.dialect.Name() == "postgres" {
		b, err := json.Marshal(patch)
		if err != nil {
			return 0, fmt.Errorf("sqlstore update %s: %w", collection, err)
		}
		set = s.dialect.Merge(keys, q.bind(string(b)))
	} else {
		for _, k := range keys {
			b, err := json.Marshal(patch[k])
			if err != nil {
				return 0, fmt.Errorf("sqlstore update %s: %w", collection, err)
			}
			q.bind(string(b))
		}
		set = s.dialect.Merge(keys, 1)
	}
	where, err := q.where(filter)
	if err != nil {
		return 0, err
	}
	stmt := fmt.Sprintf("UPDATE %s SET doc = %s%s", collection, set, where)
	res, err := s.db.ExecContext(ctx, stmt, q.args...)
	if err != nil {
		return 0, fmt.Errorf("sqlstore update %s: %w", collection, err)
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, collection string, filter storage.Filter) (int64, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	q := &query{d: s.dialect}
	where, err := q.where(filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", collection, where), q.args...)
	if err != nil {
		return 0, fmt.Errorf("sqlstore delete %s: %w", collection, err)
	}
	return res.RowsAffected()
}

// Upsert relies on the unique index behind conflictKey; ON CONFLICT DO
// NOTHING makes concurrent inserts for the same key resolve to one row.
func (s *Store) Upsert(ctx context.Context, collection string, rec storage.Record, conflictKey string) (bool, error) {
	if !hasUniqueKey(collection, conflictKey) {
		return false, fmt.Errorf("sqlstore upsert %s: no unique index on %q", collection, conflictKey)
	}
	if _, ok := rec[conflictKey]; !ok {
		return false, fmt.Errorf("sqlstore upsert %s: record has no %q", collection, conflictKey)
	}
	stmt, args, err := s.insertStmt(collection, rec)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, stmt+" ON CONFLICT DO NOTHING", args...)
	if err != nil {
		return false, fmt.Errorf("sqlstore upsert %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore upsert %s: %w", collection, err)
	}
	return n == 1, nil
}

func (s *Store) insertStmt(collection string, rec storage.Record) (string, []any, error) {
	if err := checkCollection(collection); err != nil {
		return "", nil, err
	}
	id := rec.ID()
	if id == "" {
		return "", nil, fmt.Errorf("sqlstore insert %s: record has no id", collection)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", nil, fmt.Errorf("sqlstore insert %s: %w", collection, err)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (%s, %s)",
		collection, s.dialect.Placeholder(1), s.dialect.DocParam(2))
	return stmt, []any{id, string(b)}, nil
}

type query struct {
	d    Dialect
	args []any
}

func (q *query) bind(v any) int {
	q.args = append(q.args, v)
	return len(q.args)
}

// where renders filter with keys in sorted order so statements are stable.
func (q *query) where(filter storage.Filter) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !fieldName.MatchString(k) {
			return "", fmt.Errorf("%w: %q", storage.ErrInvalidField, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	for _, k := range keys {
		expr := q.d.Field(k)
		if k == "id" {
			expr = "id"
		}
		v := filter[k]
		if v == nil {
			conds = append(conds, expr+" IS NULL")
			continue
		}
		n := q.bind(fmt.Sprint(v))
		conds = append(conds, fmt.Sprintf("%s = %s", expr, q.d.Placeholder(n)))
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func decodeDoc(raw []byte) (storage.Record, error) {
	var rec storage.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("sqlstore decode doc: %w", err)
	}
	return rec, nil
}

func checkCollection(name string) error {
	if _, ok := uniqueKeys[name]; !ok {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, name)
	}
	return nil
}

func hasUniqueKey(collection, key string) bool {
	if key == "id" {
		return true
	}
	for _, k := range uniqueKeys[collection] {
		if k == key {
			return true
		}
	}
	return false
}
