package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect hides the differences between the SQL engines the gateway
// supports. Records live in a JSON "doc" column; field access goes through
// the engine's JSON operators.
type Dialect interface {
	Name() string
	DriverName() string
	Placeholder(n int) string
	// Field is the expression reading a top-level document field as text.
	Field(name string) string
	// DocParam is the placeholder for a JSON document argument.
	DocParam(n int) string
	// Merge returns the SET expression that replaces the given top-level
	// keys of doc with values bound starting at placeholder n.
	Merge(keys []string, n int) string
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) Field(name string) string { return fmt.Sprintf("doc->>'%s'", name) }

func (postgresDialect) DocParam(n int) string { return fmt.Sprintf("$%d::jsonb", n) }

// jsonb || jsonb replaces top-level keys, so the whole patch binds as one
// argument.
func (postgresDialect) Merge(_ []string, n int) string {
	return fmt.Sprintf("doc || $%d::jsonb", n)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) Placeholder(_ int) string { return "?" }

func (sqliteDialect) Field(name string) string { return fmt.Sprintf("json_extract(doc, '$.%s')", name) }

func (sqliteDialect) DocParam(_ int) string { return "?" }

// json_patch merges nested objects recursively, so each key is set
// explicitly to keep top-level replace semantics.
func (sqliteDialect) Merge(keys []string, _ int) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("'$.%s', json(?)", k))
	}
	return "json_set(doc, " + strings.Join(parts, ", ") + ")"
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pg":
		return postgresDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", name)
	}
}
