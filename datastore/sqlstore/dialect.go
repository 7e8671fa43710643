package sqlstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Supported dialects.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// dialect renders the document access of one database. Paths are
// validated before they reach a dialect.
type dialect interface {
	name() string
	placeholder(n int) string
	createTable(table string) string
	// json returns the expression of the stored value at path, comparable
	// with a bound value.
	json(path string) string
	// text returns the expression of the value at path as text.
	text(path string) string
	// bind converts a scalar to a driver argument and returns the
	// expression wrapping its placeholder.
	bind(v any, ph string) (any, string, error)
	// elements returns a condition that holds when any element of the list
	// at path satisfies cond. cond receives the element as a value and as
	// text.
	elements(path string, cond func(value, text string) string) string
	isNull(path string, list bool) string
	strpos() string
	// suffix binds its argument through a, once per occurrence.
	suffix(x string, a func() string) string
	regex(x, a string, fold bool) (string, bool)
	order(path string, desc bool) string
}

// sqliteDialect stores documents as JSON text and reads them with the
// JSON1 functions.
type sqliteDialect struct{}

func (sqliteDialect) name() string           { return SQLite }
func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) createTable(table string) string {
	return `CREATE TABLE IF NOT EXISTS "` + table + `" (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`
}

func (sqliteDialect) json(path string) string {
	return "json_extract(doc, '$." + path + "')"
}

func (d sqliteDialect) text(path string) string { return d.json(path) }

func (sqliteDialect) bind(v any, ph string) (any, string, error) {
	switch v := v.(type) {
	case bool:
		if v {
			return 1, ph, nil
		}
		return 0, ph, nil
	case string, int, int64, float64, json.Number:
		return v, ph, nil
	case int32, float32, uint, uint32, uint64:
		return v, ph, nil
	}
	return nil, "", fmt.Errorf("unsupported value %T", v)
}

func (sqliteDialect) elements(path string, cond func(string, string) string) string {
	return "EXISTS (SELECT 1 FROM json_each(doc, '$." + path + "') WHERE " + cond("value", "value") + ")"
}

func (d sqliteDialect) isNull(path string, list bool) string {
	if list {
		return "(" + d.json(path) + " IS NULL OR json_array_length(doc, '$." + path + "') = 0)"
	}
	return d.json(path) + " IS NULL"
}

func (sqliteDialect) strpos() string { return "instr" }

func (sqliteDialect) suffix(x string, a func() string) string {
	return "substr(" + x + ", -length(" + a() + ")) = " + a()
}

func (sqliteDialect) regex(string, string, bool) (string, bool) { return "", false }

func (d sqliteDialect) order(path string, desc bool) string {
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	return d.json(path) + " IS NULL, " + d.json(path) + dir
}

// postgresDialect stores documents as JSONB.
type postgresDialect struct{}

func (postgresDialect) name() string             { return Postgres }
func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) createTable(table string) string {
	return `CREATE TABLE IF NOT EXISTS "` + table + `" (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`
}

func (postgresDialect) json(path string) string {
	if !strings.Contains(path, ".") {
		return "doc->'" + path + "'"
	}
	return "doc #> '{" + strings.ReplaceAll(path, ".", ",") + "}'"
}

func (postgresDialect) text(path string) string {
	if !strings.Contains(path, ".") {
		return "doc->>'" + path + "'"
	}
	return "doc #>> '{" + strings.ReplaceAll(path, ".", ",") + "}'"
}

func (postgresDialect) bind(v any, ph string) (any, string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("unsupported value %T: %w", v, err)
	}
	return string(buf), ph + "::jsonb", nil
}

func (d postgresDialect) elements(path string, cond func(string, string) string) string {
	x := d.json(path)
	return "EXISTS (SELECT 1 FROM jsonb_array_elements(CASE WHEN jsonb_typeof(" + x + ") = 'array' THEN " + x +
		" ELSE '[]'::jsonb END) AS e(v) WHERE " + cond("e.v", "(e.v #>> '{}')") + ")"
}

func (d postgresDialect) isNull(path string, list bool) string {
	x := d.json(path)
	if list {
		return "(" + x + " IS NULL OR " + x + " = 'null'::jsonb OR " + x + " = '[]'::jsonb)"
	}
	return "(" + x + " IS NULL OR " + x + " = 'null'::jsonb)"
}

func (postgresDialect) strpos() string { return "strpos" }

func (postgresDialect) suffix(x string, a func() string) string {
	ph := a()
	return "right(" + x + ", length(" + ph + ")) = " + ph
}

func (postgresDialect) regex(x, a string, fold bool) (string, bool) {
	if fold {
		return x + " ~* " + a, true
	}
	return x + " ~ " + a, true
}

func (d postgresDialect) order(path string, desc bool) string {
	if desc {
		return d.json(path) + " DESC NULLS LAST"
	}
	return d.json(path) + " ASC NULLS LAST"
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case SQLite:
		return sqliteDialect{}, nil
	case Postgres:
		return postgresDialect{}, nil
	}
	return nil, fmt.Errorf("sqlstore: unsupported dialect %q", name)
}
