// Package sqlstore implements a DataStore on SQL databases. Every
// collection is a table of JSON documents keyed by id; predicates are
// rendered to SQL over the document fields.
//
// Two dialects are supported: SQLite through modernc.org/sqlite and
// PostgreSQL through pgx. SQLite has no regular expression support, so its
// string filter omits the regex operator.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // driver: sqlite

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/datastore"
	"github.com/syssam/veloql/filter"
	"github.com/syssam/veloql/model"
	ql "github.com/syssam/veloql/querylanguage"
)

type (
	// Store is a SQL DataStore.
	Store struct {
		db      *sql.DB
		conn    *conn
		d       dialect
		log     *zap.Logger
		ensured sync.Map
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithLogger sets the logger of statements and slow queries.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithSlowThreshold logs statements taking longer than d. Zero disables.
func WithSlowThreshold(d time.Duration) Option {
	return func(s *Store) {
		s.conn.slow = d
	}
}

// Open opens a database of the given dialect. An in-memory SQLite database
// is limited to a single connection so that every statement sees the same
// database.
func Open(dialectName, dsn string, opts ...Option) (*Store, error) {
	driver := dialectName
	if dialectName == Postgres {
		driver = "pgx"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if dialectName == SQLite && (strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")) {
		db.SetMaxOpenConns(1)
	}
	s, err := New(db, dialectName, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New returns a store over db.
func New(db *sql.DB, dialectName string, opts ...Option) (*Store, error) {
	d, err := dialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:   db,
		d:    d,
		log:  zap.NewNop(),
		conn: &conn{ExecQuerier: db, stats: &QueryStats{}, slow: 200 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("dialect", d.name()))
	s.conn.log = s.log
	return s, nil
}

// Dialect returns the dialect name.
func (s *Store) Dialect() string { return s.d.name() }

// QueryStats returns the statement statistics of the store.
func (s *Store) QueryStats() *QueryStats { return s.conn.stats }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables of every concrete entity of m.
func (s *Store) Migrate(ctx context.Context, m *model.Model) error {
	for _, e := range m.Entities {
		if e.IsPolymorphic() {
			continue
		}
		if _, err := s.table(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// table returns the quoted table of e, creating it on first use.
func (s *Store) table(ctx context.Context, e *model.Entity) (string, error) {
	name := e.Collection
	if !validTable(name) {
		return "", fmt.Errorf("sqlstore: invalid collection name %q", name)
	}
	if _, ok := s.ensured.Load(name); !ok {
		if _, err := s.conn.exec(ctx, s.d.createTable(name)); err != nil {
			return "", err
		}
		s.ensured.Store(name, true)
	}
	return `"` + name + `"`, nil
}

// FindByID implements datastore.DataStore.
func (s *Store) FindByID(ctx context.Context, e *model.Entity, id string) (veloql.Item, error) {
	t, err := s.table(ctx, e)
	if err != nil {
		return nil, err
	}
	items, err := s.scan(s.conn.query(ctx, "SELECT doc FROM "+t+" WHERE id = "+s.d.placeholder(1), id))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

// FindByIDs implements datastore.DataStore.
func (s *Store) FindByIDs(ctx context.Context, e *model.Entity, ids []string) ([]veloql.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	t, err := s.table(ctx, e)
	if err != nil {
		return nil, err
	}
	b := newBuilder(s.d, nil)
	phs := make([]string, len(ids))
	for i, id := range ids {
		phs[i] = b.arg(id)
	}
	return s.scan(s.conn.query(ctx, "SELECT doc FROM "+t+" WHERE id IN ("+strings.Join(phs, ", ")+")", b.args...))
}

// FindByAttribute implements datastore.DataStore.
func (s *Store) FindByAttribute(ctx context.Context, e *model.Entity, attr string, value any) ([]veloql.Item, error) {
	return s.FindByFilter(ctx, e, datastore.Query{Filter: datastore.AttributePredicate(attr, value)})
}

// FindByFilter implements datastore.DataStore.
func (s *Store) FindByFilter(ctx context.Context, e *model.Entity, q datastore.Query) ([]veloql.Item, error) {
	t, err := s.table(ctx, e)
	if err != nil {
		return nil, err
	}
	b := newBuilder(s.d, e.ListFields())
	b.write("SELECT doc FROM ", t, " WHERE ")
	if err := b.where(q.Filter); err != nil {
		return nil, veloql.NewInputError(e.Name, "filter", "%v", err)
	}
	b.write(" ORDER BY ")
	for _, k := range q.Sort {
		if !validPath(k.Field) {
			return nil, veloql.NewInputError(e.Name, "sort", "invalid sort field %q", k.Field)
		}
		b.write(s.d.order(k.Field, k.Desc), ", ")
	}
	b.write("id")
	if q.Paging.Size > 0 {
		b.write(" LIMIT ", b.arg(q.Paging.Size), " OFFSET ", b.arg(q.Paging.Offset()))
	}
	return s.scan(s.conn.query(ctx, b.sb.String(), b.args...))
}

// Count implements datastore.DataStore.
func (s *Store) Count(ctx context.Context, e *model.Entity, filter ql.P) (int, error) {
	t, err := s.table(ctx, e)
	if err != nil {
		return 0, err
	}
	b := newBuilder(s.d, e.ListFields())
	b.write("SELECT COUNT(*) FROM ", t, " WHERE ")
	if err := b.where(filter); err != nil {
		return 0, veloql.NewInputError(e.Name, "filter", "%v", err)
	}
	rows, err := s.conn.query(ctx, b.sb.String(), b.args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("sqlstore: scan count: %w", err)
		}
	}
	return n, rows.Err()
}

// Create implements datastore.DataStore. Missing ids are random UUIDs.
func (s *Store) Create(ctx context.Context, e *model.Entity, item veloql.Item) (veloql.Item, error) {
	t, err := s.table(ctx, e)
	if err != nil {
		return nil, err
	}
	item = item.Clone()
	if item.ID() == "" {
		item[veloql.FieldID] = uuid.NewString()
	}
	doc, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode %s: %w", e.Name, err)
	}
	query := "INSERT INTO " + t + " (id, doc) VALUES (" + s.d.placeholder(1) + ", " + s.d.placeholder(2) + ")"
	if _, err := s.conn.exec(ctx, query, item.ID(), string(doc)); err != nil {
		return nil, err
	}
	return item, nil
}

// Update implements datastore.DataStore.
func (s *Store) Update(ctx context.Context, e *model.Entity, item veloql.Item) (veloql.Item, error) {
	t, err := s.table(ctx, e)
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode %s: %w", e.Name, err)
	}
	query := "UPDATE " + t + " SET doc = " + s.d.placeholder(1) + " WHERE id = " + s.d.placeholder(2)
	res, err := s.conn.exec(ctx, query, string(doc), item.ID())
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, veloql.NewNotFoundErrorWithID(e.Name, item.ID())
	}
	return item.Clone(), nil
}

// Delete implements datastore.DataStore.
func (s *Store) Delete(ctx context.Context, e *model.Entity, id string) (bool, error) {
	t, err := s.table(ctx, e)
	if err != nil {
		return false, err
	}
	res, err := s.conn.exec(ctx, "DELETE FROM "+t+" WHERE id = "+s.d.placeholder(1), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: delete: %w", err)
	}
	return n > 0, nil
}

// Truncate implements datastore.DataStore.
func (s *Store) Truncate(ctx context.Context, e *model.Entity) error {
	t, err := s.table(ctx, e)
	if err != nil {
		return err
	}
	_, err = s.conn.exec(ctx, "DELETE FROM "+t)
	return err
}

// FilterTypes implements datastore.DataStore.
func (s *Store) FilterTypes() []filter.Type {
	if s.d.name() == SQLite {
		return filter.DefaultTypes(filter.WithoutRegex())
	}
	return filter.DefaultTypes()
}

// EnumFilterType implements datastore.DataStore.
func (*Store) EnumFilterType(en *model.Enum) filter.Type {
	return filter.NewEnumType(en)
}

func (s *Store) scan(rows *sql.Rows, err error) ([]veloql.Item, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []veloql.Item{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		item, err := decode(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: rows: %w", err)
	}
	return items, nil
}

// decode decodes a document, keeping integral numbers as int.
func decode(doc []byte) (veloql.Item, error) {
	item, err := veloql.DecodeItem(doc)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode: %w", err)
	}
	return item, nil
}

var _ datastore.DataStore = (*Store)(nil)
