// Package memory implements a process memory DataStore. Queries are
// evaluated with querylanguage.Match, so every filter operator is
// supported.
package memory

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/datastore"
	"github.com/syssam/veloql/filter"
	"github.com/syssam/veloql/model"
	ql "github.com/syssam/veloql/querylanguage"
)

// Store keeps items per collection in memory. It is safe for concurrent
// use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]veloql.Item
	entropy     io.Reader
}

// New returns an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]veloql.Item),
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// newID must be called with the write lock held.
func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// FindByID implements datastore.DataStore.
func (s *Store) FindByID(_ context.Context, e *model.Entity, id string) (veloql.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.collections[e.Collection][id]
	if !ok {
		return nil, nil
	}
	return item.Clone(), nil
}

// FindByIDs implements datastore.DataStore.
func (s *Store) FindByIDs(_ context.Context, e *model.Entity, ids []string) ([]veloql.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.collections[e.Collection]
	items := make([]veloql.Item, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if item, ok := c[id]; ok && !seen[id] {
			seen[id] = true
			items = append(items, item.Clone())
		}
	}
	return items, nil
}

// FindByAttribute implements datastore.DataStore.
func (s *Store) FindByAttribute(ctx context.Context, e *model.Entity, attr string, value any) ([]veloql.Item, error) {
	return s.FindByFilter(ctx, e, datastore.Query{Filter: datastore.AttributePredicate(attr, value)})
}

// FindByFilter implements datastore.DataStore. Items are returned in id
// order unless sorted otherwise; ULIDs make that creation order.
func (s *Store) FindByFilter(_ context.Context, e *model.Entity, q datastore.Query) ([]veloql.Item, error) {
	items := s.match(e, q.Filter)
	datastore.SortItems(items, []datastore.Sort{{Field: veloql.FieldID}})
	datastore.SortItems(items, q.Sort)
	return datastore.Page(items, q.Paging), nil
}

// Count implements datastore.DataStore.
func (s *Store) Count(_ context.Context, e *model.Entity, filter ql.P) (int, error) {
	return len(s.match(e, filter)), nil
}

func (s *Store) match(e *model.Entity, p ql.P) []veloql.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := []veloql.Item{}
	for _, item := range s.collections[e.Collection] {
		if ql.Match(p, item) {
			items = append(items, item.Clone())
		}
	}
	return items
}

// Create implements datastore.DataStore.
func (s *Store) Create(_ context.Context, e *model.Entity, item veloql.Item) (veloql.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item = item.Clone()
	if item.ID() == "" {
		item[veloql.FieldID] = s.newID()
	}
	c, ok := s.collections[e.Collection]
	if !ok {
		c = make(map[string]veloql.Item)
		s.collections[e.Collection] = c
	}
	c[item.ID()] = item
	return item.Clone(), nil
}

// Update implements datastore.DataStore.
func (s *Store) Update(_ context.Context, e *model.Entity, item veloql.Item) (veloql.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := item.ID()
	if _, ok := s.collections[e.Collection][id]; !ok {
		return nil, veloql.NewNotFoundErrorWithID(e.Name, id)
	}
	item = item.Clone()
	s.collections[e.Collection][id] = item
	return item.Clone(), nil
}

// Delete implements datastore.DataStore.
func (s *Store) Delete(_ context.Context, e *model.Entity, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[e.Collection]
	if _, ok := c[id]; !ok {
		return false, nil
	}
	delete(c, id)
	return true, nil
}

// Truncate implements datastore.DataStore.
func (s *Store) Truncate(_ context.Context, e *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, e.Collection)
	return nil
}

// FilterTypes implements datastore.DataStore.
func (*Store) FilterTypes() []filter.Type {
	return filter.DefaultTypes()
}

// EnumFilterType implements datastore.DataStore.
func (*Store) EnumFilterType(en *model.Enum) filter.Type {
	return filter.NewEnumType(en)
}

var _ datastore.DataStore = (*Store)(nil)
