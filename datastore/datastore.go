// Package datastore defines the persistence gateway between the entity
// accessor and a storage backend, together with the sort and paging
// helpers shared by backends that evaluate queries in process.
//
// A DataStore stores items of concrete entities in one collection per
// entity. It never sees polymorphic entities: fan-out across concrete
// members is the accessor's job.
package datastore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/filter"
	"github.com/syssam/veloql/model"
	ql "github.com/syssam/veloql/querylanguage"
)

// Sort is one sort key.
type Sort struct {
	Field string
	Desc  bool
}

// String renders the key as a sort token, e.g. "name_DESC".
func (s Sort) String() string {
	if s.Desc {
		return s.Field + "_DESC"
	}
	return s.Field + "_ASC"
}

// Paging selects a page of results. Pages are zero based. A Size of 0
// means unlimited.
type Paging struct {
	Page int
	Size int
}

// Offset returns the number of items skipped.
func (p Paging) Offset() int {
	if p.Size <= 0 || p.Page <= 0 {
		return 0
	}
	return p.Page * p.Size
}

// Query is a list read.
type Query struct {
	Filter ql.P
	Sort   []Sort
	Paging Paging
}

// DataStore is the storage contract. Items passed to Create and Update are
// sanitized and carry every stored field; Update replaces the stored item.
type DataStore interface {
	// FindByID returns the item or nil, nil when it does not exist.
	FindByID(ctx context.Context, e *model.Entity, id string) (veloql.Item, error)
	// FindByIDs returns the existing items among ids, in no particular order.
	FindByIDs(ctx context.Context, e *model.Entity, ids []string) ([]veloql.Item, error)
	// FindByAttribute returns the items whose attribute equals value. For
	// list fields an item matches when any element equals value.
	FindByAttribute(ctx context.Context, e *model.Entity, attr string, value any) ([]veloql.Item, error)
	// FindByFilter returns the items matching the query.
	FindByFilter(ctx context.Context, e *model.Entity, q Query) ([]veloql.Item, error)
	// Count returns the number of items matching filter.
	Count(ctx context.Context, e *model.Entity, filter ql.P) (int, error)
	// Create stores a new item, assigning an id when absent.
	Create(ctx context.Context, e *model.Entity, item veloql.Item) (veloql.Item, error)
	// Update replaces the stored item with the same id.
	Update(ctx context.Context, e *model.Entity, item veloql.Item) (veloql.Item, error)
	// Delete removes the item, reporting whether it existed.
	Delete(ctx context.Context, e *model.Entity, id string) (bool, error)
	// Truncate removes every item of the entity.
	Truncate(ctx context.Context, e *model.Entity) error
	// FilterTypes returns the filter types the backend can evaluate.
	FilterTypes() []filter.Type
	// EnumFilterType returns the filter type of an enum.
	EnumFilterType(en *model.Enum) filter.Type
}

// ParseSort parses sort tokens of the form <field>_ASC or <field>_DESC.
// Tokens that do not parse are returned as invalid.
func ParseSort(tokens []string) (sorts []Sort, invalid []string) {
	for _, tok := range tokens {
		i := strings.LastIndexByte(tok, '_')
		if i <= 0 {
			invalid = append(invalid, tok)
			continue
		}
		switch field, dir := tok[:i], tok[i+1:]; strings.ToUpper(dir) {
		case "ASC":
			sorts = append(sorts, Sort{Field: field})
		case "DESC":
			sorts = append(sorts, Sort{Field: field, Desc: true})
		default:
			invalid = append(invalid, tok)
		}
	}
	return sorts, invalid
}

// SortItems sorts items in place by the keys, stable. Missing values sort
// last regardless of direction.
func SortItems(items []veloql.Item, keys []Sort) {
	if len(keys) == 0 {
		return
	}
	slices.SortStableFunc(items, func(a, b veloql.Item) int {
		for _, k := range keys {
			if c := compareKey(a, b, k); c != 0 {
				return c
			}
		}
		return 0
	})
}

func compareKey(a, b veloql.Item, k Sort) int {
	va, vb := a[k.Field], b[k.Field]
	switch na, nb := va == nil, vb == nil; {
	case na && nb:
		return 0
	case na:
		return 1
	case nb:
		return -1
	}
	c := compareValues(va, vb)
	if k.Desc {
		return -c
	}
	return c
}

// compareValues orders scalars by kind, lists element-wise with the shorter
// prefix first, and anything else by its printed form.
func compareValues(a, b any) int {
	if c, ok := ql.Compare(a, b); ok {
		return c
	}
	la, okA := a.([]any)
	lb, okB := b.([]any)
	if okA && okB {
		for i := range min(len(la), len(lb)) {
			if c := compareValues(la[i], lb[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(la), len(lb))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Page returns the page of items selected by p.
func Page(items []veloql.Item, p Paging) []veloql.Item {
	if p.Size <= 0 {
		return items
	}
	off := p.Offset()
	if off >= len(items) {
		return []veloql.Item{}
	}
	return items[off:min(off+p.Size, len(items))]
}

// AttributePredicate returns the predicate of FindByAttribute.
func AttributePredicate(attr string, value any) ql.P {
	if value == nil {
		return ql.FieldNil(attr)
	}
	return ql.FieldEQ(attr, value)
}

// IDsPredicate returns the predicate selecting ids.
func IDsPredicate(ids []string) ql.P {
	vs := make([]any, len(ids))
	for i, id := range ids {
		vs[i] = id
	}
	return ql.FieldIn(veloql.FieldID, vs...)
}
