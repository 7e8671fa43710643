package accessor

import (
	"context"
	"slices"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/datastore"
	"github.com/syssam/veloql/filter"
	"github.com/syssam/veloql/model"
	ql "github.com/syssam/veloql/querylanguage"
	"github.com/syssam/veloql/scalar"
)

// Predicate compiles the filter expression of concrete entity e, resolves
// its assocFrom counts into id predicates and conjoins extra.
func (a *Accessor) Predicate(ctx context.Context, e *model.Entity, expr map[string]any, extra ql.P) (ql.P, error) {
	p, counts, err := a.compiler.Compile(e, expr)
	if err != nil {
		return nil, err
	}
	ps := []ql.P{p, extra}
	for _, c := range counts {
		cp, err := a.countPredicate(ctx, e, c)
		if err != nil {
			return nil, err
		}
		ps = append(ps, cp)
	}
	return ql.Conjoin(ps...), nil
}

// countPredicate turns an assocFrom count filter into an id predicate. When
// zero references satisfy the bounds the unreferenced items match too, so
// the predicate excludes the failing ids instead of listing the passing
// ones.
func (a *Accessor) countPredicate(ctx context.Context, e *model.Entity, c filter.AssocCount) (ql.P, error) {
	counts, err := a.Inbound(ctx, e, c.Assoc)
	if err != nil {
		return nil, err
	}
	var ids []string
	zero := c.Accepts(0)
	for id, n := range counts {
		if c.Accepts(n) != zero {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if zero {
		if len(ids) == 0 {
			return nil, nil
		}
		return ql.Not(datastore.IDsPredicate(ids)), nil
	}
	return datastore.IDsPredicate(ids), nil
}

// Inbound counts, per id of e, the records referencing it through the
// references backing the assocFrom assoc. Ids without references are
// absent.
func (a *Accessor) Inbound(ctx context.Context, e *model.Entity, assoc *model.Association) (map[string]int, error) {
	counts := map[string]int{}
	for _, ref := range a.m.Inbound(e, assoc) {
		key := ref.Assoc.ForeignKey()
		items, err := a.store.FindByFilter(ctx, ref.Owner, datastore.Query{Filter: ql.FieldNotNil(key)})
		if err != nil {
			return nil, veloql.NewQueryError(ref.Owner.Name, "inbound", err)
		}
		for _, it := range items {
			if tf := ref.Assoc.TypeField(); tf != "" && it[tf] != e.TypeName {
				continue
			}
			for _, id := range ids(it[key]) {
				counts[id]++
			}
		}
	}
	return counts, nil
}

// Referencing returns the records of ref.Owner pointing at the item id of
// e through ref.
func (a *Accessor) Referencing(ctx context.Context, e *model.Entity, ref model.Reference, id string) ([]veloql.Item, error) {
	p := ql.FieldEQ(ref.Assoc.ForeignKey(), id)
	if tf := ref.Assoc.TypeField(); tf != "" {
		p = ql.And(p, ql.FieldEQ(tf, e.TypeName))
	}
	items, err := a.store.FindByFilter(ctx, ref.Owner, datastore.Query{Filter: p})
	if err != nil {
		return nil, veloql.NewQueryError(ref.Owner.Name, "referencing", err)
	}
	return items, nil
}

func ids(v any) []string {
	var out []string
	for _, x := range scalar.AsList(v) {
		if s, ok := x.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Stats summarizes the items of an entity matching a filter.
type Stats struct {
	Count        int    `json:"count"`
	CreatedFirst string `json:"createdFirst,omitempty"`
	CreatedLast  string `json:"createdLast,omitempty"`
	UpdatedLast  string `json:"updatedLast,omitempty"`
}

// Stats returns the statistics of the items of e matching q. Sort and
// paging of q are ignored.
func (a *Accessor) Stats(ctx context.Context, e *model.Entity, q Query) (Stats, error) {
	n, err := a.Count(ctx, e, q.Filter, q.Predicate)
	if err != nil || n == 0 {
		return Stats{Count: n}, err
	}
	first := func(field string, desc bool) (string, error) {
		items, err := a.FindByFilter(ctx, e, Query{
			Filter:    q.Filter,
			Predicate: q.Predicate,
			Sort:      []datastore.Sort{{Field: field, Desc: desc}},
			Paging:    datastore.Paging{Size: 1},
		})
		if err != nil || len(items) == 0 {
			return "", err
		}
		s, _ := items[0][field].(string)
		return s, nil
	}
	st := Stats{Count: n}
	if st.CreatedFirst, err = first(veloql.FieldCreatedAt, false); err != nil {
		return st, err
	}
	if st.CreatedLast, err = first(veloql.FieldCreatedAt, true); err != nil {
		return st, err
	}
	st.UpdatedLast, err = first(veloql.FieldUpdatedAt, true)
	return st, err
}
