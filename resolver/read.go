package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/accessor"
	"github.com/syssam/veloql/datastore"
	"github.com/syssam/veloql/model"
	ql "github.com/syssam/veloql/querylanguage"
	"github.com/syssam/veloql/scalar"
)

// ListArgs are the arguments of a list read.
type ListArgs struct {
	Filter map[string]any
	// Sort holds tokens of the form <field>_ASC or <field>_DESC.
	Sort   []string
	Paging datastore.Paging
}

func (a ListArgs) args() map[string]any {
	return map[string]any{
		"filter": a.Filter,
		"sort":   a.Sort,
		"paging": map[string]any{"page": a.Paging.Page, "size": a.Paging.Size},
	}
}

// Type reads the item id of e. A missing item, or one hidden by the
// permission filter, is nil.
func (r *Resolver) Type(ctx context.Context, e *model.Entity, id string) (veloql.Item, error) {
	req := &model.Request{Op: veloql.OpTypeQuery, Entity: e, ID: id}
	permit := func(ctx context.Context) error { return r.perms.EnsureTypeRead(ctx, e, id) }
	res, err := r.dispatch(ctx, req, permit, func(ctx context.Context) (any, error) {
		item, err := r.load(ctx, e, id)
		if err != nil || item == nil {
			return nil, err
		}
		if ok, err := r.visible(ctx, e, item); err != nil || !ok {
			return nil, err
		}
		if member := r.m.Entity(item.Typename()); e.IsPolymorphic() && member != nil {
			if err := r.perms.EnsureTypeRead(ctx, member, id); err != nil {
				return nil, err
			}
			if ok, err := r.visible(ctx, member, item); err != nil || !ok {
				return nil, err
			}
		}
		return item, nil
	})
	if err != nil {
		return nil, err
	}
	item, err := asItem(res)
	if err != nil {
		return nil, veloql.NewQueryError(e.Name, "typeQuery", err)
	}
	return r.Resolve(ctx, e, item)
}

// visible reports whether item passes the permission filter of e.
func (r *Resolver) visible(ctx context.Context, e *model.Entity, item veloql.Item) (bool, error) {
	p, err := r.perms.AddPermissionToFilter(ctx, e, veloql.OpTypeQuery, item.ID())
	if err != nil || p == nil {
		return err == nil, err
	}
	return ql.Match(p, item), nil
}

// Types reads the items of e matching args.
func (r *Resolver) Types(ctx context.Context, e *model.Entity, args ListArgs) ([]veloql.Item, error) {
	req := &model.Request{Op: veloql.OpTypesQuery, Entity: e, Args: args.args()}
	permit := func(ctx context.Context) error { return r.perms.EnsureTypesRead(ctx, e, veloql.OpTypesQuery) }
	res, err := r.dispatch(ctx, req, permit, func(ctx context.Context) (any, error) {
		q, err := r.query(ctx, e, veloql.OpTypesQuery, args)
		if err != nil {
			return nil, err
		}
		return r.acc.FindByFilter(ctx, e, q)
	})
	if err != nil {
		return nil, err
	}
	items, err := asItems(res)
	if err != nil {
		return nil, veloql.NewQueryError(e.Name, "typesQuery", err)
	}
	return r.resolveAll(ctx, e, items)
}

// TypesBy reads the items of e whose attribute equals value.
func (r *Resolver) TypesBy(ctx context.Context, e *model.Entity, attr string, value any) ([]veloql.Item, error) {
	req := &model.Request{Op: veloql.OpTypesQuery, Entity: e, Args: map[string]any{attr: value}}
	permit := func(ctx context.Context) error { return r.perms.EnsureTypesRead(ctx, e, veloql.OpTypesQuery) }
	res, err := r.dispatch(ctx, req, permit, func(ctx context.Context) (any, error) {
		p, err := r.perms.AddPermissionToFilter(ctx, e, veloql.OpTypesQuery, "")
		if err != nil {
			return nil, err
		}
		return r.acc.FindByFilter(ctx, e, accessor.Query{
			Predicate: ql.Conjoin(datastore.AttributePredicate(attr, value), p),
		})
	})
	if err != nil {
		return nil, err
	}
	items, err := asItems(res)
	if err != nil {
		return nil, veloql.NewQueryError(e.Name, "typesQuery", err)
	}
	return r.resolveAll(ctx, e, items)
}

// Stats returns the statistics of the items of e matching filter.
func (r *Resolver) Stats(ctx context.Context, e *model.Entity, filter map[string]any) (accessor.Stats, error) {
	req := &model.Request{Op: veloql.OpStatsQuery, Entity: e, Args: map[string]any{"filter": filter}}
	permit := func(ctx context.Context) error { return r.perms.EnsureTypesRead(ctx, e, veloql.OpStatsQuery) }
	res, err := r.dispatch(ctx, req, permit, func(ctx context.Context) (any, error) {
		q, err := r.query(ctx, e, veloql.OpStatsQuery, ListArgs{Filter: filter})
		if err != nil {
			return nil, err
		}
		return r.acc.Stats(ctx, e, q)
	})
	if err != nil {
		return accessor.Stats{}, err
	}
	return asStats(res)
}

// query translates list arguments, conjoining the permission filter.
func (r *Resolver) query(ctx context.Context, e *model.Entity, op veloql.Op, args ListArgs) (accessor.Query, error) {
	p, err := r.perms.AddPermissionToFilter(ctx, e, op, "")
	if err != nil {
		return accessor.Query{}, err
	}
	return accessor.Query{
		Filter:    args.Filter,
		Predicate: p,
		Sort:      r.sort(e, args.Sort),
		Paging:    args.Paging,
	}, nil
}

// sort parses sort tokens. Malformed tokens and unknown fields are logged
// and ignored.
func (r *Resolver) sort(e *model.Entity, tokens []string) []datastore.Sort {
	sorts, invalid := datastore.ParseSort(tokens)
	for _, tok := range invalid {
		r.log.Warn("malformed sort token ignored", zap.String("entity", e.Name), zap.String("token", tok))
	}
	members := r.m.ConcreteMembers(e)
	out := sorts[:0]
	for _, s := range sorts {
		if sortable(e, members, s.Field) {
			out = append(out, s)
			continue
		}
		r.log.Warn("unknown sort field ignored", zap.String("entity", e.Name), zap.String("field", s.Field))
	}
	return out
}

func sortable(e *model.Entity, members []*model.Entity, field string) bool {
	switch field {
	case veloql.FieldID, veloql.FieldCreatedAt, veloql.FieldUpdatedAt:
		return true
	}
	if a := e.Attribute(field); a != nil {
		return a.Sortable()
	}
	for _, m := range members {
		if a := m.Attribute(field); a != nil && a.Sortable() {
			return true
		}
	}
	return false
}

// AssocTo resolves the target of the assocTo assoc of item through the
// single-item read of the target. A polymorphic target is picked by the
// stored discriminator.
func (r *Resolver) AssocTo(ctx context.Context, item veloql.Item, assoc *model.Association) (veloql.Item, error) {
	id, _ := item[assoc.ForeignKey()].(string)
	if id == "" {
		return nil, nil
	}
	target := assoc.Target
	if tf := assoc.TypeField(); tf != "" {
		name, _ := item[tf].(string)
		member := r.m.Entity(name)
		if member == nil || member.IsPolymorphic() || !r.m.Covers(target, member) {
			r.log.Warn("unresolvable polymorphic reference",
				zap.String("field", assoc.Field()),
				zap.String("id", id),
				zap.String("type", name))
			return nil, nil
		}
		target = member
	}
	ref, err := r.Type(ctx, target, id)
	if err != nil || ref == nil {
		return nil, err
	}
	if assoc.Polymorphic() {
		ref[veloql.FieldTypename] = target.TypeName
	}
	return ref, nil
}

// AssocToMany resolves the targets of the assocToMany assoc of item
// through the list read of the target.
func (r *Resolver) AssocToMany(ctx context.Context, item veloql.Item, assoc *model.Association) ([]veloql.Item, error) {
	var ids []any
	for _, v := range scalar.AsList(item[assoc.ForeignKey()]) {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	if len(ids) == 0 {
		return []veloql.Item{}, nil
	}
	return r.Types(ctx, assoc.Target, ListArgs{Filter: map[string]any{veloql.FieldID: ids}})
}

// AssocFrom resolves the records referencing item of e through the assocFrom
// assoc. A polymorphic owner is queried per concrete member; the results are
// tagged, concatenated, then paged.
func (r *Resolver) AssocFrom(ctx context.Context, e *model.Entity, item veloql.Item, assoc *model.Association, args ListArgs) ([]veloql.Item, error) {
	poly := assoc.Target.IsPolymorphic()
	var (
		out  []veloql.Item
		seen = map[string]bool{}
	)
	for _, ref := range r.m.Inbound(e, assoc) {
		filter := maps.Clone(args.Filter)
		if filter == nil {
			filter = map[string]any{}
		}
		filter[ref.Assoc.ForeignKey()] = item.ID()
		if tf := ref.Assoc.TypeField(); tf != "" {
			filter[tf] = map[string]any{"is": e.TypeName}
		}
		sub := ListArgs{Filter: filter, Sort: args.Sort}
		if !poly {
			sub.Paging = args.Paging
		}
		items, err := r.Types(ctx, ref.Owner, sub)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			key := ref.Owner.Name + "/" + it.ID()
			if seen[key] {
				continue
			}
			seen[key] = true
			if poly {
				it[veloql.FieldTypename] = ref.Owner.TypeName
			}
			out = append(out, it)
		}
	}
	if poly {
		datastore.SortItems(out, r.sort(assoc.Target, args.Sort))
		out = datastore.Page(out, args.Paging)
	}
	if out == nil {
		out = []veloql.Item{}
	}
	return out, nil
}

func asItem(v any) (veloql.Item, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case veloql.Item:
		return v, nil
	case map[string]any:
		return veloql.Item(v), nil
	case *SaveResult:
		return v.Item, nil
	}
	return nil, fmt.Errorf("unexpected result %T, want an item", v)
}

func asItems(v any) ([]veloql.Item, error) {
	switch v := v.(type) {
	case nil:
		return []veloql.Item{}, nil
	case []veloql.Item:
		if v == nil {
			return []veloql.Item{}, nil
		}
		return v, nil
	case []map[string]any:
		out := make([]veloql.Item, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, nil
	case []any:
		out := make([]veloql.Item, 0, len(v))
		for _, x := range v {
			it, err := asItem(x)
			if err != nil {
				return nil, err
			}
			if it != nil {
				out = append(out, it)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected result %T, want a list of items", v)
}

func asStats(v any) (accessor.Stats, error) {
	switch v := v.(type) {
	case accessor.Stats:
		return v, nil
	case *accessor.Stats:
		if v == nil {
			return accessor.Stats{}, nil
		}
		return *v, nil
	case nil:
		return accessor.Stats{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return accessor.Stats{}, fmt.Errorf("unexpected stats result %T: %w", v, err)
	}
	var st accessor.Stats
	if err := json.Unmarshal(raw, &st); err != nil {
		return accessor.Stats{}, fmt.Errorf("unexpected stats result %T: %w", v, err)
	}
	return st, nil
}
