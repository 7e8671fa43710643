package graphql

import (
	"context"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/accessor"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/resolver"
	"github.com/syssam/veloql/scalar"
)

// subscription is a subscription field fed by a bus topic.
type subscription struct {
	topic  string
	entity *model.Entity
	// op is set for configured subscriptions.
	op *model.Operation
}

func (a *assembler) root(name string, f *ast.FieldDefinition, fn FieldFunc) {
	a.reg.field(a.reg.lookup(name), f)
	a.s.bind(name, f.Name, fn)
}

func (a *assembler) queries() {
	for _, e := range a.m.Entities {
		if e.Enabled(veloql.OpTypeQuery) {
			a.root(rootQuery, &ast.FieldDefinition{
				Name:      e.TypeQuery,
				Arguments: ast.ArgumentDefinitionList{{Name: veloql.FieldID, Type: named("ID", true)}},
				Type:      named(e.TypeName, false),
			}, a.s.typeQuery(e))
		}
		if e.Enabled(veloql.OpTypesQuery) {
			a.root(rootQuery, &ast.FieldDefinition{
				Name:      e.TypesQuery,
				Arguments: a.listArgs(e),
				Type:      listOf(e.TypeName, true),
			}, a.s.typesQuery(e))
			for _, attr := range e.Attributes {
				if attr.QueryBy && attr.Persisted() {
					a.queryBy(e, attr)
				}
			}
		}
		if e.Enabled(veloql.OpStatsQuery) {
			var args ast.ArgumentDefinitionList
			if !e.IsUnion() {
				args = append(args, &ast.ArgumentDefinition{Name: "filter", Type: named(e.Filter, false)})
			}
			a.root(rootQuery, &ast.FieldDefinition{
				Name:      e.StatsQuery,
				Arguments: args,
				Type:      named(typeStats, true),
			}, a.s.statsQuery(e))
		}
	}
	a.root(rootQuery, &ast.FieldDefinition{
		Name:        "metaData",
		Description: "The entities of the API.",
		Arguments:   ast.ArgumentDefinitionList{{Name: "path", Type: named("String", false)}},
		Type:        listOf(typeEntityMeta, true),
	}, a.s.metaData)
	for _, op := range a.m.Queries {
		a.custom(rootQuery, op)
	}
}

// queryBy adds the lookup query of attr. A unique attribute yields the
// single match.
func (a *assembler) queryBy(e *model.Entity, attr *model.Attribute) {
	f := &ast.FieldDefinition{
		Arguments: ast.ArgumentDefinitionList{{Name: attr.Name, Type: named(inputName(attr), true)}},
	}
	if attr.Unique || attr.Key {
		f.Name = e.Singular + "By" + model.Pascal(attr.Name)
		f.Type = named(e.TypeName, false)
	} else {
		f.Name = e.Plural + "By" + model.Pascal(attr.Name)
		f.Type = listOf(e.TypeName, true)
	}
	unique := f.Type.Elem == nil
	a.root(rootQuery, f, func(ctx context.Context, p Params) (any, error) {
		items, err := a.s.r.TypesBy(ctx, e, attr.Name, p.Args[attr.Name])
		if err != nil {
			return nil, err
		}
		if !unique {
			return items, nil
		}
		if len(items) == 0 {
			return nil, nil
		}
		return items[0], nil
	})
}

func (a *assembler) mutations() {
	for _, e := range a.m.Entities {
		if e.Enabled(veloql.OpCreate) {
			a.root(rootMutation, &ast.FieldDefinition{
				Name:      e.CreateMutation,
				Arguments: ast.ArgumentDefinitionList{{Name: e.Singular, Type: named(e.CreateInput, true)}},
				Type:      named(e.MutationResult, true),
			}, a.s.save(e))
		}
		if e.Enabled(veloql.OpUpdate) {
			a.root(rootMutation, &ast.FieldDefinition{
				Name:      e.UpdateMutation,
				Arguments: ast.ArgumentDefinitionList{{Name: e.Singular, Type: named(e.UpdateInput, true)}},
				Type:      named(e.MutationResult, true),
			}, a.s.save(e))
		}
		if e.Enabled(veloql.OpDelete) {
			a.root(rootMutation, &ast.FieldDefinition{
				Name:      e.DeleteMutation,
				Arguments: ast.ArgumentDefinitionList{{Name: veloql.FieldID, Type: named("ID", true)}},
				Type:      listOf("String", true),
			}, a.s.delete(e))
		}
	}
	if a.s.seeder != nil {
		a.root(rootMutation, &ast.FieldDefinition{
			Name:        "seed",
			Description: "Loads the seed records of every entity.",
			Arguments:   ast.ArgumentDefinitionList{{Name: "truncate", Type: named("Boolean", false)}},
			Type:        named(typeSeedResult, true),
		}, a.s.seed)
	}
	for _, op := range a.m.Mutations {
		a.custom(rootMutation, op)
	}
}

func (a *assembler) subscriptions() {
	if a.s.bus == nil {
		return
	}
	for _, e := range a.m.Entities {
		if !e.Subscriptions || e.IsPolymorphic() {
			continue
		}
		for _, sub := range []struct{ field, topic string }{
			{e.CreatedSubscription(), e.CreateTopic()},
			{e.UpdatedSubscription(), e.UpdateTopic()},
			{e.DeletedSubscription(), e.DeleteTopic()},
		} {
			a.reg.field(a.reg.lookup(rootSubscription), &ast.FieldDefinition{
				Name: sub.field,
				Type: named(e.TypeName, true),
			})
			a.s.subs[sub.field] = subscription{topic: sub.topic, entity: e}
		}
	}
	for _, op := range a.m.Subscriptions {
		a.reg.field(a.reg.lookup(rootSubscription), &ast.FieldDefinition{
			Name:        op.Name,
			Description: op.Description,
			Arguments:   customArgs(op),
			Type:        refType(op.Type),
		})
		a.s.subs[op.Name] = subscription{topic: op.Topic, entity: a.m.Entity(op.Type.Name), op: op}
	}
}

// custom adds a configured operation to the root type name.
func (a *assembler) custom(name string, op *model.Operation) {
	a.root(name, &ast.FieldDefinition{
		Name:        op.Name,
		Description: op.Description,
		Arguments:   customArgs(op),
		Type:        refType(op.Type),
	}, a.s.custom(op))
}

func customArgs(op *model.Operation) ast.ArgumentDefinitionList {
	args := ast.ArgumentDefinitionList{}
	for _, arg := range op.Args {
		args = append(args, &ast.ArgumentDefinition{Name: arg.Name, Type: refType(arg.Type)})
	}
	return args
}

func (s *Schema) typeQuery(e *model.Entity) FieldFunc {
	return func(ctx context.Context, p Params) (any, error) {
		id, _ := p.Args[veloql.FieldID].(string)
		item, err := s.r.Type(ctx, e, id)
		if err != nil || item == nil {
			return nil, err
		}
		return item, nil
	}
}

func (s *Schema) typesQuery(e *model.Entity) FieldFunc {
	return func(ctx context.Context, p Params) (any, error) {
		return s.r.Types(ctx, e, listArgs(p.Args))
	}
}

func (s *Schema) statsQuery(e *model.Entity) FieldFunc {
	return func(ctx context.Context, p Params) (any, error) {
		filter, _ := p.Args["filter"].(map[string]any)
		st, err := s.r.Stats(ctx, e, filter)
		if err != nil {
			return nil, err
		}
		return stats(st), nil
	}
}

func (s *Schema) save(e *model.Entity) FieldFunc {
	return func(ctx context.Context, p Params) (any, error) {
		input, _ := p.Args[e.Singular].(map[string]any)
		res, err := s.r.Save(ctx, e, veloql.Item(input))
		if err != nil {
			return nil, err
		}
		out := map[string]any{"validationViolations": violations(res.Violations), e.Singular: nil}
		if res.Item != nil {
			out[e.Singular] = res.Item
		}
		return out, nil
	}
}

func (s *Schema) delete(e *model.Entity) FieldFunc {
	return func(ctx context.Context, p Params) (any, error) {
		id, _ := p.Args[veloql.FieldID].(string)
		msgs, err := s.r.Delete(ctx, e, id)
		if err != nil {
			return nil, err
		}
		return anyList(msgs), nil
	}
}

func (s *Schema) seed(ctx context.Context, p Params) (any, error) {
	truncate, _ := p.Args["truncate"].(bool)
	report, err := s.seeder.Seed(ctx, truncate)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"count":      report.Count(),
		"ids":        report.IDs,
		"violations": anyList(report.Violations),
	}, nil
}

func (s *Schema) custom(op *model.Operation) FieldFunc {
	return func(ctx context.Context, p Params) (any, error) {
		if op.Resolve == nil {
			return nil, fmt.Errorf("graphql: %s has no resolver", op.Name)
		}
		res, err := op.Resolve(ctx, &model.Request{Args: p.Args, Services: s.services})
		if err != nil {
			return nil, fmt.Errorf("graphql: %s: %w", op.Name, err)
		}
		return res, nil
	}
}

func (s *Schema) assocTo(assoc *model.Association) FieldFunc {
	return func(ctx context.Context, p Params) (any, error) {
		ref, err := s.r.AssocTo(ctx, sourceItem(p.Source), assoc)
		if err != nil || ref == nil {
			return nil, err
		}
		return ref, nil
	}
}

func (s *Schema) assocToMany(assoc *model.Association) FieldFunc {
	return func(ctx context.Context, p Params) (any, error) {
		return s.r.AssocToMany(ctx, sourceItem(p.Source), assoc)
	}
}

func (s *Schema) assocFrom(e *model.Entity, assoc *model.Association) FieldFunc {
	return func(ctx context.Context, p Params) (any, error) {
		return s.r.AssocFrom(ctx, e, sourceItem(p.Source), assoc, listArgs(p.Args))
	}
}

// listArgs reads the filter, sort and paging arguments of a list field.
func listArgs(args map[string]any) resolver.ListArgs {
	var la resolver.ListArgs
	la.Filter, _ = args["filter"].(map[string]any)
	for _, v := range scalar.AsList(args["sort"]) {
		if tok, ok := v.(string); ok {
			la.Sort = append(la.Sort, tok)
		}
	}
	if p, ok := args["paging"].(map[string]any); ok {
		la.Paging.Page, _ = scalar.ToInt(p["page"])
		la.Paging.Size, _ = scalar.ToInt(p["size"])
	}
	return la
}

func sourceItem(v any) veloql.Item {
	switch v := v.(type) {
	case veloql.Item:
		return v
	case map[string]any:
		return v
	}
	return veloql.Item{}
}

func stats(st accessor.Stats) map[string]any {
	return map[string]any{
		"count":        st.Count,
		"createdFirst": optional(st.CreatedFirst),
		"createdLast":  optional(st.CreatedLast),
		"updatedLast":  optional(st.UpdatedLast),
	}
}

func violations(vs []veloql.Violation) []any {
	out := make([]any, 0, len(vs))
	for _, v := range vs {
		out = append(out, map[string]any{"attribute": optional(v.Attribute), "message": v.Message})
	}
	return out
}
