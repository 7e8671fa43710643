package graphql

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
)

// metaTypes renders the types of the metadata query.
func (a *assembler) metaTypes() {
	fields := func(name string, specs [][2]string) {
		def := a.reg.lookup(name)
		for _, f := range specs {
			a.reg.field(def, &ast.FieldDefinition{Name: f[0], Type: parseType(f[1])})
		}
	}
	fields(typeEntityMeta, [][2]string{
		{"name", "String!"},
		{"typeName", "String!"},
		{"singular", "String!"},
		{"plural", "String!"},
		{"path", "String!"},
		{"foreignKey", "String!"},
		{"foreignKeys", "String!"},
		{"createInput", "String"},
		{"updateInput", "String"},
		{"filter", "String"},
		{"sorter", "String"},
		{"typeQuery", "String"},
		{"typesQuery", "String"},
		{"statsQuery", "String"},
		{"createMutation", "String"},
		{"updateMutation", "String"},
		{"deleteMutation", "String"},
		{"description", "String"},
		{"isPolymorphic", "Boolean!"},
		{"union", "[String!]!"},
		{"implements", "[String!]!"},
		{"subscriptions", "Boolean!"},
		{"fields", "[" + typeFieldMeta + "!]!"},
		{"assocTo", "[" + typeAssocMeta + "!]!"},
		{"assocToMany", "[" + typeAssocMeta + "!]!"},
		{"assocFrom", "[" + typeAssocMeta + "!]!"},
	})
	fields(typeFieldMeta, [][2]string{
		{"name", "String!"},
		{"type", "String!"},
		{"required", "Boolean!"},
		{"list", "Boolean!"},
		{"unique", "Boolean!"},
		{"key", "Boolean!"},
		{"virtual", "Boolean!"},
		{"createInput", "Boolean!"},
		{"updateInput", "Boolean!"},
		{"filterType", "String"},
		{"mediaType", "String"},
		{"queryBy", "Boolean!"},
		{"description", "String"},
	})
	fields(typeAssocMeta, [][2]string{
		{"field", "String!"},
		{"type", "String!"},
		{"typeName", "String!"},
		{"path", "String!"},
		{"typeQuery", "String!"},
		{"typesQuery", "String!"},
		{"foreignKey", "String"},
		{"typeField", "String"},
		{"required", "Boolean!"},
		{"polymorphic", "Boolean!"},
		{"delete", "String"},
	})
}

// metaData lists the entities of the model, all of them or the one served
// under path.
func (s *Schema) metaData(_ context.Context, p Params) (any, error) {
	path, _ := p.Args["path"].(string)
	out := []any{}
	for _, e := range s.m.Entities {
		if path != "" && e.Path != path {
			continue
		}
		out = append(out, entityMeta(e))
	}
	return out, nil
}

func entityMeta(e *model.Entity) map[string]any {
	enabled := func(op veloql.Op, name string) any {
		if !e.Enabled(op) {
			return nil
		}
		return name
	}
	concrete := func(name string) any {
		if e.IsPolymorphic() {
			return nil
		}
		return name
	}
	fields := make([]any, 0, len(e.Attributes))
	for _, a := range e.Attributes {
		fields = append(fields, map[string]any{
			"name":        a.Name,
			"type":        a.Type,
			"required":    a.Required,
			"list":        a.List,
			"unique":      a.Unique,
			"key":         a.Key,
			"virtual":     a.Virtual,
			"createInput": a.CreateInput,
			"updateInput": a.UpdateInput,
			"filterType":  optional(a.FilterType),
			"mediaType":   optional(a.MediaType),
			"queryBy":     a.QueryBy,
			"description": optional(a.Description),
		})
	}
	return map[string]any{
		"name":           e.Name,
		"typeName":       e.TypeName,
		"singular":       e.Singular,
		"plural":         e.Plural,
		"path":           e.Path,
		"foreignKey":     e.ForeignKey,
		"foreignKeys":    e.ForeignKeys,
		"createInput":    concrete(e.CreateInput),
		"updateInput":    concrete(e.UpdateInput),
		"filter":         optional(e.Filter),
		"sorter":         optional(e.Sorter),
		"typeQuery":      enabled(veloql.OpTypeQuery, e.TypeQuery),
		"typesQuery":     enabled(veloql.OpTypesQuery, e.TypesQuery),
		"statsQuery":     enabled(veloql.OpStatsQuery, e.StatsQuery),
		"createMutation": enabled(veloql.OpCreate, e.CreateMutation),
		"updateMutation": enabled(veloql.OpUpdate, e.UpdateMutation),
		"deleteMutation": enabled(veloql.OpDelete, e.DeleteMutation),
		"description":    optional(e.Description),
		"isPolymorphic":  e.IsPolymorphic(),
		"union":          anyList(e.Union),
		"implements":     anyList(e.Implements),
		"subscriptions":  e.Subscriptions,
		"fields":         fields,
		"assocTo":        assocMeta(e.AssocTo),
		"assocToMany":    assocMeta(e.AssocToMany),
		"assocFrom":      assocMeta(e.AssocFrom),
	}
}

func assocMeta(assocs []*model.Association) []any {
	out := make([]any, 0, len(assocs))
	for _, a := range assocs {
		out = append(out, map[string]any{
			"field":       a.Field(),
			"type":        a.Target.Name,
			"typeName":    a.Target.TypeName,
			"path":        a.Target.Path,
			"typeQuery":   a.Target.TypeQuery,
			"typesQuery":  a.Target.TypesQuery,
			"foreignKey":  optional(a.ForeignKey()),
			"typeField":   optional(a.TypeField()),
			"required":    a.Required,
			"polymorphic": a.Polymorphic(),
			"delete":      optional(string(a.Delete)),
		})
	}
	return out
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func anyList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
