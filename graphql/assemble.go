package graphql

import (
	"github.com/vektah/gqlparser/v2/ast"
	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/filter"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/scalar"
)

// Names of the shared types.
const (
	rootQuery        = "Query"
	rootMutation     = "Mutation"
	rootSubscription = "Subscription"
	typeFile         = "File"
	typeViolation    = "ValidationViolation"
	typeStats        = "EntityStats"
	typePaging       = "EntityPaging"
	typeSeedResult   = "SeedResult"
	typeEntityMeta   = "EntityMetaData"
	typeFieldMeta    = "FieldMetaData"
	typeAssocMeta    = "AssocMetaData"
)

// assembler builds the schema document of a model.
type assembler struct {
	s     *Schema
	m     *model.Model
	reg   *registry
	types []filter.Type
}

// declare creates the handles of every definition.
func (a *assembler) declare() {
	for _, name := range []string{scalar.Date, scalar.DateTime, scalar.JSON, scalar.Upload} {
		a.reg.declare(ast.Scalar, name, "")
	}
	a.reg.declare(ast.Object, typeFile, "An uploaded file.")
	a.reg.declare(ast.Object, typeViolation, "A reason an input was rejected.")
	a.reg.declare(ast.Object, typeStats, "")
	a.reg.declare(ast.InputObject, typePaging, "")
	a.reg.declare(ast.Object, typeEntityMeta, "")
	a.reg.declare(ast.Object, typeFieldMeta, "")
	a.reg.declare(ast.Object, typeAssocMeta, "")
	if a.s.seeder != nil {
		a.reg.declare(ast.Object, typeSeedResult, "")
	}
	for _, t := range a.types {
		a.reg.declare(ast.InputObject, t.Name(), "")
	}
	a.reg.declare(ast.InputObject, filter.AssocFromFilter, "")
	for _, en := range a.m.Enums {
		if !validName(en.Name) {
			a.s.log.Warn("enum with invalid name skipped", zap.String("enum", en.Name))
			continue
		}
		a.reg.declare(ast.Enum, en.Name, en.Description)
	}
	for _, e := range a.m.Entities {
		switch {
		case e.IsUnion():
			a.reg.declare(ast.Union, e.TypeName, e.Description)
		case e.Interface:
			a.reg.declare(ast.Interface, e.TypeName, e.Description)
		default:
			a.reg.declare(ast.Object, e.TypeName, e.Description)
		}
		if e.IsPolymorphic() {
			a.reg.declare(ast.Enum, e.TypesEnum, "")
		}
		if !e.IsUnion() {
			a.reg.declare(ast.InputObject, e.Filter, "")
			a.reg.declare(ast.Enum, e.Sorter, "")
		}
		if !e.IsPolymorphic() {
			a.reg.declare(ast.InputObject, e.CreateInput, "")
			a.reg.declare(ast.InputObject, e.UpdateInput, "")
			if e.Enabled(veloql.OpCreate) || e.Enabled(veloql.OpUpdate) {
				a.reg.declare(ast.Object, e.MutationResult, "")
			}
		}
	}
	a.reg.declare(ast.Object, rootQuery, "")
	a.reg.declare(ast.Object, rootMutation, "")
	a.reg.declare(ast.Object, rootSubscription, "")
}

// populate fills the declared handles.
func (a *assembler) populate() {
	a.shared()
	for _, t := range a.types {
		a.filterInput(t)
	}
	if af := a.reg.lookup(filter.AssocFromFilter); len(af.Fields) == 0 {
		a.reg.field(af, &ast.FieldDefinition{Name: "min", Type: named("Int", false)})
		a.reg.field(af, &ast.FieldDefinition{Name: "max", Type: named("Int", false)})
	}
	for _, en := range a.m.Enums {
		a.enum(en)
	}
	for _, e := range a.m.Entities {
		a.entity(e)
	}
	a.queries()
	a.mutations()
	a.subscriptions()
}

func (a *assembler) shared() {
	file := a.reg.lookup(typeFile)
	for _, f := range []struct{ name, typ string }{
		{"filename", "String!"},
		{"mimetype", "String!"},
		{"encoding", "String!"},
		{"size", "Int"},
		{"secret", "String"},
		{"url", "String"},
	} {
		a.reg.field(file, &ast.FieldDefinition{Name: f.name, Type: parseType(f.typ)})
	}
	v := a.reg.lookup(typeViolation)
	a.reg.field(v, &ast.FieldDefinition{Name: "attribute", Type: named("String", false)})
	a.reg.field(v, &ast.FieldDefinition{Name: "message", Type: named("String", true)})

	st := a.reg.lookup(typeStats)
	a.reg.field(st, &ast.FieldDefinition{Name: "count", Type: named("Int", true)})
	for _, name := range []string{"createdFirst", "createdLast", "updatedLast"} {
		a.reg.field(st, &ast.FieldDefinition{Name: name, Type: named(scalar.DateTime, false)})
	}
	p := a.reg.lookup(typePaging)
	a.reg.field(p, &ast.FieldDefinition{Name: "page", Type: named("Int", true)})
	a.reg.field(p, &ast.FieldDefinition{Name: "size", Type: named("Int", true)})

	a.metaTypes()
	if sr := a.reg.lookup(typeSeedResult); sr != nil {
		a.reg.field(sr, &ast.FieldDefinition{Name: "count", Type: named("Int", true)})
		a.reg.field(sr, &ast.FieldDefinition{Name: "ids", Type: named(scalar.JSON, false)})
		a.reg.field(sr, &ast.FieldDefinition{Name: "violations", Type: listOf("String", true)})
	}
}

// filterInput renders the operators of a filter type.
func (a *assembler) filterInput(t filter.Type) {
	def := a.reg.lookup(t.Name())
	for _, op := range t.Operators() {
		typ := parseType(op.Type)
		typ.NonNull = false
		a.reg.field(def, &ast.FieldDefinition{Name: op.Name, Type: typ})
	}
}

func (a *assembler) enum(en *model.Enum) {
	def := a.reg.lookup(en.Name)
	if def == nil {
		return
	}
	for _, v := range en.Values {
		if !validName(v) || v == "true" || v == "false" || v == "null" {
			a.s.log.Warn("enum value with invalid name skipped", zap.String("enum", en.Name), zap.String("value", v))
			continue
		}
		def.EnumValues = append(def.EnumValues, &ast.EnumValueDefinition{Name: v, Description: en.Labels[v]})
	}
}

func (a *assembler) entity(e *model.Entity) {
	if e.IsUnion() {
		def := a.reg.lookup(e.TypeName)
		for _, m := range a.m.ConcreteMembers(e) {
			def.Types = append(def.Types, m.TypeName)
		}
	} else {
		a.objectType(e)
		a.filterType(e)
		a.sortEnum(e)
	}
	if e.IsPolymorphic() {
		def := a.reg.lookup(e.TypesEnum)
		for _, m := range a.m.ConcreteMembers(e) {
			def.EnumValues = append(def.EnumValues, &ast.EnumValueDefinition{Name: m.TypeName})
		}
	}
	if !e.IsPolymorphic() {
		a.inputs(e)
		a.mutationResult(e)
	}
}

// objectType renders the output type of an object or interface entity and
// binds its association and file fields.
func (a *assembler) objectType(e *model.Entity) {
	def := a.reg.lookup(e.TypeName)
	for _, name := range e.Implements {
		if iface := a.m.Entity(name); iface != nil {
			def.Interfaces = append(def.Interfaces, iface.TypeName)
		}
	}
	a.reg.field(def, &ast.FieldDefinition{Name: veloql.FieldID, Type: named("ID", true)})
	for _, attr := range e.Attributes {
		if !attr.ObjectTypeField {
			continue
		}
		a.reg.field(def, &ast.FieldDefinition{
			Name:        attr.Name,
			Description: attr.Description,
			Type:        attrType(attr, outputName(attr), attr.Required),
		})
	}
	a.reg.field(def, &ast.FieldDefinition{Name: veloql.FieldCreatedAt, Type: named(scalar.DateTime, false)})
	a.reg.field(def, &ast.FieldDefinition{Name: veloql.FieldUpdatedAt, Type: named(scalar.DateTime, false)})

	for _, assoc := range e.AssocTo {
		a.reg.field(def, &ast.FieldDefinition{
			Name:        assoc.Field(),
			Description: assoc.Description,
			Type:        named(assoc.Target.TypeName, false),
		})
		a.s.bind(e.TypeName, assoc.Field(), a.s.assocTo(assoc))
	}
	for _, assoc := range e.AssocToMany {
		a.reg.field(def, &ast.FieldDefinition{
			Name:        assoc.Field(),
			Description: assoc.Description,
			Type:        listOf(assoc.Target.TypeName, true),
		})
		a.s.bind(e.TypeName, assoc.Field(), a.s.assocToMany(assoc))
	}
	for _, assoc := range e.AssocFrom {
		a.reg.field(def, &ast.FieldDefinition{
			Name:        assoc.Field(),
			Description: assoc.Description,
			Arguments:   a.listArgs(assoc.Target),
			Type:        listOf(assoc.Target.TypeName, true),
		})
		a.s.bind(e.TypeName, assoc.Field(), a.s.assocFrom(e, assoc))
	}
}

// filterType renders the filter input of a non-union entity.
func (a *assembler) filterType(e *model.Entity) {
	def := a.reg.lookup(e.Filter)
	a.reg.field(def, &ast.FieldDefinition{Name: veloql.FieldID, Type: named(filter.IDFilter, false)})
	for _, attr := range e.Attributes {
		if !attr.Filterable() {
			continue
		}
		a.reg.field(def, &ast.FieldDefinition{Name: attr.Name, Type: named(attr.FilterType, false)})
	}
	for _, assoc := range e.AssocTo {
		a.reg.field(def, &ast.FieldDefinition{Name: assoc.ForeignKey(), Type: named(filter.IDFilter, false)})
		if tf := assoc.TypeField(); tf != "" {
			a.reg.field(def, &ast.FieldDefinition{Name: tf, Type: named(filter.StringFilter, false)})
		}
	}
	for _, assoc := range e.AssocToMany {
		a.reg.field(def, &ast.FieldDefinition{Name: assoc.ForeignKey(), Type: named(filter.IDFilter, false)})
	}
	for _, assoc := range e.AssocFrom {
		a.reg.field(def, &ast.FieldDefinition{Name: assoc.Field(), Type: named(filter.AssocFromFilter, false)})
	}
}

// sortEnum renders the sort keys: both directions of id and of every stored
// attribute.
func (a *assembler) sortEnum(e *model.Entity) {
	def := a.reg.lookup(e.Sorter)
	keys := []string{veloql.FieldID}
	for _, attr := range e.Attributes {
		if attr.Persisted() {
			keys = append(keys, attr.Name)
		}
	}
	for _, k := range keys {
		def.EnumValues = append(def.EnumValues,
			&ast.EnumValueDefinition{Name: k + "_ASC"},
			&ast.EnumValueDefinition{Name: k + "_DESC"})
	}
}

// inputs renders the create and update inputs of a concrete entity.
func (a *assembler) inputs(e *model.Entity) {
	create, update := a.reg.lookup(e.CreateInput), a.reg.lookup(e.UpdateInput)
	a.reg.field(update, &ast.FieldDefinition{Name: veloql.FieldID, Type: named("ID", true)})
	for _, attr := range e.Attributes {
		if attr.Virtual {
			continue
		}
		name := inputName(attr)
		if attr.CreateInput {
			a.reg.field(create, &ast.FieldDefinition{
				Name:        attr.Name,
				Description: attr.Description,
				Type:        attrType(attr, name, attr.Required && !attr.HasDefault()),
			})
		}
		if attr.UpdateInput {
			a.reg.field(update, &ast.FieldDefinition{
				Name:        attr.Name,
				Description: attr.Description,
				Type:        attrType(attr, name, attr.Required && attr.List),
			})
		}
	}
	for _, assoc := range e.AssocTo {
		for _, def := range []*ast.Definition{create, update} {
			a.reg.field(def, &ast.FieldDefinition{Name: assoc.ForeignKey(), Type: named("ID", false)})
			if tf := assoc.TypeField(); tf != "" {
				a.reg.field(def, &ast.FieldDefinition{Name: tf, Type: named(assoc.Target.TypesEnum, false)})
			}
		}
		if assoc.Input && !assoc.Polymorphic() {
			a.reg.field(create, &ast.FieldDefinition{
				Name: assoc.Field(),
				Type: named(assoc.Target.CreateInput, false),
			})
		}
	}
	for _, assoc := range e.AssocToMany {
		for _, def := range []*ast.Definition{create, update} {
			a.reg.field(def, &ast.FieldDefinition{Name: assoc.ForeignKey(), Type: listOf("ID", false)})
		}
	}
}

func (a *assembler) mutationResult(e *model.Entity) {
	def := a.reg.lookup(e.MutationResult)
	if def == nil {
		return
	}
	a.reg.field(def, &ast.FieldDefinition{Name: "validationViolations", Type: listOf(typeViolation, true)})
	a.reg.field(def, &ast.FieldDefinition{Name: e.Singular, Type: named(e.TypeName, false)})
}

// listArgs are the arguments of a list read of e.
func (a *assembler) listArgs(e *model.Entity) ast.ArgumentDefinitionList {
	args := ast.ArgumentDefinitionList{}
	if !e.IsUnion() {
		args = append(args,
			&ast.ArgumentDefinition{Name: "filter", Type: named(e.Filter, false)},
			&ast.ArgumentDefinition{Name: "sort", Type: listOf(e.Sorter, false)})
	}
	return append(args, &ast.ArgumentDefinition{Name: "paging", Type: named(typePaging, false)})
}

// outputName is the named type of attr in object types.
func outputName(attr *model.Attribute) string {
	if attr.IsFile() {
		return typeFile
	}
	return attr.Type
}

// inputName is the named type of attr in input types.
func inputName(attr *model.Attribute) string {
	if attr.IsFile() {
		return scalar.Upload
	}
	return attr.Type
}

// attrType wraps name for attr: a list of nullable items, or the item
// itself.
func attrType(attr *model.Attribute, name string, nonNull bool) *ast.Type {
	if attr.List {
		t := ast.ListType(named(name, false), nil)
		t.NonNull = nonNull
		return t
	}
	return named(name, nonNull)
}

// refType renders a custom operation type reference.
func refType(t model.TypeRef) *ast.Type {
	if t.List {
		l := ast.ListType(named(t.Name, t.ItemRequired), nil)
		l.NonNull = t.Required
		return l
	}
	return named(t.Name, t.Required)
}
