package graphql

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"go.uber.org/zap"
)

// builtin scalars are provided by the prelude.
var builtin = map[string]bool{"String": true, "Int": true, "Float": true, "Boolean": true, "ID": true}

// registry holds the named definitions of a schema under construction.
// Every definition is declared up front as an empty handle and populated in
// a second pass, so fields can reference types regardless of declaration
// order.
type registry struct {
	defs  map[string]*ast.Definition
	order []string
	log   *zap.Logger
}

func newRegistry(log *zap.Logger) *registry {
	return &registry{defs: map[string]*ast.Definition{}, log: log}
}

// declare returns the handle of name, creating it with kind. A handle
// declared twice with different kinds keeps the first kind.
func (r *registry) declare(kind ast.DefinitionKind, name, desc string) *ast.Definition {
	if d, ok := r.defs[name]; ok {
		if d.Kind != kind {
			r.log.Warn("type declared with conflicting kinds", zap.String("type", name),
				zap.String("kind", string(d.Kind)), zap.String("conflict", string(kind)))
		}
		return d
	}
	d := &ast.Definition{Kind: kind, Name: name, Description: desc}
	r.defs[name] = d
	r.order = append(r.order, name)
	return d
}

func (r *registry) lookup(name string) *ast.Definition {
	return r.defs[name]
}

// known reports whether a named type exists.
func (r *registry) known(name string) bool {
	return builtin[name] || r.defs[name] != nil
}

// field appends a field to def unless a field with the name exists.
func (r *registry) field(def *ast.Definition, f *ast.FieldDefinition) {
	if def.Fields.ForName(f.Name) != nil {
		r.log.Warn("duplicate field dropped", zap.String("type", def.Name), zap.String("field", f.Name))
		return
	}
	def.Fields = append(def.Fields, f)
}

// link drops the fields and arguments referencing undeclared types and the
// definitions left without content. It reports the dropped type names.
func (r *registry) link() []string {
	var dropped []string
	for changed := true; changed; {
		changed = false
		for _, name := range r.order {
			d := r.defs[name]
			if d == nil {
				continue
			}
			d.Fields = r.linkFields(d)
			d.Types = r.linkMembers(d)
			if r.empty(d) {
				r.log.Warn("empty type dropped", zap.String("type", name))
				delete(r.defs, name)
				dropped = append(dropped, name)
				changed = true
			}
		}
	}
	order := r.order[:0]
	for _, name := range r.order {
		if r.defs[name] != nil {
			order = append(order, name)
		}
	}
	r.order = order
	for _, d := range r.defs {
		ifaces := d.Interfaces[:0]
		for _, i := range d.Interfaces {
			if r.defs[i] != nil {
				ifaces = append(ifaces, i)
			}
		}
		d.Interfaces = ifaces
	}
	return dropped
}

func (r *registry) linkFields(d *ast.Definition) ast.FieldList {
	out := d.Fields[:0]
	for _, f := range d.Fields {
		if !r.known(f.Type.Name()) {
			r.log.Warn("field of unknown type dropped", zap.String("type", d.Name),
				zap.String("field", f.Name), zap.String("fieldType", f.Type.String()))
			continue
		}
		var (
			args ast.ArgumentDefinitionList
			drop bool
		)
		for _, a := range f.Arguments {
			if r.known(a.Type.Name()) {
				args = append(args, a)
				continue
			}
			r.log.Warn("argument of unknown type dropped", zap.String("type", d.Name),
				zap.String("field", f.Name), zap.String("argument", a.Name))
			drop = drop || a.Type.NonNull
		}
		if drop {
			r.log.Warn("field missing a required argument dropped", zap.String("type", d.Name), zap.String("field", f.Name))
			continue
		}
		f.Arguments = args
		out = append(out, f)
	}
	return out
}

func (r *registry) linkMembers(d *ast.Definition) []string {
	if d.Kind != ast.Union {
		return d.Types
	}
	out := d.Types[:0]
	for _, t := range d.Types {
		if m := r.defs[t]; m != nil && m.Kind == ast.Object {
			out = append(out, t)
		}
	}
	return out
}

func (r *registry) empty(d *ast.Definition) bool {
	switch d.Kind {
	case ast.Object, ast.Interface, ast.InputObject:
		return len(d.Fields) == 0
	case ast.Union:
		return len(d.Types) == 0
	case ast.Enum:
		return len(d.EnumValues) == 0
	}
	return false
}

// document returns the definitions in declaration order.
func (r *registry) document() *ast.SchemaDocument {
	doc := &ast.SchemaDocument{}
	for _, name := range r.order {
		doc.Definitions = append(doc.Definitions, r.defs[name])
	}
	return doc
}

// validName reports whether s is a GraphQL name.
func validName(s string) bool {
	if s == "" || strings.HasPrefix(s, "__") {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// parseType reads a type reference in SDL notation such as [String!]!.
func parseType(s string) *ast.Type {
	s = strings.TrimSpace(s)
	nonNull := strings.HasSuffix(s, "!")
	s = strings.TrimSuffix(s, "!")
	var t *ast.Type
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		t = ast.ListType(parseType(s[1:len(s)-1]), nil)
	} else {
		t = ast.NamedType(s, nil)
	}
	t.NonNull = nonNull
	return t
}

func named(name string, nonNull bool) *ast.Type {
	if nonNull {
		return ast.NonNullNamedType(name, nil)
	}
	return ast.NamedType(name, nil)
}

// listOf wraps elem, a required item type, in a list.
func listOf(elem string, nonNull bool) *ast.Type {
	t := ast.ListType(ast.NonNullNamedType(elem, nil), nil)
	t.NonNull = nonNull
	return t
}
