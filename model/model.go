// Package model holds the canonical, resolved description of a data model:
// entities with their attributes and associations, enums and custom
// operations. A Model is built once by the config package and is read-only
// afterwards.
package model

import (
	"fmt"
	"slices"
	"strings"
)

// Model is a resolved data model.
type Model struct {
	Entities      []*Entity
	Enums         []*Enum
	Queries       []*Operation
	Mutations     []*Operation
	Subscriptions []*Operation

	byName  map[string]*Entity
	byType  map[string]*Entity
	enums   map[string]*Enum
	typeUse map[string]string
}

// New returns an empty model.
func New() *Model {
	return &Model{
		byName:  make(map[string]*Entity),
		byType:  make(map[string]*Entity),
		enums:   make(map[string]*Enum),
		typeUse: make(map[string]string),
	}
}

// AddEntity registers e. It fails when e derives an API type name already
// used by another entity or enum.
func (m *Model) AddEntity(e *Entity) error {
	if _, ok := m.byName[e.Name]; ok {
		return fmt.Errorf("entity %q already defined", e.Name)
	}
	for _, n := range e.TypeNames() {
		if owner, ok := m.typeUse[n]; ok {
			return fmt.Errorf("type name %q of entity %q is already used by %s", n, e.Name, owner)
		}
	}
	for _, n := range e.TypeNames() {
		m.typeUse[n] = "entity " + e.Name
	}
	m.Entities = append(m.Entities, e)
	m.byName[e.Name] = e
	m.byType[e.TypeName] = e
	return nil
}

// AddEnum registers en. It fails on a type name already in use.
func (m *Model) AddEnum(en *Enum) error {
	for _, n := range []string{en.Name, en.FilterName()} {
		if owner, ok := m.typeUse[n]; ok {
			return fmt.Errorf("type name %q of enum %q is already used by %s", n, en.Name, owner)
		}
	}
	m.typeUse[en.Name] = "enum " + en.Name
	m.typeUse[en.FilterName()] = "enum " + en.Name
	m.Enums = append(m.Enums, en)
	m.enums[en.Name] = en
	return nil
}

// Entity returns the entity with the given name or type name.
func (m *Model) Entity(name string) *Entity {
	if e, ok := m.byName[name]; ok {
		return e
	}
	return m.byType[name]
}

// Enum returns the enum with the given name or nil.
func (m *Model) Enum(name string) *Enum {
	return m.enums[name]
}

// ConcreteMembers enumerates the concrete entities behind e. A concrete
// entity is its own single member; a union expands to the closure of its
// members; an interface to its implementers.
func (m *Model) ConcreteMembers(e *Entity) []*Entity {
	var (
		out  []*Entity
		seen = map[string]bool{}
		walk func(*Entity)
	)
	walk = func(e *Entity) {
		if e == nil || seen[e.Name] {
			return
		}
		seen[e.Name] = true
		switch {
		case e.IsUnion():
			for _, name := range e.Union {
				walk(m.Entity(name))
			}
		case e.Interface:
			for _, impl := range m.Implementers(e) {
				walk(impl)
			}
		default:
			out = append(out, e)
		}
	}
	walk(e)
	return out
}

// Implementers returns the entities declaring that they implement iface.
func (m *Model) Implementers(iface *Entity) []*Entity {
	var out []*Entity
	for _, e := range m.Entities {
		if slices.Contains(e.Implements, iface.Name) {
			out = append(out, e)
		}
	}
	return out
}

// Covers reports whether target is e itself or a polymorphic entity having
// e among its concrete members.
func (m *Model) Covers(target, e *Entity) bool {
	if target == e {
		return true
	}
	if !target.IsPolymorphic() {
		return false
	}
	return slices.Contains(m.ConcreteMembers(target), e)
}

// Reference is an assocTo or assocToMany of Owner pointing at an entity.
type Reference struct {
	Owner *Entity
	Assoc *Association
}

// ReferencesTo returns every stored reference that can point at e, directly
// or through a polymorphic target.
func (m *Model) ReferencesTo(e *Entity) []Reference {
	var refs []Reference
	for _, owner := range m.Entities {
		if owner.IsPolymorphic() {
			continue
		}
		for _, a := range append(slices.Clone(owner.AssocTo), owner.AssocToMany...) {
			if a.Target != nil && m.Covers(a.Target, e) {
				refs = append(refs, Reference{Owner: owner, Assoc: a})
			}
		}
	}
	return refs
}

// Inbound returns the references backing the assocFrom a of e: the
// references stored on the concrete members of a's target pointing at e.
func (m *Model) Inbound(e *Entity, a *Association) []Reference {
	members := m.ConcreteMembers(a.Target)
	var refs []Reference
	for _, ref := range m.ReferencesTo(e) {
		if slices.Contains(members, ref.Owner) {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Enum is a resolved enumeration.
type Enum struct {
	Name   string
	Values []string
	// Labels optionally maps values to display labels.
	Labels      map[string]string
	Description string
}

// Has reports whether v is a value of the enum.
func (en *Enum) Has(v string) bool {
	return slices.Contains(en.Values, v)
}

// FilterName returns the name of the filter input of the enum.
func (en *Enum) FilterName() string {
	return en.Name + "Filter"
}

// Operation is a custom query, mutation or subscription.
type Operation struct {
	Name        string
	Type        TypeRef
	Args        []Arg
	Resolve     ResolveFunc
	Topic       string
	Description string
}

// Arg is an argument of a custom operation.
type Arg struct {
	Name string
	Type TypeRef
}

// TypeRef references a named API type with its wrapping.
type TypeRef struct {
	Name         string
	List         bool
	ItemRequired bool
	Required     bool
}

// String renders the reference in SDL notation.
func (t TypeRef) String() string {
	var b strings.Builder
	if t.List {
		b.WriteByte('[')
	}
	b.WriteString(t.Name)
	if t.List {
		if t.ItemRequired {
			b.WriteByte('!')
		}
		b.WriteByte(']')
	}
	if t.Required {
		b.WriteByte('!')
	}
	return b.String()
}
