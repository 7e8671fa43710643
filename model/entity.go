package model

import (
	"sort"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/privacy"
)

// Names are the derived names of an entity. Every name can be overridden
// from configuration; empty names are derived by convention.
type Names struct {
	TypeName    string
	Singular    string
	Plural      string
	Collection  string
	Path        string
	ForeignKey  string
	ForeignKeys string

	CreateInput    string
	UpdateInput    string
	Filter         string
	Sorter         string
	TypesEnum      string
	MutationResult string

	CreateMutation string
	UpdateMutation string
	DeleteMutation string
	TypeQuery      string
	TypesQuery     string
	StatsQuery     string
}

// DeriveNames fills the empty names of o by convention, in dependency
// order: type name, then singular/plural/collection/path, then foreign
// keys, then input/filter/sorter type names, then operation names.
func DeriveNames(name string, o Names) Names {
	n := o
	if n.TypeName == "" {
		n.TypeName = Pascal(name)
	}
	if n.Singular == "" {
		n.Singular = Camel(n.TypeName)
	}
	if n.Plural == "" {
		n.Plural = Plural(n.Singular)
	}
	if n.Collection == "" {
		n.Collection = n.Plural
	}
	if n.Path == "" {
		n.Path = Kebab(n.Plural)
	}
	if n.ForeignKey == "" {
		n.ForeignKey = n.Singular + "Id"
	}
	if n.ForeignKeys == "" {
		n.ForeignKeys = n.Singular + "Ids"
	}
	if n.CreateInput == "" {
		n.CreateInput = n.TypeName + "CreateInput"
	}
	if n.UpdateInput == "" {
		n.UpdateInput = n.TypeName + "UpdateInput"
	}
	if n.Filter == "" {
		n.Filter = n.TypeName + "Filter"
	}
	if n.Sorter == "" {
		n.Sorter = n.TypeName + "Sort"
	}
	if n.TypesEnum == "" {
		n.TypesEnum = n.TypeName + "Types"
	}
	if n.MutationResult == "" {
		n.MutationResult = "Save" + n.TypeName + "MutationResult"
	}
	if n.CreateMutation == "" {
		n.CreateMutation = "create" + n.TypeName
	}
	if n.UpdateMutation == "" {
		n.UpdateMutation = "update" + n.TypeName
	}
	if n.DeleteMutation == "" {
		n.DeleteMutation = "delete" + n.TypeName
	}
	if n.TypeQuery == "" {
		n.TypeQuery = n.Singular
	}
	if n.TypesQuery == "" {
		n.TypesQuery = n.Plural
	}
	if n.StatsQuery == "" {
		n.StatsQuery = n.Plural + "Stats"
	}
	return n
}

// TypeNames returns every API type name the entity produces.
func (n Names) TypeNames() []string {
	return []string{n.TypeName, n.CreateInput, n.UpdateInput, n.Filter, n.Sorter, n.TypesEnum, n.MutationResult}
}

// Entity is the canonical description of one business entity.
type Entity struct {
	// Name is the identity of the entity as configured.
	Name string
	Names
	Description string

	Attributes  []*Attribute
	AssocTo     []*Association
	AssocToMany []*Association
	AssocFrom   []*Association

	// Union lists the member entity names of a union entity.
	Union []string
	// Interface marks an entity implemented by other entities.
	Interface bool
	// Implements lists the interface entities this entity implements.
	Implements []string

	// Subscriptions enables create/update/delete events.
	Subscriptions bool
	Operations    Operations
	Hooks         Hooks
	Permissions   *privacy.Policy
	Validate      ValidateFunc
	// Seeds are named sample records.
	Seeds map[string]veloql.Item

	attrs map[string]*Attribute
}

// NewEntity returns an entity with conventional names.
func NewEntity(name string) *Entity {
	return &Entity{Name: name, Names: DeriveNames(name, Names{})}
}

// Attribute returns the attribute with the given name or nil.
func (e *Entity) Attribute(name string) *Attribute {
	if e.attrs == nil {
		e.index()
	}
	return e.attrs[name]
}

// AddAttribute appends a to the entity. It reports false when an attribute
// with the same name exists.
func (e *Entity) AddAttribute(a *Attribute) bool {
	if e.Attribute(a.Name) != nil {
		return false
	}
	e.Attributes = append(e.Attributes, a)
	e.attrs[a.Name] = a
	return true
}

func (e *Entity) index() {
	e.attrs = make(map[string]*Attribute, len(e.Attributes))
	for _, a := range e.Attributes {
		e.attrs[a.Name] = a
	}
}

// IsUnion reports whether the entity is a union.
func (e *Entity) IsUnion() bool { return len(e.Union) > 0 }

// IsPolymorphic reports whether the entity has no backing collection of its
// own: a union or an interface.
func (e *Entity) IsPolymorphic() bool { return e.IsUnion() || e.Interface }

// Associations returns all associations in kind order.
func (e *Entity) Associations() []*Association {
	all := make([]*Association, 0, len(e.AssocTo)+len(e.AssocToMany)+len(e.AssocFrom))
	all = append(all, e.AssocTo...)
	all = append(all, e.AssocToMany...)
	return append(all, e.AssocFrom...)
}

// Association returns the association exposed under the API field name.
func (e *Entity) Association(field string) *Association {
	for _, a := range e.Associations() {
		if a.Field() == field {
			return a
		}
	}
	return nil
}

// AssociationByKey returns the assocTo/assocToMany stored under key.
func (e *Entity) AssociationByKey(key string) *Association {
	for _, a := range e.AssocTo {
		if a.ForeignKey() == key {
			return a
		}
	}
	for _, a := range e.AssocToMany {
		if a.ForeignKey() == key {
			return a
		}
	}
	return nil
}

// ListFields returns the stored fields holding lists: list attributes and
// assocToMany foreign keys.
func (e *Entity) ListFields() []string {
	var fields []string
	for _, a := range e.Attributes {
		if a.List && a.Persisted() {
			fields = append(fields, a.Name)
		}
	}
	for _, a := range e.AssocToMany {
		fields = append(fields, a.ForeignKey())
	}
	return fields
}

// FileAttributes returns the File attributes of the entity.
func (e *Entity) FileAttributes() []*Attribute {
	var files []*Attribute
	for _, a := range e.Attributes {
		if a.IsFile() {
			files = append(files, a)
		}
	}
	return files
}

// SeedNames returns the seed names in sorted order.
func (e *Entity) SeedNames() []string {
	names := make([]string, 0, len(e.Seeds))
	for n := range e.Seeds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Event topic names.
func (e *Entity) CreateTopic() string { return "create" + e.TypeName }
func (e *Entity) UpdateTopic() string { return "update" + e.TypeName }
func (e *Entity) DeleteTopic() string { return "delete" + e.TypeName }

// Subscription field names.
func (e *Entity) CreatedSubscription() string { return e.Singular + "Created" }
func (e *Entity) UpdatedSubscription() string { return e.Singular + "Updated" }
func (e *Entity) DeletedSubscription() string { return e.Singular + "Deleted" }

// Enabled reports whether the standard operation op is part of the API.
// Polymorphic entities have no write operations of their own.
func (e *Entity) Enabled(op veloql.Op) bool {
	if e.IsPolymorphic() && op.Is(veloql.OpWrite) {
		return false
	}
	return !e.Operations.For(op).Disabled
}
