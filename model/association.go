package model

import "fmt"

// AssocKind is the kind of an association.
type AssocKind uint8

// Association kinds.
const (
	// AssocTo is a single reference stored as a foreign key on the owner.
	AssocTo AssocKind = iota + 1
	// AssocToMany is a multi reference stored as a list of foreign keys.
	AssocToMany
	// AssocFrom is the inverse of an AssocTo/AssocToMany on the target. It
	// is computed on read and never stored.
	AssocFrom
)

var assocKindNames = map[AssocKind]string{
	AssocTo:     "assocTo",
	AssocToMany: "assocToMany",
	AssocFrom:   "assocFrom",
}

// String implements fmt.Stringer.
func (k AssocKind) String() string {
	if s, ok := assocKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("AssocKind(%d)", k)
}

// DeletePolicy decides what happens to referencing records when the target
// of an assocFrom is deleted.
type DeletePolicy string

// Delete policies.
const (
	DeleteNone    DeletePolicy = ""
	DeletePrevent DeletePolicy = "prevent"
	DeleteNullify DeletePolicy = "nullify"
	DeleteCascade DeletePolicy = "cascade"
)

// Valid reports whether p is a known policy.
func (p DeletePolicy) Valid() bool {
	switch p {
	case DeleteNone, DeletePrevent, DeleteNullify, DeleteCascade:
		return true
	}
	return false
}

// Association is a resolved association of an entity.
type Association struct {
	Kind AssocKind
	// Type is the name of the target entity as configured.
	Type string
	// Target is the resolved target entity.
	Target *Entity
	// Required marks an assocTo as mandatory.
	Required bool
	// Input allows the target to be created inline along with the owner.
	Input bool
	// Delete is the policy applied to the records referencing an owner of
	// an assocFrom when the owner is deleted.
	Delete DeletePolicy
	// Description is copied into the generated API.
	Description string
}

// Field returns the API field name of the association: the target's
// singular name for assocTo, its plural name otherwise.
func (a *Association) Field() string {
	if a.Kind == AssocTo {
		return a.Target.Singular
	}
	return a.Target.Plural
}

// ForeignKey returns the stored key of an assocTo or assocToMany.
func (a *Association) ForeignKey() string {
	switch a.Kind {
	case AssocTo:
		return a.Target.ForeignKey
	case AssocToMany:
		return a.Target.ForeignKeys
	}
	return ""
}

// Polymorphic reports whether the target is a union or an interface.
func (a *Association) Polymorphic() bool {
	return a.Target != nil && a.Target.IsPolymorphic()
}

// TypeField returns the stored discriminator of a polymorphic assocTo.
// It is empty for every other association.
func (a *Association) TypeField() string {
	if a.Kind != AssocTo || !a.Polymorphic() {
		return ""
	}
	return a.Target.Singular + "Type"
}

// Clone returns a copy of the association.
func (a *Association) Clone() *Association {
	c := *a
	return &c
}
