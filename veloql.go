// Package veloql compiles a declarative data model into an executable
// GraphQL API with persistence, filtering, polymorphic associations, file
// handling and seeding.
//
// The root package holds the types shared by every layer: the schemaless
// Item flowing through the pipeline, the Op bitmask describing operations,
// validation violations and the error taxonomy.
package veloql

import (
	"fmt"
	"strings"
)

// Well-known item keys maintained by the engine.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldTypename  = "__typename"
)

// Item is a schemaless record flowing through accessor, resolver and
// datastore. Once persisted it always carries an id.
type Item map[string]any

// ID returns the item id or an empty string.
func (i Item) ID() string {
	switch v := i[FieldID].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Has reports whether key is present with a non-nil value.
func (i Item) Has(key string) bool {
	v, ok := i[key]
	return ok && v != nil
}

// Clone returns a shallow copy of the item. List values are copied so that
// appending to them does not alter the original.
func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	c := make(Item, len(i))
	for k, v := range i {
		if l, ok := v.([]any); ok {
			v = append([]any(nil), l...)
		}
		c[k] = v
	}
	return c
}

// Typename returns the concrete type tag set by polymorphic fan-out.
func (i Item) Typename() string {
	s, _ := i[FieldTypename].(string)
	return s
}

// Op represents the operation of a request.
type Op uint

// Operation types, combinable as a bitmask.
const (
	OpTypeQuery Op = 1 << iota
	OpTypesQuery
	OpStatsQuery
	OpCreate
	OpUpdate
	OpDelete
)

// Group operations.
const (
	OpRead  = OpTypeQuery | OpTypesQuery | OpStatsQuery
	OpSave  = OpCreate | OpUpdate
	OpWrite = OpSave | OpDelete
)

// Is reports whether o matches any of the given operations.
func (i Op) Is(o Op) bool { return i&o != 0 }

var opNames = [...]string{
	"OpTypeQuery",
	"OpTypesQuery",
	"OpStatsQuery",
	"OpCreate",
	"OpUpdate",
	"OpDelete",
}

// String returns the op as a string, joining combined ops with "|".
func (i Op) String() string {
	var names []string
	for n, name := range opNames {
		if i&(1<<n) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Op(%d)", uint(i))
	}
	return strings.Join(names, "|")
}

// Violation is a single validation failure. An empty Attribute means the
// violation concerns the record as a whole.
type Violation struct {
	Attribute string `json:"attribute,omitempty"`
	Message   string `json:"message"`
}

// String implements fmt.Stringer.
func (v Violation) String() string {
	if v.Attribute == "" {
		return v.Message
	}
	return v.Attribute + ": " + v.Message
}
