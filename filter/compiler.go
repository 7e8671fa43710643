package filter

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
	ql "github.com/syssam/veloql/querylanguage"
	"github.com/syssam/veloql/scalar"
)

// AssocCount is an assocFrom filter: the number of inbound references of
// a matching item must lie within [Min, Max]. Nil bounds are open.
// Counting needs the store and is left to the caller, which turns the
// bounds into an id predicate.
type AssocCount struct {
	Assoc *model.Association
	Min   *int
	Max   *int
}

// Accepts reports whether n lies within the bounds.
func (c AssocCount) Accepts(n int) bool {
	return (c.Min == nil || n >= *c.Min) && (c.Max == nil || n <= *c.Max)
}

// Registry resolves filter types by name.
type Registry struct {
	types map[string]Type
	enums map[string]Type
}

// NewRegistry returns a registry of types.
func NewRegistry(types ...Type) *Registry {
	r := &Registry{types: make(map[string]Type, len(types)), enums: map[string]Type{}}
	for _, t := range types {
		r.types[t.Name()] = t
	}
	return r
}

// Register adds or replaces t.
func (r *Registry) Register(t Type) {
	r.types[t.Name()] = t
}

// RegisterEnum adds the filter type of an enum.
func (r *Registry) RegisterEnum(en *model.Enum, t Type) {
	r.enums[en.Name] = t
	r.types[t.Name()] = t
}

// Lookup returns the type with the given name.
func (r *Registry) Lookup(name string) (Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Types returns the registered types sorted by name.
func (r *Registry) Types() []Type {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Type, len(names))
	for i, n := range names {
		out[i] = r.types[n]
	}
	return out
}

// Compiler compiles entity filter expressions.
type Compiler struct {
	reg *Registry
	log *zap.Logger
}

// NewCompiler returns a compiler over reg. A nil logger discards.
func NewCompiler(reg *Registry, log *zap.Logger) *Compiler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{reg: reg, log: log}
}

// Registry returns the type registry of the compiler.
func (c *Compiler) Registry() *Registry { return c.reg }

// Compile translates the filter expression of entity e. Fields combine
// conjunctively. The assocFrom filters are returned as counts for the
// caller to resolve against the store.
func (c *Compiler) Compile(e *model.Entity, expr map[string]any) (ql.P, []AssocCount, error) {
	if len(expr) == 0 {
		return nil, nil, nil
	}
	fields := make([]string, 0, len(expr))
	for f := range expr {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var (
		ps     []ql.P
		counts []AssocCount
	)
	for _, field := range fields {
		node := expr[field]
		if node == nil {
			continue
		}
		if a := assocFrom(e, field); a != nil {
			count, err := assocCount(a, node)
			if err != nil {
				return nil, nil, veloql.NewInputError(e.Name, field, "%v", err)
			}
			counts = append(counts, count)
			continue
		}
		t, ok := c.fieldType(e, field)
		if !ok {
			c.log.Warn("unknown filter field ignored", zap.String("entity", e.Name), zap.String("field", field))
			continue
		}
		p, err := t.Compile(field, node, c.log.With(zap.String("entity", e.Name)))
		if err != nil {
			return nil, nil, veloql.NewInputError(e.Name, field, "%v", err)
		}
		if p != nil {
			ps = append(ps, p)
		}
	}
	return ql.Conjoin(ps...), counts, nil
}

// fieldType returns the filter type of a filterable field of e: the id,
// an attribute, an association key or a polymorphic discriminator.
func (c *Compiler) fieldType(e *model.Entity, field string) (Type, bool) {
	if field == veloql.FieldID {
		return c.reg.Lookup(IDFilter)
	}
	if a := e.Attribute(field); a != nil {
		if !a.Filterable() {
			return nil, false
		}
		if t, ok := c.reg.Lookup(a.FilterType); ok {
			return t, true
		}
		if t, ok := c.reg.enums[a.Type]; ok {
			return t, true
		}
		return nil, false
	}
	if a := e.AssociationByKey(field); a != nil {
		return c.reg.Lookup(IDFilter)
	}
	for _, a := range e.AssocTo {
		if tf := a.TypeField(); tf != "" && tf == field {
			return c.reg.Lookup(StringFilter)
		}
	}
	return nil, false
}

func assocFrom(e *model.Entity, field string) *model.Association {
	for _, a := range e.AssocFrom {
		if a.Field() == field {
			return a
		}
	}
	return nil
}

func assocCount(a *model.Association, node any) (AssocCount, error) {
	m, ok := node.(map[string]any)
	if !ok {
		return AssocCount{}, fmt.Errorf("%s takes {min, max}, got %T", AssocFromFilter, node)
	}
	count := AssocCount{Assoc: a}
	for k, v := range m {
		if v == nil || (k != "min" && k != "max") {
			continue
		}
		n, err := scalar.ToInt(v)
		if err != nil {
			return AssocCount{}, fmt.Errorf("%s: %w", k, err)
		}
		if k == "min" {
			count.Min = &n
		} else {
			count.Max = &n
		}
	}
	return count, nil
}
