// Package filter compiles the structured filter expressions of the API into
// querylanguage predicates. Each scalar kind has a filter Type declaring its
// operator vocabulary; the Compiler walks an entity filter and dispatches
// every field to the Type of its attribute or association.
package filter

import (
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/syssam/veloql/model"
	ql "github.com/syssam/veloql/querylanguage"
	"github.com/syssam/veloql/scalar"
)

// Built-in filter type names.
const (
	StringFilter    = "StringFilter"
	IntFilter       = "IntFilter"
	FloatFilter     = "FloatFilter"
	BooleanFilter   = "BooleanFilter"
	DateFilter      = "DateFilter"
	DateTimeFilter  = "DateTimeFilter"
	IDFilter        = "IDFilter"
	AssocFromFilter = "AssocFromFilter"
)

// Operator is one operator of a filter type. Type is the API type of its
// operand in SDL notation.
type Operator struct {
	Name string
	Type string
}

// Type compiles the filter node of a single field.
type Type interface {
	// Name returns the API input type name, e.g. StringFilter.
	Name() string
	// Operators returns the operator vocabulary in declaration order.
	Operators() []Operator
	// Compile translates the filter node of field. Unknown operators are
	// logged and ignored, null operands are skipped and operands that
	// cannot be coerced fail.
	Compile(field string, node any, log *zap.Logger) (ql.P, error)
}

// OperandError reports an operand that does not fit its operator.
type OperandError struct {
	Field    string
	Operator string
	Err      error
}

// Error implements the error interface.
func (e *OperandError) Error() string {
	return fmt.Sprintf("filter: %s.%s: %v", e.Field, e.Operator, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperandError) Unwrap() error {
	return e.Err
}

// compileFunc translates one operator. node is the whole filter node so
// that modifiers like caseSensitive can be consulted.
type compileFunc func(field string, v any, node map[string]any) (ql.P, error)

// kindType is a filter type over a scalar kind.
type kindType struct {
	name string
	ops  []Operator
	fns  map[string]compileFunc
	// modifiers are operators that only shape other operators.
	modifiers map[string]bool
	// shortcut compiles a bare value instead of an operator map.
	shortcut compileFunc
}

func (t *kindType) Name() string          { return t.name }
func (t *kindType) Operators() []Operator { return t.ops }

func (t *kindType) Compile(field string, node any, log *zap.Logger) (ql.P, error) {
	m, ok := node.(map[string]any)
	if !ok {
		if t.shortcut == nil || node == nil {
			log.Warn("filter node ignored", zap.String("filter", t.name), zap.String("field", field), zap.Any("node", node))
			return nil, nil
		}
		return t.shortcut(field, node, nil)
	}
	ops := make([]string, 0, len(m))
	for op := range m {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	var ps []ql.P
	for _, op := range ops {
		if t.modifiers[op] || m[op] == nil {
			continue
		}
		fn, ok := t.fns[op]
		if !ok {
			log.Warn("unknown filter operator ignored", zap.String("filter", t.name), zap.String("field", field), zap.String("operator", op))
			continue
		}
		p, err := fn(field, m[op], m)
		if err != nil {
			return nil, &OperandError{Field: field, Operator: op, Err: err}
		}
		if p != nil {
			ps = append(ps, p)
		}
	}
	return ql.Conjoin(ps...), nil
}

// TypeOption configures the default filter types.
type TypeOption func(*typeOptions)

type typeOptions struct {
	regex bool
}

// WithoutRegex leaves the regex operator out of StringFilter, for backends
// without regular expression support.
func WithoutRegex() TypeOption {
	return func(o *typeOptions) { o.regex = false }
}

// DefaultTypes returns the built-in filter types.
func DefaultTypes(opts ...TypeOption) []Type {
	o := typeOptions{regex: true}
	for _, opt := range opts {
		opt(&o)
	}
	return []Type{
		NewStringType(o.regex),
		newOrderedType(IntFilter, scalar.Int, "lower", "lowerOrEqual", "greater", "greaterOrEqual"),
		newOrderedType(FloatFilter, scalar.Float, "lower", "lowerOrEqual", "greater", "greaterOrEqual"),
		newOrderedType(DateFilter, scalar.Date, "before", "beforeOrEqual", "after", "afterOrEqual"),
		newOrderedType(DateTimeFilter, scalar.DateTime, "before", "beforeOrEqual", "after", "afterOrEqual"),
		NewBooleanType(),
		NewIDType(),
	}
}

// NewStringType returns the StringFilter type. caseSensitive (default
// true) applies to every operator but isIn and notIn.
func NewStringType(regex bool) Type {
	t := &kindType{
		name:      StringFilter,
		modifiers: map[string]bool{"caseSensitive": true},
	}
	str := func(v any) (string, error) {
		s, err := scalar.Coerce(scalar.String, v)
		if err != nil {
			return "", err
		}
		return s.(string), nil
	}
	sensitive := func(node map[string]any) bool {
		b, ok := node["caseSensitive"].(bool)
		return !ok || b
	}
	fold := func(exact, folded func(string, string) ql.P) compileFunc {
		return func(field string, v any, node map[string]any) (ql.P, error) {
			s, err := str(v)
			if err != nil {
				return nil, err
			}
			if sensitive(node) {
				return exact(field, s), nil
			}
			return folded(field, s), nil
		}
	}
	eq := func(field, s string) ql.P { return ql.FieldEQ(field, s) }
	neq := func(field, s string) ql.P { return ql.FieldNEQ(field, s) }
	not := func(fn func(string, string) ql.P) func(string, string) ql.P {
		return func(field, s string) ql.P { return ql.Not(fn(field, s)) }
	}
	t.fns = map[string]compileFunc{
		"is":             fold(eq, ql.FieldEqualFold),
		"isNot":          fold(neq, not(ql.FieldEqualFold)),
		"isIn":           inFunc(scalar.String, false),
		"notIn":          inFunc(scalar.String, true),
		"contains":       fold(ql.FieldContains, ql.FieldContainsFold),
		"doesNotContain": fold(not(ql.FieldContains), not(ql.FieldContainsFold)),
		"beginsWith":     fold(ql.FieldHasPrefix, ql.FieldHasPrefixFold),
		"endsWith":       fold(ql.FieldHasSuffix, ql.FieldHasSuffixFold),
		"isNull":         isNullFunc,
	}
	t.ops = []Operator{
		{"is", "String"}, {"isNot", "String"}, {"isIn", "[String]"}, {"notIn", "[String]"},
		{"contains", "String"}, {"doesNotContain", "String"}, {"beginsWith", "String"}, {"endsWith", "String"},
	}
	if regex {
		t.fns["regex"] = func(field string, v any, node map[string]any) (ql.P, error) {
			s, err := str(v)
			if err != nil {
				return nil, err
			}
			if _, err := regexp.Compile(s); err != nil {
				return nil, err
			}
			if sensitive(node) {
				return ql.FieldRegex(field, s), nil
			}
			return ql.FieldRegexFold(field, s), nil
		}
		t.ops = append(t.ops, Operator{"regex", "String"})
	}
	t.ops = append(t.ops, Operator{"isNull", "Boolean"}, Operator{"caseSensitive", "Boolean"})
	return t
}

// newOrderedType returns a filter type over an ordered kind. The ordering
// operators are named lt, lte, gt, gte in that order.
func newOrderedType(name, kind string, lt, lte, gt, gte string) Type {
	cmp := func(fn func(string, any) ql.P) compileFunc {
		return func(field string, v any, _ map[string]any) (ql.P, error) {
			c, err := scalar.Coerce(kind, v)
			if err != nil {
				return nil, err
			}
			return fn(field, c), nil
		}
	}
	return &kindType{
		name: name,
		ops: []Operator{
			{"is", kind}, {"isNot", kind}, {"isIn", "[" + kind + "]"}, {"notIn", "[" + kind + "]"},
			{lt, kind}, {lte, kind}, {gt, kind}, {gte, kind},
			{"between", "[" + kind + "]"}, {"isNull", "Boolean"},
		},
		fns: map[string]compileFunc{
			"is":    cmp(ql.FieldEQ),
			"isNot": cmp(ql.FieldNEQ),
			"isIn":  inFunc(kind, false),
			"notIn": inFunc(kind, true),
			lt:      cmp(ql.FieldLT),
			lte:     cmp(ql.FieldLTE),
			gt:      cmp(ql.FieldGT),
			gte:     cmp(ql.FieldGTE),
			"between": func(field string, v any, _ map[string]any) (ql.P, error) {
				bounds, err := scalar.CoerceList(kind, v)
				if err != nil {
					return nil, err
				}
				if len(bounds) != 2 || bounds[0] == nil || bounds[1] == nil {
					return nil, fmt.Errorf("between takes two bounds, got %d", len(bounds))
				}
				return ql.And(ql.FieldGTE(field, bounds[0]), ql.FieldLT(field, bounds[1])), nil
			},
			"isNull": isNullFunc,
		},
	}
}

// NewBooleanType returns the BooleanFilter type. A bare boolean is a
// shortcut for is.
func NewBooleanType() Type {
	is := func(field string, v any, _ map[string]any) (ql.P, error) {
		b, err := scalar.Coerce(scalar.Boolean, v)
		if err != nil {
			return nil, err
		}
		return ql.FieldEQ(field, b), nil
	}
	return &kindType{
		name: BooleanFilter,
		ops:  []Operator{{"is", "Boolean"}, {"isNot", "Boolean"}, {"isNull", "Boolean"}},
		fns: map[string]compileFunc{
			"is": is,
			"isNot": func(field string, v any, _ map[string]any) (ql.P, error) {
				b, err := scalar.Coerce(scalar.Boolean, v)
				if err != nil {
					return nil, err
				}
				return ql.FieldNEQ(field, b), nil
			},
			"isNull": isNullFunc,
		},
		shortcut: is,
	}
}

// NewIDType returns the IDFilter type. A bare id is a shortcut for is, a
// bare list for isIn.
func NewIDType() Type {
	t := &kindType{
		name: IDFilter,
		ops:  []Operator{{"is", "ID"}, {"isNot", "ID"}, {"isIn", "[ID]"}, {"notIn", "[ID]"}, {"isNull", "Boolean"}},
		fns: map[string]compileFunc{
			"is":     eqFunc(scalar.ID, false),
			"isNot":  eqFunc(scalar.ID, true),
			"isIn":   inFunc(scalar.ID, false),
			"notIn":  inFunc(scalar.ID, true),
			"isNull": isNullFunc,
		},
	}
	t.shortcut = func(field string, v any, node map[string]any) (ql.P, error) {
		if _, ok := v.([]any); ok {
			return t.fns["isIn"](field, v, node)
		}
		if _, ok := v.([]string); ok {
			return t.fns["isIn"](field, v, node)
		}
		return t.fns["is"](field, v, node)
	}
	return t
}

// NewEnumType returns the filter type of en. Operands must be values of the
// enum.
func NewEnumType(en *model.Enum) Type {
	check := func(vs ...any) error {
		for _, v := range vs {
			s, ok := v.(string)
			if !ok || !en.Has(s) {
				return fmt.Errorf("%v is not a value of %s", v, en.Name)
			}
		}
		return nil
	}
	one := func(fn func(string, any) ql.P) compileFunc {
		return func(field string, v any, _ map[string]any) (ql.P, error) {
			if err := check(v); err != nil {
				return nil, err
			}
			return fn(field, v), nil
		}
	}
	many := func(fn func(string, ...any) ql.P) compileFunc {
		return func(field string, v any, _ map[string]any) (ql.P, error) {
			vs := scalar.AsList(v)
			if err := check(vs...); err != nil {
				return nil, err
			}
			return fn(field, vs...), nil
		}
	}
	return &kindType{
		name: en.FilterName(),
		ops: []Operator{
			{"is", en.Name}, {"isNot", en.Name}, {"isIn", "[" + en.Name + "]"}, {"notIn", "[" + en.Name + "]"}, {"isNull", "Boolean"},
		},
		fns: map[string]compileFunc{
			"is":     one(ql.FieldEQ),
			"isNot":  one(ql.FieldNEQ),
			"isIn":   many(ql.FieldIn),
			"notIn":  many(ql.FieldNotIn),
			"isNull": isNullFunc,
		},
	}
}

// AssocFromOperators is the vocabulary of the AssocFromFilter input.
var AssocFromOperators = []Operator{{"min", "Int"}, {"max", "Int"}}

func eqFunc(kind string, negate bool) compileFunc {
	return func(field string, v any, _ map[string]any) (ql.P, error) {
		c, err := scalar.Coerce(kind, v)
		if err != nil {
			return nil, err
		}
		if negate {
			return ql.FieldNEQ(field, c), nil
		}
		return ql.FieldEQ(field, c), nil
	}
}

func inFunc(kind string, negate bool) compileFunc {
	return func(field string, v any, _ map[string]any) (ql.P, error) {
		vs, err := scalar.CoerceList(kind, v)
		if err != nil {
			return nil, err
		}
		if negate {
			return ql.FieldNotIn(field, vs...), nil
		}
		return ql.FieldIn(field, vs...), nil
	}
}

func isNullFunc(field string, v any, _ map[string]any) (ql.P, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("isNull takes a boolean, got %T", v)
	}
	if b {
		return ql.FieldNil(field), nil
	}
	return ql.FieldNotNil(field), nil
}
