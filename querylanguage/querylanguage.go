// Package querylanguage provides the backend-neutral predicate tree that
// filter expressions compile into. Datastores either evaluate a predicate
// directly against items (Match) or render it into their native query
// language by walking the expression types.
package querylanguage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// An Op represents a predicate operator.
type Op int

// Builtin operators.
const (
	OpAnd Op = iota // logical and.
	OpOr            // logical or.
	OpNot           // logical not.
	OpEQ            // ==
	OpNEQ           // !=
	OpGT            // >
	OpGTE           // >=
	OpLT            // <
	OpLTE           // <=
	OpIn            // IN
	OpNotIn         // NOT IN
)

var ops = [...]string{
	OpAnd:   "&&",
	OpOr:    "||",
	OpNot:   "!",
	OpEQ:    "==",
	OpNEQ:   "!=",
	OpGT:    ">",
	OpGTE:   ">=",
	OpLT:    "<",
	OpLTE:   "<=",
	OpIn:    "in",
	OpNotIn: "not in",
}

// String returns the text representation of an operator.
func (o Op) String() string {
	if o >= 0 && int(o) < len(ops) {
		return ops[o]
	}
	return fmt.Sprintf("Op(%d)", o)
}

// A Func represents a function expression.
type Func string

// Builtin functions.
const (
	FuncEqualFold     Func = "equal_fold"      // equals case-insensitive
	FuncContains      Func = "contains"        // containing
	FuncContainsFold  Func = "contains_fold"   // containing case-insensitive
	FuncHasPrefix     Func = "has_prefix"      // startingWith
	FuncHasPrefixFold Func = "has_prefix_fold" // startingWith case-insensitive
	FuncHasSuffix     Func = "has_suffix"      // endingWith
	FuncHasSuffixFold Func = "has_suffix_fold" // endingWith case-insensitive
	FuncRegex         Func = "regex"           // matching a regular expression
	FuncRegexFold     Func = "regex_fold"      // matching a regular expression case-insensitive
)

type (
	// Expr represents a query expression.
	Expr interface {
		fmt.Stringer
		expr()
	}

	// P represents an expression that returns a boolean value depending on its variables.
	P interface {
		Expr
		Negate() P
	}
)

type (
	// A UnaryExpr represents a unary expression.
	UnaryExpr struct {
		Op Op
		X  Expr
	}

	// A BinaryExpr represents a binary expression.
	BinaryExpr struct {
		Op   Op
		X, Y Expr
	}

	// A NaryExpr represents a n-ary expression.
	NaryExpr struct {
		Op Op
		Xs []Expr
	}

	// A CallExpr represents a function call with its arguments.
	CallExpr struct {
		Func Func
		Args []Expr
	}

	// A Field represents a field of an item. Dotted names address nested
	// values.
	Field struct {
		Name string
	}

	// A Value represents an arbitrary value. A nil *Value renders as nil and
	// matches missing or null fields.
	Value struct {
		V any
	}
)

// F returns a field expression for the given name.
func F(name string) *Field { return &Field{Name: name} }

// V returns a value expression for the given value.
func V(v any) *Value { return &Value{V: v} }

// Not returns a new predicate negating the given predicate.
func Not(x P) P {
	return &UnaryExpr{Op: OpNot, X: x}
}

// And returns a composed predicate that represents the logical AND predicate.
func And(x, y P, z ...P) P {
	if len(z) == 0 {
		return &BinaryExpr{Op: OpAnd, X: x, Y: y}
	}
	return &NaryExpr{Op: OpAnd, Xs: append([]Expr{x, y}, p2expr(z)...)}
}

// Or returns a composed predicate that represents the logical OR predicate.
func Or(x, y P, z ...P) P {
	if len(z) == 0 {
		return &BinaryExpr{Op: OpOr, X: x, Y: y}
	}
	return &NaryExpr{Op: OpOr, Xs: append([]Expr{x, y}, p2expr(z)...)}
}

// Conjoin ANDs the non-nil predicates. It returns nil when none is given
// and the predicate itself when only one is.
func Conjoin(ps ...P) P {
	var keep []P
	for _, p := range ps {
		if p != nil {
			keep = append(keep, p)
		}
	}
	switch len(keep) {
	case 0:
		return nil
	case 1:
		return keep[0]
	default:
		return And(keep[0], keep[1], keep[2:]...)
	}
}

// Disjoin ORs the non-nil predicates with the same arity rules as Conjoin.
func Disjoin(ps ...P) P {
	var keep []P
	for _, p := range ps {
		if p != nil {
			keep = append(keep, p)
		}
	}
	switch len(keep) {
	case 0:
		return nil
	case 1:
		return keep[0]
	default:
		return Or(keep[0], keep[1], keep[2:]...)
	}
}

// EQ returns a predicate to check if the expressions are equal.
func EQ(x, y Expr) P {
	return &BinaryExpr{Op: OpEQ, X: x, Y: y}
}

// NEQ returns a predicate to check if the expressions are not equal.
func NEQ(x, y Expr) P {
	return &BinaryExpr{Op: OpNEQ, X: x, Y: y}
}

// GT returns a predicate to check if the expression x > than expression y.
func GT(x, y Expr) P {
	return &BinaryExpr{Op: OpGT, X: x, Y: y}
}

// GTE returns a predicate to check if the expression x >= than expression y.
func GTE(x, y Expr) P {
	return &BinaryExpr{Op: OpGTE, X: x, Y: y}
}

// LT returns a predicate to check if the expression x < than expression y.
func LT(x, y Expr) P {
	return &BinaryExpr{Op: OpLT, X: x, Y: y}
}

// LTE returns a predicate to check if the expression x <= than expression y.
func LTE(x, y Expr) P {
	return &BinaryExpr{Op: OpLTE, X: x, Y: y}
}

// FieldEQ returns a predicate to check if a field is equivalent to a given value.
func FieldEQ(name string, v any) P {
	return &BinaryExpr{Op: OpEQ, X: F(name), Y: V(v)}
}

// FieldNEQ returns a predicate to check if a field is not equivalent to a given value.
func FieldNEQ(name string, v any) P {
	return &BinaryExpr{Op: OpNEQ, X: F(name), Y: V(v)}
}

// FieldGT returns a predicate to check if a field is > than the given value.
func FieldGT(name string, v any) P {
	return &BinaryExpr{Op: OpGT, X: F(name), Y: V(v)}
}

// FieldGTE returns a predicate to check if a field is >= than the given value.
func FieldGTE(name string, v any) P {
	return &BinaryExpr{Op: OpGTE, X: F(name), Y: V(v)}
}

// FieldLT returns a predicate to check if a field is < than the given value.
func FieldLT(name string, v any) P {
	return &BinaryExpr{Op: OpLT, X: F(name), Y: V(v)}
}

// FieldLTE returns a predicate to check if a field is <= than the given value.
func FieldLTE(name string, v any) P {
	return &BinaryExpr{Op: OpLTE, X: F(name), Y: V(v)}
}

// FieldIn returns a predicate to check if the field value matches any value in the given list.
func FieldIn(name string, vs ...any) P {
	return &BinaryExpr{Op: OpIn, X: F(name), Y: V(vs)}
}

// FieldNotIn returns a predicate to check if the field value doesn't match any value in the given list.
func FieldNotIn(name string, vs ...any) P {
	return &BinaryExpr{Op: OpNotIn, X: F(name), Y: V(vs)}
}

// FieldNil returns a predicate to check if a field is nil (null in databases).
func FieldNil(name string) P {
	return &BinaryExpr{Op: OpEQ, X: F(name), Y: (*Value)(nil)}
}

// FieldNotNil returns a predicate to check if a field is not nil (not null in databases).
func FieldNotNil(name string) P {
	return &BinaryExpr{Op: OpNEQ, X: F(name), Y: (*Value)(nil)}
}

// FieldEqualFold returns a predicate to check if the field is equal to the given string under case-folding.
func FieldEqualFold(name string, v string) P {
	return call(FuncEqualFold, name, v)
}

// FieldContains returns a predicate to check if the field value contains a substr.
func FieldContains(name, substr string) P {
	return call(FuncContains, name, substr)
}

// FieldContainsFold returns a predicate to check if the field value contains a substr under case-folding.
func FieldContainsFold(name, substr string) P {
	return call(FuncContainsFold, name, substr)
}

// FieldHasPrefix returns a predicate to check if the field starts with the given prefix.
func FieldHasPrefix(name string, prefix string) P {
	return call(FuncHasPrefix, name, prefix)
}

// FieldHasPrefixFold returns a predicate to check if the field starts with the given prefix under case-folding.
func FieldHasPrefixFold(name string, prefix string) P {
	return call(FuncHasPrefixFold, name, prefix)
}

// FieldHasSuffix returns a predicate to check if the field ends with the given suffix.
func FieldHasSuffix(name string, suffix string) P {
	return call(FuncHasSuffix, name, suffix)
}

// FieldHasSuffixFold returns a predicate to check if the field ends with the given suffix under case-folding.
func FieldHasSuffixFold(name string, suffix string) P {
	return call(FuncHasSuffixFold, name, suffix)
}

// FieldRegex returns a predicate to check if the field matches the regular expression.
func FieldRegex(name string, expr string) P {
	return call(FuncRegex, name, expr)
}

// FieldRegexFold returns a predicate to check if the field matches the regular expression ignoring case.
func FieldRegexFold(name string, expr string) P {
	return call(FuncRegexFold, name, expr)
}

func call(fn Func, name string, v string) P {
	return &CallExpr{Func: fn, Args: []Expr{F(name), V(v)}}
}

// Negate negates the predicate.
func (e *BinaryExpr) Negate() P {
	return Not(e)
}

// Negate negates the predicate.
func (e *UnaryExpr) Negate() P {
	return Not(e)
}

// Negate negates the predicate.
func (e *NaryExpr) Negate() P {
	return Not(e)
}

// Negate negates the predicate.
func (e *CallExpr) Negate() P {
	return Not(e)
}

// String returns the text representation of a binary expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.X, e.Op, e.Y)
}

// String returns the text representation of a unary expression.
func (e *UnaryExpr) String() string {
	return fmt.Sprintf("%s(%s)", e.Op, e.X)
}

// String returns the text representation of an n-ary expression.
func (e *NaryExpr) String() string {
	var s strings.Builder
	s.WriteByte('(')
	for i, x := range e.Xs {
		if i > 0 {
			s.WriteByte(' ')
			s.WriteString(e.Op.String())
			s.WriteByte(' ')
		}
		s.WriteString(x.String())
	}
	s.WriteByte(')')
	return s.String()
}

// String returns the text representation of a call expression.
func (e *CallExpr) String() string {
	var s strings.Builder
	s.WriteString(string(e.Func))
	s.WriteByte('(')
	for i, x := range e.Args {
		if i > 0 {
			s.WriteString(", ")
		}
		s.WriteString(x.String())
	}
	s.WriteByte(')')
	return s.String()
}

// String returns the text representation of a field.
func (f *Field) String() string {
	return f.Name
}

// String returns the text representation of a value.
func (v *Value) String() string {
	if v == nil {
		return "nil"
	}
	buf, err := json.Marshal(v.V)
	if err != nil {
		return fmt.Sprint(v.V)
	}
	return string(buf)
}

func p2expr(ps []P) []Expr {
	expr := make([]Expr, len(ps))
	for i := range ps {
		expr[i] = ps[i]
	}
	return expr
}

func (*Field) expr()      {}
func (*Value) expr()      {}
func (*CallExpr) expr()   {}
func (*UnaryExpr) expr()  {}
func (*BinaryExpr) expr() {}
func (*NaryExpr) expr()   {}
