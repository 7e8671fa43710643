package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	ql "github.com/syssam/veloql/querylanguage"
)

// errUnsupported is returned for predicates the dialect cannot render.
var errUnsupported = errors.New("unsupported predicate")

var comparisons = map[ql.Op]string{
	ql.OpEQ:  "=",
	ql.OpGT:  ">",
	ql.OpGTE: ">=",
	ql.OpLT:  "<",
	ql.OpLTE: "<=",
}

// builder renders a predicate into a WHERE condition with bound args.
// List fields get any-element semantics: a positive condition holds when
// one element satisfies it, its negation when none does.
type builder struct {
	d     dialect
	lists map[string]bool
	sb    strings.Builder
	args  []any
}

func newBuilder(d dialect, lists []string) *builder {
	b := &builder{d: d, lists: make(map[string]bool, len(lists))}
	for _, f := range lists {
		b.lists[f] = true
	}
	return b
}

// arg binds a raw argument and returns its placeholder.
func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.d.placeholder(len(b.args))
}

// value binds a comparable value and returns its expression.
func (b *builder) value(v any) (string, error) {
	a, expr, err := b.d.bind(v, b.d.placeholder(len(b.args)+1))
	if err != nil {
		return "", err
	}
	b.args = append(b.args, a)
	return expr, nil
}

func (b *builder) write(s ...string) {
	for _, x := range s {
		b.sb.WriteString(x)
	}
}

func (b *builder) predicate(x ql.Expr) error {
	switch e := x.(type) {
	case *ql.UnaryExpr:
		if e.Op != ql.OpNot {
			break
		}
		return b.negate(func() error { return b.predicate(e.X) })
	case *ql.BinaryExpr:
		switch e.Op {
		case ql.OpAnd, ql.OpOr:
			return b.join(e.Op, []ql.Expr{e.X, e.Y})
		}
		return b.binary(e)
	case *ql.NaryExpr:
		switch e.Op {
		case ql.OpAnd, ql.OpOr:
			return b.join(e.Op, e.Xs)
		}
	case *ql.CallExpr:
		return b.call(e)
	}
	return fmt.Errorf("%w: %s", errUnsupported, x)
}

func (b *builder) join(op ql.Op, xs []ql.Expr) error {
	sep := " AND "
	if op == ql.OpOr {
		sep = " OR "
	}
	b.write("(")
	for i, x := range xs {
		if i > 0 {
			b.write(sep)
		}
		if err := b.predicate(x); err != nil {
			return err
		}
	}
	b.write(")")
	return nil
}

// negate renders NOT over a condition that may evaluate to NULL for
// missing values, which then counts as false before negation.
func (b *builder) negate(fn func() error) error {
	b.write("NOT COALESCE((")
	if err := fn(); err != nil {
		return err
	}
	b.write("), FALSE)")
	return nil
}

func (b *builder) field(x ql.Expr) (string, error) {
	f, ok := x.(*ql.Field)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a field", errUnsupported, x)
	}
	if !validPath(f.Name) {
		return "", fmt.Errorf("%w: invalid field name %q", errUnsupported, f.Name)
	}
	return f.Name, nil
}

func (b *builder) binary(e *ql.BinaryExpr) error {
	path, err := b.field(e.X)
	if err != nil {
		return err
	}
	v, _ := e.Y.(*ql.Value)
	if v == nil {
		switch e.Op {
		case ql.OpEQ:
			b.write(b.d.isNull(path, b.lists[path]))
			return nil
		case ql.OpNEQ:
			b.write("NOT ", b.d.isNull(path, b.lists[path]))
			return nil
		}
		return fmt.Errorf("%w: %s", errUnsupported, e)
	}
	switch e.Op {
	case ql.OpNEQ:
		return b.negate(func() error { return b.compare(path, ql.OpEQ, v.V) })
	case ql.OpIn:
		return b.in(path, v.V)
	case ql.OpNotIn:
		return b.negate(func() error { return b.in(path, v.V) })
	}
	if _, ok := comparisons[e.Op]; !ok {
		return fmt.Errorf("%w: %s", errUnsupported, e)
	}
	return b.compare(path, e.Op, v.V)
}

func (b *builder) compare(path string, op ql.Op, v any) error {
	if v == nil {
		return fmt.Errorf("%w: comparison with nil on %s", errUnsupported, path)
	}
	val, err := b.value(v)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if b.lists[path] {
		b.write(b.d.elements(path, func(value, _ string) string { return value + " " + comparisons[op] + " " + val }))
		return nil
	}
	b.write(b.d.json(path), " ", comparisons[op], " ", val)
	return nil
}

func (b *builder) in(path string, v any) error {
	vs, _ := v.([]any)
	if len(vs) == 0 {
		b.write("FALSE")
		return nil
	}
	exprs := make([]string, len(vs))
	for i, x := range vs {
		expr, err := b.value(x)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		exprs[i] = expr
	}
	list := "(" + strings.Join(exprs, ", ") + ")"
	if b.lists[path] {
		b.write(b.d.elements(path, func(value, _ string) string { return value + " IN " + list }))
		return nil
	}
	b.write(b.d.json(path), " IN ", list)
	return nil
}

func (b *builder) call(e *ql.CallExpr) error {
	if len(e.Args) != 2 {
		return fmt.Errorf("%w: %s", errUnsupported, e)
	}
	path, err := b.field(e.Args[0])
	if err != nil {
		return err
	}
	v, _ := e.Args[1].(*ql.Value)
	if v == nil {
		return fmt.Errorf("%w: %s", errUnsupported, e)
	}
	s, ok := v.V.(string)
	if !ok {
		return fmt.Errorf("%w: %s takes a string", errUnsupported, e.Func)
	}
	var cond func(x string) (string, error)
	switch e.Func {
	case ql.FuncEqualFold:
		cond = func(x string) (string, error) { return "lower(" + x + ") = lower(" + b.arg(s) + ")", nil }
	case ql.FuncContains:
		cond = func(x string) (string, error) { return b.d.strpos() + "(" + x + ", " + b.arg(s) + ") > 0", nil }
	case ql.FuncContainsFold:
		cond = func(x string) (string, error) {
			return b.d.strpos() + "(lower(" + x + "), lower(" + b.arg(s) + ")) > 0", nil
		}
	case ql.FuncHasPrefix:
		cond = func(x string) (string, error) { return b.d.strpos() + "(" + x + ", " + b.arg(s) + ") = 1", nil }
	case ql.FuncHasPrefixFold:
		cond = func(x string) (string, error) {
			return b.d.strpos() + "(lower(" + x + "), lower(" + b.arg(s) + ")) = 1", nil
		}
	case ql.FuncHasSuffix:
		cond = func(x string) (string, error) { return b.d.suffix(x, func() string { return b.arg(s) }), nil }
	case ql.FuncHasSuffixFold:
		cond = func(x string) (string, error) {
			return b.d.suffix("lower("+x+")", func() string { return "lower(" + b.arg(s) + ")" }), nil
		}
	case ql.FuncRegex, ql.FuncRegexFold:
		cond = func(x string) (string, error) {
			expr, ok := b.d.regex(x, b.arg(s), e.Func == ql.FuncRegexFold)
			if !ok {
				return "", fmt.Errorf("%w: %s on %s", errUnsupported, e.Func, b.d.name())
			}
			return expr, nil
		}
	default:
		return fmt.Errorf("%w: %s", errUnsupported, e)
	}
	if b.lists[path] {
		var cerr error
		b.write(b.d.elements(path, func(_, text string) string {
			c, err := cond(text)
			cerr = err
			return c
		}))
		return cerr
	}
	c, err := cond(b.d.text(path))
	if err != nil {
		return err
	}
	b.write(c)
	return nil
}

// where renders p into the condition of b, "TRUE" for a nil predicate.
func (b *builder) where(p ql.P) error {
	if p == nil {
		b.write("TRUE")
		return nil
	}
	return b.predicate(p)
}
