package querylanguage

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

// Match evaluates p against a schemaless item. A nil predicate matches
// everything. A field holding a list satisfies a positive comparison when
// any element does; negative operators (!=, not in) require that no
// element matches.
func Match(p P, item map[string]any) bool {
	if p == nil {
		return true
	}
	return evalExpr(p, item)
}

func evalExpr(x Expr, item map[string]any) bool {
	switch e := x.(type) {
	case *UnaryExpr:
		if e.Op == OpNot {
			return !evalExpr(e.X, item)
		}
	case *BinaryExpr:
		switch e.Op {
		case OpAnd:
			return evalExpr(e.X, item) && evalExpr(e.Y, item)
		case OpOr:
			return evalExpr(e.X, item) || evalExpr(e.Y, item)
		default:
			return evalBinary(e, item)
		}
	case *NaryExpr:
		switch e.Op {
		case OpAnd:
			for _, x := range e.Xs {
				if !evalExpr(x, item) {
					return false
				}
			}
			return true
		case OpOr:
			for _, x := range e.Xs {
				if evalExpr(x, item) {
					return true
				}
			}
			return false
		}
	case *CallExpr:
		return evalCall(e, item)
	}
	return false
}

func operand(x Expr, item map[string]any) any {
	switch e := x.(type) {
	case *Field:
		return Lookup(item, e.Name)
	case *Value:
		if e == nil {
			return nil
		}
		return e.V
	}
	return nil
}

// Lookup returns the value addressed by a possibly dotted field name.
func Lookup(item map[string]any, name string) any {
	if v, ok := item[name]; ok || !strings.Contains(name, ".") {
		return v
	}
	var cur any = item
	for _, part := range strings.Split(name, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func evalBinary(e *BinaryExpr, item map[string]any) bool {
	if v, ok := e.Y.(*Value); ok && v == nil {
		null := isNull(operand(e.X, item))
		if e.Op == OpEQ {
			return null
		}
		return !null
	}
	x, y := operand(e.X, item), operand(e.Y, item)
	switch e.Op {
	case OpNEQ:
		return !anyOf(x, func(v any) bool { return equal(v, y) })
	case OpNotIn:
		return !anyOf(x, func(v any) bool { return in(v, y) })
	case OpIn:
		return anyOf(x, func(v any) bool { return in(v, y) })
	case OpEQ:
		return anyOf(x, func(v any) bool { return equal(v, y) })
	}
	return anyOf(x, func(v any) bool {
		c, ok := Compare(v, y)
		if !ok {
			return false
		}
		switch e.Op {
		case OpGT:
			return c > 0
		case OpGTE:
			return c >= 0
		case OpLT:
			return c < 0
		case OpLTE:
			return c <= 0
		}
		return false
	})
}

var folder = cases.Fold()

func fold(s string) string { return folder.String(s) }

func evalCall(e *CallExpr, item map[string]any) bool {
	if len(e.Args) != 2 {
		return false
	}
	x := operand(e.Args[0], item)
	arg, ok := operand(e.Args[1], item).(string)
	if !ok {
		return false
	}
	return anyOf(x, func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		switch e.Func {
		case FuncEqualFold:
			return fold(s) == fold(arg)
		case FuncContains:
			return strings.Contains(s, arg)
		case FuncContainsFold:
			return strings.Contains(fold(s), fold(arg))
		case FuncHasPrefix:
			return strings.HasPrefix(s, arg)
		case FuncHasPrefixFold:
			return strings.HasPrefix(fold(s), fold(arg))
		case FuncHasSuffix:
			return strings.HasSuffix(s, arg)
		case FuncHasSuffixFold:
			return strings.HasSuffix(fold(s), fold(arg))
		case FuncRegex:
			re, err := compileRegex(arg)
			return err == nil && re.MatchString(s)
		case FuncRegexFold:
			re, err := compileRegex("(?i)" + arg)
			return err == nil && re.MatchString(s)
		}
		return false
	})
}

var regexCache sync.Map

func compileRegex(expr string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(expr); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	regexCache.Store(expr, re)
	return re, nil
}

func anyOf(x any, fn func(any) bool) bool {
	if l, ok := x.([]any); ok {
		for _, v := range l {
			if fn(v) {
				return true
			}
		}
		return false
	}
	return fn(x)
}

func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case string:
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	}
	return false
}

func in(v any, list any) bool {
	for _, candidate := range listOf(list) {
		if equal(v, candidate) {
			return true
		}
	}
	return false
}

func listOf(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case nil:
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func equal(a, b any) bool {
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two scalar values of compatible kinds. Numbers compare
// numerically, strings and booleans by value, times chronologically. The
// second result is false when the values are not comparable.
func Compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return cmp3(x < y, x > y), true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return cmp3(!x && y, x && !y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
