// Package scalar defines the built-in scalar kinds of a model and coerces
// raw values into their canonical representation.
//
// Canonical representations:
//
//	String   string
//	Int      int
//	Float    float64
//	Boolean  bool
//	ID       string
//	Date     string, "2006-01-02"
//	DateTime string, UTC with millisecond precision (see DateTimeLayout)
//	JSON     any, kept as given
//	File     map[string]any file metadata
package scalar

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Built-in scalar type names.
const (
	String   = "String"
	Int      = "Int"
	Float    = "Float"
	Boolean  = "Boolean"
	ID       = "ID"
	Date     = "Date"
	DateTime = "DateTime"
	JSON     = "JSON"
	File     = "File"
	Upload   = "Upload"
)

// Layouts of the canonical date values. DateTimeLayout is fixed width, so
// canonical values order lexicographically the same way they order in time.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05.000Z"
)

var aliases = map[string]string{
	"string":   String,
	"int":      Int,
	"integer":  Int,
	"float":    Float,
	"number":   Float,
	"boolean":  Boolean,
	"bool":     Boolean,
	"id":       ID,
	"date":     Date,
	"datetime": DateTime,
	"json":     JSON,
	"file":     File,
}

// Normalize maps a case-insensitive scalar spelling to its canonical name.
// The second result is false when name is not a built-in scalar.
func Normalize(name string) (string, bool) {
	s, ok := aliases[strings.ToLower(name)]
	return s, ok
}

// IsScalar reports whether name is a canonical built-in scalar.
func IsScalar(name string) bool {
	s, ok := aliases[strings.ToLower(name)]
	return ok && s == name
}

// Filterable reports whether values of the scalar can be filtered.
func Filterable(name string) bool {
	return name != JSON && name != File && name != Upload
}

// Now returns the current time as a canonical DateTime.
func Now() string {
	return FormatDateTime(time.Now())
}

// FormatDateTime formats t as a canonical DateTime.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}

// ErrInvalid is wrapped by every coercion failure.
var ErrInvalid = errors.New("invalid value")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Coerce converts v into the canonical representation of the scalar named
// kind. Nil stays nil. Unknown kinds (enums, custom scalars) are stringified
// unless they already are strings.
func Coerce(kind string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case String:
		return toString(v)
	case ID:
		return toID(v)
	case Int:
		return ToInt(v)
	case Float:
		return ToFloat(v)
	case Boolean:
		return toBool(v)
	case Date:
		return toDate(v)
	case DateTime:
		return toDateTime(v)
	case JSON, File, Upload:
		return v, nil
	default:
		return toString(v)
	}
}

// CoerceList coerces every element of a list value. A scalar is wrapped
// into a one-element list.
func CoerceList(kind string, v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	items := AsList(v)
	out := make([]any, 0, len(items))
	for _, it := range items {
		c, err := Coerce(kind, it)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// AsList returns v as []any. Typed slices are converted, scalars wrapped.
func AsList(v any) []any {
	switch l := v.(type) {
	case nil:
		return nil
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out
	case []float64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out
	case []bool:
		out := make([]any, len(l))
		for i, b := range l {
			out[i] = b
		}
		return out
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out
	default:
		return []any{v}
	}
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", invalid("%T is not a string", v)
	}
}

func toID(v any) (string, error) {
	s, err := toString(v)
	if err != nil {
		return "", invalid("%T is not an id", v)
	}
	return s, nil
}

// ToInt converts v to int. Floats must be integral.
func ToInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int8:
		return int(t), nil
	case int16:
		return int(t), nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint:
		return int(t), nil
	case uint8:
		return int(t), nil
	case uint16:
		return int(t), nil
	case uint32:
		return int(t), nil
	case uint64:
		return int(t), nil
	case float32:
		return ToInt(float64(t))
	case float64:
		if t != math.Trunc(t) {
			return 0, invalid("%v must be an integer", t)
		}
		return int(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, invalid("%q must be an integer", t)
		}
		return ToInt(f)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, invalid("%q must be an integer", t)
		}
		return n, nil
	default:
		return 0, invalid("%T must be an integer", v)
	}
}

// ToFloat converts v to float64.
func ToFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, invalid("%q must be a number", t)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, invalid("%q must be a number", t)
		}
		return f, nil
	default:
		return 0, invalid("%T must be a number", v)
	}
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
		return false, invalid("%q must be a boolean", t)
	case int, int64, float64:
		n, _ := ToFloat(t)
		return n != 0, nil
	default:
		return false, invalid("%T must be a boolean", v)
	}
}

func toDate(v any) (string, error) {
	if t, ok := v.(time.Time); ok {
		return t.Format(DateLayout), nil
	}
	s, err := toString(v)
	if err != nil {
		return "", invalid("%T must be a date", v)
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return "", invalid("%q must be a date (YYYY-MM-DD)", s)
	}
	return t.Format(DateLayout), nil
}

func toDateTime(v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return FormatDateTime(t), nil
	case int, int64, float64:
		ms, _ := ToFloat(t)
		return FormatDateTime(time.UnixMilli(int64(ms))), nil
	}
	s, err := toString(v)
	if err != nil {
		return "", invalid("%T must be a datetime", v)
	}
	t, err := ParseTime(strings.TrimSpace(s))
	if err != nil {
		return "", invalid("%q must be a RFC3339 datetime", s)
	}
	return FormatDateTime(t), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	DateLayout,
}

// ParseTime parses the date and datetime spellings accepted as input.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid("%q is not a time", s)
}
