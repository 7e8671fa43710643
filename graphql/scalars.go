package graphql

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/syssam/veloql/scalar"
)

// serialize converts a leaf value to its response representation.
func serialize(def *ast.Definition, v any) (any, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	if def.Kind == ast.Enum {
		s := fmt.Sprint(v)
		if def.EnumValues.ForName(s) == nil {
			return nil, fmt.Errorf("%q is not a value of %s", s, def.Name)
		}
		return s, nil
	}
	switch def.Name {
	case "String":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case "ID":
		return scalar.Coerce(scalar.ID, v)
	case "Int":
		return scalar.ToInt(v)
	case "Float":
		return scalar.ToFloat(v)
	case "Boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("%T is not a boolean", v)
	case scalar.Date, scalar.DateTime:
		if t, ok := v.(time.Time); ok {
			return scalar.Coerce(def.Name, t)
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
		return scalar.Coerce(def.Name, v)
	case scalar.Upload:
		return nil, fmt.Errorf("uploads cannot be returned")
	}
	return jsonValue(v)
}

// jsonValue returns v in a shape encoding/json renders without help.
func jsonValue(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, string, bool, int, int64, float64, json.Number:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}
