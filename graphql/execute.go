package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/resolver"
)

type (
	// Request is a GraphQL request.
	Request struct {
		Query         string         `json:"query"`
		OperationName string         `json:"operationName,omitempty"`
		Variables     map[string]any `json:"variables,omitempty"`
	}

	// Response is the result of a GraphQL request.
	Response struct {
		Data   *Object       `json:"data,omitempty"`
		Errors gqlerror.List `json:"errors,omitempty"`
	}
)

// Decode unmarshals the data of the response into v.
func (r *Response) Decode(v any) error {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Object is a response object. It keeps the order of the selected fields.
type Object struct {
	keys   []string
	values map[string]any
}

func newObject(n int) *Object {
	return &Object{keys: make([]string, 0, n), values: make(map[string]any, n)}
}

func (o *Object) set(key string, v any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value of key.
func (o *Object) Get(key string) any {
	if o == nil {
		return nil
	}
	return o.values[key]
}

// Keys returns the response keys in selection order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// MarshalJSON implements json.Marshaler.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// executor runs one operation of a parsed document.
type executor struct {
	s    *Schema
	op   *ast.OperationDefinition
	vars map[string]any

	mu   sync.Mutex
	errs gqlerror.List
}

// Execute runs a query or mutation. Query root fields run concurrently,
// mutation root fields one after another. Field errors are reported in the
// response next to the data that could be resolved.
func (s *Schema) Execute(ctx context.Context, req Request) *Response {
	ex, errs := s.prepare(req)
	if errs != nil {
		return &Response{Errors: errs}
	}
	var root *ast.Definition
	switch ex.op.Operation {
	case ast.Mutation:
		root = s.schema.Mutation
	case ast.Subscription:
		return &Response{Errors: gqlerror.List{gqlerror.Errorf("subscriptions must be subscribed to")}}
	default:
		root = s.schema.Query
	}
	ctx = resolver.WithLoaders(ctx)
	fields := ex.collect(root, ex.op.SelectionSet)
	var data *Object
	if ex.op.Operation == ast.Mutation {
		data = ex.object(ctx, root, nil, fields, nil)
	} else {
		data = ex.parallel(ctx, root, fields)
	}
	return &Response{Data: data, Errors: ex.errs}
}

// prepare parses and validates the request.
func (s *Schema) prepare(req Request) (*executor, gqlerror.List) {
	doc, errs := gqlparser.LoadQuery(s.schema, req.Query)
	if len(errs) > 0 {
		return nil, errs
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			return nil, gqlerror.List{gqlerror.Errorf("operation name is required for a document with several operations")}
		}
		return nil, gqlerror.List{gqlerror.Errorf("operation %q not found", req.OperationName)}
	}
	vars, err := validator.VariableValues(s.schema, op, req.Variables)
	if err != nil {
		var gerr *gqlerror.Error
		if errors.As(err, &gerr) {
			return nil, gqlerror.List{gerr}
		}
		return nil, gqlerror.List{gqlerror.Errorf("%s", err)}
	}
	return &executor{s: s, op: op, vars: vars}, nil
}

// collected are the fields selected under one response key.
type collected struct {
	key    string
	fields []*ast.Field
}

// collect flattens a selection set on obj, applying fragments and the skip
// and include directives.
func (ex *executor) collect(obj *ast.Definition, set ast.SelectionSet) []*collected {
	var (
		out   []*collected
		index = map[string]*collected{}
		visit func(ast.SelectionSet)
	)
	visit = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *ast.Field:
				if !ex.included(sel.Directives) {
					continue
				}
				key := sel.Alias
				if key == "" {
					key = sel.Name
				}
				if c, ok := index[key]; ok {
					c.fields = append(c.fields, sel)
					continue
				}
				c := &collected{key: key, fields: []*ast.Field{sel}}
				index[key] = c
				out = append(out, c)
			case *ast.InlineFragment:
				if ex.included(sel.Directives) && ex.applies(obj, sel.TypeCondition) {
					visit(sel.SelectionSet)
				}
			case *ast.FragmentSpread:
				if sel.Definition != nil && ex.included(sel.Directives) && ex.applies(obj, sel.Definition.TypeCondition) {
					visit(sel.Definition.SelectionSet)
				}
			}
		}
	}
	visit(set)
	return out
}

func (ex *executor) included(dirs ast.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(ex.vars)["if"].(bool); skip {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(ex.vars)["if"].(bool); !include {
			return false
		}
	}
	return true
}

// applies reports whether a fragment on cond applies to obj.
func (ex *executor) applies(obj *ast.Definition, cond string) bool {
	if cond == "" || cond == obj.Name {
		return true
	}
	def := ex.s.schema.Types[cond]
	if def == nil || !def.IsAbstractType() {
		return false
	}
	return slices.ContainsFunc(ex.s.schema.GetPossibleTypes(def), func(d *ast.Definition) bool {
		return d.Name == obj.Name
	})
}

// parallel resolves the root fields of a query concurrently.
func (ex *executor) parallel(ctx context.Context, root *ast.Definition, fields []*collected) *Object {
	type result struct {
		v  any
		ok bool
	}
	results := make([]result, len(fields))
	var eg errgroup.Group
	for i, c := range fields {
		eg.Go(func() error {
			v, ok := ex.field(ctx, root, nil, c, ast.Path{ast.PathName(c.key)})
			results[i] = result{v: v, ok: ok}
			return nil
		})
	}
	_ = eg.Wait()
	out := newObject(len(fields))
	for i, c := range fields {
		if !results[i].ok {
			return nil
		}
		out.set(c.key, results[i].v)
	}
	return out
}

// object resolves the fields of obj on source. A nil result means a
// non-null field was null and the object itself becomes null.
func (ex *executor) object(ctx context.Context, obj *ast.Definition, source any, fields []*collected, path ast.Path) *Object {
	out := newObject(len(fields))
	for _, c := range fields {
		v, ok := ex.field(ctx, obj, source, c, append(slices.Clip(path), ast.PathName(c.key)))
		if !ok {
			return nil
		}
		out.set(c.key, v)
	}
	return out
}

// field resolves and completes one response key. It reports false when a
// non-null field resolved to null.
func (ex *executor) field(ctx context.Context, obj *ast.Definition, source any, c *collected, path ast.Path) (any, bool) {
	f := c.fields[0]
	if f.Name == "__typename" {
		return obj.Name, true
	}
	def := f.Definition
	if def == nil {
		def = obj.Fields.ForName(f.Name)
	}
	if def == nil {
		ex.error(path, fmt.Errorf("unknown field %s.%s", obj.Name, f.Name))
		return nil, true
	}
	args := f.ArgumentMap(ex.vars)
	v, err := ex.resolve(ctx, obj, source, f, args)
	if err != nil {
		ex.error(path, err)
		return nil, !def.Type.NonNull
	}
	return ex.complete(ctx, def.Type, c, v, path)
}

// resolve finds the value of a field: introspection, a bound resolver or
// the property of the source.
func (ex *executor) resolve(ctx context.Context, obj *ast.Definition, source any, f *ast.Field, args map[string]any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			ex.s.log.Error("field resolver panicked", zap.String("type", obj.Name), zap.String("field", f.Name), zap.Any("panic", r))
			err = fmt.Errorf("internal error resolving %s.%s", obj.Name, f.Name)
		}
	}()
	if obj == ex.s.schema.Query {
		switch f.Name {
		case "__schema":
			return ex.s.introspectSchema(), nil
		case "__type":
			name, _ := args["name"].(string)
			return ex.s.introspectType(name), nil
		}
	}
	if isIntrospection(obj.Name) {
		return introspect(source, f.Name, args)
	}
	if fn := ex.s.fields[obj.Name][f.Name]; fn != nil {
		return fn(ctx, Params{Source: source, Args: args, Field: f})
	}
	return property(source, f.Name)
}

// complete shapes v to typ, resolving the selection set of object values.
func (ex *executor) complete(ctx context.Context, typ *ast.Type, c *collected, v any, path ast.Path) (any, bool) {
	if typ.Elem != nil && isNilSlice(v) {
		return []any{}, true
	}
	if isNil(v) {
		if typ.NonNull {
			ex.error(path, fmt.Errorf("must not be null"))
			return nil, false
		}
		return nil, true
	}
	if typ.Elem != nil {
		items, err := list(v)
		if err != nil {
			ex.error(path, err)
			return nil, !typ.NonNull
		}
		out := make([]any, len(items))
		for i, it := range items {
			cv, ok := ex.complete(ctx, typ.Elem, c, it, append(slices.Clip(path), ast.PathIndex(i)))
			if !ok {
				return nil, !typ.NonNull
			}
			out[i] = cv
		}
		return out, true
	}
	def := ex.s.schema.Types[typ.NamedType]
	if def == nil {
		ex.error(path, fmt.Errorf("unknown type %s", typ.NamedType))
		return nil, !typ.NonNull
	}
	switch def.Kind {
	case ast.Scalar, ast.Enum:
		out, err := serialize(def, v)
		if err != nil {
			ex.error(path, err)
			return nil, !typ.NonNull
		}
		return out, true
	}
	obj := def
	if def.IsAbstractType() {
		if obj = ex.concrete(def, v); obj == nil {
			ex.error(path, fmt.Errorf("cannot resolve the %s type of the value", def.Name))
			return nil, !typ.NonNull
		}
	}
	var set ast.SelectionSet
	for _, f := range c.fields {
		set = append(set, f.SelectionSet...)
	}
	out := ex.object(ctx, obj, v, ex.collect(obj, set), path)
	if out == nil {
		return nil, !typ.NonNull
	}
	return out, true
}

// concrete picks the object type of a value of the abstract type def.
func (ex *executor) concrete(def *ast.Definition, v any) *ast.Definition {
	possible := ex.s.schema.GetPossibleTypes(def)
	tn, _ := property(v, veloql.FieldTypename)
	name, _ := tn.(string)
	for _, p := range possible {
		if p.Name == name {
			return p
		}
	}
	if len(possible) == 1 {
		return possible[0]
	}
	return nil
}

func (ex *executor) error(path ast.Path, err error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.errs = append(ex.errs, toError(path, err))
}

// toError converts err to a GraphQL error at path with a code extension
// for the known error kinds.
func toError(path ast.Path, err error) *gqlerror.Error {
	var gerr *gqlerror.Error
	if errors.As(err, &gerr) {
		out := *gerr
		if out.Path == nil {
			out.Path = path
		}
		return &out
	}
	out := &gqlerror.Error{Err: err, Message: err.Error(), Path: path}
	if code := errorCode(err); code != "" {
		out.Extensions = map[string]any{"code": code}
	}
	return out
}

func errorCode(err error) string {
	switch {
	case veloql.IsNotFound(err):
		return "NOT_FOUND"
	case veloql.IsAccessDenied(err):
		return "FORBIDDEN"
	case errors.Is(err, veloql.ErrInvalidInput):
		return "BAD_USER_INPUT"
	case errors.Is(err, veloql.ErrOperationDisabled):
		return "OPERATION_DISABLED"
	}
	return ""
}

// property reads the field name of a source value. Values other than maps
// are viewed through their JSON encoding.
func property(source any, name string) (any, error) {
	switch src := source.(type) {
	case nil:
		return nil, nil
	case veloql.Item:
		return src[name], nil
	case map[string]any:
		return src[name], nil
	case *Object:
		return src.Get(name), nil
	}
	raw, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("read %s of %T: %w", name, source, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("read %s of %T: %w", name, source, err)
	}
	return m[name], nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// isNilSlice reports whether v is a typed nil slice, an empty list.
func isNilSlice(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Slice && rv.IsNil()
}

// list returns the elements of a slice value.
func list(v any) ([]any, error) {
	if l, ok := v.([]any); ok {
		return l, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%T is not a list", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		el := rv.Index(i)
		if el.Kind() == reflect.Struct && el.CanAddr() {
			out[i] = el.Addr().Interface()
			continue
		}
		out[i] = el.Interface()
	}
	return out, nil
}
