// Package graphql assembles the GraphQL API of a model and executes
// operations against it.
//
// Assemble walks the resolved model and builds a schema document through a
// registry of named definitions: every type is declared first and populated
// afterwards, so types may refer to each other in any order. The document is
// loaded with gqlparser, which adds the prelude and validates it. Every field
// is bound to an operation of the resolver package.
package graphql

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"go.uber.org/zap"

	"github.com/syssam/veloql/filter"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/pubsub"
	"github.com/syssam/veloql/resolver"
	"github.com/syssam/veloql/seed"
)

type (
	// Schema is an assembled API, safe for concurrent use.
	Schema struct {
		m        *model.Model
		r        *resolver.Resolver
		schema   *ast.Schema
		fields   map[string]map[string]FieldFunc
		subs     map[string]subscription
		bus      pubsub.Bus
		seeder   *seed.Seeder
		services model.Services
		log      *zap.Logger
	}

	// Option configures the assembly of a schema.
	Option func(*Schema)

	// FieldFunc resolves one field of an object type.
	FieldFunc func(ctx context.Context, p Params) (any, error)

	// Params are the inputs of a field resolution.
	Params struct {
		// Source is the value of the object holding the field.
		Source any
		// Args are the coerced field arguments.
		Args map[string]any
		// Field is the selected field.
		Field *ast.Field
	}
)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Schema) {
		s.log = log
	}
}

// WithBus enables subscriptions on the event bus.
func WithBus(b pubsub.Bus) Option {
	return func(s *Schema) {
		s.bus = b
	}
}

// WithSeeder adds the seed mutation.
func WithSeeder(sd *seed.Seeder) Option {
	return func(s *Schema) {
		s.seeder = sd
	}
}

// WithServices sets the services handed to custom operations.
func WithServices(svc model.Services) Option {
	return func(s *Schema) {
		s.services = svc
	}
}

// Assemble builds the API of m on r. Types lists the filter types of the
// datastore. Definitions referring to unknown types are logged and dropped.
func Assemble(m *model.Model, r *resolver.Resolver, types []filter.Type, opts ...Option) (*Schema, error) {
	s := &Schema{
		m:      m,
		r:      r,
		fields: map[string]map[string]FieldFunc{},
		subs:   map[string]subscription{},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	a := &assembler{s: s, m: m, reg: newRegistry(s.log), types: types}
	a.declare()
	a.populate()
	dropped := a.reg.link()
	if len(dropped) > 0 {
		s.log.Warn("types dropped from schema", zap.Strings("types", dropped))
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(a.reg.document())
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "veloql.graphql", Input: buf.String()})
	if err != nil {
		return nil, fmt.Errorf("graphql: load schema: %w", err)
	}
	s.schema = schema
	return s, nil
}

// Schema returns the loaded schema.
func (s *Schema) Schema() *ast.Schema { return s.schema }

// SDL renders the schema in schema definition language.
func (s *Schema) SDL() string {
	var buf bytes.Buffer
	s.WriteSDL(&buf)
	return buf.String()
}

// WriteSDL writes the schema in schema definition language to w.
func (s *Schema) WriteSDL(w io.Writer) {
	formatter.NewFormatter(w, formatter.WithIndent("  ")).FormatSchema(s.schema)
}

// bind registers the resolver of a field.
func (s *Schema) bind(typeName, field string, fn FieldFunc) {
	if s.fields[typeName] == nil {
		s.fields[typeName] = map[string]FieldFunc{}
	}
	s.fields[typeName][field] = fn
}
