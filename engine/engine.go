// Package engine wires a resolved model into a running API. A Runtime owns
// the accessor, the resolver, the seeder and the assembled GraphQL schema of
// one model and is the services handle handed to hooks, default functions
// and custom resolvers.
//
// Several runtimes can live in one process; nothing is registered globally.
//
//	m, diags := config.Resolve(cfg)
//	if err := diags.Err(); err != nil {
//		return err
//	}
//	rt, err := engine.New(ctx, m, engine.WithStore(memory.New()))
//	if err != nil {
//		return err
//	}
//	resp := rt.Schema().Execute(ctx, graphql.Request{Query: "{ cars { id } }"})
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/accessor"
	"github.com/syssam/veloql/blob"
	"github.com/syssam/veloql/datastore"
	"github.com/syssam/veloql/datastore/memory"
	"github.com/syssam/veloql/graphql"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/pubsub"
	"github.com/syssam/veloql/resolver"
	"github.com/syssam/veloql/seed"
)

type (
	// Runtime is a model wired to its collaborators.
	Runtime struct {
		m      *model.Model
		store  datastore.DataStore
		acc    *accessor.Accessor
		r      *resolver.Resolver
		seeder *seed.Seeder
		schema *graphql.Schema
		bus    pubsub.Bus
		blobs  blob.Store
		log    *zap.Logger
	}

	// Option configures a runtime.
	Option func(*options)

	options struct {
		store       datastore.DataStore
		bus         pubsub.Bus
		blobs       blob.Store
		cache       veloql.Cache
		cacheTTL    time.Duration
		registerer  prometheus.Registerer
		tracer      trace.TracerProvider
		filesURL    string
		seedWorkers int
		noSeeding   bool
		log         *zap.Logger
	}
)

// WithStore sets the datastore. Defaults to a memory store.
func WithStore(s datastore.DataStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithBus sets the event bus. Without one the API has no subscriptions.
func WithBus(b pubsub.Bus) Option {
	return func(o *options) {
		o.bus = b
	}
}

// WithBlobs sets the store of file contents.
func WithBlobs(s blob.Store) Option {
	return func(o *options) {
		o.blobs = s
	}
}

// WithCache caches single item reads for ttl.
func WithCache(c veloql.Cache, ttl time.Duration) Option {
	return func(o *options) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// WithMetrics registers the operation metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTracerProvider sets the provider of operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithFilesURL sets the URL prefix of file downloads.
func WithFilesURL(prefix string) Option {
	return func(o *options) {
		o.filesURL = prefix
	}
}

// WithSeedWorkers bounds the parallelism of seeding.
func WithSeedWorkers(n int) Option {
	return func(o *options) {
		o.seedWorkers = n
	}
}

// WithoutSeeding leaves the seed mutation out of the API.
func WithoutSeeding() Option {
	return func(o *options) {
		o.noSeeding = true
	}
}

// WithLogger sets the logger of the runtime and its components.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Migrator is implemented by datastores that prepare their storage for a
// model, such as the SQL store.
type Migrator interface {
	Migrate(ctx context.Context, m *model.Model) error
}

// New wires m. The datastore is migrated when it supports it.
func New(ctx context.Context, m *model.Model, opts ...Option) (*Runtime, error) {
	if m == nil {
		return nil, errors.New("engine: nil model")
	}
	o := &options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = memory.New()
	}
	rt := &Runtime{m: m, store: o.store, bus: o.bus, blobs: o.blobs, log: o.log}

	if mg, ok := o.store.(Migrator); ok {
		if err := mg.Migrate(ctx, m); err != nil {
			return nil, fmt.Errorf("engine: migrate: %w", err)
		}
	}

	accOpts := []accessor.Option{accessor.WithServices(rt), accessor.WithLogger(o.log)}
	if o.bus != nil {
		accOpts = append(accOpts, accessor.WithBus(o.bus))
	}
	if o.cache != nil {
		accOpts = append(accOpts, accessor.WithCache(o.cache, o.cacheTTL))
	}
	rt.acc = accessor.New(m, o.store, accOpts...)

	resOpts := []resolver.Option{resolver.WithServices(rt), resolver.WithLogger(o.log)}
	if o.blobs != nil {
		resOpts = append(resOpts, resolver.WithBlobs(o.blobs))
	}
	if o.filesURL != "" {
		resOpts = append(resOpts, resolver.WithFilesURL(o.filesURL))
	}
	if o.registerer != nil {
		resOpts = append(resOpts, resolver.WithMetrics(resolver.NewMetrics(o.registerer)))
	}
	if o.tracer != nil {
		resOpts = append(resOpts, resolver.WithTracerProvider(o.tracer))
	}
	rt.r = resolver.New(rt.acc, resOpts...)

	schemaOpts := []graphql.Option{graphql.WithServices(rt), graphql.WithLogger(o.log)}
	if !o.noSeeding {
		seedOpts := []seed.Option{seed.WithLogger(o.log)}
		if o.seedWorkers > 0 {
			seedOpts = append(seedOpts, seed.WithWorkers(o.seedWorkers))
		}
		rt.seeder = seed.New(rt.acc, seedOpts...)
		schemaOpts = append(schemaOpts, graphql.WithSeeder(rt.seeder))
	}
	if o.bus != nil {
		schemaOpts = append(schemaOpts, graphql.WithBus(o.bus))
	}
	schema, err := graphql.Assemble(m, rt.r, rt.acc.Compiler().Registry().Types(), schemaOpts...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	rt.schema = schema
	o.log.Info("runtime ready",
		zap.Int("entities", len(m.Entities)),
		zap.Int("enums", len(m.Enums)),
		zap.Bool("subscriptions", o.bus != nil))
	return rt, nil
}

// Schema returns the GraphQL API of the runtime.
func (rt *Runtime) Schema() *graphql.Schema { return rt.schema }

// Resolver returns the operation resolver.
func (rt *Runtime) Resolver() *resolver.Resolver { return rt.r }

// Accessor returns the entity accessor.
func (rt *Runtime) Accessor() *accessor.Accessor { return rt.acc }

// Store returns the datastore.
func (rt *Runtime) Store() datastore.DataStore { return rt.store }

// Blobs returns the file store, nil when files are not stored.
func (rt *Runtime) Blobs() blob.Store { return rt.blobs }

// Bus returns the event bus, nil when subscriptions are disabled.
func (rt *Runtime) Bus() pubsub.Bus { return rt.bus }

// Seed loads the seeds of the model. It fails when seeding was disabled.
func (rt *Runtime) Seed(ctx context.Context, truncate bool) (*seed.Report, error) {
	if rt.seeder == nil {
		return nil, errors.New("engine: seeding is disabled")
	}
	return rt.seeder.Seed(ctx, truncate)
}
