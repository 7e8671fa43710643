// Package resolver runs the API operations of entities: custom overrides,
// lifecycle hooks, permission checks, file handling, association traversal
// and computed attributes around the accessor.
//
// Every operation follows the same dispatch: a configured override replaces
// the pipeline; otherwise the pre-hook runs first and may short-circuit,
// then the permission check, the core operation and the after-hook.
package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/accessor"
	"github.com/syssam/veloql/blob"
	"github.com/syssam/veloql/contrib/dataloader"
	"github.com/syssam/veloql/model"
)

const tracerName = "github.com/syssam/veloql/resolver"

type (
	// Resolver runs the operations of every entity of a model.
	Resolver struct {
		m        *model.Model
		acc      *accessor.Accessor
		perms    *Permissions
		blobs    blob.Store
		filesURL string
		services model.Services
		metrics  *Metrics
		tracer   trace.Tracer
		log      *zap.Logger
	}

	// Option configures a resolver.
	Option func(*Resolver)
)

// WithBlobs sets the store of file attribute contents. Without one, file
// uploads are rejected.
func WithBlobs(s blob.Store) Option {
	return func(r *Resolver) {
		r.blobs = s
	}
}

// WithFilesURL sets the URL prefix of file downloads. Defaults to "/files".
func WithFilesURL(prefix string) Option {
	return func(r *Resolver) {
		r.filesURL = prefix
	}
}

// WithServices sets the services handed to hooks, overrides and computed
// attributes.
func WithServices(s model.Services) Option {
	return func(r *Resolver) {
		r.services = s
	}
}

// WithMetrics enables operation metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithTracerProvider sets the provider of operation spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Resolver) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// New returns a resolver on acc.
func New(acc *accessor.Accessor, opts ...Option) *Resolver {
	r := &Resolver{
		m:        acc.Model(),
		acc:      acc,
		filesURL: "/files",
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	r.perms = NewPermissions(func(ctx context.Context, e *model.Entity, id string) (veloql.Item, error) {
		return r.acc.FindByID(ctx, e, id)
	})
	return r
}

// Model returns the model of the resolver.
func (r *Resolver) Model() *model.Model { return r.m }

// Accessor returns the accessor of the resolver.
func (r *Resolver) Accessor() *accessor.Accessor { return r.acc }

// Permissions returns the permission evaluator.
func (r *Resolver) Permissions() *Permissions { return r.perms }

var opLabels = map[veloql.Op]string{
	veloql.OpTypeQuery:  "typeQuery",
	veloql.OpTypesQuery: "typesQuery",
	veloql.OpStatsQuery: "statsQuery",
	veloql.OpCreate:     "create",
	veloql.OpUpdate:     "update",
	veloql.OpDelete:     "delete",
}

// stage is one step of the standard pipeline.
type stage func(ctx context.Context) (any, error)

// dispatch runs op on req.Entity: override, or pre-hook, permission, core
// and after-hook.
func (r *Resolver) dispatch(ctx context.Context, req *model.Request, permit func(context.Context) error, core stage) (result any, err error) {
	e, op := req.Entity, req.Op
	label := opLabels[op]
	ctx, span := r.tracer.Start(ctx, "veloql."+label, trace.WithAttributes(
		attribute.String("veloql.entity", e.Name),
		attribute.String("veloql.operation", label),
	))
	start := time.Now()
	outcome := outcomeOK
	defer func() {
		switch {
		case veloql.IsAccessDenied(err):
			outcome = outcomeDenied
		case err != nil:
			outcome = outcomeError
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("veloql.outcome", outcome))
		span.End()
		r.metrics.observe(e.Name, label, outcome, start)
	}()

	req.Services = r.services
	toggle := e.Operations.For(op)
	if toggle.Disabled {
		return nil, veloql.NewMutationError(e.Name, label, veloql.ErrOperationDisabled)
	}
	if toggle.Resolve != nil {
		return toggle.Resolve(ctx, req)
	}
	if pre := e.Hooks.Pre(op); pre != nil {
		o, err := pre(ctx, req)
		if err != nil {
			return nil, err
		}
		if o.ShortCircuited() {
			outcome = outcomeShortCircuit
			return o.Value(), nil
		}
	}
	if permit != nil {
		if err := permit(ctx); err != nil {
			return nil, err
		}
	}
	result, err = core(ctx)
	if err != nil {
		return nil, err
	}
	if sr, ok := result.(*SaveResult); ok && len(sr.Violations) > 0 {
		outcome = outcomeInvalid
	}
	if after := e.Hooks.After(op); after != nil {
		return after(ctx, req, result)
	}
	return result, nil
}

// Resolve overlays the computed attributes of e onto item. File values get
// their download URL.
func (r *Resolver) Resolve(ctx context.Context, e *model.Entity, item veloql.Item) (veloql.Item, error) {
	if item == nil {
		return nil, nil
	}
	if tn := item.Typename(); tn != "" && e.IsPolymorphic() {
		if member := r.m.Entity(tn); member != nil {
			e = member
		}
	}
	for _, attr := range e.Attributes {
		switch {
		case attr.Resolve != nil:
			v, err := attr.Resolve(ctx, item, r.services)
			if err != nil {
				return nil, veloql.NewQueryError(e.Name, "resolve "+attr.Name, err)
			}
			item[attr.Name] = v
		case attr.IsFile():
			r.fileURL(e, item, attr)
		}
	}
	return item, nil
}

func (r *Resolver) resolveAll(ctx context.Context, e *model.Entity, items []veloql.Item) ([]veloql.Item, error) {
	for i, it := range items {
		v, err := r.Resolve(ctx, e, it)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

// loaders memoize the single-item reads of one request per entity.
type loaders struct {
	mu       sync.Mutex
	byEntity map[string]*dataloader.Loader[string, veloql.Item]
}

// WithLoaders returns a context sharing memoized item reads across the
// resolvers of one request.
func WithLoaders(ctx context.Context) context.Context {
	return dataloader.WithLoaders(ctx, &loaders{byEntity: map[string]*dataloader.Loader[string, veloql.Item]{}})
}

func (r *Resolver) loader(ctx context.Context, e *model.Entity) *dataloader.Loader[string, veloql.Item] {
	ls := dataloader.For[*loaders](ctx)
	if ls == nil {
		return nil
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	l, ok := ls.byEntity[e.Name]
	if !ok {
		l = dataloader.New(func(ctx context.Context, ids []string) ([]veloql.Item, error) {
			return r.acc.FindByIDs(ctx, e, ids)
		}, veloql.Item.ID)
		ls.byEntity[e.Name] = l
	}
	return l
}

// load reads one item through the request loader when present. Loaded
// items are copies.
func (r *Resolver) load(ctx context.Context, e *model.Entity, id string) (veloql.Item, error) {
	l := r.loader(ctx, e)
	if l == nil {
		return r.acc.FindByID(ctx, e, id)
	}
	item, err := l.Load(ctx, id)
	if errors.Is(err, dataloader.ErrNotFound) {
		return nil, nil
	}
	return item.Clone(), err
}

func (r *Resolver) loadMany(ctx context.Context, e *model.Entity, ids []string) ([]veloql.Item, error) {
	l := r.loader(ctx, e)
	if l == nil {
		return r.acc.FindByIDs(ctx, e, ids)
	}
	values, errs, err := l.LoadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]veloql.Item, 0, len(values))
	seen := make(map[string]bool, len(values))
	for i, v := range values {
		if errs[i] == nil && !seen[v.ID()] {
			seen[v.ID()] = true
			items = append(items, v.Clone())
		}
	}
	return items, nil
}

// forget drops the memoized read of id after a write.
func (r *Resolver) forget(ctx context.Context, e *model.Entity, id string) {
	if l := r.loader(ctx, e); l != nil {
		l.Clear(id)
	}
	for _, p := range r.m.Entities {
		if p.IsPolymorphic() && r.m.Covers(p, e) {
			if l := r.loader(ctx, p); l != nil {
				l.Clear(id)
			}
		}
	}
}
