// Package accessor is the entity level data access layer between resolvers
// and the datastore. It prepares items for storage (defaults, association
// normalization, timestamps, sanitization, validation), publishes change
// events, applies delete policies and fans reads of polymorphic entities
// out across their concrete members.
package accessor

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/datastore"
	"github.com/syssam/veloql/filter"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/pubsub"
	ql "github.com/syssam/veloql/querylanguage"
	"github.com/syssam/veloql/validate"
)

type (
	// Accessor reads and writes the items of every entity of a model.
	Accessor struct {
		m         *model.Model
		store     datastore.DataStore
		validator validate.Validator
		compiler  *filter.Compiler
		bus       pubsub.Bus
		cache     veloql.Cache
		cacheTTL  time.Duration
		services  model.Services
		log       *zap.Logger
		now       func() time.Time
	}

	// Option configures an accessor.
	Option func(*Accessor)
)

// WithValidator replaces the default validator.
func WithValidator(v validate.Validator) Option {
	return func(a *Accessor) {
		a.validator = v
	}
}

// WithCompiler sets the filter compiler. Defaults to a compiler over the
// store's filter types and the model's enums.
func WithCompiler(c *filter.Compiler) Option {
	return func(a *Accessor) {
		a.compiler = c
	}
}

// WithBus sets the event bus receiving create, update and delete events of
// entities with subscriptions.
func WithBus(b pubsub.Bus) Option {
	return func(a *Accessor) {
		a.bus = b
	}
}

// WithCache enables read-through caching of concrete single-item reads.
// Every write to an entity drops its cached reads.
func WithCache(c veloql.Cache, ttl time.Duration) Option {
	return func(a *Accessor) {
		a.cache = c
		a.cacheTTL = ttl
	}
}

// WithServices sets the services handed to default functions.
func WithServices(s model.Services) Option {
	return func(a *Accessor) {
		a.services = s
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Accessor) {
		a.log = log
	}
}

// WithClock sets the time source of timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Accessor) {
		a.now = now
	}
}

// New returns an accessor for m on store.
func New(m *model.Model, store datastore.DataStore, opts ...Option) *Accessor {
	a := &Accessor{
		m:     m,
		store: store,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.validator == nil {
		a.validator = validate.New(m, store, validate.WithServices(a.services), validate.WithLogger(a.log))
	}
	if a.compiler == nil {
		a.compiler = NewCompiler(m, store, a.log)
	}
	return a
}

// NewCompiler returns a filter compiler over the filter types of store,
// including the filter types of the model's enums.
func NewCompiler(m *model.Model, store datastore.DataStore, log *zap.Logger) *filter.Compiler {
	reg := filter.NewRegistry(store.FilterTypes()...)
	for _, en := range m.Enums {
		reg.RegisterEnum(en, store.EnumFilterType(en))
	}
	return filter.NewCompiler(reg, log)
}

// Model returns the model of the accessor.
func (a *Accessor) Model() *model.Model { return a.m }

// Store returns the underlying datastore.
func (a *Accessor) Store() datastore.DataStore { return a.store }

// Compiler returns the filter compiler.
func (a *Accessor) Compiler() *filter.Compiler { return a.compiler }

// Validate runs the validator of the accessor on a stored item.
func (a *Accessor) Validate(ctx context.Context, e *model.Entity, item veloql.Item, op veloql.Op) ([]veloql.Violation, error) {
	return a.validator.Validate(ctx, e, item, op)
}

// Query is a list read of an entity.
type Query struct {
	// Filter is a filter expression in the shape of the entity's filter
	// input.
	Filter map[string]any
	// Predicate is conjoined with the compiled filter, e.g. the clauses
	// contributed by permissions.
	Predicate ql.P
	Sort      []datastore.Sort
	Paging    datastore.Paging
}

// FindByID returns the item of e with id, or nil when there is none. For a
// polymorphic entity the first concrete member holding the id wins and the
// item is tagged with its type name.
func (a *Accessor) FindByID(ctx context.Context, e *model.Entity, id string) (veloql.Item, error) {
	if id == "" {
		return nil, nil
	}
	if !e.IsPolymorphic() {
		return a.findByID(ctx, e, id)
	}
	for _, member := range a.m.ConcreteMembers(e) {
		item, err := a.findByID(ctx, member, id)
		if err != nil || item != nil {
			return tag(item, member), err
		}
	}
	return nil, nil
}

func (a *Accessor) findByID(ctx context.Context, e *model.Entity, id string) (veloql.Item, error) {
	key := veloql.CacheKey{Entity: e.Name, Operation: "id", ID: id}.String()
	if a.cache != nil {
		if raw, err := a.cache.Get(ctx, key); err != nil {
			a.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		} else if raw != nil {
			if item, err := veloql.DecodeItem(raw); err == nil {
				return item, nil
			}
		}
	}
	item, err := a.store.FindByID(ctx, e, id)
	if err != nil {
		return nil, veloql.NewQueryError(e.Name, "findByID", err)
	}
	if a.cache != nil && item != nil {
		if raw, err := json.Marshal(item); err == nil {
			if err := a.cache.Set(ctx, key, raw, a.cacheTTL); err != nil {
				a.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return item, nil
}

// FindByIDs returns the existing items among ids.
func (a *Accessor) FindByIDs(ctx context.Context, e *model.Entity, ids []string) ([]veloql.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return a.fanOut(ctx, e, func(ctx context.Context, member *model.Entity) ([]veloql.Item, error) {
		return a.store.FindByIDs(ctx, member, ids)
	})
}

// FindByAttribute returns the items whose attribute equals value.
func (a *Accessor) FindByAttribute(ctx context.Context, e *model.Entity, attr string, value any) ([]veloql.Item, error) {
	return a.fanOut(ctx, e, func(ctx context.Context, member *model.Entity) ([]veloql.Item, error) {
		return a.store.FindByAttribute(ctx, member, attr, value)
	})
}

// FindByFilter returns the items matching q. For polymorphic entities the
// members are queried without paging; the union is sorted and paged here.
func (a *Accessor) FindByFilter(ctx context.Context, e *model.Entity, q Query) ([]veloql.Item, error) {
	if !e.IsPolymorphic() {
		p, err := a.Predicate(ctx, e, q.Filter, q.Predicate)
		if err != nil {
			return nil, err
		}
		items, err := a.store.FindByFilter(ctx, e, datastore.Query{Filter: p, Sort: q.Sort, Paging: q.Paging})
		if err != nil {
			return nil, veloql.NewQueryError(e.Name, "findByFilter", err)
		}
		return items, nil
	}
	items, err := a.fanOut(ctx, e, func(ctx context.Context, member *model.Entity) ([]veloql.Item, error) {
		p, err := a.Predicate(ctx, member, q.Filter, q.Predicate)
		if err != nil {
			return nil, err
		}
		return a.store.FindByFilter(ctx, member, datastore.Query{Filter: p})
	})
	if err != nil {
		return nil, err
	}
	datastore.SortItems(items, []datastore.Sort{{Field: veloql.FieldID}})
	datastore.SortItems(items, q.Sort)
	return datastore.Page(items, q.Paging), nil
}

// Count returns the number of items matching the filter expression and
// predicate.
func (a *Accessor) Count(ctx context.Context, e *model.Entity, expr map[string]any, extra ql.P) (int, error) {
	var total int
	for _, member := range a.m.ConcreteMembers(e) {
		p, err := a.Predicate(ctx, member, expr, extra)
		if err != nil {
			return 0, err
		}
		n, err := a.store.Count(ctx, member, p)
		if err != nil {
			return 0, veloql.NewQueryError(member.Name, "count", err)
		}
		total += n
	}
	return total, nil
}

// fanOut runs fn for every concrete member of e concurrently and returns
// the union of the results in member order. Results of polymorphic
// entities are tagged with the member type name.
func (a *Accessor) fanOut(ctx context.Context, e *model.Entity, fn func(context.Context, *model.Entity) ([]veloql.Item, error)) ([]veloql.Item, error) {
	members := a.m.ConcreteMembers(e)
	results := make([][]veloql.Item, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, member := range members {
		g.Go(func() error {
			items, err := fn(gctx, member)
			if err != nil {
				return veloql.NewQueryError(member.Name, "find", err)
			}
			if e.IsPolymorphic() {
				for _, it := range items {
					tag(it, member)
				}
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

func tag(item veloql.Item, member *model.Entity) veloql.Item {
	if item != nil {
		item[veloql.FieldTypename] = member.TypeName
	}
	return item
}

// Truncate removes every item of e, or of each concrete member of a
// polymorphic e.
func (a *Accessor) Truncate(ctx context.Context, e *model.Entity) error {
	for _, member := range a.m.ConcreteMembers(e) {
		if err := a.store.Truncate(ctx, member); err != nil {
			return fmt.Errorf("truncate %s: %w", member.Name, err)
		}
		a.invalidate(ctx, member)
	}
	return nil
}

func (a *Accessor) invalidate(ctx context.Context, e *model.Entity) {
	if a.cache == nil {
		return
	}
	prefix := veloql.CacheKey{Entity: e.Name}.Prefix()
	if err := a.cache.DeletePrefix(ctx, prefix); err != nil {
		a.log.Warn("cache invalidation failed", zap.String("entity", e.Name), zap.Error(err))
	}
}

func (a *Accessor) publish(ctx context.Context, e *model.Entity, topic string, item veloql.Item) {
	if a.bus == nil || !e.Subscriptions {
		return
	}
	if err := a.bus.Publish(ctx, topic, item.Clone()); err != nil {
		a.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}
