package model

import (
	"context"

	"github.com/syssam/veloql"
)

// Request describes one API operation on an entity, handed to hooks and
// custom resolver functions.
type Request struct {
	Op       veloql.Op
	Entity   *Entity
	ID       string
	Args     map[string]any
	Input    veloql.Item
	Services Services
}

// Outcome is the result of a pre-hook: either continue with the standard
// pipeline or short-circuit it with a value.
type Outcome struct {
	value any
	stop  bool
}

// Continue lets the operation proceed.
func Continue() Outcome { return Outcome{} }

// ShortCircuit ends the operation with v, skipping permission checks and
// persistence.
func ShortCircuit(v any) Outcome { return Outcome{value: v, stop: true} }

// ShortCircuited reports whether the operation was ended by the hook.
func (o Outcome) ShortCircuited() bool { return o.stop }

// Value returns the short-circuit value.
func (o Outcome) Value() any { return o.value }

type (
	// PreHook runs before the permission check of an operation.
	PreHook func(ctx context.Context, req *Request) (Outcome, error)

	// AfterHook runs after an operation and may replace its result.
	AfterHook func(ctx context.Context, req *Request, result any) (any, error)

	// ResolveFunc replaces an operation entirely.
	ResolveFunc func(ctx context.Context, req *Request) (any, error)

	// DefaultFunc computes an attribute default from the whole input.
	DefaultFunc func(ctx context.Context, input veloql.Item, s Services) (any, error)

	// AttributeResolveFunc computes an attribute value on read.
	AttributeResolveFunc func(ctx context.Context, item veloql.Item, s Services) (any, error)

	// ValidateFunc validates a whole item before it is saved.
	ValidateFunc func(ctx context.Context, item veloql.Item, op veloql.Op, s Services) ([]veloql.Violation, error)
)

// Hooks are the lifecycle hooks of an entity. Nil hooks are skipped.
type Hooks struct {
	PreTypeQuery    PreHook
	PreTypesQuery   PreHook
	PreSave         PreHook
	PreDelete       PreHook
	AfterTypeQuery  AfterHook
	AfterTypesQuery AfterHook
	AfterSave       AfterHook
	AfterDelete     AfterHook
}

// Pre returns the pre-hook of op or nil.
func (h Hooks) Pre(op veloql.Op) PreHook {
	switch {
	case op.Is(veloql.OpTypeQuery):
		return h.PreTypeQuery
	case op.Is(veloql.OpTypesQuery | veloql.OpStatsQuery):
		return h.PreTypesQuery
	case op.Is(veloql.OpSave):
		return h.PreSave
	case op.Is(veloql.OpDelete):
		return h.PreDelete
	}
	return nil
}

// After returns the after-hook of op or nil.
func (h Hooks) After(op veloql.Op) AfterHook {
	switch {
	case op.Is(veloql.OpTypeQuery):
		return h.AfterTypeQuery
	case op.Is(veloql.OpTypesQuery | veloql.OpStatsQuery):
		return h.AfterTypesQuery
	case op.Is(veloql.OpSave):
		return h.AfterSave
	case op.Is(veloql.OpDelete):
		return h.AfterDelete
	}
	return nil
}

// Toggle configures one standard operation of an entity.
type Toggle struct {
	// Disabled removes the operation from the API.
	Disabled bool
	// Resolve replaces the standard pipeline.
	Resolve ResolveFunc
}

// Operations holds the standard operation toggles of an entity.
type Operations struct {
	Create     Toggle
	Update     Toggle
	Delete     Toggle
	TypeQuery  Toggle
	TypesQuery Toggle
	StatsQuery Toggle
}

// For returns the toggle of op.
func (o Operations) For(op veloql.Op) Toggle {
	switch op {
	case veloql.OpCreate:
		return o.Create
	case veloql.OpUpdate:
		return o.Update
	case veloql.OpDelete:
		return o.Delete
	case veloql.OpTypeQuery:
		return o.TypeQuery
	case veloql.OpTypesQuery:
		return o.TypesQuery
	case veloql.OpStatsQuery:
		return o.StatsQuery
	}
	return Toggle{}
}

// Services is the explicit handle to an assembled runtime, passed to hooks,
// defaults, computed attributes and custom resolvers.
type Services interface {
	// Model returns the resolved model.
	Model() *Model
	// FindByID reads one item of the named entity through the permission
	// checked read path.
	FindByID(ctx context.Context, entity, id string) (veloql.Item, error)
	// FindByFilter reads the items of the named entity matching a filter
	// expression.
	FindByFilter(ctx context.Context, entity string, filter map[string]any) ([]veloql.Item, error)
	// Save creates or updates an item, returning violations instead of the
	// item when it is invalid.
	Save(ctx context.Context, entity string, input veloql.Item) (veloql.Item, []veloql.Violation, error)
	// Delete deletes an item, applying the delete policies.
	Delete(ctx context.Context, entity, id string) error
	// Publish sends a payload to the event bus.
	Publish(ctx context.Context, topic string, payload any) error
}
