package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/resolver"
)

var _ model.Services = (*Runtime)(nil)

// Model implements model.Services.
func (rt *Runtime) Model() *model.Model { return rt.m }

func (rt *Runtime) entity(name string) (*model.Entity, error) {
	e := rt.m.Entity(name)
	if e == nil {
		return nil, fmt.Errorf("engine: unknown entity %q", name)
	}
	return e, nil
}

// FindByID implements model.Services. A missing or hidden item is nil.
func (rt *Runtime) FindByID(ctx context.Context, entity, id string) (veloql.Item, error) {
	e, err := rt.entity(entity)
	if err != nil {
		return nil, err
	}
	return rt.r.Type(ctx, e, id)
}

// FindByFilter implements model.Services.
func (rt *Runtime) FindByFilter(ctx context.Context, entity string, filter map[string]any) ([]veloql.Item, error) {
	e, err := rt.entity(entity)
	if err != nil {
		return nil, err
	}
	return rt.r.Types(ctx, e, resolver.ListArgs{Filter: filter})
}

// Save implements model.Services.
func (rt *Runtime) Save(ctx context.Context, entity string, input veloql.Item) (veloql.Item, []veloql.Violation, error) {
	e, err := rt.entity(entity)
	if err != nil {
		return nil, nil, err
	}
	res, err := rt.r.Save(ctx, e, input)
	if err != nil {
		return nil, nil, err
	}
	return res.Item, res.Violations, nil
}

// Delete implements model.Services. The messages of a refused delete are
// joined into the returned error; an access denial is returned as is.
func (rt *Runtime) Delete(ctx context.Context, entity, id string) error {
	e, err := rt.entity(entity)
	if err != nil {
		return err
	}
	msgs, err := rt.r.Delete(ctx, e, id)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	errs := make([]error, len(msgs))
	for i, msg := range msgs {
		errs[i] = errors.New(msg)
	}
	return veloql.NewMutationError(e.Name, "delete", veloql.NewAggregateError(errs...))
}

// Publish implements model.Services.
func (rt *Runtime) Publish(ctx context.Context, topic string, payload any) error {
	if rt.bus == nil {
		return errors.New("engine: no event bus")
	}
	return rt.bus.Publish(ctx, topic, payload)
}

// Close closes the event bus and the datastore when they hold resources.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.bus != nil {
		errs = append(errs, rt.bus.Close())
	}
	if c, ok := rt.store.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
