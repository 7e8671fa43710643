package graphql

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
	ql "github.com/syssam/veloql/querylanguage"
	"github.com/syssam/veloql/resolver"
)

// Subscribe starts a subscription. Every event published on the topic of
// the selected field is resolved against the selection set and sent on the
// returned channel, which is closed once ctx is done. The viewer in ctx must
// be allowed to read the entity; events hidden by its permission filter are
// skipped.
func (s *Schema) Subscribe(ctx context.Context, req Request) (<-chan *Response, error) {
	ex, errs := s.prepare(req)
	if errs != nil {
		return nil, errs
	}
	if ex.op.Operation != ast.Subscription {
		return nil, gqlerror.Errorf("operation %s is not a subscription", ex.op.Operation)
	}
	root := s.schema.Subscription
	if root == nil || s.bus == nil {
		return nil, gqlerror.Errorf("subscriptions are not enabled")
	}
	fields := ex.collect(root, ex.op.SelectionSet)
	if len(fields) != 1 {
		return nil, gqlerror.Errorf("a subscription must select exactly one field")
	}
	c := fields[0]
	sub, ok := s.subs[c.fields[0].Name]
	if !ok {
		return nil, gqlerror.Errorf("unknown subscription %s", c.fields[0].Name)
	}
	if sub.op == nil && sub.entity != nil {
		if err := s.r.Permissions().EnsureTypesRead(ctx, sub.entity, veloql.OpTypesQuery); err != nil {
			return nil, err
		}
	}
	events, err := s.bus.Subscribe(ctx, sub.topic)
	if err != nil {
		return nil, err
	}
	out := make(chan *Response)
	go func() {
		defer close(out)
		for payload := range events {
			resp := s.event(ctx, ex, root, c, sub, payload)
			if resp == nil {
				continue
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// event resolves one published payload. It returns nil for events the
// subscriber does not receive.
func (s *Schema) event(ctx context.Context, ex *executor, root *ast.Definition, c *collected, sub subscription, payload any) *Response {
	ev := &executor{s: s, op: ex.op, vars: ex.vars}
	ctx = resolver.WithLoaders(ctx)
	f := c.fields[0]
	path := ast.Path{ast.PathName(c.key)}
	value := payload
	switch {
	case sub.op != nil && sub.op.Resolve != nil:
		res, err := sub.op.Resolve(ctx, &model.Request{
			Args:     f.ArgumentMap(ex.vars),
			Input:    sourceItem(payload),
			Services: s.services,
		})
		if err != nil {
			return &Response{Errors: gqlerror.List{toError(path, err)}}
		}
		if res == nil {
			return nil
		}
		value = res
	case sub.entity != nil && !sub.entity.IsPolymorphic():
		item := sourceItem(payload)
		pred, err := s.r.Permissions().AddPermissionToFilter(ctx, sub.entity, veloql.OpTypeQuery, item.ID())
		if err != nil || !ql.Match(pred, item) {
			s.log.Debug("event hidden from subscriber", zap.String("topic", sub.topic), zap.String("id", item.ID()))
			return nil
		}
		if value, err = s.r.Resolve(ctx, sub.entity, item); err != nil {
			return &Response{Errors: gqlerror.List{toError(path, err)}}
		}
	}
	def := root.Fields.ForName(f.Name)
	data := newObject(1)
	v, ok := ev.complete(ctx, def.Type, c, value, path)
	if !ok {
		data = nil
	} else {
		data.set(c.key, v)
	}
	return &Response{Data: data, Errors: ev.errs}
}
