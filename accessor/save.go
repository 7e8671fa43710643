package accessor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/scalar"
)

// SaveOption configures a single save.
type SaveOption func(*saveOptions)

type saveOptions struct {
	skipValidation bool
}

// SkipValidation stores the item without running the validator.
func SkipValidation() SaveOption {
	return func(o *saveOptions) {
		o.skipValidation = true
	}
}

// Typed keys accepted as discriminator of a polymorphic reference object.
var discriminators = []string{"type", veloql.FieldTypename}

// Save creates the item when the input has no id and updates it
// otherwise. An invalid item is not stored; its violations are returned
// instead.
func (a *Accessor) Save(ctx context.Context, e *model.Entity, input veloql.Item, opts ...SaveOption) (veloql.Item, []veloql.Violation, error) {
	if input.ID() == "" {
		return a.Create(ctx, e, input, opts...)
	}
	return a.Update(ctx, e, input, opts...)
}

// Create stores a new item of e. Inline objects of assocTo associations
// allowing input are created first and referenced by id; they are removed
// again when the item itself turns out invalid.
func (a *Accessor) Create(ctx context.Context, e *model.Entity, input veloql.Item, opts ...SaveOption) (veloql.Item, []veloql.Violation, error) {
	if e.IsPolymorphic() {
		return nil, nil, veloql.NewMutationError(e.Name, "create", veloql.ErrOperationDisabled)
	}
	o := options(opts)
	item := input.Clone()
	if err := a.defaults(ctx, e, item); err != nil {
		return nil, nil, err
	}
	nested, vs, err := a.inline(ctx, e, item, opts)
	if err != nil || len(vs) > 0 {
		a.rollback(ctx, nested)
		return nil, vs, err
	}
	if err := a.normalize(ctx, e, item); err != nil {
		a.rollback(ctx, nested)
		return nil, nil, err
	}
	now := scalar.FormatDateTime(a.now())
	if !item.Has(veloql.FieldCreatedAt) {
		item[veloql.FieldCreatedAt] = now
	}
	item[veloql.FieldUpdatedAt] = now
	item, vs = a.sanitize(e, item)
	if len(vs) == 0 && !o.skipValidation {
		if vs, err = a.validator.Validate(ctx, e, item, veloql.OpCreate); err != nil {
			a.rollback(ctx, nested)
			return nil, nil, err
		}
	}
	if len(vs) > 0 {
		a.rollback(ctx, nested)
		return nil, vs, nil
	}
	saved, err := a.store.Create(ctx, e, item)
	if err != nil {
		a.rollback(ctx, nested)
		return nil, nil, veloql.NewMutationError(e.Name, "create", err)
	}
	a.invalidate(ctx, e)
	a.publish(ctx, e, e.CreateTopic(), saved)
	return saved, nil, nil
}

// Update merges the input onto the stored item of e and stores the
// result. The original createdAt is kept. Key attributes cannot change.
func (a *Accessor) Update(ctx context.Context, e *model.Entity, input veloql.Item, opts ...SaveOption) (veloql.Item, []veloql.Violation, error) {
	if e.IsPolymorphic() {
		return nil, nil, veloql.NewMutationError(e.Name, "update", veloql.ErrOperationDisabled)
	}
	o := options(opts)
	id := input.ID()
	stored, err := a.store.FindByID(ctx, e, id)
	if err != nil {
		return nil, nil, veloql.NewMutationError(e.Name, "update", err)
	}
	if stored == nil {
		return nil, nil, veloql.NewNotFoundErrorWithID(e.Name, id)
	}
	var vs []veloql.Violation
	for _, attr := range e.Attributes {
		if v, ok := input[attr.Name]; ok && attr.Key && fmt.Sprint(v) != fmt.Sprint(stored[attr.Name]) {
			vs = append(vs, veloql.Violation{Attribute: attr.Name, Message: "can't be changed"})
		}
	}
	if len(vs) > 0 {
		return nil, vs, nil
	}
	item := stored.Clone()
	for k, v := range input {
		if k == veloql.FieldCreatedAt {
			continue
		}
		item[k] = v
	}
	if err := a.normalize(ctx, e, item); err != nil {
		return nil, nil, err
	}
	item[veloql.FieldUpdatedAt] = scalar.FormatDateTime(a.now())
	item, vs = a.sanitize(e, item)
	if len(vs) == 0 && !o.skipValidation {
		if vs, err = a.validator.Validate(ctx, e, item, veloql.OpUpdate); err != nil {
			return nil, nil, err
		}
	}
	if len(vs) > 0 {
		return nil, vs, nil
	}
	saved, err := a.store.Update(ctx, e, item)
	if err != nil {
		return nil, nil, veloql.NewMutationError(e.Name, "update", err)
	}
	a.invalidate(ctx, e)
	a.publish(ctx, e, e.UpdateTopic(), saved)
	return saved, nil, nil
}

func options(opts []SaveOption) saveOptions {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// defaults sets the default value of every attribute absent from item.
func (a *Accessor) defaults(ctx context.Context, e *model.Entity, item veloql.Item) error {
	for _, attr := range e.Attributes {
		if !attr.HasDefault() || !attr.Persisted() || item.Has(attr.Name) {
			continue
		}
		if attr.DefaultFunc == nil {
			item[attr.Name] = attr.Default
			continue
		}
		v, err := attr.DefaultFunc(ctx, item, a.services)
		if err != nil {
			return veloql.NewMutationError(e.Name, "default "+attr.Name, err)
		}
		item[attr.Name] = v
	}
	return nil
}

type createdRef struct {
	e  *model.Entity
	id string
}

// inline creates the inline objects given for assocTo associations with
// input enabled and replaces them by their ids.
func (a *Accessor) inline(ctx context.Context, e *model.Entity, item veloql.Item, opts []SaveOption) ([]createdRef, []veloql.Violation, error) {
	var done []createdRef
	for _, assoc := range e.AssocTo {
		field := assoc.Field()
		nested, ok := item[field].(map[string]any)
		if !ok || !assoc.Input || assoc.Polymorphic() {
			continue
		}
		if item.Has(assoc.ForeignKey()) {
			return done, nil, veloql.NewInputError(e.Name, field, "either %s or %s can be given, not both", assoc.ForeignKey(), field)
		}
		saved, vs, err := a.Create(ctx, assoc.Target, veloql.Item(nested), opts...)
		if err != nil {
			return done, nil, err
		}
		if len(vs) > 0 {
			for i := range vs {
				vs[i].Attribute = prefixed(field, vs[i].Attribute)
			}
			return done, vs, nil
		}
		done = append(done, createdRef{e: assoc.Target, id: saved.ID()})
		delete(item, field)
		item[assoc.ForeignKey()] = saved.ID()
	}
	return done, nil, nil
}

func prefixed(field, attr string) string {
	if attr == "" {
		return field
	}
	return field + "." + attr
}

func (a *Accessor) rollback(ctx context.Context, done []createdRef) {
	for _, c := range slices.Backward(done) {
		if _, err := a.store.Delete(ctx, c.e, c.id); err != nil {
			a.log.Warn("rollback of inline create failed", zap.String("entity", c.e.Name), zap.String("id", c.id), zap.Error(err))
			continue
		}
		a.invalidate(ctx, c.e)
	}
}

// normalize turns polymorphic references given as objects into the
// foreign key and discriminator fields, and infers a missing
// discriminator from the concrete member holding the referenced id.
func (a *Accessor) normalize(ctx context.Context, e *model.Entity, item veloql.Item) error {
	for _, assoc := range e.AssocTo {
		if !assoc.Polymorphic() {
			continue
		}
		key, tf := assoc.ForeignKey(), assoc.TypeField()
		for _, field := range []string{key, assoc.Field()} {
			obj, ok := item[field].(map[string]any)
			if !ok {
				continue
			}
			id, _ := obj[veloql.FieldID].(string)
			typ := discriminator(obj)
			if id == "" || typ == "" {
				return veloql.NewInputError(e.Name, field, "ambiguous reference: an object needs %s and one of %v", veloql.FieldID, discriminators)
			}
			if field != key {
				delete(item, field)
			}
			item[key], item[tf] = id, typ
		}
		id, _ := item[key].(string)
		if id == "" || item.Has(tf) {
			continue
		}
		var found []string
		for _, member := range a.m.ConcreteMembers(assoc.Target) {
			it, err := a.findByID(ctx, member, id)
			if err != nil {
				return err
			}
			if it != nil {
				found = append(found, member.TypeName)
			}
		}
		if len(found) > 1 {
			return veloql.NewInputError(e.Name, key, "ambiguous reference: id %s exists in %v", id, found)
		}
		if len(found) == 1 {
			item[tf] = found[0]
		}
	}
	return nil
}

func discriminator(obj map[string]any) string {
	for _, k := range discriminators {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// sanitize keeps the stored fields of the item and coerces every value to
// the canonical form of its type, element-wise for lists. Values of the
// wrong shape are kept as they are for the validator to report. Coercion
// failures are violations.
func (a *Accessor) sanitize(e *model.Entity, item veloql.Item) (veloql.Item, []veloql.Violation) {
	out := make(veloql.Item, len(item))
	var vs []veloql.Violation
	keep := func(k, kind string, list bool) {
		v, ok := item[k]
		if !ok {
			return
		}
		_, isList := v.([]any)
		var err error
		switch {
		case v == nil:
		case list && isList:
			v, err = scalar.CoerceList(kind, v)
		case list != isList && kind != scalar.JSON:
		default:
			v, err = scalar.Coerce(kind, v)
		}
		if err != nil {
			vs = append(vs, veloql.Violation{Attribute: k, Message: message(err)})
			return
		}
		out[k] = v
	}
	if id := item.ID(); id != "" {
		out[veloql.FieldID] = id
	}
	keep(veloql.FieldCreatedAt, scalar.DateTime, false)
	keep(veloql.FieldUpdatedAt, scalar.DateTime, false)
	for _, attr := range e.Attributes {
		if attr.Persisted() {
			keep(attr.Name, attr.Type, attr.List)
		}
	}
	for _, assoc := range e.AssocTo {
		keep(assoc.ForeignKey(), scalar.ID, false)
		if tf := assoc.TypeField(); tf != "" {
			keep(tf, scalar.String, false)
		}
	}
	for _, assoc := range e.AssocToMany {
		keep(assoc.ForeignKey(), scalar.ID, true)
	}
	for k := range item {
		if _, ok := out[k]; !ok && k != veloql.FieldTypename {
			a.log.Debug("unknown input field dropped", zap.String("entity", e.Name), zap.String("field", k))
		}
	}
	return out, vs
}

func message(err error) string {
	if errors.Is(err, scalar.ErrInvalid) {
		return strings.TrimPrefix(err.Error(), scalar.ErrInvalid.Error()+": ")
	}
	return "is invalid"
}
