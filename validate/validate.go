// Package validate checks items against their entity definition before they
// are saved. Problems are reported as violations, never as errors; an error
// means validation itself could not run.
package validate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/scalar"
)

// Violation messages.
const (
	MsgBlank    = "can't be blank"
	MsgTaken    = "has already been taken"
	MsgNotFound = "references a missing record"
	MsgNotList  = "must be a list"
	MsgIsList   = "must not be a list"
	MsgNoType   = "misses the type of the referenced record"
)

// Validator validates an item of an entity for an operation.
type Validator interface {
	Validate(ctx context.Context, e *model.Entity, item veloql.Item, op veloql.Op) ([]veloql.Violation, error)
}

// Store is the read access needed for uniqueness and reference checks.
// Polymorphic entities are never passed.
type Store interface {
	FindByID(ctx context.Context, e *model.Entity, id string) (veloql.Item, error)
	FindByAttribute(ctx context.Context, e *model.Entity, attr string, value any) ([]veloql.Item, error)
}

type (
	// Default is the default validator. It checks required values, enum
	// membership, list shape, uniqueness, assocTo targets, validator tag
	// rules and finally the entity's own validate function.
	Default struct {
		m        *model.Model
		store    Store
		services model.Services
		tags     *validator.Validate
		log      *zap.Logger
	}

	// Option configures the default validator.
	Option func(*Default)
)

// WithServices sets the services handed to entity validate functions.
func WithServices(s model.Services) Option {
	return func(d *Default) {
		d.services = s
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Default) {
		d.log = log
	}
}

// WithTagValidator replaces the validator used for attribute rules, e.g.
// to register custom tags.
func WithTagValidator(v *validator.Validate) Option {
	return func(d *Default) {
		d.tags = v
	}
}

// New returns the default validator.
func New(m *model.Model, store Store, opts ...Option) *Default {
	d := &Default{
		m:     m,
		store: store,
		tags:  validator.New(validator.WithRequiredStructEnabled()),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate implements Validator. Item is the complete record to be stored:
// for updates it is already merged onto the stored record.
func (d *Default) Validate(ctx context.Context, e *model.Entity, item veloql.Item, op veloql.Op) ([]veloql.Violation, error) {
	var vs []veloql.Violation
	add := func(attr, format string, args ...any) {
		vs = append(vs, veloql.Violation{Attribute: attr, Message: fmt.Sprintf(format, args...)})
	}
	for _, a := range e.Attributes {
		if a.Virtual {
			continue
		}
		v := item[a.Name]
		if blank(v) {
			if a.Required {
				add(a.Name, MsgBlank)
			}
			continue
		}
		if msg := shape(a, v); msg != "" {
			add(a.Name, msg)
			continue
		}
		if en := d.m.Enum(a.Type); en != nil {
			for _, x := range scalar.AsList(v) {
				if s, _ := x.(string); !en.Has(s) {
					add(a.Name, "must be one of %s", strings.Join(en.Values, ", "))
					break
				}
			}
		}
		if a.Validation != "" {
			if msg := d.rules(ctx, a, v); msg != "" {
				add(a.Name, "%s", msg)
			}
		}
		if a.Unique && op.Is(veloql.OpSave) {
			taken, err := d.taken(ctx, e, a, item)
			if err != nil {
				return nil, err
			}
			if taken {
				add(a.Name, MsgTaken)
			}
		}
	}
	refs, err := d.references(ctx, e, item)
	if err != nil {
		return nil, err
	}
	vs = append(vs, refs...)
	if e.Validate != nil {
		more, err := e.Validate(ctx, item, op, d.services)
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", e.Name, err)
		}
		vs = append(vs, more...)
	}
	return vs, nil
}

// blank reports a missing required value. An empty list is a value.
func blank(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

func shape(a *model.Attribute, v any) string {
	_, list := v.([]any)
	switch {
	case a.List && !list:
		return MsgNotList
	case !a.List && list && a.Type != scalar.JSON:
		return MsgIsList
	}
	return ""
}

// rules applies the validator tag rules of a to the value, element-wise
// for lists.
func (d *Default) rules(ctx context.Context, a *model.Attribute, v any) string {
	for _, x := range scalar.AsList(v) {
		err := d.tags.VarCtx(ctx, x, a.Validation)
		if err == nil {
			continue
		}
		var fes validator.ValidationErrors
		if errors.As(err, &fes) && len(fes) > 0 {
			fe := fes[0]
			if fe.Param() != "" {
				return fmt.Sprintf("failed on the %s=%s rule", fe.Tag(), fe.Param())
			}
			return fmt.Sprintf("failed on the %s rule", fe.Tag())
		}
		d.log.Warn("invalid validation rule ignored", zap.String("attribute", a.Name), zap.String("rule", a.Validation), zap.Error(err))
		return ""
	}
	return ""
}

// taken reports whether another record holds the value of a, within the
// records sharing the scope attribute when a scope is set.
func (d *Default) taken(ctx context.Context, e *model.Entity, a *model.Attribute, item veloql.Item) (bool, error) {
	others, err := d.store.FindByAttribute(ctx, e, a.Name, item[a.Name])
	if err != nil {
		return false, fmt.Errorf("validate %s.%s: %w", e.Name, a.Name, err)
	}
	for _, o := range others {
		if o.ID() == item.ID() && item.ID() != "" {
			continue
		}
		if a.UniqueScope != "" && !scalarEqual(o[a.UniqueScope], item[a.UniqueScope]) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func scalarEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// references checks required assocTo keys and that referenced records
// exist.
func (d *Default) references(ctx context.Context, e *model.Entity, item veloql.Item) ([]veloql.Violation, error) {
	var vs []veloql.Violation
	for _, a := range e.AssocTo {
		key := a.ForeignKey()
		id, _ := item[key].(string)
		if id == "" {
			if a.Required {
				vs = append(vs, veloql.Violation{Attribute: key, Message: MsgBlank})
			}
			continue
		}
		target := a.Target
		if a.Polymorphic() {
			target = d.member(a, item)
			if target == nil {
				vs = append(vs, veloql.Violation{Attribute: a.TypeField(), Message: MsgNoType})
				continue
			}
		}
		ok, err := d.exists(ctx, target, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			vs = append(vs, veloql.Violation{Attribute: key, Message: MsgNotFound})
		}
	}
	for _, a := range e.AssocToMany {
		key := a.ForeignKey()
		for _, x := range scalar.AsList(item[key]) {
			id, _ := x.(string)
			ok, err := d.existsAny(ctx, a.Target, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				vs = append(vs, veloql.Violation{Attribute: key, Message: MsgNotFound})
				break
			}
		}
	}
	return vs, nil
}

// member returns the concrete entity named by the discriminator of a
// polymorphic assocTo.
func (d *Default) member(a *model.Association, item veloql.Item) *model.Entity {
	name, _ := item[a.TypeField()].(string)
	if name == "" {
		return nil
	}
	e := d.m.Entity(name)
	if e == nil || !slices.Contains(d.m.ConcreteMembers(a.Target), e) {
		return nil
	}
	return e
}

func (d *Default) exists(ctx context.Context, e *model.Entity, id string) (bool, error) {
	item, err := d.store.FindByID(ctx, e, id)
	if err != nil {
		return false, fmt.Errorf("validate reference %s %s: %w", e.Name, id, err)
	}
	return item != nil, nil
}

func (d *Default) existsAny(ctx context.Context, target *model.Entity, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	for _, e := range d.m.ConcreteMembers(target) {
		ok, err := d.exists(ctx, e, id)
		if ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

var _ Validator = (*Default)(nil)
