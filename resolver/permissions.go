package resolver

import (
	"context"
	"sync"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/privacy"
	ql "github.com/syssam/veloql/querylanguage"
)

// Loader loads the stored item a permission rule inspects.
type Loader func(ctx context.Context, e *model.Entity, id string) (veloql.Item, error)

// Permissions evaluates the privacy policies of entities. Entities without
// a policy are unrestricted.
type Permissions struct {
	load Loader
}

// NewPermissions returns an evaluator loading rule targets with load.
func NewPermissions(load Loader) *Permissions {
	return &Permissions{load: load}
}

// EnsureTypeRead checks a single-item read of id.
func (p *Permissions) EnsureTypeRead(ctx context.Context, e *model.Entity, id string) error {
	if e.Permissions == nil {
		return nil
	}
	q := p.query(e, veloql.OpTypeQuery, id, nil)
	if err := e.Permissions.EvalQuery(ctx, q); err != nil {
		return veloql.NewAccessDeniedError(e.Name, veloql.OpTypeQuery, err)
	}
	return nil
}

// EnsureTypesRead checks a list read or stats read.
func (p *Permissions) EnsureTypesRead(ctx context.Context, e *model.Entity, op veloql.Op) error {
	if e.Permissions == nil {
		return nil
	}
	if err := e.Permissions.EvalQuery(ctx, p.query(e, op, "", nil)); err != nil {
		return veloql.NewAccessDeniedError(e.Name, op, err)
	}
	return nil
}

// EnsureSave checks a create or update with input.
func (p *Permissions) EnsureSave(ctx context.Context, e *model.Entity, op veloql.Op, input veloql.Item) error {
	if e.Permissions == nil {
		return nil
	}
	if err := e.Permissions.EvalMutation(ctx, p.query(e, op, input.ID(), input)); err != nil {
		return veloql.NewAccessDeniedError(e.Name, op, err)
	}
	return nil
}

// EnsureDelete checks the delete of id.
func (p *Permissions) EnsureDelete(ctx context.Context, e *model.Entity, id string) error {
	if e.Permissions == nil {
		return nil
	}
	if err := e.Permissions.EvalMutation(ctx, p.query(e, veloql.OpDelete, id, nil)); err != nil {
		return veloql.NewAccessDeniedError(e.Name, veloql.OpDelete, err)
	}
	return nil
}

// AddPermissionToFilter returns the predicate scoping a read of e to the
// items the viewer may see, nil when unrestricted.
func (p *Permissions) AddPermissionToFilter(ctx context.Context, e *model.Entity, op veloql.Op, id string) (ql.P, error) {
	if e.Permissions == nil || len(e.Permissions.Filter) == 0 {
		return nil, nil
	}
	pred, err := e.Permissions.Filter.Predicate(ctx, p.query(e, op, id, nil))
	if err != nil {
		return nil, veloql.NewAccessDeniedError(e.Name, op, err)
	}
	return pred, nil
}

func (p *Permissions) query(e *model.Entity, op veloql.Op, id string, input veloql.Item) *request {
	return &request{p: p, e: e, op: op, id: id, input: input}
}

// request implements privacy.Mutation. The target item is loaded once, on
// the first Field call.
type request struct {
	p     *Permissions
	e     *model.Entity
	op    veloql.Op
	id    string
	input veloql.Item

	once sync.Once
	item veloql.Item
}

func (r *request) Entity() string     { return r.e.Name }
func (r *request) Op() veloql.Op      { return r.op }
func (r *request) ID() string         { return r.id }
func (r *request) Input() veloql.Item { return r.input }

func (r *request) Field(ctx context.Context, name string) (any, bool) {
	if r.id == "" || r.p.load == nil {
		return nil, false
	}
	r.once.Do(func() {
		r.item, _ = r.p.load(ctx, r.e, r.id)
	})
	if r.item == nil {
		return nil, false
	}
	v, ok := r.item[name]
	return v, ok
}

var _ privacy.Mutation = (*request)(nil)
