package accessor

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
)

// ErrDeletePrevented is returned when a prevent policy blocks a delete.
var ErrDeletePrevented = errors.New("veloql: delete prevented")

// PreventedError reports the references blocking a delete.
type PreventedError struct {
	Entity string
	ID     string
	// Refs counts the blocking records per referencing entity.
	Refs map[string]int
}

// Error implements the error interface.
func (e *PreventedError) Error() string {
	names := make([]string, 0, len(e.Refs))
	for name := range e.Refs {
		names = append(names, name)
	}
	slices.Sort(names)
	msg := fmt.Sprintf("veloql: %s %s is referenced by", e.Entity, e.ID)
	for i, name := range names {
		if i > 0 {
			msg += ","
		}
		msg += fmt.Sprintf(" %d %s", e.Refs[name], name)
	}
	return msg
}

// Is reports whether target is ErrDeletePrevented.
func (e *PreventedError) Is(target error) bool {
	return target == ErrDeletePrevented
}

// Delete removes the item id of e after applying the delete policies of
// its assocFrom associations. The whole cascade is planned first: a prevent
// policy anywhere in it blocks the delete before anything is changed. Then
// referencing records are nullified or deleted in turn.
func (a *Accessor) Delete(ctx context.Context, e *model.Entity, id string) (veloql.Item, error) {
	if e.IsPolymorphic() {
		return nil, veloql.NewMutationError(e.Name, "delete", veloql.ErrOperationDisabled)
	}
	prevented := map[string]int{}
	d, err := a.plan(ctx, e, id, map[string]bool{}, prevented)
	if err != nil {
		return nil, err
	}
	if len(prevented) > 0 {
		return nil, &PreventedError{Entity: e.Name, ID: id, Refs: prevented}
	}
	if err := a.apply(ctx, d); err != nil {
		return nil, err
	}
	return d.item, nil
}

// deletion is one planned delete with the work on its referencing records.
type deletion struct {
	e       *model.Entity
	item    veloql.Item
	nullify []nullification
	cascade []*deletion
}

type nullification struct {
	ref  model.Reference
	item veloql.Item
}

// plan walks the cascade closure of the item id of e. Prevent hits are
// counted into prevented per referencing entity.
func (a *Accessor) plan(ctx context.Context, e *model.Entity, id string, visited map[string]bool, prevented map[string]int) (*deletion, error) {
	visited[e.Name+"/"+id] = true
	item, err := a.store.FindByID(ctx, e, id)
	if err != nil {
		return nil, veloql.NewMutationError(e.Name, "delete", err)
	}
	if item == nil {
		return nil, veloql.NewNotFoundErrorWithID(e.Name, id)
	}
	d := &deletion{e: e, item: item}
	for _, assoc := range e.AssocFrom {
		if assoc.Delete == model.DeleteNone {
			continue
		}
		for _, ref := range a.m.Inbound(e, assoc) {
			items, err := a.Referencing(ctx, e, ref, id)
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				switch assoc.Delete {
				case model.DeletePrevent:
					prevented[ref.Owner.Plural]++
				case model.DeleteNullify:
					d.nullify = append(d.nullify, nullification{ref: ref, item: it})
				case model.DeleteCascade:
					if visited[ref.Owner.Name+"/"+it.ID()] {
						continue
					}
					child, err := a.plan(ctx, ref.Owner, it.ID(), visited, prevented)
					if veloql.IsNotFound(err) {
						continue
					}
					if err != nil {
						return nil, err
					}
					d.cascade = append(d.cascade, child)
				}
			}
		}
	}
	return d, nil
}

// apply runs a planned deletion depth first.
func (a *Accessor) apply(ctx context.Context, d *deletion) error {
	id := d.item.ID()
	for _, n := range d.nullify {
		if err := a.nullify(ctx, n.ref, n.item, id); err != nil {
			return err
		}
	}
	for _, child := range d.cascade {
		if err := a.apply(ctx, child); err != nil && !veloql.IsNotFound(err) {
			return err
		}
	}
	ok, err := a.store.Delete(ctx, d.e, id)
	if err != nil {
		return veloql.NewMutationError(d.e.Name, "delete", err)
	}
	if !ok {
		return veloql.NewNotFoundErrorWithID(d.e.Name, id)
	}
	a.invalidate(ctx, d.e)
	a.publish(ctx, d.e, d.e.DeleteTopic(), d.item)
	return nil
}

// nullify removes id from the reference ref of the referencing item. The
// item is stored without validation.
func (a *Accessor) nullify(ctx context.Context, ref model.Reference, item veloql.Item, id string) error {
	key := ref.Assoc.ForeignKey()
	out := item.Clone()
	if ref.Assoc.Kind == model.AssocTo {
		out[key] = nil
		if tf := ref.Assoc.TypeField(); tf != "" {
			out[tf] = nil
		}
	} else {
		kept := make([]any, 0)
		for _, x := range ids(item[key]) {
			if x != id {
				kept = append(kept, x)
			}
		}
		out[key] = kept
	}
	if _, err := a.store.Update(ctx, ref.Owner, out); err != nil {
		return veloql.NewMutationError(ref.Owner.Name, "nullify", err)
	}
	a.log.Debug("reference nullified",
		zap.String("entity", ref.Owner.Name),
		zap.String("id", item.ID()),
		zap.String("field", key))
	a.invalidate(ctx, ref.Owner)
	return nil
}
