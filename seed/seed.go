// Package seed loads the named sample records of a model into the
// datastore.
//
// Seeding runs in two phases. All seed instances are created first, in
// parallel and without their associations. Once every id exists the
// associations are wired, again in parallel, by translating seed names into
// ids. Records that are invalid afterwards are deleted and reported.
//
// A seed refers to other seeds by name under the association field:
//
//	car:
//	  seeds:
//	    golf:
//	      brand: VW
//	      driver: alice                       # assocTo
//	      garages: [north, south]             # assocToMany
//	      owner: {type: Company, seed: acme}  # polymorphic assocTo
package seed

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/accessor"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/scalar"
)

// Report is the outcome of a seeding run.
type Report struct {
	// IDs maps entity name to seed name to the id of the stored record.
	IDs map[string]map[string]string `json:"ids"`
	// Violations describe the seeds that were dropped.
	Violations []string `json:"violations"`
}

// Count returns the number of stored seed records.
func (r *Report) Count() int {
	n := 0
	for _, ids := range r.IDs {
		n += len(ids)
	}
	return n
}

type (
	// Seeder loads the seeds of every entity of a model.
	Seeder struct {
		m       *model.Model
		acc     *accessor.Accessor
		workers int
		log     *zap.Logger
	}

	// Option configures a seeder.
	Option func(*Seeder)
)

// WithWorkers limits the number of seeds processed concurrently.
func WithWorkers(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Seeder) {
		s.log = log
	}
}

// New returns a seeder writing through acc.
func New(acc *accessor.Accessor, opts ...Option) *Seeder {
	s := &Seeder{
		m:       acc.Model(),
		acc:     acc,
		workers: runtime.NumCPU(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// record is one stored seed.
type record struct {
	e    *model.Entity
	name string
	id   string
}

// state is the bookkeeping of one run.
type state struct {
	mu         sync.Mutex
	ids        map[string]map[string]string
	violations []string
}

func (st *state) set(e *model.Entity, name, id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.ids[e.Name] == nil {
		st.ids[e.Name] = map[string]string{}
	}
	st.ids[e.Name][name] = id
}

func (st *state) drop(e *model.Entity, name, msg string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.ids[e.Name], name)
	if len(st.ids[e.Name]) == 0 {
		delete(st.ids, e.Name)
	}
	st.violations = append(st.violations, msg)
}

func (st *state) id(e *model.Entity, name string) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.ids[e.Name][name]
}

// stored returns the records of seeds that are still stored, with their ids.
func (st *state) stored(seeds []record) []record {
	var out []record
	for _, r := range seeds {
		if id := st.id(r.e, r.name); id != "" {
			out = append(out, record{e: r.e, name: r.name, id: id})
		}
	}
	return out
}

// Seed stores the seeds of every concrete entity. With truncate set, every
// concrete entity is emptied first. An error means seeding itself broke
// down; invalid seeds are only reported.
func (s *Seeder) Seed(ctx context.Context, truncate bool) (*Report, error) {
	var entities []*model.Entity
	for _, e := range s.m.Entities {
		if !e.IsPolymorphic() {
			entities = append(entities, e)
		}
	}
	if truncate {
		for _, e := range entities {
			if err := s.acc.Truncate(ctx, e); err != nil {
				return nil, fmt.Errorf("seed: truncate %s: %w", e.Name, err)
			}
		}
	}
	st := &state{ids: map[string]map[string]string{}}
	var seeds []record
	for _, e := range entities {
		for _, name := range e.SeedNames() {
			seeds = append(seeds, record{e: e, name: name})
		}
	}

	if err := s.fanOut(ctx, seeds, func(ctx context.Context, r record) error {
		return s.create(ctx, st, r)
	}); err != nil {
		return nil, err
	}
	if err := s.fanOut(ctx, st.stored(seeds), func(ctx context.Context, r record) error {
		return s.wire(ctx, st, r)
	}); err != nil {
		return nil, err
	}
	if err := s.prune(ctx, st, seeds); err != nil {
		return nil, err
	}
	report := &Report{IDs: st.ids, Violations: st.violations}
	s.log.Info("seeding done", zap.Int("records", report.Count()), zap.Int("violations", len(report.Violations)))
	return report, nil
}

// fanOut runs fn for every record with bounded parallelism and waits for
// all of them.
func (s *Seeder) fanOut(ctx context.Context, records []record, fn func(context.Context, record) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for _, r := range records {
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fn(ctx, r)
			}
		})
	}
	return eg.Wait()
}

// create stores the seed without its associations. A seed whose values
// cannot be stored is reported and not created.
func (s *Seeder) create(ctx context.Context, st *state, r record) error {
	input := r.e.Seeds[r.name].Clone()
	for _, a := range associations(r.e) {
		delete(input, a.Field())
	}
	item, vs, err := s.acc.Create(ctx, r.e, input, accessor.SkipValidation())
	if err != nil {
		return fmt.Errorf("seed: create %s %s: %w", r.e.Name, r.name, err)
	}
	if len(vs) > 0 {
		s.log.Info("invalid seed skipped", zap.String("entity", r.e.Name), zap.String("seed", r.name), zap.String("violations", describe(vs)))
		st.drop(r.e, r.name, fmt.Sprintf("%s %s: %s", r.e.Name, r.name, describe(vs)))
		return nil
	}
	st.set(r.e, r.name, item.ID())
	return nil
}

// wire sets the foreign keys of the seed from the seed names it refers to.
// Unknown names are logged and left unset.
func (s *Seeder) wire(ctx context.Context, st *state, r record) error {
	seed := r.e.Seeds[r.name]
	update := veloql.Item{veloql.FieldID: r.id}
	for _, a := range associations(r.e) {
		v, ok := seed[a.Field()]
		if !ok || v == nil {
			continue
		}
		if a.Kind == model.AssocToMany {
			var ids []any
			for _, x := range scalar.AsList(v) {
				if target, id := s.lookup(st, a, x); id != "" && target != nil {
					ids = append(ids, id)
				} else {
					s.unresolved(r, a, x)
				}
			}
			update[a.ForeignKey()] = ids
			continue
		}
		target, id := s.lookup(st, a, v)
		if id == "" {
			s.unresolved(r, a, v)
			continue
		}
		update[a.ForeignKey()] = id
		if tf := a.TypeField(); tf != "" {
			update[tf] = target.TypeName
		}
	}
	if len(update) == 1 {
		return nil
	}
	if _, _, err := s.acc.Update(ctx, r.e, update, accessor.SkipValidation()); err != nil {
		return fmt.Errorf("seed: wire %s %s: %w", r.e.Name, r.name, err)
	}
	return nil
}

func (s *Seeder) unresolved(r record, a *model.Association, ref any) {
	s.log.Warn("unknown seed reference",
		zap.String("entity", r.e.Name),
		zap.String("seed", r.name),
		zap.String("field", a.Field()),
		zap.Any("ref", ref))
}

// lookup resolves a seed reference of assoc to the concrete target entity
// and the id of its record. A polymorphic reference is either a seed name,
// searched in member order, or a map naming the type and the seed.
func (s *Seeder) lookup(st *state, assoc *model.Association, ref any) (*model.Entity, string) {
	name, _ := ref.(string)
	members := []*model.Entity{assoc.Target}
	if assoc.Target.IsPolymorphic() {
		members = s.m.ConcreteMembers(assoc.Target)
	}
	if m, ok := ref.(map[string]any); ok {
		name, _ = m["seed"].(string)
		typ, _ := m["type"].(string)
		members = slices.DeleteFunc(slices.Clone(members), func(e *model.Entity) bool {
			return e.TypeName != typ && e.Name != typ
		})
	}
	if name == "" {
		return nil, ""
	}
	for _, e := range members {
		if id := st.id(e, name); id != "" {
			return e, id
		}
	}
	return nil, ""
}

// prune validates the stored seeds and deletes the invalid ones until only
// valid seeds remain. Deleting a seed can invalidate seeds referring to it.
func (s *Seeder) prune(ctx context.Context, st *state, seeds []record) error {
	for {
		dropped := 0
		for _, r := range st.stored(seeds) {
			item, err := s.acc.FindByID(ctx, r.e, r.id)
			if err != nil {
				return fmt.Errorf("seed: load %s %s: %w", r.e.Name, r.name, err)
			}
			if item == nil {
				st.drop(r.e, r.name, fmt.Sprintf("%s %s: not stored", r.e.Name, r.name))
				dropped++
				continue
			}
			vs, err := s.acc.Validate(ctx, r.e, item, veloql.OpCreate)
			if err != nil {
				return fmt.Errorf("seed: validate %s %s: %w", r.e.Name, r.name, err)
			}
			if len(vs) == 0 {
				continue
			}
			msg := fmt.Sprintf("%s %s: %s", r.e.Name, r.name, describe(vs))
			if _, err := s.acc.Delete(ctx, r.e, r.id); err != nil {
				s.log.Warn("removing invalid seed failed", zap.String("entity", r.e.Name), zap.String("seed", r.name), zap.Error(err))
				msg += fmt.Sprintf(" (not removed: %v)", err)
			}
			s.log.Info("invalid seed removed", zap.String("entity", r.e.Name), zap.String("seed", r.name), zap.String("violations", describe(vs)))
			st.drop(r.e, r.name, msg)
			dropped++
		}
		if dropped == 0 {
			return nil
		}
	}
}

func associations(e *model.Entity) []*model.Association {
	return slices.Concat(e.AssocTo, e.AssocToMany)
}

func describe(vs []veloql.Violation) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += "; "
		}
		if v.Attribute != "" {
			out += v.Attribute + " "
		}
		out += v.Message
	}
	return out
}
