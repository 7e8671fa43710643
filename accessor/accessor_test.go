package accessor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/accessor"
	"github.com/syssam/veloql/cache"
	"github.com/syssam/veloql/datastore"
	"github.com/syssam/veloql/datastore/memory"
	"github.com/syssam/veloql/filter"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/pubsub"
)

type fixture struct {
	m       *model.Model
	store   *memory.Store
	bus     *pubsub.Memory
	cache   *cache.Memory
	now     time.Time
	a       *accessor.Accessor
	driver  *model.Entity
	garage  *model.Entity
	car     *model.Entity
	bike    *model.Entity
	vehicle *model.Entity
	ticket  *model.Entity
	dealer  *model.Entity
	offer   *model.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		m:     model.New(),
		store: memory.New(),
		bus:   pubsub.NewMemory(),
		cache: cache.NewMemory(),
		now:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	f.driver = model.NewEntity("driver")
	f.driver.Attributes = []*model.Attribute{{Name: "name", Type: "String", Required: true, FilterType: filter.StringFilter}}
	f.garage = model.NewEntity("garage")
	f.car = model.NewEntity("car")
	f.car.Subscriptions = true
	f.car.Attributes = []*model.Attribute{
		{Name: "licence", Type: "String", Required: true, Unique: true, Key: true, FilterType: filter.StringFilter},
		{Name: "brand", Type: "String", Default: "VW"},
		{Name: "mileage", Type: "Int"},
		{Name: "built", Type: "Date"},
		{Name: "label", Type: "String", Virtual: true},
	}
	f.car.AssocTo = []*model.Association{{Kind: model.AssocTo, Target: f.driver, Input: true}}
	f.car.AssocToMany = []*model.Association{{Kind: model.AssocToMany, Target: f.garage}}
	f.driver.AssocFrom = []*model.Association{{Kind: model.AssocFrom, Target: f.car, Delete: model.DeletePrevent}}
	f.garage.AssocFrom = []*model.Association{{Kind: model.AssocFrom, Target: f.car, Delete: model.DeleteNullify}}
	f.bike = model.NewEntity("bike")
	f.bike.Attributes = []*model.Attribute{{Name: "licence", Type: "String", FilterType: filter.StringFilter}}
	f.vehicle = model.NewEntity("vehicle")
	f.vehicle.Union = []string{"car", "bike"}
	f.ticket = model.NewEntity("ticket")
	f.ticket.AssocTo = []*model.Association{{Kind: model.AssocTo, Target: f.vehicle}}
	f.dealer = model.NewEntity("dealer")
	f.offer = model.NewEntity("offer")
	f.offer.AssocTo = []*model.Association{{Kind: model.AssocTo, Target: f.dealer}}
	f.dealer.AssocFrom = []*model.Association{{Kind: model.AssocFrom, Target: f.offer, Delete: model.DeleteCascade}}
	for _, e := range []*model.Entity{f.driver, f.garage, f.car, f.bike, f.vehicle, f.ticket, f.dealer, f.offer} {
		require.NoError(t, f.m.AddEntity(e))
	}
	f.a = accessor.New(f.m, f.store,
		accessor.WithBus(f.bus),
		accessor.WithCache(f.cache, time.Minute),
		accessor.WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) save(t *testing.T, e *model.Entity, input veloql.Item) veloql.Item {
	t.Helper()
	item, vs, err := f.a.Save(context.Background(), e, input)
	require.NoError(t, err)
	require.Empty(t, vs)
	return item
}

func TestCreate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	car := f.save(t, f.car, veloql.Item{
		"licence": "HH-1",
		"mileage": "42",
		"built":   "2020-05-06T10:00:00Z",
		"label":   "ignored",
		"unknown": true,
	})
	assert.NotEmpty(t, car.ID())
	assert.Equal(t, "VW", car["brand"])
	assert.Equal(t, 42, car["mileage"])
	assert.Equal(t, "2020-05-06", car["built"])
	assert.Equal(t, "2024-01-02T03:04:05.000Z", car[veloql.FieldCreatedAt])
	assert.Equal(t, car[veloql.FieldCreatedAt], car[veloql.FieldUpdatedAt])
	assert.NotContains(t, car, "label")
	assert.NotContains(t, car, "unknown")

	stored, err := f.a.FindByID(context.Background(), f.car, car.ID())
	require.NoError(t, err)
	assert.Equal(t, car, stored)
}

func TestCreateViolations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	item, vs, err := f.a.Save(ctx, f.car, veloql.Item{"mileage": "many"})
	require.NoError(t, err)
	assert.Nil(t, item)
	require.Len(t, vs, 1)
	assert.Equal(t, "mileage", vs[0].Attribute)

	item, vs, err = f.a.Save(ctx, f.car, veloql.Item{"brand": "BMW"})
	require.NoError(t, err)
	assert.Nil(t, item)
	require.NotEmpty(t, vs)
	n, err := f.a.Count(ctx, f.car, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is persisted")
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	car := f.save(t, f.car, veloql.Item{"licence": "HH-1", "mileage": 10})
	f.now = f.now.Add(time.Hour)

	updated := f.save(t, f.car, veloql.Item{"id": car.ID(), "mileage": 20, veloql.FieldCreatedAt: "2000-01-01T00:00:00.000Z"})
	assert.Equal(t, "HH-1", updated["licence"], "partial update keeps stored values")
	assert.Equal(t, 20, updated["mileage"])
	assert.Equal(t, car[veloql.FieldCreatedAt], updated[veloql.FieldCreatedAt])
	assert.Equal(t, "2024-01-02T04:04:05.000Z", updated[veloql.FieldUpdatedAt])

	_, vs, err := f.a.Save(ctx, f.car, veloql.Item{"id": car.ID(), "licence": "HH-2"})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, veloql.Violation{Attribute: "licence", Message: "can't be changed"}, vs[0])

	_, _, err = f.a.Save(ctx, f.car, veloql.Item{"id": "missing"})
	assert.True(t, veloql.IsNotFound(err))
}

func TestCreateInline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	car := f.save(t, f.car, veloql.Item{"licence": "HH-1", "driver": map[string]any{"name": "Ann"}})
	require.NotEmpty(t, car["driverId"])
	d, err := f.a.FindByID(ctx, f.driver, car["driverId"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Ann", d["name"])

	_, vs, err := f.a.Save(ctx, f.car, veloql.Item{"licence": "HH-2", "driver": map[string]any{}})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "driver.name", vs[0].Attribute)

	_, vs, err = f.a.Save(ctx, f.car, veloql.Item{"licence": "HH-1", "driver": map[string]any{"name": "Bob"}})
	require.NoError(t, err)
	require.NotEmpty(t, vs)
	drivers, err := f.a.FindByFilter(ctx, f.driver, accessor.Query{})
	require.NoError(t, err)
	assert.Len(t, drivers, 1, "inline create is rolled back")

	_, _, err = f.a.Save(ctx, f.car, veloql.Item{"licence": "HH-3", "driverId": d.ID(), "driver": map[string]any{"name": "Cid"}})
	assert.ErrorIs(t, err, veloql.ErrInvalidInput)
}

func TestPolymorphic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	car := f.save(t, f.car, veloql.Item{"licence": "B"})
	bike := f.save(t, f.bike, veloql.Item{"licence": "A"})
	f.save(t, f.car, veloql.Item{"licence": "C"})

	t.Run("write", func(t *testing.T) {
		_, _, err := f.a.Save(ctx, f.vehicle, veloql.Item{})
		assert.True(t, veloql.IsMutationError(err))
		assert.ErrorIs(t, err, veloql.ErrOperationDisabled)
	})

	t.Run("find_by_id", func(t *testing.T) {
		item, err := f.a.FindByID(ctx, f.vehicle, bike.ID())
		require.NoError(t, err)
		assert.Equal(t, "Bike", item[veloql.FieldTypename])
		item, err = f.a.FindByID(ctx, f.vehicle, "missing")
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("find_by_filter", func(t *testing.T) {
		items, err := f.a.FindByFilter(ctx, f.vehicle, accessor.Query{
			Sort:   []datastore.Sort{{Field: "licence", Desc: true}},
			Paging: datastore.Paging{Page: 0, Size: 2},
		})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "C", items[0]["licence"])
		assert.Equal(t, "B", items[1]["licence"])
		assert.Equal(t, "Car", items[1][veloql.FieldTypename])

		n, err := f.a.Count(ctx, f.vehicle, map[string]any{"licence": map[string]any{"isIn": []any{"A", "B"}}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("normalize_object", func(t *testing.T) {
		ticket := f.save(t, f.ticket, veloql.Item{"vehicle": map[string]any{"id": car.ID(), "__typename": "Car"}})
		assert.Equal(t, car.ID(), ticket["vehicleId"])
		assert.Equal(t, "Car", ticket["vehicleType"])
		assert.NotContains(t, ticket, "vehicle")
	})

	t.Run("infer_type", func(t *testing.T) {
		ticket := f.save(t, f.ticket, veloql.Item{"vehicleId": bike.ID()})
		assert.Equal(t, "Bike", ticket["vehicleType"])
	})

	t.Run("ambiguous_object", func(t *testing.T) {
		_, _, err := f.a.Save(ctx, f.ticket, veloql.Item{"vehicleId": map[string]any{"id": car.ID()}})
		assert.ErrorIs(t, err, veloql.ErrInvalidInput)
	})
}

func TestAssocFromFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	ann := f.save(t, f.driver, veloql.Item{"name": "Ann"})
	bob := f.save(t, f.driver, veloql.Item{"name": "Bob"})
	cid := f.save(t, f.driver, veloql.Item{"name": "Cid"})
	f.save(t, f.car, veloql.Item{"licence": "1", "driverId": ann.ID()})
	f.save(t, f.car, veloql.Item{"licence": "2", "driverId": ann.ID()})
	f.save(t, f.car, veloql.Item{"licence": "3", "driverId": bob.ID()})

	tests := []struct {
		name string
		expr map[string]any
		want []string
	}{
		{name: "min", expr: map[string]any{"cars": map[string]any{"min": 2}}, want: []string{ann.ID()}},
		{name: "max", expr: map[string]any{"cars": map[string]any{"max": 1}}, want: []string{bob.ID(), cid.ID()}},
		{name: "range", expr: map[string]any{"cars": map[string]any{"min": 1, "max": 1}}, want: []string{bob.ID()}},
		{name: "combined", expr: map[string]any{"cars": map[string]any{"max": 1}, "name": map[string]any{"is": "Cid"}}, want: []string{cid.ID()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := f.a.FindByFilter(ctx, f.driver, accessor.Query{Filter: tt.expr})
			require.NoError(t, err)
			var got []string
			for _, it := range items {
				got = append(got, it.ID())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	st, err := f.a.Stats(ctx, f.car, accessor.Query{})
	require.NoError(t, err)
	assert.Equal(t, accessor.Stats{}, st)

	car := f.save(t, f.car, veloql.Item{"licence": "1"})
	f.now = f.now.Add(time.Hour)
	f.save(t, f.car, veloql.Item{"licence": "2"})
	f.now = f.now.Add(time.Hour)
	f.save(t, f.car, veloql.Item{"id": car.ID(), "mileage": 1})

	st, err = f.a.Stats(ctx, f.car, accessor.Query{})
	require.NoError(t, err)
	assert.Equal(t, accessor.Stats{
		Count:        2,
		CreatedFirst: "2024-01-02T03:04:05.000Z",
		CreatedLast:  "2024-01-02T04:04:05.000Z",
		UpdatedLast:  "2024-01-02T05:04:05.000Z",
	}, st)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("prevent", func(t *testing.T) {
		f := newFixture(t)
		d := f.save(t, f.driver, veloql.Item{"name": "Ann"})
		car := f.save(t, f.car, veloql.Item{"licence": "1", "driverId": d.ID()})
		_, err := f.a.Delete(ctx, f.driver, d.ID())
		require.ErrorIs(t, err, accessor.ErrDeletePrevented)
		var pe *accessor.PreventedError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, map[string]int{"cars": 1}, pe.Refs)

		_, err = f.a.Delete(ctx, f.car, car.ID())
		require.NoError(t, err)
		deleted, err := f.a.Delete(ctx, f.driver, d.ID())
		require.NoError(t, err)
		assert.Equal(t, "Ann", deleted["name"])
	})

	t.Run("nullify", func(t *testing.T) {
		f := newFixture(t)
		g1 := f.save(t, f.garage, veloql.Item{})
		g2 := f.save(t, f.garage, veloql.Item{})
		car := f.save(t, f.car, veloql.Item{"licence": "1", "garageIds": []any{g1.ID(), g2.ID()}})
		_, err := f.a.Delete(ctx, f.garage, g1.ID())
		require.NoError(t, err)
		got, err := f.a.FindByID(ctx, f.car, car.ID())
		require.NoError(t, err)
		assert.Equal(t, []any{g2.ID()}, got["garageIds"])
	})

	t.Run("cascade", func(t *testing.T) {
		f := newFixture(t)
		d := f.save(t, f.dealer, veloql.Item{})
		other := f.save(t, f.dealer, veloql.Item{})
		f.save(t, f.offer, veloql.Item{"dealerId": d.ID()})
		f.save(t, f.offer, veloql.Item{"dealerId": d.ID()})
		kept := f.save(t, f.offer, veloql.Item{"dealerId": other.ID()})
		_, err := f.a.Delete(ctx, f.dealer, d.ID())
		require.NoError(t, err)
		offers, err := f.a.FindByFilter(ctx, f.offer, accessor.Query{})
		require.NoError(t, err)
		require.Len(t, offers, 1)
		assert.Equal(t, kept.ID(), offers[0].ID())
	})

	t.Run("nested_prevent", func(t *testing.T) {
		m := model.New()
		owner, vet, pet, toy := model.NewEntity("owner"), model.NewEntity("vet"), model.NewEntity("pet"), model.NewEntity("toy")
		vet.AssocTo = []*model.Association{{Kind: model.AssocTo, Target: owner}}
		pet.AssocTo = []*model.Association{{Kind: model.AssocTo, Target: owner}}
		toy.AssocTo = []*model.Association{{Kind: model.AssocTo, Target: pet}}
		owner.AssocFrom = []*model.Association{
			{Kind: model.AssocFrom, Target: vet, Delete: model.DeleteNullify},
			{Kind: model.AssocFrom, Target: pet, Delete: model.DeleteCascade},
		}
		pet.AssocFrom = []*model.Association{{Kind: model.AssocFrom, Target: toy, Delete: model.DeletePrevent}}
		for _, e := range []*model.Entity{owner, vet, pet, toy} {
			require.NoError(t, m.AddEntity(e))
		}
		a := accessor.New(m, memory.New())
		create := func(e *model.Entity, input veloql.Item) veloql.Item {
			item, vs, err := a.Create(ctx, e, input)
			require.NoError(t, err)
			require.Empty(t, vs)
			return item
		}
		o := create(owner, veloql.Item{})
		v := create(vet, veloql.Item{"ownerId": o.ID()})
		p := create(pet, veloql.Item{"ownerId": o.ID()})
		toyItem := create(toy, veloql.Item{"petId": p.ID()})

		_, err := a.Delete(ctx, owner, o.ID())
		require.ErrorIs(t, err, accessor.ErrDeletePrevented)
		var pe *accessor.PreventedError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, map[string]int{"toys": 1}, pe.Refs)
		for _, tt := range []struct {
			e    *model.Entity
			id   string
			want veloql.Item
		}{
			{e: owner, id: o.ID()},
			{e: vet, id: v.ID(), want: veloql.Item{"ownerId": o.ID()}},
			{e: pet, id: p.ID(), want: veloql.Item{"ownerId": o.ID()}},
			{e: toy, id: toyItem.ID(), want: veloql.Item{"petId": p.ID()}},
		} {
			got, err := a.FindByID(ctx, tt.e, tt.id)
			require.NoError(t, err)
			require.NotNil(t, got, "%s is kept", tt.e.Name)
			for k, want := range tt.want {
				assert.Equal(t, want, got[k], "%s.%s is unchanged", tt.e.Name, k)
			}
		}

		_, err = a.Delete(ctx, toy, toyItem.ID())
		require.NoError(t, err)
		_, err = a.Delete(ctx, owner, o.ID())
		require.NoError(t, err)
		got, err := a.FindByID(ctx, vet, v.ID())
		require.NoError(t, err)
		assert.Nil(t, got["ownerId"])
		got, err = a.FindByID(ctx, pet, p.ID())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("not_found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.a.Delete(ctx, f.car, "missing")
		assert.True(t, veloql.IsNotFound(err))
		_, err = f.a.Delete(ctx, f.vehicle, "missing")
		assert.ErrorIs(t, err, veloql.ErrOperationDisabled)
	})
}

func TestPublish(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	created, err := f.bus.Subscribe(ctx, f.car.CreateTopic())
	require.NoError(t, err)
	deleted, err := f.bus.Subscribe(ctx, f.car.DeleteTopic())
	require.NoError(t, err)
	drivers, err := f.bus.Subscribe(ctx, f.driver.CreateTopic())
	require.NoError(t, err)

	car := f.save(t, f.car, veloql.Item{"licence": "1"})
	f.save(t, f.driver, veloql.Item{"name": "Ann"})
	_, err = f.a.Delete(ctx, f.car, car.ID())
	require.NoError(t, err)

	select {
	case v := <-created:
		assert.Equal(t, car, v)
	case <-time.After(time.Second):
		t.Fatal("no create event")
	}
	select {
	case v := <-deleted:
		assert.Equal(t, car.ID(), v.(veloql.Item).ID())
	case <-time.After(time.Second):
		t.Fatal("no delete event")
	}
	select {
	case v := <-drivers:
		t.Fatalf("unexpected event %v for an entity without subscriptions", v)
	default:
	}
}

func TestCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	car := f.save(t, f.car, veloql.Item{"licence": "1", "mileage": 1})
	_, err := f.a.FindByID(ctx, f.car, car.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.Len())

	stale := car.Clone()
	stale["mileage"] = 99
	_, err = f.store.Update(ctx, f.car, stale)
	require.NoError(t, err)
	got, err := f.a.FindByID(ctx, f.car, car.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, got["mileage"], "served from cache")

	f.save(t, f.car, veloql.Item{"id": car.ID(), "mileage": 2})
	assert.Zero(t, f.cache.Len())
	got, err = f.a.FindByID(ctx, f.car, car.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, got["mileage"])
}
