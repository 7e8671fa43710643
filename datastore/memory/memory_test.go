package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/datastore"
	"github.com/syssam/veloql/datastore/memory"
	"github.com/syssam/veloql/model"
	ql "github.com/syssam/veloql/querylanguage"
)

func TestStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	car := model.NewEntity("car")

	golf, err := s.Create(ctx, car, veloql.Item{"brand": "VW", "tags": []any{"compact"}, "mileage": 120})
	require.NoError(t, err)
	require.NotEmpty(t, golf.ID())
	volvo, err := s.Create(ctx, car, veloql.Item{"id": "v1", "brand": "Volvo", "mileage": 80})
	require.NoError(t, err)
	assert.Equal(t, "v1", volvo.ID())

	got, err := s.FindByID(ctx, car, golf.ID())
	require.NoError(t, err)
	assert.Equal(t, golf, got)

	got["brand"] = "changed"
	got, err = s.FindByID(ctx, car, golf.ID())
	require.NoError(t, err)
	assert.Equal(t, "VW", got["brand"], "returned items are copies")

	missing, err := s.FindByID(ctx, car, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	items, err := s.FindByIDs(ctx, car, []string{"v1", "nope", "v1"})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = s.FindByAttribute(ctx, car, "tags", "compact")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, golf.ID(), items[0].ID())

	items, err = s.FindByFilter(ctx, car, datastore.Query{
		Filter: ql.FieldGT("mileage", 50),
		Sort:   []datastore.Sort{{Field: "mileage"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "v1", items[0].ID())

	items, err = s.FindByFilter(ctx, car, datastore.Query{Paging: datastore.Paging{Page: 1, Size: 1}})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	n, err := s.Count(ctx, car, ql.FieldEQ("brand", "Volvo"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	volvo["mileage"] = 90
	_, err = s.Update(ctx, car, volvo)
	require.NoError(t, err)
	got, err = s.FindByID(ctx, car, "v1")
	require.NoError(t, err)
	assert.Equal(t, 90, got["mileage"])

	_, err = s.Update(ctx, car, veloql.Item{"id": "nope"})
	assert.True(t, veloql.IsNotFound(err))

	ok, err := s.Delete(ctx, car, "v1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, car, "v1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Truncate(ctx, car))
	n, err = s.Count(ctx, car, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreFilterTypes(t *testing.T) {
	t.Parallel()
	s := memory.New()
	names := map[string]bool{}
	for _, ft := range s.FilterTypes() {
		names[ft.Name()] = true
	}
	assert.True(t, names["StringFilter"])
	assert.True(t, names["DateTimeFilter"])
	ft := s.EnumFilterType(&model.Enum{Name: "Fuel", Values: []string{"gas"}})
	assert.Equal(t, "FuelFilter", ft.Name())
}

func TestStoreConcurrentCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	e := model.NewEntity("event")
	done := make(chan string)
	for range 20 {
		go func() {
			item, err := s.Create(ctx, e, veloql.Item{})
			if err != nil {
				done <- ""
				return
			}
			done <- item.ID()
		}()
	}
	ids := map[string]bool{}
	for range 20 {
		ids[<-done] = true
	}
	assert.Len(t, ids, 20)
	assert.False(t, ids[""])
}
