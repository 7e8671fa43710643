package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloql"
)

func testModel(t *testing.T) (*Model, map[string]*Entity) {
	t.Helper()
	m := New()
	es := map[string]*Entity{}
	for _, name := range []string{"car", "bicycle", "vehicle", "driver", "garage"} {
		e := NewEntity(name)
		require.NoError(t, m.AddEntity(e))
		es[name] = e
	}
	es["car"].Implements = []string{"vehicle"}
	es["bicycle"].Implements = []string{"vehicle"}
	es["vehicle"].Interface = true

	union := NewEntity("owned")
	union.Union = []string{"car", "garage"}
	require.NoError(t, m.AddEntity(union))
	es["owned"] = union

	es["driver"].AssocTo = []*Association{{Kind: AssocTo, Type: "vehicle", Target: es["vehicle"]}}
	es["driver"].AssocToMany = []*Association{{Kind: AssocToMany, Type: "owned", Target: union}}
	es["car"].AssocFrom = []*Association{{Kind: AssocFrom, Type: "driver", Target: es["driver"]}}
	return m, es
}

func TestModelLookup(t *testing.T) {
	t.Parallel()
	m, es := testModel(t)
	assert.Same(t, es["car"], m.Entity("car"))
	assert.Same(t, es["car"], m.Entity("Car"))
	assert.Nil(t, m.Entity("boat"))

	err := m.AddEntity(NewEntity("Car"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Car"`)

	require.NoError(t, m.AddEnum(&Enum{Name: "Color", Values: []string{"RED", "BLUE"}}))
	assert.True(t, m.Enum("Color").Has("RED"))
	assert.False(t, m.Enum("Color").Has("GREEN"))
	assert.Error(t, m.AddEntity(NewEntity("color")))
}

func TestConcreteMembers(t *testing.T) {
	t.Parallel()
	m, es := testModel(t)

	assert.Equal(t, []*Entity{es["car"]}, m.ConcreteMembers(es["car"]))
	assert.ElementsMatch(t, []*Entity{es["car"], es["bicycle"]}, m.ConcreteMembers(es["vehicle"]))
	assert.ElementsMatch(t, []*Entity{es["car"], es["garage"]}, m.ConcreteMembers(es["owned"]))

	assert.True(t, m.Covers(es["vehicle"], es["bicycle"]))
	assert.False(t, m.Covers(es["owned"], es["bicycle"]))
	assert.False(t, m.Covers(es["garage"], es["car"]))
}

func TestReferences(t *testing.T) {
	t.Parallel()
	m, es := testModel(t)

	refs := m.ReferencesTo(es["car"])
	require.Len(t, refs, 2)
	assert.Equal(t, "vehicleId", refs[0].Assoc.ForeignKey())
	assert.Equal(t, "ownedIds", refs[1].Assoc.ForeignKey())

	assert.Len(t, m.ReferencesTo(es["bicycle"]), 1)
	assert.Len(t, m.Inbound(es["car"], es["car"].AssocFrom[0]), 2)
	assert.Empty(t, m.ReferencesTo(es["driver"]))
}

func TestEntity(t *testing.T) {
	t.Parallel()
	_, es := testModel(t)
	driver := es["driver"]

	assert.True(t, driver.AddAttribute(&Attribute{Name: "name", Type: "String"}))
	assert.False(t, driver.AddAttribute(&Attribute{Name: "name", Type: "Int"}))
	assert.Equal(t, "String", driver.Attribute("name").Type)

	a := driver.Association("vehicle")
	require.NotNil(t, a)
	assert.True(t, a.Polymorphic())
	assert.Equal(t, "vehicleType", a.TypeField())
	assert.Same(t, a, driver.AssociationByKey("vehicleId"))
	assert.Empty(t, driver.AssocToMany[0].TypeField())
	assert.Equal(t, []string{"ownedIds"}, driver.ListFields())

	assert.False(t, es["vehicle"].Enabled(veloql.OpCreate))
	assert.True(t, es["vehicle"].Enabled(veloql.OpTypesQuery))
	driver.Operations.Delete.Disabled = true
	assert.False(t, driver.Enabled(veloql.OpDelete))
	assert.True(t, driver.Enabled(veloql.OpUpdate))

	assert.Equal(t, "createDriver", driver.CreateTopic())
	assert.Equal(t, "driverDeleted", driver.DeletedSubscription())
}

func TestTypeRef(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "String", TypeRef{Name: "String"}.String())
	assert.Equal(t, "[Car!]!", TypeRef{Name: "Car", List: true, ItemRequired: true, Required: true}.String())
	assert.Equal(t, "Int!", TypeRef{Name: "Int", Required: true}.String())
}

func TestHooks(t *testing.T) {
	t.Parallel()
	assert.False(t, Continue().ShortCircuited())
	o := ShortCircuit(veloql.Item{"id": "1"})
	assert.True(t, o.ShortCircuited())
	assert.Equal(t, veloql.Item{"id": "1"}, o.Value())

	var h Hooks
	assert.Nil(t, h.Pre(veloql.OpCreate))
	h.PreSave = func(_ context.Context, _ *Request) (Outcome, error) { return Continue(), nil }
	assert.NotNil(t, h.Pre(veloql.OpUpdate))
	assert.Nil(t, h.Pre(veloql.OpDelete))
}
