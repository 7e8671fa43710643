package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/privacy"
	"github.com/syssam/veloql/scalar"
)

func TestParseTypeExpr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    typeExpr
		wantErr bool
	}{
		{in: "String", want: typeExpr{Name: "String"}},
		{in: "String!", want: typeExpr{Name: "String", Required: true}},
		{in: "[Int]", want: typeExpr{Name: "Int", List: true}},
		{in: "[Int!]", want: typeExpr{Name: "Int", List: true, ItemRequired: true}},
		{in: "[Int!]!", want: typeExpr{Name: "Int", List: true, ItemRequired: true, Required: true}},
		{in: " date ", want: typeExpr{Name: "date"}},
		{in: "[Int", wantErr: true},
		{in: "", wantErr: true},
		{in: "[[Int]]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTypeExpr(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveAttributes(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Enums: map[string]any{"Fuel": []any{"lead", "gas", "diesel"}},
		Entities: map[string]*EntityConfig{
			"car": {
				Attributes: map[string]any{
					"licenceNr": "Key",
					"brand":     "string!",
					"fuel":      "Fuel",
					"colors":    []any{"String"},
					"mileage":   map[string]any{"type": "int", "defaultValue": 0},
					"picture":   "image",
					"specs":     "JSON",
					"notes":     Attribute{Type: "String", FilterType: false},
					"label": &Attribute{
						Type:     "String!",
						Virtual:  true,
						Resolve:  func(context.Context, veloql.Item, model.Services) (any, error) { return "X", nil },
						Required: true,
					},
				},
			},
		},
	}
	m, diags := Resolve(cfg)
	require.Empty(t, diags)
	car := m.Entity("car")
	require.NotNil(t, car)

	key := car.Attribute("licenceNr")
	assert.Equal(t, scalar.String, key.Type)
	assert.True(t, key.Required)
	assert.True(t, key.Unique)
	assert.True(t, key.Key)
	assert.False(t, key.UpdateInput)
	assert.True(t, key.CreateInput)

	brand := car.Attribute("brand")
	assert.Equal(t, scalar.String, brand.Type)
	assert.True(t, brand.Required)
	assert.Equal(t, "StringFilter", brand.FilterType)

	assert.Equal(t, "FuelFilter", car.Attribute("fuel").FilterType)
	assert.True(t, car.Attribute("colors").List)
	assert.Equal(t, 0, car.Attribute("mileage").Default)
	assert.Equal(t, "IntFilter", car.Attribute("mileage").FilterType)

	picture := car.Attribute("picture")
	assert.Equal(t, scalar.File, picture.Type)
	assert.Equal(t, model.MediaImage, picture.MediaType)
	assert.Empty(t, picture.FilterType)
	assert.Empty(t, car.Attribute("specs").FilterType)
	assert.Empty(t, car.Attribute("notes").FilterType)

	label := car.Attribute("label")
	assert.True(t, label.Virtual)
	assert.False(t, label.CreateInput)
	assert.False(t, label.UpdateInput)
	assert.True(t, label.ObjectTypeField)
	assert.Empty(t, label.FilterType)
	assert.NotNil(t, label.Resolve)

	require.NotNil(t, m.Enum("Fuel"))
	assert.Equal(t, []string{"lead", "gas", "diesel"}, m.Enum("Fuel").Values)
}

func TestResolveFailSoft(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Entities: map[string]*EntityConfig{
			"car": {
				Attributes: map[string]any{
					"brand":   "String",
					"engine":  "Turbine",
					"id":      "ID",
					"badList": "[String",
				},
				AssocTo:     []any{"driver!", "spaceship"},
				AssocToMany: "garage",
			},
			"driver": {Attributes: map[string]any{"name": "String!"}},
			"garage": {
				Attributes: map[string]any{"city": "String"},
				AssocFrom:  map[string]any{"type": "car", "delete": "explode"},
			},
			"zcar":  {TypeName: "Car"},
			"empty": nil,
		},
	}
	m, diags := Resolve(cfg)
	assert.NotEmpty(t, diags)
	assert.Error(t, diags.Err())

	car := m.Entity("car")
	require.NotNil(t, car)
	assert.NotNil(t, car.Attribute("brand"))
	assert.Nil(t, car.Attribute("engine"))
	assert.Nil(t, car.Attribute("id"))
	assert.Nil(t, car.Attribute("badList"))

	require.Len(t, car.AssocTo, 1)
	assert.Equal(t, "driverId", car.AssocTo[0].ForeignKey())
	assert.True(t, car.AssocTo[0].Required)
	require.Len(t, car.AssocToMany, 1)
	assert.Equal(t, "garageIds", car.AssocToMany[0].ForeignKey())

	garage := m.Entity("garage")
	require.Len(t, garage.AssocFrom, 1)
	assert.Equal(t, model.DeleteNone, garage.AssocFrom[0].Delete)

	// zcar reuses the type name of car and is dropped.
	assert.Len(t, m.Entities, 3)
	assert.Same(t, car, m.Entity("Car"))

	messages := make([]string, len(diags))
	for i, d := range diags {
		messages[i] = d.String()
	}
	assert.Contains(t, messages, `car.engine: attribute dropped: unknown type "Turbine"`)
	assert.Contains(t, messages, "car.spaceship: unknown assocTo target, association dropped")
	assert.Contains(t, messages, "empty: empty entity declaration dropped")
}

func TestResolvePolymorphism(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Entities: map[string]*EntityConfig{
			"vehicle": {
				Interface:  true,
				Attributes: map[string]any{"wheels": "Int!", "brand": "String"},
				AssocTo:    "driver",
			},
			"car":     {Implements: "vehicle", Attributes: map[string]any{"brand": "String!"}},
			"bicycle": {Implements: []any{"vehicle"}},
			"boat":    {Implements: "driver"},
			"driver":  {Attributes: map[string]any{"name": "String"}},
			"owned":   {Union: []string{"car", "driver", "ghost"}},
		},
	}
	m, diags := Resolve(cfg)
	require.Len(t, diags, 2)

	car := m.Entity("car")
	assert.Equal(t, []string{"vehicle"}, car.Implements)
	assert.True(t, car.Attribute("brand").Required, "own declarations win")
	assert.True(t, car.Attribute("wheels").Required)
	require.NotNil(t, car.Association("driver"))
	assert.NotSame(t, m.Entity("vehicle").AssocTo[0], car.Association("driver"))

	bicycle := m.Entity("bicycle")
	assert.NotNil(t, bicycle.Attribute("wheels"))
	assert.Empty(t, m.Entity("boat").Implements)

	owned := m.Entity("owned")
	assert.Equal(t, []string{"car", "driver"}, owned.Union)
	assert.ElementsMatch(t, []*model.Entity{car, bicycle}, m.ConcreteMembers(m.Entity("vehicle")))
}

func TestResolveEntitySettings(t *testing.T) {
	t.Parallel()
	policy := &privacy.Policy{Query: privacy.QueryPolicy{privacy.AlwaysDenyRule()}}
	cfg := &Config{
		Entities: map[string]*EntityConfig{
			"car": {
				Plural:      "autos",
				Disable:     []string{"delete", "statsQuery", "fly"},
				Permissions: map[string]any{"read": []any{"user"}, "save": "admin"},
				Seeds:       map[string]map[string]any{"golf": {"brand": "VW"}},
			},
			"driver": {Permissions: policy},
			"boat": {Permissions: privacy.Policies{
				{Query: privacy.QueryPolicy{privacy.HasRole("captain")}},
				*privacy.RolePolicy([]string{"sailor"}, nil, nil),
			}},
		},
		Queries: map[string]*OperationConfig{
			"topCars": {
				Type:    "[car!]!",
				Args:    map[string]string{"limit": "int"},
				Resolve: func(context.Context, *model.Request) (any, error) { return nil, nil },
			},
			"noResolve": {Type: "String"},
		},
		Subscriptions: map[string]*OperationConfig{"fleetChanged": {Type: "String"}},
	}
	m, diags := Resolve(cfg)
	require.Len(t, diags, 2)

	car := m.Entity("car")
	assert.Equal(t, "autos", car.TypesQuery)
	assert.Equal(t, "autosStats", car.StatsQuery)
	assert.False(t, car.Enabled(veloql.OpDelete))
	assert.False(t, car.Enabled(veloql.OpStatsQuery))
	assert.True(t, car.Enabled(veloql.OpCreate))
	require.NotNil(t, car.Permissions)
	assert.Len(t, car.Permissions.Mutation, 1)
	assert.Equal(t, veloql.Item{"brand": "VW"}, car.Seeds["golf"])
	assert.Same(t, policy, m.Entity("driver").Permissions)

	boat := m.Entity("boat").Permissions
	require.NotNil(t, boat)
	for role, allowed := range map[string]bool{"captain": true, "sailor": true, "guest": false} {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u", Roles: []string{role}})
		if allowed {
			assert.NoError(t, boat.EvalQuery(ctx, nil), role)
		} else {
			assert.ErrorIs(t, boat.EvalQuery(ctx, nil), privacy.Deny, role)
		}
	}

	require.Len(t, m.Queries, 1)
	assert.Equal(t, "[Car!]!", m.Queries[0].Type.String())
	assert.Equal(t, []model.Arg{{Name: "limit", Type: model.TypeRef{Name: "Int"}}}, m.Queries[0].Args)
	require.Len(t, m.Subscriptions, 1)
	assert.Equal(t, "fleetChanged", m.Subscriptions[0].Topic)
}

const carYAML = `
entity:
  car:
    attributes:
      model: String!
      brand: String
      colors: [String]
      licence: Key
    assocTo: driver
    permissions:
      read: [user]
  driver:
    attributes:
      name: String!
enum:
  Fuel:
    gas: Gasoline
    diesel: Diesel
query:
  ping:
    type: string
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(carYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "brand", "colors", "licence"}, cfg.Entities["car"].AttributeOrder)

	m, diags := Resolve(cfg)
	assert.Len(t, diags, 1, "ping has no resolve function")
	car := m.Entity("car")
	names := make([]string, 0, len(car.Attributes))
	for _, a := range car.Attributes {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"model", "brand", "colors", "licence"}, names)
	assert.True(t, car.Attribute("colors").List)
	assert.NotNil(t, car.Permissions)
	assert.Equal(t, "Gasoline", m.Enum("Fuel").Labels["gas"])

	_, err = Parse([]byte("entity: ["))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("entity:\n  car:\n    attributes:\n      brand: String\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("entity:\n  car:\n    attributes:\n      model: String\n  driver:\n    attributes:\n      name: String\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Entities, 2)
	assert.Contains(t, cfg.Entities["car"].Attributes, "model", "later files replace entities")
	assert.NotContains(t, cfg.Entities["car"].Attributes, "brand")

	_, err = Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yml")
	require.NoError(t, os.WriteFile(path, []byte("entity:\n  car:\n    attributes:\n      brand: String\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, func(cfg *Config, err error) {
			if err == nil {
				select {
				case reloaded <- cfg:
				default:
				}
			}
		})
	}()

	// Give the watcher time to register before changing the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("entity:\n  driver:\n    attributes:\n      name: String\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Contains(t, cfg.Entities, "driver")
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after change")
	}
	cancel()
	assert.NoError(t, <-done)
}
