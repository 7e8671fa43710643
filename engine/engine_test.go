package engine_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/blob"
	"github.com/syssam/veloql/cache"
	"github.com/syssam/veloql/config"
	"github.com/syssam/veloql/engine"
	"github.com/syssam/veloql/graphql"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/pubsub"
)

const shopYAML = `
entity:
  customer:
    attributes:
      name: String!
    assocFrom:
      type: order
      delete: prevent
    seeds:
      bob:
        name: Bob
  order:
    attributes:
      number: Key
      total: Float
    assocTo: customer!
    subscriptions: true
    seeds:
      first:
        number: A-1
        total: 10.5
        customer: bob
`

func newRuntime(t *testing.T, mutate func(*config.Config), opts ...engine.Option) *engine.Runtime {
	t.Helper()
	cfg, err := config.Parse([]byte(shopYAML))
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	m, diags := config.Resolve(cfg)
	require.NoError(t, diags.Err())
	rt, err := engine.New(context.Background(), m, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, nil)
	assert.NotNil(t, rt.Schema())
	assert.NotNil(t, rt.Store())
	assert.Nil(t, rt.Bus())
	assert.Nil(t, rt.Blobs())
	assert.Nil(t, rt.Schema().Schema().Subscription, "no bus, no subscriptions")
	assert.NotNil(t, rt.Schema().Schema().Mutation.Fields.ForName("seed"))

	_, err := engine.New(context.Background(), nil)
	assert.Error(t, err)
}

func TestWithoutSeeding(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, nil, engine.WithoutSeeding())
	assert.Nil(t, rt.Schema().Schema().Mutation.Fields.ForName("seed"))
	_, err := rt.Seed(context.Background(), false)
	assert.Error(t, err)
}

func TestServices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt := newRuntime(t, nil)

	customer, vs, err := rt.Save(ctx, "customer", veloql.Item{"name": "Ann"})
	require.NoError(t, err)
	require.Empty(t, vs)
	_, vs, err = rt.Save(ctx, "customer", veloql.Item{})
	require.NoError(t, err)
	assert.NotEmpty(t, vs)

	order, vs, err := rt.Save(ctx, "order", veloql.Item{"number": "B-7", "customerId": customer.ID()})
	require.NoError(t, err)
	require.Empty(t, vs)

	got, err := rt.FindByID(ctx, "customer", customer.ID())
	require.NoError(t, err)
	assert.Equal(t, "Ann", got["name"])

	found, err := rt.FindByFilter(ctx, "order", map[string]any{"number": map[string]any{"is": "B-7"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, order.ID(), found[0].ID())

	err = rt.Delete(ctx, "customer", customer.ID())
	require.Error(t, err, "orders prevent the delete")
	assert.True(t, veloql.IsMutationError(err))

	require.NoError(t, rt.Delete(ctx, "order", order.ID()))
	require.NoError(t, rt.Delete(ctx, "customer", customer.ID()))
	got, err = rt.FindByID(ctx, "customer", customer.ID())
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = rt.FindByID(ctx, "nope", "1")
	assert.Error(t, err)
	assert.Error(t, rt.Publish(ctx, "topic", 1), "no bus")
	assert.Same(t, rt.Model(), rt.Accessor().Model())
}

func TestCustomResolverUsesServices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt := newRuntime(t, func(cfg *config.Config) {
		cfg.Mutations = map[string]*config.OperationConfig{
			"renameCustomer": {
				Type: "Customer",
				Args: map[string]string{"id": "ID!", "name": "String!"},
				Resolve: func(ctx context.Context, req *model.Request) (any, error) {
					item, err := req.Services.FindByID(ctx, "customer", req.Args["id"].(string))
					if err != nil || item == nil {
						return nil, err
					}
					item["name"] = req.Args["name"]
					saved, _, err := req.Services.Save(ctx, "customer", item)
					return saved, err
				},
			},
		}
	})
	customer, _, err := rt.Save(ctx, "customer", veloql.Item{"name": "Ann"})
	require.NoError(t, err)

	resp := rt.Schema().Execute(ctx, graphql.Request{
		Query:     `mutation($id: ID!) { renameCustomer(id: $id, name: "Anna") { id name } }`,
		Variables: map[string]any{"id": customer.ID()},
	})
	require.Empty(t, resp.Errors)
	var out struct {
		RenameCustomer struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"renameCustomer"`
	}
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, customer.ID(), out.RenameCustomer.ID)
	assert.Equal(t, "Anna", out.RenameCustomer.Name)
}

func TestSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt := newRuntime(t, nil, engine.WithSeedWorkers(2))
	report, err := rt.Seed(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count())
	assert.Empty(t, report.Violations)

	orders, err := rt.FindByFilter(ctx, "order", nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, report.IDs["customer"]["bob"], orders[0]["customerId"])
}

func TestCollaborators(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	bus := pubsub.NewMemory()
	rt := newRuntime(t, nil,
		engine.WithBus(bus),
		engine.WithBlobs(blob.NewMemory()),
		engine.WithCache(cache.NewMemory(), 0),
		engine.WithMetrics(reg),
		engine.WithFilesURL("/media"))
	assert.Same(t, bus, rt.Bus())
	require.NotNil(t, rt.Schema().Schema().Subscription)
	assert.NotNil(t, rt.Schema().Schema().Subscription.Fields.ForName("orderCreated"))

	events, err := bus.Subscribe(ctx, "custom")
	require.NoError(t, err)
	require.NoError(t, rt.Publish(ctx, "custom", "hello"))
	assert.Equal(t, "hello", <-events)

	_, _, err = rt.Save(ctx, "customer", veloql.Item{"name": "Ann"})
	require.NoError(t, err)
	n, err := testutil.GatherAndCount(reg, "veloql_operations_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}
