package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/accessor"
	"github.com/syssam/veloql/datastore/memory"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/privacy"
)

func newTestResolver(t *testing.T, opts ...Option) (*Resolver, *model.Entity) {
	t.Helper()
	m := model.New()
	e := model.NewEntity("car")
	e.Attributes = []*model.Attribute{{Name: "brand", Type: "String", Required: true}}
	require.NoError(t, m.AddEntity(e))
	return New(accessor.New(m, memory.New()), opts...), e
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r, car := newTestResolver(t, WithMetrics(metrics))

	res, err := r.Save(ctx, car, veloql.Item{"brand": "VW"})
	require.NoError(t, err)
	_, err = r.Save(ctx, car, veloql.Item{})
	require.NoError(t, err)
	_, err = r.Type(ctx, car, res.Item.ID())
	require.NoError(t, err)
	car.Permissions = &privacy.Policy{Query: privacy.QueryPolicy{privacy.AlwaysDenyRule()}}
	_, err = r.Types(ctx, car, ListArgs{})
	require.Error(t, err)

	tests := []struct {
		op, outcome string
		want        float64
	}{
		{"create", outcomeOK, 1},
		{"create", outcomeInvalid, 1},
		{"typeQuery", outcomeOK, 1},
		{"typesQuery", outcomeDenied, 1},
		{"typesQuery", outcomeOK, 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(metrics.operationsTotal.WithLabelValues("car", tt.op, tt.outcome))
		assert.Equal(t, tt.want, got, "%s %s", tt.op, tt.outcome)
	}
	assert.Equal(t, 3, testutil.CollectAndCount(metrics.operationDurationSeconds))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.observe("car", "create", outcomeOK, time.Now()) })
}

func TestTracing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	r, car := newTestResolver(t, WithTracerProvider(tp))

	_, err := r.Save(ctx, car, veloql.Item{"brand": "VW"})
	require.NoError(t, err)
	msgs, err := r.Delete(ctx, car, "missing")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "veloql.create", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("veloql.entity", "car"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("veloql.outcome", outcomeOK))
	assert.Equal(t, "veloql.delete", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.String("veloql.outcome", outcomeError))
}
