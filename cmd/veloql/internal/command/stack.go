package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/blob"
	"github.com/syssam/veloql/blob/s3"
	"github.com/syssam/veloql/cache"
	"github.com/syssam/veloql/cmd/veloql/internal/settings"
	"github.com/syssam/veloql/config"
	"github.com/syssam/veloql/datastore"
	"github.com/syssam/veloql/datastore/memory"
	"github.com/syssam/veloql/datastore/sqlstore"
	"github.com/syssam/veloql/engine"
	"github.com/syssam/veloql/model"
	"github.com/syssam/veloql/pubsub"
)

// newLogger builds a development or production logger.
func newLogger(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

// stack holds the collaborators that outlive a runtime. A model reload
// builds a new runtime on the same stack.
type stack struct {
	s       *settings.Settings
	store   datastore.DataStore
	bus     pubsub.Bus
	cache   veloql.Cache
	blobs   blob.Store
	tracer  trace.TracerProvider
	closers []io.Closer
	log     *zap.Logger
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newStack(ctx context.Context, s *settings.Settings, log *zap.Logger) (_ *stack, err error) {
	st := &stack{s: s, log: log}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	switch s.Store.Driver {
	case settings.DriverSQLite, settings.DriverPostgres:
		store, err := sqlstore.Open(s.Store.Driver, s.Store.DSN,
			sqlstore.WithLogger(log.Named("sqlstore")),
			sqlstore.WithSlowThreshold(time.Duration(s.Store.Slow)))
		if err != nil {
			return nil, err
		}
		st.store = store
		st.closers = append(st.closers, store)
	default:
		st.store = memory.New()
	}

	switch s.Bus.Driver {
	case settings.DriverMemory:
		st.bus = pubsub.NewMemory(pubsub.WithLogger(log.Named("pubsub")))
	case settings.DriverRedis:
		bus, err := pubsub.DialRedis(ctx, s.Bus.Addr,
			pubsub.WithPrefix(s.Bus.Prefix),
			pubsub.WithRedisLogger(log.Named("pubsub")))
		if err != nil {
			return nil, err
		}
		st.bus = bus
	}
	if st.bus != nil {
		st.closers = append(st.closers, st.bus)
	}

	switch s.Cache.Driver {
	case settings.DriverMemory:
		st.cache = cache.NewMemory()
	case settings.DriverRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: s.Cache.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("cache: redis ping: %w", err)
		}
		st.cache = cache.NewRedis(rdb, "veloql:cache:")
		st.closers = append(st.closers, rdb)
	}

	switch s.Blob.Driver {
	case settings.DriverMemory:
		st.blobs = blob.NewMemory()
	case settings.DriverFS:
		fs, err := blob.NewFS(s.Blob.Root)
		if err != nil {
			return nil, err
		}
		st.blobs = fs
	case settings.DriverS3:
		store, err := s3.New(ctx, s3.Config{
			Bucket:          s.Blob.S3.Bucket,
			Region:          s.Blob.S3.Region,
			Endpoint:        s.Blob.S3.Endpoint,
			AccessKeyID:     s.Blob.S3.AccessKeyID,
			SecretAccessKey: s.Blob.S3.SecretAccessKey,
			PathStyle:       s.Blob.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		st.blobs = store
	}

	tp, shutdown, err := newTracerProvider(s.Tracing)
	if err != nil {
		return nil, err
	}
	if tp != nil {
		st.tracer = tp
		st.closers = append(st.closers, closerFunc(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(ctx)
		}))
	}
	return st, nil
}

// Close releases the collaborators in reverse order.
func (st *stack) Close() error {
	var errs []error
	for i := len(st.closers) - 1; i >= 0; i-- {
		errs = append(errs, st.closers[i].Close())
	}
	st.closers = nil
	return errors.Join(errs...)
}

// loadModel loads and resolves the model configuration. Diagnostics are
// logged; the model keeps every valid declaration.
func (st *stack) loadModel() (*model.Model, config.Diagnostics, error) {
	cfg, err := config.Load(st.s.Model)
	if err != nil {
		return nil, nil, err
	}
	m, diags := config.Resolve(cfg, config.WithLogger(st.log.Named("config")))
	return m, diags, nil
}

// runtime wires m on the stack. The returned registry holds the metrics of
// the runtime.
func (st *stack) runtime(ctx context.Context, m *model.Model) (*engine.Runtime, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	opts := []engine.Option{
		engine.WithStore(st.store),
		engine.WithMetrics(reg),
		engine.WithFilesURL(st.s.FilesURL),
		engine.WithLogger(st.log),
	}
	if st.bus != nil {
		opts = append(opts, engine.WithBus(st.bus))
	}
	if st.blobs != nil {
		opts = append(opts, engine.WithBlobs(st.blobs))
	}
	if st.cache != nil {
		opts = append(opts, engine.WithCache(st.cache, time.Duration(st.s.Cache.TTL)))
	}
	if st.tracer != nil {
		opts = append(opts, engine.WithTracerProvider(st.tracer))
	}
	rt, err := engine.New(ctx, m, opts...)
	if err != nil {
		return nil, nil, err
	}
	return rt, reg, nil
}
