package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/syssam/veloql"
)

// Redis is a bus backed by Redis pub/sub, shared by every process using the
// same server and channel prefix. Payloads travel as JSON; objects arrive as
// veloql.Item.
type Redis struct {
	rdb    goredis.UniversalClient
	prefix string
	buffer int
	owned  bool
	log    *zap.Logger
}

// RedisOption configures a Redis bus.
type RedisOption func(*Redis)

// WithPrefix sets the channel prefix. Defaults to "veloql:".
func WithPrefix(p string) RedisOption {
	return func(r *Redis) {
		r.prefix = p
	}
}

// WithRedisLogger sets the logger of the Redis bus.
func WithRedisLogger(log *zap.Logger) RedisOption {
	return func(r *Redis) {
		r.log = log
	}
}

// WithRedisBuffer sets the per-subscriber buffer size.
func WithRedisBuffer(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// DialRedis connects to the Redis server at addr and verifies the
// connection. The returned bus owns the client.
func DialRedis(ctx context.Context, addr string, opts ...RedisOption) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pubsub: redis ping: %w", err)
	}
	r := NewRedis(rdb, opts...)
	r.owned = true
	return r, nil
}

// NewRedis returns a bus on an existing client. Close does not close a
// client passed in.
func NewRedis(rdb goredis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:    rdb,
		prefix: "veloql:",
		buffer: DefaultBuffer,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) channel(topic string) string {
	return r.prefix + topic
}

// Publish implements Bus.
func (r *Redis) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pubsub: encode %s: %w", topic, err)
	}
	if err := r.rdb.Publish(ctx, r.channel(topic), raw).Err(); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements Bus.
func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan any, error) {
	sub := r.rdb.Subscribe(ctx, r.channel(topic))
	// Wait for the subscription confirmation so no publish after return is
	// missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("pubsub: subscribe %s: %w", topic, err)
	}
	out := make(chan any, r.buffer)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok || m == nil {
					return
				}
				v, err := veloql.DecodeJSON([]byte(m.Payload))
				if err != nil {
					r.log.Warn("bad event payload", zap.String("topic", topic), zap.Error(err))
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements Bus.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.rdb.Close()
}

var _ Bus = (*Redis)(nil)
