// Package pubsub implements the event bus behind entity subscriptions.
// Mutations publish the changed item on a topic; subscription fields
// consume the topic as a stream.
package pubsub

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by a bus that was closed.
var ErrClosed = errors.New("pubsub: bus closed")

// Bus publishes payloads on topics and streams them to subscribers.
type Bus interface {
	// Publish sends payload to all current subscribers of topic.
	Publish(ctx context.Context, topic string, payload any) error
	// Subscribe streams the payloads published on topic until ctx is done,
	// then closes the returned channel.
	Subscribe(ctx context.Context, topic string) (<-chan any, error)
	// Close stops the bus and closes all subscriptions.
	Close() error
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

type subscriber struct {
	ch   chan any
	done <-chan struct{}
}

// Memory is an in-process bus. A subscriber that does not keep up loses
// messages instead of blocking publishers.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	closed bool
	log    *zap.Logger
}

// MemoryOption configures a memory bus.
type MemoryOption func(*Memory)

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.buffer = n
		}
	}
}

// WithLogger sets the logger of a memory bus.
func WithLogger(log *zap.Logger) MemoryOption {
	return func(m *Memory) {
		m.log = log
	}
}

// NewMemory returns an in-process bus.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: DefaultBuffer,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish implements Bus.
func (m *Memory) Publish(_ context.Context, topic string, payload any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for s := range m.subs[topic] {
		select {
		case <-s.done:
		case s.ch <- payload:
		default:
			m.log.Warn("slow subscriber, message dropped", zap.String("topic", topic))
		}
	}
	return nil
}

// Subscribe implements Bus.
func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := &subscriber{ch: make(chan any, m.buffer), done: ctx.Done()}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*subscriber]struct{})
	}
	m.subs[topic][s] = struct{}{}
	go func() {
		<-ctx.Done()
		m.remove(topic, s)
	}()
	return s.ch, nil
}

func (m *Memory) remove(topic string, s *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[topic][s]; !ok {
		return
	}
	delete(m.subs[topic], s)
	if len(m.subs[topic]) == 0 {
		delete(m.subs, topic)
	}
	close(s.ch)
}

// Subscribers returns the number of live subscriptions on topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

// Close implements Bus.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subs := range m.subs {
		for s := range subs {
			close(s.ch)
		}
		delete(m.subs, topic)
	}
	return nil
}

var _ Bus = (*Memory)(nil)
