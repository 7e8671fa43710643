// Package dataloader provides a request-scoped, memoizing batch loader and
// the key ordering helpers batch functions need.
//
// # Basic Usage
//
// Define a batch function returning the values found for a set of keys:
//
//	batch := func(ctx context.Context, ids []string) ([]veloql.Item, error) {
//	    return store.FindByIDs(ctx, car, ids)
//	}
//	loader := dataloader.New(batch, veloql.Item.ID)
//	item, err := loader.Load(ctx, id)
//
// # Per request
//
// Store loaders in the request context so every resolver of the request
// shares the memoized values:
//
//	ctx = dataloader.WithLoaders(ctx, loaders)
//	loaders := dataloader.For[*Loaders](ctx)
package dataloader

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a key is missing from a batch result.
var ErrNotFound = errors.New("dataloader: entity not found")

// KeyFunc extracts a key from a value.
type KeyFunc[K comparable, V any] func(V) K

// BatchFunc loads the values of a batch of keys. It may return fewer values
// than keys; missing keys resolve to ErrNotFound.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// Loader memoizes the values loaded by a batch function. It is safe for
// concurrent use. Failed loads are not memoized.
type Loader[K comparable, V any] struct {
	batch BatchFunc[K, V]
	key   KeyFunc[K, V]

	mu     sync.Mutex
	values map[K]V
	miss   map[K]bool
}

// New returns a loader over batch.
func New[K comparable, V any](batch BatchFunc[K, V], key KeyFunc[K, V]) *Loader[K, V] {
	return &Loader[K, V]{
		batch:  batch,
		key:    key,
		values: make(map[K]V),
		miss:   make(map[K]bool),
	}
}

// Load returns the value of key.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	values, errs, err := l.LoadMany(ctx, []K{key})
	if err != nil {
		var zero V
		return zero, err
	}
	return values[0], errs[0]
}

// LoadMany returns the values of keys in key order. Keys not yet known are
// fetched with a single batch call. The per-key errors are ErrNotFound for
// missing keys; err reports a failed batch.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]V, []error, error) {
	l.mu.Lock()
	var pending []K
	seen := make(map[K]bool, len(keys))
	for _, k := range keys {
		if _, ok := l.values[k]; ok || l.miss[k] || seen[k] {
			continue
		}
		seen[k] = true
		pending = append(pending, k)
	}
	l.mu.Unlock()

	if len(pending) > 0 {
		found, err := l.batch(ctx, pending)
		if err != nil {
			return nil, nil, err
		}
		l.mu.Lock()
		for _, v := range found {
			l.values[l.key(v)] = v
		}
		for _, k := range pending {
			if _, ok := l.values[k]; !ok {
				l.miss[k] = true
			}
		}
		l.mu.Unlock()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	values := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		if v, ok := l.values[k]; ok {
			values[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return values, errs, nil
}

// Prime stores a known value.
func (l *Loader[K, V]) Prime(v V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.key(v)
	l.values[k] = v
	delete(l.miss, k)
}

// Clear forgets the value of key.
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.values, key)
	delete(l.miss, key)
}

// OrderByKeys reorders values to match the order of keys. Missing values
// are zero values with ErrNotFound.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// GroupByKey groups values by a key function.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

type ctxKey struct{}

// WithLoaders injects loaders into the context.
func WithLoaders[T any](ctx context.Context, loaders T) context.Context {
	return context.WithValue(ctx, ctxKey{}, loaders)
}

// For extracts loaders from the context; the zero value when absent.
func For[T any](ctx context.Context) T {
	v, _ := ctx.Value(ctxKey{}).(T)
	return v
}
