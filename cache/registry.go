package cache

import (
	"context"
	"fmt"
	"time"
)

// Kinds of logical stores. Each kind is materialized once per generation.
const (
	KindPrecache = "precache"
	KindRuntime  = "runtime"
)

// StoreName returns the physical cache name for a store kind in a generation.
func StoreName(kind, generation string) string {
	return kind + "-" + generation
}

// Registry hands out the two logical stores of one generation
// and sweeps the stores of every other generation.
type Registry struct {
	storage    Storage
	generation string
}

func NewRegistry(storage Storage, generation string) Registry {
	return Registry{
		storage:    storage,
		generation: generation,
	}
}

// Generation returns the generation tag the registry names its stores after.
func (r Registry) Generation() string {
	return r.generation
}

// Precache opens the precache store of the current generation.
func (r Registry) Precache(ctx context.Context) (Cache, error) {
	return r.open(ctx, KindPrecache)
}

// Runtime opens the runtime store of the current generation.
func (r Registry) Runtime(ctx context.Context) (Cache, error) {
	return r.open(ctx, KindRuntime)
}

func (r Registry) open(ctx context.Context, kind string) (Cache, error) {
	name := StoreName(kind, r.generation)
	if err := r.storage.Open(ctx, name); err != nil {
		return Cache{}, fmt.Errorf("open cache %s: %w", name, err)
	}
	return Cache{storage: r.storage, name: name}, nil
}

// Sweep destroys every cache that is not one of the current generation's stores.
// It returns the names of the destroyed caches.
func (r Registry) Sweep(ctx context.Context) ([]string, error) {
	names, err := r.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	keep := map[string]bool{
		StoreName(KindPrecache, r.generation): true,
		StoreName(KindRuntime, r.generation):  true,
	}
	deleted := make([]string, 0)
	for _, name := range names {
		if keep[name] {
			continue
		}
		if _, err := r.storage.Delete(ctx, name); err != nil {
			return deleted, fmt.Errorf("delete cache %s: %w", name, err)
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}

// Cache is a handle on one physical cache.
type Cache struct {
	storage Storage
	name    string
}

func (c Cache) Name() string {
	return c.name
}

// Match returns the stored response bytes for the key.
func (c Cache) Match(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := c.storage.Match(ctx, c.name, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return entry.Bytes, true, nil
}

// Put stores response bytes under the key.
func (c Cache) Put(ctx context.Context, key string, bytes []byte) error {
	return c.storage.Put(ctx, c.name, Entry{
		Key:      key,
		StoredAt: time.Now(),
		Bytes:    bytes,
	})
}

// Keys returns all keys in the cache.
func (c Cache) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)
	err := c.storage.Keys(ctx, c.name, func(key string) {
		keys = append(keys, key)
	})
	return keys, err
}
