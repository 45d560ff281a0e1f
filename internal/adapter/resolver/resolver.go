// Package resolver maps content references back to original bytes.
package resolver

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"mmrag/internal/port"
)

// Resolver passes lookups straight to the object store.
type Resolver struct {
	store port.ObjectStore
}

func New(store port.ObjectStore) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	return r.store.Get(ctx, ref)
}

// CachingResolver keeps recently resolved content in an LRU keyed by
// content reference. References are content addressed, so entries never
// need invalidation. Failures are not cached.
type CachingResolver struct {
	next  port.ContentResolver
	cache *lru.Cache[string, []byte]
}

// NewCachingResolver wraps next with an LRU of size entries.
func NewCachingResolver(next port.ContentResolver, size int) (*CachingResolver, error) {
	if size <= 0 {
		size = 100
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachingResolver{next: next, cache: cache}, nil
}

func (r *CachingResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	if data, ok := r.cache.Get(ref); ok {
		return data, nil
	}
	data, err := r.next.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	r.cache.Add(ref, data)
	return data, nil
}

// Len returns the number of cached entries.
func (r *CachingResolver) Len() int {
	return r.cache.Len()
}

// Purge drops every cached entry.
func (r *CachingResolver) Purge() {
	r.cache.Purge()
}
