package resolver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/adapter/objectstore"
	"mmrag/internal/domain"
)

type countingResolver struct {
	next  *Resolver
	calls atomic.Int32
}

func (c *countingResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	c.calls.Add(1)
	return c.next.Resolve(ctx, ref)
}

func TestResolver(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()
	ref, err := store.Put(ctx, []byte("hello"))
	require.NoError(t, err)

	r := New(store)
	got, err := r.Resolve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = r.Resolve(ctx, objectstore.Ref([]byte("missing")))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCachingResolver(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()
	ref, err := store.Put(ctx, []byte("hello"))
	require.NoError(t, err)

	inner := &countingResolver{next: New(store)}
	r, err := NewCachingResolver(inner, 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(got))
	}
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, r.Len())

	missing := objectstore.Ref([]byte("missing"))
	_, err = r.Resolve(ctx, missing)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = r.Resolve(ctx, missing)
	assert.Error(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())

	r.Purge()
	assert.Equal(t, 0, r.Len())
}
