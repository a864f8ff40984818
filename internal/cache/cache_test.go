package cache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillhermm/zenus-os-sub000/internal/cache"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
)

func newTestCache(t *testing.T) *cache.IntentCache {
	t.Helper()
	c, err := cache.Open(cache.Options{
		StateRoot:  t.TempDir(),
		TTL:        time.Hour,
		MaxEntries: 3,
	})
	require.NoError(t, err)
	return c
}

func TestGetOrComputeCallsTranslateOnceOnMiss(t *testing.T) {
	c := newTestCache(t)
	var calls int32
	translate := func(ctx context.Context) (*ir.IntentIR, error) {
		atomic.AddInt32(&calls, 1)
		return &ir.IntentIR{Goal: "build"}, nil
	}

	key := cache.Key("Build the project", "fingerprint-1")
	first, err := c.GetOrCompute(context.Background(), key, translate)
	require.NoError(t, err)
	second, err := c.GetOrCompute(context.Background(), key, translate)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, calls)
}

func TestKeyNormalizesWhitespaceAndCase(t *testing.T) {
	a := cache.Key("  Build THE Project  ", "fp")
	b := cache.Key("build the project", "fp")
	assert.Equal(t, a, b)
}

func TestKeyDependsOnContextFingerprint(t *testing.T) {
	a := cache.Key("build", "fp-1")
	b := cache.Key("build", "fp-2")
	assert.NotEqual(t, a, b)
}

func TestEvictsOldestLastUsedOverMaxEntries(t *testing.T) {
	c := newTestCache(t)
	translate := func(goal string) cache.TranslateFunc {
		return func(ctx context.Context) (*ir.IntentIR, error) { return &ir.IntentIR{Goal: goal}, nil }
	}

	keys := []string{
		cache.Key("one", "fp"),
		cache.Key("two", "fp"),
		cache.Key("three", "fp"),
		cache.Key("four", "fp"),
	}
	for i, k := range keys {
		_, err := c.GetOrCompute(context.Background(), k, translate(keys[i]))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, c.Len())
}

func TestInvalidateRemovesByPrefix(t *testing.T) {
	c := newTestCache(t)
	key := cache.Key("build", "fp")
	_, err := c.GetOrCompute(context.Background(), key, func(ctx context.Context) (*ir.IntentIR, error) {
		return &ir.IntentIR{Goal: "build"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	removed := c.Invalidate(context.Background(), key[:8])
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, c.Len())
}
