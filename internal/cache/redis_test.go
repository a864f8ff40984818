package cache_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Guillhermm/zenus-os-sub000/internal/cache"
	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
)

// setupRedisClient starts a disposable redis:7 container, skipping the test
// when Docker isn't available — the same disposition the teacher's
// testcontainers-backed Mongo suite uses.
func setupRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("ZENUS_DOCKER_TESTS") != "1" {
		t.Skip("set ZENUS_DOCKER_TESTS=1 to run container-backed redis intent cache tests")
	}
	ctx := context.Background()

	var container testcontainers.Container
	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		container, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		t.Skipf("docker not available, skipping redis intent cache test: %v", containerErr)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

// TestIntentCacheRedisBackedCrossProcessHit verifies spec.md §4.6's
// cross-process sharing promise: an entry written by one IntentCache handle
// (simulating one process) is visible to a second handle backed by the same
// Redis instance but an empty local LRU (simulating another process), without
// re-invoking translate.
func TestIntentCacheRedisBackedCrossProcessHit(t *testing.T) {
	client := setupRedisClient(t)
	ctx := context.Background()

	key := cache.Key("analyze the repo", "fingerprint-a")
	plan := &ir.IntentIR{Goal: "analyze the repo", Steps: []ir.Step{{Tool: "fs", Action: "read", Args: map[string]any{"path": "."}}}}

	writer, err := cache.Open(cache.Options{TTL: time.Hour, MaxEntries: 10, Redis: client, RedisPrefix: "zenus-test:"})
	require.NoError(t, err)

	calls := 0
	got, err := writer.GetOrCompute(ctx, key, func(ctx context.Context) (*ir.IntentIR, error) {
		calls++
		return plan, nil
	})
	require.NoError(t, err)
	require.Equal(t, plan.Goal, got.Goal)
	require.Equal(t, 1, calls)

	reader, err := cache.Open(cache.Options{TTL: time.Hour, MaxEntries: 10, Redis: client, RedisPrefix: "zenus-test:"})
	require.NoError(t, err)

	readerCalls := 0
	got2, err := reader.GetOrCompute(ctx, key, func(ctx context.Context) (*ir.IntentIR, error) {
		readerCalls++
		return plan, nil
	})
	require.NoError(t, err)
	require.Equal(t, plan.Goal, got2.Goal)
	require.Equal(t, 0, readerCalls, "reader should hit Redis rather than recompute")
}

// TestIntentCacheRedisInvalidateRemovesSharedEntry verifies Invalidate clears
// both the in-process LRU and the shared Redis keyspace.
func TestIntentCacheRedisInvalidateRemovesSharedEntry(t *testing.T) {
	client := setupRedisClient(t)
	ctx := context.Background()

	key := cache.Key("deploy service x", "fingerprint-b")
	plan := &ir.IntentIR{Goal: "deploy service x"}

	c, err := cache.Open(cache.Options{TTL: time.Hour, MaxEntries: 10, Redis: client, RedisPrefix: "zenus-test-inv:"})
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, key, func(ctx context.Context) (*ir.IntentIR, error) { return plan, nil })
	require.NoError(t, err)

	removed := c.Invalidate(ctx, key[:8])
	require.Equal(t, 1, removed)

	fresh, err := cache.Open(cache.Options{TTL: time.Hour, MaxEntries: 10, Redis: client, RedisPrefix: "zenus-test-inv:"})
	require.NoError(t, err)
	calls := 0
	_, err = fresh.GetOrCompute(ctx, key, func(ctx context.Context) (*ir.IntentIR, error) {
		calls++
		return plan, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls, "invalidated entry should force recompute")
}
