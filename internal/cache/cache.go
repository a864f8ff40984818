// Package cache implements IntentCache (spec.md §4.6): hash-keyed
// memoization of translate_fn(user_input, context) → IntentIR, backed by an
// in-process LRU with an optional Redis layer for cross-process sharing.
//
// Grounded on the teacher's registry.resultStreamManager
// (_examples/goadesign-goa-ai/registry/result_stream.go): a local map
// checked first, falling back to a Redis lookup, with Redis key TTL and an
// Options struct carrying sane defaults.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Guillhermm/zenus-os-sub000/internal/ir"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
)

// Entry is one memoized translation (spec.md §3 CacheEntry).
type Entry struct {
	Key       string       `json:"key"`
	IR        *ir.IntentIR `json:"ir"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	LastUsed  time.Time    `json:"last_used"`
}

func (e *Entry) expired(now time.Time) bool { return now.After(e.ExpiresAt) }

// Options configures an IntentCache.
type Options struct {
	// StateRoot is the directory holding intent_cache.json (spec.md §6,
	// normally ~/.zenus). Required for disk persistence; if empty, disk
	// persistence is disabled (useful for tests).
	StateRoot string
	// TTL is the lifetime of a fresh entry (spec.md §4.6 default via
	// config.Cache.TTLSeconds).
	TTL time.Duration
	// MaxEntries bounds the in-process LRU before oldest-last_used eviction.
	MaxEntries int
	// PersistEveryN persists the snapshot to disk after this many writes,
	// in addition to at Close. Zero disables the write-count trigger.
	PersistEveryN int
	// Redis, if non-nil, backs cross-process lookups the way
	// registry.resultStreamManager falls back to Redis on a local-cache miss.
	Redis *redis.Client
	// RedisPrefix namespaces keys in the shared Redis keyspace.
	RedisPrefix string

	Logger telemetry.Logger
}

const (
	defaultMaxEntries    = 500
	defaultTTL           = time.Hour
	defaultPersistEveryN = 20
	defaultRedisPrefix   = "zenus:intent_cache:"
	snapshotFile         = "intent_cache.json"
)

// IntentCache memoizes (input, context) → IntentIR (spec.md §4.6).
type IntentCache struct {
	opts   Options
	logger telemetry.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	writes  int

	inflight sync.Map // key -> *sync.Mutex, dedupes concurrent misses for the same key
}

// Open constructs an IntentCache, loading any existing disk snapshot from
// opts.StateRoot/intent_cache.json.
func Open(opts Options) (*IntentCache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.PersistEveryN <= 0 {
		opts.PersistEveryN = defaultPersistEveryN
	}
	if opts.RedisPrefix == "" {
		opts.RedisPrefix = defaultRedisPrefix
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}

	c := &IntentCache{
		opts:    opts,
		logger:  opts.Logger,
		entries: make(map[string]*Entry),
	}
	if opts.StateRoot != "" {
		if err := c.loadSnapshot(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Key computes the stable cache key for a user input and context fingerprint
// (spec.md §4.6: "Stable hash over normalize(user_input) ⊕
// context_fingerprint").
func Key(userInput, contextFingerprint string) string {
	norm := strings.ToLower(strings.TrimSpace(userInput))
	sum := sha256.Sum256([]byte(norm + "\x00" + contextFingerprint))
	return hex.EncodeToString(sum[:])
}

// ContextFingerprint computes a deterministic digest of the current working
// directory, the top-N frequent world-model paths, and the active profile
// name (spec.md §4.6).
func ContextFingerprint(cwd string, topPaths []string, profile string) string {
	h := sha256.New()
	h.Write([]byte(cwd))
	h.Write([]byte{0})
	for _, p := range topPaths {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	h.Write([]byte(profile))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// TranslateFunc produces a fresh IntentIR on a cache miss.
type TranslateFunc func(ctx context.Context) (*ir.IntentIR, error)

// GetOrCompute returns the cached IntentIR for key if present and unexpired,
// updating last_used. On a miss it calls translate exactly once even under
// concurrent callers for the same key (spec.md §8 property 7), stores the
// result with expires_at = now + TTL, and evicts the oldest-last_used entry
// if the cache is now over MaxEntries.
func (c *IntentCache) GetOrCompute(ctx context.Context, key string, translate TranslateFunc) (*ir.IntentIR, error) {
	if entry, ok := c.lookup(key); ok {
		return entry.IR, nil
	}

	lockIface, _ := c.inflight.LoadOrStore(key, &sync.Mutex{})
	keyLock := lockIface.(*sync.Mutex)
	keyLock.Lock()
	defer func() {
		keyLock.Unlock()
		c.inflight.Delete(key)
	}()

	// Re-check: another goroutine may have filled this key while we waited
	// for the per-key lock.
	if entry, ok := c.lookup(key); ok {
		return entry.IR, nil
	}

	computed, err := translate(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry := &Entry{
		Key:       key,
		IR:        computed,
		CreatedAt: now,
		ExpiresAt: now.Add(c.opts.TTL),
		LastUsed:  now,
	}
	c.store(ctx, entry)
	return computed, nil
}

func (c *IntentCache) lookup(key string) (*Entry, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !entry.expired(time.Now()) {
		entry.LastUsed = time.Now()
		c.mu.Unlock()
		return entry, true
	}
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok && c.opts.Redis != nil {
		return c.lookupRedis(key)
	}
	return nil, false
}

func (c *IntentCache) lookupRedis(key string) (*Entry, bool) {
	raw, err := c.opts.Redis.Get(context.Background(), c.opts.RedisPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn(context.Background(), "intent cache redis lookup failed", "error", err.Error())
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false
	}
	entry.LastUsed = time.Now()
	c.mu.Lock()
	c.entries[key] = &entry
	c.mu.Unlock()
	return &entry, true
}

func (c *IntentCache) store(ctx context.Context, entry *Entry) {
	c.mu.Lock()
	c.entries[entry.Key] = entry
	if len(c.entries) > c.opts.MaxEntries {
		c.evictOldestLocked()
	}
	c.writes++
	shouldPersist := c.opts.StateRoot != "" && c.writes%c.opts.PersistEveryN == 0
	c.mu.Unlock()

	if c.opts.Redis != nil {
		if raw, err := json.Marshal(entry); err == nil {
			if err := c.opts.Redis.Set(ctx, c.opts.RedisPrefix+entry.Key, raw, c.opts.TTL).Err(); err != nil {
				c.logger.Warn(ctx, "intent cache redis store failed", "error", err.Error())
			}
		}
	}
	if shouldPersist {
		if err := c.persistSnapshot(); err != nil {
			c.logger.Warn(ctx, "intent cache snapshot persist failed", "error", err.Error())
		}
	}
}

// evictOldestLocked removes the entry with the oldest LastUsed. Caller must
// hold c.mu.
func (c *IntentCache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.LastUsed.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.LastUsed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		if c.opts.Redis != nil {
			_ = c.opts.Redis.Del(context.Background(), c.opts.RedisPrefix+oldestKey).Err()
		}
	}
}

// Invalidate removes all keys sharing prefix from both the in-process LRU
// and Redis (spec.md §4.6, used after a world-model update).
func (c *IntentCache) Invalidate(ctx context.Context, prefix string) int {
	c.mu.Lock()
	var removed []string
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed = append(removed, k)
		}
	}
	c.mu.Unlock()

	if c.opts.Redis != nil {
		for _, k := range removed {
			_ = c.opts.Redis.Del(ctx, c.opts.RedisPrefix+k).Err()
		}
	}
	return len(removed)
}

// Len reports the number of entries currently held in the in-process LRU.
func (c *IntentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type snapshot struct {
	Entries []*Entry `json:"entries"`
}

func (c *IntentCache) snapshotPath() string {
	return filepath.Join(c.opts.StateRoot, snapshotFile)
}

// persistSnapshot writes the current entries to intent_cache.json.
func (c *IntentCache) persistSnapshot() error {
	c.mu.Lock()
	snap := snapshot{Entries: make([]*Entry, 0, len(c.entries))}
	for _, e := range c.entries {
		snap.Entries = append(snap.Entries, e)
	}
	c.mu.Unlock()

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal intent cache snapshot: %w", err)
	}
	tmp := c.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write intent cache snapshot: %w", err)
	}
	return os.Rename(tmp, c.snapshotPath())
}

func (c *IntentCache) loadSnapshot() error {
	b, err := os.ReadFile(c.snapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read intent cache snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("unmarshal intent cache snapshot: %w", err)
	}
	now := time.Now()
	for _, e := range snap.Entries {
		if !e.expired(now) {
			c.entries[e.Key] = e
		}
	}
	return nil
}

// Close persists the final snapshot to disk (spec.md §6: "at process exit").
func (c *IntentCache) Close() error {
	if c.opts.StateRoot == "" {
		return nil
	}
	return c.persistSnapshot()
}
