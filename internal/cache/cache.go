package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"golang.org/x/sync/singleflight"
)

const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Observer receives cache events, typically to export them as metrics.
type Observer interface {
	CacheHit(tier string)
	CacheMiss()
	CacheEviction(tier string, count int)
}

type Options struct {
	MaxMemoryBytes int64
	MaxDiskBytes   int64
	DefaultTTL     time.Duration
	CleanupEvery   int
	PromoteAfter   int
	Clock          func() time.Time
	Observer       Observer
}

type Stats struct {
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	HitRate           float64 `json:"hit_rate"`
	MemoryHits        int64   `json:"memory_hits"`
	DiskHits          int64   `json:"disk_hits"`
	Evictions         int64   `json:"evictions"`
	Cleanups          int64   `json:"cleanups"`
	MemoryEntries     int     `json:"memory_entries"`
	MemoryBytes       int64   `json:"memory_bytes"`
	MemoryUtilization float64 `json:"memory_utilization"`
	DiskEntries       int64   `json:"disk_entries"`
	DiskBytes         int64   `json:"disk_bytes"`
	DiskUtilization   float64 `json:"disk_utilization"`
}

type counters struct {
	hits, misses, memoryHits, diskHits, evictions, cleanups int64
}

type Cache struct {
	store  Store
	opts   Options
	logger *logger.Logger

	mu     sync.Mutex
	memory *memoryTier
	stats  counters
	writes int

	group singleflight.Group
}

func New(store Store, opts Options, log *logger.Logger) (*Cache, error) {
	if store == nil {
		return nil, models.NewValidationError("NIL_CACHE_STORE", "Cache requires a persistent store")
	}
	if opts.MaxMemoryBytes <= 0 {
		return nil, models.NewValidationError("INVALID_MEMORY_BUDGET", "Memory budget must be positive")
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 24 * time.Hour
	}
	if opts.CleanupEvery <= 0 {
		opts.CleanupEvery = 100
	}
	if opts.PromoteAfter <= 0 {
		opts.PromoteAfter = 3
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Cache{
		store:  store,
		opts:   opts,
		logger: log,
		memory: newMemoryTier(opts.MaxMemoryBytes),
	}, nil
}

// Get decodes the cached value for key into dest. It reports false on a miss.
func (cache *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, ok, err := cache.GetRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, models.NewInternalError("CACHE_DECODE_FAILED", "Failed to decode cached value").
			WithMetadata("key", key).WithCause(err)
	}
	return true, nil
}

func (cache *Cache) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	now := cache.opts.Clock()

	cache.mu.Lock()
	if entry, ok := cache.memory.get(key, now); ok {
		value := entry.Value
		cache.stats.hits++
		cache.stats.memoryHits++
		cache.mu.Unlock()
		cache.observeHit(TierMemory)
		cache.logger.Debug("Memory cache hit", "key", key)
		return value, true, nil
	}
	cache.mu.Unlock()

	entry, err := cache.store.Get(ctx, key, now)
	if err != nil {
		if models.IsNotFound(err) {
			cache.recordMiss(key)
			return nil, false, nil
		}
		// a broken store degrades to a miss
		cache.logger.WithError(err).Warn("Cache read error")
		cache.recordMiss(key)
		return nil, false, nil
	}

	cache.mu.Lock()
	cache.stats.hits++
	cache.stats.diskHits++
	var evicted int
	if entry.AccessCount >= int64(cache.opts.PromoteAfter) && cache.fitsMemory(entry.SizeBytes) {
		evicted = cache.memory.add(entry.clone())
		cache.stats.evictions += int64(evicted)
	}
	cache.mu.Unlock()

	cache.observeHit(TierDisk)
	cache.observeEvictions(TierMemory, evicted)
	cache.logger.Debug("Disk cache hit", "key", key, "access_count", entry.AccessCount)
	return entry.Value, true, nil
}

func (cache *Cache) recordMiss(key string) {
	cache.mu.Lock()
	cache.stats.misses++
	cache.mu.Unlock()
	if cache.opts.Observer != nil {
		cache.opts.Observer.CacheMiss()
	}
	cache.logger.Debug("Cache miss", "key", key)
}

// Set serializes value as JSON and stores it under key. The persistent store
// is written first; the memory tier mirrors values up to a tenth of its
// budget. A zero ttl uses the default TTL.
func (cache *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return models.NewValidationError("CACHE_ENCODE_FAILED", "Value cannot be serialized").
			WithMetadata("key", key).WithCause(err)
	}
	return cache.SetRaw(ctx, key, data, ttl, tags...)
}

func (cache *Cache) SetRaw(ctx context.Context, key string, data []byte, ttl time.Duration, tags ...string) error {
	if key == "" {
		return models.NewValidationError("EMPTY_CACHE_KEY", "Cache key is required")
	}
	if ttl == 0 {
		ttl = cache.opts.DefaultTTL
	}

	now := cache.opts.Clock()
	expiresAt := now.Add(ttl)
	if !expiresAt.After(now) {
		return models.NewInternalError("INVALID_CACHE_EXPIRY", "Cache entry would expire before it was created").
			WithMetadata("key", key).WithMetadata("ttl", ttl.String())
	}

	entry := &Entry{
		Key:          key,
		Value:        data,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		AccessCount:  1,
		LastAccessed: now,
		Tags:         append([]string(nil), tags...),
		SizeBytes:    int64(len(data)),
	}

	if err := cache.store.Put(ctx, entry); err != nil {
		cache.logger.WithError(err).Error("Cache write error")
		return models.NewExternalError("CACHE_WRITE_FAILED", "Failed to persist cache entry").
			WithMetadata("key", key).WithCause(err)
	}

	cache.mu.Lock()
	evicted := 0
	if cache.fitsMemory(entry.SizeBytes) {
		evicted = cache.memory.add(entry.clone())
		cache.stats.evictions += int64(evicted)
	} else {
		cache.memory.remove(key)
	}
	cache.writes++
	sweep := cache.writes%cache.opts.CleanupEvery == 0
	cache.mu.Unlock()

	cache.observeEvictions(TierMemory, evicted)
	cache.logger.Debug("Stored cache entry", "key", key, "size_bytes", entry.SizeBytes, "ttl", ttl.String())

	if sweep {
		if err := cache.Cleanup(ctx); err != nil {
			cache.logger.WithError(err).Warn("Periodic cache cleanup failed")
		}
	}
	return nil
}

func (cache *Cache) fitsMemory(size int64) bool {
	return size <= cache.opts.MaxMemoryBytes/10
}

func (cache *Cache) Delete(ctx context.Context, key string) error {
	cache.mu.Lock()
	cache.memory.remove(key)
	cache.mu.Unlock()

	if err := cache.store.Delete(ctx, key); err != nil {
		return models.NewExternalError("CACHE_DELETE_FAILED", "Failed to delete cache entry").
			WithMetadata("key", key).WithCause(err)
	}
	return nil
}

// DeleteByTags removes every entry carrying any of tags from both tiers and
// returns how many persistent entries were removed.
func (cache *Cache) DeleteByTags(ctx context.Context, tags ...string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	deleted, err := cache.store.DeleteByTags(ctx, tags)
	if err != nil {
		return 0, models.NewExternalError("CACHE_DELETE_FAILED", "Failed to delete tagged entries").
			WithMetadata("tags", tags).WithCause(err)
	}

	cache.mu.Lock()
	for _, key := range deleted {
		cache.memory.remove(key)
	}
	cache.memory.removeTagged(tags)
	cache.mu.Unlock()

	cache.logger.Info("Deleted cache entries by tags", "tags", tags, "count", len(deleted))
	return len(deleted), nil
}

// Cleanup purges expired entries from both tiers and trims the persistent
// store to its disk budget.
func (cache *Cache) Cleanup(ctx context.Context) error {
	now := cache.opts.Clock()

	cache.mu.Lock()
	memoryRemoved := cache.memory.removeExpired(now)
	cache.mu.Unlock()

	diskRemoved, err := cache.store.DeleteExpired(ctx, now)
	if err != nil {
		return models.NewExternalError("CACHE_CLEANUP_FAILED", "Failed to purge expired entries").WithCause(err)
	}

	var trimmed int64
	if cache.opts.MaxDiskBytes > 0 {
		trimmed, err = cache.store.EvictToSize(ctx, cache.opts.MaxDiskBytes)
		if err != nil {
			return models.NewExternalError("CACHE_CLEANUP_FAILED", "Failed to enforce disk budget").WithCause(err)
		}
	}

	if memoryRemoved > 0 || diskRemoved > 0 || trimmed > 0 {
		cache.mu.Lock()
		cache.stats.cleanups++
		cache.stats.evictions += trimmed
		cache.mu.Unlock()
		cache.observeEvictions(TierDisk, int(trimmed))
		cache.logger.Info("Cleaned up cache",
			"memory_expired", memoryRemoved,
			"disk_expired", diskRemoved,
			"disk_evicted", trimmed)
	}
	return nil
}

func (cache *Cache) Clear(ctx context.Context) error {
	cache.mu.Lock()
	cache.memory.clear()
	cache.mu.Unlock()

	if err := cache.store.Clear(ctx); err != nil {
		return models.NewExternalError("CACHE_CLEAR_FAILED", "Failed to clear cache").WithCause(err)
	}
	cache.logger.Info("Cleared all cache data")
	return nil
}

func (cache *Cache) Stats(ctx context.Context) (Stats, error) {
	cache.mu.Lock()
	stats := Stats{
		Hits:          cache.stats.hits,
		Misses:        cache.stats.misses,
		MemoryHits:    cache.stats.memoryHits,
		DiskHits:      cache.stats.diskHits,
		Evictions:     cache.stats.evictions,
		Cleanups:      cache.stats.cleanups,
		MemoryEntries: len(cache.memory.entries),
		MemoryBytes:   cache.memory.size,
	}
	cache.mu.Unlock()

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	stats.MemoryUtilization = float64(stats.MemoryBytes) / float64(cache.opts.MaxMemoryBytes)

	entries, bytes, err := cache.store.Usage(ctx)
	if err != nil {
		return stats, models.NewExternalError("CACHE_STATS_FAILED", "Failed to read persistent usage").WithCause(err)
	}
	stats.DiskEntries = entries
	stats.DiskBytes = bytes
	if cache.opts.MaxDiskBytes > 0 {
		stats.DiskUtilization = float64(bytes) / float64(cache.opts.MaxDiskBytes)
	}
	return stats, nil
}

// InMemory reports whether key is resident in the memory tier.
func (cache *Cache) InMemory(key string) bool {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return cache.memory.contains(key)
}

func (cache *Cache) HealthCheck(ctx context.Context) error {
	if err := cache.store.Ping(ctx); err != nil {
		return fmt.Errorf("cache store unhealthy: %w", err)
	}
	return nil
}

func (cache *Cache) Close() error {
	return cache.store.Close()
}

func (cache *Cache) observeHit(tier string) {
	if cache.opts.Observer != nil {
		cache.opts.Observer.CacheHit(tier)
	}
}

func (cache *Cache) observeEvictions(tier string, count int) {
	if cache.opts.Observer != nil && count > 0 {
		cache.opts.Observer.CacheEviction(tier, count)
	}
}
