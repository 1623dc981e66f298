package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chat-omega/fundonboarding/internal/cache"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) *cache.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewRedisStore(client, "test")
	t.Cleanup(func() { store.Close() })
	return store
}

func newEntry(key string, size int, createdAt time.Time, ttl time.Duration, tags ...string) *cache.Entry {
	value := make([]byte, size)
	for i := range value {
		value[i] = 'x'
	}
	return &cache.Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(ttl),
		AccessCount:  1,
		LastAccessed: createdAt,
		Tags:         tags,
		SizeBytes:    int64(size),
	}
}

func storesUnderTest(t *testing.T) map[string]cache.Store {
	return map[string]cache.Store{
		"sqlite": newSQLiteStore(t),
		"redis":  newRedisStore(t),
	}
}

func TestStoreGetTouchesEntry(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

			if err := store.Put(ctx, newEntry("k", 5, start, time.Hour, "fund:VTI")); err != nil {
				t.Fatalf("Failed to put: %v", err)
			}

			later := start.Add(time.Minute)
			entry, err := store.Get(ctx, "k", later)
			if err != nil {
				t.Fatalf("Failed to get: %v", err)
			}
			if entry.AccessCount != 2 {
				t.Errorf("Expected access count 2, got %d", entry.AccessCount)
			}
			if !entry.LastAccessed.Equal(later) {
				t.Errorf("Expected last accessed %v, got %v", later, entry.LastAccessed)
			}
			if len(entry.Tags) != 1 || entry.Tags[0] != "fund:VTI" {
				t.Errorf("Expected tags to round trip, got %v", entry.Tags)
			}

			again, err := store.Get(ctx, "k", later.Add(time.Minute))
			if err != nil {
				t.Fatalf("Failed to get: %v", err)
			}
			if again.AccessCount != 3 {
				t.Errorf("Expected access count 3, got %d", again.AccessCount)
			}
		})
	}
}

func TestStoreMissAndExpiry(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

			if _, err := store.Get(ctx, "missing", start); !models.IsNotFound(err) {
				t.Errorf("Expected not found error, got %v", err)
			}

			store.Put(ctx, newEntry("k", 5, start, time.Hour))
			if _, err := store.Get(ctx, "k", start.Add(2*time.Hour)); !models.IsNotFound(err) {
				t.Errorf("Expected expired entry to miss, got %v", err)
			}

			removed, err := store.DeleteExpired(ctx, start.Add(2*time.Hour))
			if err != nil {
				t.Fatalf("Failed to delete expired: %v", err)
			}
			if removed != 1 {
				t.Errorf("Expected 1 expired entry removed, got %d", removed)
			}

			entries, bytes, err := store.Usage(ctx)
			if err != nil {
				t.Fatalf("Failed to read usage: %v", err)
			}
			if entries != 0 || bytes != 0 {
				t.Errorf("Expected empty store, got %d entries and %d bytes", entries, bytes)
			}
		})
	}
}

func TestStoreDeleteByTags(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

			store.Put(ctx, newEntry("a", 5, start, time.Hour, "research", "fund:VTI"))
			store.Put(ctx, newEntry("b", 5, start, time.Hour, "classification", "fund:VTI"))
			store.Put(ctx, newEntry("c", 5, start, time.Hour, "research", "fund:BND"))

			deleted, err := store.DeleteByTags(ctx, []string{"fund:VTI"})
			if err != nil {
				t.Fatalf("Failed to delete by tags: %v", err)
			}
			if len(deleted) != 2 {
				t.Errorf("Expected 2 deleted keys, got %v", deleted)
			}
			if _, err := store.Get(ctx, "c", start); err != nil {
				t.Errorf("Expected untagged entry to survive, got %v", err)
			}

			entries, bytes, _ := store.Usage(ctx)
			if entries != 1 || bytes != 5 {
				t.Errorf("Expected 1 entry of 5 bytes, got %d entries and %d bytes", entries, bytes)
			}
		})
	}
}

func TestStoreEvictToSize(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

			store.Put(ctx, newEntry("old", 40, start, time.Hour))
			store.Put(ctx, newEntry("mid", 40, start.Add(time.Second), time.Hour))
			store.Put(ctx, newEntry("new", 40, start.Add(2*time.Second), time.Hour))

			evicted, err := store.EvictToSize(ctx, 100)
			if err != nil {
				t.Fatalf("Failed to evict: %v", err)
			}
			if evicted != 1 {
				t.Errorf("Expected 1 eviction, got %d", evicted)
			}
			if _, err := store.Get(ctx, "old", start); !models.IsNotFound(err) {
				t.Errorf("Expected oldest entry evicted, got %v", err)
			}
			if _, err := store.Get(ctx, "new", start); err != nil {
				t.Errorf("Expected newest entry to survive, got %v", err)
			}
		})
	}
}

func TestStoreReplaceKeepsSizeAccurate(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

			store.Put(ctx, newEntry("k", 50, start, time.Hour, "research"))
			store.Put(ctx, newEntry("k", 20, start, time.Hour, "classification"))

			entries, bytes, _ := store.Usage(ctx)
			if entries != 1 || bytes != 20 {
				t.Errorf("Expected 1 entry of 20 bytes, got %d entries and %d bytes", entries, bytes)
			}

			deleted, _ := store.DeleteByTags(ctx, []string{"research"})
			if len(deleted) != 0 {
				t.Errorf("Expected replaced tags to be dropped, got %v", deleted)
			}
		})
	}
}

func TestCacheOverRedisStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(t, newRedisStore(t), clock, nil)

	if err := c.Set(ctx, cache.FundResearchKey("BND"), "bond research", time.Hour, cache.TagResearch); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	var value string
	if ok, _ := c.Get(ctx, cache.FundResearchKey("BND"), &value); !ok || value != "bond research" {
		t.Errorf("Expected cached research, got %q", value)
	}

	if n, err := c.InvalidateResearch(ctx); err != nil || n != 1 {
		t.Errorf("Expected 1 invalidated entry, got %d err=%v", n, err)
	}
	if ok, _ := c.Get(ctx, cache.FundResearchKey("BND"), &value); ok {
		t.Error("Expected research entry to be gone")
	}

	if err := c.HealthCheck(ctx); err != nil {
		t.Errorf("Expected healthy store, got %v", err)
	}
}
