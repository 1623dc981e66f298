package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares the persistent tier between processes. Each entry is a
// hash; tag membership lives in sets and expiry/recency in sorted sets so
// sweeps and tag deletion avoid key scans.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "fundcache"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (store *RedisStore) entryKey(key string) string {
	return fmt.Sprintf("%s:entry:%s", store.prefix, key)
}

func (store *RedisStore) tagKey(tag string) string {
	return fmt.Sprintf("%s:tag:%s", store.prefix, tag)
}

func (store *RedisStore) expiryKey() string { return store.prefix + ":expiry" }
func (store *RedisStore) recencyKey() string { return store.prefix + ":recency" }
func (store *RedisStore) bytesKey() string   { return store.prefix + ":bytes" }

func (store *RedisStore) Ping(ctx context.Context) error {
	return store.client.Ping(ctx).Err()
}

func (store *RedisStore) Close() error {
	return store.client.Close()
}

func (store *RedisStore) Get(ctx context.Context, key string, now time.Time) (*Entry, error) {
	fields, err := store.client.HGetAll(ctx, store.entryKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrCacheMiss.WithMetadata("key", key)
	}

	entry, err := decodeEntry(key, fields)
	if err != nil {
		return nil, err
	}
	if entry.Expired(now) {
		return nil, models.ErrCacheMiss.WithMetadata("key", key)
	}

	pipe := store.client.TxPipeline()
	pipe.HIncrBy(ctx, store.entryKey(key), "access_count", 1)
	pipe.HSet(ctx, store.entryKey(key), "last_accessed", strconv.FormatInt(now.UnixNano(), 10))
	pipe.ZAdd(ctx, store.recencyKey(), redis.Z{Score: float64(now.UnixMilli()), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to update cache access: %w", err)
	}

	entry.AccessCount++
	entry.LastAccessed = now
	return entry, nil
}

func (store *RedisStore) Put(ctx context.Context, entry *Entry) error {
	previous, err := store.client.HMGet(ctx, store.entryKey(entry.Key), "size_bytes", "tags").Result()
	if err != nil {
		return fmt.Errorf("failed to read previous entry: %w", err)
	}
	var previousSize int64
	var previousTags []string
	if raw, ok := previous[0].(string); ok {
		previousSize, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw, ok := previous[1].(string); ok {
		previousTags = decodeTags(raw)
	}

	tagsJSON, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	pipe := store.client.TxPipeline()
	for _, tag := range previousTags {
		pipe.SRem(ctx, store.tagKey(tag), entry.Key)
	}
	pipe.HSet(ctx, store.entryKey(entry.Key), map[string]interface{}{
		"value":         entry.Value,
		"created_at":    strconv.FormatInt(entry.CreatedAt.UnixNano(), 10),
		"expires_at":    strconv.FormatInt(entry.ExpiresAt.UnixNano(), 10),
		"access_count":  strconv.FormatInt(entry.AccessCount, 10),
		"last_accessed": strconv.FormatInt(entry.LastAccessed.UnixNano(), 10),
		"tags":          string(tagsJSON),
		"size_bytes":    strconv.FormatInt(entry.SizeBytes, 10),
	})
	for _, tag := range entry.Tags {
		pipe.SAdd(ctx, store.tagKey(tag), entry.Key)
	}
	pipe.ZAdd(ctx, store.expiryKey(), redis.Z{Score: float64(entry.ExpiresAt.UnixMilli()), Member: entry.Key})
	pipe.ZAdd(ctx, store.recencyKey(), redis.Z{Score: float64(entry.LastAccessed.UnixMilli()), Member: entry.Key})
	pipe.IncrBy(ctx, store.bytesKey(), entry.SizeBytes-previousSize)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (store *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := store.delete(ctx, key)
	return err
}

func (store *RedisStore) delete(ctx context.Context, key string) (bool, error) {
	values, err := store.client.HMGet(ctx, store.entryKey(key), "size_bytes", "tags").Result()
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	rawSize, exists := values[0].(string)
	if !exists {
		return false, nil
	}
	size, _ := strconv.ParseInt(rawSize, 10, 64)
	var tags []string
	if raw, ok := values[1].(string); ok {
		tags = decodeTags(raw)
	}

	pipe := store.client.TxPipeline()
	pipe.Del(ctx, store.entryKey(key))
	for _, tag := range tags {
		pipe.SRem(ctx, store.tagKey(tag), key)
	}
	pipe.ZRem(ctx, store.expiryKey(), key)
	pipe.ZRem(ctx, store.recencyKey(), key)
	pipe.DecrBy(ctx, store.bytesKey(), size)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return true, nil
}

func (store *RedisStore) DeleteByTags(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	tagKeys := make([]string, len(tags))
	for i, tag := range tags {
		tagKeys[i] = store.tagKey(tag)
	}

	keys, err := store.client.SUnion(ctx, tagKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tagged entries: %w", err)
	}

	var deleted []string
	for _, key := range keys {
		removed, err := store.delete(ctx, key)
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted = append(deleted, key)
		}
	}
	return deleted, nil
}

func (store *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	candidates, err := store.client.ZRangeByScore(ctx, store.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired entries: %w", err)
	}

	var removed int64
	for _, key := range candidates {
		raw, err := store.client.HGet(ctx, store.entryKey(key), "expires_at").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return removed, fmt.Errorf("failed to read expiry: %w", err)
		}
		expiresAt, _ := strconv.ParseInt(raw, 10, 64)
		if raw != "" && !now.After(time.Unix(0, expiresAt)) {
			continue
		}
		if raw == "" {
			store.client.ZRem(ctx, store.expiryKey(), key)
			store.client.ZRem(ctx, store.recencyKey(), key)
			continue
		}
		ok, err := store.delete(ctx, key)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (store *RedisStore) EvictToSize(ctx context.Context, maxBytes int64) (int64, error) {
	var evicted int64
	for {
		total, err := store.client.Get(ctx, store.bytesKey()).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return evicted, fmt.Errorf("failed to read cache size: %w", err)
		}
		if total <= maxBytes {
			return evicted, nil
		}

		oldest, err := store.client.ZRange(ctx, store.recencyKey(), 0, 0).Result()
		if err != nil {
			return evicted, fmt.Errorf("failed to find eviction candidate: %w", err)
		}
		if len(oldest) == 0 {
			return evicted, nil
		}
		if _, err := store.delete(ctx, oldest[0]); err != nil {
			return evicted, err
		}
		store.client.ZRem(ctx, store.recencyKey(), oldest[0])
		evicted++
	}
}

func (store *RedisStore) Usage(ctx context.Context) (int64, int64, error) {
	entries, err := store.client.ZCard(ctx, store.expiryKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	bytes, err := store.client.Get(ctx, store.bytesKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("failed to read cache size: %w", err)
	}
	return entries, bytes, nil
}

func (store *RedisStore) Clear(ctx context.Context) error {
	iter := store.client.Scan(ctx, 0, store.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := store.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func decodeEntry(key string, fields map[string]string) (*Entry, error) {
	parseInt := func(name string) (int64, error) {
		value, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return 0, models.NewInternalError("CORRUPT_CACHE_ENTRY", "Cache entry field is not an integer").
				WithMetadata("key", key).WithMetadata("field", name).WithCause(err)
		}
		return value, nil
	}

	createdAt, err := parseInt("created_at")
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseInt("expires_at")
	if err != nil {
		return nil, err
	}
	accessCount, err := parseInt("access_count")
	if err != nil {
		return nil, err
	}
	lastAccessed, err := parseInt("last_accessed")
	if err != nil {
		return nil, err
	}
	size, err := parseInt("size_bytes")
	if err != nil {
		return nil, err
	}

	return &Entry{
		Key:          key,
		Value:        []byte(fields["value"]),
		CreatedAt:    time.Unix(0, createdAt),
		ExpiresAt:    time.Unix(0, expiresAt),
		AccessCount:  accessCount,
		LastAccessed: time.Unix(0, lastAccessed),
		Tags:         decodeTags(fields["tags"]),
		SizeBytes:    size,
	}, nil
}
