package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	TagResearch       = "research"
	TagClassification = "classification"
	TagWebSearch      = "web_search"
)

func FundResearchKey(ticker string) string {
	return "fund_research:" + strings.ToUpper(strings.TrimSpace(ticker))
}

// ClassificationKey scopes a classification to the fund and to the research
// it was derived from, so fresh research never hits a stale answer.
func ClassificationKey(ticker, fundName, researchFingerprint string) string {
	return "classification:" + strings.ToUpper(strings.TrimSpace(ticker)) + ":" +
		shortHash(strings.ToLower(fundName), 8) + ":" + shortHash(researchFingerprint, 8)
}

func WebSearchKey(query, engine string) string {
	return "web_search:" + engine + ":" + shortHash(query, 16)
}

func FundTag(ticker string) string {
	return "fund:" + strings.ToUpper(strings.TrimSpace(ticker))
}

func shortHash(value string, length int) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:length]
}

// InvalidateFund drops everything cached about one ticker.
func (cache *Cache) InvalidateFund(ctx context.Context, ticker string) (int, error) {
	return cache.DeleteByTags(ctx, FundTag(ticker))
}

func (cache *Cache) InvalidateResearch(ctx context.Context) (int, error) {
	return cache.DeleteByTags(ctx, TagResearch)
}

// GetOrCompute returns the cached value for key, or runs compute and caches
// its result. Concurrent misses on the same key share a single compute call.
// The boolean reports whether the value came from the cache.
func GetOrCompute[T any](ctx context.Context, cache *Cache, key string, ttl time.Duration, tags []string, compute func(context.Context) (T, error)) (T, bool, error) {
	return GetOrComputeIf(ctx, cache, key, ttl, tags, compute, nil)
}

// GetOrComputeIf is GetOrCompute with a keep predicate. A computed value is
// only stored when keep is nil or returns true.
func GetOrComputeIf[T any](ctx context.Context, cache *Cache, key string, ttl time.Duration, tags []string, compute func(context.Context) (T, error), keep func(T) bool) (T, bool, error) {
	var cached T
	if ok, err := cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, true, nil
	}

	type outcome struct {
		value     T
		fromCache bool
	}

	result, err, _ := cache.group.Do(key, func() (interface{}, error) {
		var again T
		if ok, err := cache.Get(ctx, key, &again); err == nil && ok {
			return outcome{value: again, fromCache: true}, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if keep != nil && !keep(value) {
			return outcome{value: value}, nil
		}
		if err := cache.Set(ctx, key, value, ttl, tags...); err != nil {
			cache.logger.WithError(err).Warn("Failed to cache computed value")
		}
		return outcome{value: value}, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}

	out := result.(outcome)
	return out.value, out.fromCache, nil
}
