// Package cache implements the two-tier research cache: a bounded in-memory
// tier with least-recently-accessed eviction in front of a persistent store
// with per-entry TTL and tag invalidation.
package cache

import (
	"context"
	"time"
)

type Entry struct {
	Key          string    `json:"key"`
	Value        []byte    `json:"value"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccessCount  int64     `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
	Tags         []string  `json:"tags"`
	SizeBytes    int64     `json:"size_bytes"`
}

// Expired reports whether the entry must no longer be served at now.
func (entry *Entry) Expired(now time.Time) bool {
	return now.After(entry.ExpiresAt)
}

func (entry *Entry) HasAnyTag(tags []string) bool {
	for _, tag := range tags {
		for _, own := range entry.Tags {
			if own == tag {
				return true
			}
		}
	}
	return false
}

func (entry *Entry) clone() *Entry {
	clone := *entry
	clone.Tags = append([]string(nil), entry.Tags...)
	return &clone
}

// Store is the persistent tier. Implementations treat expired rows as absent
// on Get and must be safe for concurrent use.
type Store interface {
	// Get returns the live entry for key after incrementing its access count
	// and setting last_accessed to now. Missing or expired keys return
	// models.ErrCacheMiss.
	Get(ctx context.Context, key string, now time.Time) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error
	// DeleteByTags removes every entry carrying any of tags and returns the removed keys.
	DeleteByTags(ctx context.Context, tags []string) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// EvictToSize removes least recently accessed entries until the stored
	// bytes fit within maxBytes.
	EvictToSize(ctx context.Context, maxBytes int64) (int64, error)
	Usage(ctx context.Context) (entries int64, bytes int64, err error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
