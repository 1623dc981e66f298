package cache

import "time"

// memoryTier is not safe for concurrent use; Cache serializes access.
type memoryTier struct {
	entries  map[string]*Entry
	size     int64
	maxBytes int64

	// inserted records insertion order; it breaks LastAccessed ties.
	inserted map[string]uint64
	nextSeq  uint64
}

func newMemoryTier(maxBytes int64) *memoryTier {
	return &memoryTier{
		entries:  make(map[string]*Entry),
		maxBytes: maxBytes,
		inserted: make(map[string]uint64),
	}
}

func (tier *memoryTier) get(key string, now time.Time) (*Entry, bool) {
	entry, ok := tier.entries[key]
	if !ok {
		return nil, false
	}
	if entry.Expired(now) {
		tier.remove(key)
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccessed = now
	return entry, true
}

func (tier *memoryTier) contains(key string) bool {
	_, ok := tier.entries[key]
	return ok
}

// add stores entry, evicting the least recently accessed entries until it
// fits. It returns how many entries were evicted.
func (tier *memoryTier) add(entry *Entry) int {
	tier.remove(entry.Key)

	evicted := 0
	for tier.size+entry.SizeBytes > tier.maxBytes && len(tier.entries) > 0 {
		tier.remove(tier.leastRecentlyAccessed())
		evicted++
	}

	tier.entries[entry.Key] = entry
	tier.size += entry.SizeBytes
	tier.nextSeq++
	tier.inserted[entry.Key] = tier.nextSeq
	return evicted
}

// leastRecentlyAccessed picks the entry with the oldest LastAccessed. Among
// equals the earliest inserted goes first.
func (tier *memoryTier) leastRecentlyAccessed() string {
	var (
		lruKey  string
		lruTime time.Time
		lruSeq  uint64
		found   bool
	)
	for key, entry := range tier.entries {
		seq := tier.inserted[key]
		if !found || entry.LastAccessed.Before(lruTime) ||
			(entry.LastAccessed.Equal(lruTime) && seq < lruSeq) {
			lruKey, lruTime, lruSeq, found = key, entry.LastAccessed, seq, true
		}
	}
	return lruKey
}

func (tier *memoryTier) remove(key string) bool {
	entry, ok := tier.entries[key]
	if !ok {
		return false
	}
	tier.size -= entry.SizeBytes
	delete(tier.entries, key)
	delete(tier.inserted, key)
	return true
}

func (tier *memoryTier) removeExpired(now time.Time) int {
	removed := 0
	for key, entry := range tier.entries {
		if entry.Expired(now) {
			tier.remove(key)
			removed++
		}
	}
	return removed
}

func (tier *memoryTier) removeTagged(tags []string) int {
	removed := 0
	for key, entry := range tier.entries {
		if entry.HasAnyTag(tags) {
			tier.remove(key)
			removed++
		}
	}
	return removed
}

func (tier *memoryTier) clear() {
	tier.entries = make(map[string]*Entry)
	tier.inserted = make(map[string]uint64)
	tier.size = 0
}
