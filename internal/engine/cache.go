package engine

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/askneu/askneu/pkg/models"
)

// Answer cache configuration.
const (
	answerCacheTTL     = 30 * time.Second // short TTL for freshness
	answerCacheMaxSize = 200
	evictionPercent    = 10 // evict 10% when the cache is full
	evictionThreshold  = 80 // start eviction scan at 80% capacity
)

// answerCache stores recent envelopes with expiry. Identical questions
// inside the TTL are answered without touching the upstreams.
type answerCache struct {
	mu      sync.RWMutex
	entries map[string]*cachedAnswer
	ttl     time.Duration
	maxSize int
}

type cachedAnswer struct {
	envelope  *models.AnswerEnvelope
	expiresAt time.Time
}

func newAnswerCache() *answerCache {
	return &answerCache{
		entries: make(map[string]*cachedAnswer),
		ttl:     answerCacheTTL,
		maxSize: answerCacheMaxSize,
	}
}

// key hashes the normalized question and mode. FNV-64a is fast and
// collision-safe for cache keys.
func cacheKey(normalizedText string, mode models.Mode) string {
	h := fnv.New64a()
	h.Write([]byte(normalizedText))
	h.Write([]byte{'|'})
	h.Write([]byte(mode))
	return strconv.FormatUint(h.Sum64(), 36)
}

func (c *answerCache) get(key string) (*models.AnswerEnvelope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cached, ok := c.entries[key]; ok {
		if time.Now().Before(cached.expiresAt) {
			return cached.envelope, true
		}
	}
	return nil, false
}

// put stores an envelope. Expired-entry scans are amortized: they only
// run once the cache crosses the capacity threshold.
func (c *answerCache) put(key string, envelope *models.AnswerEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	size := len(c.entries)

	threshold := (c.maxSize * evictionThreshold) / 100
	if size >= threshold {
		for k, v := range c.entries {
			if now.After(v.expiresAt) {
				delete(c.entries, k)
			}
		}
		size = len(c.entries)
	}

	if size >= c.maxSize {
		evictCount := c.maxSize * evictionPercent / 100
		if evictCount < 1 {
			evictCount = 1
		}
		evicted := 0
		for k := range c.entries {
			delete(c.entries, k)
			evicted++
			if evicted >= evictCount {
				break
			}
		}
	}

	c.entries[key] = &cachedAnswer{
		envelope:  envelope,
		expiresAt: now.Add(c.ttl),
	}
}

// invalidateAll drops every cached answer.
func (c *answerCache) invalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*cachedAnswer)
	c.mu.Unlock()
}

func (c *answerCache) stats() map[string]any {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return map[string]any{
		"size":     size,
		"max_size": c.maxSize,
		"ttl_sec":  c.ttl.Seconds(),
	}
}
