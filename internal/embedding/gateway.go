package embedding

import (
	"container/list"
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// multiSpaceRegex matches runs of whitespace, pre-compiled for
// normalize.
var multiSpaceRegex = regexp.MustCompile(`\s+`)

// Gateway fronts a Provider with a bounded, age-limited LRU cache and
// singleflight coalescing of concurrent identical requests.
type Gateway struct {
	provider Provider
	group    singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	maxAge  time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key      string
	vector   []float32
	storedAt time.Time
}

// NewGateway creates a gateway over the given provider.
// maxSize and maxAge bound the cache; non-positive values fall back to
// 1024 entries and 10 minutes.
func NewGateway(provider Provider, maxSize int, maxAge time.Duration) *Gateway {
	if maxSize <= 0 {
		maxSize = 1024
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &Gateway{
		provider: provider,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		maxSize:  maxSize,
		maxAge:   maxAge,
	}
}

// normalize trims and collapses internal whitespace. The provider sees
// this form; the cache key additionally lowercases it.
func normalize(text string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(text, " "))
}

// Embed returns the vector for a text, from cache when possible.
// Cache hits return without touching the provider; misses call it and
// insert under the write lock. Concurrent misses for the same key are
// coalesced.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized := normalize(text)
	key := strings.ToLower(normalized)

	if vec, ok := g.get(key); ok {
		g.hits.Add(1)
		return vec, nil
	}
	g.misses.Add(1)

	result, err, _ := g.group.Do(key, func() (any, error) {
		// A coalesced waiter may find the cache populated by now.
		if vec, ok := g.get(key); ok {
			return vec, nil
		}
		vec, err := g.provider.Embed(ctx, normalized)
		if err != nil {
			return nil, err
		}
		g.put(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// Dimensions reports the provider's vector dimension.
func (g *Gateway) Dimensions() int { return g.provider.Dimensions() }

func (g *Gateway) get(key string) ([]float32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	elem, ok := g.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if time.Since(entry.storedAt) > g.maxAge {
		g.order.Remove(elem)
		delete(g.entries, key)
		return nil, false
	}
	g.order.MoveToFront(elem)
	return entry.vector, true
}

func (g *Gateway) put(key string, vector []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if elem, ok := g.entries[key]; ok {
		elem.Value.(*cacheEntry).vector = vector
		elem.Value.(*cacheEntry).storedAt = time.Now()
		g.order.MoveToFront(elem)
		return
	}

	g.entries[key] = g.order.PushFront(&cacheEntry{
		key:      key,
		vector:   vector,
		storedAt: time.Now(),
	})

	for len(g.entries) > g.maxSize {
		oldest := g.order.Back()
		if oldest == nil {
			break
		}
		g.order.Remove(oldest)
		delete(g.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Stats returns cache hit/miss counters for monitoring.
func (g *Gateway) Stats() map[string]any {
	g.mu.Lock()
	size := len(g.entries)
	g.mu.Unlock()

	return map[string]any{
		"size":     size,
		"max_size": g.maxSize,
		"hits":     g.hits.Load(),
		"misses":   g.misses.Load(),
	}
}

// InvalidateAll drops every cached embedding.
func (g *Gateway) InvalidateAll() {
	g.mu.Lock()
	g.entries = make(map[string]*list.Element)
	g.order = list.New()
	g.mu.Unlock()
}
