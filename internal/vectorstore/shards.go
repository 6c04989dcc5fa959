package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/askneu/askneu/pkg/models"
)

// shardCache holds the shard list with a TTL. Observers never see a
// partially populated list: the slice is built off-lock and swapped in
// whole under the write lock.
type shardCache struct {
	mu        sync.RWMutex
	shards    []models.Shard
	fetchedAt time.Time
	ttl       time.Duration
}

func newShardCache(ttl time.Duration) *shardCache {
	return &shardCache{ttl: ttl}
}

func (s *shardCache) get() ([]models.Shard, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shards == nil {
		return nil, time.Time{}, false
	}
	return s.shards, s.fetchedAt, true
}

func (s *shardCache) replace(shards []models.Shard) {
	s.mu.Lock()
	s.shards = shards
	s.fetchedAt = time.Now()
	s.mu.Unlock()
}

// ListShards returns the corpus shards, serving a cached list within
// TTL. forceRefresh bypasses the cache and replaces it atomically. On
// fetch failure a still-fresh cached list is served; with no usable
// cache the error maps to ErrVectorStoreUnavailable, since retrieval
// cannot proceed without a shard list.
func (c *Client) ListShards(ctx context.Context, forceRefresh bool) ([]models.Shard, error) {
	if !forceRefresh {
		if shards, fetchedAt, ok := c.shards.get(); ok && time.Since(fetchedAt) < c.shards.ttl {
			return shards, nil
		}
	}

	collections, err := c.listCollections(ctx)
	if err != nil {
		// Degrade to the cached list if it is still within TTL.
		if shards, fetchedAt, ok := c.shards.get(); ok && time.Since(fetchedAt) < c.shards.ttl {
			log.Warn().Err(err).Msg("Shard list refresh failed, serving cached list")
			return shards, nil
		}
		return nil, fmt.Errorf("%w: %v", models.ErrVectorStoreUnavailable, err)
	}

	shards := make([]models.Shard, 0, len(collections))
	for _, col := range collections {
		if !strings.Contains(strings.ToLower(col.Name), shardNameMarker) {
			continue
		}
		shard := models.Shard{ID: col.ID, Name: col.Name}
		if v, ok := col.Metadata["count"].(float64); ok {
			shard.ApproxSize = int(v)
		}
		shards = append(shards, shard)
	}

	c.shards.replace(shards)
	log.Debug().Int("shards", len(shards)).Int("collections", len(collections)).Msg("Shard list refreshed")
	return shards, nil
}

// InvalidateShards drops the cached shard list.
func (c *Client) InvalidateShards() {
	c.shards.mu.Lock()
	c.shards.shards = nil
	c.shards.fetchedAt = time.Time{}
	c.shards.mu.Unlock()
}
