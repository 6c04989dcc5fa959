// Package vectorstore provides a Chroma-style vector database client:
// cosine top-k queries against individual collections and a cached,
// atomically replaced listing of corpus shards.
package vectorstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/askneu/askneu/pkg/models"
)

const (
	// listTimeout bounds the collection-listing request.
	listTimeout = 10 * time.Second

	// shardNameMarker tags collections that hold corpus partitions.
	shardNameMarker = "batch"
)

// Limiter caps concurrent in-flight upstream requests. Satisfied by
// *semaphore.Weighted.
type Limiter interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// Client talks to a Chroma-compatible vector store over REST.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	tenant     string
	database   string
	limiter    Limiter

	shards *shardCache
}

// Config holds configuration for the vector store client.
type Config struct {
	Endpoint     string
	APIKey       string
	Tenant       string
	Database     string
	ShardListTTL time.Duration

	// Limiter is optional; when set, every upstream request holds one
	// slot for its duration.
	Limiter Limiter
}

// NewClient creates a new vector store client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("vector store endpoint is required")
	}
	ttl := cfg.ShardListTTL
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}
	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		tenant:     cfg.Tenant,
		database:   cfg.Database,
		limiter:    cfg.Limiter,
		shards:     newShardCache(ttl),
	}, nil
}

type queryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

type queryResponse struct {
	IDs       [][]string         `json:"ids"`
	Distances [][]float64        `json:"distances"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// QueryCollection runs a cosine top-k query against one collection.
// The caller's context carries the per-query timeout. Failures here
// are per-collection and therefore non-fatal: the caller is expected
// to treat an error as an empty result.
func (c *Client) QueryCollection(ctx context.Context, collectionID string, vector []float32, k int) ([]models.Candidate, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire upstream slot: %w", err)
		}
		defer c.limiter.Release(1)
	}

	body, err := json.Marshal(queryRequest{
		QueryEmbeddings: [][]float32{vector},
		NResults:        k,
		Include:         []string{"documents", "metadatas", "distances"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/collections/%s/query", c.baseURL, collectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("collection", collectionID).Msg("Shard query failed")
		return nil, fmt.Errorf("query collection %s: %w", collectionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		log.Warn().
			Int("status", resp.StatusCode).
			Str("collection", collectionID).
			Msg("Shard query returned non-2xx")
		return nil, fmt.Errorf("query collection %s: status %d: %s",
			collectionID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode query response for %s: %w", collectionID, err)
	}

	return candidatesFromResponse(collectionID, parsed), nil
}

// candidatesFromResponse flattens the store's parallel-array response
// for the first (only) query vector into candidates.
func candidatesFromResponse(collectionID string, resp queryResponse) []models.Candidate {
	if len(resp.IDs) == 0 {
		return nil
	}
	ids := resp.IDs[0]
	candidates := make([]models.Candidate, 0, len(ids))
	for i, id := range ids {
		cand := models.Candidate{
			DocID:        id,
			CollectionID: collectionID,
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			cand.RawDistance = resp.Distances[0][i]
			cand.Similarity = models.CosineSimilarity(cand.RawDistance)
		}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			cand.Content = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			cand.Metadata = stringifyMetadata(resp.Metadatas[0][i])
		}
		candidates = append(candidates, cand)
	}
	return candidates
}

func stringifyMetadata(meta map[string]any) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		case nil:
			// skip
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

type collectionInfo struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

// listCollections fetches the raw collection list from the store.
func (c *Client) listCollections(ctx context.Context) ([]collectionInfo, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire upstream slot: %w", err)
		}
		defer c.limiter.Release(1)
	}

	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/collections", nil)
	if err != nil {
		return nil, fmt.Errorf("create list request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("list collections: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var collections []collectionInfo
	if err := json.NewDecoder(resp.Body).Decode(&collections); err != nil {
		return nil, fmt.Errorf("decode collection list: %w", err)
	}
	return collections, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.tenant != "" || c.database != "" {
		q := req.URL.Query()
		if c.tenant != "" {
			q.Set("tenant", c.tenant)
		}
		if c.database != "" {
			q.Set("database", c.database)
		}
		req.URL.RawQuery = q.Encode()
	}
}
