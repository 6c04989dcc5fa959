// Package embedding provides the embedding gateway: a REST client for
// an OpenAI-compatible embedding provider fronted by a bounded LRU
// cache with request coalescing.
package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/askneu/askneu/pkg/models"
)

const (
	// requestTimeout is the upper bound for a single provider call.
	requestTimeout = 1500 * time.Millisecond

	// retryBackoff is the delay before the single retry on a
	// transient network error.
	retryBackoff = 250 * time.Millisecond

	// normTolerance is how far from unit length a returned vector may
	// be before the gateway renormalizes it.
	normTolerance = 1e-3
)

// Provider produces a fixed-dimension vector for arbitrary text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Limiter caps concurrent in-flight upstream requests. Satisfied by
// *semaphore.Weighted.
type Limiter interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// Client is an OpenAI-compatible embedding REST client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
	dimensions int
	limiter    Limiter
}

// ClientConfig holds configuration for the embedding client.
type ClientConfig struct {
	Endpoint   string
	APIKey     string
	ModelID    string
	Dimensions int
	Limiter    Limiter
}

// NewClient creates a new embedding client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("embedding model id is required")
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		modelID:    cfg.ModelID,
		dimensions: cfg.Dimensions,
		limiter:    cfg.Limiter,
	}, nil
}

// Dimensions returns the vector dimension reported by configuration,
// or 0 when it is discovered from the first response.
func (c *Client) Dimensions() int { return c.dimensions }

type embedRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed requests a vector for a single text. Retries once after a
// short backoff on transient network errors; all failures map to
// ErrEmbeddingUnavailable.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedOnce(ctx, text)
	if err == nil {
		return vec, nil
	}
	if !isTransient(err) || ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, ctx.Err())
	case <-time.After(retryBackoff):
	}

	vec, err = c.embedOnce(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire upstream slot: %w", err)
		}
		defer c.limiter.Release(1)
	}

	body, err := json.Marshal(embedRequest{
		Input:          []string{text},
		Model:          c.modelID,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embedding request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodySnippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{
			status: resp.StatusCode,
			msg: fmt.Sprintf("embedding API error (model=%s, status=%d): %s",
				c.modelID, resp.StatusCode, strings.TrimSpace(string(bodySnippet))),
		}
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embedding response from %s: %w", c.baseURL, err)
	}
	if len(embedResp.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no results for model %s", c.modelID)
	}

	sort.Slice(embedResp.Data, func(i, j int) bool {
		return embedResp.Data[i].Index < embedResp.Data[j].Index
	})

	vec := embedResp.Data[0].Embedding
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding API returned an empty vector for model %s", c.modelID)
	}
	return ensureUnitNorm(vec), nil
}

// statusError carries an HTTP status for transient/permanent checks.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

// isTransient reports whether an error is worth a single retry:
// network-level failures and retryable HTTP statuses.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// Wrapped transport errors from http.Client.Do.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// ensureUnitNorm renormalizes a vector whose L2 norm drifts beyond the
// tolerance. A zero vector is returned unchanged.
func ensureUnitNorm(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.Abs(norm-1.0) <= normTolerance {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
