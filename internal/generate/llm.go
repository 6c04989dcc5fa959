// Package generate assembles deadline-aware, length-bounded prompts
// from ranked candidates and produces the final answer envelope via an
// OpenAI-compatible chat provider.
package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/askneu/askneu/pkg/models"
)

// retryMinRemaining is the minimum deadline headroom required for the
// single retry on a transient transport error.
const retryMinRemaining = time.Second

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient sends a prompt to a chat LLM and returns its text.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)
}

// Limiter caps concurrent in-flight upstream requests. Satisfied by
// *semaphore.Weighted.
type Limiter interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// HTTPChatClient is an OpenAI-compatible chat completion client.
type HTTPChatClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    Limiter
}

// ChatConfig holds configuration for the chat client.
type ChatConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Limiter  Limiter
}

// NewHTTPChatClient creates a chat client.
func NewHTTPChatClient(cfg ChatConfig) (*HTTPChatClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("llm endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	return &HTTPChatClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		limiter:    cfg.Limiter,
	}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends a completion request. The caller's context carries the
// request timeout. One retry is attempted on a transient transport
// error when at least a second of deadline remains.
func (c *HTTPChatClient) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	text, err := c.chatOnce(ctx, messages, temperature, maxTokens)
	if err == nil {
		return text, nil
	}

	deadline, ok := ctx.Deadline()
	canRetry := isTransportError(err) && (!ok || time.Until(deadline) >= retryMinRemaining)
	if !canRetry || ctx.Err() != nil {
		// Keep the cause in the chain so callers can distinguish a
		// context timeout from a provider failure.
		return "", fmt.Errorf("%w: %w", models.ErrLLMUnavailable, err)
	}

	text, err = c.chatOnce(ctx, messages, temperature, maxTokens)
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrLLMUnavailable, err)
	}
	return text, nil
}

func (c *HTTPChatClient) chatOnce(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("acquire upstream slot: %w", err)
		}
		defer c.limiter.Release(1)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send chat request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat API error (model=%s, status=%d): %s",
			c.model, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices for model %s", c.model)
	}
	return parsed.Choices[0].Message.Content, nil
}

// isTransportError reports whether an error came from the network
// layer rather than the provider.
func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
