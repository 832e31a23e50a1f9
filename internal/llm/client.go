// Package llm provides an HTTP client for OpenAI-compatible chat completion
// and embedding endpoints. The default target is Ollama's /v1 API, but any
// server speaking the OpenAI wire format works unchanged.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/wellbot/wellbot/internal/httputil"
	"github.com/wellbot/wellbot/pkg/types"
)

const (
	// DefaultBaseURL is the default Ollama OpenAI-compatible endpoint.
	DefaultBaseURL = "http://localhost:11434/v1"

	chatEndpoint      = "/chat/completions"
	embeddingEndpoint = "/embeddings"
)

// Config holds connection settings for the LLM backend.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to a single OpenAI-compatible backend.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a client for the configured backend.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Chat issues a blocking (non-streaming) chat completion request.
func (c *Client) Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	req.Stream = false

	httpReq, err := c.buildRequest(ctx, chatEndpoint, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.mapError(resp.StatusCode, body)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("chat response contained no choices")
	}

	return &chatResp, nil
}

// ChatStream opens a streaming chat completion request and returns a reader
// over the SSE chunk stream. The caller must Close the reader.
func (c *Client) ChatStream(ctx context.Context, req *types.ChatRequest) (*StreamReader, error) {
	req.Stream = true

	httpReq, err := c.buildRequest(ctx, chatEndpoint, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		body, _ := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
		return nil, c.mapError(resp.StatusCode, body)
	}

	return newStreamReader(resp.Body), nil
}

// Embed computes the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	req := &types.EmbeddingRequest{Model: model, Input: text}

	httpReq, err := c.buildRequest(ctx, embeddingEndpoint, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.mapError(resp.StatusCode, body)
	}

	var embResp types.EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	if len(embResp.Data) == 0 || len(embResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no vector")
	}

	return embResp.Data[0].Embedding, nil
}

func (c *Client) buildRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return httpReq, nil
}

// mapError converts a non-success upstream response into an error carrying
// the upstream message when the body follows the OpenAI error format.
func (c *Client) mapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return fmt.Errorf("upstream error: status=%d, message=%s", statusCode, message)
}
