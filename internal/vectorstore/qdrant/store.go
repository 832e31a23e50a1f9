// Package qdrant implements the vectorstore.Store gateway using Qdrant's
// HTTP API.
package qdrant

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/wellbot/wellbot/internal/httputil"
	"github.com/wellbot/wellbot/internal/vectorstore"
)

// indexedFields are payload fields indexed at collection creation so that
// user and session scoped filters stay efficient as memory accumulates.
var indexedFields = []string{"session_id", "user_id", "timestamp"}

// Config holds connection settings for Qdrant.
type Config struct {
	Address string
	APIKey  string
	Timeout time.Duration
}

// Store talks to a Qdrant instance over HTTP.
type Store struct {
	client  *http.Client
	apiBase string
	apiKey  string
}

// NewStore creates a Qdrant-backed vector store gateway.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	address := cfg.Address
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Store{
		client:  &http.Client{Timeout: cfg.Timeout},
		apiBase: strings.TrimSuffix(address, "/"),
		apiKey:  cfg.APIKey,
	}, nil
}

// EnsureCollection creates the collection and payload indexes if missing.
func (s *Store) EnsureCollection(ctx context.Context, collection string, vectorDim int, distance string) error {
	exists, err := s.collectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}

	if !exists {
		if distance == "" {
			distance = "Cosine"
		}
		createBody := map[string]any{
			"vectors": map[string]any{
				"size":     vectorDim,
				"distance": distance,
			},
		}
		url := fmt.Sprintf("%s/collections/%s", s.apiBase, collection)
		if err := s.do(ctx, http.MethodPut, url, createBody, nil); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}

	// Index creation is idempotent on Qdrant's side; an already-existing
	// index answers 200.
	for _, field := range indexedFields {
		indexBody := map[string]any{
			"field_name":   field,
			"field_schema": "keyword",
		}
		url := fmt.Sprintf("%s/collections/%s/index", s.apiBase, collection)
		if err := s.do(ctx, http.MethodPut, url, indexBody, nil); err != nil {
			return fmt.Errorf("create payload index %s: %w", field, err)
		}
	}

	return nil
}

func (s *Store) collectionExists(ctx context.Context, collection string) (bool, error) {
	url := fmt.Sprintf("%s/collections/%s/exists", s.apiBase, collection)

	var result struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, url, nil, &result); err != nil {
		return false, err
	}
	return result.Result.Exists, nil
}

// Search runs a filtered similarity search and maps hits to documents.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int, filter *vectorstore.Filter) ([]vectorstore.Document, error) {
	if topK <= 0 {
		topK = 4
	}

	searchBody := map[string]any{
		"vector":       toFloat64(vector),
		"limit":        topK,
		"with_payload": true,
	}
	if qf := buildQdrantFilter(filter); qf != nil {
		searchBody["filter"] = qf
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", s.apiBase, collection)

	var result struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, url, searchBody, &result); err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	docs := make([]vectorstore.Document, 0, len(result.Result))
	for _, hit := range result.Result {
		doc := vectorstore.Document{
			ID:       fmt.Sprintf("%v", hit.ID),
			Score:    hit.Score,
			Metadata: make(map[string]any, len(hit.Payload)),
		}
		for k, v := range hit.Payload {
			switch k {
			case "content":
				if text, ok := v.(string); ok {
					doc.Content = text
				}
			case "source":
				if src, ok := v.(string); ok {
					doc.Source = src
				}
				doc.Metadata[k] = v
			default:
				doc.Metadata[k] = v
			}
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// Upsert writes one point, generating an identifier when absent.
func (s *Store) Upsert(ctx context.Context, collection string, point vectorstore.Point) (string, error) {
	id := point.ID
	if id == "" {
		id = uuid.New().String()
	}

	payload := make(map[string]any, len(point.Metadata)+1)
	for k, v := range point.Metadata {
		payload[k] = v
	}
	payload["content"] = point.Content

	upsertBody := map[string]any{
		"points": []any{
			map[string]any{
				"id":      id,
				"vector":  toFloat64(point.Vector),
				"payload": payload,
			},
		},
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.apiBase, collection)
	if err := s.do(ctx, http.MethodPut, url, upsertBody, nil); err != nil {
		return "", fmt.Errorf("upsert into %s: %w", collection, err)
	}

	return id, nil
}

// do issues one JSON request and decodes the response into out when non-nil.
func (s *Store) do(ctx context.Context, method, url string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status=%d, body=%s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// buildQdrantFilter translates the gateway filter into Qdrant's native
// must-clause syntax. Returns nil when no conditions apply so an empty
// filter object is never sent.
func buildQdrantFilter(filter *vectorstore.Filter) map[string]any {
	if filter.IsZero() {
		return nil
	}

	must := make([]map[string]any, 0, len(filter.Equals)+1)
	for key, value := range filter.Equals {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	if filter.MinTimestampEpoch != nil {
		must = append(must, map[string]any{
			"key":   "timestamp_epoch",
			"range": map[string]any{"gte": *filter.MinTimestampEpoch},
		})
	}

	return map[string]any{"must": must}
}

func toFloat64(vector []float32) []float64 {
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = float64(v)
	}
	return out
}
