// Package rag implements the retrieval-augmented turn pipeline: dual-source
// vector retrieval, bounded prompt assembly, and streaming generation with a
// blocking fallback.
package rag

import (
	"context"
	"log/slog"

	"github.com/wellbot/wellbot/internal/llm"
	"github.com/wellbot/wellbot/internal/metrics"
	"github.com/wellbot/wellbot/internal/vectorstore"
	wberrors "github.com/wellbot/wellbot/pkg/errors"
	"github.com/wellbot/wellbot/pkg/types"
)

// Embedder computes a vector for a single text against a named model.
// *llm.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// ChatClient is the generation surface the pipeline needs. *llm.Client
// satisfies it.
type ChatClient interface {
	Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
	ChatStream(ctx context.Context, req *types.ChatRequest) (*llm.StreamReader, error)
}

// RetrieverConfig names the two collections and how many hits to pull from
// each.
type RetrieverConfig struct {
	EmbedModel    string
	KBCollection  string
	MemCollection string
	KBTopK        int
	MemTopK       int
}

// DualRetriever embeds the query once and searches the knowledge base and the
// per-user memory collection with the same vector.
type DualRetriever struct {
	store    vectorstore.Store
	embedder Embedder
	cfg      RetrieverConfig
	logger   *slog.Logger
}

func NewDualRetriever(store vectorstore.Store, embedder Embedder, cfg RetrieverConfig, logger *slog.Logger) *DualRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &DualRetriever{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// Retrieve runs both searches. kbFilter is usually nil; memFilter carries the
// user scoping and the recency floor. Either result slice may be empty.
func (r *DualRetriever) Retrieve(ctx context.Context, query string, kbFilter, memFilter *vectorstore.Filter) (kb, mem []vectorstore.Document, err error) {
	vector, err := r.embedder.Embed(ctx, r.cfg.EmbedModel, query)
	if err != nil {
		return nil, nil, wberrors.NewEmbeddingError("query", "failed to embed query", err)
	}
	if len(vector) == 0 {
		return nil, nil, wberrors.NewEmbeddingError("query", "embedding service returned no vector", nil)
	}

	kb, err = r.store.Search(ctx, r.cfg.KBCollection, vector, r.cfg.KBTopK, kbFilter)
	if err != nil {
		return nil, nil, wberrors.NewRetrievalError(r.cfg.KBCollection, "knowledge base search failed", err)
	}
	mem, err = r.store.Search(ctx, r.cfg.MemCollection, vector, r.cfg.MemTopK, memFilter)
	if err != nil {
		return nil, nil, wberrors.NewRetrievalError(r.cfg.MemCollection, "memory search failed", err)
	}

	metrics.RetrievedDocuments.WithLabelValues(r.cfg.KBCollection).Observe(float64(len(kb)))
	metrics.RetrievedDocuments.WithLabelValues(r.cfg.MemCollection).Observe(float64(len(mem)))
	r.logger.Debug("retrieval complete", "kb_hits", len(kb), "memory_hits", len(mem))
	return kb, mem, nil
}

// CombineResults merges the two result sets with memory hits first, drops
// duplicate document IDs keeping the first occurrence, and caps the total.
func CombineResults(kb, mem []vectorstore.Document, capTotal int) []vectorstore.Document {
	combined := make([]vectorstore.Document, 0, len(kb)+len(mem))
	seen := make(map[string]struct{}, len(kb)+len(mem))
	for _, doc := range append(append([]vectorstore.Document{}, mem...), kb...) {
		if _, ok := seen[doc.ID]; ok && doc.ID != "" {
			continue
		}
		if doc.ID != "" {
			seen[doc.ID] = struct{}{}
		}
		combined = append(combined, doc)
		if capTotal > 0 && len(combined) >= capTotal {
			break
		}
	}
	return combined
}
