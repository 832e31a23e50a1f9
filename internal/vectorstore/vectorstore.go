// Package vectorstore defines the gateway interface for vector search and
// document upsert. The pipeline treats the store as an opaque remote service
// offering ranked similarity search with metadata filters.
package vectorstore

import (
	"context"
)

// Document is a retrieved document with its relevance score and metadata.
// Scores follow the store's native scale and are not comparable across
// collections. Documents are immutable once returned.
type Document struct {
	ID       string
	Content  string
	Score    float64
	Source   string
	Metadata map[string]any
}

// Point is a document to be written, with its embedding attached.
type Point struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// Filter is a conjunctive (AND-only) set of conditions over payload fields.
// Intentionally minimal: equality matches plus an optional minimum epoch
// timestamp, which push down to any vector store's native filter syntax.
type Filter struct {
	Equals            map[string]string
	MinTimestampEpoch *float64
}

// IsZero reports whether the filter carries no conditions.
func (f *Filter) IsZero() bool {
	return f == nil || (len(f.Equals) == 0 && f.MinTimestampEpoch == nil)
}

// Store is the vector store gateway consumed by retrieval and distillation.
type Store interface {
	// Search returns up to topK documents ranked by similarity to vector,
	// restricted by filter when non-nil.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]Document, error)

	// Upsert writes a single point, generating an ID when absent, and
	// returns the stored identifier.
	Upsert(ctx context.Context, collection string, point Point) (string, error)

	// EnsureCollection creates the collection and its payload indexes if
	// missing. Idempotent: safe to call repeatedly.
	EnsureCollection(ctx context.Context, collection string, vectorDim int, distance string) error
}
