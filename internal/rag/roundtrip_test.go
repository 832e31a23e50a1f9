package rag

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellbot/wellbot/internal/memory"
	"github.com/wellbot/wellbot/internal/vectorstore"
	"github.com/wellbot/wellbot/pkg/types"
)

// recallStore is a naive in-process vector store: it returns every stored
// point in its collection that passes the filter, which is enough to prove
// the distill-then-retrieve flow end to end.
type recallStore struct {
	points map[string][]vectorstore.Point
	nextID int
}

func newRecallStore() *recallStore {
	return &recallStore{points: make(map[string][]vectorstore.Point)}
}

func (s *recallStore) Upsert(_ context.Context, collection string, point vectorstore.Point) (string, error) {
	s.nextID++
	if point.ID == "" {
		point.ID = fmt.Sprintf("p%d", s.nextID)
	}
	s.points[collection] = append(s.points[collection], point)
	return point.ID, nil
}

func (s *recallStore) Search(_ context.Context, collection string, _ []float32, topK int, filter *vectorstore.Filter) ([]vectorstore.Document, error) {
	var docs []vectorstore.Document
	for _, point := range s.points[collection] {
		if !matchesFilter(point.Metadata, filter) {
			continue
		}
		source, _ := point.Metadata["source"].(string)
		docs = append(docs, vectorstore.Document{
			ID:       point.ID,
			Content:  point.Content,
			Score:    0.9,
			Source:   source,
			Metadata: point.Metadata,
		})
		if topK > 0 && len(docs) >= topK {
			break
		}
	}
	return docs, nil
}

func (s *recallStore) EnsureCollection(context.Context, string, int, string) error { return nil }

func matchesFilter(meta map[string]any, filter *vectorstore.Filter) bool {
	if filter == nil {
		return true
	}
	for key, want := range filter.Equals {
		if got, _ := meta[key].(string); got != want {
			return false
		}
	}
	if filter.MinTimestampEpoch != nil {
		epoch, _ := meta["timestamp_epoch"].(float64)
		if epoch < *filter.MinTimestampEpoch {
			return false
		}
	}
	return true
}

func TestDistilledMemoryIsRecalledAcrossSessions(t *testing.T) {
	store := newRecallStore()
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}

	distiller := memory.NewDistiller(
		&fakeChat{reply: "- Training for a marathon in October"},
		embedder, store,
		memory.Config{ChatModel: "gemma3", EmbedModel: "nomic-embed-text", Collection: "user_memory"},
		discardLogger(),
	)

	firstSession := []types.ChatMessage{
		{Role: types.RoleUser, Content: "I'm training for a marathon in October"},
		{Role: types.RoleAssistant, Content: "That's a great goal."},
	}
	result, pointID, err := distiller.Distill(context.Background(), "u1", "session-a", firstSession)
	require.NoError(t, err)
	require.Equal(t, memory.ResultWritten, result)
	require.NotEmpty(t, pointID)

	chat := &fakeChat{reply: "How is the training going?"}
	retriever := NewDualRetriever(store, embedder, testRetrieverConfig(), discardLogger())
	engine := NewEngine(retriever, testGenerator(chat), EngineConfig{
		CombineCap:      8,
		ContextMaxChars: 1800,
		DocMaxChars:     600,
		HistoryMaxTurns: 10,
		HistoryMaxChars: 1200,
		MemoryWindow:    7 * 24 * time.Hour,
	}, discardLogger())

	// A brand new session for the same user recalls the distilled fact.
	_, meta, err := engine.RunTurn(context.Background(),
		TurnInput{UserID: "u1", SessionID: "session-b", Query: "any advice for this week?"}, nil)
	require.NoError(t, err)
	require.Len(t, meta.Retrieval, 1)
	assert.Equal(t, pointID, meta.Retrieval[0].DocID)
	assert.Equal(t, "session-a", meta.Retrieval[0].Metadata["session_id"])
	assert.Contains(t, chat.lastReq.Messages[0].Content, "marathon")

	// A different user sees nothing.
	_, meta, err = engine.RunTurn(context.Background(),
		TurnInput{UserID: "u2", SessionID: "session-c", Query: "hello"}, nil)
	require.NoError(t, err)
	assert.Empty(t, meta.Retrieval)
}
