package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/wellbot/wellbot/internal/metrics"
	"github.com/wellbot/wellbot/internal/vectorstore"
	wberrors "github.com/wellbot/wellbot/pkg/errors"
	"github.com/wellbot/wellbot/pkg/types"
)

// memoryMetaKeys is the allow-list of metadata fields exposed for memory
// documents. Knowledge base metadata passes through unfiltered.
var memoryMetaKeys = []string{"user_id", "session_id", "timestamp"}

// TurnInput is one user turn plus the conversation so far.
type TurnInput struct {
	UserID    string
	SessionID string
	Query     string
	History   []types.ChatMessage
}

// RetrievalRef describes one document that informed a reply.
type RetrievalRef struct {
	Collection string         `json:"collection"`
	DocID      string         `json:"doc_id"`
	Score      float64        `json:"score"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// UsageMeta summarizes the cost of a turn.
type UsageMeta struct {
	Model        string `json:"model"`
	LatencyMS    int64  `json:"latency_ms"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// TurnMeta is the provenance record returned alongside every reply.
type TurnMeta struct {
	Retrieval []RetrievalRef `json:"retrieval"`
	Usage     UsageMeta      `json:"usage"`
}

// EngineConfig bounds the turn pipeline.
type EngineConfig struct {
	SystemPrompt    string
	CombineCap      int
	ContextMaxChars int
	DocMaxChars     int
	HistoryMaxTurns int
	HistoryMaxChars int
	// MemoryWindow limits memory retrieval to entries newer than now minus
	// the window. Zero disables the recency floor.
	MemoryWindow time.Duration
	// KBFilter optionally narrows knowledge base retrieval. Usually nil.
	KBFilter *vectorstore.Filter
}

// Engine runs a complete turn: retrieve, assemble, generate.
type Engine struct {
	retriever *DualRetriever
	generator *Generator
	cfg       EngineConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(retriever *DualRetriever, generator *Generator, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		retriever: retriever,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// RunTurn executes one turn. onToken may be nil for a blocking reply. The
// returned meta is valid whenever err is nil, and latency always measures the
// full wall clock of the turn.
func (e *Engine) RunTurn(ctx context.Context, in TurnInput, onToken func(string)) (string, TurnMeta, error) {
	start := e.now()

	kb, mem, err := e.retriever.Retrieve(ctx, in.Query, e.cfg.KBFilter, e.memoryFilter(in.UserID))
	if err != nil {
		return "", TurnMeta{}, e.fail(err)
	}
	combined := CombineResults(kb, mem, e.cfg.CombineCap)

	contextBlock := BuildContextBlock(combined, e.cfg.ContextMaxChars, e.cfg.DocMaxChars)
	history := WindowHistory(in.History, e.cfg.HistoryMaxTurns, e.cfg.HistoryMaxChars)
	messages := BuildMessages(e.cfg.SystemPrompt, contextBlock, history, in.Query)

	reply, usage, err := e.generator.Generate(ctx, messages, onToken)
	if err != nil {
		return "", TurnMeta{}, e.fail(err)
	}

	meta := TurnMeta{
		Retrieval: e.retrievalRefs(kb, mem),
		Usage: UsageMeta{
			Model:        usage.Model,
			LatencyMS:    e.now().Sub(start).Milliseconds(),
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		},
	}

	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	metrics.TurnLatency.WithLabelValues(usage.Model).Observe(e.now().Sub(start).Seconds())
	e.logger.Info("turn complete",
		"session_id", in.SessionID,
		"user_id", in.UserID,
		"docs", len(combined),
		"latency_ms", meta.Usage.LatencyMS,
	)
	return reply, meta, nil
}

// memoryFilter scopes memory retrieval to the user with an optional recency
// floor. Memories are deliberately not filtered by session, so past sessions
// stay recallable.
func (e *Engine) memoryFilter(userID string) *vectorstore.Filter {
	f := &vectorstore.Filter{Equals: map[string]string{"user_id": userID}}
	if e.cfg.MemoryWindow > 0 {
		minEpoch := float64(e.now().Add(-e.cfg.MemoryWindow).Unix())
		f.MinTimestampEpoch = &minEpoch
	}
	return f
}

// retrievalRefs lists memory hits before knowledge base hits, mirroring the
// combination order. Memory metadata is reduced to the allow-listed keys.
func (e *Engine) retrievalRefs(kb, mem []vectorstore.Document) []RetrievalRef {
	refs := make([]RetrievalRef, 0, len(kb)+len(mem))
	for _, doc := range mem {
		filtered := make(map[string]any, len(memoryMetaKeys))
		for _, key := range memoryMetaKeys {
			if v, ok := doc.Metadata[key]; ok {
				filtered[key] = v
			}
		}
		refs = append(refs, RetrievalRef{
			Collection: e.retriever.cfg.MemCollection,
			DocID:      doc.ID,
			Score:      doc.Score,
			Source:     doc.Source,
			Metadata:   filtered,
		})
	}
	for _, doc := range kb {
		refs = append(refs, RetrievalRef{
			Collection: e.retriever.cfg.KBCollection,
			DocID:      doc.ID,
			Score:      doc.Score,
			Source:     doc.Source,
			Metadata:   doc.Metadata,
		})
	}
	return refs
}

func (e *Engine) fail(err error) error {
	outcome := wberrors.TypeOf(err)
	if outcome == "" {
		outcome = "error"
	}
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	e.logger.Error("turn failed", "error", err)
	return err
}
