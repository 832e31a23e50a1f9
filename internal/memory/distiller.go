// Package memory distills finished chat sessions into durable facts stored in
// the per-user memory collection, where the next session's retrieval can find
// them.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wellbot/wellbot/internal/metrics"
	"github.com/wellbot/wellbot/internal/vectorstore"
	wberrors "github.com/wellbot/wellbot/pkg/errors"
	"github.com/wellbot/wellbot/pkg/types"
)

// Sentinel is what the model must answer when a session contains nothing
// worth remembering. Matched case-insensitively.
const Sentinel = "NONE"

// Source tags every distilled memory point so provenance survives in the
// store.
const Source = "memory_distiller"

const distillInstruction = `You are a memory distiller for a wellness companion.
Below is what one user said during a single conversation session.
Extract the durable facts worth remembering about this user for future
conversations: stable preferences, life circumstances, recurring struggles,
goals. Write between one and eight short bullet points, one fact per line,
each starting with "- ". Do not include greetings, small talk, one-off moods,
or anything about the assistant. If nothing durable was shared, reply with
exactly NONE.`

// ChatClient is the completion surface the distiller needs. Declared here so
// the package stays decoupled from the concrete client.
type ChatClient interface {
	Chat(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
}

// Embedder computes a vector for the distilled summary.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Result reports what a distillation did.
type Result string

const (
	ResultWritten        Result = "written"
	ResultNothingDurable Result = "nothing_durable"
	ResultEmptyHistory   Result = "empty_history"
)

// Config bounds one distillation.
type Config struct {
	ChatModel     string
	EmbedModel    string
	Collection    string
	MaxInputChars int
	Sentinel      string
}

// Distiller summarizes a session's user turns and writes the summary as one
// vector point.
type Distiller struct {
	chat     ChatClient
	embedder Embedder
	store    vectorstore.Store
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewDistiller(chat ChatClient, embedder Embedder, store vectorstore.Store, cfg Config, logger *slog.Logger) *Distiller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 8000
	}
	if cfg.Sentinel == "" {
		cfg.Sentinel = Sentinel
	}
	return &Distiller{chat: chat, embedder: embedder, store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Distill runs one end-of-session distillation. Only user-authored entries
// feed the summary; assistant turns are the model's own words and would
// pollute memory with self-reference. Returns the result and the stored point
// ID when one was written.
func (d *Distiller) Distill(ctx context.Context, userID, sessionID string, history []types.ChatMessage) (Result, string, error) {
	input := userTranscript(history, d.cfg.MaxInputChars)
	if input == "" {
		metrics.DistillationsTotal.WithLabelValues(string(ResultEmptyHistory)).Inc()
		d.logger.Debug("nothing to distill", "session_id", sessionID)
		return ResultEmptyHistory, "", nil
	}

	summary, err := d.summarize(ctx, input)
	if err != nil {
		metrics.DistillationsTotal.WithLabelValues("error").Inc()
		return "", "", err
	}
	if summary == "" || strings.EqualFold(summary, d.cfg.Sentinel) {
		metrics.DistillationsTotal.WithLabelValues(string(ResultNothingDurable)).Inc()
		d.logger.Info("session yielded no durable memory", "session_id", sessionID, "user_id", userID)
		return ResultNothingDurable, "", nil
	}

	vector, err := d.embedder.Embed(ctx, d.cfg.EmbedModel, summary)
	if err != nil {
		metrics.DistillationsTotal.WithLabelValues("error").Inc()
		return "", "", wberrors.NewDistillationError("embed", "failed to embed distilled summary", err)
	}
	if len(vector) == 0 {
		metrics.DistillationsTotal.WithLabelValues("error").Inc()
		return "", "", wberrors.NewDistillationError("embed", "embedding service returned no vector", nil)
	}

	now := d.now().UTC()
	id, err := d.store.Upsert(ctx, d.cfg.Collection, vectorstore.Point{
		Vector:  vector,
		Content: summary,
		Metadata: map[string]any{
			"user_id":         userID,
			"session_id":      sessionID,
			"timestamp":       now.Format(time.RFC3339),
			"timestamp_epoch": float64(now.Unix()),
			"source":          Source,
		},
	})
	if err != nil {
		metrics.DistillationsTotal.WithLabelValues("error").Inc()
		return "", "", wberrors.NewDistillationError("upsert", "failed to store distilled memory", err)
	}

	metrics.DistillationsTotal.WithLabelValues(string(ResultWritten)).Inc()
	d.logger.Info("session distilled into memory",
		"session_id", sessionID, "user_id", userID, "point_id", id, "chars", len(summary))
	return ResultWritten, id, nil
}

func (d *Distiller) summarize(ctx context.Context, input string) (string, error) {
	temperature := 0.2
	resp, err := d.chat.Chat(ctx, &types.ChatRequest{
		Model: d.cfg.ChatModel,
		Messages: []types.ChatMessage{
			{Role: types.RoleSystem, Content: distillInstruction},
			{Role: types.RoleUser, Content: input},
		},
		Temperature: &temperature,
	})
	if err != nil {
		return "", wberrors.NewDistillationError("summarize", "distillation completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", wberrors.NewDistillationError("summarize", "no choices in distillation response", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// userTranscript joins the user-authored entries in order, skipping empties,
// and truncates the result to maxChars.
func userTranscript(history []types.ChatMessage, maxChars int) string {
	var parts []string
	for _, msg := range history {
		if msg.Role != types.RoleUser {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		parts = append(parts, content)
	}
	joined := strings.Join(parts, "\n")
	if len(joined) > maxChars {
		joined = truncateRunes(joined, maxChars)
	}
	return joined
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
