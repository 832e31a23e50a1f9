package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"unicode"
	"unicode/utf8"

	"github.com/wellbot/wellbot/internal/metrics"
	wberrors "github.com/wellbot/wellbot/pkg/errors"
	"github.com/wellbot/wellbot/pkg/types"
)

// GeneratorConfig carries the sampling parameters for the chat model.
type GeneratorConfig struct {
	Model           string
	Temperature     float64
	TopP            float64
	FauxChunkMaxLen int
}

// Usage reports what a single generation consumed. Token counts are zero when
// the upstream omits them.
type Usage struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// Generator produces the assistant reply for an assembled prompt. When a token
// callback is supplied it streams deltas as they arrive; when streaming is
// unavailable it degrades to a blocking completion re-chunked through the same
// callback, so callers cannot tell the difference.
type Generator struct {
	client ChatClient
	cfg    GeneratorConfig
	logger *slog.Logger
}

func NewGenerator(client ChatClient, cfg GeneratorConfig, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FauxChunkMaxLen <= 0 {
		cfg.FauxChunkMaxLen = 40
	}
	return &Generator{client: client, cfg: cfg, logger: logger}
}

// Generate runs one completion over messages. onToken may be nil, in which
// case a single blocking request is made and no chunking happens.
func (g *Generator) Generate(ctx context.Context, messages []types.ChatMessage, onToken func(string)) (string, Usage, error) {
	if onToken == nil {
		metrics.GenerationMode.WithLabelValues("blocking").Inc()
		return g.generateBlocking(ctx, messages, nil)
	}

	text, usage, delivered, err := g.generateStreaming(ctx, messages, onToken)
	if err == nil {
		metrics.GenerationMode.WithLabelValues("stream").Inc()
		return text, usage, nil
	}
	if delivered {
		// Tokens already reached the caller; replaying the reply through the
		// fallback would duplicate them.
		return "", Usage{}, wberrors.NewGenerationError("stream", "stream failed mid-reply", err)
	}

	g.logger.Warn("streaming unavailable, falling back to blocking generation", "error", err)
	metrics.GenerationMode.WithLabelValues("fallback").Inc()
	return g.generateBlocking(ctx, messages, onToken)
}

func (g *Generator) generateStreaming(ctx context.Context, messages []types.ChatMessage, onToken func(string)) (string, Usage, bool, error) {
	stream, err := g.client.ChatStream(ctx, g.request(messages))
	if err != nil {
		return "", Usage{}, false, err
	}
	defer stream.Close()

	var sb []byte
	delivered := false
	usage := Usage{Model: g.cfg.Model}
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", Usage{}, delivered, err
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		delivered = true
		sb = append(sb, delta...)
		g.deliver(onToken, delta)
	}
	return string(sb), usage, delivered, nil
}

func (g *Generator) generateBlocking(ctx context.Context, messages []types.ChatMessage, onToken func(string)) (string, Usage, error) {
	resp, err := g.client.Chat(ctx, g.request(messages))
	if err != nil {
		return "", Usage{}, wberrors.NewGenerationError("chat", "chat completion failed", err)
	}
	text := resp.Choices[0].Message.Content
	usage := Usage{Model: g.cfg.Model}
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens
	}
	if onToken != nil {
		for _, chunk := range chunkText(text, g.cfg.FauxChunkMaxLen) {
			g.deliver(onToken, chunk)
		}
	}
	return text, usage, nil
}

// deliver shields generation from a misbehaving callback. A panic in onToken
// is logged and swallowed so one bad consumer cannot abort the turn.
func (g *Generator) deliver(onToken func(string), token string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("token callback failed", "panic", r)
		}
	}()
	onToken(token)
}

func (g *Generator) request(messages []types.ChatMessage) *types.ChatRequest {
	temperature := g.cfg.Temperature
	topP := g.cfg.TopP
	return &types.ChatRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		Temperature: &temperature,
		TopP:        &topP,
	}
}

// chunkText splits text at whitespace boundaries into chunks of at most
// maxLen bytes, preserving the original spacing so that concatenating the
// chunks reproduces text exactly. Boundaries fall on rune boundaries, so
// every chunk is valid UTF-8 on its own. A single word longer than maxLen
// is emitted whole.
func chunkText(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	var current []byte
	i := 0
	for i < len(text) {
		j := i
		for j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}
		for j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r) {
				break
			}
			j += size
		}
		token := text[i:j]
		if len(current) > 0 && len(current)+len(token) > maxLen {
			chunks = append(chunks, string(current))
			current = current[:0]
		}
		current = append(current, token...)
		i = j
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}
