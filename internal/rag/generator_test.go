package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wberrors "github.com/wellbot/wellbot/pkg/errors"
	"github.com/wellbot/wellbot/pkg/types"
)

func testGenerator(client ChatClient) *Generator {
	return NewGenerator(client, GeneratorConfig{
		Model:           "gemma3",
		Temperature:     0.8,
		TopP:            0.9,
		FauxChunkMaxLen: 40,
	}, discardLogger())
}

func TestGenerateStreamsTokens(t *testing.T) {
	client := &fakeChat{streamDeltas: []string{"Take ", "a slow ", "breath."}}
	g := testGenerator(client)

	var tokens []string
	text, usage, err := g.Generate(context.Background(), nil, func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)
	assert.Equal(t, "Take a slow breath.", text)
	assert.Equal(t, []string{"Take ", "a slow ", "breath."}, tokens)
	assert.Equal(t, "gemma3", usage.Model)
	assert.Equal(t, 0, client.chatCalls)
}

func TestGenerateFallsBackWhenStreamingUnavailable(t *testing.T) {
	client := &fakeChat{
		streamErr: fmt.Errorf("upstream error: status=404"),
		reply:     "A short reply that still arrives in order.",
		usage:     &types.Usage{PromptTokens: 12, CompletionTokens: 9},
	}
	g := testGenerator(client)

	var tokens []string
	text, usage, err := g.Generate(context.Background(), nil, func(tok string) { tokens = append(tokens, tok) })
	require.NoError(t, err)
	assert.Equal(t, client.reply, text)
	assert.Equal(t, client.reply, strings.Join(tokens, ""), "chunks must reassemble to the full reply")
	for _, tok := range tokens {
		assert.LessOrEqual(t, len(tok), 41)
	}
	assert.Greater(t, len(tokens), 1)
	assert.Equal(t, 12, usage.InputTokens)
	assert.Equal(t, 9, usage.OutputTokens)
}

func TestGenerateBlockingWithoutCallback(t *testing.T) {
	client := &fakeChat{reply: "hello"}
	g := testGenerator(client)

	text, _, err := g.Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 0, client.streamCalls)
	require.NotNil(t, client.lastReq.Temperature)
	assert.InDelta(t, 0.8, *client.lastReq.Temperature, 1e-9)
	require.NotNil(t, client.lastReq.TopP)
	assert.InDelta(t, 0.9, *client.lastReq.TopP, 1e-9)
}

func TestGenerateBothPathsFail(t *testing.T) {
	client := &fakeChat{
		streamErr: fmt.Errorf("refused"),
		chatErr:   fmt.Errorf("refused"),
	}
	g := testGenerator(client)

	_, _, err := g.Generate(context.Background(), nil, func(string) {})
	require.Error(t, err)
	assert.True(t, wberrors.IsType(err, wberrors.TypeGeneration))
}

func TestGenerateSurvivesPanickingCallback(t *testing.T) {
	client := &fakeChat{streamDeltas: []string{"one", "two"}}
	g := testGenerator(client)

	calls := 0
	text, _, err := g.Generate(context.Background(), nil, func(string) {
		calls++
		panic("consumer went away")
	})
	require.NoError(t, err)
	assert.Equal(t, "onetwo", text)
	assert.Equal(t, 2, calls)
}

func TestChunkTextPreservesSpacing(t *testing.T) {
	cases := []string{
		"",
		"word",
		"two  spaces   preserved exactly",
		"a reply long enough to be split into several whitespace bounded chunks of forty characters or fewer each",
		"trailing space at the end ",
		strings.Repeat("x", 55) + " short tail",
		// NFD-decomposed Hangul: multibyte runes whose continuation bytes
		// look like U+0085/U+00A0 when read byte-wise.
		strings.Repeat("가", 20),
		strings.Repeat("가 ", 12) + "끝",
	}
	for _, text := range cases {
		chunks := chunkText(text, 40)
		assert.Equal(t, text, strings.Join(chunks, ""), "chunks must concatenate back to the input")
		for i, chunk := range chunks {
			assert.True(t, utf8.ValidString(chunk), "chunk %d must be valid UTF-8", i)
			// A chunk may exceed the cap only when it is a single
			// oversized word.
			if len(chunk) > 41 {
				assert.NotContains(t, strings.TrimRight(chunk, " \t\n"), " ", "chunk %d", i)
			}
		}
	}
}
