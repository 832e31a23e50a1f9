package rag

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/wellbot/wellbot/internal/llm"
	"github.com/wellbot/wellbot/internal/vectorstore"
	"github.com/wellbot/wellbot/pkg/types"
)

type fakeEmbedder struct {
	vector    []float32
	err       error
	calls     int
	lastModel string
	lastText  string
}

func (f *fakeEmbedder) Embed(_ context.Context, model, text string) ([]float32, error) {
	f.calls++
	f.lastModel = model
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type searchCall struct {
	collection string
	vector     []float32
	topK       int
	filter     *vectorstore.Filter
}

type fakeStore struct {
	results map[string][]vectorstore.Document
	errs    map[string]error
	calls   []searchCall
}

func (f *fakeStore) Search(_ context.Context, collection string, vector []float32, topK int, filter *vectorstore.Filter) ([]vectorstore.Document, error) {
	f.calls = append(f.calls, searchCall{collection: collection, vector: vector, topK: topK, filter: filter})
	if err := f.errs[collection]; err != nil {
		return nil, err
	}
	return f.results[collection], nil
}

func (f *fakeStore) Upsert(context.Context, string, vectorstore.Point) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeStore) EnsureCollection(context.Context, string, int, string) error {
	return nil
}

type fakeChat struct {
	reply        string
	usage        *types.Usage
	chatErr      error
	streamDeltas []string
	streamErr    error
	chatCalls    int
	streamCalls  int
	lastReq      *types.ChatRequest
}

func (f *fakeChat) Chat(_ context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	f.chatCalls++
	f.lastReq = req
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &types.ChatResponse{
		Choices: []types.Choice{{Message: types.ChatMessage{Role: types.RoleAssistant, Content: f.reply}, FinishReason: "stop"}},
		Usage:   f.usage,
	}, nil
}

func (f *fakeChat) ChatStream(_ context.Context, req *types.ChatRequest) (*llm.StreamReader, error) {
	f.streamCalls++
	f.lastReq = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	var sb strings.Builder
	for _, delta := range f.streamDeltas {
		chunk := types.StreamChunk{
			Object:  "chat.completion.chunk",
			Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: delta}}},
		}
		raw, _ := json.Marshal(chunk)
		sb.WriteString("data: ")
		sb.Write(raw)
		sb.WriteString("\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return llm.NewStreamReader(io.NopCloser(strings.NewReader(sb.String()))), nil
}
