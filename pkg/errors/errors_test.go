package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewRetrievalError("kb_docs", "search failed", cause)

	assert.Contains(t, err.Error(), TypeRetrieval)
	assert.Contains(t, err.Error(), "kb_docs")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTurnErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewGenerationError("chat", "upstream failed", cause)

	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("run turn: %w", err)
	var te *TurnError
	assert.ErrorAs(t, wrapped, &te)
	assert.Equal(t, TypeGeneration, te.Type)
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, TypeEmbedding, TypeOf(NewEmbeddingError("query", "no vector", nil)))
	assert.Equal(t, "", TypeOf(errors.New("plain")))
	assert.Equal(t, "", TypeOf(nil))
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDistillationError("upsert", "write failed", nil))
	assert.True(t, IsType(err, TypeDistillation))
	assert.False(t, IsType(err, TypeGeneration))
}
