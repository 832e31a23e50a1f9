// Package errors defines unified error types for the RAG turn pipeline.
// Failures from the embedding, vector-store and generation services are
// mapped to these standard types so the transport layer can decide how to
// surface them without inspecting provider-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Error type constants for the turn pipeline taxonomy.
const (
	TypeEmbedding      = "embedding_error"
	TypeRetrieval      = "retrieval_error"
	TypeGeneration     = "generation_error"
	TypeDistillation   = "distillation_error"
	TypeMalformedInput = "malformed_input"
)

// TurnError represents a standardized failure within turn processing.
// It records which pipeline stage failed and wraps the underlying cause.
type TurnError struct {
	Type    string `json:"type"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s (stage=%s): %v", e.Type, e.Message, e.Stage, e.Err)
	}
	return fmt.Sprintf("[%s] %s (stage=%s)", e.Type, e.Message, e.Stage)
}

// Unwrap returns the wrapped cause.
func (e *TurnError) Unwrap() error { return e.Err }

// NewEmbeddingError creates an embedding failure. Aborts the current turn:
// proceeding with empty context attributed to a failed embed would silently
// corrupt retrieval.
func NewEmbeddingError(stage, message string, err error) *TurnError {
	return &TurnError{Type: TypeEmbedding, Stage: stage, Message: message, Err: err}
}

// NewRetrievalError creates a vector-store search failure. Aborts the turn.
func NewRetrievalError(stage, message string, err error) *TurnError {
	return &TurnError{Type: TypeRetrieval, Stage: stage, Message: message, Err: err}
}

// NewGenerationError creates a generation failure after both streaming and
// non-streaming attempts are exhausted. Aborts the turn.
func NewGenerationError(stage, message string, err error) *TurnError {
	return &TurnError{Type: TypeGeneration, Stage: stage, Message: message, Err: err}
}

// NewDistillationError creates an end-of-session distillation failure.
// Contained by the caller: logged, never surfaced to the client.
func NewDistillationError(stage, message string, err error) *TurnError {
	return &TurnError{Type: TypeDistillation, Stage: stage, Message: message, Err: err}
}

// NewMalformedInputError creates an inbound payload validation failure.
func NewMalformedInputError(message string) *TurnError {
	return &TurnError{Type: TypeMalformedInput, Stage: "transport", Message: message}
}

// TypeOf returns the pipeline error type of err, or empty when err is not a
// TurnError.
func TypeOf(err error) string {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Type
	}
	return ""
}

// IsType reports whether err is a TurnError of the given type.
func IsType(err error, typ string) bool {
	return TypeOf(err) == typ
}
