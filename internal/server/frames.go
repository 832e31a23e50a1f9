// Package server exposes the chat pipeline over WebSocket plus the health and
// metrics endpoints.
package server

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/wellbot/wellbot/internal/rag"
)

// Frame type discriminators on the outbound wire.
const (
	FrameToken = "token"
	FrameMeta  = "meta"
	FrameDone  = "done"
	FrameError = "error"
)

// Fallback identity for clients that send bare text instead of a JSON
// payload. Keeps local development with websocat-style tools ergonomic.
const (
	devSessionID = "dev-session"
	devUserID    = "dev-user"
)

// ChatIn is one inbound client message.
type ChatIn struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
}

// TokenFrame carries one streamed reply fragment.
type TokenFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MetaFrame carries retrieval provenance and usage after the reply text.
type MetaFrame struct {
	Type      string             `json:"type"`
	Retrieval []rag.RetrievalRef `json:"retrieval"`
	Usage     rag.UsageMeta      `json:"usage"`
}

// DoneFrame signals the end of the session. Normal turns end with their meta
// frame; done is sent only when the session terminates.
type DoneFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// ErrorFrame reports a failed turn.
type ErrorFrame struct {
	Type      string `json:"type"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// decodeChatIn parses an inbound message. Raw text that is not a JSON object
// becomes a turn for the dev identity rather than an error; missing IDs are
// filled with the dev defaults.
func decodeChatIn(raw []byte) ChatIn {
	var in ChatIn
	if err := json.Unmarshal(raw, &in); err != nil {
		in = ChatIn{Text: strings.TrimSpace(string(raw))}
	}
	if in.SessionID == "" {
		in.SessionID = devSessionID
	}
	if in.UserID == "" {
		in.UserID = devUserID
	}
	return in
}

// isExit reports whether text is the session-ending command.
func isExit(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "exit")
}

func encodeFrame(frame any) []byte {
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil
	}
	return raw
}
