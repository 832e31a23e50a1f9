package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wellbot/wellbot/internal/vectorstore"
	"github.com/wellbot/wellbot/pkg/types"
)

// DefaultSystemPrompt is used when the configuration leaves the system prompt
// empty.
const DefaultSystemPrompt = "You are a warm, grounded wellness companion. " +
	"Answer briefly and plainly, lean on the CONTEXT block when it is relevant, " +
	"and never invent facts about the user."

// BuildContextBlock renders retrieved documents as one line per document,
// `[source] content`, truncating each document and capping the whole block.
// Documents that would push the block past maxChars are dropped entirely,
// along with everything after them.
func BuildContextBlock(docs []vectorstore.Document, maxChars, docMaxChars int) string {
	var lines []string
	used := 0
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		if docMaxChars > 0 && len(content) > docMaxChars {
			content = truncateRunes(content, docMaxChars)
		}
		line := fmt.Sprintf("[%s] %s", sourceLabel(doc), content)
		if maxChars > 0 && used+len(line) > maxChars {
			break
		}
		lines = append(lines, line)
		used += len(line)
	}
	return strings.Join(lines, "\n")
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

func sourceLabel(doc vectorstore.Document) string {
	if doc.Source != "" {
		return doc.Source
	}
	if name, ok := doc.Metadata["name"].(string); ok && name != "" {
		return name
	}
	if len(doc.ID) > 8 {
		return doc.ID[:8]
	}
	if doc.ID != "" {
		return doc.ID
	}
	return "unknown"
}

// WindowHistory keeps the most recent maxTurns entries, walks them oldest
// first, skips empty entries, and stops before the entry that would exceed
// maxChars. Unknown roles are coerced to user.
func WindowHistory(history []types.ChatMessage, maxTurns, maxChars int) []types.ChatMessage {
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var out []types.ChatMessage
	used := 0
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if maxChars > 0 && used+len(content) > maxChars {
			break
		}
		role := msg.Role
		if role != types.RoleUser && role != types.RoleAssistant {
			role = types.RoleUser
		}
		out = append(out, types.ChatMessage{Role: role, Content: content})
		used += len(content)
	}
	return out
}

// BuildMessages assembles the final prompt: the system message first, with the
// context block appended when non-empty, then the windowed history, then the
// current query as the last user message.
func BuildMessages(systemPrompt, contextBlock string, history []types.ChatMessage, query string) []types.ChatMessage {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	system := systemPrompt
	if contextBlock != "" {
		system += "\n\nCONTEXT:\n" + contextBlock
	}
	messages := make([]types.ChatMessage, 0, len(history)+2)
	messages = append(messages, types.ChatMessage{Role: types.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, types.ChatMessage{Role: types.RoleUser, Content: query})
	return messages
}
