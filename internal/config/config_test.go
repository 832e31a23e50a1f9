package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
llm:
  chat_model: llama3.2
rag:
  mem_top_k: 6
  memory_window: 48h
session:
  backend: redis
  redis_url: redis://localhost:6379/0
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "llama3.2", cfg.LLM.ChatModel)
	// Untouched fields keep defaults.
	assert.Equal(t, "nomic-embed-text", cfg.LLM.EmbedModel)
	assert.Equal(t, 6, cfg.RAG.MemTopK)
	assert.Equal(t, 48*time.Hour, cfg.RAG.MemoryWindow)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, 768, cfg.VectorStore.EmbeddingDim)
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_QDRANT_URL", "http://qdrant.internal:6333")

	path := writeConfig(t, `
vector_store:
  url: ${TEST_QDRANT_URL}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://qdrant.internal:6333", cfg.VectorStore.URL)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"missing chat model", func(c *Config) { c.LLM.ChatModel = "" }},
		{"missing vector store url", func(c *Config) { c.VectorStore.URL = "" }},
		{"bad embedding dim", func(c *Config) { c.VectorStore.EmbeddingDim = 0 }},
		{"missing collections", func(c *Config) { c.VectorStore.KBCollection = "" }},
		{"bad combine cap", func(c *Config) { c.RAG.CombineCap = 0 }},
		{"negative memory window", func(c *Config) { c.RAG.MemoryWindow = -time.Hour }},
		{"redis without url", func(c *Config) { c.Session.Backend = "redis" }},
		{"unknown session backend", func(c *Config) { c.Session.Backend = "mongodb" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestManagerGet(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\n")

	logger := testLogger()
	m, err := NewManager(path, logger)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 9191, m.Get().Server.Port)
}

func TestManagerLoadFailure(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	assert.Error(t, err)
}
