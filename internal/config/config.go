// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	RAG         RAGConfig         `yaml:"rag"`
	Distill     DistillConfig     `yaml:"distill"`
	Session     SessionConfig     `yaml:"session"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig contains HTTP/WebSocket server settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Greeting       string        `yaml:"greeting"`
}

// LLMConfig contains generation and embedding backend settings.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	ChatModel   string        `yaml:"chat_model"`
	EmbedModel  string        `yaml:"embed_model"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	Timeout     time.Duration `yaml:"timeout"`
}

// VectorStoreConfig contains Qdrant connection and collection settings.
type VectorStoreConfig struct {
	URL              string        `yaml:"url"`
	APIKey           string        `yaml:"api_key"`
	KBCollection     string        `yaml:"kb_collection"`
	MemoryCollection string        `yaml:"memory_collection"`
	EmbeddingDim     int           `yaml:"embedding_dim"`
	Distance         string        `yaml:"distance"`
	Timeout          time.Duration `yaml:"timeout"`
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout"`
}

// RAGConfig tunes retrieval and prompt assembly budgets.
type RAGConfig struct {
	KBTopK           int           `yaml:"kb_top_k"`
	MemTopK          int           `yaml:"mem_top_k"`
	CombineCap       int           `yaml:"combine_cap"`
	ContextMaxChars  int           `yaml:"context_max_chars"`
	DocMaxChars      int           `yaml:"doc_max_chars"`
	HistoryMaxTurns  int           `yaml:"history_max_turns"`
	HistoryMaxChars  int           `yaml:"history_max_chars"`
	MemoryWindow     time.Duration `yaml:"memory_window"` // 0 disables the recency filter
	SystemPrompt     string        `yaml:"system_prompt"`
	FauxChunkMaxLen  int           `yaml:"faux_chunk_max_len"`
}

// DistillConfig tunes end-of-session memory distillation.
type DistillConfig struct {
	MaxInputChars int    `yaml:"max_input_chars"`
	Sentinel      string `yaml:"sentinel"`
}

// SessionConfig selects the session history backend.
type SessionConfig struct {
	Backend  string        `yaml:"backend"` // "memory" or "redis"
	TTL      time.Duration `yaml:"ttl"`
	RedisURL string        `yaml:"redis_url"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults. The model
// and collection defaults match the reference deployment: a local Ollama
// instance and a local Qdrant with kb_docs/user_memory collections.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
			Greeting:     "Hi, I'm here with you. What's on your mind today?",
		},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			ChatModel:   "gemma3",
			EmbedModel:  "nomic-embed-text",
			Temperature: 0.8,
			TopP:        0.9,
			Timeout:     120 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			URL:              "http://localhost:6333",
			KBCollection:     "kb_docs",
			MemoryCollection: "user_memory",
			EmbeddingDim:     768,
			Distance:         "Cosine",
			Timeout:          30 * time.Second,
			BootstrapTimeout: 5 * time.Second,
		},
		RAG: RAGConfig{
			KBTopK:          4,
			MemTopK:         4,
			CombineCap:      8,
			ContextMaxChars: 1800,
			DocMaxChars:     600,
			HistoryMaxTurns: 10,
			HistoryMaxChars: 1200,
			MemoryWindow:    7 * 24 * time.Hour,
			FauxChunkMaxLen: 40,
		},
		Distill: DistillConfig{
			MaxInputChars: 8000,
			Sentinel:      "NONE",
		},
		Session: SessionConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm base_url is required")
	}
	if c.LLM.ChatModel == "" || c.LLM.EmbedModel == "" {
		return fmt.Errorf("llm chat_model and embed_model are required")
	}
	if c.VectorStore.URL == "" {
		return fmt.Errorf("vector_store url is required")
	}
	if c.VectorStore.EmbeddingDim <= 0 {
		return fmt.Errorf("invalid embedding_dim: %d", c.VectorStore.EmbeddingDim)
	}
	if c.VectorStore.KBCollection == "" || c.VectorStore.MemoryCollection == "" {
		return fmt.Errorf("vector_store collections are required")
	}
	if c.RAG.CombineCap <= 0 {
		return fmt.Errorf("invalid combine_cap: %d", c.RAG.CombineCap)
	}
	if c.RAG.MemoryWindow < 0 {
		return fmt.Errorf("memory_window must not be negative")
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("session redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown session backend: %s", c.Session.Backend)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
