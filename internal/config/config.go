// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.recall/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, model, temperature, max tokens, embedder model
//   - Knowledge base: data directory, preload directory, chunking
//   - Retrieval: top-k, fallback ratio, rerank depth
//   - Relevance judging: concurrency, per-call timeout, cache capacity
//   - Observability: OTLP trace export (see observability.go)
//
// Security: API keys are read by the provider SDKs from their own environment
// variables and never stored in Config; config directory uses 0750 permissions.
// Validation: range checks in validation.go with clear error messages.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidDataDir indicates the data directory is invalid.
	ErrInvalidDataDir = errors.New("invalid data directory")

	// ErrInvalidDeleteGrace indicates the snapshot reclamation delay is invalid.
	ErrInvalidDeleteGrace = errors.New("invalid delete grace")

	// ErrInvalidChunking indicates chunk size or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top k")

	// ErrInvalidFallbackRatio indicates the fallback ratio is out of range.
	ErrInvalidFallbackRatio = errors.New("invalid fallback ratio")

	// ErrInvalidJudge indicates the relevance judge configuration is out of range.
	ErrInvalidJudge = errors.New("invalid judge configuration")

	// ErrInvalidHistoryTurns indicates the conversation window size is out of range.
	ErrInvalidHistoryTurns = errors.New("invalid history turns")

	// ErrInvalidServerAddr indicates the HTTP server address is invalid.
	ErrInvalidServerAddr = errors.New("invalid server address")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultChunkSize is the chunk length in runes used when splitting documents.
	DefaultChunkSize = 600

	// DefaultChunkOverlap is the rune overlap between consecutive chunks.
	DefaultChunkOverlap = 150

	// DefaultTopK is the number of candidate chunks retrieved per question.
	DefaultTopK = 8

	// DefaultFallbackRatio is the fraction of candidates returned when the
	// relevance judge confirms nothing. Clamped to [0.2, 0.8] at use.
	DefaultFallbackRatio = 0.5

	// DefaultMaxHistoryTurns is the conversation window size in turns.
	DefaultMaxHistoryTurns = 3

	// DefaultJudgeConcurrency bounds concurrent relevance judge calls per batch.
	DefaultJudgeConcurrency = 8

	// DefaultJudgeTimeoutMs is the per-call relevance judge timeout.
	DefaultJudgeTimeoutMs = 15000

	// DefaultCacheSize is the relevance decision cache capacity in entries.
	DefaultCacheSize = 4096

	// DefaultRerankTopN is how many top candidates an optional reranker reorders.
	DefaultRerankTopN = 4

	// DefaultDeleteGraceMs is how long a replaced or deleted index snapshot
	// stays on disk before reclamation. The delay lets in-flight searches
	// that captured the old snapshot finish.
	DefaultDeleteGraceMs = 500
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`     // "gemini" (default), "ollama", "openai"
	ModelName     string  `mapstructure:"model_name" json:"model_name"` // Model identifier (e.g., "gemini-2.5-flash", "llama3.3", "gpt-4o")
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Knowledge base storage
	DataDir       string `mapstructure:"data_dir" json:"data_dir"`               // manifest + index snapshots
	DocsDir       string `mapstructure:"docs_dir" json:"docs_dir"`               // optional preload directory
	DeleteGraceMs int    `mapstructure:"delete_grace_ms" json:"delete_grace_ms"` // snapshot reclamation delay

	// Chunking
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval
	TopK          int     `mapstructure:"top_k" json:"top_k"`
	FallbackRatio float64 `mapstructure:"fallback_ratio" json:"fallback_ratio"`
	RerankTopN    int     `mapstructure:"rerank_top_n" json:"rerank_top_n"`

	// Relevance judging
	JudgeConcurrency int `mapstructure:"judge_concurrency" json:"judge_concurrency"`
	JudgeTimeoutMs   int `mapstructure:"judge_timeout_ms" json:"judge_timeout_ms"`
	CacheSize        int `mapstructure:"cache_size" json:"cache_size"`

	// Conversation
	MaxHistoryTurns int `mapstructure:"max_history_turns" json:"max_history_turns"`

	// HTTP server
	ServerAddr string `mapstructure:"server_addr" json:"server_addr"`

	// Observability configuration (see observability.go for type definition)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.recall/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".recall")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults(configDir)

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 8000)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Storage defaults
	viper.SetDefault("data_dir", filepath.Join(configDir, "data"))
	viper.SetDefault("docs_dir", "")
	viper.SetDefault("delete_grace_ms", DefaultDeleteGraceMs)

	// Chunking defaults
	viper.SetDefault("chunk_size", DefaultChunkSize)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)

	// Retrieval defaults
	viper.SetDefault("top_k", DefaultTopK)
	viper.SetDefault("fallback_ratio", DefaultFallbackRatio)
	viper.SetDefault("rerank_top_n", DefaultRerankTopN)

	// Relevance judge defaults
	viper.SetDefault("judge_concurrency", DefaultJudgeConcurrency)
	viper.SetDefault("judge_timeout_ms", DefaultJudgeTimeoutMs)
	viper.SetDefault("cache_size", DefaultCacheSize)

	// Conversation defaults
	viper.SetDefault("max_history_turns", DefaultMaxHistoryTurns)

	// Server defaults
	viper.SetDefault("server_addr", "127.0.0.1:3400")

	// Tracing defaults
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "recall")
	viper.SetDefault("tracing.enabled", false)
}

// bindEnvVariables binds environment variable overrides explicitly.
// Provider API keys are NOT bound here:
//   - GEMINI_API_KEY is read directly by the Genkit googlegenai plugin
//   - OPENAI_API_KEY is read directly by the Genkit OpenAI plugin
//
// Validation checks their presence based on the selected provider in cfg.Validate().
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// AI provider and model overrides
	mustBind("provider", "RECALL_PROVIDER")
	mustBind("model_name", "RECALL_MODEL_NAME")
	mustBind("embedder_model", "RECALL_EMBEDDER_MODEL")
	mustBind("ollama_host", "RECALL_OLLAMA_HOST")

	// Storage overrides
	mustBind("data_dir", "RECALL_DATA_DIR")
	mustBind("docs_dir", "RECALL_DOCS_DIR")

	// Retrieval overrides
	mustBind("top_k", "RECALL_TOP_K")
	mustBind("fallback_ratio", "RECALL_FALLBACK_RATIO")

	// Server override
	mustBind("server_addr", "RECALL_SERVER_ADDR")

	// Tracing overrides
	mustBind("tracing.enabled", "RECALL_TRACING_ENABLED")
	mustBind("tracing.endpoint", "RECALL_TRACING_ENDPOINT")
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}
