package config

import (
	"fmt"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 0. Check for nil config
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider validation
	validProviders := []string{ProviderGemini, ProviderOllama, ProviderOpenAI}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidProvider, c.Provider, validProviders)
	}

	// 2. API key validation, provider-dependent. The keys are consumed by the
	// Genkit provider plugins directly; we only verify presence up front so a
	// misconfigured deployment fails at startup instead of on the first call.
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required",
				ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
		}
	}

	// 3. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// MaxTokens range: 1 to 2097152 (Gemini 2.5 max context window)
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 4. Storage validation
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir cannot be empty", ErrInvalidDataDir)
	}
	if c.DeleteGraceMs < 0 {
		return fmt.Errorf("%w: delete_grace_ms cannot be negative, got %d", ErrInvalidDeleteGrace, c.DeleteGraceMs)
	}

	// 5. Chunking validation. Overlap must leave forward progress, otherwise
	// the splitter would loop on the same window.
	if c.ChunkSize < 50 || c.ChunkSize > 100000 {
		return fmt.Errorf("%w: chunk_size must be between 50 and 100,000, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d",
			ErrInvalidChunking, c.ChunkOverlap, c.ChunkSize)
	}

	// 6. Retrieval validation
	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}
	if c.FallbackRatio <= 0 || c.FallbackRatio > 1 {
		return fmt.Errorf("%w: must be in (0, 1], got %.2f", ErrInvalidFallbackRatio, c.FallbackRatio)
	}
	if c.RerankTopN < 0 || c.RerankTopN > 50 {
		return fmt.Errorf("%w: rerank_top_n must be between 0 and 50, got %d", ErrInvalidTopK, c.RerankTopN)
	}

	// 7. Relevance judge validation
	if c.JudgeConcurrency < 1 || c.JudgeConcurrency > 64 {
		return fmt.Errorf("%w: judge_concurrency must be between 1 and 64, got %d", ErrInvalidJudge, c.JudgeConcurrency)
	}
	if c.JudgeTimeoutMs < 100 {
		return fmt.Errorf("%w: judge_timeout_ms must be at least 100, got %d", ErrInvalidJudge, c.JudgeTimeoutMs)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("%w: cache_size must be positive, got %d", ErrInvalidJudge, c.CacheSize)
	}

	// 8. Conversation validation
	if c.MaxHistoryTurns < 1 || c.MaxHistoryTurns > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidHistoryTurns, c.MaxHistoryTurns)
	}

	// 9. Server validation
	if c.ServerAddr == "" {
		return fmt.Errorf("%w: server_addr cannot be empty", ErrInvalidServerAddr)
	}

	return nil
}
