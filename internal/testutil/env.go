package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/genai"
	"github.com/recallhq/recall/internal/log"
)

// DefaultVectorDim keeps mock vectors small so tests stay fast.
const DefaultVectorDim = 64

// Env bundles a Genkit instance wired to the mock model and embedder,
// ready for tests that exercise the model boundary.
type Env struct {
	Genkit   *genkit.Genkit
	LLM      *MockLLM
	Vectors  *MockEmbedder
	Embedder ai.Embedder
	Client   *genai.Client
	Config   *config.Config
}

// NewEnv builds the standard mock model stack. The config points DataDir at
// a per-test temporary directory.
func NewEnv(tb testing.TB) *Env {
	tb.Helper()

	g := genkit.Init(context.Background())
	llm := NewMockLLM("OK")
	llm.RegisterModel(g)
	vectors := NewMockEmbedder(DefaultVectorDim)
	embedder := vectors.RegisterEmbedder(g)

	cfg := NewTestConfig(tb.TempDir())

	client, err := genai.New(g, embedder, cfg, log.NewNop())
	if err != nil {
		tb.Fatalf("building genai client: %v", err)
	}

	return &Env{
		Genkit:   g,
		LLM:      llm,
		Vectors:  vectors,
		Embedder: embedder,
		Client:   client,
		Config:   cfg,
	}
}

// NewTestConfig returns a config addressing the mock model and embedder,
// with production defaults for everything else. dataDir should normally be
// tb.TempDir().
func NewTestConfig(dataDir string) *config.Config {
	return &config.Config{
		Provider:         config.ProviderGemini,
		ModelName:        "mock/test-model",
		EmbedderModel:    "mock/test-embedder",
		DataDir:          dataDir,
		ChunkSize:        config.DefaultChunkSize,
		ChunkOverlap:     config.DefaultChunkOverlap,
		TopK:             config.DefaultTopK,
		FallbackRatio:    config.DefaultFallbackRatio,
		RerankTopN:       config.DefaultRerankTopN,
		JudgeConcurrency: config.DefaultJudgeConcurrency,
		JudgeTimeoutMs:   config.DefaultJudgeTimeoutMs,
		CacheSize:        config.DefaultCacheSize,
		MaxHistoryTurns:  config.DefaultMaxHistoryTurns,
		ServerAddr:       "127.0.0.1:0",
	}
}
