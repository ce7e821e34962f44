// Package genai is the single boundary between recall and the language model
// provider. Every embedding and completion request in the repo goes through a
// Client, which applies a shared rate limit and retry policy so callers never
// handle transient provider failures themselves.
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/log"
)

// Default limiter values. The burst absorbs the fan-out of a single
// relevance evaluation round without tripping the limiter.
const (
	requestsPerSecond = 10
	requestBurst      = 30
)

// StreamFunc receives incremental text as the model produces it.
// Returning an error aborts the generation.
type StreamFunc func(ctx context.Context, text string) error

// Client wraps a Genkit instance with the model and embedder recall is
// configured to use. All methods are safe for concurrent use.
type Client struct {
	g         *genkit.Genkit
	embedder  ai.Embedder
	modelName string

	temperature float32
	maxTokens   int

	limiter *rate.Limiter
	retry   RetryConfig
	logger  log.Logger
}

// New builds a Client from an initialized Genkit instance and a resolved
// embedder. The model is addressed by cfg.FullModelName.
func New(g *genkit.Genkit, embedder ai.Embedder, cfg *config.Config, logger log.Logger) (*Client, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Client{
		g:           g,
		embedder:    embedder,
		modelName:   cfg.FullModelName(),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     rate.NewLimiter(requestsPerSecond, requestBurst),
		retry:       DefaultRetryConfig(),
		logger:      logger,
	}, nil
}

// Complete runs a single-prompt completion and returns the trimmed final
// text. Transient provider failures are retried.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	return c.Generate(ctx, system, []*ai.Message{ai.NewUserMessage(ai.NewTextPart(prompt))}, nil)
}

// Generate runs a completion over an explicit message history. When stream
// is non-nil each text chunk is forwarded as it arrives and the call is not
// retried: chunks already delivered to the caller cannot be taken back.
func (c *Client) Generate(ctx context.Context, system string, messages []*ai.Message, stream StreamFunc) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("at least one message is required")
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(messages...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}
	if cfg := c.generationConfig(); cfg != nil {
		opts = append(opts, ai.WithConfig(cfg))
	}
	if stream != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return stream(ctx, chunk.Text())
		}))
	}

	var resp *ai.ModelResponse
	var err error
	if stream != nil {
		if waitErr := c.limiter.Wait(ctx); waitErr != nil {
			return "", fmt.Errorf("rate limit wait: %w", waitErr)
		}
		resp, err = genkit.Generate(ctx, c.g, opts...)
	} else {
		err = c.withRetry(ctx, "generate", func(ctx context.Context) error {
			var callErr error
			resp, callErr = genkit.Generate(ctx, c.g, opts...)
			return callErr
		})
	}
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("model returned an empty response")
	}
	return text, nil
}

// generationConfig returns the request config map, or nil when no overrides
// are set. A plain map lets each provider plugin decode the keys it
// understands instead of rejecting an unknown struct type.
func (c *Client) generationConfig() map[string]any {
	cfg := make(map[string]any, 2)
	if c.temperature > 0 {
		cfg["temperature"] = c.temperature
	}
	if c.maxTokens > 0 {
		cfg["maxOutputTokens"] = c.maxTokens
	}
	if len(cfg) == 0 {
		return nil
	}
	return cfg
}
