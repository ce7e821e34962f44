package genai

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// ErrEmptyEmbedding is returned when the provider reports success but one of
// the vectors comes back empty.
var ErrEmptyEmbedding = errors.New("empty embedding returned")

// embedBatchSize caps documents per embed request. Gemini rejects batches
// above 100 inputs.
const embedBatchSize = 100

// EmbedTexts embeds texts in order, batching requests to stay under provider
// limits. The returned slice is index-aligned with the input.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for batchStart := 0; batchStart < len(texts); batchStart += embedBatchSize {
		batchEnd := min(batchStart+embedBatchSize, len(texts))
		batch := texts[batchStart:batchEnd]

		docs := make([]*ai.Document, len(batch))
		for i, text := range batch {
			docs[i] = ai.DocumentFromText(text, nil)
		}

		var resp *ai.EmbedResponse
		err := c.withRetry(ctx, "embed", func(ctx context.Context) error {
			var callErr error
			resp, callErr = c.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", batchStart, batchEnd, err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(resp.Embeddings), len(batch))
		}
		for i, emb := range resp.Embeddings {
			if len(emb.Embedding) == 0 {
				return nil, fmt.Errorf("%w: input %d", ErrEmptyEmbedding, batchStart+i)
			}
			vectors = append(vectors, emb.Embedding)
		}
	}

	return vectors, nil
}

// EmbedText embeds a single text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
