// Package answer turns retrieval output into a model-generated answer.
//
// The generator classifies the question, picks a matching instruction
// block, renders the selected chunks as numbered source excerpts, and runs
// the model with the conversation window as message history. Both blocking
// and streaming generation go through the same prompt assembly.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/recallhq/recall/internal/conversation"
	"github.com/recallhq/recall/internal/genai"
	"github.com/recallhq/recall/internal/log"
	"github.com/recallhq/recall/internal/retrieval"
)

// Completer is the generation call the answer layer needs. *genai.Client
// satisfies it.
type Completer interface {
	Generate(ctx context.Context, system string, messages []*ai.Message, stream genai.StreamFunc) (string, error)
}

// Generator produces answers from selected chunks. Safe for concurrent use.
//
// Note: The zero value is NOT useful - use NewGenerator().
type Generator struct {
	completer Completer
	logger    log.Logger
}

// NewGenerator creates a Generator backed by the given completer.
func NewGenerator(completer Completer, logger log.Logger) (*Generator, error) {
	if completer == nil {
		return nil, errors.New("answer: completer is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Generator{completer: completer, logger: logger}, nil
}

// Answer runs a blocking generation over the chunks and the conversation
// window. Turns are rendered oldest first as message history.
func (g *Generator) Answer(ctx context.Context, question string, chunks []retrieval.Selected, turns []conversation.Turn) (string, error) {
	return g.generate(ctx, question, chunks, turns, nil)
}

// Stream forwards text deltas to fn as the model produces them and returns
// the full answer text.
func (g *Generator) Stream(ctx context.Context, question string, chunks []retrieval.Selected, turns []conversation.Turn, fn genai.StreamFunc) (string, error) {
	return g.generate(ctx, question, chunks, turns, fn)
}

func (g *Generator) generate(ctx context.Context, question string, chunks []retrieval.Selected, turns []conversation.Turn, stream genai.StreamFunc) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("answer: empty question")
	}

	task := Classify(question)
	messages := historyMessages(turns)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(userPrompt(question, chunks))))

	g.logger.Debug("generating answer",
		"task", task,
		"chunks", len(chunks),
		"history_turns", len(turns),
		"streaming", stream != nil)

	text, err := g.completer.Generate(ctx, systemPrompt(task), messages, stream)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	return text, nil
}

// historyMessages renders the window as alternating user/model messages,
// oldest first.
func historyMessages(turns []conversation.Turn) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(turns)*2+1)
	for _, t := range turns {
		msgs = append(msgs,
			ai.NewUserMessage(ai.NewTextPart(t.Question)),
			ai.NewModelMessage(ai.NewTextPart(t.Answer)),
		)
	}
	return msgs
}
