// Package app provides application initialization and teardown.
//
// App is the container that assembles all components in dependency order:
// tracing, Genkit with the configured AI provider, the model client, the
// knowledge base, the retrieval pipeline, the answer generator, and the
// session store. Entry points (CLI, HTTP server) call Setup once and share
// the resulting App.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/recallhq/recall/internal/answer"
	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/conversation"
	"github.com/recallhq/recall/internal/genai"
	"github.com/recallhq/recall/internal/knowledge"
	"github.com/recallhq/recall/internal/log"
	"github.com/recallhq/recall/internal/retrieval"
)

// App is the core application container.
//
// Note: The zero value is NOT useful - use Setup().
type App struct {
	// Configuration
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit    *genkit.Genkit
	Embedder  ai.Embedder
	Client    *genai.Client
	Knowledge *knowledge.Manager
	Pipeline  *retrieval.Pipeline
	Generator *answer.Generator
	Sessions  *conversation.Store

	// Lifecycle management
	otelCleanup func()
}

// Close gracefully shuts down all resources: background reclamation work in
// the knowledge base first, then the trace exporter flush. Safe to call on a
// partially initialized App.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	// 1. Stop knowledge base background work (snapshot reclamation timers)
	if a.Knowledge != nil {
		a.Knowledge.Close()
	}

	// 2. Flush pending spans
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
