// Package cmd provides CLI commands for recall.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - ask: answer a question from the knowledge base (one-shot or interactive)
//   - add, list, info, remove: knowledge base management
//
// Signal handling and graceful shutdown are implemented for all
// long-running commands via context cancellation.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/recallhq/recall/internal/app"
	"github.com/recallhq/recall/internal/config"
)

// Execute is the main entry point for the recall CLI.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "ask":
		return runAsk()
	case "add":
		return runAdd()
	case "list":
		return runList()
	case "info":
		return runInfo()
	case "remove":
		return runRemove()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// withApp loads configuration, builds the application, runs fn, and
// tears everything down afterwards. The context cancels on SIGINT and
// SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	return fn(ctx, a)
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("recall - document memory for your assistant")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  recall serve [addr]      Start HTTP API server (default: 127.0.0.1:3400)")
	fmt.Println("  recall ask [flags] <question>")
	fmt.Println("                           Answer a question from the knowledge base")
	fmt.Println("  recall add <path>...     Index files or directories")
	fmt.Println("  recall list              List indexed documents")
	fmt.Println("  recall info <name>       Show a document's index details")
	fmt.Println("  recall remove <name>     Remove a document")
	fmt.Println("  recall version           Show version information")
	fmt.Println("  recall help              Show this help")
	fmt.Println()
	fmt.Println("Ask flags (before the question):")
	fmt.Println("  -doc <name>              Restrict retrieval to one document")
	fmt.Println("  -fast                    Rank by hybrid score only, skip the relevance judge")
	fmt.Println("  -k <n>                   Number of chunks to retrieve")
	fmt.Println("  -session                 Keep the conversation open; read follow-up")
	fmt.Println("                           questions from stdin (/exit to quit)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY           Required for the default gemini provider")
	fmt.Println("  RECALL_PROVIDER          gemini (default), ollama, or openai")
	fmt.Println("  RECALL_DATA_DIR          Index storage directory (default: ~/.recall/data)")
	fmt.Println("  RECALL_DOCS_DIR          Directory preloaded into the knowledge base at startup")
	fmt.Println("  DEBUG                    Enable debug logging")
	fmt.Println()
	fmt.Println("Learn more: https://github.com/recallhq/recall")
}
