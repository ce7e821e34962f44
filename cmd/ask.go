package cmd

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/recallhq/recall/internal/app"
	"github.com/recallhq/recall/internal/conversation"
	"github.com/recallhq/recall/internal/retrieval"
)

// runAsk answers a question from the knowledge base. With -session it
// keeps reading follow-up questions from stdin, carrying the conversation
// window between turns.
func runAsk() error {
	askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
	askFlags.SetOutput(os.Stderr)
	doc := askFlags.String("doc", "", "restrict retrieval to one document")
	fast := askFlags.Bool("fast", false, "rank by hybrid score only, skip the relevance judge")
	topK := askFlags.Int("k", 0, "number of chunks to retrieve (0 = configured default)")
	session := askFlags.Bool("session", false, "read follow-up questions from stdin")

	var args []string
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := askFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ask flags: %w", err)
	}

	question := strings.TrimSpace(strings.Join(askFlags.Args(), " "))
	if question == "" && !*session {
		return fmt.Errorf("question is required (or pass -session for interactive mode)")
	}

	// The CLI defaults to the judged mode; -fast opts out.
	mode := retrieval.ModeIntelligent
	if *fast {
		mode = retrieval.ModeFast
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		window := conversation.NewWindow(a.Config.MaxHistoryTurns)

		askOnce := func(q string) error {
			res, err := a.Pipeline.Ask(ctx, retrieval.AskRequest{
				Question: q,
				Document: *doc,
				Mode:     mode,
				TopK:     *topK,
				Turns:    window.Turns(),
			})
			if err != nil {
				return err
			}

			answer, err := a.Generator.Stream(ctx, q, res.Chunks, window.Turns(),
				func(_ context.Context, text string) error {
					_, werr := fmt.Print(text)
					return werr
				})
			if err != nil {
				return fmt.Errorf("generating answer: %w", err)
			}
			fmt.Println()
			printSources(res)
			window.Record(q, answer, retrieval.Citations(res.Chunks)...)
			return nil
		}

		if question != "" {
			if err := askOnce(question); err != nil {
				return err
			}
		}
		if !*session {
			return nil
		}

		fmt.Println("Interactive session. /exit to quit, /clear to reset history.")
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			q := strings.TrimSpace(scanner.Text())
			switch q {
			case "":
			case "/exit", "/quit":
				return nil
			case "/clear":
				window.Clear()
				fmt.Println("History cleared.")
			default:
				if err := askOnce(q); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
			}
			fmt.Print("> ")
		}
		return scanner.Err()
	})
}

// printSources lists the chunks behind an answer with their provenance.
func printSources(res *retrieval.AskResult) {
	if len(res.Chunks) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	for _, c := range res.Chunks {
		fmt.Printf("  %s#%d  score=%.3f  %s\n", c.Name, c.Seq, c.Score, c.Origin)
	}
}
