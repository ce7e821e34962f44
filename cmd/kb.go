package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/recallhq/recall/internal/app"
)

// runAdd indexes the named files and directories into the knowledge base.
func runAdd() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: recall add <path>...")
	}
	paths := os.Args[2:]

	return withApp(func(ctx context.Context, a *app.App) error {
		for _, path := range paths {
			fi, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("inspecting %q: %w", path, err)
			}

			if fi.IsDir() {
				res, err := a.Knowledge.Preload(ctx, path)
				if err != nil {
					return fmt.Errorf("indexing directory %q: %w", path, err)
				}
				fmt.Printf("%s: %d indexed, %d unchanged, %d skipped, %d failed\n",
					path, res.FilesIndexed, res.FilesUnchanged, res.FilesSkipped, res.FilesFailed)
				continue
			}

			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %q: %w", path, err)
			}
			name := filepath.Base(path)
			key, err := a.Knowledge.Upload(ctx, name, content)
			if err != nil {
				return fmt.Errorf("indexing %q: %w", path, err)
			}
			fmt.Printf("%s: indexed (%s)\n", name, key)
		}
		return nil
	})
}

// runList prints the indexed documents in a table.
func runList() error {
	return withApp(func(ctx context.Context, a *app.App) error {
		docs, err := a.Knowledge.List(ctx)
		if err != nil {
			return fmt.Errorf("listing documents: %w", err)
		}
		if len(docs) == 0 {
			fmt.Println("The knowledge base is empty. Add documents with: recall add <path>")
			return nil
		}

		fmt.Printf("%-32s %7s %9s  %s\n", "NAME", "CHUNKS", "SIZE", "KEY")
		for _, d := range docs {
			fmt.Printf("%-32s %7d %9s  %s\n", d.Name, d.ChunkCount, formatSize(d.Size), shortKey(d.Key))
		}
		return nil
	})
}

// runInfo prints one document's index details.
func runInfo() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: recall info <name>")
	}
	name := os.Args[2]

	return withApp(func(ctx context.Context, a *app.App) error {
		doc, err := a.Knowledge.Info(ctx, name)
		if err != nil {
			return fmt.Errorf("looking up %q: %w", name, err)
		}

		fmt.Printf("Name:       %s\n", doc.Name)
		fmt.Printf("Key:        %s\n", doc.Key)
		fmt.Printf("Size:       %s\n", formatSize(doc.Size))
		fmt.Printf("Chunks:     %d\n", doc.ChunkCount)
		fmt.Printf("Generation: %d\n", doc.Generation)
		fmt.Printf("Indexed:    %s\n", doc.IndexedAt.Format(time.RFC3339))
		if doc.Status != "" {
			fmt.Printf("Status:     %s\n", doc.Status)
		}
		return nil
	})
}

// runRemove deletes a document by name.
func runRemove() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: recall remove <name>")
	}
	name := os.Args[2]

	return withApp(func(ctx context.Context, a *app.App) error {
		// Deletion is keyed by content hash, so look the name up first.
		doc, err := a.Knowledge.Info(ctx, name)
		if err != nil {
			return fmt.Errorf("looking up %q: %w", name, err)
		}
		if err := a.Knowledge.Delete(ctx, doc.Key); err != nil {
			return fmt.Errorf("removing %q: %w", name, err)
		}
		fmt.Printf("%s: removed\n", name)
		return nil
	})
}

// formatSize renders a byte count for table output.
func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// shortKey abbreviates a content key for table output.
func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
