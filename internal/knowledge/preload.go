package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

// preloadExtensions are the file types Preload treats as documents.
// Matching is case-insensitive on the extension.
var preloadExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
	".csv":      true,
	".tsv":      true,
	".json":     true,
	".yaml":     true,
	".yml":      true,
	".xml":      true,
	".html":     true,
	".htm":      true,
	".log":      true,
}

// maxPreloadFileSize caps how large a single preloaded document may be.
// Oversized files are skipped, not failed; they are almost always build
// artifacts or data dumps rather than documents.
const maxPreloadFileSize = 10 << 20 // 10MB

// PreloadResult summarizes one directory preload.
type PreloadResult struct {
	FilesIndexed   int
	FilesUnchanged int
	FilesSkipped   int
	FilesFailed    int
	TotalSize      int64
	Duration       time.Duration
}

// Preload walks dir and uploads every supported file, using the
// slash-separated path relative to dir as the document name. Unchanged
// files cost one hash comparison each, so running Preload at every startup
// is cheap. A .gitignore at the root of dir is honored; dot-directories are
// skipped outright. Individual file failures are counted and logged, not
// fatal.
func (m *Manager) Preload(ctx context.Context, dir string) (*PreloadResult, error) {
	start := time.Now()
	result := &PreloadResult{}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving preload directory: %w", err)
	}

	// Reads go through os.Root so a symlink inside dir cannot escape it.
	root, err := os.OpenRoot(absDir)
	if err != nil {
		return nil, fmt.Errorf("opening preload directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	// A malformed .gitignore disables ignore matching rather than failing
	// the whole preload.
	var gitIgnore *ignore.GitIgnore
	gitignorePath := filepath.Join(absDir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		gitIgnore, err = ignore.CompileIgnoreFile(gitignorePath)
		if err != nil {
			m.logger.Warn("ignoring malformed .gitignore", "path", gitignorePath, "error", err)
			gitIgnore = nil
		}
	}

	walkErr := filepath.Walk(absDir, func(path string, info os.FileInfo, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			result.FilesFailed++
			return nil
		}

		relPath, err := filepath.Rel(absDir, path)
		if err != nil {
			result.FilesFailed++
			return nil
		}
		if relPath == "." {
			return nil
		}

		base := filepath.Base(relPath)
		if info.IsDir() && strings.HasPrefix(base, ".") {
			return filepath.SkipDir
		}
		if gitIgnore != nil && gitIgnore.MatchesPath(relPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			result.FilesSkipped++
			return nil
		}
		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !preloadExtensions[ext] || strings.HasPrefix(base, ".") {
			result.FilesSkipped++
			return nil
		}
		if info.Size() > maxPreloadFileSize {
			m.logger.Warn("skipping oversized file", "path", relPath, "size", info.Size())
			result.FilesSkipped++
			return nil
		}

		content, err := root.ReadFile(relPath)
		if err != nil {
			m.logger.Warn("reading preload file failed", "path", relPath, "error", err)
			result.FilesFailed++
			return nil
		}

		name := filepath.ToSlash(relPath)
		res, err := m.ingest(ctx, name, content, policyUpsert)
		if err != nil {
			// Context failures abort the walk; per-document problems do not.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			m.logger.Warn("preload upload failed", "name", name, "error", err)
			result.FilesFailed++
			return nil
		}

		switch res.Outcome {
		case OutcomeUnchanged:
			result.FilesUnchanged++
		default:
			result.FilesIndexed++
		}
		result.TotalSize += info.Size()
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("preloading %s: %w", dir, walkErr)
	}

	result.Duration = time.Since(start)
	m.logger.Info("preload finished",
		"dir", dir,
		"indexed", result.FilesIndexed,
		"unchanged", result.FilesUnchanged,
		"skipped", result.FilesSkipped,
		"failed", result.FilesFailed,
		"duration", result.Duration)
	return result, nil
}
