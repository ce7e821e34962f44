// Package relevance confirms retrieval candidates with an LLM judge.
//
// Hybrid search is cheap and recall-oriented; it surfaces chunks that merely
// share vocabulary with the question. The Evaluator runs the expensive
// precision pass: each candidate chunk is judged relevant or not by the
// model, with three cost bounds:
//
//   - a per-process LRU cache of past verdicts, keyed by normalized
//     question and chunk identity, written back for every verdict
//   - concurrent judge calls per batch, limited by configuration
//   - a per-call timeout so one slow call cannot stall the batch
//
// Evaluation fails open per chunk: a judge error or an unparseable reply
// marks that chunk not confirmed without failing the batch. When nothing is
// confirmed, the fallback policy returns the top slice of the batch by the
// caller's original order instead of an empty result, so retrieval never
// silently produces nothing.
package relevance

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/log"
)

// Judge is the single model call the evaluator needs.
// *genai.Client satisfies it.
type Judge interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Chunk is one candidate under evaluation: enough text for a verdict,
// enough identity for the cache.
type Chunk struct {
	DocumentKey  string
	DocumentName string
	Seq          int
	Text         string
}

// Stats counts what one evaluation batch cost and decided.
type Stats struct {
	Total     int
	Confirmed int
	Rejected  int
	CacheHits int
	Errors    int // judge failures and unparseable replies
}

// Result reports one evaluation batch. Picks holds indices into the input
// batch, preserving the caller's order, which is score order in the
// pipeline.
type Result struct {
	Picks    []int
	Fallback bool
	Stats    Stats
}

// Bounds for the fallback ratio. Values outside are clamped at use, so a
// loose configuration cannot make the fallback empty or all-inclusive.
const (
	fallbackRatioMin = 0.2
	fallbackRatioMax = 0.8
)

// Evaluator wraps a Judge with caching, bounded concurrency, and the
// fallback policy. Safe for concurrent use.
//
// Note: The zero value is NOT useful - use NewEvaluator().
type Evaluator struct {
	judge       Judge
	cache       *decisionCache
	logger      log.Logger
	concurrency int
	timeout     time.Duration
	ratio       float64
}

// NewEvaluator creates an Evaluator from the judging section of cfg
// (JudgeConcurrency, JudgeTimeoutMs, CacheSize, FallbackRatio).
func NewEvaluator(judge Judge, cfg *config.Config, logger log.Logger) (*Evaluator, error) {
	if judge == nil {
		return nil, errors.New("relevance: judge is required")
	}
	if cfg == nil {
		return nil, errors.New("relevance: config is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	cache, err := newDecisionCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		judge:       judge,
		cache:       cache,
		logger:      logger,
		concurrency: cfg.JudgeConcurrency,
		timeout:     time.Duration(cfg.JudgeTimeoutMs) * time.Millisecond,
		ratio:       cfg.FallbackRatio,
	}, nil
}

// Evaluate judges every chunk against the question and returns the
// confirmed ones in input order, or the fallback slice when nothing is
// confirmed. The only error it returns is context cancellation; per-chunk
// judge failures are absorbed by the fail-open policy.
func (e *Evaluator) Evaluate(ctx context.Context, question string, chunks []Chunk) (Result, error) {
	if len(chunks) == 0 {
		return Result{}, nil
	}

	decisions := make([]bool, len(chunks))
	judged := make([]bool, len(chunks))
	keys := make([]string, len(chunks))
	var cacheHits int

	// Cache pass. Chunks with identical identity in one batch (the same
	// content under two document names) share a key and are judged once.
	misses := make(map[string][]int, len(chunks))
	for i, ch := range chunks {
		keys[i] = cacheKey(question, ch)
		if rel, ok := e.cache.get(keys[i]); ok {
			decisions[i] = rel
			judged[i] = true
			cacheHits++
			continue
		}
		misses[keys[i]] = append(misses[keys[i]], i)
	}

	if len(misses) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for key, indices := range misses {
			g.Go(func() error {
				rel, ok, err := e.judgeOne(gctx, question, chunks[indices[0]])
				if err != nil || !ok {
					// Fail open: the chunk stays unconfirmed but remains
					// eligible for the fallback slice. Verdicts that never
					// happened are not cached.
					if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
						e.logger.Debug("judge call failed", "document", chunks[indices[0]].DocumentName, "seq", chunks[indices[0]].Seq, "error", err)
					}
					return nil
				}
				for _, i := range indices {
					decisions[i] = rel
					judged[i] = true
				}
				e.cache.put(key, rel)
				return nil
			})
		}
		// Goroutines only return nil; collect them and then check whether
		// the batch as a whole was canceled.
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	stats := Stats{Total: len(chunks), CacheHits: cacheHits}
	var picks []int
	for i := range chunks {
		switch {
		case judged[i] && decisions[i]:
			stats.Confirmed++
			picks = append(picks, i)
		case judged[i]:
			stats.Rejected++
		default:
			stats.Errors++
		}
	}

	result := Result{Picks: picks, Stats: stats}
	if len(picks) == 0 {
		n := fallbackCount(len(chunks), e.ratio)
		result.Picks = make([]int, n)
		for i := range result.Picks {
			result.Picks[i] = i
		}
		result.Fallback = true
		e.logger.Debug("no chunks confirmed, applying fallback", "question_len", len(question), "returned", n, "of", len(chunks))
	}

	e.logger.Debug("relevance evaluated",
		"total", stats.Total,
		"confirmed", stats.Confirmed,
		"rejected", stats.Rejected,
		"cache_hits", stats.CacheHits,
		"errors", stats.Errors,
		"fallback", result.Fallback)
	return result, nil
}

func (e *Evaluator) judgeOne(ctx context.Context, question string, ch Chunk) (relevant, ok bool, err error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.judge.Complete(cctx, judgeSystem, judgePrompt(question, ch))
	if err != nil {
		return false, false, err
	}
	relevant, ok = parseVerdict(reply)
	if !ok {
		e.logger.Debug("unparseable judge reply", "document", ch.DocumentName, "seq", ch.Seq, "reply", truncateRunes(reply, 80))
	}
	return relevant, ok, nil
}

// fallbackCount is ceil(k * ratio) with the ratio clamped to its bounds,
// always in [1, k].
func fallbackCount(k int, ratio float64) int {
	if ratio < fallbackRatioMin {
		ratio = fallbackRatioMin
	}
	if ratio > fallbackRatioMax {
		ratio = fallbackRatioMax
	}
	n := int(math.Ceil(float64(k) * ratio))
	if n < 1 {
		n = 1
	}
	if n > k {
		n = k
	}
	return n
}
