// Package retrieval turns a question into an answer-ready set of document
// chunks.
//
// Each request walks one sequence: COLLECT gathers hybrid-search
// candidates from the scoped indexes, EVALUATE confirms them with the
// relevance judge in intelligent mode, SELECT annotates the survivors with
// provenance. Fast mode skips EVALUATE and lets hybrid score order stand.
// Answer generation is the caller's concern; the pipeline stops at chunks.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/index"
	"github.com/recallhq/recall/internal/log"
	"github.com/recallhq/recall/internal/relevance"
)

// Corpus is the index access the pipeline needs. *knowledge.Manager
// satisfies it.
type Corpus interface {
	ByName(name string) (*index.Index, error)
	Indexes() []*index.Index
}

// Embedder turns the retrieval query into a vector. *genai.Client
// satisfies it.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Evaluator runs the precision pass over collected candidates.
// *relevance.Evaluator satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, question string, chunks []relevance.Chunk) (relevance.Result, error)
}

// Reranker reorders merged candidates by relevance to the query, best
// first. Optional: without one, fusion order stands.
type Reranker interface {
	Rerank(ctx context.Context, query string, cands []Candidate) ([]Candidate, error)
}

// Pipeline orchestrates retrieval over the knowledge base. Safe for
// concurrent use.
//
// Note: The zero value is NOT useful - use NewPipeline().
type Pipeline struct {
	corpus     Corpus
	embedder   Embedder
	evaluator  Evaluator
	rewriter   QueryRewriter
	reranker   Reranker
	logger     log.Logger
	topK       int
	rerankTopN int
}

// Option configures optional pipeline stages.
type Option func(*Pipeline)

// WithReranker installs a reranking stage over the merged candidates.
func WithReranker(r Reranker) Option {
	return func(p *Pipeline) { p.reranker = r }
}

// WithQueryRewriter replaces the default recent-questions rewriter.
func WithQueryRewriter(r QueryRewriter) Option {
	return func(p *Pipeline) { p.rewriter = r }
}

// NewPipeline creates a Pipeline using the retrieval section of cfg
// (TopK, RerankTopN).
func NewPipeline(corpus Corpus, embedder Embedder, evaluator Evaluator, cfg *config.Config, logger log.Logger, opts ...Option) (*Pipeline, error) {
	if corpus == nil {
		return nil, errors.New("retrieval: corpus is required")
	}
	if embedder == nil {
		return nil, errors.New("retrieval: embedder is required")
	}
	if evaluator == nil {
		return nil, errors.New("retrieval: evaluator is required")
	}
	if cfg == nil {
		return nil, errors.New("retrieval: config is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	p := &Pipeline{
		corpus:    corpus,
		embedder:  embedder,
		evaluator: evaluator,
		rewriter:  recentQuestions{},
		logger:    logger,

		topK:       cfg.TopK,
		rerankTopN: cfg.RerankTopN,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rewriter == nil {
		p.rewriter = recentQuestions{}
	}
	return p, nil
}

// Ask runs one retrieval request. For a well-formed question against an
// existing scope it always returns a non-empty chunk set, via the fallback
// policy when the judge confirms nothing. A missing document surfaces the
// knowledge layer's not-found error; an empty knowledge base surfaces
// ErrNoDocuments.
func (p *Pipeline) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeIntelligent
	}
	if mode != ModeFast && mode != ModeIntelligent {
		return nil, fmt.Errorf("unknown retrieval mode %q", mode)
	}
	k := req.TopK
	if k <= 0 {
		k = p.topK
	}

	query := p.rewriter.Rewrite(question, req.Turns)

	vec, err := p.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	cands, searched, err := p.collect(ctx, req.Document, vec, query, k)
	if err != nil {
		return nil, err
	}
	stats := Stats{DocumentsSearched: searched, Candidates: len(cands)}

	// Global top-K across documents, independent of corpus size.
	sortCandidates(cands)
	if k < len(cands) {
		cands = cands[:k]
	}
	cands = p.rerank(ctx, query, cands)

	var chunks []Selected
	if mode == ModeFast {
		chunks = selectAll(cands, OriginHybrid)
	} else {
		chunks, err = p.evaluate(ctx, query, cands, &stats)
		if err != nil {
			return nil, err
		}
	}

	scope := req.Document
	if scope == "" {
		scope = "all"
	}
	p.logger.Debug("retrieval complete",
		"mode", mode,
		"scope", scope,
		"documents_searched", stats.DocumentsSearched,
		"candidates", stats.Candidates,
		"selected", len(chunks),
		"fallback", stats.Fallback)

	return &AskResult{Query: query, Mode: mode, Chunks: chunks, Stats: stats}, nil
}

// collect runs the candidate-gathering stage and reports how many
// documents were searched.
func (p *Pipeline) collect(ctx context.Context, document string, vec []float32, query string, k int) ([]Candidate, int, error) {
	if document != "" {
		ix, err := p.corpus.ByName(document)
		if err != nil {
			return nil, 0, err
		}
		hits, err := ix.Search(vec, query, k)
		if err != nil {
			return nil, 0, fmt.Errorf("searching %q: %w", document, err)
		}
		return candidates(ix, hits), 1, nil
	}

	var live []*index.Index
	for _, ix := range p.corpus.Indexes() {
		if ix.Status() != index.StatusPendingDelete {
			live = append(live, ix)
		}
	}
	if len(live) == 0 {
		return nil, 0, ErrNoDocuments
	}

	// Per-document searches are independent and CPU-bound.
	results := make([][]Candidate, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, ix := range live {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hits, err := ix.Search(vec, query, k)
			if err != nil {
				// One unsearchable document does not take down the
				// request; the rest of the corpus still serves.
				p.logger.Warn("document search failed", "document", ix.Name(), "error", err)
				return nil
			}
			results[i] = candidates(ix, hits)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var merged []Candidate
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, len(live), nil
}

// rerank applies the optional reranker to the top candidates. Rerank
// failures keep fusion order; the request proceeds either way.
func (p *Pipeline) rerank(ctx context.Context, query string, cands []Candidate) []Candidate {
	if p.reranker == nil || len(cands) == 0 {
		return cands
	}
	reranked, err := p.reranker.Rerank(ctx, query, cands)
	if err != nil {
		p.logger.Warn("rerank failed, keeping fusion order", "error", err)
		return cands
	}
	if p.rerankTopN > 0 && p.rerankTopN < len(reranked) {
		reranked = reranked[:p.rerankTopN]
	}
	return reranked
}

// evaluate hands the candidates to the relevance judge and builds the
// selection from its picks.
func (p *Pipeline) evaluate(ctx context.Context, query string, cands []Candidate, stats *Stats) ([]Selected, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	chunks := make([]relevance.Chunk, len(cands))
	for i, c := range cands {
		chunks[i] = relevance.Chunk{
			DocumentKey:  c.DocumentKey,
			DocumentName: c.DocumentName,
			Seq:          c.Hit.Chunk.Seq,
			Text:         c.Hit.Chunk.Text,
		}
	}

	res, err := p.evaluator.Evaluate(ctx, query, chunks)
	if err != nil {
		return nil, fmt.Errorf("evaluating candidates: %w", err)
	}
	stats.Evaluated = res.Stats.Total
	stats.Confirmed = res.Stats.Confirmed
	stats.CacheHits = res.Stats.CacheHits
	stats.Fallback = res.Fallback

	origin := OriginConfirmed
	if res.Fallback {
		origin = OriginFallback
	}
	out := make([]Selected, 0, len(res.Picks))
	for _, i := range res.Picks {
		out = append(out, selected(cands[i], origin))
	}
	return out, nil
}

func candidates(ix *index.Index, hits []index.Hit) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{DocumentKey: ix.Key(), DocumentName: ix.Name(), Hit: h}
	}
	return out
}

// sortCandidates orders by fused score descending, breaking ties by
// document name then chunk sequence so cross-document merges are
// deterministic.
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Hit.Score != cands[j].Hit.Score {
			return cands[i].Hit.Score > cands[j].Hit.Score
		}
		if cands[i].DocumentName != cands[j].DocumentName {
			return cands[i].DocumentName < cands[j].DocumentName
		}
		return cands[i].Hit.Chunk.Seq < cands[j].Hit.Chunk.Seq
	})
}

func selectAll(cands []Candidate, origin Origin) []Selected {
	out := make([]Selected, 0, len(cands))
	for _, c := range cands {
		out = append(out, selected(c, origin))
	}
	return out
}

func selected(c Candidate, origin Origin) Selected {
	return Selected{
		Provenance: Provenance{
			Document: c.DocumentKey,
			Name:     c.DocumentName,
			Seq:      c.Hit.Chunk.Seq,
			Score:    c.Hit.Score,
			Semantic: c.Hit.Semantic,
			Lexical:  c.Hit.Lexical,
			Origin:   origin,
		},
		Text: c.Hit.Chunk.Text,
	}
}
