package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/conversation"
	"github.com/recallhq/recall/internal/index"
	"github.com/recallhq/recall/internal/log"
	"github.com/recallhq/recall/internal/relevance"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errUnknownDocument = errors.New("unknown document")

type fakeCorpus struct {
	list []*index.Index
}

func (c *fakeCorpus) ByName(name string) (*index.Index, error) {
	for _, ix := range c.list {
		if ix.Name() == name {
			return ix, nil
		}
	}
	return nil, fmt.Errorf("document %q: %w", name, errUnknownDocument)
}

func (c *fakeCorpus) Indexes() []*index.Index {
	out := make([]*index.Index, len(c.list))
	copy(out, c.list)
	return out
}

type stubQueryEmbedder struct {
	mu   sync.Mutex
	vec  []float32
	last string
	err  error
}

func (s *stubQueryEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = text
	if s.err != nil {
		return nil, s.err
	}
	out := make([]float32, len(s.vec))
	copy(out, s.vec)
	return out, nil
}

func (s *stubQueryEmbedder) lastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type stubEvaluator struct {
	mu       sync.Mutex
	calls    int
	question string
	chunks   []relevance.Chunk
	result   relevance.Result
	resultFn func(chunks []relevance.Chunk) relevance.Result
	err      error
}

func (s *stubEvaluator) Evaluate(_ context.Context, question string, chunks []relevance.Chunk) (relevance.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.question = question
	s.chunks = chunks
	if s.err != nil {
		return relevance.Result{}, s.err
	}
	if s.resultFn != nil {
		return s.resultFn(chunks), nil
	}
	return s.result, nil
}

func (s *stubEvaluator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// confirmContaining scripts the evaluator: chunks whose text carries the
// marker are confirmed, the rest rejected.
func confirmContaining(marker string) func([]relevance.Chunk) relevance.Result {
	return func(chunks []relevance.Chunk) relevance.Result {
		var res relevance.Result
		res.Stats.Total = len(chunks)
		for i, ch := range chunks {
			if strings.Contains(strings.ToLower(ch.Text), marker) {
				res.Picks = append(res.Picks, i)
				res.Stats.Confirmed++
			} else {
				res.Stats.Rejected++
			}
		}
		return res
	}
}

type stubReranker struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubReranker) Rerank(_ context.Context, _ string, cands []Candidate) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		out[len(cands)-1-i] = c
	}
	return out, nil
}

const (
	reportsKey = "aa11bc6e9d2f4f308a5c2e6f9d0b1a77"
	guideKey   = "bb22de7fa3c05e419b6d3f70ae1c2b88"
)

func buildIndex(tb testing.TB, key, name string, chunks ...index.Chunk) *index.Index {
	tb.Helper()
	ix, err := index.New(key, name, chunks, 1)
	if err != nil {
		tb.Fatalf("index.New(%q): %v", name, err)
	}
	return ix
}

// testCorpus holds two documents with one revenue chunk each. Against the
// query vector (1,0,0,0) and the term "revenue", each document's revenue
// chunk ranks first on both legs, so the merged order is decided by the
// name tie-break: guide before reports.
func testCorpus(tb testing.TB) *fakeCorpus {
	reports := buildIndex(tb, reportsKey, "reports.md",
		index.Chunk{Seq: 0, Text: "Quarterly revenue grew nine percent.", Vector: []float32{1, 0, 0, 0}},
		index.Chunk{Seq: 1, Text: "An appendix lists every office.", Vector: []float32{0, 1, 0, 0}},
	)
	guide := buildIndex(tb, guideKey, "guide.md",
		index.Chunk{Seq: 0, Text: "Revenue recognition follows an updated policy.", Vector: []float32{0.9, 0.1, 0, 0}},
		index.Chunk{Seq: 1, Text: "Coffee machine cleaning rota.", Vector: []float32{0, 0, 1, 0}},
	)
	return &fakeCorpus{list: []*index.Index{reports, guide}}
}

func pipelineConfig() *config.Config {
	return &config.Config{TopK: 3, RerankTopN: 2}
}

func newTestPipeline(tb testing.TB, corpus Corpus, emb Embedder, eval Evaluator, cfg *config.Config, opts ...Option) *Pipeline {
	tb.Helper()
	if cfg == nil {
		cfg = pipelineConfig()
	}
	p, err := NewPipeline(corpus, emb, eval, cfg, log.NewNop(), opts...)
	if err != nil {
		tb.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func queryEmbedder() *stubQueryEmbedder {
	return &stubQueryEmbedder{vec: []float32{1, 0, 0, 0}}
}

// pick projects a Selected down to the fields tests care about.
type pick struct {
	Name   string
	Seq    int
	Origin Origin
}

func picksOf(chunks []Selected) []pick {
	out := make([]pick, len(chunks))
	for i, c := range chunks {
		out[i] = pick{Name: c.Name, Seq: c.Seq, Origin: c.Origin}
	}
	return out
}

func TestAskFastSingleDocument(t *testing.T) {
	eval := &stubEvaluator{}
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), eval, nil)

	res, err := p.Ask(context.Background(), AskRequest{
		Question: "Where did revenue grow?",
		Document: "reports.md",
		Mode:     ModeFast,
		TopK:     2,
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	want := []pick{
		{Name: "reports.md", Seq: 0, Origin: OriginHybrid},
		{Name: "reports.md", Seq: 1, Origin: OriginHybrid},
	}
	if diff := cmp.Diff(want, picksOf(res.Chunks)); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	if eval.callCount() != 0 {
		t.Errorf("fast mode made %d evaluator calls, want 0", eval.callCount())
	}

	top := res.Chunks[0]
	if top.Document != reportsKey {
		t.Errorf("Document = %q, want %q", top.Document, reportsKey)
	}
	if top.Score <= res.Chunks[1].Score {
		t.Errorf("rank order broken: %v <= %v", top.Score, res.Chunks[1].Score)
	}
	if top.Semantic < 0.9 {
		t.Errorf("Semantic = %v, want near 1", top.Semantic)
	}
	if top.Lexical <= 0 {
		t.Errorf("Lexical = %v, want > 0 for a matched term", top.Lexical)
	}
	if res.Stats.DocumentsSearched != 1 || res.Stats.Candidates != 2 {
		t.Errorf("Stats = %+v, want 1 document and 2 candidates", res.Stats)
	}
}

func TestAskIntelligentAllDocuments(t *testing.T) {
	eval := &stubEvaluator{resultFn: confirmContaining("revenue")}
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), eval, nil)

	res, err := p.Ask(context.Background(), AskRequest{
		Question: "Where did revenue grow?",
		Mode:     ModeIntelligent,
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	// Merged order is guide#0, reports#0, guide#1 (topK=3); the judge
	// confirms the two revenue chunks.
	want := []pick{
		{Name: "guide.md", Seq: 0, Origin: OriginConfirmed},
		{Name: "reports.md", Seq: 0, Origin: OriginConfirmed},
	}
	if diff := cmp.Diff(want, picksOf(res.Chunks)); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	wantStats := Stats{DocumentsSearched: 2, Candidates: 4, Evaluated: 3, Confirmed: 2}
	if diff := cmp.Diff(wantStats, res.Stats); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
}

func TestAskDefaultsToIntelligent(t *testing.T) {
	eval := &stubEvaluator{resultFn: confirmContaining("revenue")}
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), eval, nil)

	res, err := p.Ask(context.Background(), AskRequest{Question: "Where did revenue grow?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if eval.callCount() != 1 {
		t.Errorf("evaluator calls = %d, want 1", eval.callCount())
	}
	if res.Mode != ModeIntelligent {
		t.Errorf("Mode = %q, want %q", res.Mode, ModeIntelligent)
	}
}

func TestAskSingleDocumentIntelligent(t *testing.T) {
	eval := &stubEvaluator{resultFn: confirmContaining("revenue")}
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), eval, nil)

	_, err := p.Ask(context.Background(), AskRequest{
		Question: "Where did revenue grow?",
		Document: "guide.md",
		Mode:     ModeIntelligent,
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	for _, ch := range eval.chunks {
		if ch.DocumentName != "guide.md" {
			t.Errorf("evaluator saw chunk from %q, want guide.md only", ch.DocumentName)
		}
	}
}

func TestAskFoldsPriorTurns(t *testing.T) {
	emb := queryEmbedder()
	eval := &stubEvaluator{resultFn: confirmContaining("revenue")}
	p := newTestPipeline(t, testCorpus(t), emb, eval, nil)

	res, err := p.Ask(context.Background(), AskRequest{
		Question: "What about revenue?",
		Turns: []conversation.Turn{
			{Question: "Summarize the quarterly report", Answer: "It covers growth."},
		},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	query := emb.lastQuery()
	if !strings.Contains(query, "Summarize the quarterly report") {
		t.Errorf("embedded query %q lost the prior question", query)
	}
	if !strings.HasSuffix(query, "What about revenue?") {
		t.Errorf("embedded query %q must end with the current question", query)
	}
	if eval.question != query {
		t.Errorf("evaluator judged %q, want the folded query %q", eval.question, query)
	}
	if res.Query != query {
		t.Errorf("result Query = %q, want %q", res.Query, query)
	}
}

func TestAskFallbackAnnotation(t *testing.T) {
	eval := &stubEvaluator{result: relevance.Result{
		Picks:    []int{0, 1},
		Fallback: true,
		Stats:    relevance.Stats{Total: 3, Rejected: 3},
	}}
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), eval, nil)

	res, err := p.Ask(context.Background(), AskRequest{Question: "Where did revenue grow?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !res.Stats.Fallback {
		t.Error("Stats.Fallback = false, want true")
	}
	for _, ch := range res.Chunks {
		if ch.Origin != OriginFallback {
			t.Errorf("Origin = %q, want %q", ch.Origin, OriginFallback)
		}
	}
}

func TestAskNoDocuments(t *testing.T) {
	eval := &stubEvaluator{}
	p := newTestPipeline(t, &fakeCorpus{}, queryEmbedder(), eval, nil)

	_, err := p.Ask(context.Background(), AskRequest{Question: "Anything indexed?"})
	if !errors.Is(err, ErrNoDocuments) {
		t.Errorf("Ask error = %v, want ErrNoDocuments", err)
	}
}

func TestAskUnknownDocumentPassesThrough(t *testing.T) {
	eval := &stubEvaluator{}
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), eval, nil)

	_, err := p.Ask(context.Background(), AskRequest{
		Question: "Where did revenue grow?",
		Document: "missing.md",
	})
	if !errors.Is(err, errUnknownDocument) {
		t.Errorf("Ask error = %v, want the corpus not-found error", err)
	}
}

func TestAskBadRequests(t *testing.T) {
	eval := &stubEvaluator{}
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), eval, nil)

	if _, err := p.Ask(context.Background(), AskRequest{Question: "   "}); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("blank question error = %v, want ErrEmptyQuestion", err)
	}
	if _, err := p.Ask(context.Background(), AskRequest{Question: "q", Mode: Mode("turbo")}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestAskEmbedError(t *testing.T) {
	emb := queryEmbedder()
	emb.err = errors.New("quota exceeded")
	p := newTestPipeline(t, testCorpus(t), emb, &stubEvaluator{}, nil)

	_, err := p.Ask(context.Background(), AskRequest{Question: "Where did revenue grow?"})
	if err == nil || !strings.Contains(err.Error(), "embedding query") {
		t.Errorf("Ask error = %v, want a wrapped embedding failure", err)
	}
}

func TestAskSkipsPendingDelete(t *testing.T) {
	corpus := testCorpus(t)
	for _, ix := range corpus.list {
		if ix.Name() == "guide.md" {
			ix.SetStatus(index.StatusPendingDelete)
		}
	}
	p := newTestPipeline(t, corpus, queryEmbedder(), &stubEvaluator{}, nil)

	res, err := p.Ask(context.Background(), AskRequest{Question: "Where did revenue grow?", Mode: ModeFast})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if res.Stats.DocumentsSearched != 1 {
		t.Errorf("DocumentsSearched = %d, want 1", res.Stats.DocumentsSearched)
	}
	for _, ch := range res.Chunks {
		if ch.Name == "guide.md" {
			t.Error("pending-delete document served a chunk")
		}
	}
}

func TestAskTopKDefaultFromConfig(t *testing.T) {
	cfg := pipelineConfig()
	cfg.TopK = 1
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), &stubEvaluator{}, cfg)

	res, err := p.Ask(context.Background(), AskRequest{Question: "Where did revenue grow?", Mode: ModeFast})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	want := []pick{{Name: "guide.md", Seq: 0, Origin: OriginHybrid}}
	if diff := cmp.Diff(want, picksOf(res.Chunks)); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestAskRerankerReordersAndCuts(t *testing.T) {
	rr := &stubReranker{}
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), &stubEvaluator{}, nil, WithReranker(rr))

	res, err := p.Ask(context.Background(), AskRequest{Question: "Where did revenue grow?", Mode: ModeFast})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	// topK=3 merge is guide#0, reports#0, guide#1; reversed and cut to
	// rerank_top_n=2.
	want := []pick{
		{Name: "guide.md", Seq: 1, Origin: OriginHybrid},
		{Name: "reports.md", Seq: 0, Origin: OriginHybrid},
	}
	if diff := cmp.Diff(want, picksOf(res.Chunks)); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	if rr.calls != 1 {
		t.Errorf("reranker calls = %d, want 1", rr.calls)
	}
}

func TestAskRerankerFailureKeepsFusionOrder(t *testing.T) {
	rr := &stubReranker{err: errors.New("rerank backend down")}
	p := newTestPipeline(t, testCorpus(t), queryEmbedder(), &stubEvaluator{}, nil, WithReranker(rr))

	res, err := p.Ask(context.Background(), AskRequest{Question: "Where did revenue grow?", Mode: ModeFast})
	if err != nil {
		t.Fatalf("rerank failure must not fail the request, got %v", err)
	}
	want := []pick{
		{Name: "guide.md", Seq: 0, Origin: OriginHybrid},
		{Name: "reports.md", Seq: 0, Origin: OriginHybrid},
		{Name: "guide.md", Seq: 1, Origin: OriginHybrid},
	}
	if diff := cmp.Diff(want, picksOf(res.Chunks)); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "fast", want: ModeFast},
		{in: "intelligent", want: ModeIntelligent},
		{in: "smart", want: ModeIntelligent},
		{in: "", wantErr: true},
		{in: "turbo", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestRecentQuestionsRewrite(t *testing.T) {
	r := recentQuestions{}

	if got := r.Rewrite("standalone?", nil); got != "standalone?" {
		t.Errorf("Rewrite with no turns = %q, want the question unchanged", got)
	}

	turns := []conversation.Turn{
		{Question: "first?", Answer: "a1"},
		{Question: "   ", Answer: "a2"},
		{Question: "second?", Answer: "a3"},
	}
	got := r.Rewrite("third?", turns)
	want := "first?\nsecond?\nthird?"
	if got != want {
		t.Errorf("Rewrite = %q, want %q", got, want)
	}
}

func TestCitations(t *testing.T) {
	chunks := []Selected{
		{Provenance: Provenance{Document: "aaa", Seq: 2}},
		{Provenance: Provenance{Document: "bbb", Seq: 0}},
	}

	want := []string{"aaa#2", "bbb#0"}
	if diff := cmp.Diff(want, Citations(chunks)); diff != "" {
		t.Errorf("Citations() mismatch (-want +got):\n%s", diff)
	}
	if Citations(nil) != nil {
		t.Errorf("Citations(nil) = %v, want nil", Citations(nil))
	}
}
