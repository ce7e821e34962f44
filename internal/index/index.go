package index

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
)

// Status describes an index's lifecycle state as seen by its owner.
type Status int32

const (
	// StatusActive means the index serves searches.
	StatusActive Status = iota
	// StatusRebuilding means a replacement build is in flight; the current
	// index keeps serving searches until the swap.
	StatusRebuilding
	// StatusPendingDelete means the index is excluded from retrieval and its
	// resources await reclamation.
	StatusPendingDelete
)

// String implements Stringer for log output.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRebuilding:
		return "rebuilding"
	case StatusPendingDelete:
		return "pending_delete"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Chunk is one retrieval unit of a document.
// Seq is unique within a document; Start/End are rune offsets into the
// original text, End exclusive.
type Chunk struct {
	Seq    int       `json:"seq"`
	Text   string    `json:"text"`
	Start  int       `json:"start"`
	End    int       `json:"end"`
	Vector []float32 `json:"vector"`
}

// Hit is one search result: a chunk with its fused score and the raw
// per-signal scores that produced it.
type Hit struct {
	Chunk    Chunk
	Score    float64 // fused ranking score
	Semantic float64 // cosine similarity
	Lexical  float64 // raw BM25 score (0 when the chunk matched no query term)
}

// Index is the hybrid-searchable structure over one document's chunks.
// The chunk set and lexical statistics never change after construction;
// rebuilds produce a new Index. Status is the only mutable field.
type Index struct {
	key        string
	name       string
	generation uint64
	dim        int
	chunks     []Chunk
	lex        *lexicon

	status atomic.Int32
}

// New builds an Index from embedded chunks. The chunks must have unique,
// non-negative sequence numbers and embeddings of one consistent dimension.
// generation counts how many times this document's index has been built,
// starting at 1.
func New(key, name string, chunks []Chunk, generation uint64) (*Index, error) {
	if key == "" {
		return nil, fmt.Errorf("index: empty document key")
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("index: document %q has no chunks", name)
	}

	dim := len(chunks[0].Vector)
	if dim == 0 {
		return nil, fmt.Errorf("index: document %q chunk %d has no embedding", name, chunks[0].Seq)
	}

	seen := make(map[int]struct{}, len(chunks))
	for _, c := range chunks {
		if c.Seq < 0 {
			return nil, fmt.Errorf("index: document %q has negative chunk seq %d", name, c.Seq)
		}
		if _, dup := seen[c.Seq]; dup {
			return nil, fmt.Errorf("index: document %q has duplicate chunk seq %d", name, c.Seq)
		}
		seen[c.Seq] = struct{}{}
		if len(c.Vector) != dim {
			return nil, fmt.Errorf("index: document %q chunk %d embedding dimension %d, want %d",
				name, c.Seq, len(c.Vector), dim)
		}
	}

	// Keep chunks in sequence order so search tie-breaks are stable
	// regardless of input order.
	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	texts := make([]string, len(ordered))
	for i, c := range ordered {
		texts[i] = c.Text
	}

	ix := &Index{
		key:        key,
		name:       name,
		generation: generation,
		dim:        dim,
		chunks:     ordered,
		lex:        newLexicon(texts),
	}
	ix.status.Store(int32(StatusActive))
	return ix, nil
}

// Key returns the document content hash this index was built for.
func (ix *Index) Key() string { return ix.key }

// Name returns the document's filename.
func (ix *Index) Name() string { return ix.name }

// Generation returns the build counter for this document, starting at 1.
func (ix *Index) Generation() uint64 { return ix.generation }

// ChunkCount returns the number of chunks in the index.
func (ix *Index) ChunkCount() int { return len(ix.chunks) }

// Dimension returns the embedding dimension of the indexed chunks.
func (ix *Index) Dimension() int { return ix.dim }

// Chunks returns a copy of the chunk set in sequence order.
func (ix *Index) Chunks() []Chunk {
	out := make([]Chunk, len(ix.chunks))
	copy(out, ix.chunks)
	return out
}

// Status returns the current lifecycle state.
func (ix *Index) Status() Status {
	return Status(ix.status.Load())
}

// SetStatus updates the lifecycle state. Only the owning manager calls this.
func (ix *Index) SetStatus(s Status) {
	ix.status.Store(int32(s))
}

// Fusion parameters. Both legs carry equal weight; the constant dampens the
// influence of exact rank positions (standard reciprocal-rank fusion).
const (
	fusionWeightSemantic = 0.5
	fusionWeightLexical  = 0.5
	fusionRankConstant   = 60.0
)

// Search returns the top k chunks for the query, ranked by weighted
// reciprocal-rank fusion of the semantic and lexical signals. The result is
// deterministic for a fixed index and query; k larger than the chunk count
// returns every chunk. queryVec must match the index's embedding dimension.
func (ix *Index) Search(queryVec []float32, queryText string, k int) ([]Hit, error) {
	if len(queryVec) != ix.dim {
		return nil, fmt.Errorf("index: query embedding dimension %d, want %d", len(queryVec), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	n := len(ix.chunks)

	// Semantic leg: every chunk has a defined cosine similarity.
	semantic := make([]float64, n)
	for i, c := range ix.chunks {
		semantic[i] = cosineSimilarity(queryVec, c.Vector)
	}
	semanticRank := rankDescending(semantic, func(int) bool { return true })

	// Lexical leg: only chunks matching at least one query term participate.
	lexical := ix.lex.scores(queryText)
	lexicalRank := rankDescending(lexical, func(i int) bool { return lexical[i] > 0 })

	hits := make([]Hit, 0, n)
	for i, c := range ix.chunks {
		score := 0.0
		if r, ok := semanticRank[i]; ok {
			score += fusionWeightSemantic / (fusionRankConstant + float64(r))
		}
		if r, ok := lexicalRank[i]; ok {
			score += fusionWeightLexical / (fusionRankConstant + float64(r))
		}
		hits = append(hits, Hit{
			Chunk:    c,
			Score:    score,
			Semantic: semantic[i],
			Lexical:  lexical[i],
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Seq < hits[j].Chunk.Seq
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// rankDescending assigns 1-based ranks to eligible positions by descending
// score, breaking ties by position (ascending) for determinism.
func rankDescending(scores []float64, eligible func(int) bool) map[int]int {
	order := make([]int, 0, len(scores))
	for i := range scores {
		if eligible(i) {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})

	ranks := make(map[int]int, len(order))
	for r, i := range order {
		ranks[i] = r + 1
	}
	return ranks
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors. Zero vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
