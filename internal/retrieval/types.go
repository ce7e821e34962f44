package retrieval

import (
	"errors"
	"fmt"

	"github.com/recallhq/recall/internal/conversation"
	"github.com/recallhq/recall/internal/index"
)

// Sentinel errors for retrieval requests. Check with errors.Is().
var (
	// ErrEmptyQuestion indicates a request with no question text.
	ErrEmptyQuestion = errors.New("empty question")
	// ErrNoDocuments indicates an all-documents request against an empty
	// knowledge base.
	ErrNoDocuments = errors.New("no documents in knowledge base")
)

// Mode selects the retrieval strategy. The caller chooses; the pipeline
// never infers the mode from the request scope.
type Mode string

const (
	// ModeFast selects the top candidates by hybrid score alone, with no
	// LLM filtering.
	ModeFast Mode = "fast"
	// ModeIntelligent confirms the top candidates with the relevance judge
	// before selection.
	ModeIntelligent Mode = "intelligent"
)

// ParseMode maps a request string to a Mode. "smart" is accepted as an
// alias for intelligent.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "fast":
		return ModeFast, nil
	case "intelligent", "smart":
		return ModeIntelligent, nil
	default:
		return "", fmt.Errorf("unknown retrieval mode %q", s)
	}
}

// Origin records which stage admitted a chunk into the selection.
type Origin string

const (
	// OriginHybrid means hybrid score order alone selected the chunk.
	OriginHybrid Origin = "hybrid"
	// OriginConfirmed means the relevance judge confirmed the chunk.
	OriginConfirmed Origin = "confirmed"
	// OriginFallback means the fallback policy selected the chunk after
	// the judge confirmed nothing.
	OriginFallback Origin = "fallback"
)

// Provenance identifies where a selected chunk came from, for citation.
// Document is the source document's content key; Name is its filename.
type Provenance struct {
	Document string  `json:"document"`
	Name     string  `json:"name"`
	Seq      int     `json:"seq"`
	Score    float64 `json:"score"`
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
	Origin   Origin  `json:"origin"`
}

// Selected is one answer-ready chunk with its provenance.
type Selected struct {
	Provenance
	Text string `json:"text"`
}

// Identity returns the chunk's stable identity: the parent document's
// content key joined with the chunk sequence. It changes whenever the
// document's content changes.
func (p Provenance) Identity() string {
	return fmt.Sprintf("%s#%d", p.Document, p.Seq)
}

// Citations lists the identities of selected chunks in rank order, for
// recording which chunks backed an answer.
func Citations(chunks []Selected) []string {
	if len(chunks) == 0 {
		return nil
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.Identity()
	}
	return ids
}

// Candidate is one merged hybrid-search hit, carrying the identity of the
// index that produced it. Rerankers operate on candidates.
type Candidate struct {
	DocumentKey  string
	DocumentName string
	Hit          index.Hit
}

// AskRequest describes one retrieval request. Document scopes the search
// to a single document by name; empty searches every document. Turns is
// the caller's conversation window snapshot, oldest first; prior turns
// fold into the retrieval query.
type AskRequest struct {
	Question string
	Document string
	Mode     Mode // zero value means ModeIntelligent
	TopK     int  // non-positive means the configured default
	Turns    []conversation.Turn
}

// Stats reports what one request searched and decided.
type Stats struct {
	DocumentsSearched int  `json:"documents_searched"`
	Candidates        int  `json:"candidates"` // merged hits before the top-K cut
	Evaluated         int  `json:"evaluated"`  // judged in intelligent mode
	Confirmed         int  `json:"confirmed"`
	CacheHits         int  `json:"cache_hits"`
	Fallback          bool `json:"fallback"`
}

// AskResult is the answer-ready output of one request. Query is the
// retrieval query after prior turns were folded in; Chunks holds the
// selected chunks in rank order.
type AskResult struct {
	Query  string     `json:"query"`
	Mode   Mode       `json:"mode"`
	Chunks []Selected `json:"chunks"`
	Stats  Stats      `json:"stats"`
}
