package index

import (
	"math"
	"regexp"
	"strings"
)

// BM25 parameters, the conventional defaults.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// tokenPattern matches runs of Unicode letters and digits. Everything else
// (punctuation, symbols, whitespace) separates tokens.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// tokenize lowercases text and splits it into query/document terms.
func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// lexicon holds the term statistics for one document's chunks, treating each
// chunk as a BM25 "document".
type lexicon struct {
	termFreqs []map[string]int // per chunk: term -> occurrences
	docFreq   map[string]int   // term -> number of chunks containing it
	lengths   []int            // per chunk: token count
	avgLen    float64
}

// newLexicon computes term statistics over chunk texts. The statistics are
// read-only after construction.
func newLexicon(texts []string) *lexicon {
	l := &lexicon{
		termFreqs: make([]map[string]int, len(texts)),
		docFreq:   make(map[string]int),
		lengths:   make([]int, len(texts)),
	}

	total := 0
	for i, text := range texts {
		tokens := tokenize(text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			l.docFreq[term]++
		}
		l.termFreqs[i] = tf
		l.lengths[i] = len(tokens)
		total += len(tokens)
	}

	if len(texts) > 0 {
		l.avgLen = float64(total) / float64(len(texts))
	}
	return l
}

// scores returns the BM25 score of every chunk for the query. Chunks sharing
// no term with the query score 0.
func (l *lexicon) scores(query string) []float64 {
	out := make([]float64, len(l.termFreqs))
	terms := tokenize(query)
	if len(terms) == 0 || l.avgLen == 0 {
		return out
	}

	n := float64(len(l.termFreqs))
	for _, term := range terms {
		df, ok := l.docFreq[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		for i, tf := range l.termFreqs {
			freq := float64(tf[term])
			if freq == 0 {
				continue
			}
			lengthNorm := 1 - bm25B + bm25B*float64(l.lengths[i])/l.avgLen
			out[i] += idf * freq * (bm25K1 + 1) / (freq + bm25K1*lengthNorm)
		}
	}
	return out
}
