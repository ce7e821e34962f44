package relevance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// decisionCache remembers judge verdicts so repeated questions against
// unchanged chunks cost nothing. Bounded LRU: a long-running server must
// not grow its cache without limit.
type decisionCache struct {
	lru *lru.Cache[string, bool]
}

func newDecisionCache(size int) (*decisionCache, error) {
	c, err := lru.New[string, bool](size)
	if err != nil {
		return nil, fmt.Errorf("creating relevance cache: %w", err)
	}
	return &decisionCache{lru: c}, nil
}

func (c *decisionCache) get(key string) (relevant, ok bool) {
	return c.lru.Get(key)
}

func (c *decisionCache) put(key string, relevant bool) {
	c.lru.Add(key, relevant)
}

// cacheIdentityRunes bounds how much chunk text participates in the cache
// key. The document key already pins the content version; the prefix keeps
// chunks with equal (key, seq) but different builds from colliding during a
// swap window.
const cacheIdentityRunes = 200

// cacheKey identifies one (question, chunk) decision. The question is
// normalized so whitespace and case variations of the same question share
// an entry.
func cacheKey(question string, ch Chunk) string {
	h := sha256.New()
	io.WriteString(h, normalizeQuestion(question))
	h.Write([]byte{0})
	io.WriteString(h, ch.DocumentKey)
	fmt.Fprintf(h, "\x00%d\x00", ch.Seq)
	io.WriteString(h, truncateRunes(ch.Text, cacheIdentityRunes))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
