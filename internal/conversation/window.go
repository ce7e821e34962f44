// Package conversation keeps the short-term memory a question-answering
// session carries between turns.
//
// A Window holds the last few completed exchanges so follow-up questions
// ("what about the second one?") can be answered in context. The bound is
// deliberate: document retrieval supplies the long-term knowledge, so the
// window only needs enough history to resolve references, and an unbounded
// history would grow the prompt without limit.
package conversation

import (
	"sync"
	"time"
)

// DefaultMaxTurns is the fallback window size.
// Matches config.DefaultMaxHistoryTurns for consistency.
const DefaultMaxTurns = 3

// Turn is one completed question/answer exchange. Citations holds the
// identities of the chunks the answer was grounded on.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	At        time.Time `json:"at"`
	Citations []string  `json:"citations,omitempty"`
}

// Window is a bounded conversation history with thread-safe access. Once
// full, recording a new turn evicts the oldest.
//
// Note: The zero value is NOT useful - use NewWindow() to create instances.
type Window struct {
	mu    sync.RWMutex
	turns []Turn
	max   int
}

// NewWindow creates a Window holding at most maxTurns exchanges.
// Non-positive values fall back to DefaultMaxTurns.
func NewWindow(maxTurns int) *Window {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Window{
		turns: make([]Turn, 0, maxTurns),
		max:   maxTurns,
	}
}

// Record appends a completed exchange, evicting the oldest turn when the
// window is full. Citations are the identities of the chunks behind the
// answer; the slice is copied, so callers may reuse theirs.
func (w *Window) Record(question, answer string, citations ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	turn := Turn{
		Question: question,
		Answer:   answer,
		At:       time.Now(),
	}
	if len(citations) > 0 {
		turn.Citations = make([]string, len(citations))
		copy(turn.Citations, citations)
	}

	w.turns = append(w.turns, turn)
	if len(w.turns) > w.max {
		copy(w.turns, w.turns[len(w.turns)-w.max:])
		w.turns = w.turns[:w.max]
	}
}

// Turns returns a copy of the window contents, oldest first.
func (w *Window) Turns() []Turn {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]Turn, len(w.turns))
	copy(result, w.turns)
	return result
}

// Len returns the number of recorded turns.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.turns)
}

// Max returns the window capacity.
func (w *Window) Max() int {
	return w.max
}

// Clear removes all turns.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = w.turns[:0]
}
