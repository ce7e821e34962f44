package answer

import (
	"strings"
	"unicode"
)

// TaskType groups questions by the answering strategy they need.
type TaskType int

const (
	// TaskGeneral is a direct question answered from the best excerpts.
	TaskGeneral TaskType = iota
	// TaskStatistical asks for counts or enumeration across sources.
	TaskStatistical
	// TaskEvolution asks how something changed across sources over time.
	TaskEvolution
)

// String implements Stringer for log output.
func (t TaskType) String() string {
	switch t {
	case TaskStatistical:
		return "statistical"
	case TaskEvolution:
		return "evolution"
	default:
		return "general"
	}
}

// Keyword heuristics over the lowercased question. Multi-word entries match
// as substrings; single words match question words by prefix, so plurals
// and verb forms count but embedded hits ("exchange") do not.
// Classification only picks an instruction block, so a miss degrades the
// answer style, never the retrieval.
var (
	statisticalKeywords = []string{
		"how many", "how often", "how frequently", "number of",
		"frequency", "list all", "list every", "enumerate", "mention",
		"statistic", "tally", "occur",
	}
	evolutionKeywords = []string{
		"over time", "change", "evolv", "evolution", "shift",
		"transition", "trend", "develop", "attitude", "stance",
		"why", "reason",
	}
	// A lone evolution keyword is too weak; the question must also carry a
	// comparative structure.
	evolutionStructure = []string{"over time", "change", "evolv", "trend"}
)

// Classify picks the answering strategy for a question. Statistical wins
// when both families match.
func Classify(question string) TaskType {
	q := strings.ToLower(question)
	words := questionWords(q)

	if matchAny(q, words, statisticalKeywords) {
		return TaskStatistical
	}
	if matchAny(q, words, evolutionKeywords) {
		fromTo := hasWord(words, "from") && hasWord(words, "to")
		if fromTo || matchAny(q, words, evolutionStructure) {
			return TaskEvolution
		}
	}
	return TaskGeneral
}

func questionWords(q string) []string {
	return strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matchAny(q string, words []string, keys []string) bool {
	for _, k := range keys {
		if strings.ContainsRune(k, ' ') {
			if strings.Contains(q, k) {
				return true
			}
			continue
		}
		for _, w := range words {
			if strings.HasPrefix(w, k) {
				return true
			}
		}
	}
	return false
}

func hasWord(words []string, want string) bool {
	for _, w := range words {
		if w == want {
			return true
		}
	}
	return false
}
