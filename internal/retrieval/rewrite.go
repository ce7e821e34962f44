package retrieval

import (
	"strings"

	"github.com/recallhq/recall/internal/conversation"
)

// QueryRewriter folds prior conversation turns into the retrieval query so
// follow-up questions carry their referents. Implementations must keep the
// current question intact: a follow-up must retrieve at least as well as
// the same question asked standalone.
type QueryRewriter interface {
	Rewrite(question string, turns []conversation.Turn) string
}

// recentQuestions is the default rewriter. It prefixes the current
// question with the prior questions from the window, oldest first. Prior
// answers stay out: they are model output, and folding them back in pulls
// retrieval toward the model's phrasing instead of the user's.
type recentQuestions struct{}

func (recentQuestions) Rewrite(question string, turns []conversation.Turn) string {
	if len(turns) == 0 {
		return question
	}
	parts := make([]string, 0, len(turns)+1)
	for _, t := range turns {
		if q := strings.TrimSpace(t.Question); q != "" {
			parts = append(parts, q)
		}
	}
	parts = append(parts, question)
	return strings.Join(parts, "\n")
}
