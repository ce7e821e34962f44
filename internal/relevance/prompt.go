package relevance

import (
	"fmt"
	"strings"
)

// maxJudgeChunkRunes caps how much chunk text the judge sees. Long chunks
// dilute the question and cost tokens without improving the verdict.
const maxJudgeChunkRunes = 500

// judgeSystem fixes the judge's task and output contract.
const judgeSystem = `You are a strict relevance judge for a document retrieval system. You decide whether a text fragment is relevant to a question. Reply with exactly one letter: Y or N.`

// judgePromptTemplate carries one (question, fragment) pair.
// %s placeholders: (1) question, (2) fragment text.
const judgePromptTemplate = `Question: %s

Text fragment:
%s

Criteria:
- Reply Y if the fragment directly or partially answers the question.
- Reply Y if the fragment provides background or context needed to answer it.
- Reply N if the fragment is unrelated to the question.

Reply with exactly Y or N and nothing else:`

func judgePrompt(question string, ch Chunk) string {
	return fmt.Sprintf(judgePromptTemplate, question, truncateRunes(ch.Text, maxJudgeChunkRunes))
}

// parseVerdict interprets a judge reply. Only an unambiguous leading Y or N
// counts as a verdict; anything else reports ok false and the chunk is
// treated as not confirmed, leaving the fallback policy to decide what
// reaches the caller.
func parseVerdict(reply string) (relevant, ok bool) {
	v := strings.ToUpper(strings.TrimSpace(reply))
	switch {
	case v == "":
		return false, false
	case strings.HasPrefix(v, "Y"):
		return true, true
	case strings.HasPrefix(v, "N"):
		return false, true
	default:
		return false, false
	}
}
