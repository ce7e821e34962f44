package answer

import (
	"fmt"
	"strings"

	"github.com/recallhq/recall/internal/retrieval"
)

// answerSystem is the base role shared by every task type.
const answerSystem = `You are a document research assistant. You answer questions from retrieved source excerpts and nothing else. When the excerpts do not contain the answer, say so plainly instead of guessing.`

const generalInstructions = `Guidelines:
- Use only facts stated in the sources.
- Cite every claim as [document, chunk N].
- When sources disagree, present both and name them.
- Do not speculate beyond the sources.`

const statisticalInstructions = `This is a counting question. Guidelines:
- Read every source excerpt and count each qualifying mention exactly once.
- List the mentions one by one, each cited as [document, chunk N], quoting the key phrase.
- Order the list chronologically when document names carry dates.
- Finish with the total count and the documents involved.`

const evolutionInstructions = `This question asks how something changed over time. Guidelines:
- Order the evidence chronologically before describing it.
- Show the position at each stage, cited as [document, chunk N] with a short quote.
- Name what changed between stages and when.
- Use only facts stated in the sources.`

func systemPrompt(task TaskType) string {
	switch task {
	case TaskStatistical:
		return answerSystem + "\n\n" + statisticalInstructions
	case TaskEvolution:
		return answerSystem + "\n\n" + evolutionInstructions
	default:
		return answerSystem + "\n\n" + generalInstructions
	}
}

const contextSeparator = "\n\n---\n\n"

// userPrompt builds the final user message: the question, then the numbered
// source excerpts the answer must come from.
func userPrompt(question string, chunks []retrieval.Selected) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nSource excerpts:\n\n")
	b.WriteString(renderContext(chunks))
	b.WriteString("\n\nAnswer the question from these excerpts.")
	return b.String()
}

// renderContext numbers the chunks so answers can cite them.
func renderContext(chunks []retrieval.Selected) string {
	if len(chunks) == 0 {
		return "(no matching excerpts were retrieved)"
	}
	var b strings.Builder
	for i, ch := range chunks {
		if i > 0 {
			b.WriteString(contextSeparator)
		}
		fmt.Fprintf(&b, "[Source %d: %s, chunk %d]\n%s", i+1, ch.Name, ch.Seq, ch.Text)
	}
	return b.String()
}
