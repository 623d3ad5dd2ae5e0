package provider

import (
	"fmt"
	"strings"
)

// SummarySystem is the system prompt for summarization calls.
const SummarySystem = "You are a summarizing assistant. You write dense, faithful summaries that keep names, numbers and key details."

// QASystem is the system prompt for question answering calls.
const QASystem = "You are a question answering assistant. Answer only from the provided context. If the context does not contain the answer, say so."

// SummaryPrompt builds the user prompt for summarizing texts in about
// maxTokens tokens.
func SummaryPrompt(texts []string, maxTokens int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a summary of the following passages in at most %d words, including as many key details as possible.\n\n", max(maxTokens*3/4, 1))
	for i, t := range texts {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(t))
	}
	return sb.String()
}

// QAPrompt builds the user prompt for answering question from context.
func QAPrompt(contextText, question string) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\n---\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\nGive the best full answer to the question using the context above.")
	return sb.String()
}
