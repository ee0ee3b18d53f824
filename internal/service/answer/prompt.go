package answer

import (
	"fmt"
	"strings"

	"github.com/book-search-labs/bsl-chat/internal/model/catalog"
)

// PromptBuilder renders the system prompt of the answer chain.
type PromptBuilder struct {
	Rules []string
}

// NewPromptBuilder returns a builder with the default grounding rules.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		Rules: []string{
			"Answer only from the sources listed below.",
			"Cite every claim with its source key in square brackets, for example [S1].",
			"If the sources do not answer the question, reply exactly with insufficient_evidence.",
			"Keep the answer under 120 words.",
		},
	}
}

// SystemPrompt lists the rules followed by one block per source.
func (b *PromptBuilder) SystemPrompt(hits []catalog.Hit) string {
	var builder strings.Builder
	builder.WriteString("You are the reading assistant of an online bookstore.\n\nRules:\n")
	for _, rule := range b.Rules {
		builder.WriteString("- ")
		builder.WriteString(rule)
		builder.WriteString("\n")
	}

	builder.WriteString("\nSources:\n")
	for i, hit := range hits {
		book := hit.Book
		fmt.Fprintf(&builder, "[%s] %s, %s (%d). Tags: %s. %s\n",
			catalog.CitationKey(i), book.Title, book.Author, book.Year, strings.Join(book.Tags, ", "), book.Summary)
	}
	return builder.String()
}
