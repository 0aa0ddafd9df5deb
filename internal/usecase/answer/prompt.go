package answer

import (
	"fmt"
	"strings"

	"github.com/lorekeep/lorekeep/internal/domain/chunk"
	"github.com/lorekeep/lorekeep/internal/domain/rag"
)

// systemInstruction pins the answer to the supplied excerpts. The citation
// form here must stay in sync with excerptHeader below.
const systemInstruction = `You are an assistant answering questions about a tabletop campaign's source material.

Rules:
1. Answer using ONLY the excerpts provided below. Do not use any outside knowledge.
2. If the excerpts do not contain the answer, reply exactly: "The provided campaign material does not cover this."
3. Cite every factual claim inline in the literal form [Page <N>, <Section>], using the page and section shown with the excerpt it came from.
4. If excerpts contradict each other, point out the contradiction explicitly instead of silently picking one.
5. Never invent rules, names, places, or events that are not in the excerpts.`

// excerptHeader renders the citation metadata line placed before each
// excerpt's text.
func excerptHeader(c chunk.Scored) string {
	page := "Unknown Page"
	if c.Page != nil {
		page = fmt.Sprintf("%d", *c.Page)
	}
	section := c.Section
	if section == "" {
		section = "Untitled"
	}
	return fmt.Sprintf("[Page %s, %s]", page, section)
}

// buildMessages assembles the chat prompt: system instruction with numbered
// excerpts, then the truncated conversation history, then the question.
// Excerpts keep retrieval order so citations line up with source ranks.
func buildMessages(question string, chunks []chunk.Scored, history []rag.Message) []rag.Message {
	var sb strings.Builder
	sb.WriteString(systemInstruction)
	sb.WriteString("\n\nExcerpts:\n")
	for i, c := range chunks {
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, excerptHeader(c), c.Content)
	}

	messages := make([]rag.Message, 0, len(history)+2)
	messages = append(messages, rag.Message{Role: rag.RoleSystem, Content: sb.String()})
	messages = append(messages, rag.TruncateHistory(history)...)
	messages = append(messages, rag.Message{Role: rag.RoleUser, Content: question})

	return messages
}
