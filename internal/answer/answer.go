// Package answer assembles the grounded prompt handed to the generator and
// adapts eino chat models to the rag.Generator capability. Prompt
// construction is deterministic: the same question and passages always
// produce the same messages.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docrag-go/internal/budget"
	"github.com/54b3r/docrag-go/internal/rag"
)

// SystemPrompt instructs the generator to stay within the supplied context.
const SystemPrompt = `You are a careful research assistant. Answer the user's question using only the numbered context passages provided.

Rules:
- Use only facts stated in the context passages. Do not rely on prior knowledge.
- Cite the passages you used by their number, e.g. [1] or [2][3].
- If the context does not contain enough information to answer, say that the provided documents do not contain the answer. Do not guess.
- Be concise.`

// NoDataAnswer is returned when the index holds no documents yet.
const NoDataAnswer = "No documents have been indexed yet, so there is nothing to answer from. Ingest documents first and ask again."

// NoPassagesAnswer is returned when retrieval found nothing relevant.
const NoPassagesAnswer = "None of the indexed documents appear relevant to this question."

// Prompt is the assembled message sequence plus what was kept.
type Prompt struct {
	// Messages is system prompt, grounded context, question.
	Messages []*schema.Message
	// Used is the number of leading passages included in the context.
	Used int
}

// FormatPassage renders one context block. n is 1-based.
func FormatPassage(n int, p rag.Passage) string {
	return fmt.Sprintf("[%d] Source: %s\n%s", n, p.Source, strings.TrimSpace(p.Text))
}

// Build assembles the prompt for question from passages, best first. When
// maxTokens > 0, trailing passages are dropped until the estimated prompt
// fits, keeping at least one.
func Build(question string, passages []rag.Passage, maxTokens int) Prompt {
	blocks := make([]string, len(passages))
	for i, p := range passages {
		blocks[i] = FormatPassage(i+1, p)
	}

	header := "Context passages:\n\n"
	q := "Question: " + strings.TrimSpace(question)
	fixed := budget.EstimateMessages([]*schema.Message{
		schema.SystemMessage(SystemPrompt),
		schema.UserMessage(header + q),
	})
	used := budget.FitPrefix(fixed, blocks, maxTokens)

	var sb strings.Builder
	if used == 0 {
		sb.WriteString("Context passages: none were found.\n\n")
	} else {
		sb.WriteString(header)
		for _, b := range blocks[:used] {
			sb.WriteString(b)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString(q)

	return Prompt{
		Messages: []*schema.Message{
			schema.SystemMessage(SystemPrompt),
			schema.UserMessage(sb.String()),
		},
		Used: used,
	}
}

// ChatGenerator adapts an eino chat model to rag.Generator.
type ChatGenerator struct {
	// model is the underlying chat model.
	model model.BaseChatModel
}

// NewChatGenerator wraps m.
func NewChatGenerator(m model.BaseChatModel) *ChatGenerator {
	return &ChatGenerator{model: m}
}

// Complete implements rag.Generator. An empty reply is a provider error.
func (g *ChatGenerator) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	resp, err := g.model.Generate(ctx, messages)
	if err != nil {
		return "", rag.Classify("answer: generate", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", rag.Errorf(rag.KindProvider, "answer: generate", "model returned an empty reply")
	}
	return resp.Content, nil
}
