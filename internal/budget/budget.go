// Package budget estimates prompt size and trims retrieved passages to fit
// the generator's context window. Backends tokenize differently, so the
// estimate is a character heuristic of roughly 4 characters per token,
// rounded up.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	charsPerToken = 4

	// messageOverhead approximates the per-message framing tokens.
	messageOverhead = 4

	// DefaultMaxContextTokens fits an 8k-context model with room left for
	// the answer. RAG_MAX_CONTEXT_TOKENS overrides it.
	DefaultMaxContextTokens = 6000
)

// Estimate returns the approximate token count of s. Characters are counted
// as runes so non-Latin text is not overcounted.
func Estimate(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateMessages sums Estimate over role and content of each message plus
// a fixed framing overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// FitPrefix returns how many leading blocks fit within maxTokens once
// fixedTokens are spent on messages that must not be trimmed (system prompt,
// question). Blocks are ranked best first, so trimming drops from the tail.
//
// At least one block is always kept when blocks is non-empty: an answer
// grounded on a single oversized passage beats an ungrounded one. A
// non-positive maxTokens disables trimming.
func FitPrefix(fixedTokens int, blocks []string, maxTokens int) int {
	if len(blocks) == 0 {
		return 0
	}
	if maxTokens <= 0 {
		return len(blocks)
	}
	used := fixedTokens
	for i, b := range blocks {
		used += Estimate(b)
		if used > maxTokens {
			return max(i, 1)
		}
	}
	return len(blocks)
}
