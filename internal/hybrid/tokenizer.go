// Package hybrid implements the sparse half of hybrid retrieval: a BM25
// index over chunk texts and Reciprocal Rank Fusion for merging BM25 and
// dense rankings that live on incompatible score scales.
package hybrid

import (
	"regexp"
	"strings"
)

// tokenPattern matches runs of Unicode letters and digits.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// stopwords are dropped from both documents and queries.
var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that",
		"these", "those", "from", "into", "about", "than", "so", "such", "what", "which", "who", "whom",
		"do", "does", "did", "how", "when", "where", "why", "can", "will", "just", "should", "not", "no",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Tokenize lowercases text and returns its letter/digit runs minus stopwords.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}
