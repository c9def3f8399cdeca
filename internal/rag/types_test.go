package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkID_StableAcrossText(t *testing.T) {
	t.Parallel()
	a := Chunk{Text: "one", SourceID: "docs/a.md", Order: 3}
	b := Chunk{Text: "two", SourceID: "docs/a.md", Order: 3}
	c := Chunk{Text: "one", SourceID: "docs/a.md", Order: 4}

	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())
	assert.Len(t, a.ID(), 32)
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                    "",
		"   ":                 "",
		"a  b":                "a b",
		"\n hello\t\tworld \n": "hello world",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeText(in), "input %q", in)
	}
}
