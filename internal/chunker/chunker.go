// Package chunker splits document text into overlapping, paragraph-aligned
// passages. Sizes are measured in characters (runes), not tokens, and the
// output is fully deterministic for a given input and Options.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Default window parameters.
const (
	DefaultMinSize    = 800
	DefaultMaxSize    = 1000
	DefaultOverlapPct = 0.12
)

// paragraphSep joins paragraphs (and a carried overlap) inside a chunk.
const paragraphSep = "\n\n"

// blankLine matches a line break followed by an empty or whitespace-only line.
var blankLine = regexp.MustCompile(`\n[ \t\f\v]*\n`)

// Options controls the chunk window.
type Options struct {
	// MinSize closes a window early once it holds at least this many characters.
	MinSize int `yaml:"min_size"`
	// MaxSize is the size a window may not grow past by adding another paragraph.
	// A single paragraph longer than MaxSize still becomes one chunk.
	MaxSize int `yaml:"max_size"`
	// OverlapPct is the trailing fraction of a closed chunk carried into the
	// next one, in [0, 1).
	OverlapPct float64 `yaml:"overlap_pct"`
}

// DefaultOptions returns the 800/1000/0.12 window.
func DefaultOptions() Options {
	return Options{MinSize: DefaultMinSize, MaxSize: DefaultMaxSize, OverlapPct: DefaultOverlapPct}
}

// Validate reports whether o describes a usable window.
func (o Options) Validate() error {
	if o.MinSize <= 0 {
		return fmt.Errorf("chunker: min size must be positive, got %d", o.MinSize)
	}
	if o.MaxSize < o.MinSize {
		return fmt.Errorf("chunker: max size %d is smaller than min size %d", o.MaxSize, o.MinSize)
	}
	if o.OverlapPct < 0 || o.OverlapPct >= 1 {
		return fmt.Errorf("chunker: overlap must be in [0, 1), got %g", o.OverlapPct)
	}
	return nil
}

// withDefaults fills zero sizes from DefaultOptions.
func (o Options) withDefaults() Options {
	if o.MinSize <= 0 {
		o.MinSize = DefaultMinSize
	}
	if o.MaxSize <= 0 {
		o.MaxSize = max(DefaultMaxSize, o.MinSize)
	}
	if o.OverlapPct < 0 || o.OverlapPct >= 1 {
		o.OverlapPct = DefaultOverlapPct
	}
	return o
}

// Paragraphs splits text on blank lines and returns the trimmed, non-empty
// paragraphs in order. Invalid UTF-8 is replaced with U+FFFD so chunk text
// survives a JSON round trip unchanged.
func Paragraphs(text string) []string {
	text = strings.ToValidUTF8(text, string(utf8.RuneError))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := blankLine.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Split chunks text from sourceID using a greedy paragraph window.
//
// Paragraphs accumulate until adding the next one would push a window that
// already holds new content past MaxSize, or until the window reaches
// MinSize. Each closed window seeds the next with its trailing OverlapPct
// characters. The final window is emitted if it holds any new paragraph.
func Split(text, sourceID string, opts Options) []rag.Chunk {
	opts = opts.withDefaults()

	var chunks []rag.Chunk
	var w window

	emit := func() {
		body := w.text()
		chunks = append(chunks, rag.Chunk{
			Text:     body,
			SourceID: sourceID,
			Order:    len(chunks),
			Overlap:  len(w.seed),
		})
		w = newWindow(tail(body, opts.OverlapPct))
	}

	for _, p := range Paragraphs(text) {
		if len(w.paras) > 0 && w.sizeWith(p) > opts.MaxSize {
			emit()
		}
		w.add(p)
		if w.size >= opts.MinSize {
			emit()
		}
	}
	if len(w.paras) > 0 {
		emit()
	}
	return chunks
}

// window is the chunk being accumulated.
type window struct {
	// seed is the overlap carried from the previous chunk.
	seed string
	// paras are the new paragraphs added to this window.
	paras []string
	// size is the rune count of the joined window text.
	size int
}

func newWindow(seed string) window {
	return window{seed: seed, size: utf8.RuneCountInString(seed)}
}

// sizeWith returns the window size after appending p.
func (w *window) sizeWith(p string) int {
	n := w.size
	if n > 0 {
		n += len(paragraphSep)
	}
	return n + utf8.RuneCountInString(p)
}

func (w *window) add(p string) {
	w.size = w.sizeWith(p)
	w.paras = append(w.paras, p)
}

func (w *window) text() string {
	parts := w.paras
	if w.seed != "" {
		parts = append([]string{w.seed}, w.paras...)
	}
	return strings.Join(parts, paragraphSep)
}

// tail returns the trailing pct fraction of s's characters with leading
// whitespace removed.
func tail(s string, pct float64) string {
	n := int(float64(utf8.RuneCountInString(s)) * pct)
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	return strings.TrimLeftFunc(string(runes[len(runes)-n:]), unicode.IsSpace)
}
