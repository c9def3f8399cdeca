package hybrid

import (
	"math"
	"slices"
)

// BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Scored is a corpus position with a relevance score.
type Scored struct {
	// Position is the index of the document in the corpus passed to NewBM25.
	Position int
	// Score is the relevance score, higher is better.
	Score float64
}

type posting struct {
	doc int
	tf  int
}

// BM25 is an immutable Okapi BM25 index. Build a new one when the corpus
// changes; concurrent Search calls are safe.
type BM25 struct {
	k1, b    float64
	postings map[string][]posting
	docLen   []int
	avgdl    float64
}

// NewBM25 indexes texts. Position i in search results refers to texts[i].
func NewBM25(texts []string) *BM25 {
	idx := &BM25{
		k1:       DefaultK1,
		b:        DefaultB,
		postings: make(map[string][]posting),
		docLen:   make([]int, len(texts)),
	}
	total := 0
	for i, text := range texts {
		toks := Tokenize(text)
		idx.docLen[i] = len(toks)
		total += len(toks)

		tf := make(map[string]int, len(toks))
		for _, t := range toks {
			tf[t]++
		}
		for term, n := range tf {
			idx.postings[term] = append(idx.postings[term], posting{doc: i, tf: n})
		}
	}
	if len(texts) > 0 {
		idx.avgdl = float64(total) / float64(len(texts))
	}
	return idx
}

// Len returns the number of indexed documents.
func (x *BM25) Len() int { return len(x.docLen) }

// idf is the Lucene variant, which stays positive for very common terms.
func (x *BM25) idf(df int) float64 {
	n := float64(len(x.docLen))
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

// Search returns up to k documents with a positive score for query, best
// first. Equal scores keep corpus order.
func (x *BM25) Search(query string, k int) []Scored {
	if k <= 0 || len(x.docLen) == 0 || x.avgdl == 0 {
		return []Scored{}
	}

	terms := Tokenize(query)
	seen := make(map[string]struct{}, len(terms))
	scores := make(map[int]float64)
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		plist := x.postings[term]
		if len(plist) == 0 {
			continue
		}
		idf := x.idf(len(plist))
		for _, p := range plist {
			tf := float64(p.tf)
			norm := 1 - x.b + x.b*float64(x.docLen[p.doc])/x.avgdl
			scores[p.doc] += idf * tf * (x.k1 + 1) / (tf + x.k1*norm)
		}
	}

	out := make([]Scored, 0, len(scores))
	for doc, s := range scores {
		if s > 0 {
			out = append(out, Scored{Position: doc, Score: s})
		}
	}
	slices.SortFunc(out, func(a, b Scored) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return a.Position - b.Position
	})
	return out[:min(k, len(out))]
}
