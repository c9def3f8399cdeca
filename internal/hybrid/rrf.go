package hybrid

import "slices"

// Fusion defaults.
const (
	// DefaultKappa damps the contribution of top ranks.
	DefaultKappa = 60
	// DefaultFusedK is the number of fused results returned.
	DefaultFusedK = 12
)

// Fuse merges ranked position lists with Reciprocal Rank Fusion. Each
// position at 0-based rank r in a list contributes 1/(kappa+r+1); positions
// present in several lists accumulate every contribution. The top k fused
// positions are returned best first, equal scores ordered by position.
// A non-positive kappa uses DefaultKappa.
func Fuse(kappa float64, k int, lists ...[]int) []Scored {
	if kappa <= 0 {
		kappa = DefaultKappa
	}
	if k <= 0 {
		return []Scored{}
	}

	acc := make(map[int]float64)
	for _, list := range lists {
		for r, pos := range list {
			acc[pos] += 1 / (kappa + float64(r) + 1)
		}
	}

	out := make([]Scored, 0, len(acc))
	for pos, s := range acc {
		out = append(out, Scored{Position: pos, Score: s})
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

// Positions extracts the positions of scored results in order.
func Positions(s []Scored) []int {
	out := make([]int, len(s))
	for i, r := range s {
		out[i] = r.Position
	}
	return out
}
