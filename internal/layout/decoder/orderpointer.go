// Order pointer head and voting (spec.md §4.3.6).
package decoder

import (
	"math"
	"sort"
)

const orderSentinel = -10000

// OrderPointerLogits computes the pairwise "i precedes j" scores from
// global-pointer queries/keys and masks the lower triangle.
func OrderPointerLogits(globalPointer []float32, numQueries, headSize int) [][]float32 {
	queries := make([][]float32, numQueries)
	keys := make([][]float32, numQueries)
	for i := 0; i < numQueries; i++ {
		base := i * 2 * headSize
		queries[i] = globalPointer[base : base+headSize]
		keys[i] = globalPointer[base+headSize : base+2*headSize]
	}
	scale := float32(math.Sqrt(float64(headSize)))
	logits := make([][]float32, numQueries)
	for i := 0; i < numQueries; i++ {
		logits[i] = make([]float32, numQueries)
		for j := 0; j < numQueries; j++ {
			if j <= i {
				logits[i][j] = orderSentinel
				continue
			}
			var dot float32
			for d := 0; d < headSize; d++ {
				dot += queries[i][d] * keys[j][d]
			}
			logits[i][j] = dot / scale
		}
	}
	return logits
}

// VoteOrder implements the voting rule: v[p] = sum_{i<p} sigmoid(logits[i][p])
// + sum_{i>p} (1 - sigmoid(logits[p][i])); ascending sort by vote with
// index tiebreak yields the reading order.
func VoteOrder(logits [][]float32) []int {
	n := len(logits)
	votes := make([]float64, n)
	for p := 0; p < n; p++ {
		var v float64
		for i := 0; i < p; i++ {
			v += float64(sigmoidf(logits[i][p]))
		}
		for i := p + 1; i < n; i++ {
			v += 1 - float64(sigmoidf(logits[p][i]))
		}
		votes[p] = v
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return votes[order[a]] < votes[order[b]]
	})
	rank := make([]int, n)
	for r, q := range order {
		rank[q] = r
	}
	return rank
}
