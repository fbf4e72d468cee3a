package language

import (
	"math"
	"math/rand/v2"
	"sort"
)

// ApplyRepetitionPenalty scales logits at positions seen in the last 20
// tokens of history: multiply by penalty when the logit is negative,
// divide by penalty when non-negative (spec.md §4.4.3).
func ApplyRepetitionPenalty(logits []float32, history []int, penalty float64) {
	if penalty == 1 {
		return
	}
	start := len(history) - 20
	if start < 0 {
		start = 0
	}
	seen := make(map[int]bool)
	for _, id := range history[start:] {
		seen[id] = true
	}
	p := float32(penalty)
	for id := range seen {
		if id < 0 || id >= len(logits) {
			continue
		}
		if logits[id] < 0 {
			logits[id] *= p
		} else {
			logits[id] /= p
		}
	}
}

// LogSoftmax returns log(softmax(logits)) computed with the standard
// max-subtraction stabilization.
func LogSoftmax(logits []float32) []float32 {
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - maxV))
	}
	logSum := math.Log(sum)
	out := make([]float32, len(logits))
	for i, v := range logits {
		out[i] = v - maxV - float32(logSum)
	}
	return out
}

// Sample picks the next token id from log-probabilities. temperature
// == 0 selects argmax; otherwise nucleus (top-p) filtering, then top-k,
// then temperature scaling, then categorical sampling (spec.md
// §4.4.3).
func Sample(logProbs []float32, temperature, topP float64, topK int) int {
	if temperature == 0 {
		return argmax(logProbs)
	}
	working := append([]float32(nil), logProbs...)
	if topP > 0 && topP < 1 {
		applyTopP(working, topP)
	}
	if topK > 0 && topK < len(working) {
		applyTopK(working, topK)
	}
	scale := float32(1 / temperature)
	probs := make([]float64, len(working))
	var sum float64
	maxV := float32(math.Inf(-1))
	for _, v := range working {
		if v > maxV {
			maxV = v
		}
	}
	for i, v := range working {
		if math.IsInf(float64(v), -1) {
			probs[i] = 0
			continue
		}
		e := math.Exp(float64((v - maxV) * scale))
		probs[i] = e
		sum += e
	}
	if sum == 0 {
		return argmax(logProbs)
	}
	r := rand.Float64() * sum
	var cum float64
	for i, p := range probs {
		cum += p
		if r <= cum {
			return i
		}
	}
	return len(probs) - 1
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// applyTopP masks (sets to -Inf) the lowest-probability mass summing
// to 1-topP: sort ascending by probability, accumulate cumulative
// probability, mask entries whose cumulative mass stays at or below
// 1-topP, then restore original order ("sort-inverse-sort").
func applyTopP(logProbs []float32, topP float64) {
	n := len(logProbs)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return logProbs[idx[a]] < logProbs[idx[b]] })

	probs := make([]float64, n)
	var sum float64
	maxV := logProbs[idx[n-1]]
	for _, i := range idx {
		e := math.Exp(float64(logProbs[i] - maxV))
		probs[i] = e
		sum += e
	}
	threshold := 1 - topP
	var cum float64
	for _, i := range idx {
		cum += probs[i] / sum
		if cum <= threshold {
			logProbs[i] = float32(math.Inf(-1))
		}
	}
}

// applyTopK masks every logit outside the k highest values.
func applyTopK(logProbs []float32, k int) {
	n := len(logProbs)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return logProbs[idx[a]] > logProbs[idx[b]] })
	for _, i := range idx[k:] {
		logProbs[i] = float32(math.Inf(-1))
	}
}
