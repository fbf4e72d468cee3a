// Package postprocess implements the layout detector's ten-step
// postprocessing pipeline (spec.md §4.3.7): candidate selection,
// polygon extraction, NMS, image-size and containment filtering,
// unclip, and label→task mapping.
package postprocess

import (
	"math"
	"sort"
)

// Input bundles one page's decoder output in the shape postprocessing
// consumes: flat per-query buffers rather than a tensor object graph
// (spec.md §9 "Arena + index").
type Input struct {
	ClassLogits     []float32 // [Q, NumClasses]
	ReferencePoints []float32 // [Q, 4], normalized cx,cy,w,h in [0,1]
	MaskLogits      []float32 // [Q, Mh*Mw]
	Order           []int     // rank per query index
	NumQueries      int
	NumClasses      int
	Mh, Mw          int
	TargetWidth     int
	TargetHeight    int
	ID2Label        map[int]string
}

type candidate struct {
	queryIndex  int
	classID     int
	label       string
	score       float64
	flatIndex   int
	selectIndex int
	order       int
	cx, cy, w, h float64 // normalized
	boxPixel    [4]float64 // x,y,w,h in target pixel space
	mask        []float32
	mh, mw      int
}

func sigmoid64(v float32) float64 {
	return 1 / (1 + math.Exp(-float64(v)))
}

// selectCandidates implements steps 1-3: per-(query,class) scoring
// with the minimum-box-size gate, descending sort with stable
// tiebreak, top-Q selection, threshold drop, and order-ascending sort.
func selectCandidates(in Input, topQ int, globalThreshold float64, thresholdByClass map[string]float64) []candidate {
	type scored struct {
		score     float64
		flatIndex int
	}
	n := in.NumQueries * in.NumClasses
	scoredAll := make([]scored, n)
	for q := 0; q < in.NumQueries; q++ {
		base := q * 4
		w := in.ReferencePoints[base+2]
		h := in.ReferencePoints[base+3]
		minW := 1.0 / float64(in.Mw)
		minH := 1.0 / float64(in.Mh)
		for c := 0; c < in.NumClasses; c++ {
			idx := q*in.NumClasses + c
			if float64(w) > minW && float64(h) > minH {
				scoredAll[idx] = scored{score: sigmoid64(in.ClassLogits[idx]), flatIndex: idx}
			} else {
				scoredAll[idx] = scored{score: -100, flatIndex: idx}
			}
		}
	}
	sort.SliceStable(scoredAll, func(a, b int) bool {
		if scoredAll[a].score != scoredAll[b].score {
			return scoredAll[a].score > scoredAll[b].score
		}
		return scoredAll[a].flatIndex < scoredAll[b].flatIndex
	})
	if topQ > len(scoredAll) {
		topQ = len(scoredAll)
	}

	candidates := make([]candidate, 0, topQ)
	for i := 0; i < topQ; i++ {
		flat := scoredAll[i].flatIndex
		q := flat / in.NumClasses
		c := flat % in.NumClasses
		label := in.ID2Label[c]
		threshold := globalThreshold
		if t, ok := thresholdByClass[label]; ok && t > threshold {
			threshold = t
		}
		if scoredAll[i].score < threshold {
			continue
		}
		base := q * 4
		cx := float64(in.ReferencePoints[base+0])
		cy := float64(in.ReferencePoints[base+1])
		w := float64(in.ReferencePoints[base+2])
		h := float64(in.ReferencePoints[base+3])
		px := (cx - w/2) * float64(in.TargetWidth)
		py := (cy - h/2) * float64(in.TargetHeight)
		pw := w * float64(in.TargetWidth)
		ph := h * float64(in.TargetHeight)
		mask := in.MaskLogits[q*in.Mh*in.Mw : (q+1)*in.Mh*in.Mw]
		candidates = append(candidates, candidate{
			queryIndex:  q,
			classID:     c,
			label:       label,
			score:       scoredAll[i].score,
			flatIndex:   flat,
			selectIndex: i,
			order:       in.Order[q],
			cx: cx, cy: cy, w: w, h: h,
			boxPixel: [4]float64{px, py, pw, ph},
			mask:     mask,
			mh:       in.Mh,
			mw:       in.Mw,
		})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].order != candidates[b].order {
			return candidates[a].order < candidates[b].order
		}
		return candidates[a].selectIndex < candidates[b].selectIndex
	})
	return candidates
}
