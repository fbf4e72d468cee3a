package language

import (
	"fmt"
	"math"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// VisionSpan describes one image/video placeholder's merged grid size,
// in the order placeholders appear in the token stream.
type VisionSpan struct {
	T, H, W int
}

// Positions holds the computed 3-axis (t,h,w) position ids for one
// batch element plus its rope delta (spec.md §4.4.5).
type Positions struct {
	T, H, W []int
	Delta   int
}

// GetRopeIndex walks one sequence of token ids and produces per-axis
// position ids. Vision spans are consumed in order at each occurrence
// of imageTokenID (or videoTokenID as a fallback). When no vision
// tokens are present, all three axes reduce to 0..len(tokenIDs).
func GetRopeIndex(tokenIDs []int, spans []VisionSpan, cfg Config) (Positions, error) {
	n := len(tokenIDs)
	pos := Positions{T: make([]int, n), H: make([]int, n), W: make([]int, n)}
	hasVision := false
	for _, id := range tokenIDs {
		if id == cfg.ImageTokenID || id == cfg.VideoTokenID {
			hasVision = true
			break
		}
	}
	if !hasVision {
		for i := 0; i < n; i++ {
			pos.T[i], pos.H[i], pos.W[i] = i, i, i
		}
		pos.Delta = 0
		return pos, nil
	}

	spanIdx := 0
	nextStart := 0 // next position index to assign on all axes
	i := 0
	for i < n {
		id := tokenIDs[i]
		if id != cfg.ImageTokenID && id != cfg.VideoTokenID {
			pos.T[i], pos.H[i], pos.W[i] = nextStart, nextStart, nextStart
			nextStart++
			i++
			continue
		}
		if spanIdx >= len(spans) {
			return Positions{}, fmt.Errorf("language: more vision placeholder tokens than vision spans")
		}
		span := spans[spanIdx]
		spanIdx++
		mergeH := span.H / maxInt(cfg.MergeSize, 1)
		mergeW := span.W / maxInt(cfg.MergeSize, 1)
		count := span.T * mergeH * mergeW
		base := nextStart
		idx := 0
		maxPos := base
		for t := 0; t < span.T; t++ {
			for h := 0; h < mergeH; h++ {
				for w := 0; w < mergeW; w++ {
					if i+idx >= n {
						return Positions{}, fmt.Errorf("language: vision span overruns token stream")
					}
					pos.T[i+idx] = base + t
					pos.H[i+idx] = base + h
					pos.W[i+idx] = base + w
					if v := base + t; v > maxPos {
						maxPos = v
					}
					if v := base + h; v > maxPos {
						maxPos = v
					}
					if v := base + w; v > maxPos {
						maxPos = v
					}
					idx++
				}
			}
		}
		_ = count
		i += idx
		nextStart = maxPos + 1
	}
	pos.Delta = nextStart - n
	return pos, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// BuildRotaryTables computes cos/sin tables shaped [L,headDim] from
// 3-axis position ids, splitting the half rotary dimension into
// (t,h,w) sections per cfg.MRopeSections and duplicating across both
// RotateHalf halves.
func BuildRotaryTables(pos Positions, cfg Config) (*tensor.Tensor, *tensor.Tensor, error) {
	hd := headDim(cfg)
	if hd%2 != 0 {
		return nil, nil, fmt.Errorf("language: head dim %d must be even", hd)
	}
	half := hd / 2
	sum := cfg.MRopeSections[0] + cfg.MRopeSections[1] + cfg.MRopeSections[2]
	if sum != half {
		return nil, nil, fmt.Errorf("language: mrope sections sum to %d, want %d", sum, half)
	}
	theta := cfg.RopeTheta
	if theta == 0 {
		theta = 10000
	}
	invFreq := make([]float64, half)
	for i := range invFreq {
		invFreq[i] = 1 / math.Pow(theta, float64(2*i)/float64(hd))
	}
	n := len(pos.T)
	cos := tensor.New(n, hd)
	sin := tensor.New(n, hd)
	for i := 0; i < n; i++ {
		base := i * hd
		for c := 0; c < half; c++ {
			var p int
			switch {
			case c < cfg.MRopeSections[0]:
				p = pos.T[i]
			case c < cfg.MRopeSections[0]+cfg.MRopeSections[1]:
				p = pos.H[i]
			default:
				p = pos.W[i]
			}
			f := float64(p) * invFreq[c]
			cv, sv := float32(math.Cos(f)), float32(math.Sin(f))
			cos.Data[base+c] = cv
			sin.Data[base+c] = sv
			cos.Data[base+half+c] = cv
			sin.Data[base+half+c] = sv
		}
	}
	return cos, sin, nil
}
