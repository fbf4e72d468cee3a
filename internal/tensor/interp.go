package tensor

import "fmt"

// InterpolateNearest resizes the spatial dims of a [N,C,H,W] tensor
// using nearest-neighbor sampling.
func InterpolateNearest(t *Tensor, outH, outW int) (*Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("tensor: InterpolateNearest expects rank-4 tensor, got %v", t.Shape)
	}
	N, C, H, W := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	out := New(N, C, outH, outW)
	scaleH := float64(H) / float64(outH)
	scaleW := float64(W) / float64(outW)
	for n := 0; n < N; n++ {
		for c := 0; c < C; c++ {
			for oh := 0; oh < outH; oh++ {
				ih := int(float64(oh) * scaleH)
				if ih >= H {
					ih = H - 1
				}
				srcRow := t.Data[((n*C+c)*H+ih)*W:]
				dstRow := out.Data[((n*C+c)*outH+oh)*outW:]
				for ow := 0; ow < outW; ow++ {
					iw := int(float64(ow) * scaleW)
					if iw >= W {
						iw = W - 1
					}
					dstRow[ow] = srcRow[iw]
				}
			}
		}
	}
	return out, nil
}

// InterpolateBilinear resizes the spatial dims of a [N,C,H,W] tensor
// using align-corners=false bilinear sampling, the same convention
// used for the mask-feature head's 2x upsamples (spec.md §4.3.3).
func InterpolateBilinear(t *Tensor, outH, outW int) (*Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("tensor: InterpolateBilinear expects rank-4 tensor, got %v", t.Shape)
	}
	N, C, H, W := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	out := New(N, C, outH, outW)
	scaleH := float64(H) / float64(outH)
	scaleW := float64(W) / float64(outW)
	for n := 0; n < N; n++ {
		for c := 0; c < C; c++ {
			plane := t.Data[(n*C+c)*H*W : (n*C+c)*H*W+H*W]
			outPlane := out.Data[(n*C+c)*outH*outW : (n*C+c)*outH*outW+outH*outW]
			for oh := 0; oh < outH; oh++ {
				srcY := (float64(oh)+0.5)*scaleH - 0.5
				y0 := int(floor(srcY))
				y1 := y0 + 1
				wy1 := float32(srcY - float64(y0))
				wy0 := 1 - wy1
				y0 = clampInt(y0, 0, H-1)
				y1 = clampInt(y1, 0, H-1)
				for ow := 0; ow < outW; ow++ {
					srcX := (float64(ow)+0.5)*scaleW - 0.5
					x0 := int(floor(srcX))
					x1 := x0 + 1
					wx1 := float32(srcX - float64(x0))
					wx0 := 1 - wx1
					x0c := clampInt(x0, 0, W-1)
					x1c := clampInt(x1, 0, W-1)

					v00 := plane[y0*W+x0c]
					v01 := plane[y0*W+x1c]
					v10 := plane[y1*W+x0c]
					v11 := plane[y1*W+x1c]

					top := v00*wx0 + v01*wx1
					bot := v10*wx0 + v11*wx1
					outPlane[oh*outW+ow] = top*wy0 + bot*wy1
				}
			}
		}
	}
	return out, nil
}

func floor(v float64) float64 {
	i := int64(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return float64(i)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BilinearSampleAt samples a single [H,W] plane at continuous (x,y)
// pixel coordinates, returning 0 for out-of-bounds samples. Used by
// deformable attention (spec.md §4.3.5).
func BilinearSampleAt(plane []float32, h, w int, x, y float32) float32 {
	x0 := int(floor(float64(x)))
	y0 := int(floor(float64(y)))
	x1, y1 := x0+1, y0+1
	wx1 := x - float32(x0)
	wy1 := y - float32(y0)
	wx0 := 1 - wx1
	wy0 := 1 - wy1

	get := func(px, py int) float32 {
		if px < 0 || px >= w || py < 0 || py >= h {
			return 0
		}
		return plane[py*w+px]
	}
	v00 := get(x0, y0)
	v01 := get(x1, y0)
	v10 := get(x0, y1)
	v11 := get(x1, y1)
	top := v00*wx0 + v01*wx1
	bot := v10*wx0 + v11*wx1
	return top*wy0 + bot*wy1
}
