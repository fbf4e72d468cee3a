package tensor

import "fmt"

// ConvParams describes a 2D convolution's spatial hyperparameters.
type ConvParams struct {
	StrideH, StrideW int
	PadH, PadW       int
	Groups           int
}

// Conv2D computes a grouped 2D convolution.
// input:  [N, Cin, H, W]
// weight: [Cout, Cin/groups, Kh, Kw]
// bias:   [Cout] or nil
// Groups == Cin performs a depthwise convolution (spec.md §4.3.2
// "light" blocks use a 1x1 pointwise conv followed by a depthwise kxk).
func Conv2D(input, weight *Tensor, bias []float32, p ConvParams) (*Tensor, error) {
	if len(input.Shape) != 4 || len(weight.Shape) != 4 {
		return nil, fmt.Errorf("tensor: Conv2D expects rank-4 input/weight, got %v and %v", input.Shape, weight.Shape)
	}
	groups := p.Groups
	if groups <= 0 {
		groups = 1
	}
	N, Cin, H, W := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3]
	Cout, CinPerGroup, Kh, Kw := weight.Shape[0], weight.Shape[1], weight.Shape[2], weight.Shape[3]
	if Cin/groups != CinPerGroup {
		return nil, fmt.Errorf("tensor: Conv2D channel/group mismatch: Cin=%d groups=%d weight Cin/group=%d", Cin, groups, CinPerGroup)
	}
	if bias != nil && len(bias) != Cout {
		return nil, fmt.Errorf("tensor: Conv2D bias length %d must equal Cout %d", len(bias), Cout)
	}
	Hout := (H+2*p.PadH-Kh)/p.StrideH + 1
	Wout := (W+2*p.PadW-Kw)/p.StrideW + 1
	if Hout <= 0 || Wout <= 0 {
		return nil, fmt.Errorf("tensor: Conv2D produces non-positive output size (%d,%d)", Hout, Wout)
	}
	out := New(N, Cout, Hout, Wout)
	coutPerGroup := Cout / groups

	for n := 0; n < N; n++ {
		for g := 0; g < groups; g++ {
			for ocLocal := 0; ocLocal < coutPerGroup; ocLocal++ {
				oc := g*coutPerGroup + ocLocal
				b := float32(0)
				if bias != nil {
					b = bias[oc]
				}
				for oh := 0; oh < Hout; oh++ {
					ihBase := oh*p.StrideH - p.PadH
					for ow := 0; ow < Wout; ow++ {
						iwBase := ow*p.StrideW - p.PadW
						sum := b
						for icLocal := 0; icLocal < CinPerGroup; icLocal++ {
							ic := g*CinPerGroup + icLocal
							for kh := 0; kh < Kh; kh++ {
								ih := ihBase + kh
								if ih < 0 || ih >= H {
									continue
								}
								inRow := input.Data[((n*Cin+ic)*H+ih)*W:]
								wRow := weight.Data[((oc*CinPerGroup+icLocal)*Kh+kh)*Kw:]
								for kw := 0; kw < Kw; kw++ {
									iw := iwBase + kw
									if iw < 0 || iw >= W {
										continue
									}
									sum += inRow[iw] * wRow[kw]
								}
							}
						}
						out.Data[((n*Cout+oc)*Hout+oh)*Wout+ow] = sum
					}
				}
			}
		}
	}
	return out, nil
}

// Conv3D computes a stride==kernel, no-padding 3D convolution, the
// shape the recognizer's vision tower patch embedding uses
// (spec.md §4.4.2): input [N,C,T,H,W], weight [Cout,C,Kt,Kh,Kw].
func Conv3D(input, weight *Tensor, bias []float32) (*Tensor, error) {
	if len(input.Shape) != 5 || len(weight.Shape) != 5 {
		return nil, fmt.Errorf("tensor: Conv3D expects rank-5 input/weight, got %v and %v", input.Shape, weight.Shape)
	}
	N, C, T, H, W := input.Shape[0], input.Shape[1], input.Shape[2], input.Shape[3], input.Shape[4]
	Cout, Cw, Kt, Kh, Kw := weight.Shape[0], weight.Shape[1], weight.Shape[2], weight.Shape[3], weight.Shape[4]
	if C != Cw {
		return nil, fmt.Errorf("tensor: Conv3D channel mismatch %d vs %d", C, Cw)
	}
	if T%Kt != 0 || H%Kh != 0 || W%Kw != 0 {
		return nil, fmt.Errorf("tensor: Conv3D requires input dims to be multiples of kernel dims")
	}
	Tout, Hout, Wout := T/Kt, H/Kh, W/Kw
	out := New(N, Cout, Tout, Hout, Wout)
	patchVol := C * Kt * Kh * Kw
	for n := 0; n < N; n++ {
		for ot := 0; ot < Tout; ot++ {
			for oh := 0; oh < Hout; oh++ {
				for ow := 0; ow < Wout; ow++ {
					for oc := 0; oc < Cout; oc++ {
						b := float32(0)
						if bias != nil {
							b = bias[oc]
						}
						sum := b
						wBase := oc * patchVol
						idx := 0
						for c := 0; c < C; c++ {
							for kt := 0; kt < Kt; kt++ {
								it := ot*Kt + kt
								for kh := 0; kh < Kh; kh++ {
									ih := oh*Kh + kh
									inRow := input.Data[(((n*C+c)*T+it)*H+ih)*W+ow*Kw:]
									wRow := weight.Data[wBase+idx:]
									for kw := 0; kw < Kw; kw++ {
										sum += inRow[kw] * wRow[kw]
									}
									idx += Kw
								}
							}
						}
						out.Data[(((n*Cout+oc)*Tout+ot)*Hout+oh)*Wout+ow] = sum
					}
				}
			}
		}
	}
	return out, nil
}

// Pad zero-pads a rank-4 [N,C,H,W] tensor spatially.
func Pad(t *Tensor, top, bottom, left, right int) (*Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("tensor: Pad expects rank-4 tensor, got %v", t.Shape)
	}
	N, C, H, W := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	Hout, Wout := H+top+bottom, W+left+right
	out := New(N, C, Hout, Wout)
	for n := 0; n < N; n++ {
		for c := 0; c < C; c++ {
			for h := 0; h < H; h++ {
				src := t.Data[((n*C+c)*H+h)*W : ((n*C+c)*H+h)*W+W]
				dst := out.Data[((n*C+c)*Hout+h+top)*Wout+left:]
				copy(dst[:W], src)
			}
		}
	}
	return out, nil
}
