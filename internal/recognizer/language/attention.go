package language

import (
	"fmt"

	"github.com/tansanrao/glm-ocr-swift/internal/tensor"
)

// groupedQueryAttention runs GQA self-attention for one decoder layer,
// appending the new tokens' keys/values to the layer's cache and
// attending over the full cached history (spec.md §4.4.3).
func groupedQueryAttention(x, cos, sin *tensor.Tensor, lc *LayerCache, blk BlockWeights, cfg Config) (*tensor.Tensor, error) {
	l := x.Shape[0]
	hd := headDim(cfg)

	q, err := blk.QProj.forward(x)
	if err != nil {
		return nil, err
	}
	k, err := blk.KProj.forward(x)
	if err != nil {
		return nil, err
	}
	v, err := blk.VProj.forward(x)
	if err != nil {
		return nil, err
	}

	qRot, err := rotateHeads(q, cos, sin, cfg.NumHeads, hd)
	if err != nil {
		return nil, err
	}
	kRot, err := rotateHeads(k, cos, sin, cfg.NumKVHeads, hd)
	if err != nil {
		return nil, err
	}

	offset := lc.length
	if err := lc.Append(kRot.Data, v.Data, l, blockSizeOf(cfg)); err != nil {
		return nil, err
	}
	cachedK, cachedV, lk := lc.KeysValues()

	qBatch, err := toBatchHeads(qRot, l, cfg.NumHeads, hd)
	if err != nil {
		return nil, err
	}
	kBatch, err := toBatchHeadsRepeated(cachedK, lk, cfg.NumKVHeads, cfg.NumHeads, hd)
	if err != nil {
		return nil, err
	}
	vBatch, err := toBatchHeadsRepeated(cachedV, lk, cfg.NumKVHeads, cfg.NumHeads, hd)
	if err != nil {
		return nil, err
	}

	var mask []float32
	if l > 1 {
		mask = tensor.CausalMask(l, lk, offset)
	}

	attnOut, err := tensor.Attention(qBatch, kBatch, vBatch, mask)
	if err != nil {
		return nil, err
	}
	merged := fromBatchHeads(attnOut, l, cfg.NumHeads, hd)
	return blk.OProj.forward(merged)
}

func blockSizeOf(cfg Config) int {
	if cfg.CacheBlockSize > 0 {
		return cfg.CacheBlockSize
	}
	return 256
}

// rotateHeads applies RotateHalf per head to a [L, heads*headDim] tensor.
func rotateHeads(x, cos, sin *tensor.Tensor, heads, hd int) (*tensor.Tensor, error) {
	l := x.Shape[0]
	out := tensor.New(l, heads*hd)
	headSlice := tensor.New(l, hd)
	for h := 0; h < heads; h++ {
		for i := 0; i < l; i++ {
			copy(headSlice.Data[i*hd:(i+1)*hd], x.Data[i*heads*hd+h*hd:i*heads*hd+(h+1)*hd])
		}
		rotated, err := tensor.RotateHalf(headSlice, cos, sin)
		if err != nil {
			return nil, err
		}
		for i := 0; i < l; i++ {
			copy(out.Data[i*heads*hd+h*hd:i*heads*hd+(h+1)*hd], rotated.Data[i*hd:(i+1)*hd])
		}
	}
	return out, nil
}

// toBatchHeads reshapes [L, heads*hd] into [1,heads,L,hd].
func toBatchHeads(x *tensor.Tensor, l, heads, hd int) (*tensor.Tensor, error) {
	if len(x.Data) != l*heads*hd {
		return nil, fmt.Errorf("language: toBatchHeads length mismatch")
	}
	out := tensor.New(1, heads, l, hd)
	for i := 0; i < l; i++ {
		for h := 0; h < heads; h++ {
			src := i*heads*hd + h*hd
			dst := (h*l + i) * hd
			copy(out.Data[dst:dst+hd], x.Data[src:src+hd])
		}
	}
	return out, nil
}

// toBatchHeadsRepeated reshapes a flat [L, kvHeads*hd] cache buffer into
// [1,numHeads,L,hd], repeating each kv head group/numKVHeads times to
// match the query head count (grouped-query attention broadcast).
func toBatchHeadsRepeated(flat []float32, l, kvHeads, numHeads, hd int) (*tensor.Tensor, error) {
	if len(flat) != l*kvHeads*hd {
		return nil, fmt.Errorf("language: toBatchHeadsRepeated length mismatch: got %d want %d", len(flat), l*kvHeads*hd)
	}
	groupSize := numHeads / kvHeads
	if groupSize < 1 {
		groupSize = 1
	}
	out := tensor.New(1, numHeads, l, hd)
	for i := 0; i < l; i++ {
		for kh := 0; kh < kvHeads; kh++ {
			src := i*kvHeads*hd + kh*hd
			for g := 0; g < groupSize; g++ {
				h := kh*groupSize + g
				if h >= numHeads {
					continue
				}
				dst := (h*l + i) * hd
				copy(out.Data[dst:dst+hd], flat[src:src+hd])
			}
		}
	}
	return out, nil
}

func fromBatchHeads(x *tensor.Tensor, l, heads, hd int) *tensor.Tensor {
	out := tensor.New(l, heads*hd)
	for i := 0; i < l; i++ {
		for h := 0; h < heads; h++ {
			src := (h*l + i) * hd
			dst := i*heads*hd + h*hd
			copy(out.Data[dst:dst+hd], x.Data[src:src+hd])
		}
	}
	return out
}
