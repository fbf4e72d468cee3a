package language

import "fmt"

// LayerCache holds one decoder layer's keys and values for a single
// recognition stream. It MUST NOT be shared across concurrent
// generation calls (spec.md §5 shared-mutable-state rule (b)).
type LayerCache struct {
	keys     []float32 // [capacity, kvHeads*headDim]
	values   []float32
	capacity int
	length   int
	width    int
}

// Cache is the per-stream KV cache across all decoder layers.
type Cache struct {
	Layers    []*LayerCache
	BlockSize int
}

// NewCache allocates an empty cache for every layer of the model.
func NewCache(cfg Config) *Cache {
	width := cfg.NumKVHeads * headDim(cfg)
	layers := make([]*LayerCache, cfg.NumLayers)
	for i := range layers {
		layers[i] = &LayerCache{width: width}
	}
	blockSize := cfg.CacheBlockSize
	if blockSize <= 0 {
		blockSize = 256
	}
	return &Cache{Layers: layers, BlockSize: blockSize}
}

// Offset returns the number of tokens already cached (uniform across
// layers by construction).
func (c *Cache) Offset() int {
	if len(c.Layers) == 0 {
		return 0
	}
	return c.Layers[0].length
}

// Append grows the cache by L new tokens for one layer, padding
// capacity up to the next BlockSize multiple when needed (spec.md
// §4.4.3: "new_keys = pad_to_multiple(step=256)").
func (lc *LayerCache) Append(newKeys, newValues []float32, l int, blockSize int) error {
	if l <= 0 {
		return nil
	}
	if len(newKeys) != l*lc.width || len(newValues) != l*lc.width {
		return fmt.Errorf("language: cache append length mismatch: keys=%d values=%d want %d", len(newKeys), len(newValues), l*lc.width)
	}
	needed := lc.length + l
	if needed > lc.capacity {
		newCap := ((needed / blockSize) + 1) * blockSize
		lc.growTo(newCap)
	}
	copy(lc.keys[lc.length*lc.width:needed*lc.width], newKeys)
	copy(lc.values[lc.length*lc.width:needed*lc.width], newValues)
	lc.length = needed
	return nil
}

func (lc *LayerCache) growTo(newCap int) {
	newKeys := make([]float32, newCap*lc.width)
	newValues := make([]float32, newCap*lc.width)
	copy(newKeys, lc.keys[:lc.length*lc.width])
	copy(newValues, lc.values[:lc.length*lc.width])
	lc.keys = newKeys
	lc.values = newValues
	lc.capacity = newCap
}

// KeysValues returns the cached keys/values up to the current length.
func (lc *LayerCache) KeysValues() ([]float32, []float32, int) {
	return lc.keys[:lc.length*lc.width], lc.values[:lc.length*lc.width], lc.length
}
