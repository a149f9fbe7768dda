// Package mock provides a deterministic embedder for tests and for
// running MARK without any embedding backend configured.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultDimensions matches all-MiniLM-L6-v2 so the mock can stand in
// for the local ONNX embedder.
const DefaultDimensions = 384

// Embedder generates deterministic embeddings from a text hash.
// Identical text always produces the identical unit vector, which keeps
// retrieval tests reproducible across restarts.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with DefaultDimensions.
func New() *Embedder {
	return &Embedder{dimensions: DefaultDimensions}
}

// NewWithDimensions creates a mock embedder producing vectors of size d.
func NewWithDimensions(d int) *Embedder {
	if d <= 0 {
		d = DefaultDimensions
	}
	return &Embedder{dimensions: d}
}

// Embed creates a deterministic embedding from text.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	// Expand the hash into a pseudo-random vector with an LCG.
	seed := h.Sum64()
	embedding := make([]float32, e.dimensions)
	for i := range embedding {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// normalize converts the embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
