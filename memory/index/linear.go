// Package index provides the in-process embedding index used for
// semantic fact retrieval.
package index

import (
	"container/heap"
	"context"
	"math"
	"sort"
	"sync"

	"github.com/piskevalee-cpu/MARK/memory"
)

// Linear is a brute-force cosine similarity index.
//
// Vectors are stored unit-normalized so similarity reduces to a dot
// product. Search walks every vector and keeps the best k in a bounded
// heap, so memory stays O(k) regardless of index size. Results are
// deterministic: descending similarity, lower fact id on ties.
type Linear struct {
	mu      sync.RWMutex
	dims    int
	vectors map[int64][]float32
}

// NewLinear creates an empty index accepting vectors of the given size.
func NewLinear(dims int) *Linear {
	return &Linear{
		dims:    dims,
		vectors: make(map[int64][]float32),
	}
}

// Add registers a vector under the fact id, replacing any previous one.
func (l *Linear) Add(_ context.Context, id int64, vector []float32) error {
	if len(vector) != l.dims {
		return &memory.DimensionMismatchError{Got: len(vector), Want: l.dims}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.vectors[id] = normalizeVector(vector)
	return nil
}

// Search returns up to k hits ordered by descending similarity,
// breaking ties in favor of the lower fact id.
func (l *Linear) Search(_ context.Context, vector []float32, k int) ([]memory.Scored, error) {
	if len(vector) != l.dims {
		return nil, &memory.DimensionMismatchError{Got: len(vector), Want: l.dims}
	}
	if k <= 0 {
		return nil, nil
	}

	query := normalizeVector(vector)

	l.mu.RLock()
	defer l.mu.RUnlock()

	h := &hitHeap{}
	heap.Init(h)
	for id, vec := range l.vectors {
		cand := memory.Scored{ID: id, Score: dot(query, vec)}
		if h.Len() < k {
			heap.Push(h, cand)
			continue
		}
		if beats(cand, (*h)[0]) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}

	hits := make([]memory.Scored, h.Len())
	copy(hits, *h)
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

// Remove drops the id from the searchable set.
func (l *Linear) Remove(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.vectors, id)
	return nil
}

// Len reports how many vectors are searchable.
func (l *Linear) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.vectors)
}

// Dimensions returns the accepted vector size.
func (l *Linear) Dimensions() int {
	return l.dims
}

// beats reports whether a should replace b in the result set.
func beats(a, b memory.Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// hitHeap is a min-heap over (score, id): the root is the weakest hit,
// and among equal scores the higher id, so it is evicted first.
type hitHeap []memory.Scored

func (h hitHeap) Len() int { return len(h) }

func (h hitHeap) Less(i, j int) bool { return beats(h[j], h[i]) }

func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) { *h = append(*h, x.(memory.Scored)) }

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalizeVector returns a unit-length copy of vec. Zero vectors are
// returned as a copy unchanged.
func normalizeVector(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if norm == 0 {
		copy(out, vec)
		return out
	}
	inv := 1 / math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out
}
