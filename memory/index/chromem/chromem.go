// Package chromem adapts a chromem-go collection to the memory.Index
// interface, as an alternative to the in-process linear index.
package chromem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/piskevalee-cpu/MARK/memory"
)

// Index wraps chromem-go, an embedded pure-Go vector database.
//
// chromem-go does not expose deletion by id, so removals are tracked as
// tombstones and filtered out of results. Facts are few enough locally
// that the dead documents cost nothing measurable.
type Index struct {
	mu      sync.RWMutex
	dims    int
	col     *chromem.Collection
	ids     map[int64]bool
	removed map[int64]bool
}

// New creates a chromem-backed index accepting vectors of the given size.
func New(dims int) (*Index, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(
		"facts",
		nil, // embeddings are always provided by the caller
		nil, // default cosine distance
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{
		dims:    dims,
		col:     col,
		ids:     make(map[int64]bool),
		removed: make(map[int64]bool),
	}, nil
}

// Add registers a vector under the fact id.
func (x *Index) Add(ctx context.Context, id int64, vector []float32) error {
	if len(vector) != x.dims {
		return &memory.DimensionMismatchError{Got: len(vector), Want: x.dims}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	docID := strconv.FormatInt(id, 10)
	doc := chromem.Document{
		ID:        docID,
		Content:   docID,
		Embedding: vector,
	}
	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	x.ids[id] = true
	delete(x.removed, id)
	return nil
}

// Search returns up to k hits ordered by descending similarity, lower
// fact id first on ties.
func (x *Index) Search(ctx context.Context, vector []float32, k int) ([]memory.Scored, error) {
	if len(vector) != x.dims {
		return nil, &memory.DimensionMismatchError{Got: len(vector), Want: x.dims}
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	live := len(x.ids) - len(x.removed)
	if live <= 0 {
		return nil, nil
	}

	// Over-fetch by the tombstone count so k live hits survive the
	// filter. chromem rejects nResults above the collection size.
	n := k + len(x.removed)
	if n > len(x.ids) {
		n = len(x.ids)
	}

	results, err := x.col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		if isInsufficientDocsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]memory.Scored, 0, len(results))
	for _, res := range results {
		id, err := strconv.ParseInt(res.ID, 10, 64)
		if err != nil {
			continue
		}
		if x.removed[id] {
			continue
		}
		hits = append(hits, memory.Scored{ID: id, Score: float64(res.Similarity)})
	}

	// chromem leaves tie order unspecified; re-sort for determinism.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Remove tombstones the id so it no longer appears in results.
func (x *Index) Remove(_ context.Context, id int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ids[id] {
		x.removed[id] = true
	}
	return nil
}

// Len reports how many vectors are searchable.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids) - len(x.removed)
}

// Dimensions returns the accepted vector size.
func (x *Index) Dimensions() int {
	return x.dims
}

// isInsufficientDocsError checks if the error is chromem complaining
// that nResults exceeds the document count.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
