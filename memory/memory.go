package memory

import (
	"context"
	"time"
)

// Fact is a single remembered statement about the user.
//
// Text holds the normalized third-person form ("The user likes Python"),
// RawText the utterance as originally typed. A fact stays readable by id
// forever; superseding it clears Active and records the replacement id.
type Fact struct {
	ID           int64
	Text         string
	RawText      string
	Tags         []string
	Embedding    []float32
	CreatedAt    time.Time
	Active       bool
	SupersededBy int64
}

// Store is the durable fact storage backend.
//
// Append must not return before the fact is committed to stable storage.
// IDs are store-assigned and strictly increasing.
//
// Implementations: sqlite.Store (local database under $MARK_HOME).
type Store interface {
	// Append durably stores a new fact and returns it with its id assigned.
	// Empty or whitespace-only text is a validation error.
	Append(ctx context.Context, text, rawText string, embedding []float32, tags []string) (*Fact, error)

	// Get returns the fact with the given id, active or not.
	Get(ctx context.Context, id int64) (*Fact, error)

	// ListAll returns all active facts in insertion order.
	ListAll(ctx context.Context) ([]*Fact, error)

	// SearchText returns active facts whose text contains the query,
	// case-insensitively, in insertion order.
	SearchText(ctx context.Context, query string, limit int) ([]*Fact, error)

	// Supersede marks the old fact inactive and appends the replacement,
	// returning the new fact. The old fact remains readable via Get.
	Supersede(ctx context.Context, oldID int64, text, rawText string, embedding []float32, tags []string) (*Fact, error)

	// Delete permanently removes a fact.
	Delete(ctx context.Context, id int64) error

	// Clear permanently removes all facts.
	Clear(ctx context.Context) error

	// Embeddings returns id/vector pairs for every active fact that has
	// an embedding, for rebuilding the index at startup.
	Embeddings(ctx context.Context) ([]IndexEntry, error)

	// Close releases resources.
	Close() error
}

// IndexEntry pairs a fact id with its stored embedding.
type IndexEntry struct {
	ID     int64
	Vector []float32
}

// Scored is a search hit: a fact id with its cosine similarity to the query.
type Scored struct {
	ID    int64
	Score float64
}

// Index is the embedding search structure.
//
// Search results are deterministic: descending similarity, and on equal
// similarity the lower fact id first. Vectors of the wrong dimensionality
// are rejected with a DimensionMismatchError, never silently skipped.
//
// Implementations: index.Linear (in-process scan, default),
// chromem.Index (chromem-go collection).
type Index interface {
	// Add registers a vector under the given fact id. Re-adding an id
	// replaces its vector.
	Add(ctx context.Context, id int64, vector []float32) error

	// Search returns up to k hits ordered by descending similarity.
	Search(ctx context.Context, vector []float32, k int) ([]Scored, error)

	// Remove drops the id from the searchable set. Removing an unknown
	// id is a no-op.
	Remove(ctx context.Context, id int64) error

	// Len reports how many vectors are searchable.
	Len() int

	// Dimensions returns the vector size the index accepts.
	Dimensions() int
}

// Embedder converts text to vector embeddings.
//
// Implementations: mock.Embedder (deterministic, testing), onnx.Embedder
// (local all-MiniLM-L6-v2, build tag onnx), gemini and ollama providers.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}
