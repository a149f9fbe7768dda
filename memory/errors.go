package memory

import (
	"errors"
	"fmt"

	"github.com/piskevalee-cpu/MARK/core"
)

// Sentinel errors for the memory system. Callers test with errors.Is.
// Validation and not-found share the core taxonomy so the same checks
// work across subsystems.
var (
	// ErrValidation marks rejected input (empty text, bad arguments).
	ErrValidation = core.ErrValidation

	// ErrNotFound marks lookups for fact ids that do not exist.
	ErrNotFound = core.ErrNotFound

	// ErrEmbeddingUnavailable marks embedder failures. Nothing is stored
	// or indexed when the embedding cannot be produced.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)

// DimensionMismatchError reports a vector whose size does not match the
// index. It is always an error, never a silent skip.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, want %d", e.Got, e.Want)
}

// IsDimensionMismatch reports whether err is a DimensionMismatchError.
func IsDimensionMismatch(err error) bool {
	var dm *DimensionMismatchError
	return errors.As(err, &dm)
}
