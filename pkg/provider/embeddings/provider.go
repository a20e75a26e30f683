// Package embeddings defines the Provider interface for the text embedding
// backends that feed semantic transcript search.
//
// Every vector a Provider returns has exactly Dimensions() entries; the
// pgvector column is created with that width.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a backend answers with a vector of
// unexpected width.
var ErrDimensionMismatch = errors.New("embeddings: dimension mismatch")

// Provider is the abstraction over any text-embedding backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the fixed length of every returned vector.
	Dimensions() int

	// ModelID names the embedding model, e.g. "nomic-embed-text".
	ModelID() string
}

// CheckDimensions returns ErrDimensionMismatch when vec does not have want
// entries. A want of zero accepts any width.
func CheckDimensions(vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
