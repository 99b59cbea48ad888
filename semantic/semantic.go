// Package semantic provides the approximate-match side of the cache: an
// index of embedding vectors keyed by the same storage keys the backing
// store uses. The index stores vectors and key references only, never
// payloads — on a candidate hit the engine still fetches the value from the
// backing store, so there is a single source of truth for cached data.
package semantic

import (
	"context"
	"errors"
	"math"
	"time"
)

// Candidate is a scored index match. Score is cosine similarity in [-1, 1].
type Candidate struct {
	Key   string
	Score float64
}

// Index is an approximate nearest-neighbor store over embedded queries.
type Index interface {
	// Insert registers a vector under a storage key. Inserting an existing
	// key replaces its vector. ttl bounds how long the vector is queryable.
	Insert(ctx context.Context, key string, vector []float32, ttl time.Duration) error
	// Query returns up to topK candidates ordered best-first. Equal scores
	// are broken in favor of the most recently inserted vector.
	Query(ctx context.Context, vector []float32, topK int) ([]Candidate, error)
	// Remove drops a key's vector. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// RemovePattern drops every vector whose key matches the glob pattern
	// and returns the number removed.
	RemovePattern(ctx context.Context, pattern string) (int, error)
	// Close releases resources owned by the index.
	Close() error
}

// ErrDimensionMismatch is returned by Query when the query vector's length
// differs from the indexed vectors'.
var ErrDimensionMismatch = errors.New("semantic: embedding dimension mismatch")

// Cosine returns the cosine similarity of two equal-length vectors. A zero
// vector has no direction and scores 0 against everything.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
