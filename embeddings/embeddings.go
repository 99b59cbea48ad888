// Package embeddings abstracts the sentence-embedding provider used by the
// cache's semantic levels. Providers are expected to be network-backed and
// slow relative to the cache itself, so every call takes a context and the
// engine treats a provider failure as "semantic matching disabled for this
// call," never as an error it propagates.
package embeddings

import "context"

// Provider turns text into a fixed-dimension embedding vector.
type Provider interface {
	// Embed returns the embedding for text. Implementations must return
	// vectors of a consistent dimension.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the length of vectors this provider produces.
	Dimension() int
}
