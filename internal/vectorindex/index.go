// Package vectorindex provides nearest-neighbor search over the context
// embeddings of a step. Relevance scoring builds one small index per step
// (problem scope, constraints, assumptions) and asks for the best match.
package vectorindex

import "context"

// SearchResult pairs a context key with its similarity score.
type SearchResult struct {
	Key   string
	Score float64 // similarity in [-1, 1], higher = more similar
}

// Metric selects how vectors are compared.
type Metric int

const (
	// MetricCosine normalizes both vectors before comparing.
	MetricCosine Metric = iota

	// MetricDot uses the raw dot product. Callers must supply
	// pre-normalized vectors for the result to be a similarity.
	MetricDot
)

// VectorIndex provides nearest neighbor search over embeddings.
// Implementations must be safe for concurrent use from multiple goroutines.
type VectorIndex interface {
	// Add inserts or updates the vector for the given key.
	// If the key already exists, the vector is replaced.
	Add(ctx context.Context, key string, vector []float32) error

	// Remove deletes the vector for the given key.
	// Returns nil if the key does not exist (idempotent).
	Remove(ctx context.Context, key string) error

	// Search returns the topK most similar vectors to query, sorted by descending score.
	// Returns fewer than topK results if the index contains fewer vectors.
	Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error)

	// Len returns the number of vectors currently in the index.
	Len() int

	// Close releases resources.
	Close() error
}

// Best returns the single closest match, or false when the index is empty.
func Best(ctx context.Context, idx VectorIndex, query []float32) (SearchResult, bool, error) {
	results, err := idx.Search(ctx, query, 1)
	if err != nil || len(results) == 0 {
		return SearchResult{}, false, err
	}
	return results[0], true, nil
}
