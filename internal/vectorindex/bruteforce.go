package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/nvandessel/refinery/internal/vecmath"
)

// BruteForceIndex performs exhaustive nearest neighbor search.
// Thread-safe. Step contexts hold a handful of vectors, so nothing smarter
// is needed.
type BruteForceIndex struct {
	mu      sync.RWMutex
	metric  Metric
	vectors map[string][]float32
}

// NewBruteForceIndex creates an empty BruteForceIndex using the given metric.
func NewBruteForceIndex(metric Metric) *BruteForceIndex {
	return &BruteForceIndex{
		metric:  metric,
		vectors: make(map[string][]float32),
	}
}

// Add inserts or replaces the vector for the given key.
func (b *BruteForceIndex) Add(_ context.Context, key string, vector []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]float32, len(vector))
	copy(cp, vector)
	b.vectors[key] = cp
	return nil
}

// Remove deletes the vector for the given key. No-op if not found.
func (b *BruteForceIndex) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vectors, key)
	return nil
}

// Search returns the topK most similar vectors to query, sorted by descending
// score. Ties are broken by key so results are deterministic.
func (b *BruteForceIndex) Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.vectors) == 0 {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(b.vectors))
	for key, vec := range b.vectors {
		results = append(results, SearchResult{
			Key:   key,
			Score: b.score(query, vec),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Key < results[j].Key
		}
		return results[i].Score > results[j].Score
	})

	if topK > len(results) {
		topK = len(results)
	}

	return results[:topK], nil
}

func (b *BruteForceIndex) score(query, vec []float32) float64 {
	if b.metric == MetricDot {
		return vecmath.Dot(query, vec)
	}
	return vecmath.CosineSimilarity(query, vec)
}

// Len returns the number of vectors in the index.
func (b *BruteForceIndex) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vectors)
}

// Close is a no-op for the in-memory brute-force index.
func (b *BruteForceIndex) Close() error {
	return nil
}
