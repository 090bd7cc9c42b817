// Package llm holds the external collaborators used by scoring: embedders
// that turn text into vectors and coherence checkers that rate prose.
package llm

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/nvandessel/refinery/internal/vecmath"
)

// Embedder produces normalized embeddings. A nil vector with a nil error
// means the embedder had nothing to say about the text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// DefaultDimensions is the vector size used when none is configured.
const DefaultDimensions = 256

// HashEmbedder is a dependency-free embedder that hashes unigrams and
// bigrams into a fixed number of signed buckets. It is deterministic and
// good enough to rank short context strings against a draft.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of length dims.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector length.
func (h *HashEmbedder) Dimensions() int {
	return h.dims
}

// Embed returns the normalized feature-hash vector of text, or nil when
// text has no words.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := Tokenize(text)
	if len(words) == 0 {
		return nil, nil
	}

	vec := make([]float32, h.dims)
	for i, w := range words {
		h.add(vec, w, 1)
		if i > 0 {
			h.add(vec, words[i-1]+" "+w, 0.5)
		}
	}
	vecmath.Normalize(vec)
	return vec, nil
}

// EmbedMany embeds each text in order.
func (h *HashEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.dims)
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// Tokenize lowercases text and splits it into words of letters and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
