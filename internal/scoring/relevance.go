package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nvandessel/refinery/internal/llm"
	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/vectorindex"
)

var errNoEmbedding = errors.New("embedder returned no vector")

// ContextRelevance is the best similarity between the content and any
// context string. It never fails: a missing context scores 0.4 and an
// embedding failure scores 0.3. The returned error explains a degraded
// score and is meant for logging only.
func ContextRelevance(ctx context.Context, embedder llm.Embedder, content string, sctx models.StepContext) (float64, error) {
	if strings.TrimSpace(content) == "" || sctx.IsEmpty() {
		return RelevanceNoContext, nil
	}
	texts := sctx.Texts()
	if embedder == nil {
		return RelevanceEmbedFailure, errNoEmbedding
	}

	target, err := embedder.Embed(ctx, content)
	if err != nil {
		return RelevanceEmbedFailure, fmt.Errorf("embed content: %w", err)
	}
	if target == nil {
		return RelevanceEmbedFailure, errNoEmbedding
	}

	vectors, err := embedder.EmbedMany(ctx, texts)
	if err != nil {
		return RelevanceEmbedFailure, fmt.Errorf("embed context: %w", err)
	}
	if vectors == nil {
		return RelevanceEmbedFailure, errNoEmbedding
	}

	idx := vectorindex.NewBruteForceIndex(vectorindex.MetricDot)
	defer idx.Close()
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		if err := idx.Add(ctx, fmt.Sprintf("context-%d", i), vec); err != nil {
			return RelevanceEmbedFailure, fmt.Errorf("index context: %w", err)
		}
	}

	best, ok, err := vectorindex.Best(ctx, idx, target)
	if err != nil {
		return RelevanceEmbedFailure, fmt.Errorf("search context: %w", err)
	}
	if !ok {
		return RelevanceEmbedFailure, errNoEmbedding
	}
	return clamp(best.Score, 0, 1), nil
}
