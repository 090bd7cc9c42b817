package thought

import (
	"github.com/nvandessel/refinery/internal/llm"
	"github.com/nvandessel/refinery/internal/models"
)

var categoryKeywords = map[models.CategoryType][]string{
	models.CategoryAnalysis:     {"analyze", "analysis", "examine", "consider", "understand", "identify", "observe", "break"},
	models.CategoryHypothesis:   {"hypothesis", "hypothesize", "suppose", "assume", "might", "perhaps", "possibly", "predict", "propose"},
	models.CategoryVerification: {"verify", "check", "test", "confirm", "validate", "prove", "evidence", "measure"},
	models.CategoryRevision:     {"revise", "reconsider", "correct", "mistake", "actually", "instead", "rethink", "update"},
	models.CategorySolution:     {"solution", "therefore", "conclude", "answer", "result", "final", "resolve", "fix"},
}

// KeywordCategorizer tags a thought with the category whose keywords occur
// most often. The tag score is matches divided by word count.
type KeywordCategorizer struct{}

// Classify returns the category tag and its confidence. Ties go to the
// category that comes first in chain order; text without any keyword is
// tagged as analysis with score 0.
func (KeywordCategorizer) Classify(text string) (string, float64) {
	words := llm.Tokenize(text)
	if len(words) == 0 {
		return string(models.CategoryAnalysis), 0
	}

	counts := make(map[models.CategoryType]int, len(categoryKeywords))
	for _, w := range words {
		for cat, keywords := range categoryKeywords {
			for _, k := range keywords {
				if w == k {
					counts[cat]++
				}
			}
		}
	}

	best, bestCount := models.CategoryAnalysis, 0
	for _, cat := range models.ThoughtCategories() {
		if counts[cat] > bestCount {
			best, bestCount = cat, counts[cat]
		}
	}
	return string(best), float64(bestCount) / float64(len(words))
}
