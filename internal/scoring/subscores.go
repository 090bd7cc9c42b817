package scoring

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/nvandessel/refinery/internal/llm"
	"github.com/nvandessel/refinery/internal/models"
)

// Fallback scores used when a signal is unavailable.
const (
	NeutralCoherence      = 0.5
	RelevanceNoContext    = 0.4
	RelevanceEmbedFailure = 0.3
	RevisionDefault       = 0.7
	HistoryDefault        = 0.7
)

const (
	minStructuralLength = 50
	maxStructuralLength = 20000

	historyWindow = 5
	trendWindow   = 3
	trendBonus    = 0.1

	heapBudgetBytes = 200 << 20
	timeBudgetMs    = 2000.0
)

// StructuralScore rewards punctuation, line structure and a sane length.
func StructuralScore(text string) float64 {
	var score float64
	if strings.ContainsAny(text, ".,;:!?") {
		score += 0.4
	}
	if strings.Contains(text, "\n") {
		score += 0.2
	}
	if n := utf8.RuneCountInString(text); n >= minStructuralLength && n < maxStructuralLength {
		score += 0.4
	}
	return score
}

// QualityScore blends the structural score with a coherence rating.
// NaN or out-of-range coherence is treated as neutral.
func QualityScore(structural, coherence float64) float64 {
	if math.IsNaN(coherence) || coherence < 0 || coherence > 1 {
		coherence = NeutralCoherence
	}
	return clamp(0.5*structural+0.5*coherence, 0, 1)
}

// CreativityScore averages the given classifiers' scores.
func CreativityScore(text string, classifiers ...Classifier) float64 {
	if len(classifiers) == 0 {
		return 0
	}
	var sum float64
	for _, c := range classifiers {
		_, s := c.Classify(text)
		sum += s
	}
	return sum / float64(len(classifiers))
}

// RevisionImpact rates how substantive a revision is relative to the
// original. Near-identical rewrites earn less than real changes.
func RevisionImpact(original *models.StepRecord, revised string) float64 {
	if original == nil {
		return RevisionDefault
	}
	lengthSim := lengthSimilarity(original.Content, revised)
	jaccard := JaccardSimilarity(original.Content, revised)
	similarity := (lengthSim + jaccard) / 2

	change := 0.6
	if similarity < 0.9 {
		change = 0.8
	}
	return 0.3*lengthSim + 0.3*jaccard + 0.4*change
}

func lengthSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 && lb == 0 {
		return 1
	}
	return float64(min(la, lb)) / float64(max(la, lb))
}

// JaccardSimilarity compares the word sets of two texts.
func JaccardSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	var inter int
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func wordSet(text string) map[string]bool {
	words := llm.Tokenize(text)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// lastN returns the trailing n records of history (ordered oldest first).
func lastN(history []models.StepRecord, n int) []models.StepRecord {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

// SuccessRate is the fraction of the last five records not flagged as
// needing revision. With no history it is 1.
func SuccessRate(history []models.StepRecord) float64 {
	window := lastN(history, historyWindow)
	if len(window) == 0 {
		return 1
	}
	ok := 0
	for _, r := range window {
		if !r.NeedsRevision {
			ok++
		}
	}
	return float64(ok) / float64(len(window))
}

// HistoricalPerformance is the recent success rate plus a bonus when the
// last three records show non-decreasing confidence and a non-increasing
// revision flag. History is ordered oldest first.
func HistoricalPerformance(history []models.StepRecord) float64 {
	if len(history) == 0 {
		return HistoryDefault
	}
	score := SuccessRate(history)
	if improvingTrend(lastN(history, trendWindow)) {
		score += trendBonus
	}
	return clamp(score, 0, 1)
}

func improvingTrend(window []models.StepRecord) bool {
	if len(window) < trendWindow {
		return false
	}
	for i := 1; i < len(window); i++ {
		if window[i].Confidence < window[i-1].Confidence {
			return false
		}
		if window[i].NeedsRevision && !window[i-1].NeedsRevision {
			return false
		}
	}
	return true
}

// ResourceEfficiency averages a heap score and a processing-time score,
// each floored at zero.
func ResourceEfficiency(heapBytes uint64, avgProcessingMs float64) float64 {
	memory := math.Max(0, 1-float64(heapBytes)/heapBudgetBytes)
	timing := math.Max(0, 1-avgProcessingMs/timeBudgetMs)
	return (memory + timing) / 2
}

// AverageProcessingMs is the mean processing time across history.
func AverageProcessingMs(history []models.StepRecord) float64 {
	if len(history) == 0 {
		return 0
	}
	var total int64
	for _, r := range history {
		total += r.Metrics.ProcessingTimeMs
	}
	return float64(total) / float64(len(history))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
