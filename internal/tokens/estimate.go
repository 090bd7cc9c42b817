// Package tokens estimates token counts for step content so chain summaries
// can report how much context a session has consumed.
package tokens

// EstimateTokens provides a rough token count estimate for text.
// Uses the common heuristic of ~4 characters per token for English text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateTotal sums EstimateTokens over every text.
func EstimateTotal(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += EstimateTokens(t)
	}
	return total
}

// FitsWindow reports whether texts fit inside a context window of the given
// size. A non-positive window always fits.
func FitsWindow(window int, texts ...string) bool {
	if window <= 0 {
		return true
	}
	return EstimateTotal(texts...) <= window
}
