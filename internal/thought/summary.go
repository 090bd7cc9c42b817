package thought

import (
	"sort"

	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/tokens"
)

const (
	maxHighlights      = 3
	highlightThreshold = 0.7
	excerptRunes       = 160
)

// Highlight is one high-confidence thought quoted in a summary.
type Highlight struct {
	SequenceNumber int     `json:"sequenceNumber"`
	BranchID       string  `json:"branchId,omitempty"`
	Confidence     float64 `json:"confidence"`
	Excerpt        string  `json:"excerpt"`
}

// Summary is the aggregate report produced on a chain's terminal step.
type Summary struct {
	TotalThoughts   int                         `json:"totalThoughts"`
	Categories      map[models.CategoryType]int `json:"categories"`
	MeanConfidence  float64                     `json:"meanConfidence"`
	Highlights      []Highlight                 `json:"highlights,omitempty"`
	Branches        []string                    `json:"branches,omitempty"`
	EstimatedTokens int                         `json:"estimatedTokens"`
}

// Summarize builds the report for a session's thoughts.
func Summarize(history []models.StepRecord, branches []string) *Summary {
	s := &Summary{
		TotalThoughts: len(history),
		Categories:    make(map[models.CategoryType]int),
		Branches:      branches,
	}
	if len(history) == 0 {
		return s
	}

	var total float64
	texts := make([]string, 0, len(history))
	for _, r := range history {
		s.Categories[r.Category.Type]++
		total += r.Confidence
		texts = append(texts, r.Content)
	}
	s.MeanConfidence = total / float64(len(history))
	s.EstimatedTokens = tokens.EstimateTotal(texts...)

	ranked := make([]models.StepRecord, 0, len(history))
	for _, r := range history {
		if r.Confidence >= highlightThreshold {
			ranked = append(ranked, r)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	if len(ranked) > maxHighlights {
		ranked = ranked[:maxHighlights]
	}
	for _, r := range ranked {
		s.Highlights = append(s.Highlights, Highlight{
			SequenceNumber: r.SequenceNumber,
			BranchID:       r.BranchID,
			Confidence:     r.Confidence,
			Excerpt:        excerpt(r.Content),
		})
	}
	return s
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	return string(runes[:excerptRunes]) + "..."
}
