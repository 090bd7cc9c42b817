package models

// CategoryType tags a step. Draft chains use initial, critique, revision and
// final; thought chains use analysis, hypothesis, verification, revision and
// solution.
type CategoryType string

const (
	CategoryInitial  CategoryType = "initial"
	CategoryCritique CategoryType = "critique"
	CategoryRevision CategoryType = "revision"
	CategoryFinal    CategoryType = "final"

	CategoryAnalysis     CategoryType = "analysis"
	CategoryHypothesis   CategoryType = "hypothesis"
	CategoryVerification CategoryType = "verification"
	CategorySolution     CategoryType = "solution"
)

// Category is the tag attached to a step together with the confidence of
// the tag itself.
type Category struct {
	Type       CategoryType   `json:"type"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ConfidenceBand is the confidence range a category is expected to land in.
type ConfidenceBand struct {
	Min float64
	Max float64
}

// Contains reports whether v falls inside the band.
func (b ConfidenceBand) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

var categoryBands = map[CategoryType]ConfidenceBand{
	CategoryInitial:      {Min: 0.40, Max: 0.80},
	CategoryCritique:     {Min: 0.50, Max: 0.85},
	CategoryRevision:     {Min: 0.60, Max: 0.95},
	CategoryFinal:        {Min: 0.70, Max: 1.00},
	CategoryAnalysis:     {Min: 0.40, Max: 0.80},
	CategoryHypothesis:   {Min: 0.45, Max: 0.85},
	CategoryVerification: {Min: 0.55, Max: 0.90},
	CategorySolution:     {Min: 0.65, Max: 1.00},
}

// Band returns the expected confidence band for the category type. Unknown
// types get the full [0,1] range.
func (t CategoryType) Band() ConfidenceBand {
	if b, ok := categoryBands[t]; ok {
		return b
	}
	return ConfidenceBand{Min: 0, Max: 1}
}

// IsDraft reports whether t is a draft category.
func (t CategoryType) IsDraft() bool {
	switch t {
	case CategoryInitial, CategoryCritique, CategoryRevision, CategoryFinal:
		return true
	}
	return false
}

// IsThought reports whether t is a thought category.
func (t CategoryType) IsThought() bool {
	switch t {
	case CategoryAnalysis, CategoryHypothesis, CategoryVerification, CategoryRevision, CategorySolution:
		return true
	}
	return false
}

// ThoughtCategories lists the thought categories in chain order.
func ThoughtCategories() []CategoryType {
	return []CategoryType{
		CategoryAnalysis,
		CategoryHypothesis,
		CategoryVerification,
		CategoryRevision,
		CategorySolution,
	}
}
