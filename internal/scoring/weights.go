package scoring

// Weights blends the six sub-scores into one confidence.
type Weights struct {
	Quality    float64 `json:"quality"`
	Context    float64 `json:"context"`
	Creativity float64 `json:"creativity"`
	Revision   float64 `json:"revision"`
	History    float64 `json:"history"`
	Resource   float64 `json:"resource"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Quality + w.Context + w.Creativity + w.Revision + w.History + w.Resource
}

// Combine returns the weighted sum of the breakdown's sub-scores.
func (w Weights) Combine(b Breakdown) float64 {
	return b.Quality*w.Quality +
		b.Relevance*w.Context +
		b.Creativity*w.Creativity +
		b.Revision*w.Revision +
		b.History*w.History +
		b.Resource*w.Resource
}

// Profile holds everything that varies with content type.
type Profile struct {
	Weights       Weights
	BaseThreshold float64
	Max           float64
}

// Technical text weighs quality and revision impact highest, creative text
// weighs creativity and context highest, hybrid sits between them.
var profiles = map[ContentType]Profile{
	ContentTechnical: {
		Weights:       Weights{Quality: 0.30, Context: 0.15, Creativity: 0.05, Revision: 0.25, History: 0.15, Resource: 0.10},
		BaseThreshold: 0.55,
		Max:           0.95,
	},
	ContentCreative: {
		Weights:       Weights{Quality: 0.15, Context: 0.25, Creativity: 0.30, Revision: 0.10, History: 0.10, Resource: 0.10},
		BaseThreshold: 0.45,
		Max:           0.90,
	},
	ContentHybrid: {
		Weights:       Weights{Quality: 0.20, Context: 0.20, Creativity: 0.15, Revision: 0.20, History: 0.15, Resource: 0.10},
		BaseThreshold: 0.50,
		Max:           0.92,
	},
}

// ProfileFor returns the profile of a content type; unknown types use the
// technical profile.
func ProfileFor(ct ContentType) Profile {
	if p, ok := profiles[ct]; ok {
		return p
	}
	return profiles[ContentTechnical]
}

// Floor is the adaptive minimum confidence: the base threshold scaled by
// recent success, from 85% (all recent steps failed) to 100%.
func (p Profile) Floor(successRate float64) float64 {
	return p.BaseThreshold * (0.85 + 0.15*clamp(successRate, 0, 1))
}
