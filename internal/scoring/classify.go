// Package scoring computes bounded confidence scores for step records.
//
// A confidence blends six sub-scores (quality, context relevance,
// creativity, revision impact, historical performance and resource
// efficiency) using a weight vector chosen by the content type of the text.
// The result is clamped between an adaptive floor and a per-type maximum.
package scoring

import (
	"regexp"
	"strings"

	"github.com/nvandessel/refinery/internal/llm"
)

// Classifier tags text and reports how strongly the tag applies.
// The keyword classifiers shipped here are one implementation; a
// model-backed classifier can be substituted.
type Classifier interface {
	Classify(text string) (tag string, score float64)
}

// ContentType selects the weight profile used to combine sub-scores.
type ContentType string

const (
	ContentTechnical ContentType = "technical"
	ContentCreative  ContentType = "creative"
	ContentHybrid    ContentType = "hybrid"
)

// ParseContentType maps a classifier tag to a ContentType, defaulting to
// technical for unknown tags.
func ParseContentType(tag string) ContentType {
	switch ContentType(tag) {
	case ContentCreative:
		return ContentCreative
	case ContentHybrid:
		return ContentHybrid
	default:
		return ContentTechnical
	}
}

const (
	// minKeywordRate is the hit rate below which a keyword set is ignored.
	minKeywordRate = 0.02

	// hybridBand is how close (relative to the larger rate) the two rates
	// must be for text to count as hybrid.
	hybridBand = 0.25
)

var technicalKeywords = keywordSet(
	"algorithm", "api", "bug", "cache", "code", "compile", "config", "data",
	"database", "deploy", "error", "function", "implementation", "interface",
	"latency", "memory", "module", "network", "performance", "protocol",
	"query", "schema", "server", "system", "test", "thread",
)

var creativeKeywords = keywordSet(
	"art", "beautiful", "brainstorm", "character", "color", "creative",
	"design", "dream", "emotion", "explore", "feel", "idea", "imagine",
	"inspire", "invent", "metaphor", "music", "narrative", "novel", "poem",
	"story", "style", "unique", "vision",
)

func keywordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// KeywordContentClassifier classifies text as technical, creative or
// hybrid by comparing keyword hit rates.
type KeywordContentClassifier struct{}

// Classify returns the content type tag and the winning hit rate.
func (KeywordContentClassifier) Classify(text string) (string, float64) {
	words := llm.Tokenize(text)
	if len(words) == 0 {
		return string(ContentTechnical), 0
	}

	var tech, creative int
	for _, w := range words {
		if technicalKeywords[w] {
			tech++
		}
		if creativeKeywords[w] {
			creative++
		}
	}
	techRate := float64(tech) / float64(len(words))
	creativeRate := float64(creative) / float64(len(words))

	larger := techRate
	if creativeRate > larger {
		larger = creativeRate
	}

	switch {
	case techRate < minKeywordRate && creativeRate < minKeywordRate:
		return string(ContentTechnical), techRate
	case techRate == creativeRate:
		return string(ContentTechnical), techRate
	case techRate >= minKeywordRate && creativeRate >= minKeywordRate &&
		larger-min(techRate, creativeRate) <= hybridBand*larger:
		return string(ContentHybrid), larger
	case creativeRate > techRate:
		return string(ContentCreative), creativeRate
	default:
		return string(ContentTechnical), techRate
	}
}

// PatternClassifier scores text as a weighted OR over pattern groups: the
// score is the sum of the weights of the groups that match at least once.
type PatternClassifier struct {
	Name    string
	Groups  []*regexp.Regexp
	Weights []float64
}

// Classify returns the classifier name and its score in [0, 1].
func (p PatternClassifier) Classify(text string) (string, float64) {
	lower := strings.ToLower(text)
	var score float64
	for i, re := range p.Groups {
		if i < len(p.Weights) && re.MatchString(lower) {
			score += p.Weights[i]
		}
	}
	return p.Name, clamp(score, 0, 1)
}

var groupWeights = []float64{0.4, 0.3, 0.3}

// NoveltyClassifier rewards new framing and counterfactuals.
var NoveltyClassifier = PatternClassifier{
	Name: "novelty",
	Groups: []*regexp.Regexp{
		regexp.MustCompile(`\b(new|novel|innovative|unprecedented|fresh)\b`),
		regexp.MustCompile(`\b(instead of|rather than|unlike)\b`),
		regexp.MustCompile(`\b(what if|imagine|suppose)\b`),
	},
	Weights: groupWeights,
}

// FlexibilityClassifier rewards weighing several options.
var FlexibilityClassifier = PatternClassifier{
	Name: "flexibility",
	Groups: []*regexp.Regexp{
		regexp.MustCompile(`\b(however|alternatively|conversely|on the other hand)\b`),
		regexp.MustCompile(`\b(options?|approach(es)?|perspectives?|strateg(y|ies))\b`),
		regexp.MustCompile(`\b(could|might|either)\b`),
	},
	Weights: groupWeights,
}

// OriginalityClassifier rewards unusual combinations and figurative language.
var OriginalityClassifier = PatternClassifier{
	Name: "originality",
	Groups: []*regexp.Regexp{
		regexp.MustCompile(`\b(unique|original|distinctive|unconventional|creative)\b`),
		regexp.MustCompile(`\b(combin(e|es|ed|ing)|hybrid|blend(s|ed|ing)?|synthes\w*)\b`),
		regexp.MustCompile(`\b(metaphor|analogy|as if|like a)\b`),
	},
	Weights: groupWeights,
}
