package scoring

import (
	"context"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/refinery/internal/llm"
	"github.com/nvandessel/refinery/internal/models"
)

// Input is everything the scorer needs to know about one step.
type Input struct {
	Content    string
	Context    models.StepContext
	IsRevision bool

	// Original is the revised record, when known.
	Original *models.StepRecord

	// History holds the chain's earlier records, oldest first.
	History []models.StepRecord
}

// Signals are the sub-scores that need external collaborators.
type Signals struct {
	Structural float64 `json:"structural"`
	Coherence  float64 `json:"coherence"`
	Quality    float64 `json:"quality"`
	Relevance  float64 `json:"relevance"`
}

// Breakdown reports every sub-score alongside the final confidence.
type Breakdown struct {
	ContentType ContentType `json:"contentType"`
	Signals
	Creativity  float64 `json:"creativity"`
	Revision    float64 `json:"revision"`
	History     float64 `json:"history"`
	Resource    float64 `json:"resource"`
	SuccessRate float64 `json:"successRate"`
	Raw         float64 `json:"raw"`
	Floor       float64 `json:"floor"`
	Max         float64 `json:"max"`
	Confidence  float64 `json:"confidence"`
}

// Scorer computes confidence for step records.
type Scorer struct {
	embedder   llm.Embedder
	coherence  llm.CoherenceChecker
	content    Classifier
	creativity []Classifier
	sampler    ResourceSampler
	parallel   bool
	logger     zerolog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithEmbedder sets the embedder used for context relevance.
func WithEmbedder(e llm.Embedder) Option {
	return func(s *Scorer) { s.embedder = e }
}

// WithCoherence sets the coherence checker used for quality.
func WithCoherence(c llm.CoherenceChecker) Option {
	return func(s *Scorer) { s.coherence = c }
}

// WithContentClassifier replaces the keyword content-type classifier.
func WithContentClassifier(c Classifier) Option {
	return func(s *Scorer) { s.content = c }
}

// WithCreativityClassifiers replaces the novelty, flexibility and
// originality classifiers.
func WithCreativityClassifiers(cs ...Classifier) Option {
	return func(s *Scorer) { s.creativity = cs }
}

// WithSampler sets the heap sampler used for resource efficiency.
func WithSampler(r ResourceSampler) Option {
	return func(s *Scorer) { s.sampler = r }
}

// WithParallel runs the coherence and relevance collaborators concurrently.
func WithParallel(enabled bool) Option {
	return func(s *Scorer) { s.parallel = enabled }
}

// WithLogger sets the logger used for collaborator degradations.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scorer) { s.logger = l }
}

// New creates a Scorer. Without options it uses the hashing embedder, the
// heuristic coherence checker and the keyword classifiers.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		embedder:   llm.NewHashEmbedder(llm.DefaultDimensions),
		coherence:  llm.HeuristicCoherence{},
		content:    KeywordContentClassifier{},
		creativity: []Classifier{NoveltyClassifier, FlexibilityClassifier, OriginalityClassifier},
		sampler:    RuntimeSampler{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ContentType classifies text.
func (s *Scorer) ContentType(text string) ContentType {
	tag, _ := s.content.Classify(text)
	return ParseContentType(tag)
}

// Signals computes the collaborator-backed sub-scores. Collaborator
// failures degrade to fallback values; only context cancellation is
// returned as an error.
func (s *Scorer) Signals(ctx context.Context, content string, sctx models.StepContext) (Signals, error) {
	sig := Signals{Structural: StructuralScore(content)}

	coherence := func(ctx context.Context) error {
		c, err := s.coherence.CheckCoherence(ctx, content)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Msg("coherence check degraded")
			c = math.NaN()
		}
		sig.Coherence = c
		return nil
	}
	relevance := func(ctx context.Context) error {
		r, err := ContextRelevance(ctx, s.embedder, content, sctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Msg("context relevance degraded")
		}
		sig.Relevance = r
		return nil
	}

	if s.parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return coherence(gctx) })
		g.Go(func() error { return relevance(gctx) })
		if err := g.Wait(); err != nil {
			return Signals{}, err
		}
	} else {
		if err := coherence(ctx); err != nil {
			return Signals{}, err
		}
		if err := relevance(ctx); err != nil {
			return Signals{}, err
		}
	}

	sig.Quality = QualityScore(sig.Structural, sig.Coherence)
	if math.IsNaN(sig.Coherence) {
		sig.Coherence = NeutralCoherence
	}
	return sig, nil
}

// Resource returns the resource efficiency given the chain's history.
func (s *Scorer) Resource(history []models.StepRecord) float64 {
	return ResourceEfficiency(s.sampler.HeapBytes(), AverageProcessingMs(history))
}

// HeapBytes exposes the sampler for step metrics.
func (s *Scorer) HeapBytes() uint64 {
	return s.sampler.HeapBytes()
}

// Score computes the full breakdown for one step. The confidence is always
// within [floor, max] for the content type and never NaN.
func (s *Scorer) Score(ctx context.Context, in Input) (Breakdown, error) {
	sig, err := s.Signals(ctx, in.Content, in.Context)
	if err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{
		ContentType: s.ContentType(in.Content),
		Signals:     sig,
		Creativity:  CreativityScore(in.Content, s.creativity...),
		Revision:    RevisionDefault,
		History:     HistoricalPerformance(in.History),
		Resource:    s.Resource(in.History),
		SuccessRate: SuccessRate(in.History),
	}
	if in.IsRevision {
		b.Revision = RevisionImpact(in.Original, in.Content)
	}

	profile := ProfileFor(b.ContentType)
	b.Floor = profile.Floor(b.SuccessRate)
	b.Max = profile.Max
	b.Raw = profile.Weights.Combine(b)

	if math.IsNaN(b.Raw) || math.IsInf(b.Raw, 0) {
		b.Confidence = b.Floor
	} else {
		b.Confidence = clamp(b.Raw, b.Floor, b.Max)
	}
	return b, nil
}
