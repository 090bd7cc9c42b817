// Package integrator fuses one thought step and one draft step into a
// single confidence and category per logical turn.
package integrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nvandessel/refinery/internal/draft"
	"github.com/nvandessel/refinery/internal/metrics"
	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/sanitize"
	"github.com/nvandessel/refinery/internal/scoring"
	"github.com/nvandessel/refinery/internal/thought"
)

// Component weights of the integrated confidence.
const (
	WeightQuality     = 0.35
	WeightSuccessRate = 0.25
	WeightRelevance   = 0.25
	WeightResource    = 0.15
)

// Bounds of the integrated confidence.
const (
	MinConfidence = 0.4
	MaxConfidence = 0.95
)

// Turn is one logical step: a thought and a draft submitted together.
type Turn struct {
	Thought models.StepRecord
	Draft   models.StepRecord

	// Category is the category the caller claims for the turn. Empty
	// means the draft's category.
	Category models.CategoryType
}

// Components are the weighted inputs of the integrated confidence.
type Components struct {
	Quality     float64 `json:"quality"`
	SuccessRate float64 `json:"successRate"`
	Relevance   float64 `json:"relevance"`
	Resource    float64 `json:"resource"`
	Raw         float64 `json:"raw"`
}

// Result is the fused outcome of one turn.
type Result struct {
	TurnID     string                 `json:"turnId"`
	SessionID  string                 `json:"sessionId"`
	Confidence float64                `json:"confidence"`
	Category   models.Category        `json:"category"`
	Downgraded bool                   `json:"downgraded,omitempty"`
	Components Components             `json:"components"`
	Thought    *thought.Result        `json:"thought"`
	Draft      *draft.Result          `json:"draft"`
	State      models.ProcessingState `json:"state"`
}

type session struct {
	mu        sync.Mutex
	attempted int
	succeeded int
	previous  *float64
	turns     []models.StepRecord
	state     models.ProcessingState
}

// Integrator drives the thought and draft machines for each turn.
type Integrator struct {
	thoughts *thought.Machine
	drafts   *draft.Machine
	scorer   *scoring.Scorer
	policy   scoring.Policy
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures an Integrator.
type Option func(*Integrator)

// WithLogger sets the integrator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(in *Integrator) { in.logger = l }
}

// WithMetrics records turn outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Integrator) { in.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(in *Integrator) { in.now = now }
}

// New creates an integrator over the two machines.
func New(thoughts *thought.Machine, drafts *draft.Machine, scorer *scoring.Scorer, policy scoring.Policy, opts ...Option) *Integrator {
	in := &Integrator{
		thoughts: thoughts,
		drafts:   drafts,
		scorer:   scorer,
		policy:   policy,
		logger:   zerolog.Nop(),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

func (in *Integrator) session(id string) *session {
	in.mu.Lock()
	defer in.mu.Unlock()
	s, ok := in.sessions[id]
	if !ok {
		s = &session{state: models.NewProcessingState()}
		in.sessions[id] = s
	}
	return s
}

// State returns a copy of the session's turn state.
func (in *Integrator) State(sessionID string) models.ProcessingState {
	s := in.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// CloseSession drops the in-memory state of a session in the integrator
// and both machines.
func (in *Integrator) CloseSession(sessionID string) {
	in.mu.Lock()
	delete(in.sessions, sessionID)
	in.mu.Unlock()
	in.thoughts.CloseSession(sessionID)
	in.drafts.CloseSession(sessionID)
}

// Submit runs the thought, then the draft, and fuses both results. Any
// failure leaves the session in the error phase and returns one
// ProcessingError; no partial result is returned.
func (in *Integrator) Submit(ctx context.Context, sessionID string, turn Turn) (*Result, error) {
	start := in.now()
	if !sanitize.ValidIdentifier(sessionID) {
		err := models.Invalid("sessionId", "must be a valid identifier")
		in.metrics.RecordFailure(metrics.MachineIntegrator, string(models.PhaseError))
		return nil, &models.ProcessingError{Op: "integrate turn", Phase: models.PhaseError, State: models.NewProcessingState(), Err: err}
	}

	s := in.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := in.submit(ctx, sessionID, s, turn)
	s.attempted++
	if err != nil {
		s.state.Phase = models.PhaseError
		s.state.LastError = err.Error()
		in.metrics.RecordFailure(metrics.MachineIntegrator, string(models.PhaseError))
		in.logger.Warn().Err(err).Str("session", sessionID).Msg("turn rejected")
		return nil, &models.ProcessingError{Op: "integrate turn", Phase: models.PhaseError, State: s.state.Clone(), Err: err}
	}
	s.succeeded++

	elapsed := in.now().Sub(start)
	s.turns = append(s.turns, models.StepRecord{
		SequenceNumber: len(s.turns) + 1,
		Confidence:     res.Confidence,
		Metrics:        models.StepMetrics{ProcessingTimeMs: elapsed.Milliseconds()},
	})
	in.metrics.ObserveStep(metrics.MachineIntegrator, res.Confidence, elapsed)
	in.logger.Debug().
		Str("session", sessionID).
		Str("turn", res.TurnID).
		Float64("confidence", res.Confidence).
		Str("category", string(res.Category.Type)).
		Bool("downgraded", res.Downgraded).
		Msg("turn integrated")
	return res, nil
}

// submit must be called with s.mu held.
func (in *Integrator) submit(ctx context.Context, sessionID string, s *session, turn Turn) (*Result, error) {
	tr, err := in.thoughts.Submit(ctx, sessionID, turn.Thought)
	if err != nil {
		return nil, fmt.Errorf("thought step: %w", cause(err))
	}
	dr, err := in.drafts.Submit(ctx, sessionID, turn.Draft)
	if err != nil {
		return nil, fmt.Errorf("draft step: %w", cause(err))
	}

	text := tr.Record.Content + "\n\n" + dr.Record.Content
	sig, err := in.scorer.Signals(ctx, text, tr.Record.Context.Merge(dr.Record.Context))
	if err != nil {
		return nil, fmt.Errorf("score turn: %w", err)
	}

	comp := Components{
		Quality:     sig.Quality,
		SuccessRate: successRate(s.attempted, s.succeeded),
		Relevance:   sig.Relevance,
		Resource:    in.scorer.Resource(s.turns),
	}
	comp.Raw = WeightQuality*comp.Quality +
		WeightSuccessRate*comp.SuccessRate +
		WeightRelevance*comp.Relevance +
		WeightResource*comp.Resource

	confidence := in.fuse(comp.Raw, s.previous, tr.Record, dr.Record)
	category, downgraded := resolveCategory(turn.Category, tr.Record, dr.Record)
	category.Confidence = confidence

	s.previous = &confidence
	s.state.CompletedSteps++
	s.state.LastError = ""
	if category.Type == models.CategoryFinal {
		s.state.Phase = models.PhaseCompletion
	} else {
		s.state.Phase = models.PhaseProcessing
	}

	return &Result{
		TurnID:     uuid.NewString(),
		SessionID:  sessionID,
		Confidence: confidence,
		Category:   category,
		Downgraded: downgraded,
		Components: comp,
		Thought:    tr,
		Draft:      dr,
		State:      s.state.Clone(),
	}, nil
}

// fuse applies the growth and revision floors to raw and clamps the result
// to [MinConfidence, MaxConfidence].
func (in *Integrator) fuse(raw float64, previous *float64, th, dr models.StepRecord) float64 {
	c := raw
	if previous != nil {
		c = max(c, in.policy.GrowthFloor(*previous))
	}
	if th.IsRevision || dr.IsRevision {
		c = max(c, in.policy.MinRevision, th.Confidence, dr.Confidence)
	}
	return min(max(c, MinConfidence), MaxConfidence)
}

// resolveCategory picks the turn's category. A final claim is kept only
// when both the thought and the draft close their chains; otherwise it is
// downgraded by draft parity: critique on even drafts, revision on odd ones.
func resolveCategory(claim models.CategoryType, th, dr models.StepRecord) (models.Category, bool) {
	cat := models.Category{Type: claim, Metadata: dr.Category.Metadata}
	if cat.Type == "" {
		cat.Type = dr.Category.Type
	}
	if cat.Type != models.CategoryFinal || (th.IsTerminal() && dr.IsTerminal()) {
		return cat, false
	}
	if dr.SequenceNumber%2 == 0 {
		cat.Type = models.CategoryCritique
	} else {
		cat.Type = models.CategoryRevision
	}
	return cat, true
}

func successRate(attempted, succeeded int) float64 {
	if attempted == 0 {
		return 1
	}
	return float64(succeeded) / float64(attempted)
}

// cause strips a machine's ProcessingError so the turn surfaces a single
// wrapped error.
func cause(err error) error {
	var perr *models.ProcessingError
	if errors.As(err, &perr) {
		return perr.Err
	}
	return err
}
