// Package draft implements the draft refinement cycle: an initial draft,
// critiques and revisions, and a final draft, each scored and persisted
// per session.
package draft

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nvandessel/refinery/internal/metrics"
	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/sanitize"
	"github.com/nvandessel/refinery/internal/scoring"
	"github.com/nvandessel/refinery/internal/store"
	"github.com/nvandessel/refinery/internal/tokens"
)

// AdaptationNote is the description recorded for every adaptation entry.
const AdaptationNote = "dynamic adaptation: confidence floors re-evaluated against session history"

// Config holds the draft machine settings.
type Config struct {
	MaxIterations int
	Policy        scoring.Policy

	// ContextWindow bounds the estimated tokens of content plus context.
	// Zero disables the check.
	ContextWindow int

	DynamicAdaptation bool
}

// Result is the outcome of one accepted draft.
type Result struct {
	SessionID string                 `json:"sessionId"`
	Record    models.StepRecord      `json:"record"`
	Breakdown scoring.Breakdown      `json:"breakdown"`
	State     models.ProcessingState `json:"state"`
}

// Machine drives the draft cycle. Submissions for one session are
// serialized; different sessions proceed independently.
type Machine struct {
	store   store.SessionStore
	scorer  *scoring.Scorer
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu    sync.Mutex
	state models.ProcessingState
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithMetrics records step outcomes on m.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a draft machine persisting to st.
func New(st store.SessionStore, scorer *scoring.Scorer, cfg Config, opts ...Option) *Machine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	m := &Machine{
		store:    st,
		scorer:   scorer,
		cfg:      cfg,
		logger:   zerolog.Nop(),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) session(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = &session{state: models.NewProcessingState()}
		m.sessions[id] = s
	}
	return s
}

// State returns a copy of the session's processing state.
func (m *Machine) State(sessionID string) models.ProcessingState {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// CloseSession drops the in-memory state of a session. Persisted drafts
// are kept.
func (m *Machine) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// History returns up to limit persisted drafts, newest first.
func (m *Machine) History(ctx context.Context, sessionID string, limit int) ([]models.StepRecord, error) {
	if !sanitize.ValidIdentifier(sessionID) {
		return nil, models.Invalid("sessionId", "must be a valid identifier")
	}
	return m.store.Recent(ctx, sessionID, limit)
}

// Submit validates, scores and persists one draft.
func (m *Machine) Submit(ctx context.Context, sessionID string, rec models.StepRecord) (*Result, error) {
	start := m.now()
	if !sanitize.ValidIdentifier(sessionID) {
		err := models.Invalid("sessionId", "must be a valid identifier")
		m.metrics.RecordFailure(metrics.MachineDraft, string(models.PhaseError))
		return nil, &models.ProcessingError{Op: "submit draft", Phase: models.PhaseError, State: models.NewProcessingState(), Err: err}
	}

	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := m.submit(ctx, sessionID, s, rec, start)
	if err != nil {
		s.state.Phase = models.PhaseError
		s.state.LastError = err.Error()
		m.adapt(s)
		m.metrics.RecordFailure(metrics.MachineDraft, string(models.PhaseError))
		m.logger.Warn().Err(err).Str("session", sessionID).Int("draft", rec.SequenceNumber).Msg("draft rejected")
		return nil, &models.ProcessingError{Op: "submit draft", Phase: models.PhaseError, State: s.state.Clone(), Err: err}
	}

	m.metrics.ObserveStep(metrics.MachineDraft, res.Record.Confidence, m.now().Sub(start))
	m.logger.Debug().
		Str("session", sessionID).
		Int("draft", res.Record.SequenceNumber).
		Float64("confidence", res.Record.Confidence).
		Str("phase", string(res.State.Phase)).
		Msg("draft accepted")
	return res, nil
}

// submit must be called with s.mu held.
func (m *Machine) submit(ctx context.Context, sessionID string, s *session, rec models.StepRecord, start time.Time) (*Result, error) {
	rec = sanitize.SanitizeRecord(rec)
	if err := m.validateShape(&rec); err != nil {
		return nil, err
	}

	persisted, err := m.store.Recent(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history, prev := priorRecords(persisted, rec.SequenceNumber)
	next := successor(persisted, rec.SequenceNumber)

	var original *models.StepRecord
	if rec.IsRevision {
		original, err = m.store.Get(ctx, sessionID, rec.Revises())
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("revised draft %d: %w", rec.Revises(), models.ErrNotFound)
			}
			return nil, fmt.Errorf("load revised draft: %w", err)
		}
	}

	breakdown, err := m.scorer.Score(ctx, scoring.Input{
		Content:    rec.Content,
		Context:    rec.Context,
		IsRevision: rec.IsRevision,
		Original:   original,
		History:    history,
	})
	if err != nil {
		return nil, fmt.Errorf("score draft: %w", err)
	}

	rec.Confidence = m.cfg.Policy.ApplyFloors(breakdown.Confidence, rec.IsRevision, original, prev)
	floor := m.cfg.Policy.ApplyFloors(0, rec.IsRevision, original, prev)
	rec.Confidence, err = m.cfg.Policy.CapForSuccessor(rec.Confidence, floor, next)
	if err != nil {
		return nil, fmt.Errorf("resubmit draft %d: %w", rec.SequenceNumber, err)
	}
	rec.Category = categorize(rec, breakdown)
	rec.Metrics = models.StepMetrics{
		ProcessingTimeMs: m.now().Sub(start).Milliseconds(),
		ResourceBytes:    m.scorer.HeapBytes(),
		DependencyChain:  dependencyChain(rec, prev),
	}

	if err := m.cfg.Policy.Validate(rec, prev); err != nil {
		return nil, err
	}
	if err := m.store.Upsert(ctx, sessionID, rec); err != nil {
		return nil, fmt.Errorf("persist draft: %w", err)
	}

	m.advance(s, rec)
	return &Result{
		SessionID: sessionID,
		Record:    rec,
		Breakdown: breakdown,
		State:     s.state.Clone(),
	}, nil
}

func (m *Machine) validateShape(rec *models.StepRecord) error {
	if n := utf8.RuneCountInString(rec.Content); n < models.MinContentLength {
		return models.Invalid("content", "must be at least %d characters, got %d", models.MinContentLength, n)
	}
	if texts := append([]string{rec.Content}, rec.Context.Texts()...); !tokens.FitsWindow(m.cfg.ContextWindow, texts...) {
		return models.Invalid("content", "content and context need about %d tokens, window is %d", tokens.EstimateTotal(texts...), m.cfg.ContextWindow)
	}
	if rec.SequenceNumber < 1 || rec.SequenceNumber > m.cfg.MaxIterations {
		return models.Invalid("sequenceNumber", "must be in [1, %d], got %d", m.cfg.MaxIterations, rec.SequenceNumber)
	}
	if rec.TotalEstimated < 0 {
		return models.Invalid("totalEstimated", "must not be negative, got %d", rec.TotalEstimated)
	}
	if rec.TotalEstimated < rec.SequenceNumber {
		rec.TotalEstimated = rec.SequenceNumber
	}
	if rec.BranchFrom != nil || rec.BranchID != "" {
		return models.Invalid("branchId", "branching applies to thoughts only")
	}
	if rec.IsRevision {
		if rec.RevisesSequenceNumber == nil {
			return models.Invalid("revisesDraft", "required when isRevision is set")
		}
		if r := rec.Revises(); r < 1 || r >= rec.SequenceNumber {
			return models.Invalid("revisesDraft", "must be in [1, %d], got %d", rec.SequenceNumber-1, r)
		}
	} else if rec.RevisesSequenceNumber != nil {
		return models.Invalid("revisesDraft", "only allowed when isRevision is set")
	}
	if t := rec.Category.Type; t != "" && !t.IsDraft() {
		return models.Invalid("category", "%q is not a draft category", t)
	}
	return nil
}

// priorRecords splits persisted records (newest first) into the records
// before seq, oldest first, and the record immediately before seq.
func priorRecords(persisted []models.StepRecord, seq int) ([]models.StepRecord, *models.StepRecord) {
	var history []models.StepRecord
	var prev *models.StepRecord
	for _, r := range persisted {
		if r.SequenceNumber >= seq {
			continue
		}
		history = append(history, r)
		if r.SequenceNumber == seq-1 {
			p := r
			prev = &p
		}
	}
	slices.Reverse(history)
	return history, prev
}

// successor returns the persisted record right after seq, if any.
func successor(persisted []models.StepRecord, seq int) *models.StepRecord {
	for _, r := range persisted {
		if r.SequenceNumber == seq+1 {
			return &r
		}
	}
	return nil
}

func categorize(rec models.StepRecord, b scoring.Breakdown) models.Category {
	cat := rec.Category
	if cat.Type == "" {
		switch {
		case rec.IsRevision:
			cat.Type = models.CategoryRevision
		case rec.SequenceNumber == 1:
			cat.Type = models.CategoryInitial
		case rec.SequenceNumber == rec.TotalEstimated:
			cat.Type = models.CategoryFinal
		default:
			cat.Type = models.CategoryCritique
		}
	}
	if cat.Confidence <= 0 || cat.Confidence > 1 {
		cat.Confidence = rec.Confidence
	}
	band := cat.Type.Band()
	meta := make(map[string]any, len(cat.Metadata)+2)
	for k, v := range cat.Metadata {
		meta[k] = v
	}
	meta["contentType"] = string(b.ContentType)
	meta["withinBand"] = band.Contains(rec.Confidence)
	cat.Metadata = meta
	return cat
}

func dependencyChain(rec models.StepRecord, prev *models.StepRecord) []string {
	var chain []string
	if prev != nil {
		chain = append(chain, fmt.Sprintf("follows draft %d", prev.SequenceNumber))
	}
	if rec.IsRevision {
		chain = append(chain, fmt.Sprintf("revises draft %d", rec.Revises()))
	}
	return chain
}

// advance moves the state machine after an accepted draft.
func (m *Machine) advance(s *session, rec models.StepRecord) {
	s.state.CompletedSteps++
	s.state.LastError = ""
	switch {
	case rec.IsTerminal():
		s.state.Phase = models.PhaseCompletion
	case rec.IsRevision:
		s.state.Phase = models.PhaseRevision
	case rec.Category.Type == models.CategoryCritique:
		s.state.Phase = models.PhaseCritique
	default:
		s.state.Phase = models.PhaseDrafting
	}
	m.adapt(s)
}

// adapt logs one adaptation entry per submission, accepted or not.
func (m *Machine) adapt(s *session) {
	if !m.cfg.DynamicAdaptation {
		return
	}
	s.state.AdaptationHistory = append(s.state.AdaptationHistory, models.AdaptationEntry{
		ID:          uuid.NewString(),
		Timestamp:   m.now().UTC(),
		Description: AdaptationNote,
	})
}
