// Package thought implements the sequential thought chain: analysis,
// hypothesis, verification, revision and solution steps with optional
// named branches. Chains live in memory and are partitioned by session.
package thought

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nvandessel/refinery/internal/metrics"
	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/sanitize"
	"github.com/nvandessel/refinery/internal/scoring"
	"github.com/nvandessel/refinery/internal/tokens"
)

// AdaptationNote is the description recorded for every adaptation entry.
const AdaptationNote = "dynamic adaptation: thought chain floors re-evaluated"

// Config holds the thought machine settings.
type Config struct {
	MaxDepth            int
	EnableBranching     bool
	EnableSummarization bool
	DynamicAdaptation   bool
	Policy              scoring.Policy

	// ContextWindow bounds the estimated tokens of a thought plus its
	// context. Zero disables the check.
	ContextWindow int
}

// Result is the outcome of one accepted thought.
type Result struct {
	SessionID     string                 `json:"sessionId"`
	Record        models.StepRecord      `json:"record"`
	Breakdown     scoring.Breakdown      `json:"breakdown"`
	State         models.ProcessingState `json:"state"`
	Branches      []string               `json:"branches,omitempty"`
	HistoryLength int                    `json:"historyLength"`
	Summary       *Summary               `json:"summary,omitempty"`
}

// chain is the in-memory state of one session.
type chain struct {
	mu       sync.Mutex
	history  []models.StepRecord
	branches map[string][]models.StepRecord
	state    models.ProcessingState
}

func newChain() *chain {
	return &chain{
		branches: make(map[string][]models.StepRecord),
		state:    models.NewProcessingState(),
	}
}

// Machine holds one chain per session.
type Machine struct {
	scorer      *scoring.Scorer
	categorizer scoring.Classifier
	cfg         Config
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu     sync.Mutex
	chains map[string]*chain
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithMetrics records step outcomes on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithCategorizer replaces the keyword categorizer.
func WithCategorizer(c scoring.Classifier) Option {
	return func(m *Machine) { m.categorizer = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a thought machine.
func New(scorer *scoring.Scorer, cfg Config, opts ...Option) *Machine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 20
	}
	m := &Machine{
		scorer:      scorer,
		categorizer: KeywordCategorizer{},
		cfg:         cfg,
		logger:      zerolog.Nop(),
		now:         time.Now,
		chains:      make(map[string]*chain),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) chain(sessionID string) *chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[sessionID]
	if !ok {
		c = newChain()
		m.chains[sessionID] = c
		m.metrics.SetActiveChains(len(m.chains))
	}
	return c
}

// CloseSession evicts a session's chain.
func (m *Machine) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chains, sessionID)
	m.metrics.SetActiveChains(len(m.chains))
}

// Sessions returns the number of chains in memory.
func (m *Machine) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chains)
}

// State returns a copy of the session's processing state.
func (m *Machine) State(sessionID string) models.ProcessingState {
	c := m.chain(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// History returns a copy of the session's thoughts in submission order.
func (m *Machine) History(sessionID string) []models.StepRecord {
	c := m.chain(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.StepRecord(nil), c.history...)
}

// Branches returns the session's branch ids, sorted.
func (m *Machine) Branches(sessionID string) []string {
	c := m.chain(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.branchIDs()
}

func (c *chain) branchIDs() []string {
	if len(c.branches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(c.branches))
	for id := range c.branches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Submit validates, scores and records one thought.
func (m *Machine) Submit(ctx context.Context, sessionID string, rec models.StepRecord) (*Result, error) {
	start := m.now()
	if !sanitize.ValidIdentifier(sessionID) {
		err := models.Invalid("sessionId", "must be a valid identifier")
		m.metrics.RecordFailure(metrics.MachineThought, string(models.PhaseError))
		return nil, &models.ProcessingError{Op: "submit thought", Phase: models.PhaseError, State: models.NewProcessingState(), Err: err}
	}

	c := m.chain(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := m.submit(ctx, sessionID, c, rec, start)
	if err != nil {
		c.state.Phase = models.PhaseError
		c.state.LastError = err.Error()
		m.adapt(c)
		m.metrics.RecordFailure(metrics.MachineThought, string(models.PhaseError))
		m.logger.Warn().Err(err).Str("session", sessionID).Int("thought", rec.SequenceNumber).Msg("thought rejected")
		return nil, &models.ProcessingError{Op: "submit thought", Phase: models.PhaseError, State: c.state.Clone(), Err: err}
	}

	m.metrics.ObserveStep(metrics.MachineThought, res.Record.Confidence, m.now().Sub(start))
	m.logger.Debug().
		Str("session", sessionID).
		Int("thought", res.Record.SequenceNumber).
		Str("branch", res.Record.BranchID).
		Float64("confidence", res.Record.Confidence).
		Msg("thought accepted")
	return res, nil
}

// submit must be called with c.mu held.
func (m *Machine) submit(ctx context.Context, sessionID string, c *chain, rec models.StepRecord, start time.Time) (*Result, error) {
	rec = sanitize.SanitizeRecord(rec)
	if err := m.validateShape(&rec); err != nil {
		return nil, err
	}

	lineage, err := c.lineage(rec)
	if err != nil {
		return nil, err
	}

	var prev, original, next *models.StepRecord
	var history []models.StepRecord
	for i := range lineage {
		r := lineage[i]
		if r.SequenceNumber == rec.SequenceNumber+1 {
			next = &lineage[i]
		}
		if r.SequenceNumber >= rec.SequenceNumber {
			continue
		}
		history = append(history, r)
		if r.SequenceNumber == rec.SequenceNumber-1 {
			prev = &lineage[i]
		}
		if rec.IsRevision && r.SequenceNumber == rec.Revises() {
			original = &lineage[i]
		}
	}
	if rec.IsRevision && original == nil {
		return nil, fmt.Errorf("revised thought %d: %w", rec.Revises(), models.ErrNotFound)
	}

	breakdown, err := m.scorer.Score(ctx, scoring.Input{
		Content:    rec.Content,
		Context:    rec.Context,
		IsRevision: rec.IsRevision,
		Original:   original,
		History:    history,
	})
	if err != nil {
		return nil, fmt.Errorf("score thought: %w", err)
	}

	rec.Confidence = m.cfg.Policy.ApplyFloors(breakdown.Confidence, rec.IsRevision, original, prev)
	floor := m.cfg.Policy.ApplyFloors(0, rec.IsRevision, original, prev)
	rec.Confidence, err = m.cfg.Policy.CapForSuccessor(rec.Confidence, floor, next)
	if err != nil {
		return nil, fmt.Errorf("resubmit thought %d: %w", rec.SequenceNumber, err)
	}
	rec.Category = m.categorize(rec, breakdown)

	branchLen := 0
	if rec.BranchID != "" {
		branchLen = len(c.branches[rec.BranchID])
		if position(c.branches[rec.BranchID], rec) < 0 {
			branchLen++
		}
	}
	rec.Metrics = models.StepMetrics{
		ProcessingTimeMs: m.now().Sub(start).Milliseconds(),
		ResourceBytes:    m.scorer.HeapBytes(),
		DependencyChain:  dependencyChain(rec, branchLen),
	}

	if err := m.cfg.Policy.Validate(rec, prev); err != nil {
		return nil, err
	}

	c.put(rec)
	m.advance(c, rec)

	res := &Result{
		SessionID:     sessionID,
		Record:        rec,
		Breakdown:     breakdown,
		State:         c.state.Clone(),
		Branches:      c.branchIDs(),
		HistoryLength: len(c.history),
	}
	if rec.IsTerminal() && m.cfg.EnableSummarization {
		res.Summary = Summarize(c.history, res.Branches)
	}
	return res, nil
}

func (m *Machine) validateShape(rec *models.StepRecord) error {
	if n := utf8.RuneCountInString(rec.Content); n < models.MinContentLength {
		return models.Invalid("thought", "must be at least %d characters, got %d", models.MinContentLength, n)
	}
	if texts := append([]string{rec.Content}, rec.Context.Texts()...); !tokens.FitsWindow(m.cfg.ContextWindow, texts...) {
		return models.Invalid("thought", "thought and context need about %d tokens, window is %d", tokens.EstimateTotal(texts...), m.cfg.ContextWindow)
	}
	if rec.SequenceNumber < 1 || rec.SequenceNumber > m.cfg.MaxDepth {
		return models.Invalid("thoughtNumber", "must be in [1, %d], got %d", m.cfg.MaxDepth, rec.SequenceNumber)
	}
	if rec.TotalEstimated < 0 {
		return models.Invalid("totalThoughts", "must not be negative, got %d", rec.TotalEstimated)
	}
	if rec.TotalEstimated < rec.SequenceNumber {
		rec.TotalEstimated = rec.SequenceNumber
	}

	if (rec.BranchFrom == nil) != (rec.BranchID == "") {
		return models.Invalid("branchId", "branchFromThought and branchId must be supplied together")
	}
	if rec.BranchID != "" {
		if !m.cfg.EnableBranching {
			return fmt.Errorf("branch %q requested while branching is disabled: %w", rec.BranchID, models.ErrInvariant)
		}
		if !sanitize.ValidIdentifier(rec.BranchID) {
			return models.Invalid("branchId", "must be a valid identifier")
		}
		if rec.BranchPoint() < 1 {
			return models.Invalid("branchFromThought", "must be >= 1, got %d", rec.BranchPoint())
		}
	}

	if rec.IsRevision {
		if rec.RevisesSequenceNumber == nil {
			return models.Invalid("revisesThought", "required when isRevision is set")
		}
		if r := rec.Revises(); r < 1 || r >= rec.SequenceNumber {
			return models.Invalid("revisesThought", "must be in [1, %d], got %d", rec.SequenceNumber-1, r)
		}
	} else if rec.RevisesSequenceNumber != nil {
		return models.Invalid("revisesThought", "only allowed when isRevision is set")
	}
	if t := rec.Category.Type; t != "" && !t.IsThought() {
		return models.Invalid("category", "%q is not a thought category", t)
	}
	return nil
}

// lineage returns the records rec continues: its branch, or the main line.
// A new branch must start at 1 and fork from an existing thought.
func (c *chain) lineage(rec models.StepRecord) ([]models.StepRecord, error) {
	if rec.BranchID == "" {
		var main []models.StepRecord
		for _, r := range c.history {
			if r.BranchID == "" {
				main = append(main, r)
			}
		}
		return main, nil
	}

	if existing, ok := c.branches[rec.BranchID]; ok {
		return existing, nil
	}
	if rec.SequenceNumber != 1 {
		return nil, models.Invalid("thoughtNumber", "new branch %q must start at 1, got %d", rec.BranchID, rec.SequenceNumber)
	}
	for _, r := range c.history {
		if r.SequenceNumber == rec.BranchPoint() {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("branch point thought %d: %w", rec.BranchPoint(), models.ErrNotFound)
}

// put records rec. A thought resubmitted at a position its line already
// holds replaces the earlier one.
func (c *chain) put(rec models.StepRecord) {
	c.history = replaceOrAppend(c.history, rec)
	if rec.BranchID != "" {
		c.branches[rec.BranchID] = replaceOrAppend(c.branches[rec.BranchID], rec)
	}
}

func replaceOrAppend(records []models.StepRecord, rec models.StepRecord) []models.StepRecord {
	if i := position(records, rec); i >= 0 {
		records[i] = rec
		return records
	}
	return append(records, rec)
}

// position returns the index of the record holding rec's place in its line,
// or -1.
func position(records []models.StepRecord, rec models.StepRecord) int {
	for i, r := range records {
		if r.BranchID == rec.BranchID && r.SequenceNumber == rec.SequenceNumber {
			return i
		}
	}
	return -1
}

func (m *Machine) categorize(rec models.StepRecord, b scoring.Breakdown) models.Category {
	cat := rec.Category
	tag, score := m.categorizer.Classify(rec.Content)
	if cat.Type == "" {
		if rec.IsRevision {
			cat.Type = models.CategoryRevision
		} else {
			cat.Type = models.CategoryType(tag)
		}
	}
	if cat.Confidence <= 0 || cat.Confidence > 1 {
		cat.Confidence = score
	}
	meta := make(map[string]any, len(cat.Metadata)+2)
	for k, v := range cat.Metadata {
		meta[k] = v
	}
	meta["contentType"] = string(b.ContentType)
	meta["withinBand"] = cat.Type.Band().Contains(rec.Confidence)
	cat.Metadata = meta
	return cat
}

func dependencyChain(rec models.StepRecord, branchLen int) []string {
	var chain []string
	if rec.BranchID != "" {
		chain = append(chain, fmt.Sprintf("branch from %d", rec.BranchPoint()))
	}
	if rec.IsRevision {
		chain = append(chain, fmt.Sprintf("revises %d", rec.Revises()))
	}
	if branchLen > 0 {
		chain = append(chain, fmt.Sprintf("branch %s history length %d", rec.BranchID, branchLen))
	}
	return chain
}

func (m *Machine) advance(c *chain, rec models.StepRecord) {
	c.state.CompletedSteps++
	c.state.LastError = ""
	if rec.IsTerminal() {
		c.state.Phase = models.PhaseCompletion
	} else {
		c.state.Phase = models.PhaseProcessing
	}
	m.adapt(c)
}

// adapt logs one adaptation entry per submission, accepted or not.
func (m *Machine) adapt(c *chain) {
	if !m.cfg.DynamicAdaptation {
		return
	}
	c.state.AdaptationHistory = append(c.state.AdaptationHistory, models.AdaptationEntry{
		ID:          uuid.NewString(),
		Timestamp:   m.now().UTC(),
		Description: AdaptationNote,
	})
}
