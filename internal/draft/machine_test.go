package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nvandessel/refinery/internal/metrics"
	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/scoring"
	"github.com/nvandessel/refinery/internal/store"
)

const technicalDraft = "The database query cache must invalidate stale entries before the API server reads."

var testConfig = Config{
	MaxIterations:     10,
	Policy:            scoring.Policy{Threshold: 0.5, MinGrowth: 0.05, MinRevision: 0.65},
	DynamicAdaptation: true,
}

func newTestMachine(t *testing.T, st store.SessionStore, opts ...Option) *Machine {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	scorer := scoring.New(scoring.WithSampler(scoring.StaticSampler(8 << 20)))
	return New(st, scorer, testConfig, opts...)
}

func draftRecord(seq, total int) models.StepRecord {
	return models.StepRecord{
		Content:        fmt.Sprintf("%s Draft %d tightens the eviction rules further.", technicalDraft, seq),
		SequenceNumber: seq,
		TotalEstimated: total,
		Context:        models.StepContext{ProblemScope: "cache invalidation for the API server"},
	}
}

func TestSubmit_FirstTechnicalDraft(t *testing.T) {
	m := newTestMachine(t, nil)
	rec := models.StepRecord{
		Content:        technicalDraft,
		SequenceNumber: 1,
		TotalEstimated: 3,
		Category:       models.Category{Type: models.CategoryInitial},
	}

	res, err := m.Submit(context.Background(), "s1", rec)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if c := res.Record.Confidence; c < 0.55 || c > 0.95 {
		t.Errorf("Confidence = %v, want within [0.55, 0.95]", c)
	}
	if res.Record.Category.Type != models.CategoryInitial {
		t.Errorf("Category = %v, want initial", res.Record.Category.Type)
	}
	if res.State.Phase != models.PhaseDrafting {
		t.Errorf("Phase = %v, want drafting", res.State.Phase)
	}

	stored, err := m.History(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(stored) != 1 || stored[0].Confidence != res.Record.Confidence {
		t.Errorf("History() = %+v, want the accepted draft", stored)
	}
}

func TestSubmit_RevisionFloor(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	original := draftRecord(1, 3)
	original.Confidence = 0.6
	if err := st.Upsert(ctx, "s1", original); err != nil {
		t.Fatal(err)
	}

	m := newTestMachine(t, st)
	rev := draftRecord(2, 3)
	rev.IsRevision = true
	rev.RevisesSequenceNumber = models.IntPtr(1)

	res, err := m.Submit(ctx, "s1", rev)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Record.Confidence < 0.65 {
		t.Errorf("Confidence = %v, want >= 0.65", res.Record.Confidence)
	}
	if res.Record.Category.Type != models.CategoryRevision {
		t.Errorf("Category = %v, want revision", res.Record.Category.Type)
	}
	if res.State.Phase != models.PhaseRevision {
		t.Errorf("Phase = %v, want revision", res.State.Phase)
	}
}

func TestSubmit_RevisionKeepsOriginalConfidence(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	original := draftRecord(1, 4)
	original.Confidence = 0.9
	_ = st.Upsert(ctx, "s1", original)
	filler := draftRecord(2, 4)
	filler.Confidence = 0.5
	_ = st.Upsert(ctx, "s1", filler)

	m := newTestMachine(t, st)
	rev := draftRecord(3, 4)
	rev.IsRevision = true
	rev.RevisesSequenceNumber = models.IntPtr(1)

	res, err := m.Submit(ctx, "s1", rev)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Record.Confidence < 0.9 {
		t.Errorf("Confidence = %v, want >= original 0.9", res.Record.Confidence)
	}
}

func TestSubmit_GrowthFloor(t *testing.T) {
	m := newTestMachine(t, nil)
	ctx := context.Background()

	var prev float64
	for seq := 1; seq <= 6; seq++ {
		res, err := m.Submit(ctx, "s1", draftRecord(seq, 6))
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", seq, err)
		}
		c := res.Record.Confidence
		if c < 0 || c > 1 {
			t.Fatalf("draft %d confidence %v outside [0, 1]", seq, c)
		}
		if seq > 1 && c+1e-9 < min(prev+testConfig.Policy.MinGrowth, 1) {
			t.Errorf("draft %d confidence %v, want >= %v", seq, c, prev+testConfig.Policy.MinGrowth)
		}
		prev = c
	}
	if got := m.State("s1").Phase; got != models.PhaseCompletion {
		t.Errorf("Phase = %v, want completion", got)
	}
}

func TestSubmit_PhaseTransitions(t *testing.T) {
	m := newTestMachine(t, nil)
	ctx := context.Background()

	if got := m.State("s1").Phase; got != models.PhaseInitialization {
		t.Fatalf("initial Phase = %v, want initialization", got)
	}

	steps := []struct {
		rec  models.StepRecord
		want models.Phase
	}{
		{draftRecord(1, 3), models.PhaseDrafting},
		{draftRecord(2, 3), models.PhaseCritique},
		{draftRecord(3, 3), models.PhaseCompletion},
	}
	for _, step := range steps {
		res, err := m.Submit(ctx, "s1", step.rec)
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", step.rec.SequenceNumber, err)
		}
		if res.State.Phase != step.want {
			t.Errorf("after draft %d Phase = %v, want %v", step.rec.SequenceNumber, res.State.Phase, step.want)
		}
	}

	state := m.State("s1")
	if state.CompletedSteps != 3 {
		t.Errorf("CompletedSteps = %d, want 3", state.CompletedSteps)
	}
	if len(state.AdaptationHistory) != 3 {
		t.Errorf("len(AdaptationHistory) = %d, want 3", len(state.AdaptationHistory))
	}
	if state.AdaptationHistory[0].ID == "" || state.AdaptationHistory[0].Description != AdaptationNote {
		t.Errorf("AdaptationHistory[0] = %+v", state.AdaptationHistory[0])
	}
}

func TestSubmit_FinalCategoryAtEstimate(t *testing.T) {
	m := newTestMachine(t, nil)
	ctx := context.Background()
	_, _ = m.Submit(ctx, "s1", draftRecord(1, 2))

	res, err := m.Submit(ctx, "s1", draftRecord(2, 2))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Record.Category.Type != models.CategoryFinal {
		t.Errorf("Category = %v, want final", res.Record.Category.Type)
	}
}

func TestSubmit_RevisionOfMissingDraft(t *testing.T) {
	st := store.NewMemoryStore()
	m := newTestMachine(t, st)
	ctx := context.Background()

	rev := draftRecord(3, 3)
	rev.IsRevision = true
	rev.RevisesSequenceNumber = models.IntPtr(2)

	_, err := m.Submit(ctx, "s1", rev)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Submit() error = %v, want ErrNotFound", err)
	}
	var perr *models.ProcessingError
	if !errors.As(err, &perr) || perr.Phase != models.PhaseError {
		t.Errorf("error = %#v, want ProcessingError in error phase", err)
	}
	if _, err := st.Get(ctx, "s1", 3); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("rejected draft was persisted")
	}
	if got := m.State("s1").Phase; got != models.PhaseError {
		t.Errorf("Phase = %v, want error", got)
	}

	// The next accepted step resets the error phase.
	if _, err := m.Submit(ctx, "s1", draftRecord(1, 3)); err != nil {
		t.Fatalf("Submit() after error = %v", err)
	}
	if got := m.State("s1"); got.Phase != models.PhaseDrafting || got.LastError != "" {
		t.Errorf("state after recovery = %+v", got)
	}
}

func TestSubmit_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.StepRecord)
	}{
		{"short content", func(r *models.StepRecord) { r.Content = "too short" }},
		{"zero sequence", func(r *models.StepRecord) { r.SequenceNumber = 0 }},
		{"beyond max iterations", func(r *models.StepRecord) { r.SequenceNumber = 11; r.TotalEstimated = 11 }},
		{"revision without target", func(r *models.StepRecord) { r.IsRevision = true }},
		{"revision of itself", func(r *models.StepRecord) {
			r.IsRevision = true
			r.RevisesSequenceNumber = models.IntPtr(r.SequenceNumber)
		}},
		{"target without revision", func(r *models.StepRecord) { r.RevisesSequenceNumber = models.IntPtr(1) }},
		{"branch on draft", func(r *models.StepRecord) { r.BranchID = "alt" }},
		{"thought category", func(r *models.StepRecord) { r.Category.Type = models.CategoryHypothesis }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			m := newTestMachine(t, st)
			rec := draftRecord(2, 3)
			tt.mutate(&rec)

			_, err := m.Submit(context.Background(), "s1", rec)
			if !errors.Is(err, models.ErrInvalidInput) {
				t.Fatalf("Submit() error = %v, want ErrInvalidInput", err)
			}
			if got, _ := st.Recent(context.Background(), "s1", 0); len(got) != 0 {
				t.Errorf("malformed draft persisted: %+v", got)
			}
		})
	}
}

func TestSubmit_InvalidSessionID(t *testing.T) {
	m := newTestMachine(t, nil)
	_, err := m.Submit(context.Background(), "bad id!", draftRecord(1, 1))
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("Submit() error = %v, want ErrInvalidInput", err)
	}
}

// failingStore fails every write.
type failingStore struct {
	store.SessionStore
}

func (failingStore) Upsert(context.Context, string, models.StepRecord) error {
	return fmt.Errorf("disk full: %w", models.ErrStorage)
}

func TestSubmit_StorageFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	mt := metrics.New()
	m := newTestMachine(t, failingStore{mem}, WithMetrics(mt))

	_, err := m.Submit(context.Background(), "s1", draftRecord(1, 2))
	if !errors.Is(err, models.ErrStorage) {
		t.Fatalf("Submit() error = %v, want ErrStorage", err)
	}
	if got, _ := mem.Recent(context.Background(), "s1", 0); len(got) != 0 {
		t.Errorf("partial write: %+v", got)
	}
	if state := m.State("s1"); state.CompletedSteps != 0 || state.Phase != models.PhaseError {
		t.Errorf("state after failure = %+v", state)
	}
	if got := testutil.ToFloat64(mt.StepsTotal.WithLabelValues(metrics.MachineDraft, metrics.OutcomeFailure)); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}
}

func TestSubmit_ResubmitOverwrites(t *testing.T) {
	st := store.NewMemoryStore()
	m := newTestMachine(t, st)
	ctx := context.Background()

	_, _ = m.Submit(ctx, "s1", draftRecord(1, 3))
	_, _ = m.Submit(ctx, "s1", draftRecord(2, 3))
	rev := draftRecord(3, 3)
	rev.IsRevision = true
	rev.RevisesSequenceNumber = models.IntPtr(2)
	for i := 0; i < 2; i++ {
		if _, err := m.Submit(ctx, "s1", rev); err != nil {
			t.Fatalf("Submit() #%d error = %v", i, err)
		}
	}

	rows, err := st.Rows(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("len(rows) = %d, want 3", len(rows))
	}
}

func TestSubmit_ResubmitKeepsSuccessorGrowth(t *testing.T) {
	st := store.NewMemoryStore()
	m := newTestMachine(t, st)
	ctx := context.Background()

	for seq := 1; seq <= 3; seq++ {
		if _, err := m.Submit(ctx, "s1", draftRecord(seq, 3)); err != nil {
			t.Fatalf("Submit(%d) error = %v", seq, err)
		}
	}
	richer := draftRecord(2, 3)
	richer.Content += "\nThe API server reads through the cache, so each database write bumps the key version and the query layer skips stale entries."
	richer.Context.Constraints = []string{"database writes invalidate cache keys", "API reads never block on eviction"}

	if _, err := m.Submit(ctx, "s1", richer); err != nil && !errors.Is(err, models.ErrInvariant) {
		t.Fatalf("Submit() error = %v, want nil or ErrInvariant", err)
	}

	rows, err := st.Rows(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1].Record, rows[i].Record
		if cur.Confidence+1e-9 < min(prev.Confidence+testConfig.Policy.MinGrowth, 1) {
			t.Errorf("draft %d (%.4f) < draft %d (%.4f) + growth", cur.SequenceNumber, cur.Confidence, prev.SequenceNumber, prev.Confidence)
		}
	}
}

func TestSubmit_ResubmitCappedBySuccessor(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	first := draftRecord(1, 3)
	first.Confidence = 0.55
	third := draftRecord(3, 3)
	third.Confidence = 0.67
	_ = st.Upsert(ctx, "s1", first)
	_ = st.Upsert(ctx, "s1", third)

	m := newTestMachine(t, st)
	res, err := m.Submit(ctx, "s1", draftRecord(2, 3))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if c := res.Record.Confidence; c < 0.6-1e-9 || c > 0.62+1e-9 {
		t.Errorf("Confidence = %v, want within [0.60, 0.62]", c)
	}
}

func TestSubmit_ResubmitWithoutRoomIsRejected(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	first := draftRecord(1, 3)
	first.Confidence = 0.6
	third := draftRecord(3, 3)
	third.Confidence = 0.62
	_ = st.Upsert(ctx, "s1", first)
	_ = st.Upsert(ctx, "s1", third)

	m := newTestMachine(t, st)
	_, err := m.Submit(ctx, "s1", draftRecord(2, 3))
	if !errors.Is(err, models.ErrInvariant) {
		t.Fatalf("Submit() error = %v, want ErrInvariant", err)
	}
	if _, err := st.Get(ctx, "s1", 2); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("rejected draft was persisted")
	}
}

func TestSubmit_ContextWindow(t *testing.T) {
	cfg := testConfig
	cfg.ContextWindow = 60
	m := New(store.NewMemoryStore(), scoring.New(), cfg)
	ctx := context.Background()

	if _, err := m.Submit(ctx, "s1", draftRecord(1, 2)); err != nil {
		t.Fatalf("Submit() within window error = %v", err)
	}

	big := draftRecord(2, 2)
	big.Context.Assumptions = []string{strings.Repeat("the cache is shared by every API replica ", 5)}
	_, err := m.Submit(ctx, "s1", big)
	var verr *models.ValidationError
	if !errors.As(err, &verr) || verr.Field != "content" {
		t.Fatalf("Submit() error = %v, want content ValidationError", err)
	}
}

func TestSubmit_RejectionIsAdapted(t *testing.T) {
	m := newTestMachine(t, nil)
	rec := draftRecord(1, 2)
	rec.Content = "too short"

	if _, err := m.Submit(context.Background(), "s1", rec); err == nil {
		t.Fatal("Submit() error = nil, want rejection")
	}
	if got := m.State("s1").AdaptationHistory; len(got) != 1 {
		t.Errorf("len(AdaptationHistory) = %d, want 1", len(got))
	}
}

func TestSubmit_SessionsAreIndependent(t *testing.T) {
	m := newTestMachine(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i)
			for seq := 1; seq <= 3; seq++ {
				if _, err := m.Submit(ctx, id, draftRecord(seq, 3)); err != nil {
					t.Errorf("Submit(%s, %d) error = %v", id, seq, err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		if got := m.State(fmt.Sprintf("session-%d", i)); got.CompletedSteps != 3 {
			t.Errorf("session-%d CompletedSteps = %d, want 3", i, got.CompletedSteps)
		}
	}
}

func TestNew_NoAdaptation(t *testing.T) {
	cfg := testConfig
	cfg.DynamicAdaptation = false
	m := New(store.NewMemoryStore(), scoring.New(), cfg)

	if _, err := m.Submit(context.Background(), "s1", draftRecord(1, 2)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := m.State("s1").AdaptationHistory; len(got) != 0 {
		t.Errorf("AdaptationHistory = %v, want none", got)
	}
}
