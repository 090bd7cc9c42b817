package thought

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/scoring"
)

var testConfig = Config{
	MaxDepth:            20,
	EnableBranching:     true,
	EnableSummarization: true,
	DynamicAdaptation:   true,
	Policy:              scoring.Policy{Threshold: 0.5, MinGrowth: 0.05, MinRevision: 0.65},
}

func newTestMachine(cfg Config) *Machine {
	return New(scoring.New(scoring.WithSampler(scoring.StaticSampler(8<<20))), cfg)
}

func thought(seq, total int) models.StepRecord {
	return models.StepRecord{
		Content:        fmt.Sprintf("Step %d: analyze the retry path and identify where the timeout budget is spent.", seq),
		SequenceNumber: seq,
		TotalEstimated: total,
		NextStepNeeded: models.BoolPtr(seq < total),
	}
}

func TestSubmit_RevisionWithoutDraftReference(t *testing.T) {
	m := newTestMachine(testConfig)
	ctx := context.Background()

	if _, err := m.Submit(ctx, "s1", thought(1, 3)); err != nil {
		t.Fatalf("Submit(1) error = %v", err)
	}
	rev := thought(2, 3)
	rev.IsRevision = true
	rev.RevisesSequenceNumber = models.IntPtr(1)

	res, err := m.Submit(ctx, "s1", rev)
	if err != nil {
		t.Fatalf("Submit(revision) error = %v", err)
	}
	if res.Record.Category.Type != models.CategoryRevision {
		t.Errorf("Category = %v, want revision", res.Record.Category.Type)
	}
	if res.Record.Confidence < 0.65 {
		t.Errorf("Confidence = %v, want >= 0.65", res.Record.Confidence)
	}
	if got := res.Record.Metrics.DependencyChain; len(got) != 1 || got[0] != "revises 1" {
		t.Errorf("DependencyChain = %v, want [revises 1]", got)
	}
}

func TestSubmit_RevisionOfUnknownThought(t *testing.T) {
	m := newTestMachine(testConfig)
	ctx := context.Background()
	_, _ = m.Submit(ctx, "s1", thought(1, 4))

	rev := thought(3, 4)
	rev.IsRevision = true
	rev.RevisesSequenceNumber = models.IntPtr(2)

	_, err := m.Submit(ctx, "s1", rev)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Submit() error = %v, want ErrNotFound", err)
	}
	if got := m.State("s1").Phase; got != models.PhaseError {
		t.Errorf("Phase = %v, want error", got)
	}
	if got := len(m.History("s1")); got != 1 {
		t.Errorf("len(History) = %d, want 1", got)
	}
}

func TestSubmit_GrowthAcrossChain(t *testing.T) {
	m := newTestMachine(testConfig)
	ctx := context.Background()

	var prev float64
	for seq := 1; seq <= 5; seq++ {
		res, err := m.Submit(ctx, "s1", thought(seq, 5))
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", seq, err)
		}
		c := res.Record.Confidence
		if seq > 1 && c+1e-9 < min(prev+0.05, 1) {
			t.Errorf("thought %d confidence %v, want >= %v", seq, c, prev+0.05)
		}
		prev = c
	}
}

func TestSubmit_Branching(t *testing.T) {
	m := newTestMachine(testConfig)
	ctx := context.Background()
	_, _ = m.Submit(ctx, "s1", thought(1, 3))
	_, _ = m.Submit(ctx, "s1", thought(2, 3))

	b1 := thought(1, 2)
	b1.BranchFrom = models.IntPtr(2)
	b1.BranchID = "alt"
	res, err := m.Submit(ctx, "s1", b1)
	if err != nil {
		t.Fatalf("Submit(branch 1) error = %v", err)
	}
	if got := res.Branches; len(got) != 1 || got[0] != "alt" {
		t.Errorf("Branches = %v, want [alt]", got)
	}
	wantChain := []string{"branch from 2", "branch alt history length 1"}
	if got := res.Record.Metrics.DependencyChain; fmt.Sprint(got) != fmt.Sprint(wantChain) {
		t.Errorf("DependencyChain = %v, want %v", got, wantChain)
	}

	b2 := thought(2, 2)
	b2.BranchFrom = models.IntPtr(2)
	b2.BranchID = "alt"
	res, err = m.Submit(ctx, "s1", b2)
	if err != nil {
		t.Fatalf("Submit(branch 2) error = %v", err)
	}
	if res.HistoryLength != 4 {
		t.Errorf("HistoryLength = %d, want 4", res.HistoryLength)
	}
	if res.State.Phase != models.PhaseCompletion {
		t.Errorf("Phase = %v, want completion", res.State.Phase)
	}
}

func TestSubmit_BranchRules(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		mutate  func(*models.StepRecord)
		wantErr error
	}{
		{
			name: "branching disabled",
			cfg:  Config{MaxDepth: 20, Policy: testConfig.Policy},
			mutate: func(r *models.StepRecord) {
				r.BranchFrom = models.IntPtr(1)
				r.BranchID = "alt"
			},
			wantErr: models.ErrInvariant,
		},
		{
			name:    "branch id without branch point",
			cfg:     testConfig,
			mutate:  func(r *models.StepRecord) { r.BranchID = "alt" },
			wantErr: models.ErrInvalidInput,
		},
		{
			name:    "branch point without id",
			cfg:     testConfig,
			mutate:  func(r *models.StepRecord) { r.BranchFrom = models.IntPtr(1) },
			wantErr: models.ErrInvalidInput,
		},
		{
			name: "branch from unknown thought",
			cfg:  testConfig,
			mutate: func(r *models.StepRecord) {
				r.BranchFrom = models.IntPtr(9)
				r.BranchID = "alt"
			},
			wantErr: models.ErrNotFound,
		},
		{
			name: "new branch not starting at one",
			cfg:  testConfig,
			mutate: func(r *models.StepRecord) {
				r.SequenceNumber = 2
				r.BranchFrom = models.IntPtr(1)
				r.BranchID = "alt"
			},
			wantErr: models.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(tt.cfg)
			ctx := context.Background()
			if _, err := m.Submit(ctx, "s1", thought(1, 5)); err != nil {
				t.Fatalf("seed Submit() error = %v", err)
			}
			rec := thought(1, 5)
			tt.mutate(&rec)

			_, err := m.Submit(ctx, "s1", rec)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
			}
			var perr *models.ProcessingError
			if !errors.As(err, &perr) {
				t.Errorf("error %T is not a ProcessingError", err)
			}
		})
	}
}

func TestSubmit_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.StepRecord)
	}{
		{"missing thought", func(r *models.StepRecord) { r.Content = "" }},
		{"beyond max depth", func(r *models.StepRecord) { r.SequenceNumber = 21 }},
		{"revision without target", func(r *models.StepRecord) { r.IsRevision = true }},
		{"draft category", func(r *models.StepRecord) { r.Category.Type = models.CategoryCritique }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(testConfig)
			rec := thought(1, 3)
			tt.mutate(&rec)
			if _, err := m.Submit(context.Background(), "s1", rec); !errors.Is(err, models.ErrInvalidInput) {
				t.Errorf("Submit() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestSubmit_SessionIsolation(t *testing.T) {
	m := newTestMachine(testConfig)
	ctx := context.Background()

	_, _ = m.Submit(ctx, "a", thought(1, 3))
	_, _ = m.Submit(ctx, "a", thought(2, 3))

	// Session b has never seen thought 1, so a revision of it must fail.
	rev := thought(2, 3)
	rev.IsRevision = true
	rev.RevisesSequenceNumber = models.IntPtr(1)
	if _, err := m.Submit(ctx, "b", rev); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Submit() in fresh session error = %v, want ErrNotFound", err)
	}
	if got := len(m.History("a")); got != 2 {
		t.Errorf("len(History(a)) = %d, want 2", got)
	}
	if got := len(m.History("b")); got != 0 {
		t.Errorf("len(History(b)) = %d, want 0", got)
	}

	m.CloseSession("a")
	if got := len(m.History("a")); got != 0 {
		t.Errorf("len(History(a)) after close = %d, want 0", got)
	}
}

func TestSubmit_ConcurrentSessions(t *testing.T) {
	m := newTestMachine(testConfig)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			for seq := 1; seq <= 3; seq++ {
				if _, err := m.Submit(ctx, id, thought(seq, 3)); err != nil {
					t.Errorf("Submit(%s, %d) error = %v", id, seq, err)
				}
			}
		}(i)
	}
	wg.Wait()

	if got := m.Sessions(); got != 10 {
		t.Errorf("Sessions() = %d, want 10", got)
	}
	for i := 0; i < 10; i++ {
		if got := len(m.History(fmt.Sprintf("s%d", i))); got != 3 {
			t.Errorf("s%d history = %d, want 3", i, got)
		}
	}
}

func TestSubmit_SummaryOnTerminalStep(t *testing.T) {
	m := newTestMachine(testConfig)
	ctx := context.Background()

	var res *Result
	var err error
	for seq := 1; seq <= 3; seq++ {
		res, err = m.Submit(ctx, "s1", thought(seq, 3))
		if err != nil {
			t.Fatalf("Submit(%d) error = %v", seq, err)
		}
		if seq < 3 && res.Summary != nil {
			t.Errorf("Summary present before terminal step %d", seq)
		}
	}
	if res.Summary == nil {
		t.Fatal("Summary missing on terminal step")
	}
	if res.Summary.TotalThoughts != 3 {
		t.Errorf("TotalThoughts = %d, want 3", res.Summary.TotalThoughts)
	}
	if res.Summary.EstimatedTokens <= 0 {
		t.Errorf("EstimatedTokens = %d, want > 0", res.Summary.EstimatedTokens)
	}
}

func TestSubmit_EarlyStopCompletes(t *testing.T) {
	m := newTestMachine(testConfig)
	rec := thought(1, 5)
	rec.NextStepNeeded = models.BoolPtr(false)

	res, err := m.Submit(context.Background(), "s1", rec)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.State.Phase != models.PhaseCompletion {
		t.Errorf("Phase = %v, want completion", res.State.Phase)
	}
	if res.Summary == nil {
		t.Error("Summary missing after nextStepNeeded=false")
	}
}

func TestSubmit_NoSummaryWhenDisabled(t *testing.T) {
	cfg := testConfig
	cfg.EnableSummarization = false
	m := newTestMachine(cfg)

	res, err := m.Submit(context.Background(), "s1", thought(1, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Summary != nil {
		t.Error("Summary present while summarization disabled")
	}
}

func TestSubmit_ResubmitReplacesPosition(t *testing.T) {
	m := newTestMachine(testConfig)
	ctx := context.Background()
	_, _ = m.Submit(ctx, "s1", thought(1, 3))
	_, _ = m.Submit(ctx, "s1", thought(2, 3))

	again := thought(2, 3)
	again.Content += " The second pass also checks the jitter applied between retries."
	res, err := m.Submit(ctx, "s1", again)
	if err != nil {
		t.Fatalf("Submit(resubmit) error = %v", err)
	}
	if res.HistoryLength != 2 {
		t.Errorf("HistoryLength = %d, want 2", res.HistoryLength)
	}
	history := m.History("s1")
	if len(history) != 2 || history[1].Content != again.Content {
		t.Errorf("History() = %+v, want thought 2 replaced", history)
	}
}

func TestSubmit_ResubmitInBranchReplacesPosition(t *testing.T) {
	m := newTestMachine(testConfig)
	ctx := context.Background()
	_, _ = m.Submit(ctx, "s1", thought(1, 3))

	b1 := thought(1, 2)
	b1.BranchFrom = models.IntPtr(1)
	b1.BranchID = "alt"
	for i := 0; i < 2; i++ {
		res, err := m.Submit(ctx, "s1", b1)
		if err != nil {
			t.Fatalf("Submit(branch) #%d error = %v", i, err)
		}
		if res.HistoryLength != 2 {
			t.Errorf("#%d HistoryLength = %d, want 2", i, res.HistoryLength)
		}
		want := "branch alt history length 1"
		if got := res.Record.Metrics.DependencyChain; got[len(got)-1] != want {
			t.Errorf("#%d DependencyChain = %v, want last %q", i, got, want)
		}
	}
}

func TestSubmit_ContextWindow(t *testing.T) {
	cfg := testConfig
	cfg.ContextWindow = 30
	m := newTestMachine(cfg)

	rec := thought(1, 2)
	rec.Context.Constraints = []string{"every retry must finish inside the two second request budget"}
	_, err := m.Submit(context.Background(), "s1", rec)
	var verr *models.ValidationError
	if !errors.As(err, &verr) || verr.Field != "thought" {
		t.Fatalf("Submit() error = %v, want thought ValidationError", err)
	}

	if _, err := m.Submit(context.Background(), "s1", thought(1, 2)); err != nil {
		t.Errorf("Submit() within window error = %v", err)
	}
}

func TestSubmit_RejectionIsAdapted(t *testing.T) {
	m := newTestMachine(testConfig)
	rec := thought(1, 2)
	rec.Content = ""

	if _, err := m.Submit(context.Background(), "s1", rec); err == nil {
		t.Fatal("Submit() error = nil, want rejection")
	}
	if got := m.State("s1").AdaptationHistory; len(got) != 1 {
		t.Errorf("len(AdaptationHistory) = %d, want 1", len(got))
	}
}
