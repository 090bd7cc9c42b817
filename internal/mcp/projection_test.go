package mcp

import (
	"testing"

	"github.com/nvandessel/refinery/internal/config"
	"github.com/nvandessel/refinery/internal/integrator"
	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/thought"
)

func sampleResponse() Response {
	return Response{
		Kind:      models.StepKindThought,
		SessionID: "s1",
		Record: models.StepRecord{
			SequenceNumber:        2,
			TotalEstimated:        3,
			IsRevision:            true,
			RevisesSequenceNumber: models.IntPtr(1),
			BranchID:              "alt",
			Metrics:               models.StepMetrics{ProcessingTimeMs: 4, DependencyChain: []string{"revises 1"}},
		},
		Confidence:    0.7,
		Category:      models.Category{Type: models.CategoryRevision},
		State:         models.ProcessingState{Phase: models.PhaseProcessing, CompletedSteps: 2},
		Branches:      []string{"alt"},
		HistoryLength: 2,
		Summary:       &thought.Summary{TotalThoughts: 2},
	}
}

func TestProject(t *testing.T) {
	tests := []struct {
		verbosity config.Verbosity
		present   []string
		absent    []string
	}{
		{
			verbosity: config.VerbosityMinimal,
			present:   []string{"sequenceNumber", "confidence", "category", "status"},
			absent:    []string{"totalEstimated", "phase", "branchId", "record", "breakdown"},
		},
		{
			verbosity: config.VerbosityStandard,
			present:   []string{"sequenceNumber", "totalEstimated", "isRevision", "revisesSequenceNumber", "branchId", "processingTimeMs", "phase", "historyLength"},
			absent:    []string{"record", "breakdown", "dependencyChain", "adaptationHistory", "summary"},
		},
		{
			verbosity: config.VerbosityVerbose,
			present:   []string{"phase", "record", "breakdown", "dependencyChain", "adaptationHistory", "summary", "branches"},
			absent:    []string{"components", "turnId"},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.verbosity), func(t *testing.T) {
			out := Project(sampleResponse(), tt.verbosity)
			for _, key := range tt.present {
				if _, ok := out[key]; !ok {
					t.Errorf("missing %q", key)
				}
			}
			for _, key := range tt.absent {
				if _, ok := out[key]; ok {
					t.Errorf("unexpected %q", key)
				}
			}
			if out["status"] != StatusSuccess {
				t.Errorf("status = %v, want success", out["status"])
			}
		})
	}
}

func TestProject_IntegratedFields(t *testing.T) {
	r := sampleResponse()
	r.Kind = models.StepKindIntegrated
	r.TurnID = "turn-1"
	r.Downgraded = true
	r.Components = &integrator.Components{Quality: 0.6}
	r.Thought = &models.StepRecord{SequenceNumber: 2}

	std := Project(r, config.VerbosityStandard)
	if std["turnId"] != "turn-1" || std["downgraded"] != true {
		t.Errorf("standard projection = %v, want turn fields", std)
	}
	if _, ok := std["historyLength"]; ok {
		t.Error("historyLength present on integrated result")
	}

	verbose := Project(r, config.VerbosityVerbose)
	if _, ok := verbose["components"]; !ok {
		t.Error("verbose projection missing components")
	}
	if _, ok := verbose["thought"]; !ok {
		t.Error("verbose projection missing thought")
	}
}
