package mcp

import (
	"github.com/nvandessel/refinery/internal/config"
	"github.com/nvandessel/refinery/internal/draft"
	"github.com/nvandessel/refinery/internal/integrator"
	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/thought"
)

// StatusSuccess and StatusFailed are the values of the status field.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Response is the canonical result of every step tool. Project decides
// which of its fields reach the caller.
type Response struct {
	Kind       models.StepKind
	SessionID  string
	Record     models.StepRecord
	Confidence float64
	Category   models.Category
	State      models.ProcessingState
	Breakdown  any

	// Thought chain only.
	Branches      []string
	HistoryLength int
	Summary       *thought.Summary

	// Integrated turns only.
	TurnID     string
	Downgraded bool
	Components *integrator.Components
	Thought    *models.StepRecord
}

func draftResponse(r *draft.Result) Response {
	return Response{
		Kind:       models.StepKindDraft,
		SessionID:  r.SessionID,
		Record:     r.Record,
		Confidence: r.Record.Confidence,
		Category:   r.Record.Category,
		State:      r.State,
		Breakdown:  r.Breakdown,
	}
}

func thoughtResponse(r *thought.Result) Response {
	return Response{
		Kind:          models.StepKindThought,
		SessionID:     r.SessionID,
		Record:        r.Record,
		Confidence:    r.Record.Confidence,
		Category:      r.Record.Category,
		State:         r.State,
		Breakdown:     r.Breakdown,
		Branches:      r.Branches,
		HistoryLength: r.HistoryLength,
		Summary:       r.Summary,
	}
}

func turnResponse(r *integrator.Result) Response {
	th := r.Thought.Record
	comp := r.Components
	return Response{
		Kind:       models.StepKindIntegrated,
		SessionID:  r.SessionID,
		Record:     r.Draft.Record,
		Confidence: r.Confidence,
		Category:   r.Category,
		State:      r.State,
		Breakdown:  r.Draft.Breakdown,
		Branches:   r.Thought.Branches,
		Summary:    r.Thought.Summary,
		TurnID:     r.TurnID,
		Downgraded: r.Downgraded,
		Components: &comp,
		Thought:    &th,
	}
}

// Project returns the fields of r that verbosity v includes.
//
//   - minimal: sequence number, confidence, category type and status.
//   - standard: adds the estimate, revision and branch fields, processing
//     time and phase.
//   - verbose: adds the full record, score breakdown, dependency chain,
//     adaptation history and summary.
func Project(r Response, v config.Verbosity) map[string]any {
	out := map[string]any{
		"sequenceNumber": r.Record.SequenceNumber,
		"confidence":     r.Confidence,
		"category":       r.Category.Type,
		"status":         StatusSuccess,
	}
	if v == config.VerbosityMinimal {
		return out
	}

	out["kind"] = string(r.Kind)
	out["sessionId"] = r.SessionID
	out["totalEstimated"] = r.Record.TotalEstimated
	out["isRevision"] = r.Record.IsRevision
	if r.Record.RevisesSequenceNumber != nil {
		out["revisesSequenceNumber"] = *r.Record.RevisesSequenceNumber
	}
	if r.Record.BranchID != "" {
		out["branchId"] = r.Record.BranchID
	}
	out["processingTimeMs"] = r.Record.Metrics.ProcessingTimeMs
	out["phase"] = r.State.Phase
	if r.TurnID != "" {
		out["turnId"] = r.TurnID
		out["downgraded"] = r.Downgraded
	}
	if r.Kind == models.StepKindThought {
		out["historyLength"] = r.HistoryLength
	}
	if v != config.VerbosityVerbose {
		return out
	}

	out["record"] = r.Record
	out["breakdown"] = r.Breakdown
	out["dependencyChain"] = r.Record.Metrics.DependencyChain
	out["adaptationHistory"] = r.State.AdaptationHistory
	out["completedSteps"] = r.State.CompletedSteps
	if r.Summary != nil {
		out["summary"] = r.Summary
	}
	if len(r.Branches) > 0 {
		out["branches"] = r.Branches
	}
	if r.Components != nil {
		out["components"] = r.Components
	}
	if r.Thought != nil {
		out["thought"] = r.Thought
	}
	return out
}
