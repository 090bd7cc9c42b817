package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/refinery/internal/config"
	"github.com/nvandessel/refinery/internal/integrator"
	"github.com/nvandessel/refinery/internal/models"
)

// Tool names.
const (
	ToolDraft      = "refinery_draft"
	ToolThought    = "refinery_thought"
	ToolIntegrated = "refinery_integrated"
	ToolHistory    = "refinery_history"
)

// ContextInput is the optional problem context of a step.
type ContextInput struct {
	ProblemScope string   `json:"problemScope,omitempty" jsonschema:"What problem the step addresses"`
	Assumptions  []string `json:"assumptions,omitempty" jsonschema:"Assumptions the step relies on"`
	Constraints  []string `json:"constraints,omitempty" jsonschema:"Constraints the step must respect"`
}

func (c *ContextInput) model() models.StepContext {
	if c == nil {
		return models.StepContext{}
	}
	return models.StepContext{
		ProblemScope: c.ProblemScope,
		Assumptions:  c.Assumptions,
		Constraints:  c.Constraints,
	}
}

// DraftStep holds the fields of one draft.
type DraftStep struct {
	Content        string        `json:"content" jsonschema:"Draft text, at least 50 characters"`
	DraftNumber    int           `json:"draftNumber" jsonschema:"1-based position of this draft"`
	TotalDrafts    int           `json:"totalDrafts" jsonschema:"Current estimate of the number of drafts"`
	NextStepNeeded *bool         `json:"nextStepNeeded,omitempty" jsonschema:"False when no further draft is planned"`
	IsRevision     bool          `json:"isRevision,omitempty" jsonschema:"Whether this draft revises an earlier one"`
	RevisesDraft   *int          `json:"revisesDraft,omitempty" jsonschema:"Draft number being revised; required with isRevision"`
	NeedsRevision  bool          `json:"needsRevision,omitempty" jsonschema:"Whether the author expects this draft to need revision"`
	Category       string        `json:"category,omitempty" jsonschema:"One of initial, critique, revision, final"`
	Context        *ContextInput `json:"context,omitempty" jsonschema:"Problem context used for relevance scoring"`
}

func (d DraftStep) record() models.StepRecord {
	return models.StepRecord{
		Content:               d.Content,
		SequenceNumber:        d.DraftNumber,
		TotalEstimated:        d.TotalDrafts,
		NextStepNeeded:        d.NextStepNeeded,
		IsRevision:            d.IsRevision,
		RevisesSequenceNumber: d.RevisesDraft,
		NeedsRevision:         d.NeedsRevision,
		Category:              models.Category{Type: models.CategoryType(d.Category)},
		Context:               d.Context.model(),
	}
}

// ThoughtStep holds the fields of one thought.
type ThoughtStep struct {
	Thought           string        `json:"thought" jsonschema:"Thought text, at least 50 characters"`
	ThoughtNumber     int           `json:"thoughtNumber" jsonschema:"1-based position within the chain or branch"`
	TotalThoughts     int           `json:"totalThoughts" jsonschema:"Current estimate of the number of thoughts"`
	NextThoughtNeeded *bool         `json:"nextThoughtNeeded,omitempty" jsonschema:"False when the chain is finished"`
	IsRevision        bool          `json:"isRevision,omitempty" jsonschema:"Whether this thought revises an earlier one"`
	RevisesThought    *int          `json:"revisesThought,omitempty" jsonschema:"Thought number being revised; required with isRevision"`
	BranchFromThought *int          `json:"branchFromThought,omitempty" jsonschema:"Thought the branch forks from; requires branchId"`
	BranchID          string        `json:"branchId,omitempty" jsonschema:"Branch name; requires branchFromThought"`
	NeedsRevision     bool          `json:"needsRevision,omitempty" jsonschema:"Whether the author expects this thought to need revision"`
	Category          string        `json:"category,omitempty" jsonschema:"One of analysis, hypothesis, verification, revision, solution"`
	Context           *ContextInput `json:"context,omitempty" jsonschema:"Problem context used for relevance scoring"`
}

func (t ThoughtStep) record() models.StepRecord {
	return models.StepRecord{
		Content:               t.Thought,
		SequenceNumber:        t.ThoughtNumber,
		TotalEstimated:        t.TotalThoughts,
		NextStepNeeded:        t.NextThoughtNeeded,
		IsRevision:            t.IsRevision,
		RevisesSequenceNumber: t.RevisesThought,
		BranchFrom:            t.BranchFromThought,
		BranchID:              t.BranchID,
		NeedsRevision:         t.NeedsRevision,
		Category:              models.Category{Type: models.CategoryType(t.Category)},
		Context:               t.Context.model(),
	}
}

// DraftInput is the input of refinery_draft.
type DraftInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"Session key; defaults to the server session"`
	Verbosity string `json:"verbosity,omitempty" jsonschema:"minimal, standard or verbose"`
	DraftStep
}

// ThoughtInput is the input of refinery_thought.
type ThoughtInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"Session key; defaults to the server session"`
	Verbosity string `json:"verbosity,omitempty" jsonschema:"minimal, standard or verbose"`
	ThoughtStep
}

// IntegratedInput is the input of refinery_integrated.
type IntegratedInput struct {
	SessionID string      `json:"sessionId,omitempty" jsonschema:"Session key; defaults to the server session"`
	Verbosity string      `json:"verbosity,omitempty" jsonschema:"minimal, standard or verbose"`
	Category  string      `json:"category,omitempty" jsonschema:"Category claimed for the turn; final is downgraded before the last draft"`
	Thought   ThoughtStep `json:"thought" jsonschema:"The thought of this turn"`
	Draft     DraftStep   `json:"draft" jsonschema:"The draft of this turn"`
}

// HistoryInput is the input of refinery_history.
type HistoryInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"Session key; defaults to the server session"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of drafts to return, newest first; 0 returns all"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolDraft,
		Description: "Submit one draft of an iterative refinement. Returns the scored draft with its confidence and category. Revisions must reference an earlier draft of the same session.",
	}, s.handleDraft)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolThought,
		Description: "Submit one step of a sequential thought chain. Supports revisions and named branches. The terminal thought returns a chain summary.",
	}, s.handleThought)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolIntegrated,
		Description: "Submit a thought and a draft for the same turn. Returns one fused confidence and category for the turn.",
	}, s.handleIntegrated)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolHistory,
		Description: "List the persisted drafts and in-memory thoughts of a session.",
	}, s.handleHistory)
}

func (s *Server) handleDraft(ctx context.Context, _ *mcp.CallToolRequest, in DraftInput) (*mcp.CallToolResult, any, error) {
	v, err := s.resolveVerbosity(in.Verbosity)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := s.svc.Drafts.Submit(ctx, s.session(in.SessionID), in.record())
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(Project(draftResponse(res), v)), nil, nil
}

func (s *Server) handleThought(ctx context.Context, _ *mcp.CallToolRequest, in ThoughtInput) (*mcp.CallToolResult, any, error) {
	v, err := s.resolveVerbosity(in.Verbosity)
	if err != nil {
		return errorResult(err), nil, nil
	}
	res, err := s.svc.Thoughts.Submit(ctx, s.session(in.SessionID), in.record())
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(Project(thoughtResponse(res), v)), nil, nil
}

func (s *Server) handleIntegrated(ctx context.Context, _ *mcp.CallToolRequest, in IntegratedInput) (*mcp.CallToolResult, any, error) {
	v, err := s.resolveVerbosity(in.Verbosity)
	if err != nil {
		return errorResult(err), nil, nil
	}
	claim := models.CategoryType(in.Category)
	if claim != "" && !claim.IsDraft() && !claim.IsThought() {
		return errorResult(models.Invalid("category", "unknown category %q", in.Category)), nil, nil
	}
	res, err := s.svc.Integrator.Submit(ctx, s.session(in.SessionID), integrator.Turn{
		Thought:  in.Thought.record(),
		Draft:    in.Draft.record(),
		Category: claim,
	})
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(Project(turnResponse(res), v)), nil, nil
}

func (s *Server) handleHistory(ctx context.Context, _ *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, any, error) {
	sessionID := s.session(in.SessionID)
	drafts, err := s.svc.Drafts.History(ctx, sessionID, in.Limit)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]any{
		"sessionId": sessionID,
		"drafts":    drafts,
		"thoughts":  s.svc.Thoughts.History(sessionID),
		"branches":  s.svc.Thoughts.Branches(sessionID),
		"status":    StatusSuccess,
	}), nil, nil
}

func (s *Server) session(id string) string {
	if id == "" {
		return s.sessionID
	}
	return id
}

func (s *Server) resolveVerbosity(raw string) (config.Verbosity, error) {
	if raw == "" {
		return s.verbosity, nil
	}
	v := config.Verbosity(raw)
	if !v.Valid() {
		return "", models.Invalid("verbosity", "must be minimal, standard or verbose, got %q", raw)
	}
	return v, nil
}

func jsonResult(payload any) *mcp.CallToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// errorResult reports err to the caller as {"error": ..., "status": "failed"}.
func errorResult(err error) *mcp.CallToolResult {
	data, _ := json.Marshal(map[string]string{
		"error":  err.Error(),
		"status": StatusFailed,
	})
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
