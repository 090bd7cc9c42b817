// Package models defines the step records, categories, processing state and
// error taxonomy shared by the draft machine, the thought chain and the
// integrator.
package models

import "strings"

// MinContentLength is the shortest content the validation policy accepts.
const MinContentLength = 50

// StepKind names what produced a result: a draft, a thought, or an
// integrated turn combining both.
type StepKind string

const (
	StepKindDraft      StepKind = "draft"
	StepKindThought    StepKind = "thought"
	StepKindIntegrated StepKind = "integrated"
)

// StepRecord is one scored unit of work submitted by a caller. Drafts are
// persisted per session; thoughts live in the in-process chain.
type StepRecord struct {
	// Content is the caller-supplied text being scored.
	Content string `json:"content"`

	// SequenceNumber is the 1-based position within the chain (or branch).
	SequenceNumber int `json:"sequenceNumber"`

	// TotalEstimated is the caller's current estimate of the chain length.
	TotalEstimated int `json:"totalEstimated"`

	// IsRevision marks a record that supersedes an earlier one.
	IsRevision bool `json:"isRevision"`

	// RevisesSequenceNumber points at the revised record when IsRevision is set.
	RevisesSequenceNumber *int `json:"revisesSequenceNumber,omitempty"`

	// BranchFrom and BranchID are only meaningful for thoughts.
	BranchFrom *int   `json:"branchFrom,omitempty"`
	BranchID   string `json:"branchId,omitempty"`

	// NeedsRevision is the caller's "needs revision" flag, consumed by the
	// historical performance score.
	NeedsRevision bool `json:"needsRevision,omitempty"`

	// NextStepNeeded is false when the caller declares the chain finished.
	NextStepNeeded *bool `json:"nextStepNeeded,omitempty"`

	Category   Category    `json:"category"`
	Confidence float64     `json:"confidence"`
	Metrics    StepMetrics `json:"metrics"`
	Context    StepContext `json:"context"`
}

// StepMetrics holds per-step diagnostics.
type StepMetrics struct {
	ProcessingTimeMs int64    `json:"processingTimeMs"`
	ResourceBytes    uint64   `json:"resourceBytes"`
	DependencyChain  []string `json:"dependencyChain,omitempty"`
}

// StepContext carries the problem framing used for relevance scoring.
type StepContext struct {
	ProblemScope string   `json:"problemScope,omitempty"`
	Assumptions  []string `json:"assumptions,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
}

// Texts returns every non-empty context string: problem scope first, then
// constraints, then assumptions.
func (c StepContext) Texts() []string {
	var out []string
	if s := strings.TrimSpace(c.ProblemScope); s != "" {
		out = append(out, s)
	}
	for _, s := range c.Constraints {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	for _, s := range c.Assumptions {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsEmpty reports whether the context carries no usable text.
func (c StepContext) IsEmpty() bool {
	return len(c.Texts()) == 0
}

// Merge returns a context holding the union of both contexts. The problem
// scopes are joined when both are set.
func (c StepContext) Merge(other StepContext) StepContext {
	out := StepContext{ProblemScope: c.ProblemScope}
	switch {
	case out.ProblemScope == "":
		out.ProblemScope = other.ProblemScope
	case other.ProblemScope != "" && other.ProblemScope != c.ProblemScope:
		out.ProblemScope = c.ProblemScope + "\n" + other.ProblemScope
	}
	out.Assumptions = appendUnique(append([]string(nil), c.Assumptions...), other.Assumptions...)
	out.Constraints = appendUnique(append([]string(nil), c.Constraints...), other.Constraints...)
	return out
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

// IsTerminal reports whether the record closes its chain: either it sits at
// the estimated total or the caller said no further step is needed.
func (r StepRecord) IsTerminal() bool {
	if r.TotalEstimated > 0 && r.SequenceNumber >= r.TotalEstimated {
		return true
	}
	return r.NextStepNeeded != nil && !*r.NextStepNeeded
}

// Revises returns the revised sequence number, or 0 when unset.
func (r StepRecord) Revises() int {
	if r.RevisesSequenceNumber == nil {
		return 0
	}
	return *r.RevisesSequenceNumber
}

// BranchPoint returns the thought the record branches from, or 0 when unset.
func (r StepRecord) BranchPoint() int {
	if r.BranchFrom == nil {
		return 0
	}
	return *r.BranchFrom
}

// IntPtr is a small helper for the optional sequence pointers.
func IntPtr(v int) *int {
	return &v
}

// BoolPtr is a small helper for the optional flags.
func BoolPtr(v bool) *bool {
	return &v
}
