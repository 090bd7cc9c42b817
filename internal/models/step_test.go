package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestStepContext_Texts(t *testing.T) {
	tests := []struct {
		name string
		ctx  StepContext
		want []string
	}{
		{"empty", StepContext{}, nil},
		{
			name: "scope constraints assumptions order",
			ctx: StepContext{
				ProblemScope: "cache layer",
				Assumptions:  []string{"single node"},
				Constraints:  []string{"p99 under 5ms"},
			},
			want: []string{"cache layer", "p99 under 5ms", "single node"},
		},
		{
			name: "blank strings dropped",
			ctx: StepContext{
				ProblemScope: "   ",
				Assumptions:  []string{"", "  x  "},
			},
			want: []string{"x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ctx.Texts()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Texts() = %v, want %v", got, tt.want)
			}
			if tt.ctx.IsEmpty() != (len(tt.want) == 0) {
				t.Errorf("IsEmpty() = %v, want %v", tt.ctx.IsEmpty(), len(tt.want) == 0)
			}
		})
	}
}

func TestStepContext_Merge(t *testing.T) {
	a := StepContext{ProblemScope: "a", Assumptions: []string{"x"}, Constraints: []string{"c1"}}
	b := StepContext{ProblemScope: "b", Assumptions: []string{"x", "y"}, Constraints: []string{"c2"}}

	got := a.Merge(b)
	if got.ProblemScope != "a\nb" {
		t.Errorf("ProblemScope = %q, want %q", got.ProblemScope, "a\nb")
	}
	if !reflect.DeepEqual(got.Assumptions, []string{"x", "y"}) {
		t.Errorf("Assumptions = %v", got.Assumptions)
	}
	if !reflect.DeepEqual(got.Constraints, []string{"c1", "c2"}) {
		t.Errorf("Constraints = %v", got.Constraints)
	}
	if len(a.Assumptions) != 1 {
		t.Error("Merge must not mutate the receiver")
	}

	onlyOther := StepContext{}.Merge(b)
	if onlyOther.ProblemScope != "b" {
		t.Errorf("ProblemScope = %q, want %q", onlyOther.ProblemScope, "b")
	}
}

func TestStepRecord_IsTerminal(t *testing.T) {
	tests := []struct {
		name string
		rec  StepRecord
		want bool
	}{
		{"before estimate", StepRecord{SequenceNumber: 2, TotalEstimated: 4}, false},
		{"at estimate", StepRecord{SequenceNumber: 4, TotalEstimated: 4}, true},
		{"caller says done", StepRecord{SequenceNumber: 2, TotalEstimated: 4, NextStepNeeded: BoolPtr(false)}, true},
		{"caller wants more", StepRecord{SequenceNumber: 2, TotalEstimated: 4, NextStepNeeded: BoolPtr(true)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStepRecord_JSONFieldNames(t *testing.T) {
	rec := StepRecord{
		Content:               "body",
		SequenceNumber:        2,
		TotalEstimated:        3,
		IsRevision:            true,
		RevisesSequenceNumber: IntPtr(1),
		Category:              Category{Type: CategoryRevision, Confidence: 0.7},
		Confidence:            0.72,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"content", "sequenceNumber", "totalEstimated", "isRevision", "revisesSequenceNumber", "category", "confidence", "metrics", "context"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing JSON key %q in %s", key, data)
		}
	}
	if _, ok := raw["branchId"]; ok {
		t.Error("branchId should be omitted when empty")
	}
}

func TestStepRecord_OptionalAccessors(t *testing.T) {
	var rec StepRecord
	if rec.Revises() != 0 || rec.BranchPoint() != 0 {
		t.Error("unset pointers should read as 0")
	}
	rec.RevisesSequenceNumber = IntPtr(3)
	rec.BranchFrom = IntPtr(2)
	if rec.Revises() != 3 {
		t.Errorf("Revises() = %d, want 3", rec.Revises())
	}
	if rec.BranchPoint() != 2 {
		t.Errorf("BranchPoint() = %d, want 2", rec.BranchPoint())
	}
}
