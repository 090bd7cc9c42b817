package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidationError_IsInvalidInput(t *testing.T) {
	err := Invalid("sequenceNumber", "must be >= 1, got %d", 0)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatal("ValidationError should match ErrInvalidInput")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("ValidationError should not match ErrNotFound")
	}
	if !strings.Contains(err.Error(), "sequenceNumber") {
		t.Errorf("Error() = %q, want field name", err.Error())
	}
}

func TestProcessingError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("draft 3: %w", ErrNotFound)
	err := error(&ProcessingError{
		Op:    "submit draft",
		Phase: PhaseError,
		State: ProcessingState{Phase: PhaseError, CompletedSteps: 2},
		Err:   cause,
	})

	if !errors.Is(err, ErrNotFound) {
		t.Error("ProcessingError should unwrap to its cause")
	}
	var pe *ProcessingError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should find ProcessingError")
	}
	if pe.State.CompletedSteps != 2 {
		t.Errorf("State.CompletedSteps = %d, want 2", pe.State.CompletedSteps)
	}
	if !strings.Contains(err.Error(), "error phase") {
		t.Errorf("Error() = %q, want phase marker", err.Error())
	}
}

func TestProcessingState_Clone(t *testing.T) {
	s := NewProcessingState()
	s.AdaptationHistory = append(s.AdaptationHistory, AdaptationEntry{Description: "a"})
	c := s.Clone()
	c.AdaptationHistory[0].Description = "b"
	if s.AdaptationHistory[0].Description != "a" {
		t.Error("Clone should not share the adaptation slice")
	}
}
