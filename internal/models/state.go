package models

import "time"

// Phase is the coarse state of a chain's processing machine.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseDrafting       Phase = "drafting"
	PhaseProcessing     Phase = "processing"
	PhaseCritique       Phase = "critique"
	PhaseRevision       Phase = "revision"
	PhaseCompletion     Phase = "completion"
	PhaseError          Phase = "error"
)

// AdaptationEntry is one observational log line recorded when dynamic
// adaptation is enabled.
type AdaptationEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// ProcessingState is the per-chain machine state.
type ProcessingState struct {
	Phase             Phase             `json:"phase"`
	CompletedSteps    int               `json:"completedSteps"`
	AdaptationHistory []AdaptationEntry `json:"adaptationHistory,omitempty"`
	LastError         string            `json:"lastError,omitempty"`
}

// NewProcessingState returns a state in the initialization phase.
func NewProcessingState() ProcessingState {
	return ProcessingState{Phase: PhaseInitialization}
}

// Clone returns a deep copy safe to hand to callers.
func (s ProcessingState) Clone() ProcessingState {
	out := s
	if s.AdaptationHistory != nil {
		out.AdaptationHistory = append([]AdaptationEntry(nil), s.AdaptationHistory...)
	}
	return out
}
