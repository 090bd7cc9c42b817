package scoring

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/nvandessel/refinery/internal/models"
)

// epsilon absorbs float rounding when comparing against a floor.
const epsilon = 1e-9

// Policy holds the configured confidence rules shared by every machine.
type Policy struct {
	Threshold   float64
	MinGrowth   float64
	MinRevision float64
}

// GrowthFloor is the minimum confidence allowed after a record with the
// given confidence.
func (p Policy) GrowthFloor(previous float64) float64 {
	return math.Min(previous+p.MinGrowth, 1)
}

// RevisionFloor is the minimum confidence of a revision of a record with
// the given confidence.
func (p Policy) RevisionFloor(original float64) float64 {
	return math.Min(math.Max(p.MinRevision, original), 1)
}

// ApplyFloors raises confidence to satisfy the revision, growth and
// absolute floors, in that order. original is consulted only for
// revisions; prev is the record immediately before, if any.
func (p Policy) ApplyFloors(confidence float64, isRevision bool, original, prev *models.StepRecord) float64 {
	if math.IsNaN(confidence) {
		confidence = 0
	}
	if isRevision {
		orig := 0.0
		if original != nil {
			orig = original.Confidence
		}
		confidence = math.Max(confidence, p.RevisionFloor(orig))
	}
	if prev != nil {
		confidence = math.Max(confidence, p.GrowthFloor(prev.Confidence))
	}
	confidence = math.Max(confidence, math.Min(p.Threshold, 1))
	return clamp(confidence, 0, 1)
}

// Validate accepts a scored record when its content is long enough and its
// confidence clears the rule that applies to it: the revision floor for
// revisions, the growth floor when a previous record exists, and the
// absolute threshold for the first record.
func (p Policy) Validate(rec models.StepRecord, prev *models.StepRecord) error {
	if n := utf8.RuneCountInString(strings.TrimSpace(rec.Content)); n < models.MinContentLength {
		return models.Invalid("content", "must be at least %d characters, got %d", models.MinContentLength, n)
	}
	if rec.Confidence < 0 || rec.Confidence > 1 || math.IsNaN(rec.Confidence) {
		return models.Invalid("confidence", "%v outside [0, 1]", rec.Confidence)
	}

	var floor float64
	var rule string
	switch {
	case rec.IsRevision:
		floor, rule = math.Min(p.MinRevision, 1), "revision floor"
	case prev != nil:
		floor, rule = p.GrowthFloor(prev.Confidence), "growth floor"
	default:
		floor, rule = math.Min(p.Threshold, 1), "threshold"
	}
	if rec.Confidence+epsilon < floor {
		return fmt.Errorf("confidence %.3f below %s %.3f: %w", rec.Confidence, rule, floor, models.ErrInvariant)
	}
	return nil
}

// CapForSuccessor lowers confidence so that next, the record persisted
// right after this one, still clears the growth floor. floor is the lowest
// value the record itself may take; when the cap falls below it the
// record cannot be placed and ErrInvariant is returned.
func (p Policy) CapForSuccessor(confidence, floor float64, next *models.StepRecord) (float64, error) {
	if next == nil || next.Confidence+epsilon >= p.GrowthFloor(confidence) {
		return confidence, nil
	}
	ceiling := next.Confidence - p.MinGrowth
	if ceiling+epsilon < floor {
		return 0, fmt.Errorf("confidence floor %.3f leaves no growth room before record %d at %.3f: %w",
			floor, next.SequenceNumber, next.Confidence, models.ErrInvariant)
	}
	return clamp(ceiling, 0, 1), nil
}
