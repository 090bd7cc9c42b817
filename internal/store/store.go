// Package store persists draft step records per session.
package store

import (
	"context"
	"time"

	"github.com/nvandessel/refinery/internal/models"
)

// DraftRow is one persisted draft with its bookkeeping columns.
type DraftRow struct {
	SessionID   string            `json:"sessionId"`
	DraftNumber int               `json:"draftNumber"`
	Record      models.StepRecord `json:"record"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// SessionSummary describes one session known to the store.
type SessionSummary struct {
	SessionID   string    `json:"sessionId"`
	Drafts      int       `json:"drafts"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// SessionStore is durable per-session keyed storage of draft records.
// A record is keyed by (session id, draft number); writes to the same key
// overwrite the previous record.
type SessionStore interface {
	// Upsert writes rec under (sessionID, rec.SequenceNumber).
	Upsert(ctx context.Context, sessionID string, rec models.StepRecord) error

	// Get returns the record at draftNumber. Missing records yield an error
	// matching models.ErrNotFound.
	Get(ctx context.Context, sessionID string, draftNumber int) (*models.StepRecord, error)

	// Recent returns up to limit records ordered by draft number descending.
	// A non-positive limit returns every record.
	Recent(ctx context.Context, sessionID string, limit int) ([]models.StepRecord, error)

	// Rows returns every row of a session ordered by draft number ascending.
	Rows(ctx context.Context, sessionID string) ([]DraftRow, error)

	// Sessions lists the sessions with at least one draft, most recently
	// updated first.
	Sessions(ctx context.Context) ([]SessionSummary, error)

	// DeleteSession removes every draft of a session and returns how many
	// rows were deleted.
	DeleteSession(ctx context.Context, sessionID string) (int, error)

	// Close releases resources. Calling Close more than once is safe.
	Close() error
}
