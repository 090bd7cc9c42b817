package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nvandessel/refinery/internal/models"
)

type memoryRow struct {
	data      []byte
	version   int
	createdAt time.Time
	updatedAt time.Time
}

// MemoryStore is an in-process SessionStore with the same semantics as
// SQLiteStore. Records are kept serialized so callers never share memory
// with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[int]*memoryRow
	closed   bool
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]map[int]*memoryRow),
		now:      time.Now,
	}
}

func (m *MemoryStore) checkOpen() error {
	if m.closed {
		return fmt.Errorf("session store closed: %w", models.ErrStorage)
	}
	return nil
}

// Upsert writes rec under (sessionID, rec.SequenceNumber).
func (m *MemoryStore) Upsert(ctx context.Context, sessionID string, rec models.StepRecord) error {
	if err := validateKey(sessionID, rec.SequenceNumber); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upsert draft %d: %w: %w", rec.SequenceNumber, models.ErrStorage, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	drafts := m.sessions[sessionID]
	if drafts == nil {
		drafts = make(map[int]*memoryRow)
		m.sessions[sessionID] = drafts
	}
	now := m.now().UTC()
	if row, ok := drafts[rec.SequenceNumber]; ok {
		row.data = data
		row.version++
		row.updatedAt = now
		return nil
	}
	drafts[rec.SequenceNumber] = &memoryRow{data: data, version: 1, createdAt: now, updatedAt: now}
	return nil
}

// Get returns the record stored at (sessionID, draftNumber).
func (m *MemoryStore) Get(_ context.Context, sessionID string, draftNumber int) (*models.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	row, ok := m.sessions[sessionID][draftNumber]
	if !ok {
		return nil, fmt.Errorf("draft %d in session %q: %w", draftNumber, sessionID, models.ErrNotFound)
	}
	var rec models.StepRecord
	if err := json.Unmarshal(row.data, &rec); err != nil {
		return nil, fmt.Errorf("decode draft %d: %w: %w", draftNumber, models.ErrStorage, err)
	}
	return &rec, nil
}

// Recent returns up to limit records, newest draft number first.
func (m *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]models.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	keys := m.sortedKeys(sessionID)
	var out []models.StepRecord
	for i := len(keys) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		var rec models.StepRecord
		if err := json.Unmarshal(m.sessions[sessionID][keys[i]].data, &rec); err != nil {
			return nil, fmt.Errorf("decode draft %d: %w: %w", keys[i], models.ErrStorage, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Rows returns every row of a session in draft order.
func (m *MemoryStore) Rows(_ context.Context, sessionID string) ([]DraftRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	var out []DraftRow
	for _, n := range m.sortedKeys(sessionID) {
		row := m.sessions[sessionID][n]
		dr := DraftRow{
			SessionID:   sessionID,
			DraftNumber: n,
			Version:     row.version,
			CreatedAt:   row.createdAt,
			UpdatedAt:   row.updatedAt,
		}
		if err := json.Unmarshal(row.data, &dr.Record); err != nil {
			return nil, fmt.Errorf("decode draft %d: %w: %w", n, models.ErrStorage, err)
		}
		out = append(out, dr)
	}
	return out, nil
}

// Sessions lists the known sessions, most recently updated first.
func (m *MemoryStore) Sessions(_ context.Context) ([]SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]SessionSummary, 0, len(m.sessions))
	for id, drafts := range m.sessions {
		if len(drafts) == 0 {
			continue
		}
		sum := SessionSummary{SessionID: id, Drafts: len(drafts)}
		for _, row := range drafts {
			if row.updatedAt.After(sum.LastUpdated) {
				sum.LastUpdated = row.updatedAt
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out, nil
}

// DeleteSession removes every draft of sessionID.
func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	n := len(m.sessions[sessionID])
	delete(m.sessions, sessionID)
	return n, nil
}

// Close marks the store closed. Calling Close more than once is safe.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// sortedKeys must be called with m.mu held.
func (m *MemoryStore) sortedKeys(sessionID string) []int {
	drafts := m.sessions[sessionID]
	keys := make([]int, 0, len(drafts))
	for n := range drafts {
		keys = append(keys, n)
	}
	sort.Ints(keys)
	return keys
}
