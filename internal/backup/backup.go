// Package backup exports and restores persisted draft sessions.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nvandessel/refinery/internal/models"
	"github.com/nvandessel/refinery/internal/store"
)

// DefaultKeep is the number of exports kept by RotateBackups.
const DefaultKeep = 10

const filePrefix = "refinery-export-"

// Session is the exported content of one session.
type Session struct {
	SessionID string           `json:"sessionId"`
	Drafts    []store.DraftRow `json:"drafts"`
}

// Format is the in-memory form of an export file.
type Format struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	Sessions  []Session `json:"sessions"`
}

// DraftCount returns the number of drafts across all sessions.
func (f *Format) DraftCount() int {
	n := 0
	for _, s := range f.Sessions {
		n += len(s.Drafts)
	}
	return n
}

// Collect reads the given sessions from st, or every session when none
// are named.
func Collect(ctx context.Context, st store.SessionStore, sessionIDs ...string) (*Format, error) {
	if len(sessionIDs) == 0 {
		summaries, err := st.Sessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		for _, s := range summaries {
			sessionIDs = append(sessionIDs, s.SessionID)
		}
	}

	f := &Format{Version: FormatV1, CreatedAt: time.Now().UTC()}
	for _, id := range sessionIDs {
		rows, err := st.Rows(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read session %s: %w", id, err)
		}
		f.Sessions = append(f.Sessions, Session{SessionID: id, Drafts: rows})
	}
	return f, nil
}

// Export writes the sessions of st to path. Paths ending in .gz are
// written compressed with a checksum header; others as plain JSON.
func Export(ctx context.Context, st store.SessionStore, path string, opts *WriteOptions, sessionIDs ...string) (*Format, error) {
	f, err := Collect(ctx, st, sessionIDs...)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	if strings.HasSuffix(path, ".gz") {
		f.Version = FormatV2
		if err := WriteV2(path, f, opts); err != nil {
			return nil, err
		}
		return f, nil
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("write export: %w", err)
	}
	return f, nil
}

// RestoreMode selects how Restore treats drafts that already exist.
type RestoreMode string

const (
	// RestoreMerge keeps existing drafts and skips their exported copies.
	RestoreMerge RestoreMode = "merge"
	// RestoreReplace deletes each exported session before restoring it.
	RestoreReplace RestoreMode = "replace"
)

// RestoreResult counts what Restore did.
type RestoreResult struct {
	DraftsRestored int `json:"draftsRestored"`
	DraftsSkipped  int `json:"draftsSkipped"`
}

// Restore loads an export file of either format into st.
func Restore(ctx context.Context, st store.SessionStore, path string, mode RestoreMode) (*RestoreResult, error) {
	f, err := Read(path)
	if err != nil {
		return nil, err
	}

	res := &RestoreResult{}
	for _, s := range f.Sessions {
		if mode == RestoreReplace {
			if _, err := st.DeleteSession(ctx, s.SessionID); err != nil {
				return res, fmt.Errorf("clear session %s: %w", s.SessionID, err)
			}
		}
		for _, row := range s.Drafts {
			if mode == RestoreMerge {
				_, err := st.Get(ctx, s.SessionID, row.DraftNumber)
				if err == nil {
					res.DraftsSkipped++
					continue
				}
				if !errors.Is(err, models.ErrNotFound) {
					return res, fmt.Errorf("check draft %s/%d: %w", s.SessionID, row.DraftNumber, err)
				}
			}
			if err := st.Upsert(ctx, s.SessionID, row.Record); err != nil {
				return res, fmt.Errorf("restore draft %s/%d: %w", s.SessionID, row.DraftNumber, err)
			}
			res.DraftsRestored++
		}
	}
	return res, nil
}

// Read loads an export file, detecting its format.
func Read(path string) (*Format, error) {
	version, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if version == FormatV2 {
		return ReadV2(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	var f Format
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	return &f, nil
}

// DefaultBackupDir returns ~/.refinery/backups.
func DefaultBackupDir() (string, error) {
	dir, err := store.GlobalPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "backups"), nil
}

// GenerateBackupPath returns a timestamped export path in dir.
func GenerateBackupPath(dir string) string {
	return filepath.Join(dir, filePrefix+time.Now().UTC().Format("20060102-150405")+".json")
}

// RotateBackups removes the oldest exports in dir so that at most keep
// remain. Only files named like GenerateBackupPath output are considered.
func RotateBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) {
			continue
		}
		if strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.gz") {
			names = append(names, name)
		}
	}
	if len(names) <= keep {
		return nil
	}

	// Timestamps sort lexically.
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("remove old backup: %w", err)
		}
	}
	return nil
}
