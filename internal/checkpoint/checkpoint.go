// Package checkpoint persists per-run completion records so an
// interrupted run can resume without reprocessing finished items.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Record is the on-disk checkpoint for one run. The schema is stable:
// {"run_id": string, "processed_ids": [string, ...]}.
type Record struct {
	RunID        string   `json:"run_id"`
	ProcessedIDs []string `json:"processed_ids"`
}

// Store reads and writes checkpoint records, one file per run. All
// writes go through a temp file and atomic rename so a reader never
// observes a partial record, and a mutex serializes the load-merge-write
// sequence so concurrent updates never drop each other's ids. Safe for
// concurrent use.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// LoadCompleted returns the set of completed item ids for a run. A
// missing checkpoint file is an empty set.
func (s *Store) LoadCompleted(runID string) (map[string]struct{}, error) {
	rec, err := s.load(runID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(rec.ProcessedIDs))
	for _, id := range rec.ProcessedIDs {
		done[id] = struct{}{}
	}
	return done, nil
}

// RecordCompleted adds ids to the run's completed set and persists the
// full record. Ids already present are no-ops, so an identifier appears
// at most once.
func (s *Store) RecordCompleted(runID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(runID)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(rec.ProcessedIDs))
	for _, id := range rec.ProcessedIDs {
		seen[id] = struct{}{}
	}

	changed := false
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rec.ProcessedIDs = append(rec.ProcessedIDs, id)
		changed = true
	}
	if !changed {
		return nil
	}

	rec.RunID = runID
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	return writeFileAtomic(s.path(runID), data)
}

// Clear deletes the run's checkpoint. Called only after the orchestrator
// confirms the full item list completed without a fatal abort.
func (s *Store) Clear(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(runID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	return nil
}

// List returns the run ids that currently have a checkpoint on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint dir: %w", err)
	}
	var runs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		runs = append(runs, name[:len(name)-len(".json")])
	}
	return runs, nil
}

func (s *Store) load(runID string) (*Record, error) {
	data, err := os.ReadFile(s.path(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return &Record{RunID: runID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	return &rec, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
