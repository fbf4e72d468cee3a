package delivery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// loadState reads the persisted delivery state from path, returning an
// empty State if the file does not yet exist.
func loadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return nil, fmt.Errorf("delivery: read state file: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("delivery: parse state file: %w", err)
	}
	return s, nil
}

// saveState writes state to path atomically (temp file + os.Rename),
// creating the parent directory on demand, with each snapshot's files
// sorted by relative path for reproducible serialization (spec.md §3,
// §4.6). No pack repo ships a dedicated atomic-write library, and the
// operation is two stdlib calls, so it stays on os/encoding/json
// rather than reaching for a third-party one.
func saveState(path string, s State) error {
	for id, snap := range s {
		sorted := append([]FileIntegrity(nil), snap.Files...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelativePath < sorted[j].RelativePath })
		snap.Files = sorted
		s[id] = snap
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("delivery: create state directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("delivery: marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".delivery-state-*.json")
	if err != nil {
		return fmt.Errorf("delivery: create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("delivery: write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("delivery: close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("delivery: rename temp state file: %w", err)
	}
	return nil
}
