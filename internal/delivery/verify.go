package delivery

import (
	"fmt"
	"path/filepath"
)

// VerifyOfflineReadiness checks that every model recorded in the
// persisted state at statePath still matches its integrity record, by
// recomputing each file's SHA-256 from disk. It never fetches from the
// network (spec.md §4.6 "refuses to fetch").
func VerifyOfflineReadiness(statePath string) error {
	state, err := loadState(statePath)
	if err != nil {
		return fmt.Errorf("delivery: load state: %w", err)
	}
	if len(state) == 0 {
		return fmt.Errorf("delivery: no delivery state recorded at %s", statePath)
	}
	for modelID, snap := range state {
		if len(snap.Files) == 0 {
			return fmt.Errorf("delivery: model %q has no recorded files", modelID)
		}
		for _, fi := range snap.Files {
			if err := verifyFile(modelID, snap, fi); err != nil {
				return err
			}
		}
	}
	return nil
}

func verifyFile(modelID string, snap ModelSnapshot, fi FileIntegrity) error {
	if fi.ETag == "" {
		return fmt.Errorf("delivery: model %q file %q missing integrity metadata", modelID, fi.RelativePath)
	}
	path := filepath.Join(snap.SnapshotPath, fi.RelativePath)
	actual, err := sha256File(path)
	if err != nil {
		return fmt.Errorf("delivery: model %q file %q: %w", modelID, fi.RelativePath, err)
	}
	if isSHA256Hex(fi.ETag) && actual != fi.ETag {
		return fmt.Errorf("delivery: model %q file %q: integrity mismatch, expected %s got %s", modelID, fi.RelativePath, fi.ETag, actual)
	}
	if !isSHA256Hex(fi.ETag) {
		return fmt.Errorf("delivery: model %q file %q: recorded integrity value is not a verifiable sha256 digest", modelID, fi.RelativePath)
	}
	return nil
}
