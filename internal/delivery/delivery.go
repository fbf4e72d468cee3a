// Package delivery resolves model identifiers to local, integrity
// verified snapshot directories (spec.md §4.6). A local-path id is
// used as-is; otherwise the package fetches a snapshot matching a
// manifest's globs from an injected HubClient, the same
// opaque-transport-contract style pageload.PDFRasterizer uses for PDF
// rendering (spec.md §1 Out-of-scope: "hub I/O itself" is a thin
// injected contract, not reimplemented here).
package delivery

import "time"

// FileIntegrity records one snapshot file's verified checksum state
// (spec.md §3 ModelDeliveryState).
type FileIntegrity struct {
	RelativePath string  `json:"relative_path"`
	ETag         string  `json:"etag"`
	CommitHash   *string `json:"commit_hash,omitempty"`
}

// ModelSnapshot is one model id's persisted delivery state.
type ModelSnapshot struct {
	Revision     string          `json:"revision"`
	SnapshotPath string          `json:"snapshot_path"`
	UpdatedAtUTC time.Time       `json:"updated_at_utc"`
	Files        []FileIntegrity `json:"files"`
}

// State is the full persisted delivery state, keyed by model id.
type State map[string]ModelSnapshot

// Manifest controls which files are fetched and which must be present
// (spec.md §4.6).
type Manifest struct {
	Globs         []string
	RequiredFiles []string
}

// DefaultManifest is the shipping glob set spec.md §4.6 names.
func DefaultManifest() Manifest {
	return Manifest{
		Globs: []string{"*.json", "*.safetensors", "*.txt", "*.model", "*.tiktoken", "*.jinja"},
	}
}
