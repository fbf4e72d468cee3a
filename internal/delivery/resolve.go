package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Resolver turns model ids into local, integrity-verified snapshot
// directories, persisting its findings to StatePath (spec.md §4.6).
type Resolver struct {
	Client    HubClient
	CacheDir  string
	StatePath string
	Manifest  Manifest

	// loadLocks serializes concurrent EnsureReady calls for the same
	// model id: a later caller waits for the earlier one to finish and
	// then runs its own resolution (files already on disk are not
	// downloaded again). A plain per-key mutex is used rather than
	// golang.org/x/sync/singleflight since no example in the pack
	// actually exercises that package (it appears only as one repo's
	// indirect, unused dependency).
	loadLocks sync.Map // model id -> *sync.Mutex
}

// NewResolver constructs a Resolver with the default manifest.
func NewResolver(client HubClient, cacheDir, statePath string) *Resolver {
	return &Resolver{Client: client, CacheDir: cacheDir, StatePath: statePath, Manifest: DefaultManifest()}
}

func (r *Resolver) lockFor(modelID string) *sync.Mutex {
	l, _ := r.loadLocks.LoadOrStore(modelID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// EnsureReady resolves both the recognizer and layout model ids to
// local directories, fetching and verifying snapshots as needed.
func (r *Resolver) EnsureReady(ctx context.Context, recognizerID, layoutID string) (recognizerDir, layoutDir string, err error) {
	recognizerDir, err = r.resolveOne(ctx, recognizerID)
	if err != nil {
		return "", "", fmt.Errorf("delivery: resolve recognizer model %q: %w", recognizerID, err)
	}
	layoutDir, err = r.resolveOne(ctx, layoutID)
	if err != nil {
		return "", "", fmt.Errorf("delivery: resolve layout model %q: %w", layoutID, err)
	}
	return recognizerDir, layoutDir, nil
}

func (r *Resolver) resolveOne(ctx context.Context, modelID string) (string, error) {
	if info, statErr := os.Stat(modelID); statErr == nil && info.IsDir() {
		return modelID, nil
	}

	mu := r.lockFor(modelID)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.Client == nil {
		return "", fmt.Errorf("no hub client configured for remote model id %q", modelID)
	}

	revision, files, err := r.Client.ResolveRevision(ctx, modelID)
	if err != nil {
		return "", fmt.Errorf("resolve revision: %w", err)
	}
	matched := filterByGlobs(files, r.Manifest.Globs)
	if err := validateManifest(matched, r.Manifest.RequiredFiles); err != nil {
		return "", err
	}

	snapshotDir := filepath.Join(r.CacheDir, sanitizeModelID(modelID), revision)
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	integrities := make([]FileIntegrity, 0, len(matched))
	for _, relPath := range matched {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		integrity, err := r.fetchAndVerify(ctx, modelID, revision, relPath, snapshotDir)
		if err != nil {
			return "", fmt.Errorf("file %q: %w", relPath, err)
		}
		integrities = append(integrities, integrity)
	}

	state, err := loadState(r.StatePath)
	if err != nil {
		return "", err
	}
	state[modelID] = ModelSnapshot{
		Revision:     revision,
		SnapshotPath: snapshotDir,
		UpdatedAtUTC: time.Now().UTC(),
		Files:        integrities,
	}
	if err := saveState(r.StatePath, state); err != nil {
		return "", err
	}
	return snapshotDir, nil
}

// fetchAndVerify downloads relPath if missing locally, fetches the
// hub's ETag, normalizes it, and either verifies it against the
// on-disk file's SHA-256 (when the normalized ETag is itself a SHA-256
// hex digest) or persists the on-disk SHA-256 as the integrity value
// (spec.md §4.6).
func (r *Resolver) fetchAndVerify(ctx context.Context, modelID, revision, relPath, snapshotDir string) (FileIntegrity, error) {
	destPath := filepath.Join(snapshotDir, relPath)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return FileIntegrity{}, fmt.Errorf("create file directory: %w", err)
	}
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		f, err := os.Create(destPath)
		if err != nil {
			return FileIntegrity{}, fmt.Errorf("create local file: %w", err)
		}
		if err := r.Client.Download(ctx, modelID, revision, relPath, f); err != nil {
			f.Close()
			return FileIntegrity{}, fmt.Errorf("download: %w", err)
		}
		if err := f.Close(); err != nil {
			return FileIntegrity{}, fmt.Errorf("close downloaded file: %w", err)
		}
	}

	rawETag, err := r.Client.FetchETag(ctx, modelID, revision, relPath)
	if err != nil {
		return FileIntegrity{}, fmt.Errorf("fetch etag: %w", err)
	}
	normalized := normalizeETag(rawETag)

	localSHA, err := sha256File(destPath)
	if err != nil {
		return FileIntegrity{}, fmt.Errorf("hash local file: %w", err)
	}
	if isSHA256Hex(normalized) && normalized != localSHA {
		return FileIntegrity{}, fmt.Errorf("sha256 mismatch: hub %s, local %s", normalized, localSHA)
	}

	integrityValue := normalized
	if !isSHA256Hex(normalized) {
		integrityValue = localSHA
	}
	commit := revision
	return FileIntegrity{RelativePath: relPath, ETag: integrityValue, CommitHash: &commit}, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// filterByGlobs keeps only files matching at least one glob.
func filterByGlobs(files []string, globs []string) []string {
	var out []string
	for _, f := range files {
		for _, g := range globs {
			if ok, _ := filepath.Match(g, filepath.Base(f)); ok {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// validateManifest checks that every required file is present and at
// least one .safetensors file was matched (spec.md §4.6).
func validateManifest(matched []string, required []string) error {
	present := make(map[string]bool, len(matched))
	hasSafetensors := false
	for _, f := range matched {
		present[filepath.Base(f)] = true
		if strings.HasSuffix(f, ".safetensors") {
			hasSafetensors = true
		}
	}
	for _, req := range required {
		if !present[req] {
			return fmt.Errorf("required file %q not present in snapshot manifest", req)
		}
	}
	if !hasSafetensors {
		return fmt.Errorf("snapshot manifest contains no .safetensors file")
	}
	return nil
}

func sanitizeModelID(modelID string) string {
	return strings.ReplaceAll(modelID, "/", "--")
}
