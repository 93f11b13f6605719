// Package signature captures and persists the provenance fingerprint of a
// compiled jar: its content hash, the source commit it was built from, and
// the hashes of every working-tree change present at build time.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"paperctl/internal/hashing"
)

// dirSentinel stands in for the content of a changed directory that is not a
// nested checkout. The directory entry records presence; its members carry
// their own hashes.
const dirSentinel = "DIR"

// deletedSentinel stands in for a tracked path that git still reports as
// changed but that no longer exists on disk. The deletion is a source change
// like any other and must flow into the diff rather than abort the run.
const deletedSentinel = "DELETED"

// Signature is the fingerprint of one produced artifact. Immutable once
// captured.
type Signature struct {
	ArtifactHash   string            `json:"artifact_hash"`
	SourceRevision string            `json:"source_revision"`
	ChangedSources map[string]string `json:"changed_sources"`
}

// CorruptSignatureError reports a side-car file whose structure could not be
// parsed. Unlike the invalidation kinds this aborts a run: a mangled record
// cannot be trusted to explain anything.
type CorruptSignatureError struct {
	Path string
	Err  error
}

func (e *CorruptSignatureError) Error() string {
	return fmt.Sprintf("corrupt signature file %s: %v", e.Path, e.Err)
}

func (e *CorruptSignatureError) Unwrap() error { return e.Err }

// Capture hashes the artifact and every changed path, assembling a fresh
// signature. Changed paths are relative to repoRoot; a changed directory
// hashes as its head commit when it is a nested checkout, and as a fixed
// sentinel otherwise. A path that no longer exists hashes as a deletion
// sentinel so removals stay comparable across captures.
func Capture(hasher *hashing.Hasher, artifactPath, revision string, changed []string, repoRoot string) (*Signature, error) {
	artifactHash, err := hasher.Hash(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("hash artifact %s: %w", artifactPath, err)
	}

	sources := make(map[string]string, len(changed))
	for _, rel := range changed {
		abs := filepath.Join(repoRoot, filepath.FromSlash(rel))
		digest, err := hashChangedPath(hasher, abs)
		if err != nil {
			return nil, fmt.Errorf("hash changed path %s: %w", rel, err)
		}
		sources[rel] = digest
	}

	return &Signature{
		ArtifactHash:   artifactHash,
		SourceRevision: revision,
		ChangedSources: sources,
	}, nil
}

func hashChangedPath(hasher *hashing.Hasher, abs string) (string, error) {
	digest, err := hasher.Hash(abs)
	if err == nil {
		return digest, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		sum := sha256.Sum256([]byte(deletedSentinel))
		return hex.EncodeToString(sum[:]), nil
	}
	var notHashable *hashing.NotHashableError
	if !errors.As(err, &notHashable) {
		return "", err
	}
	digest, err = hasher.HashRepoHead(abs)
	if err == nil {
		return digest, nil
	}
	var invalid *hashing.InvalidRepositoryError
	if errors.As(err, &invalid) {
		sum := sha256.Sum256([]byte(dirSentinel))
		return hex.EncodeToString(sum[:]), nil
	}
	return "", err
}

// Save persists the signature to path, creating parent directories as needed.
// The write goes through a temp file and rename so a crash never leaves a
// half-written record (there is still no cross-process locking; one owner per
// version is assumed).
func (s *Signature) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create signature directory: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write signature: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("replace signature: %w", err)
	}
	return nil
}

// Load reads a signature side-car file. Structurally invalid input fails with
// *CorruptSignatureError; a missing file is reported as the underlying
// fs.ErrNotExist so callers can distinguish "never recorded".
func Load(path string) (*Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sig Signature
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, &CorruptSignatureError{Path: path, Err: err}
	}
	if sig.ArtifactHash == "" {
		return nil, &CorruptSignatureError{Path: path, Err: fmt.Errorf("missing artifact_hash")}
	}
	if sig.ChangedSources == nil {
		sig.ChangedSources = map[string]string{}
	}
	return &sig, nil
}

// Equal reports whether two signatures describe equivalent builds: same
// artifact hash, same source revision, identical changed-source mappings.
func (s *Signature) Equal(other *Signature) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.ArtifactHash != other.ArtifactHash || s.SourceRevision != other.SourceRevision {
		return false
	}
	if len(s.ChangedSources) != len(other.ChangedSources) {
		return false
	}
	for p, h := range s.ChangedSources {
		if oh, ok := other.ChangedSources[p]; !ok || oh != h {
			return false
		}
	}
	return true
}

// ChangedPaths returns the sorted key set of the changed-source mapping.
func (s *Signature) ChangedPaths() []string {
	paths := make([]string, 0, len(s.ChangedSources))
	for p := range s.ChangedSources {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
