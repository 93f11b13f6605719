// Package cache decides whether a previously produced artifact is still valid
// for the current repository state, and explains precisely why when it is not.
package cache

import (
	"fmt"
	"os"
	"sort"

	"paperctl/internal/gitstate"
	"paperctl/internal/hashing"
	"paperctl/internal/signature"
)

// Validator compares a recorded build signature against live state.
type Validator struct {
	hasher *hashing.Hasher
	scan   ChangeScanner
}

// ChangeScanner yields the current changed-path set of a repository.
type ChangeScanner interface {
	Changed(repoPath string) ([]string, error)
}

// HeadReader resolves the repository's current head and commit metadata.
// Satisfied by *gitstate.Repo.
type HeadReader interface {
	HeadRevision() (string, error)
	ResolveCommitLenient(expr string) gitstate.Commit
}

// NewValidator creates a validator using the given hasher and scanner.
func NewValidator(hasher *hashing.Hasher, scan ChangeScanner) *Validator {
	return &Validator{hasher: hasher, scan: scan}
}

// Validate checks the artifact at artifactPath against the signature recorded
// at signaturePath and the live state of the repository handle. Success is
// silent (nil). Failure is exactly one invalidation kind, or a
// *signature.CorruptSignatureError when the record itself cannot be read.
//
// The artifact-hash comparison is the strongest signal and short-circuits
// all other diagnosis, then revision, then the changed-path diff.
func (v *Validator) Validate(artifactPath, signaturePath string, repo Repo) error {
	if err := v.CheckPresence(artifactPath, signaturePath); err != nil {
		return err
	}
	expected, err := signature.Load(signaturePath)
	if err != nil {
		return err
	}
	return v.ValidateRecorded(expected, artifactPath, repo)
}

// CheckPresence verifies the artifact and its signature side-car both exist,
// in that diagnostic order.
func (v *Validator) CheckPresence(artifactPath, signaturePath string) error {
	if _, err := os.Stat(artifactPath); err != nil {
		if os.IsNotExist(err) {
			return &ArtifactMissingError{Path: artifactPath}
		}
		return fmt.Errorf("stat artifact %s: %w", artifactPath, err)
	}
	if _, err := os.Stat(signaturePath); err != nil {
		if os.IsNotExist(err) {
			return &SignatureMissingError{Path: signaturePath}
		}
		return fmt.Errorf("stat signature %s: %w", signaturePath, err)
	}
	return nil
}

// ValidateRecorded compares an already loaded signature against live state.
// Callers that keep the record in memory skip the side-car read this way.
func (v *Validator) ValidateRecorded(expected *signature.Signature, artifactPath string, repo Repo) error {
	actual, err := v.CaptureCurrent(artifactPath, repo)
	if err != nil {
		return err
	}

	if actual.ArtifactHash != expected.ArtifactHash {
		// The jar was rewritten by something else. Even if the sources look
		// identical, we cannot know what they were when that jar was built.
		return &ArtifactHashMismatchError{Expected: expected.ArtifactHash, Actual: actual.ArtifactHash}
	}

	if expected.SourceRevision != actual.SourceRevision {
		return &RevisionMismatchError{
			Expected: repo.ResolveCommitLenient(expected.SourceRevision),
			Actual:   repo.ResolveCommitLenient(actual.SourceRevision),
		}
	}

	if diff := diffChangedSources(expected, actual); len(diff) > 0 {
		return &UntrackedChangesMismatchError{Changes: diff}
	}

	// Signatures are equal by construction at this point.
	return nil
}

// Repo is the repository surface validation needs.
type Repo interface {
	HeadReader
	Path() string
}

// CaptureCurrent recomputes the signature of the artifact as it exists right
// now, against the repository's live head and changed-path set.
func (v *Validator) CaptureCurrent(artifactPath string, repo Repo) (*signature.Signature, error) {
	head, err := repo.HeadRevision()
	if err != nil {
		return nil, err
	}
	changed, err := v.scan.Changed(repo.Path())
	if err != nil {
		return nil, err
	}
	return signature.Capture(v.hasher, artifactPath, head, changed, repo.Path())
}

// diffChangedSources classifies the symmetric difference of the changed-path
// mappings, sorted by path. Wholly absent paths classify as Added/Removed;
// Modified is reserved for paths present on both sides with different hashes.
func diffChangedSources(expected, actual *signature.Signature) []PathChange {
	paths := make(map[string]struct{}, len(expected.ChangedSources)+len(actual.ChangedSources))
	for p := range expected.ChangedSources {
		paths[p] = struct{}{}
	}
	for p := range actual.ChangedSources {
		paths[p] = struct{}{}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var diff []PathChange
	for _, p := range sorted {
		expectedHash, inExpected := expected.ChangedSources[p]
		actualHash, inActual := actual.ChangedSources[p]
		switch {
		case !inExpected:
			diff = append(diff, PathChange{Path: p, Kind: ChangeAdded})
		case !inActual:
			diff = append(diff, PathChange{Path: p, Kind: ChangeRemoved})
		case expectedHash != actualHash:
			diff = append(diff, PathChange{Path: p, Kind: ChangeModified})
		}
	}
	return diff
}
