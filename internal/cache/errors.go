package cache

import (
	"errors"
	"fmt"

	"paperctl/internal/gitstate"
)

// invalidation is the marker shared by every expected, recoverable cache
// invalidation kind. Resolvers catch these and rebuild or redownload; they
// are not programming errors.
type invalidation interface {
	error
	invalidation()
}

// IsInvalidation reports whether err (or anything it wraps) is one of the
// recoverable invalidation kinds.
func IsInvalidation(err error) bool {
	var inv invalidation
	return errors.As(err, &inv)
}

// Kind extracts a short machine-readable label for metrics and logs.
// A nil error maps to "valid"; unexpected errors map to "error".
func Kind(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.As(err, new(*ArtifactMissingError)):
		return "artifact_missing"
	case errors.As(err, new(*SignatureMissingError)):
		return "signature_missing"
	case errors.As(err, new(*ArtifactHashMismatchError)):
		return "artifact_hash_mismatch"
	case errors.As(err, new(*RevisionMismatchError)):
		return "revision_mismatch"
	case errors.As(err, new(*UntrackedChangesMismatchError)):
		return "untracked_changes_mismatch"
	default:
		return "error"
	}
}

// ArtifactMissingError: the resolved artifact does not exist on disk.
type ArtifactMissingError struct {
	Path string
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("missing artifact: %s", e.Path)
}

func (e *ArtifactMissingError) invalidation() {}

func (e *ArtifactMissingError) Details() []string {
	return []string{fmt.Sprintf("Expected location: %s", e.Path)}
}

// SignatureMissingError: no provenance was ever recorded for this artifact.
type SignatureMissingError struct {
	Path string
}

func (e *SignatureMissingError) Error() string {
	return fmt.Sprintf("missing build signature: %s", e.Path)
}

func (e *SignatureMissingError) invalidation() {}

func (e *SignatureMissingError) Details() []string { return nil }

// ArtifactHashMismatchError: the artifact bytes changed since the signature
// was recorded. An externally rewritten binary cannot be explained by source
// state, so no further diagnosis is attached.
type ArtifactHashMismatchError struct {
	Expected string
	Actual   string
}

func (e *ArtifactHashMismatchError) Error() string {
	return "artifact changed on disk (hash)"
}

func (e *ArtifactHashMismatchError) invalidation() {}

func (e *ArtifactHashMismatchError) Details() []string {
	return []string{
		fmt.Sprintf("Expected %s", e.Expected),
		fmt.Sprintf("Actually %s", e.Actual),
	}
}

// RevisionMismatchError: the artifact matches its recording, but HEAD moved.
type RevisionMismatchError struct {
	Expected gitstate.Commit
	Actual   gitstate.Commit
}

func (e *RevisionMismatchError) Error() string {
	return "mismatched source commits"
}

func (e *RevisionMismatchError) invalidation() {}

func (e *RevisionMismatchError) Details() []string {
	return []string{
		fmt.Sprintf("Expected commit %s: %s", e.Expected.ShortID, e.Expected.Summary),
		fmt.Sprintf("Actual commit %s: %s", e.Actual.ShortID, e.Actual.Summary),
	}
}

// ChangeKind classifies one entry of an untracked-changes diff.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "Added"
	ChangeRemoved  ChangeKind = "Removed"
	ChangeModified ChangeKind = "Modified"
)

// PathChange pairs a changed path with its classification.
type PathChange struct {
	Path string
	Kind ChangeKind
}

// UntrackedChangesMismatchError: the set of uncommitted changes differs from
// the one the artifact was built against.
type UntrackedChangesMismatchError struct {
	Changes []PathChange
}

func (e *UntrackedChangesMismatchError) Error() string {
	return fmt.Sprintf("detected %d changes to uncommitted files", len(e.Changes))
}

func (e *UntrackedChangesMismatchError) invalidation() {}

func (e *UntrackedChangesMismatchError) Details() []string {
	lines := make([]string, len(e.Changes))
	for i, change := range e.Changes {
		lines[i] = fmt.Sprintf("%-10s %s", string(change.Kind)+":", change.Path)
	}
	return lines
}

// Detailed is implemented by invalidation kinds that carry extra diagnostic
// lines beyond their summary.
type Detailed interface {
	Details() []string
}
