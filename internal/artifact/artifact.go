// Package artifact decides whether a server jar can be reused, must be
// refreshed from the catalog, or must be rebuilt from source.
package artifact

import (
	"context"
	"fmt"

	"paperctl/internal/mcversion"
)

// CheckOptions control an update check. Force refreshes any memoized remote
// state; IgnoreUpdates skips the remote check entirely and only validates the
// local cache.
type CheckOptions struct {
	Force         bool
	IgnoreUpdates bool
}

// Artifact is a resolvable server jar. Implementations are value-like: a
// check never mutates the receiver, it returns a replacement artifact when an
// update is available.
//
// CheckForUpdates, in priority order:
//  1. returns a new artifact if an update is known (nil error);
//  2. returns a cache invalidation error if the local cache is stale;
//  3. returns (nil, nil) if the cache is valid and the version current.
type Artifact interface {
	Version() mcversion.Version
	ResolvedPath() string
	Describe() string
	CheckForUpdates(ctx context.Context, opts CheckOptions) (Artifact, error)
	Update(ctx context.Context, force bool) error
}

// ValidateCache checks only the local cache, ignoring updates. nil means the
// cached jar is current and trustworthy.
func ValidateCache(ctx context.Context, a Artifact) error {
	replacement, err := a.CheckForUpdates(ctx, CheckOptions{IgnoreUpdates: true})
	if err != nil {
		return err
	}
	if replacement != nil {
		return fmt.Errorf("unexpected update result during cache validation: %s", replacement.Describe())
	}
	return nil
}

// BuildFailedError: the external build tool reported failure.
type BuildFailedError struct {
	Dir string
	Err error
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("unable to compile jar in %s: %v", e.Dir, e.Err)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

// ArtifactNotProducedError: the build tool claimed success but the expected
// output never appeared.
type ArtifactNotProducedError struct {
	Path string
}

func (e *ArtifactNotProducedError) Error() string {
	return fmt.Sprintf("unable to find compiled jar: %s", e.Path)
}

// DownloadVerificationError: a freshly written download still does not hash
// to the catalog's recorded value. Fatal; a corrupt download must never be
// silently accepted.
type DownloadVerificationError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *DownloadVerificationError) Error() string {
	return fmt.Sprintf("downloaded %s does not match catalog hash (expected %s, got %s)", e.Path, e.Expected, e.Actual)
}
