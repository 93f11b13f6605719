// Package hashing computes the content digests that build signatures are made
// of: streamed SHA-256 for files, and a head-commit proxy hash for directories
// that are themselves git checkouts.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const chunkSize = 8192

// emptyRepoSentinel is hashed in place of a head commit when a repository has
// no commits yet.
const emptyRepoSentinel = "NONE"

// NotHashableError reports an attempt to hash a directory without requesting
// repository mode.
type NotHashableError struct {
	Path string
}

func (e *NotHashableError) Error() string {
	return fmt.Sprintf("not hashable (is a directory): %s", e.Path)
}

// InvalidRepositoryError reports a directory that was expected to be a git
// repository but is not one.
type InvalidRepositoryError struct {
	Path string
	Err  error
}

func (e *InvalidRepositoryError) Error() string {
	return fmt.Sprintf("invalid git repository %s: %v", e.Path, e.Err)
}

func (e *InvalidRepositoryError) Unwrap() error { return e.Err }

// Hasher computes hex SHA-256 digests. The zero value is ready to use; the
// optional byte counter feeds the metrics recorder.
type Hasher struct {
	// CountBytes, when non-nil, receives the number of bytes hashed per call.
	CountBytes func(n int64)
}

// Hash streams the file at path through SHA-256 and returns the hex digest.
// Directories fail with *NotHashableError; use HashRepoHead for checkouts.
func (h *Hasher) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", &NotHashableError{Path: path}
	}

	digest := sha256.New()
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}
	if h.CountBytes != nil {
		h.CountBytes(total)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// HashRepoHead opens path as a git repository and hashes the raw bytes of the
// current head commit id. A repository with no commits yet hashes a fixed
// sentinel. A directory that is not a valid repository fails with
// *InvalidRepositoryError.
func (h *Hasher) HashRepoHead(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", &InvalidRepositoryError{Path: path, Err: err}
	}

	digest := sha256.New()
	head, err := repo.Head()
	switch {
	case err == nil:
		hash := head.Hash()
		digest.Write(hash[:])
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Unborn HEAD: the repository exists but has no commits.
		digest.Write([]byte(emptyRepoSentinel))
	default:
		return "", &InvalidRepositoryError{Path: path, Err: err}
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
