// Package gitstate inspects git repositories: head revisions, per-path status,
// submodules, and the change scan that feeds build signatures.
package gitstate

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// StatusFlag classifies why a path differs from a clean checkout. Paths that
// are current or ignored never appear in a status report.
type StatusFlag string

const (
	FlagModified  StatusFlag = "modified"
	FlagUntracked StatusFlag = "untracked"
	FlagAdded     StatusFlag = "added"
	FlagDeleted   StatusFlag = "deleted"
)

// Commit is resolved revision metadata for display.
type Commit struct {
	ShortID string
	Summary string
	Message string
}

const unknownMessage = "<unknown message>"

// Repo is an opened repository handle. All reported paths are slash-separated
// and relative to the repository root.
type Repo struct {
	path string
	repo *git.Repository
	wt   *git.Worktree
}

// Open opens the repository rooted at repoPath.
func Open(repoPath string) (*Repo, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, &InvalidRepositoryError{Path: repoPath, Err: err}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, &InvalidRepositoryError{Path: repoPath, Err: err}
	}
	return &Repo{path: repoPath, repo: repo, wt: wt}, nil
}

// Path returns the repository root.
func (r *Repo) Path() string { return r.path }

// HeadRevision returns the full hex id of the current head commit, or the
// empty string if the repository has no commits yet.
func (r *Repo) HeadRevision() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read HEAD of %s: %w", r.path, err)
	}
	return head.Hash().String(), nil
}

// Submodules returns the set of registered submodule paths.
func (r *Repo) Submodules() (map[string]struct{}, error) {
	subs, err := r.wt.Submodules()
	if err != nil {
		return nil, fmt.Errorf("list submodules of %s: %w", r.path, err)
	}
	set := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		set[sub.Config().Path] = struct{}{}
	}
	return set, nil
}

// IgnoreMatcher builds a matcher over the repository's gitignore patterns.
func (r *Repo) IgnoreMatcher() (gitignore.Matcher, error) {
	patterns, err := gitignore.ReadPatterns(r.wt.Filesystem, nil)
	if err != nil {
		return nil, fmt.Errorf("read ignore patterns of %s: %w", r.path, err)
	}
	return gitignore.NewMatcher(patterns), nil
}

// Status reports every path that is neither current nor ignored, keyed by
// slash-relative path. Untracked entries inside a wholly untracked directory
// are collapsed to that directory, and registered submodules whose checked-out
// commit or working tree differ from the recorded state are reported as
// modified even when the worktree scan does not see inside them.
func (r *Repo) Status(scoped *Scanner) (map[string]StatusFlag, error) {
	status, err := r.wt.Status()
	if err != nil {
		return nil, fmt.Errorf("status of %s: %w", r.path, err)
	}
	matcher, err := r.IgnoreMatcher()
	if err != nil {
		return nil, err
	}

	trackedDirs, err := r.trackedDirs()
	if err != nil {
		return nil, err
	}

	out := make(map[string]StatusFlag)
	for relPath, fileStatus := range status {
		flag, significant := classify(fileStatus)
		if !significant {
			continue
		}
		if matcher.Match(strings.Split(relPath, "/"), false) {
			continue
		}
		if flag == FlagUntracked {
			// Collapse to the topmost ancestor directory that holds no
			// tracked content, mirroring how git itself reports a wholly
			// untracked directory.
			relPath = collapseUntracked(relPath, trackedDirs)
		}
		if _, exists := out[relPath]; !exists {
			out[relPath] = flag
		}
	}

	if err := r.addChangedSubmodules(out, scoped); err != nil {
		return nil, err
	}
	return out, nil
}

// trackedDirs returns every directory that contains index-tracked content.
func (r *Repo) trackedDirs() (map[string]struct{}, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("read index of %s: %w", r.path, err)
	}
	dirs := make(map[string]struct{})
	for _, entry := range idx.Entries {
		dir := path.Dir(entry.Name)
		for dir != "." && dir != "/" {
			dirs[dir] = struct{}{}
			dir = path.Dir(dir)
		}
	}
	return dirs, nil
}

func collapseUntracked(relPath string, trackedDirs map[string]struct{}) string {
	segments := strings.Split(relPath, "/")
	acc := ""
	for _, seg := range segments[:len(segments)-1] {
		if acc == "" {
			acc = seg
		} else {
			acc = acc + "/" + seg
		}
		if _, tracked := trackedDirs[acc]; !tracked {
			return acc
		}
	}
	return relPath
}

// addChangedSubmodules marks registered submodules whose head moved away from
// the gitlink recorded in the index, or whose own working tree is dirty.
func (r *Repo) addChangedSubmodules(out map[string]StatusFlag, scoped *Scanner) error {
	subs, err := r.Submodules()
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("read index of %s: %w", r.path, err)
	}
	for subPath := range subs {
		if _, exists := out[subPath]; exists {
			continue
		}
		changed, err := r.submoduleChanged(idx, subPath, scoped)
		if err != nil {
			return err
		}
		if changed {
			out[subPath] = FlagModified
		}
	}
	return nil
}

func (r *Repo) submoduleChanged(idx *index.Index, subPath string, scoped *Scanner) (bool, error) {
	subRepo, err := Open(filepath.Join(r.path, subPath))
	if err != nil {
		var invalid *InvalidRepositoryError
		if errors.As(err, &invalid) && errors.Is(invalid.Err, git.ErrRepositoryNotExists) {
			// Registered but not initialized: nothing checked out, nothing changed.
			return false, nil
		}
		return false, err
	}

	head, err := subRepo.HeadRevision()
	if err != nil {
		return false, err
	}
	entry, err := idx.Entry(subPath)
	if err == nil && entry.Hash.String() != head {
		return true, nil
	}

	if scoped == nil {
		return false, nil
	}
	changed, err := scoped.Changed(subRepo.path)
	if err != nil {
		return false, err
	}
	return len(changed) > 0, nil
}

// ResolveCommit resolves a revision expression to display metadata. It errors
// on unknown expressions or commits with blank messages.
func (r *Repo) ResolveCommit(expr string) (Commit, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(expr))
	if err != nil {
		return Commit{}, &RevisionError{Expr: expr, Err: err}
	}
	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return Commit{}, &RevisionError{Expr: expr, Err: err}
	}
	message := commit.Message
	if strings.TrimSpace(message) == "" {
		return Commit{}, &RevisionError{Expr: expr, Err: fmt.Errorf("commit %s has a blank message", hash)}
	}
	return Commit{
		ShortID: hash.String()[:7],
		Summary: firstLine(message),
		Message: message,
	}, nil
}

// ResolveCommitLenient is ResolveCommit with graceful degradation: resolution
// failure falls back to showing the raw expression.
func (r *Repo) ResolveCommitLenient(expr string) Commit {
	commit, err := r.ResolveCommit(expr)
	if err != nil {
		short := expr
		if len(short) > 7 {
			short = short[:7]
		}
		return Commit{ShortID: short, Summary: unknownMessage, Message: unknownMessage}
	}
	return commit
}

func classify(fs *git.FileStatus) (StatusFlag, bool) {
	if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
		return "", false
	}
	if fs.Worktree == git.Untracked || fs.Staging == git.Untracked {
		return FlagUntracked, true
	}
	if fs.Staging == git.Added {
		return FlagAdded, true
	}
	if fs.Worktree == git.Deleted || fs.Staging == git.Deleted {
		return FlagDeleted, true
	}
	return FlagModified, true
}

func firstLine(message string) string {
	if i := strings.Index(message, "\n"); i >= 0 {
		return message[:i]
	}
	return message
}
