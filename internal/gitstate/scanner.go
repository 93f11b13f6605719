package gitstate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Scanner expands a repository status report into the concrete set of changed
// filesystem paths, recursing into submodules and plain directories. The zero
// value is ready to use.
type Scanner struct{}

// NewScanner creates a change scanner.
func NewScanner() *Scanner { return &Scanner{} }

// Changed returns every path that differs from a clean checkout at the
// current head, as a sorted, de-duplicated list of slash-separated paths
// relative to repoPath. Submodules contribute both their own path and their
// recursively scanned changes.
func (s *Scanner) Changed(repoPath string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	emit := func(rel string) {
		if _, dup := seen[rel]; dup {
			return
		}
		seen[rel] = struct{}{}
		out = append(out, rel)
	}
	if err := s.scan(repoPath, "", emit); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// scan processes one repository. Emitted paths are prefixed with prefix so
// that nested submodule results stay relative to the outermost root.
func (s *Scanner) scan(repoPath, prefix string, emit func(string)) error {
	repo, err := Open(repoPath)
	if err != nil {
		return err
	}
	status, err := repo.Status(s)
	if err != nil {
		return err
	}
	submodules, err := repo.Submodules()
	if err != nil {
		return err
	}
	matcher, err := repo.IgnoreMatcher()
	if err != nil {
		return err
	}

	for relPath, flag := range status {
		target := filepath.Join(repoPath, filepath.FromSlash(relPath))
		info, statErr := os.Lstat(target)
		if statErr != nil || !info.IsDir() {
			// Deleted paths no longer exist on disk; they are still changes.
			emit(path.Join(prefix, relPath))
			continue
		}

		if _, isSubmodule := submodules[relPath]; isSubmodule {
			// The submodule directory itself counts: its pointed-to commit
			// may have moved even when no file inside differs.
			emit(path.Join(prefix, relPath))
			if err := s.scan(target, path.Join(prefix, relPath), emit); err != nil {
				return err
			}
			continue
		}

		emitted, err := s.walkDirectory(repoPath, relPath, matcher, prefix, emit)
		if err != nil {
			return err
		}
		if !emitted {
			return &PhantomChangeError{Path: target, Flag: flag}
		}
	}
	return nil
}

// walkDirectory emits every non-ignored file and subdirectory beneath the
// changed directory relPath, pruning traversal of ignored subtrees. The
// directory itself is not emitted; git attaches no metadata to it.
func (s *Scanner) walkDirectory(repoPath, relPath string, matcher ignoreMatcher, prefix string, emit func(string)) (bool, error) {
	root := filepath.Join(repoPath, filepath.FromSlash(relPath))
	emitted := false
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == root {
			return nil
		}
		rel, relErr := filepath.Rel(repoPath, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if matcher.Match(strings.Split(rel, "/"), entry.IsDir()) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		emit(path.Join(prefix, rel))
		emitted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("walk %s: %w", root, err)
	}
	return emitted, nil
}

// ignoreMatcher is the subset of gitignore.Matcher the walk needs.
type ignoreMatcher interface {
	Match(path []string, isDir bool) bool
}
