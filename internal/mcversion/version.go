// Package mcversion models Minecraft version identifiers.
package mcversion

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
)

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.(\d+))?$`)

// Version is a parsed Minecraft version. It has value semantics: two versions
// parsed from the same string compare equal with ==.
type Version struct {
	Name  string
	Major int
	Minor int
	Patch int
}

// Parse parses a version name of the form MAJOR.MINOR[.PATCH].
func Parse(name string) (Version, error) {
	m := versionPattern.FindStringSubmatch(name)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version name: %q", name)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch := 0
	if m[3] != "" {
		patch, _ = strconv.Atoi(m[3])
	}
	return Version{Name: name, Major: major, Minor: minor, Patch: patch}, nil
}

// IsValid reports whether name is a well-formed version string.
func IsValid(name string) bool {
	return versionPattern.MatchString(name)
}

func (v Version) String() string { return v.Name }

// Compare orders versions lexicographically on (major, minor, patch).
func (v Version) Compare(other Version) int {
	if c := v.Major - other.Major; c != 0 {
		return sign(c)
	}
	if c := v.Minor - other.Minor; c != 0 {
		return sign(c)
	}
	return sign(v.Patch - other.Patch)
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// Store is a process-scoped parse cache. Equal version strings resolve to the
// same logical instance; callers inject a Store instead of relying on hidden
// package state.
type Store struct {
	mu    sync.Mutex
	known map[string]Version
}

// NewStore creates an empty version store.
func NewStore() *Store {
	return &Store{known: make(map[string]Version)}
}

// Parse returns the interned version for name, parsing it on first use.
func (s *Store) Parse(name string) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.known[name]; ok {
		return v, nil
	}
	v, err := Parse(name)
	if err != nil {
		return Version{}, err
	}
	s.known[name] = v
	return v, nil
}

// Latest returns the highest version among names, skipping malformed entries.
func (s *Store) Latest(names []string) (Version, bool) {
	var best Version
	found := false
	for _, name := range names {
		v, err := s.Parse(name)
		if err != nil {
			continue
		}
		if !found || best.Less(v) {
			best = v
			found = true
		}
	}
	return best, found
}
