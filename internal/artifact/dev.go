package artifact

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"

	"paperctl/internal/cache"
	"paperctl/internal/config"
	"paperctl/internal/gitstate"
	"paperctl/internal/hashing"
	"paperctl/internal/logfields"
	"paperctl/internal/mcversion"
	"paperctl/internal/signature"
)

// Development is a jar compiled from a local source checkout. Its validity is
// judged by the build signature recorded when it was last produced.
type Development struct {
	version  mcversion.Version
	repoPath string
	hasher   *hashing.Hasher
	scanner  *gitstate.Scanner
	compiler Compiler
	cfg      *config.Config

	// loaded signature, replaced on save; never read back from disk twice
	// within one run.
	cachedSignature *signature.Signature
}

// NewDevelopment creates a development artifact resolver.
func NewDevelopment(version mcversion.Version, repoPath string, hasher *hashing.Hasher, scanner *gitstate.Scanner, compiler Compiler, cfg *config.Config) *Development {
	return &Development{
		version:  version,
		repoPath: repoPath,
		hasher:   hasher,
		scanner:  scanner,
		compiler: compiler,
		cfg:      cfg,
	}
}

// FromRepo detects the Minecraft version from the checkout's CraftBukkit pom
// and builds a resolver for it.
func FromRepo(repoPath string, versions *mcversion.Store, hasher *hashing.Hasher, scanner *gitstate.Scanner, compiler Compiler, cfg *config.Config) (*Development, error) {
	if _, err := gitstate.Open(repoPath); err != nil {
		return nil, err
	}
	name, err := detectVersionFromPom(filepath.Join(repoPath, "work", "CraftBukkit", "pom.xml"))
	if err != nil {
		return nil, err
	}
	version, err := versions.Parse(name)
	if err != nil {
		return nil, fmt.Errorf("invalid minecraft version in CraftBukkit pom: %w", err)
	}
	return NewDevelopment(version, repoPath, hasher, scanner, compiler, cfg), nil
}

func detectVersionFromPom(pomPath string) (string, error) {
	f, err := os.Open(pomPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("repo missing CraftBukkit pom: %s", pomPath)
		}
		return "", fmt.Errorf("open %s: %w", pomPath, err)
	}
	defer f.Close()

	const openTag = "<minecraft.version>"
	const closeTag = "</minecraft.version>"
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		start := strings.Index(line, openTag)
		if start < 0 {
			continue
		}
		end := strings.Index(line, closeTag)
		if end < 0 {
			return "", fmt.Errorf("invalid CraftBukkit pom line %q: missing closing version tag", strings.TrimSpace(line))
		}
		return line[start+len(openTag) : end], nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", pomPath, err)
	}
	return "", fmt.Errorf("could not find minecraft version in %s", pomPath)
}

// nestedCheckouts are checkouts the Paper build creates inside the
// repository. They are gitignored by the root repository, so the root status
// never reports edits inside them; they have to be scanned on their own.
var nestedCheckouts = []string{"Paper-Server", "Paper-API"}

// devChangeSet supplements the root repository scan with the nested build
// checkouts. Satisfies cache.ChangeScanner.
type devChangeSet struct {
	scanner *gitstate.Scanner
}

func (c *devChangeSet) Changed(repoPath string) ([]string, error) {
	changed, err := c.scanner.Changed(repoPath)
	if err != nil {
		return nil, err
	}
	for _, name := range nestedCheckouts {
		nested := filepath.Join(repoPath, name)
		if st, statErr := os.Stat(nested); statErr != nil || !st.IsDir() {
			continue
		}
		sub, err := c.scanner.Changed(nested)
		if err != nil {
			var invalid *gitstate.InvalidRepositoryError
			if errors.As(err, &invalid) && errors.Is(invalid.Err, git.ErrRepositoryNotExists) {
				// Plain build output, not a checkout yet. The root gitignore
				// already keeps it out of the scan.
				continue
			}
			return nil, err
		}
		for _, rel := range sub {
			changed = append(changed, path.Join(name, rel))
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func (d *Development) changes() *devChangeSet { return &devChangeSet{scanner: d.scanner} }

func (d *Development) Version() mcversion.Version { return d.version }

// RepoPath returns the source checkout this artifact is built from.
func (d *Development) RepoPath() string { return d.repoPath }

func (d *Development) ResolvedPath() string {
	return filepath.Join(d.repoPath, "Paper-Server", "target", fmt.Sprintf("paper-%s.jar", d.version))
}

// SignaturePath is the side-car recording this jar's provenance.
func (d *Development) SignaturePath() string {
	return d.cfg.SignaturePath(d.version.Name)
}

// CurrentRevision returns the commit the checkout points at.
func (d *Development) CurrentRevision() (string, error) {
	repo, err := gitstate.Open(d.repoPath)
	if err != nil {
		return "", err
	}
	return repo.HeadRevision()
}

// Dirty reports whether the checkout, including the nested build checkouts,
// has any uncommitted or untracked change.
func (d *Development) Dirty() (bool, error) {
	changed, err := d.changes().Changed(d.repoPath)
	if err != nil {
		return false, err
	}
	return len(changed) > 0, nil
}

// Describe names the intended version of this checkout, e.g.
// "Paper-3f91c0d…-dirty".
func (d *Development) Describe() string {
	head, err := d.CurrentRevision()
	if err != nil || head == "" {
		head = "unknown"
	}
	descr := "Paper-" + head
	if dirty, err := d.Dirty(); err == nil && dirty {
		descr += "-dirty"
	}
	return descr
}

// CheckForUpdates: a checkout is always notionally current with itself, so a
// forced check returns the artifact as "the update" without recompiling.
// Otherwise the cached jar is validated and any invalidation propagates
// unchanged.
func (d *Development) CheckForUpdates(_ context.Context, opts CheckOptions) (Artifact, error) {
	if opts.Force && !opts.IgnoreUpdates {
		return d, nil
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Development) validate() error {
	repo, err := gitstate.Open(d.repoPath)
	if err != nil {
		return err
	}
	validator := cache.NewValidator(d.hasher, d.changes())
	if err := validator.CheckPresence(d.ResolvedPath(), d.SignaturePath()); err != nil {
		return err
	}
	expected, err := d.loadSignature()
	if err != nil {
		return err
	}
	return validator.ValidateRecorded(expected, d.ResolvedPath(), repo)
}

// loadSignature reads the recorded signature, reusing the in-memory copy from
// an earlier load or save within this run.
func (d *Development) loadSignature() (*signature.Signature, error) {
	if d.cachedSignature != nil {
		return d.cachedSignature, nil
	}
	sig, err := signature.Load(d.SignaturePath())
	if err != nil {
		return nil, err
	}
	d.cachedSignature = sig
	return sig, nil
}

// Update recompiles the jar when the cache is invalid (or unconditionally
// when forced) and records a fresh signature from the produced artifact.
func (d *Development) Update(ctx context.Context, force bool) error {
	if !force {
		err := d.validate()
		if err == nil {
			// The already compiled jar is valid. No need to recompile.
			return nil
		}
		if !cache.IsInvalidation(err) {
			return err
		}
		slog.Info("Cached development jar is invalid, recompiling",
			logfields.Repository(d.repoPath), logfields.Error(err))
	}

	if err := d.compiler.Compile(ctx, d.repoPath); err != nil {
		return err
	}
	jarPath := d.ResolvedPath()
	if _, err := os.Stat(jarPath); err != nil {
		if os.IsNotExist(err) {
			return &ArtifactNotProducedError{Path: jarPath}
		}
		return fmt.Errorf("stat %s: %w", jarPath, err)
	}

	sig, err := d.captureSignature(jarPath)
	if err != nil {
		return err
	}
	if err := sig.Save(d.SignaturePath()); err != nil {
		return err
	}
	d.cachedSignature = sig
	slog.Info("Recorded build signature",
		logfields.Path(d.SignaturePath()), logfields.Hash(sig.ArtifactHash), logfields.Commit(sig.SourceRevision))
	return nil
}

func (d *Development) captureSignature(jarPath string) (*signature.Signature, error) {
	repo, err := gitstate.Open(d.repoPath)
	if err != nil {
		return nil, err
	}
	validator := cache.NewValidator(d.hasher, d.changes())
	return validator.CaptureCurrent(jarPath, repo)
}
