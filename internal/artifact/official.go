package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"paperctl/internal/cache"
	"paperctl/internal/catalog"
	"paperctl/internal/config"
	"paperctl/internal/hashing"
	"paperctl/internal/logfields"
	"paperctl/internal/mcversion"
)

// Official is a jar published by the build catalog, cached locally under a
// deterministic per-build path.
type Official struct {
	version mcversion.Version
	build   int
	client  *catalog.Client
	hasher  *hashing.Hasher
	cfg     *config.Config
}

// NewOfficial creates an official artifact resolver for the given build.
func NewOfficial(version mcversion.Version, build int, client *catalog.Client, hasher *hashing.Hasher, cfg *config.Config) *Official {
	return &Official{version: version, build: build, client: client, hasher: hasher, cfg: cfg}
}

func (o *Official) Version() mcversion.Version { return o.version }

// BuildNumber returns the CI build number this resolver points at.
func (o *Official) BuildNumber() int { return o.build }

func (o *Official) Describe() string { return fmt.Sprintf("Paper-%d", o.build) }

func (o *Official) ResolvedPath() string { return o.cfg.OfficialJarPath(o.build) }

// CheckForUpdates queries the catalog for newer builds unless IgnoreUpdates,
// then validates the cached jar against the catalog's recorded hash.
func (o *Official) CheckForUpdates(ctx context.Context, opts CheckOptions) (Artifact, error) {
	if !opts.IgnoreUpdates {
		builds, err := o.client.KnownBuilds(ctx, o.version, opts.Force)
		if err != nil {
			return nil, err
		}
		if len(builds) == 0 {
			return nil, fmt.Errorf("no known Paper builds for minecraft %s", o.version)
		}
		maximum := builds[len(builds)-1]
		switch {
		case maximum > o.build:
			slog.Debug("Newer official build available", logfields.Version(o.version.Name), logfields.Build(maximum))
			return NewOfficial(o.version, maximum, o.client, o.hasher, o.cfg), nil
		case maximum < o.build:
			return nil, &catalog.InconsistencyError{
				Version: o.version,
				Reason: fmt.Sprintf("current build number %d greater than catalog maximum %d",
					o.build, maximum),
			}
		}
	}

	jarPath := o.ResolvedPath()
	if _, err := os.Stat(jarPath); err != nil {
		if os.IsNotExist(err) {
			return nil, &cache.ArtifactMissingError{Path: jarPath}
		}
		return nil, fmt.Errorf("stat %s: %w", jarPath, err)
	}

	actualHash, err := o.hasher.Hash(jarPath)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", jarPath, err)
	}
	info, err := o.client.BuildInfo(ctx, o.version, o.build)
	if err != nil {
		return nil, err
	}
	if actualHash != info.SHA256 {
		return nil, &cache.ArtifactHashMismatchError{Expected: info.SHA256, Actual: actualHash}
	}
	return nil, nil
}

// Update downloads the jar unless it already exists (and force is off), then
// re-verifies the written bytes against the catalog hash.
func (o *Official) Update(ctx context.Context, force bool) error {
	jarPath := o.ResolvedPath()
	if !force {
		if _, err := os.Stat(jarPath); err == nil {
			return nil
		}
	}

	info, err := o.client.BuildInfo(ctx, o.version, o.build)
	if err != nil {
		return err
	}

	slog.Info("Downloading official build",
		logfields.Version(o.version.Name), logfields.Build(o.build), logfields.Path(jarPath))
	written, err := o.client.Download(ctx, info, jarPath)
	if err != nil {
		return err
	}
	slog.Debug("Download complete", logfields.Build(o.build), slog.Int64("bytes", written))

	actualHash, err := o.hasher.Hash(jarPath)
	if err != nil {
		return fmt.Errorf("hash %s: %w", jarPath, err)
	}
	if actualHash != info.SHA256 {
		return &DownloadVerificationError{Path: jarPath, Expected: info.SHA256, Actual: actualHash}
	}
	return nil
}
