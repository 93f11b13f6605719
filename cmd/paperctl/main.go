package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"paperctl/internal/artifact"
	"paperctl/internal/cache"
	"paperctl/internal/catalog"
	"paperctl/internal/config"
	"paperctl/internal/gitstate"
	"paperctl/internal/hashing"
	"paperctl/internal/launch"
	"paperctl/internal/logfields"
	"paperctl/internal/mcversion"
	"paperctl/internal/observability"
	"paperctl/internal/plugins"
	"paperctl/internal/retry"
	"paperctl/internal/watch"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"paperctl.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Official struct {
		Version string `arg:"" optional:"" help:"Minecraft version, e.g. 1.16.5 (default: latest known)"`
		Force   bool   `short:"f" help:"Refresh catalog state and re-download even if cached"`
	} `cmd:"" help:"Download (or refresh) the newest official Paper build"`

	Dev struct {
		Repo  string `short:"r" help:"Paper source checkout (default from config)"`
		Force bool   `short:"f" help:"Recompile even if the cached jar is valid"`
	} `cmd:"" help:"Compile the development jar from a source checkout"`

	Status struct {
		Repo string `short:"r" help:"Paper source checkout (default from config)"`
	} `cmd:"" help:"Report whether the cached development jar matches the checkout"`

	Plugins struct {
		Force bool `short:"f" help:"Re-download plugin jars even if installed"`
	} `cmd:"" help:"Install the plugin jars listed in the plugins manifest"`

	Run struct {
		Kind    string `arg:"" optional:"" default:"dev" enum:"dev,official" help:"Artifact to run: dev or official"`
		Version string `help:"Minecraft version for official runs"`
		Repo    string `short:"r" help:"Paper source checkout for dev runs"`
		Java    int    `help:"Required JVM major version (default: highest available)"`
		Force   bool   `short:"f" help:"Rebuild or re-download the artifact unconditionally"`
		DryRun  bool   `help:"Prepare everything but only print the launch command"`
	} `cmd:"" help:"Bring the server artifact up to date and launch it"`

	Watch struct {
		Repo string `short:"r" help:"Paper source checkout (default from config)"`
	} `cmd:"" help:"Re-validate the development cache whenever the checkout changes"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`
}

func main() {
	kctx := kong.Parse(&CLI)
	runID := observability.SetupLogging(CLI.Verbose)
	slog.Debug("starting", slog.String("command", kctx.Command()), logfields.RunID(runID))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if kctx.Command() == "init" {
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			fail(err)
		}
		return
	}

	cfg := loadConfig()
	rt, err := newRuntime(cfg)
	if err != nil {
		fail(err)
	}
	defer rt.close()

	switch kctx.Command() {
	case "official", "official <version>":
		err = runOfficial(ctx, rt, CLI.Official.Version, CLI.Official.Force)
	case "dev":
		err = runDev(ctx, rt, repoOr(CLI.Dev.Repo, cfg), CLI.Dev.Force)
	case "status":
		err = runStatus(ctx, rt, repoOr(CLI.Status.Repo, cfg))
	case "plugins":
		err = runPlugins(ctx, rt, CLI.Plugins.Force)
	case "run", "run <kind>":
		err = runServer(ctx, rt)
	case "watch":
		err = runWatch(ctx, rt, repoOr(CLI.Watch.Repo, cfg))
	default:
		err = fmt.Errorf("unknown command: %s", kctx.Command())
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	slog.Error("command failed", logfields.Error(err))
	os.Exit(1)
}

func loadConfig() *config.Config {
	if _, err := os.Stat(CLI.Config); os.IsNotExist(err) {
		slog.Debug("no configuration file, using defaults", logfields.Path(CLI.Config))
		return config.Default()
	}
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fail(err)
	}
	return cfg
}

func repoOr(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Repo
}

// runtime bundles the long-lived collaborators every command shares.
type runtime struct {
	cfg      *config.Config
	registry *prom.Registry
	recorder *observability.Recorder
	hasher   *hashing.Hasher
	scanner  *gitstate.Scanner
	store    *catalog.Store
	client   *catalog.Client
	versions *mcversion.Store
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	registry := prom.NewRegistry()
	recorder := observability.NewRecorder(registry)
	store, err := catalog.OpenStore(cfg.CatalogCachePath())
	if err != nil {
		return nil, err
	}
	policy := retry.NewPolicy(retry.BackoffMode(cfg.Retry.Mode),
		cfg.Retry.Initial, cfg.Retry.Max, cfg.Retry.MaxRetries)
	return &runtime{
		cfg:      cfg,
		registry: registry,
		recorder: recorder,
		hasher:   &hashing.Hasher{CountBytes: recorder.AddHashedBytes},
		scanner:  gitstate.NewScanner(),
		store:    store,
		client:   catalog.NewClient(cfg.CatalogURL, store, policy),
		versions: mcversion.NewStore(),
	}, nil
}

func (rt *runtime) close() {
	if err := rt.store.Close(); err != nil {
		slog.Warn("closing catalog cache failed", logfields.Error(err))
	}
}

func (rt *runtime) devArtifact(repoPath string) (*artifact.Development, error) {
	compiler := &artifact.MavenCompiler{}
	return artifact.FromRepo(repoPath, rt.versions, rt.hasher, rt.scanner, compiler, rt.cfg)
}

// officialArtifact resolves the newest known build of the requested version,
// or of the newest known version when versionName is empty.
func (rt *runtime) officialArtifact(ctx context.Context, versionName string, force bool) (*artifact.Official, error) {
	var version mcversion.Version
	if versionName != "" {
		var err error
		version, err = rt.versions.Parse(versionName)
		if err != nil {
			return nil, err
		}
	} else {
		names, err := rt.client.Versions(ctx)
		if err != nil {
			return nil, err
		}
		latest, ok := rt.versions.Latest(names)
		if !ok {
			return nil, fmt.Errorf("catalog lists no parseable minecraft versions")
		}
		version = latest
	}

	builds, err := rt.client.KnownBuilds(ctx, version, force)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("no known Paper builds for minecraft %s", version)
	}
	return artifact.NewOfficial(version, builds[len(builds)-1], rt.client, rt.hasher, rt.cfg), nil
}

// ensureCurrent drives one artifact through check and update. It returns the
// artifact that is now valid on disk (possibly a replacement).
func ensureCurrent(ctx context.Context, rt *runtime, art artifact.Artifact, force bool) (artifact.Artifact, error) {
	replacement, err := art.CheckForUpdates(ctx, artifact.CheckOptions{Force: force})
	invalid := false
	switch {
	case err == nil && replacement == nil:
		rt.recorder.ObserveValidation("valid")
		if !force {
			slog.Info("Artifact is current", logfields.Jar(art.ResolvedPath()))
			return art, nil
		}
	case err == nil:
		art = replacement
		slog.Info("Switching to updated artifact", slog.String("artifact", art.Describe()))
	case cache.IsInvalidation(err):
		invalid = true
		rt.recorder.ObserveValidation(cache.Kind(err))
		slog.Info("Cached artifact is stale", logfields.Error(err))
	default:
		rt.recorder.ObserveValidation("error")
		return nil, err
	}

	if err := art.Update(ctx, force || invalid); err != nil {
		return nil, err
	}
	return art, nil
}

func runOfficial(ctx context.Context, rt *runtime, versionName string, force bool) error {
	off, err := rt.officialArtifact(ctx, versionName, force)
	if err != nil {
		return err
	}
	art, err := ensureCurrent(ctx, rt, off, force)
	if err != nil {
		rt.recorder.ObserveDownload("error")
		return err
	}
	rt.recorder.ObserveDownload("ok")
	fmt.Println(art.ResolvedPath())
	return nil
}

func runDev(ctx context.Context, rt *runtime, repoPath string, force bool) error {
	dev, err := rt.devArtifact(repoPath)
	if err != nil {
		return err
	}
	slog.Info("Building development jar",
		logfields.Repository(repoPath), logfields.Version(dev.Version().Name))
	if _, err := ensureCurrent(ctx, rt, dev, force); err != nil {
		rt.recorder.ObserveCompile("error")
		return err
	}
	rt.recorder.ObserveCompile("ok")
	fmt.Println(dev.ResolvedPath())
	return nil
}

func runStatus(ctx context.Context, rt *runtime, repoPath string) error {
	dev, err := rt.devArtifact(repoPath)
	if err != nil {
		return err
	}
	err = artifact.ValidateCache(ctx, dev)
	rt.recorder.ObserveValidation(cache.Kind(err))

	fmt.Printf("artifact:  %s\n", dev.ResolvedPath())
	fmt.Printf("signature: %s\n", dev.SignaturePath())
	fmt.Printf("verdict:   %s\n", cache.Kind(err))
	var detailed cache.Detailed
	if errors.As(err, &detailed) {
		for _, line := range detailed.Details() {
			fmt.Printf("  %s\n", line)
		}
	}
	if err != nil && !cache.IsInvalidation(err) {
		return err
	}
	return nil
}

func runPlugins(ctx context.Context, rt *runtime, force bool) error {
	configured, err := plugins.Load(rt.cfg.PluginsFile)
	if err != nil {
		return err
	}
	pluginDir := rt.cfg.PluginDir()
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return fmt.Errorf("create plugin dir %s: %w", pluginDir, err)
	}

	for _, p := range configured {
		for _, jar := range p.Jars() {
			downloaded, err := p.Strategy.Download(ctx, jar, pluginDir, force)
			if err != nil {
				rt.recorder.ObserveDownload("error")
				return err
			}
			if downloaded {
				rt.recorder.ObserveDownload("ok")
				slog.Info("Plugin installed", logfields.Plugin(p.Name), logfields.Jar(jar.String()))
			} else {
				slog.Debug("Plugin already installed", logfields.Plugin(p.Name), logfields.Jar(jar.String()))
			}
		}
		if err := p.Check(pluginDir); err != nil {
			return err
		}
	}
	return nil
}

func runServer(ctx context.Context, rt *runtime) error {
	var art artifact.Artifact
	var err error
	switch CLI.Run.Kind {
	case "official":
		art, err = rt.officialArtifact(ctx, CLI.Run.Version, CLI.Run.Force)
	default:
		art, err = rt.devArtifact(repoOr(CLI.Run.Repo, rt.cfg))
	}
	if err != nil {
		return err
	}
	art, err = ensureCurrent(ctx, rt, art, CLI.Run.Force)
	if err != nil {
		return err
	}

	if err := runPlugins(ctx, rt, false); err != nil {
		return err
	}

	available, err := launch.DetectAll(rt.cfg.JvmDir)
	if err != nil {
		return err
	}
	jvm, err := launch.Pick(available, CLI.Run.Java)
	if err != nil {
		return err
	}
	slog.Info("Selected JVM",
		slog.String("version", jvm.Version), logfields.Path(jvm.BasePath))

	if err := os.MkdirAll(rt.cfg.ServerDir, 0o755); err != nil {
		return fmt.Errorf("create server dir %s: %w", rt.cfg.ServerDir, err)
	}
	// The server runs in ServerDir, so the jar path must survive the chdir.
	jarPath, err := filepath.Abs(art.ResolvedPath())
	if err != nil {
		return err
	}
	launcher := &launch.Launcher{
		ServerDir: rt.cfg.ServerDir,
		JVM:       jvm,
		Opts: launch.Options{
			Memory:       rt.cfg.Memory,
			YourkitAgent: rt.cfg.YourkitAgent,
		},
		DryRun: CLI.Run.DryRun,
	}
	return launcher.Run(ctx, jarPath)
}

func runWatch(ctx context.Context, rt *runtime, repoPath string) error {
	w := &watch.Watcher{
		RepoPath:    repoPath,
		MetricsAddr: rt.cfg.MetricsAddr,
		Checker:     &devChecker{rt: rt, repoPath: repoPath},
		Recorder:    rt.recorder,
		Registry:    rt.registry,
	}
	return w.Run(ctx)
}

// devChecker re-validates the development cache for watch mode. The repo is
// reopened on every check so version bumps in the checkout are picked up.
type devChecker struct {
	rt       *runtime
	repoPath string
}

func (c *devChecker) Check(ctx context.Context) (string, error) {
	dev, err := c.rt.devArtifact(c.repoPath)
	if err != nil {
		return "", err
	}
	err = artifact.ValidateCache(ctx, dev)
	if err != nil && !cache.IsInvalidation(err) {
		return "", err
	}
	return cache.Kind(err), nil
}
