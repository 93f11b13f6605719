package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"paperctl/internal/cache"
	"paperctl/internal/config"
	"paperctl/internal/gitstate"
	"paperctl/internal/hashing"
	"paperctl/internal/mcversion"
)

// fakeCompiler mimics a build tool: it writes the expected jar unless told
// not to, counting invocations.
type fakeCompiler struct {
	calls     int
	skipWrite bool
	fail      bool
}

func (f *fakeCompiler) Compile(_ context.Context, dir string) error {
	f.calls++
	if f.fail {
		return &BuildFailedError{Dir: dir, Err: errors.New("simulated failure")}
	}
	if f.skipWrite {
		return nil
	}
	jar := filepath.Join(dir, "Paper-Server", "target", "paper-1.16.5.jar")
	if err := os.MkdirAll(filepath.Dir(jar), 0o750); err != nil {
		return err
	}
	return os.WriteFile(jar, []byte(fmt.Sprintf("compiled jar %d", f.calls)), 0o600)
}

func initDevRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Paper")
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init repo: %v", err)
	}

	pom := filepath.Join(dir, "work", "CraftBukkit", "pom.xml")
	if err := os.MkdirAll(filepath.Dir(pom), 0o750); err != nil {
		t.Fatalf("Failed to create dirs: %v", err)
	}
	pomContent := "<project>\n  <properties>\n    <minecraft.version>1.16.5</minecraft.version>\n  </properties>\n</project>\n"
	if err := os.WriteFile(pom, []byte(pomContent), 0o600); err != nil {
		t.Fatalf("Failed to write pom: %v", err)
	}
	// Keep build output out of the change scan, like the real checkout does.
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("Paper-Server/\n"), 0o600); err != nil {
		t.Fatalf("Failed to write .gitignore: %v", err)
	}

	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	if _, err := w.Add("."); err != nil {
		t.Fatalf("Failed to add files: %v", err)
	}
	if _, err := w.Commit("Initial import", &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com"},
	}); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	return dir
}

func newDevFixture(t *testing.T) (*Development, *fakeCompiler) {
	t.Helper()
	repoPath := initDevRepo(t)
	compiler := &fakeCompiler{}
	cfg := &config.Config{CacheDir: t.TempDir()}
	dev, err := FromRepo(repoPath, mcversion.NewStore(), &hashing.Hasher{}, gitstate.NewScanner(), compiler, cfg)
	if err != nil {
		t.Fatalf("FromRepo failed: %v", err)
	}
	return dev, compiler
}

func TestFromRepoDetectsVersion(t *testing.T) {
	dev, _ := newDevFixture(t)
	if dev.Version().Name != "1.16.5" {
		t.Errorf("Expected version 1.16.5, got %s", dev.Version())
	}
	if !strings.HasSuffix(dev.ResolvedPath(), filepath.Join("Paper-Server", "target", "paper-1.16.5.jar")) {
		t.Errorf("Unexpected resolved path: %s", dev.ResolvedPath())
	}
}

func TestFromRepoNotARepo(t *testing.T) {
	cfg := &config.Config{CacheDir: t.TempDir()}
	_, err := FromRepo(t.TempDir(), mcversion.NewStore(), &hashing.Hasher{}, gitstate.NewScanner(), &fakeCompiler{}, cfg)
	if err == nil {
		t.Fatal("FromRepo should reject a non-repository")
	}
}

func TestDetectVersionFromPomMissingClosingTag(t *testing.T) {
	pom := filepath.Join(t.TempDir(), "pom.xml")
	if err := os.WriteFile(pom, []byte("<minecraft.version>1.16.5\n"), 0o600); err != nil {
		t.Fatalf("Failed to write pom: %v", err)
	}
	if _, err := detectVersionFromPom(pom); err == nil {
		t.Fatal("A line without a closing tag should fail")
	}
}

func TestDevUpdateCompilesAndRecordsSignature(t *testing.T) {
	dev, compiler := newDevFixture(t)

	if err := dev.Update(context.Background(), true); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if compiler.calls != 1 {
		t.Errorf("Expected one compile, got %d", compiler.calls)
	}
	if _, err := os.Stat(dev.SignaturePath()); err != nil {
		t.Errorf("Signature file should exist: %v", err)
	}

	// The fresh jar validates against its own recording.
	replacement, err := dev.CheckForUpdates(context.Background(), CheckOptions{})
	if err != nil || replacement != nil {
		t.Errorf("Fresh build should validate: replacement=%v err=%v", replacement, err)
	}
}

func TestDevUpdateSkipsValidCache(t *testing.T) {
	dev, compiler := newDevFixture(t)
	if err := dev.Update(context.Background(), true); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := dev.Update(context.Background(), false); err != nil {
		t.Fatalf("Second update failed: %v", err)
	}
	if compiler.calls != 1 {
		t.Errorf("Valid cache should not recompile, got %d compiles", compiler.calls)
	}
}

func TestDevUpdateRebuildsOnSourceChange(t *testing.T) {
	dev, compiler := newDevFixture(t)
	if err := dev.Update(context.Background(), true); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dev.RepoPath(), "x.txt"), []byte("drift"), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := dev.CheckForUpdates(context.Background(), CheckOptions{})
	var mismatch *cache.UntrackedChangesMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected UntrackedChangesMismatchError, got %v", err)
	}
	if len(mismatch.Changes) != 1 || mismatch.Changes[0].Path != "x.txt" || mismatch.Changes[0].Kind != cache.ChangeAdded {
		t.Errorf("x.txt should be a single Added entry: %v", mismatch.Changes)
	}

	if err := dev.Update(context.Background(), false); err != nil {
		t.Fatalf("Update after change failed: %v", err)
	}
	if compiler.calls != 2 {
		t.Errorf("Expected a recompile, got %d compiles", compiler.calls)
	}
	if err := dev.Update(context.Background(), false); err != nil {
		t.Fatalf("Update after rebuild failed: %v", err)
	}
	if compiler.calls != 2 {
		t.Error("Rebuilt artifact should validate without another compile")
	}
}

// initNestedCheckout turns dir into its own repository with the build output
// ignored, the way the Paper build leaves Paper-Server and Paper-API.
func initNestedCheckout(t *testing.T, dir string) {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init nested repo: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("target/\n"), 0o600); err != nil {
		t.Fatalf("Failed to write .gitignore: %v", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	if _, err := w.Add("."); err != nil {
		t.Fatalf("Failed to add files: %v", err)
	}
	if _, err := w.Commit("Initial import", &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com"},
	}); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
}

func TestDevDetectsNestedCheckoutChanges(t *testing.T) {
	// The root repository gitignores Paper-Server, so its edits are invisible
	// to the root status. They still have to invalidate the cache.
	dev, _ := newDevFixture(t)
	serverDir := filepath.Join(dev.RepoPath(), "Paper-Server")
	initNestedCheckout(t, serverDir)

	if err := dev.Update(context.Background(), true); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if replacement, err := dev.CheckForUpdates(context.Background(), CheckOptions{}); err != nil || replacement != nil {
		t.Fatalf("Fresh build should validate: replacement=%v err=%v", replacement, err)
	}

	if err := os.WriteFile(filepath.Join(serverDir, "Main.java"), []byte("class Main {}"), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := dev.CheckForUpdates(context.Background(), CheckOptions{})
	var mismatch *cache.UntrackedChangesMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected UntrackedChangesMismatchError, got %v", err)
	}
	found := false
	for _, change := range mismatch.Changes {
		if change.Path == "Paper-Server/Main.java" && change.Kind == cache.ChangeAdded {
			found = true
		}
	}
	if !found {
		t.Errorf("Nested edit should surface in the diff: %v", mismatch.Changes)
	}

	if dirty, err := dev.Dirty(); err != nil || !dirty {
		t.Errorf("Nested edit should make the checkout dirty: dirty=%v err=%v", dirty, err)
	}
}

func TestDevValidateReusesRecordedSignature(t *testing.T) {
	dev, _ := newDevFixture(t)
	if err := dev.Update(context.Background(), true); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// The record saved this run is held in memory; mangling the side-car on
	// disk must not affect validation until a new resolver rereads it.
	if err := os.WriteFile(dev.SignaturePath(), []byte("{broken"), 0o600); err != nil {
		t.Fatalf("Failed to overwrite signature: %v", err)
	}
	if replacement, err := dev.CheckForUpdates(context.Background(), CheckOptions{}); err != nil || replacement != nil {
		t.Errorf("In-memory record should validate: replacement=%v err=%v", replacement, err)
	}

	fresh, err := FromRepo(dev.RepoPath(), mcversion.NewStore(), &hashing.Hasher{}, gitstate.NewScanner(), &fakeCompiler{}, dev.cfg)
	if err != nil {
		t.Fatalf("FromRepo failed: %v", err)
	}
	if _, err := fresh.CheckForUpdates(context.Background(), CheckOptions{}); err == nil {
		t.Error("A fresh resolver should reject the mangled record on disk")
	}
}

func TestDevForcedCheckReturnsSelf(t *testing.T) {
	dev, compiler := newDevFixture(t)

	replacement, err := dev.CheckForUpdates(context.Background(), CheckOptions{Force: true})
	if err != nil {
		t.Fatalf("CheckForUpdates failed: %v", err)
	}
	if replacement != Artifact(dev) {
		t.Error("Forced check should return the artifact itself")
	}
	if compiler.calls != 0 {
		t.Error("Forced check must not compile")
	}
}

func TestDevUpdateArtifactNotProduced(t *testing.T) {
	dev, compiler := newDevFixture(t)
	compiler.skipWrite = true

	err := dev.Update(context.Background(), true)
	var notProduced *ArtifactNotProducedError
	if !errors.As(err, &notProduced) {
		t.Fatalf("Expected ArtifactNotProducedError, got %v", err)
	}
}

func TestDevUpdateBuildFailure(t *testing.T) {
	dev, compiler := newDevFixture(t)
	compiler.fail = true

	err := dev.Update(context.Background(), true)
	var failed *BuildFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Expected BuildFailedError, got %v", err)
	}
}

func TestDevDescribe(t *testing.T) {
	dev, _ := newDevFixture(t)

	descr := dev.Describe()
	if !strings.HasPrefix(descr, "Paper-") || strings.HasSuffix(descr, "-dirty") {
		t.Errorf("Clean checkout should describe as Paper-<head>: %s", descr)
	}

	if err := os.WriteFile(filepath.Join(dev.RepoPath(), "x.txt"), []byte("drift"), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if !strings.HasSuffix(dev.Describe(), "-dirty") {
		t.Errorf("Dirty checkout should carry the -dirty suffix: %s", dev.Describe())
	}
}
