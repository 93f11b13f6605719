package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"paperctl/internal/cache"
	"paperctl/internal/catalog"
	"paperctl/internal/config"
	"paperctl/internal/hashing"
	"paperctl/internal/mcversion"
	"paperctl/internal/retry"
)

type catalogFixture struct {
	builds     []int
	jarContent []byte
	sha        string
}

func (f *catalogFixture) handler() http.Handler {
	digest := sha256.Sum256(f.jarContent)
	f.sha = hex.EncodeToString(digest[:])
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/paper/versions/1.16.5", func(w http.ResponseWriter, r *http.Request) {
		_ = writeJSON(w, fmt.Sprintf(`{"project_id":"paper","builds":%s}`, intsJSON(f.builds)))
	})
	mux.HandleFunc("/projects/paper/versions/1.16.5/builds/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".jar") {
			_, _ = w.Write(f.jarContent)
			return
		}
		_ = writeJSON(w, fmt.Sprintf(`{
			"project_id": "paper",
			"project_name": "Paper",
			"version": "1.16.5",
			"build": 11,
			"time": "2021-03-21T12:00:00.000Z",
			"changes": [],
			"downloads": {"application": {"name": "paper-1.16.5-11.jar", "sha256": %q}}
		}`, f.sha))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, body string) error {
	w.Header().Set("Content-Type", "application/json")
	_, err := w.Write([]byte(body))
	return err
}

func intsJSON(values []int) string {
	out := "["
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprint(v)
	}
	return out + "]"
}

func newOfficialFixture(t *testing.T, builds []int, current int) (*Official, *catalogFixture) {
	t.Helper()
	fixture := &catalogFixture{builds: builds, jarContent: []byte("official jar bytes")}
	srv := httptest.NewServer(fixture.handler())
	t.Cleanup(srv.Close)

	policy := retry.NewPolicy(retry.BackoffFixed, time.Millisecond, time.Millisecond, 0)
	client := catalog.NewClient(srv.URL, nil, policy)
	cfg := &config.Config{CacheDir: t.TempDir()}
	version, err := mcversion.Parse("1.16.5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return NewOfficial(version, current, client, &hashing.Hasher{}, cfg), fixture
}

func TestOfficialUpdateAvailable(t *testing.T) {
	official, _ := newOfficialFixture(t, []int{10, 11}, 10)

	replacement, err := official.CheckForUpdates(context.Background(), CheckOptions{})
	if err != nil {
		t.Fatalf("CheckForUpdates failed: %v", err)
	}
	updated, ok := replacement.(*Official)
	if !ok || updated.BuildNumber() != 11 {
		t.Fatalf("Expected replacement pointing at build 11, got %v", replacement)
	}
	if updated.Describe() != "Paper-11" {
		t.Errorf("Unexpected description: %s", updated.Describe())
	}
}

func TestOfficialCatalogInconsistency(t *testing.T) {
	official, _ := newOfficialFixture(t, []int{10, 11}, 12)

	_, err := official.CheckForUpdates(context.Background(), CheckOptions{})
	var inconsistent *catalog.InconsistencyError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("Expected InconsistencyError, got %v", err)
	}
}

func TestOfficialMissingJarInvalidates(t *testing.T) {
	official, _ := newOfficialFixture(t, []int{11}, 11)

	_, err := official.CheckForUpdates(context.Background(), CheckOptions{})
	var missing *cache.ArtifactMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected ArtifactMissingError, got %v", err)
	}
}

func TestOfficialUpdateDownloadsAndVerifies(t *testing.T) {
	official, fixture := newOfficialFixture(t, []int{11}, 11)

	if err := official.Update(context.Background(), false); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, err := os.ReadFile(official.ResolvedPath())
	if err != nil {
		t.Fatalf("Failed to read jar: %v", err)
	}
	if string(got) != string(fixture.jarContent) {
		t.Error("Downloaded jar content mismatch")
	}

	// With the jar in place the full check succeeds.
	replacement, err := official.CheckForUpdates(context.Background(), CheckOptions{})
	if err != nil || replacement != nil {
		t.Errorf("Freshly downloaded build should validate: replacement=%v err=%v", replacement, err)
	}
}

func TestOfficialUpdateSkipsExistingJar(t *testing.T) {
	official, _ := newOfficialFixture(t, []int{11}, 11)
	if err := official.Update(context.Background(), false); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	info, err := os.Stat(official.ResolvedPath())
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	if err := official.Update(context.Background(), false); err != nil {
		t.Fatalf("Second update failed: %v", err)
	}
	again, err := os.Stat(official.ResolvedPath())
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !again.ModTime().Equal(info.ModTime()) {
		t.Error("Unforced update should leave an existing jar alone")
	}
}

func TestOfficialCorruptCacheDetected(t *testing.T) {
	official, _ := newOfficialFixture(t, []int{11}, 11)
	if err := official.Update(context.Background(), false); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := os.WriteFile(official.ResolvedPath(), []byte("tampered"), 0o600); err != nil {
		t.Fatalf("Failed to tamper with jar: %v", err)
	}

	_, err := official.CheckForUpdates(context.Background(), CheckOptions{IgnoreUpdates: true})
	var mismatch *cache.ArtifactHashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected ArtifactHashMismatchError, got %v", err)
	}
}

func TestOfficialDownloadVerificationFailure(t *testing.T) {
	official, fixture := newOfficialFixture(t, []int{11}, 11)
	// Announce one hash, serve different bytes.
	fixture.sha = "0000000000000000000000000000000000000000000000000000000000000000"

	err := official.Update(context.Background(), false)
	var verification *DownloadVerificationError
	if !errors.As(err, &verification) {
		t.Fatalf("Expected DownloadVerificationError, got %v", err)
	}
}
