package plugins

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	return path
}

func TestLoadSortedByName(t *testing.T) {
	path := writeManifest(t, `
zeta:
  version: "2.0"
  url: https://example.com/{plugin_name}-{version}.jar
alpha:
  version: "1.0"
  manual-download: true
`)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Name != "alpha" || loaded[1].Name != "zeta" {
		t.Errorf("Plugins should come back sorted by name: %v", loaded)
	}
	if _, ok := loaded[0].Strategy.(ManualStrategy); !ok {
		t.Error("alpha should use the manual strategy")
	}
	if _, ok := loaded[1].Strategy.(URLPatternStrategy); !ok {
		t.Error("zeta should use the URL pattern strategy")
	}
}

func TestLoadMissingVersion(t *testing.T) {
	path := writeManifest(t, "broken:\n  url: https://example.com/x.jar\n")
	_, err := Load(path)
	var malformed *MalformedConfigError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedConfigError, got %v", err)
	}
	if malformed.Plugin != "broken" {
		t.Errorf("Error should name the plugin: %s", malformed.Plugin)
	}
}

func TestLoadMissingStrategy(t *testing.T) {
	path := writeManifest(t, "strange:\n  version: \"1.0\"\n")
	var malformed *MalformedConfigError
	if _, err := Load(path); !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedConfigError, got %v", err)
	}
}

func TestJarNaming(t *testing.T) {
	plugin := &Plugin{Name: "worldedit", Version: "7.2.5"}
	jars := plugin.Jars()
	if len(jars) != 1 {
		t.Fatalf("Plugin without explicit jars should expand to one: %v", jars)
	}
	if jars[0].String() != "worldedit-v7.2.5.jar" {
		t.Errorf("Unexpected jar name: %s", jars[0])
	}

	multi := &Plugin{Name: "essentials", Version: "2.19", JarNames: []string{"EssentialsX", "EssentialsXChat"}}
	jars = multi.Jars()
	if len(jars) != 2 || jars[1].String() != "EssentialsXChat-v2.19.jar" {
		t.Errorf("Explicit jar list should expand per name: %v", jars)
	}
}

func TestURLPatternExpand(t *testing.T) {
	plugin := &Plugin{Name: "worldedit", Version: "7.2.5", Strategy: URLPatternStrategy{
		Pattern: "https://example.com/{plugin_name}/{version}/{jar_name}.jar",
	}}
	url, err := plugin.Strategy.(URLPatternStrategy).expand(plugin.Jars()[0])
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if url != "https://example.com/worldedit/7.2.5/worldedit.jar" {
		t.Errorf("Unexpected expansion: %s", url)
	}
}

func TestURLPatternUnknownKey(t *testing.T) {
	plugin := &Plugin{Name: "worldedit", Version: "7.2.5"}
	strategy := URLPatternStrategy{Pattern: "https://example.com/{bogus_key}.jar"}

	_, err := strategy.Download(context.Background(), plugin.Jars()[0], t.TempDir(), false)
	var malformed *MalformedConfigError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedConfigError, got %v", err)
	}
}

func TestURLPatternBrokenPatternReportedEvenWhenInstalled(t *testing.T) {
	plugin := &Plugin{Name: "worldedit", Version: "7.2.5"}
	jar := plugin.Jars()[0]
	pluginDir := t.TempDir()
	if err := os.WriteFile(jar.Path(pluginDir), []byte("jar"), 0o600); err != nil {
		t.Fatalf("Failed to pre-install jar: %v", err)
	}

	strategy := URLPatternStrategy{Pattern: "https://example.com/{bogus_key}.jar"}
	if _, err := strategy.Download(context.Background(), jar, pluginDir, false); err == nil {
		t.Fatal("Broken pattern should be reported despite the jar existing")
	}
}

func TestURLPatternDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/worldedit-7.2.5.jar" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("plugin jar bytes"))
	}))
	defer srv.Close()

	plugin := &Plugin{Name: "worldedit", Version: "7.2.5"}
	jar := plugin.Jars()[0]
	strategy := URLPatternStrategy{Pattern: srv.URL + "/{plugin_name}-{version}.jar"}
	pluginDir := t.TempDir()

	downloaded, err := strategy.Download(context.Background(), jar, pluginDir, false)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if !downloaded {
		t.Error("First download should report a refresh")
	}
	content, err := os.ReadFile(jar.Path(pluginDir))
	if err != nil {
		t.Fatalf("Failed to read jar: %v", err)
	}
	if string(content) != "plugin jar bytes" {
		t.Error("Downloaded jar content mismatch")
	}

	downloaded, err = strategy.Download(context.Background(), jar, pluginDir, false)
	if err != nil {
		t.Fatalf("Second download failed: %v", err)
	}
	if downloaded {
		t.Error("Installed jar should not be re-downloaded without force")
	}
}

func TestManualStrategy(t *testing.T) {
	plugin := &Plugin{Name: "secret", Version: "1.0", Strategy: ManualStrategy{}}
	jar := plugin.Jars()[0]
	pluginDir := t.TempDir()

	_, err := plugin.Strategy.Download(context.Background(), jar, pluginDir, false)
	var missing *ManualPluginMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Missing manual jar should error, got %v", err)
	}

	if err := os.WriteFile(jar.Path(pluginDir), []byte("jar"), 0o600); err != nil {
		t.Fatalf("Failed to install jar: %v", err)
	}
	downloaded, err := plugin.Strategy.Download(context.Background(), jar, pluginDir, false)
	if err != nil {
		t.Fatalf("Installed manual jar should pass: %v", err)
	}
	if downloaded {
		t.Error("Manual strategy never refreshes")
	}

	if _, err := plugin.Strategy.Download(context.Background(), jar, pluginDir, true); err == nil {
		t.Error("Forcing a manual plugin should error")
	}
}

func TestCheck(t *testing.T) {
	plugin := &Plugin{Name: "worldedit", Version: "7.2.5"}
	pluginDir := t.TempDir()

	if err := plugin.Check(pluginDir); err == nil {
		t.Error("Check should fail while the jar is absent")
	}
	if err := os.WriteFile(plugin.Jars()[0].Path(pluginDir), []byte("jar"), 0o600); err != nil {
		t.Fatalf("Failed to install jar: %v", err)
	}
	if err := plugin.Check(pluginDir); err != nil {
		t.Errorf("Check should pass once installed: %v", err)
	}
}
