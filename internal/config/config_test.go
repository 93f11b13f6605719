package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paperctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "cache_dir: /var/cache/paperctl\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CacheDir != "/var/cache/paperctl" {
		t.Errorf("Explicit value should survive: %s", cfg.CacheDir)
	}
	if cfg.ServerDir != "server" {
		t.Errorf("Missing server_dir should default: %s", cfg.ServerDir)
	}
	if cfg.Memory != "1G" {
		t.Errorf("Missing memory should default: %s", cfg.Memory)
	}
	if cfg.Retry.Mode != "linear" || cfg.Retry.Initial != time.Second || cfg.Retry.MaxRetries != 2 {
		t.Errorf("Retry defaults not applied: %+v", cfg.Retry)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load should fail on a missing file")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("PAPERCTL_TEST_DIR", "/opt/mc")
	path := writeConfig(t, "cache_dir: ${PAPERCTL_TEST_DIR}/cache\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CacheDir != "/opt/mc/cache" {
		t.Errorf("Environment should expand in values: %s", cfg.CacheDir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAPERCTL_CATALOG_URL", "http://localhost:9999/v2")
	path := writeConfig(t, "catalog_url: https://api.papermc.io/v2\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CatalogURL != "http://localhost:9999/v2" {
		t.Errorf("Environment override should win: %s", cfg.CatalogURL)
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := &Config{CacheDir: "cache", ServerDir: "server"}
	if got := cfg.OfficialJarPath(11); got != filepath.Join("cache", "official-builds", "paper-11.jar") {
		t.Errorf("Unexpected official jar path: %s", got)
	}
	if got := cfg.SignaturePath("1.16.5"); got != filepath.Join("cache", "dev-signature-1.16.5.json") {
		t.Errorf("Unexpected signature path: %s", got)
	}
	if got := cfg.CatalogCachePath(); got != filepath.Join("cache", "catalog-cache.db") {
		t.Errorf("Unexpected catalog cache path: %s", got)
	}
	if got := cfg.PluginDir(); got != filepath.Join("server", "plugins") {
		t.Errorf("Unexpected plugin dir: %s", got)
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paperctl.yaml")
	if err := Init(path, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.Contains(string(data), "cache_dir:") {
		t.Error("Example config should mention cache_dir")
	}

	if err := Init(path, false); err == nil {
		t.Error("Init should refuse to overwrite without force")
	}
	if err := Init(path, true); err != nil {
		t.Errorf("Forced init should overwrite: %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.CatalogURL == "" || cfg.CacheDir == "" || cfg.PluginsFile == "" {
		t.Errorf("Default config should be fully populated: %+v", cfg)
	}
}
