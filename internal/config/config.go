// Package config loads the paperctl configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// CacheDir holds official jars, the catalog query cache, and the
	// development signature side-car files.
	CacheDir string `yaml:"cache_dir"`
	// ServerDir is the working directory the server runs in; plugins live
	// under ServerDir/plugins.
	ServerDir string `yaml:"server_dir"`
	// Repo is the default path of the Paper source checkout.
	Repo string `yaml:"repo"`
	// CatalogURL is the base URL of the build catalog API.
	CatalogURL string `yaml:"catalog_url"`
	// Memory is the JVM heap size (-Xms/-Xmx), e.g. "1G".
	Memory string `yaml:"memory"`
	// JvmDir is the directory scanned for JVM installations.
	JvmDir string `yaml:"jvm_dir"`
	// YourkitAgent is the path of the optional profiler agent library.
	YourkitAgent string `yaml:"yourkit_agent,omitempty"`
	// PluginsFile is the plugin download manifest.
	PluginsFile string `yaml:"plugins_file"`
	// MetricsAddr is the listen address for /metrics in watch mode.
	MetricsAddr string `yaml:"metrics_addr"`

	Retry RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig configures download retry behaviour.
type RetryConfig struct {
	Mode       string        `yaml:"mode,omitempty"` // fixed|linear|exponential
	Initial    time.Duration `yaml:"initial,omitempty"`
	Max        time.Duration `yaml:"max,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists. Missing files are fine; the overlay only
	// matters for machines that keep catalog URLs or agent paths out of yaml.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Note: .env file couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()
	return &config, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = "cache"
	}
	if c.ServerDir == "" {
		c.ServerDir = "server"
	}
	if c.Repo == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Repo = filepath.Join(home, "git", "Paper")
		}
	}
	if c.CatalogURL == "" {
		c.CatalogURL = "https://api.papermc.io/v2"
	}
	if c.Memory == "" {
		c.Memory = "1G"
	}
	if c.JvmDir == "" {
		c.JvmDir = "/usr/lib/jvm"
	}
	if c.PluginsFile == "" {
		c.PluginsFile = "plugins.yaml"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:9464"
	}
	if c.Retry.Mode == "" {
		c.Retry.Mode = "linear"
	}
	if c.Retry.Initial == 0 {
		c.Retry.Initial = time.Second
	}
	if c.Retry.Max == 0 {
		c.Retry.Max = 30 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 2
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PAPERCTL_CATALOG_URL"); v != "" {
		c.CatalogURL = v
	}
	if v := os.Getenv("PAPERCTL_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("PAPERCTL_REPO"); v != "" {
		c.Repo = v
	}
}

// OfficialJarPath is the deterministic cache location for an official build.
func (c *Config) OfficialJarPath(buildNumber int) string {
	return filepath.Join(c.CacheDir, "official-builds", fmt.Sprintf("paper-%d.jar", buildNumber))
}

// SignaturePath is the side-car file recording the provenance of the
// development jar for the given version string.
func (c *Config) SignaturePath(version string) string {
	return filepath.Join(c.CacheDir, fmt.Sprintf("dev-signature-%s.json", version))
}

// CatalogCachePath is the sqlite database memoizing catalog queries.
func (c *Config) CatalogCachePath() string {
	return filepath.Join(c.CacheDir, "catalog-cache.db")
}

// PluginDir is where plugin jars are installed.
func (c *Config) PluginDir() string {
	return filepath.Join(c.ServerDir, "plugins")
}

const exampleConfig = `# paperctl configuration
cache_dir: cache
server_dir: server
repo: ${HOME}/git/Paper
catalog_url: https://api.papermc.io/v2
memory: 1G
jvm_dir: /usr/lib/jvm
plugins_file: plugins.yaml
metrics_addr: 127.0.0.1:9464
`

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
