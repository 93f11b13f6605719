// Package plugins manages the set of plugin jars a server expects, loaded
// from a YAML manifest and downloaded on demand.
package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// MalformedConfigError reports an invalid plugin manifest entry.
type MalformedConfigError struct {
	Plugin string
	Reason string
}

func (e *MalformedConfigError) Error() string {
	return fmt.Sprintf("malformed plugin config for %s: %s", e.Plugin, e.Reason)
}

// ManualPluginMissingError reports a manually installed plugin jar that is
// absent (or that the user tried to force-download).
type ManualPluginMissingError struct {
	Jar    Jar
	Reason string
}

func (e *ManualPluginMissingError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("jar must be downloaded manually: %s", e.Jar)
}

// Jar is one concrete plugin jar file on disk.
type Jar struct {
	Plugin *Plugin
	Name   string
}

func (j Jar) String() string {
	return fmt.Sprintf("%s-v%s.jar", j.Name, j.Plugin.Version)
}

// Path resolves the jar's install location under pluginDir.
func (j Jar) Path(pluginDir string) string {
	return filepath.Join(pluginDir, j.String())
}

// Exists reports whether the jar is installed.
func (j Jar) Exists(pluginDir string) bool {
	info, err := os.Stat(j.Path(pluginDir))
	return err == nil && !info.IsDir()
}

// Vars returns the substitution variables available to URL patterns.
func (j Jar) Vars() map[string]string {
	vars := j.Plugin.vars()
	vars["jar_name"] = j.Name
	return vars
}

// Plugin is one configured plugin: a version plus a download strategy, and
// optionally multiple jars.
type Plugin struct {
	Name     string
	Version  string
	JarNames []string
	Strategy Strategy
}

func (p *Plugin) String() string {
	return fmt.Sprintf("%s v%s", p.Name, p.Version)
}

func (p *Plugin) vars() map[string]string {
	return map[string]string{"plugin_name": p.Name, "version": p.Version}
}

// Jars expands the plugin into its jar files. A plugin with no explicit jar
// list is a single jar named after the plugin.
func (p *Plugin) Jars() []Jar {
	if len(p.JarNames) == 0 {
		return []Jar{{Plugin: p, Name: p.Name}}
	}
	jars := make([]Jar, len(p.JarNames))
	for i, name := range p.JarNames {
		jars[i] = Jar{Plugin: p, Name: name}
	}
	return jars
}

// Check verifies every jar of the plugin exists under pluginDir.
func (p *Plugin) Check(pluginDir string) error {
	for _, jar := range p.Jars() {
		if !jar.Exists(pluginDir) {
			if len(p.JarNames) > 0 {
				return fmt.Errorf("missing jar: %s", jar)
			}
			return fmt.Errorf("missing plugin: %s", p)
		}
	}
	return nil
}

// rawPlugin is the YAML shape of one manifest entry.
type rawPlugin struct {
	Version        string   `yaml:"version"`
	Jars           []string `yaml:"jars,omitempty"`
	URL            string   `yaml:"url,omitempty"`
	ManualDownload bool     `yaml:"manual-download,omitempty"`
}

// Load reads the plugin manifest at path. Plugins come back sorted by name
// for deterministic processing order.
func Load(path string) ([]*Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load plugin manifest %s: %w", path, err)
	}
	var raw map[string]rawPlugin
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse plugin manifest %s: %w", path, err)
	}

	plugins := make([]*Plugin, 0, len(raw))
	for name, entry := range raw {
		plugin, err := fromRaw(name, entry)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name < plugins[j].Name })
	return plugins, nil
}

func fromRaw(name string, entry rawPlugin) (*Plugin, error) {
	if entry.Version == "" {
		return nil, &MalformedConfigError{Plugin: name, Reason: "missing required key: version"}
	}
	var strategy Strategy
	switch {
	case entry.ManualDownload:
		strategy = ManualStrategy{}
	case entry.URL != "":
		strategy = URLPatternStrategy{Pattern: entry.URL}
	default:
		return nil, &MalformedConfigError{Plugin: name, Reason: "no download strategy (need url or manual-download)"}
	}
	return &Plugin{Name: name, Version: entry.Version, JarNames: entry.Jars, Strategy: strategy}, nil
}
