package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
)

// Strategy obtains a plugin jar. Download reports whether the jar was
// actually refreshed.
type Strategy interface {
	Download(ctx context.Context, jar Jar, pluginDir string, force bool) (bool, error)
}

var patternVar = regexp.MustCompile(`\{([a-z_]+)\}`)

// URLPatternStrategy downloads from a URL template with {plugin_name},
// {version}, and {jar_name} substitutions.
type URLPatternStrategy struct {
	Pattern string
}

func (s URLPatternStrategy) expand(jar Jar) (string, error) {
	vars := jar.Vars()
	var missing string
	expanded := patternVar.ReplaceAllStringFunc(s.Pattern, func(match string) string {
		key := match[1 : len(match)-1]
		value, ok := vars[key]
		if !ok {
			missing = key
		}
		return value
	})
	if missing != "" {
		return "", &MalformedConfigError{Plugin: jar.Plugin.Name, Reason: fmt.Sprintf("unknown key %q in URL pattern %s", missing, s.Pattern)}
	}
	if strings.Contains(expanded, "{") {
		return "", &MalformedConfigError{Plugin: jar.Plugin.Name, Reason: fmt.Sprintf("unresolved placeholder in URL pattern %s", s.Pattern)}
	}
	return expanded, nil
}

func (s URLPatternStrategy) Download(ctx context.Context, jar Jar, pluginDir string, force bool) (bool, error) {
	// Validate the URL before testing for existence so a broken pattern is
	// reported even when the jar is already installed.
	url, err := s.expand(jar)
	if err != nil {
		return false, err
	}
	if !force && jar.Exists(pluginDir) {
		return false, nil
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("unable to download jar %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("unable to download jar %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unable to download jar %s: status %s", url, resp.Status)
	}

	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return false, fmt.Errorf("unable to create plugin directory: %w", err)
	}
	dest := jar.Path(pluginDir)
	partPath := dest + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return false, fmt.Errorf("unable to write jar %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(partPath)
		return false, fmt.Errorf("unable to write jar %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return false, fmt.Errorf("unable to write jar %s: %w", dest, err)
	}
	if err := os.Rename(partPath, dest); err != nil {
		return false, fmt.Errorf("unable to finalize jar %s: %w", dest, err)
	}
	return true, nil
}

// ManualStrategy covers plugins the user installs by hand. It never
// refreshes; a missing jar (or a forced refresh) is an error.
type ManualStrategy struct{}

func (ManualStrategy) Download(_ context.Context, jar Jar, pluginDir string, force bool) (bool, error) {
	if force {
		return false, &ManualPluginMissingError{
			Jar:    jar,
			Reason: fmt.Sprintf("can't force-download a manually installed plugin: %s", jar),
		}
	}
	if !jar.Exists(pluginDir) {
		return false, &ManualPluginMissingError{Jar: jar}
	}
	return false, nil
}
