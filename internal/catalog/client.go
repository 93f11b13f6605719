// Package catalog talks to the remote Paper build catalog and memoizes its
// answers locally.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"paperctl/internal/logfields"
	"paperctl/internal/mcversion"
	"paperctl/internal/retry"
)

const projectID = "paper"

// Client queries the build catalog API. In-memory state is limited to the
// HTTP client; query memoization lives in the sqlite Store so force semantics
// stay explicit.
type Client struct {
	httpClient *http.Client
	baseURL    string
	store      *Store
	policy     retry.Policy
}

// NewClient creates a catalog client. store may be nil to disable memoization
// (every call hits the network).
func NewClient(baseURL string, store *Store, policy retry.Policy) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		store:      store,
		policy:     policy,
	}
}

// KnownBuilds returns the sorted build numbers the catalog knows for version.
// force clears the memoized answer first.
func (c *Client) KnownBuilds(ctx context.Context, version mcversion.Version, force bool) ([]int, error) {
	if c.store != nil {
		if force {
			if err := c.store.Clear(version.Name); err != nil {
				return nil, err
			}
		} else {
			builds, ok, err := c.store.BuildList(version.Name)
			if err != nil {
				return nil, err
			}
			if ok {
				return builds, nil
			}
		}
	}

	var payload struct {
		Builds []int `json:"builds"`
	}
	endpoint := fmt.Sprintf("/projects/%s/versions/%s", projectID, url.PathEscape(version.Name))
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	sort.Ints(payload.Builds)

	if c.store != nil {
		if err := c.store.PutBuildList(version.Name, payload.Builds); err != nil {
			return nil, err
		}
	}
	return payload.Builds, nil
}

// Versions returns every version name the catalog publishes for the project.
func (c *Client) Versions(ctx context.Context) ([]string, error) {
	var payload struct {
		Versions []string `json:"versions"`
	}
	if err := c.getJSON(ctx, "/projects/"+projectID, &payload); err != nil {
		return nil, err
	}
	return payload.Versions, nil
}

// buildPayload is the wire shape of a catalog build entry.
type buildPayload struct {
	ProjectID   string   `json:"project_id"`
	ProjectName string   `json:"project_name"`
	Version     string   `json:"version"`
	Build       int      `json:"build"`
	Time        string   `json:"time"`
	Changes     []Change `json:"changes"`
	Downloads   struct {
		Application struct {
			Name   string `json:"name"`
			SHA256 string `json:"sha256"`
		} `json:"application"`
	} `json:"downloads"`
}

// BuildInfo fetches the metadata of one build, memoized forever (published
// builds never change).
func (c *Client) BuildInfo(ctx context.Context, version mcversion.Version, buildNumber int) (*Build, error) {
	if c.store != nil {
		raw, ok, err := c.store.BuildInfo(version.Name, buildNumber)
		if err != nil {
			return nil, err
		}
		if ok {
			return decodeBuild(raw, version)
		}
	}

	endpoint := fmt.Sprintf("/projects/%s/versions/%s/builds/%d", projectID, url.PathEscape(version.Name), buildNumber)
	raw, err := c.getRaw(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	build, err := decodeBuild(raw, version)
	if err != nil {
		return nil, err
	}
	if c.store != nil {
		if err := c.store.PutBuildInfo(version.Name, buildNumber, raw); err != nil {
			return nil, err
		}
	}
	return build, nil
}

func decodeBuild(raw []byte, version mcversion.Version) (*Build, error) {
	var payload buildPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode build info: %w", err)
	}
	if payload.ProjectID != projectID {
		return nil, &InconsistencyError{Version: version, Reason: fmt.Sprintf("unexpected project id %q", payload.ProjectID)}
	}
	return &Build{
		ProjectID:    payload.ProjectID,
		ProjectName:  payload.ProjectName,
		Version:      version,
		Number:       payload.Build,
		Time:         payload.Time,
		Changes:      payload.Changes,
		DownloadName: payload.Downloads.Application.Name,
		SHA256:       payload.Downloads.Application.SHA256,
	}, nil
}

// Download streams the build's application jar to dest, writing through a
// .part file and renaming on success. Transient failures are retried per the
// client's policy. Returns the number of bytes written.
func (c *Client) Download(ctx context.Context, build *Build, dest string) (int64, error) {
	endpoint := fmt.Sprintf("/projects/%s/versions/%s/builds/%d/downloads/%s",
		projectID, url.PathEscape(build.Version.Name), build.Number, url.PathEscape(build.DownloadName))
	target := c.baseURL + endpoint

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create download directory: %w", err)
	}

	var written int64
	var lastErr error
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.policy.Delay(attempt)
			slog.Debug("Retrying download", logfields.URL(target), slog.Int("attempt", attempt), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}
		written, lastErr = c.downloadOnce(ctx, target, dest)
		if lastErr == nil {
			return written, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	return 0, lastErr
}

func (c *Client) downloadOnce(ctx context.Context, target, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return 0, &RequestError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &RequestError{URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, requestError(target, resp)
	}

	partPath := dest + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", partPath, err)
	}

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(partPath)
		return 0, fmt.Errorf("download %s: %w", target, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("sync %s: %w", partPath, err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", partPath, err)
	}
	if err := os.Rename(partPath, dest); err != nil {
		return 0, fmt.Errorf("finalize %s: %w", dest, err)
	}
	return written, nil
}

const userAgent = "paperctl/1.0"

func (c *Client) getJSON(ctx context.Context, endpoint string, result any) error {
	raw, err := c.getRaw(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, endpoint string) ([]byte, error) {
	target := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, &RequestError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, requestError(target, resp)
	}
	return io.ReadAll(resp.Body)
}

// requestError captures a bounded slice of the error body for diagnostics.
func requestError(target string, resp *http.Response) *RequestError {
	limitedBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	body := strings.ReplaceAll(string(limitedBody), "\n", " ")
	return &RequestError{URL: target, StatusCode: resp.StatusCode, Body: body}
}
