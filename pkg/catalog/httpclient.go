package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiPrefix is the manager REST API version prefix.
const apiPrefix = "/api/v3.1"

// tenantHeader carries the tenant on every manager API request.
const tenantHeader = "Tenant"

// HTTPClient implements the Client interface against the manager REST
// API. It is what out-of-process resolvers (e.g. the workflow worker)
// use to reach the catalog.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPClient creates a catalog client for the given manager base
// URL (e.g. "http://manager:8080").
func NewHTTPClient(baseURL string, httpc *http.Client) *HTTPClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
	}
}

// listResponse is the envelope the manager API wraps collections in.
type listResponse struct {
	Items []Plugin `json:"items"`
}

// ListPlugins returns all plugin candidates matching the filter.
func (c *HTTPClient) ListPlugins(ctx context.Context, tenant string, filter PluginFilter) ([]Plugin, error) {
	query := url.Values{}
	if filter.PackageName != "" {
		query.Set("package_name", filter.PackageName)
	}
	if filter.Distribution != "" {
		query.Set("distribution", filter.Distribution)
	}

	endpoint := c.baseURL + apiPrefix + "/plugins"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var list listResponse
	if err := c.getJSON(ctx, tenant, endpoint, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// UploadPlugin posts a packaged plugin archive to the catalog.
func (c *HTTPClient) UploadPlugin(ctx context.Context, tenant string, spec UploadSpec, archive io.Reader) (*Plugin, error) {
	query := url.Values{}
	query.Set("package_name", spec.PackageName)
	query.Set("package_version", spec.PackageVersion)
	query.Set("distribution", spec.Distribution)
	query.Set("distribution_release", spec.DistributionRelease)
	if spec.ArchiveName != "" {
		query.Set("archive_name", spec.ArchiveName)
	}
	if spec.Title != "" {
		query.Set("title", spec.Title)
	}
	endpoint := c.baseURL + apiPrefix + "/plugins?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, archive)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set(tenantHeader, tenant)
	req.Header.Set("Content-Type", "application/zip")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog upload to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("plugin %s %s: %w", spec.PackageName, spec.PackageVersion, ErrConflict)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("catalog upload to %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var plugin Plugin
	if err := json.NewDecoder(resp.Body).Decode(&plugin); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &plugin, nil
}

// GetPluginYAML returns the plugin document for the given entry.
func (c *HTTPClient) GetPluginYAML(ctx context.Context, tenant, pluginID, dslVersion string) ([]byte, error) {
	endpoint := c.baseURL + apiPrefix + "/plugins/" + url.PathEscape(pluginID) + "/yaml"
	if dslVersion != "" {
		endpoint += "?dsl_version=" + url.QueryEscape(dslVersion)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(tenantHeader, tenant)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("plugin %s: %w", pluginID, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("catalog request to %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(resp.Body)
}

// GetBlueprint returns blueprint metadata by id.
func (c *HTTPClient) GetBlueprint(ctx context.Context, tenant, blueprintID string) (*Blueprint, error) {
	endpoint := c.baseURL + apiPrefix + "/blueprints/" + url.PathEscape(blueprintID)

	var bp Blueprint
	if err := c.getJSONForTenant(ctx, tenant, endpoint, &bp, blueprintID); err != nil {
		return nil, err
	}
	return &bp, nil
}

// ManagerInfo reports the manager's distribution and release.
func (c *HTTPClient) ManagerInfo(ctx context.Context) (*ManagerInfo, error) {
	endpoint := c.baseURL + apiPrefix + "/manager"

	var info ManagerInfo
	if err := c.getJSON(ctx, "", endpoint, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, tenant, endpoint string, out interface{}) error {
	return c.getJSONForTenant(ctx, tenant, endpoint, out, "")
}

func (c *HTTPClient) getJSONForTenant(ctx context.Context, tenant, endpoint string, out interface{}, entity string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if tenant != "" {
		req.Header.Set(tenantHeader, tenant)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && entity != "" {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("catalog request to %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}
