// Package marketplace implements the client for the external plugin
// marketplace: an independently-versioned HTTP JSON API listing
// publicly available plugin releases that are not yet in the local
// catalog.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// UnknownPluginError is returned when the marketplace responds
// successfully but knows nothing about the requested plugin name.
type UnknownPluginError struct {
	// Name is the plugin name that was searched for.
	Name string
}

func (e *UnknownPluginError) Error() string {
	return fmt.Sprintf("plugin %s is unknown to the marketplace", e.Name)
}

// Client talks to the marketplace API.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a marketplace client for the given API base URL.
func NewClient(baseURL string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
	}
}

// itemsEnvelope is the {"items": [...]} wrapper on list responses.
type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

// GetPlugin looks a plugin up by name. A transport or non-success
// response is an error naming the endpoint; an empty result set is an
// UnknownPluginError.
func (c *Client) GetPlugin(ctx context.Context, name string) (*PluginListing, error) {
	endpoint := c.baseURL + "/plugins?name=" + url.QueryEscape(name)

	var listings itemsEnvelope[PluginListing]
	if err := c.getJSON(ctx, endpoint, &listings); err != nil {
		return nil, err
	}
	if len(listings.Items) == 0 {
		return nil, &UnknownPluginError{Name: name}
	}

	// Multiple matches are possible for fuzzy names; the first item is
	// authoritative.
	return &listings.Items[0], nil
}

// ListVersions returns all published versions of a plugin id.
func (c *Client) ListVersions(ctx context.Context, pluginID string) ([]VersionRecord, error) {
	endpoint := c.baseURL + "/plugins/" + url.PathEscape(pluginID) + "/versions"

	var records itemsEnvelope[VersionRecord]
	if err := c.getJSON(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records.Items, nil
}

// Download streams the asset at the given URL into destDir. When
// filename is empty the URL's base name is used. Returns the path of
// the written file.
func (c *Client) Download(ctx context.Context, assetURL, destDir, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request for %s: %w", assetURL, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("download from %s failed: %w", assetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download from %s returned %d", assetURL, resp.StatusCode)
	}

	if filename == "" {
		parsed, err := url.Parse(assetURL)
		if err != nil {
			return "", fmt.Errorf("invalid download url %s: %w", assetURL, err)
		}
		filename = path.Base(parsed.Path)
	}

	filePath := filepath.Join(destDir, filename)
	f, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filePath, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write %s: %w", filePath, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", filePath, err)
	}

	return filePath, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace unreachable at %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("marketplace request to %s returned %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode marketplace response from %s: %w", endpoint, err)
	}
	return nil
}
