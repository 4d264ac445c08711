package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Fetcher retrieves the document behind a non-plugin, non-blueprint
// import URL. The engine holds one and delegates to it only on the
// passthrough path.
type Fetcher interface {
	Fetch(ctx context.Context, importURL string) ([]byte, error)
}

// DefaultFetcher retrieves http(s):// and file:// URLs.
type DefaultFetcher struct {
	httpc *http.Client
}

// NewDefaultFetcher creates a generic URL fetcher.
func NewDefaultFetcher(httpc *http.Client) *DefaultFetcher {
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	return &DefaultFetcher{httpc: httpc}
}

// Fetch retrieves the document at the given URL.
func (f *DefaultFetcher) Fetch(ctx context.Context, importURL string) ([]byte, error) {
	parsed, err := url.Parse(importURL)
	if err != nil {
		return nil, NewMalformedError(fmt.Sprintf("invalid import url %s", importURL), err)
	}

	switch parsed.Scheme {
	case "file":
		data, err := os.ReadFile(parsed.Path)
		if err != nil {
			return nil, NewNotFoundError(fmt.Sprintf("import %s could not be read", importURL), err)
		}
		return data, nil

	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, importURL, nil)
		if err != nil {
			return nil, NewMalformedError(fmt.Sprintf("invalid import url %s", importURL), err)
		}
		resp, err := f.httpc.Do(req)
		if err != nil {
			return nil, NewTransportError(fmt.Sprintf("failed to fetch import %s", importURL), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, NewTransportError(
				fmt.Sprintf("fetching import %s returned %d: %s",
					importURL, resp.StatusCode, strings.TrimSpace(string(body))), nil)
		}
		return io.ReadAll(resp.Body)

	default:
		return nil, NewMalformedError(fmt.Sprintf("unsupported import url scheme: %s", importURL), nil)
	}
}
