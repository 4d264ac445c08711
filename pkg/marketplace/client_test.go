package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newFixture(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/plugins", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name != "cloudify-openstack-plugin" {
			json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]string{
				{"id": "p-123", "name": name, "logo_url": "https://img.example.com/logo.png"},
				{"id": "p-456", "name": name + "-fork"},
			},
		})
	})
	mux.HandleFunc("/plugins/p-123/versions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{
					"version":   "3.2.21",
					"yaml_urls": []map[string]string{{"dsl_version": "cloudify_dsl_1_3", "url": "https://a/y.yaml"}},
					"wagon_urls": []map[string]string{
						{"release": "Centos Core", "url": "https://a/w.wgn"},
					},
				},
			},
		})
	})
	mux.HandleFunc("/plugins/p-789/versions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plugin not found", http.StatusNotFound)
	})
	mux.HandleFunc("/assets/demo.wgn", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "wagon-bytes")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetPlugin(t *testing.T) {
	srv := newFixture(t)
	c := NewClient(srv.URL, nil)

	listing, err := c.GetPlugin(context.Background(), "cloudify-openstack-plugin")
	if err != nil {
		t.Fatalf("GetPlugin() returned error: %v", err)
	}
	// The first item wins when the search is fuzzy.
	if listing.ID != "p-123" {
		t.Fatalf("listing = %+v", listing)
	}
	if listing.LogoURL != "https://img.example.com/logo.png" {
		t.Fatalf("logo url = %q", listing.LogoURL)
	}
}

func TestGetPluginUnknown(t *testing.T) {
	srv := newFixture(t)
	c := NewClient(srv.URL, nil)

	_, err := c.GetPlugin(context.Background(), "no-such-plugin")
	var unknown *UnknownPluginError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPluginError, got %v", err)
	}
	if unknown.Name != "no-such-plugin" {
		t.Fatalf("unknown plugin name = %q", unknown.Name)
	}
}

func TestListVersions(t *testing.T) {
	srv := newFixture(t)
	c := NewClient(srv.URL, nil)

	records, err := c.ListVersions(context.Background(), "p-123")
	if err != nil {
		t.Fatalf("ListVersions() returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %+v", records)
	}
	r := records[0]
	if r.Version != "3.2.21" {
		t.Fatalf("version = %q", r.Version)
	}
	if len(r.YAMLURLs) != 1 || r.YAMLURLs[0].DSLVersion != "cloudify_dsl_1_3" {
		t.Fatalf("yaml urls = %+v", r.YAMLURLs)
	}
	if len(r.WagonURLs) != 1 || r.WagonURLs[0].Release != "Centos Core" {
		t.Fatalf("wagon urls = %+v", r.WagonURLs)
	}
}

func TestListVersionsErrorNamesEndpoint(t *testing.T) {
	srv := newFixture(t)
	c := NewClient(srv.URL, nil)

	_, err := c.ListVersions(context.Background(), "p-789")
	if err == nil {
		t.Fatal("expected error")
	}
	// The error carries the endpoint, status and body for diagnosis.
	for _, want := range []string{"p-789", "404", "plugin not found"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should contain %q", err, want)
		}
	}
}

func TestDownload(t *testing.T) {
	srv := newFixture(t)
	c := NewClient(srv.URL, nil)
	dir := t.TempDir()

	// Default filename comes from the URL.
	path, err := c.Download(context.Background(), srv.URL+"/assets/demo.wgn", dir, "")
	if err != nil {
		t.Fatalf("Download() returned error: %v", err)
	}
	if filepath.Base(path) != "demo.wgn" {
		t.Fatalf("downloaded file = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "wagon-bytes" {
		t.Fatalf("content = %q", data)
	}

	// Explicit filenames override the URL.
	path, err = c.Download(context.Background(), srv.URL+"/assets/demo.wgn", dir, "icon.png")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "icon.png" {
		t.Fatalf("downloaded file = %q", path)
	}
}

func TestDownloadErrorStatus(t *testing.T) {
	srv := newFixture(t)
	c := NewClient(srv.URL, nil)

	_, err := c.Download(context.Background(), srv.URL+"/assets/missing.wgn", t.TempDir(), "")
	if err == nil {
		t.Fatal("expected error for missing asset")
	}
}
