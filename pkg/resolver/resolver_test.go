package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/catalog"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/dsl"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/marketplace"
)

// fakeCatalog is an in-memory catalog.Client for resolver tests.
type fakeCatalog struct {
	mu         sync.Mutex
	plugins    []catalog.Plugin
	documents  map[string][]byte
	blueprints map[string]catalog.Blueprint
	info       catalog.ManagerInfo
	root       string

	uploads   []catalog.UploadSpec
	uploadErr error

	listCalls int
	// pending becomes visible in listings once listCalls reaches
	// appearAfter. Simulates a competing upload finishing.
	pending     *catalog.Plugin
	appearAfter int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		documents:  make(map[string][]byte),
		blueprints: make(map[string]catalog.Blueprint),
		info:       catalog.ManagerInfo{Distribution: "Centos", DistroRelease: "Core"},
	}
}

func (f *fakeCatalog) ListPlugins(ctx context.Context, tenant string, filter catalog.PluginFilter) ([]catalog.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.pending != nil && f.listCalls >= f.appearAfter {
		f.plugins = append(f.plugins, *f.pending)
		f.pending = nil
	}

	var out []catalog.Plugin
	for _, p := range f.plugins {
		if p.Tenant != tenant {
			continue
		}
		if filter.PackageName != "" && p.PackageName != filter.PackageName {
			continue
		}
		if filter.Distribution != "" && p.Distribution != filter.Distribution {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeCatalog) UploadPlugin(ctx context.Context, tenant string, spec catalog.UploadSpec, archive io.Reader) (*catalog.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploads = append(f.uploads, spec)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}

	p := catalog.Plugin{
		ID:                  fmt.Sprintf("up-%d", len(f.uploads)),
		Tenant:              tenant,
		PackageName:         spec.PackageName,
		PackageVersion:      spec.PackageVersion,
		Distribution:        spec.Distribution,
		DistributionRelease: spec.DistributionRelease,
		ArchiveName:         spec.ArchiveName,
		Title:               spec.Title,
		UploadedAt:          time.Now().UTC(),
	}
	f.plugins = append(f.plugins, p)
	return &p, nil
}

func (f *fakeCatalog) GetPluginYAML(ctx context.Context, tenant, pluginID, dslVersion string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[pluginID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return doc, nil
}

func (f *fakeCatalog) GetBlueprint(ctx context.Context, tenant, blueprintID string) (*catalog.Blueprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bp, ok := f.blueprints[tenant+"/"+blueprintID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &bp, nil
}

func (f *fakeCatalog) ManagerInfo(ctx context.Context) (*catalog.ManagerInfo, error) {
	info := f.info
	return &info, nil
}

func (f *fakeCatalog) addPlugin(tenant, name, version, distribution string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("%s-%s", name, version)
	f.plugins = append(f.plugins, catalog.Plugin{
		ID:             id,
		Tenant:         tenant,
		PackageName:    name,
		PackageVersion: version,
		Distribution:   distribution,
	})
}

// fakeParser is a dsl.Parser that marks documents it has merged.
type fakeParser struct {
	lastLocation string
	lastTenant   string
}

func (p *fakeParser) ParseAndMerge(ctx context.Context, document []byte, location, basePath, tenant string, resolver dsl.ImportResolver) ([]byte, error) {
	p.lastLocation = location
	p.lastTenant = tenant
	return append([]byte("merged:"), document...), nil
}

func newTestResolver(t *testing.T, cat catalog.Client, mutate func(*Options)) *Resolver {
	t.Helper()
	opts := Options{
		Catalog:      cat,
		PollInterval: time.Millisecond,
		PollAttempts: 3,
		Sleep: func(ctx context.Context, d time.Duration) error {
			return nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return r
}

func TestResolveImportPassthroughFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "types.yaml")
	if err := os.WriteFile(path, []byte("node_types: {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(t, newFakeCatalog(), nil)
	doc, err := r.ResolveImport(context.Background(), "default_tenant", "file://"+path, "1_3")
	if err != nil {
		t.Fatalf("ResolveImport() returned error: %v", err)
	}
	if string(doc) != "node_types: {}" {
		t.Fatalf("unexpected document: %q", doc)
	}
}

func TestRetrievePluginRejectsNonPluginURL(t *testing.T) {
	r := newTestResolver(t, newFakeCatalog(), nil)
	_, err := r.RetrievePlugin(context.Background(), "default_tenant", "https://example.com/plugin.yaml", "1_3")
	if !IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestRetrievePluginPicksHighestInRange(t *testing.T) {
	cat := newFakeCatalog()
	cat.addPlugin("default_tenant", "demo", "0.9", "")
	cat.addPlugin("default_tenant", "demo", "1.0", "")
	cat.addPlugin("default_tenant", "demo", "1.5", "")
	cat.addPlugin("default_tenant", "demo", "2.0", "")

	r := newTestResolver(t, cat, nil)
	p, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=>=1.0,<2.0", "1_3")
	if err != nil {
		t.Fatalf("RetrievePlugin() returned error: %v", err)
	}
	if p.PackageVersion != "1.5" {
		t.Fatalf("expected version 1.5, got %s", p.PackageVersion)
	}
}

func TestRetrievePluginBareVersionIsExact(t *testing.T) {
	cat := newFakeCatalog()
	cat.addPlugin("default_tenant", "demo", "1.0.2", "")
	cat.addPlugin("default_tenant", "demo", "1.0.3", "")

	r := newTestResolver(t, cat, nil)
	p, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=1.0.2", "1_3")
	if err != nil {
		t.Fatalf("RetrievePlugin() returned error: %v", err)
	}
	if p.PackageVersion != "1.0.2" {
		t.Fatalf("expected exact version 1.0.2, got %s", p.PackageVersion)
	}
}

func TestRetrievePluginPinOverridesRequestedVersion(t *testing.T) {
	cat := newFakeCatalog()
	cat.addPlugin("default_tenant", "demo", "1.0", "")
	cat.addPlugin("default_tenant", "demo", "2.0", "")

	r := newTestResolver(t, cat, func(o *Options) {
		o.Rules = StaticRules{
			Mappings: map[string]Mapping{
				"demo": {ImportURL: "https://legacy.example.com/demo.yaml", Version: "1.0"},
			},
		}
	})

	p, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=2.0", "1_3")
	if err != nil {
		t.Fatalf("RetrievePlugin() returned error: %v", err)
	}
	if p.PackageVersion != "1.0" {
		t.Fatalf("pin should win over requested version, got %s", p.PackageVersion)
	}
}

func TestRetrievePluginExtraConstraintAppliesOnlyWithoutVersion(t *testing.T) {
	cat := newFakeCatalog()
	cat.addPlugin("default_tenant", "demo", "1.5", "")
	cat.addPlugin("default_tenant", "demo", "2.5", "")

	r := newTestResolver(t, cat, func(o *Options) {
		o.Rules = StaticRules{
			VersionConstraints: map[string]string{"demo": "<2.0"},
		}
	})

	// Without an explicit version the constraint table caps at <2.0.
	p, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo", "1_3")
	if err != nil {
		t.Fatalf("RetrievePlugin() returned error: %v", err)
	}
	if p.PackageVersion != "1.5" {
		t.Fatalf("expected constrained pick 1.5, got %s", p.PackageVersion)
	}

	// An explicit version disables the constraint table entirely.
	p, err = r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=>=2.0", "1_3")
	if err != nil {
		t.Fatalf("RetrievePlugin() returned error: %v", err)
	}
	if p.PackageVersion != "2.5" {
		t.Fatalf("explicit version should bypass constraint table, got %s", p.PackageVersion)
	}
}

func TestRetrievePluginInvalidVersionSpec(t *testing.T) {
	cat := newFakeCatalog()
	cat.addPlugin("default_tenant", "demo", "1.0", "")

	r := newTestResolver(t, cat, nil)
	_, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=>=not.a.version", "1_3")
	if !IsMalformed(err) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if !strings.Contains(err.Error(), "demo") {
		t.Fatalf("error should name the plugin: %v", err)
	}
}

func TestRetrievePluginTenantsAreIsolated(t *testing.T) {
	cat := newFakeCatalog()
	cat.addPlugin("tenant_a", "demo", "1.0", "")

	r := newTestResolver(t, cat, nil)
	_, err := r.RetrievePlugin(context.Background(), "tenant_b", "plugin:demo", "1_3")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found for other tenant, got %v", err)
	}
}

func TestResolveImportPluginDocument(t *testing.T) {
	cat := newFakeCatalog()
	cat.addPlugin("default_tenant", "demo", "1.0", "")
	cat.documents["demo-1.0"] = []byte("plugins: {demo: {}}")

	r := newTestResolver(t, cat, nil)
	doc, err := r.ResolveImport(context.Background(), "default_tenant", "plugin:demo", "1_3")
	if err != nil {
		t.Fatalf("ResolveImport() returned error: %v", err)
	}
	if string(doc) != "plugins: {demo: {}}" {
		t.Fatalf("unexpected document: %q", doc)
	}
}

func TestResolveImportMappingRewrite(t *testing.T) {
	cat := newFakeCatalog()
	cat.addPlugin("default_tenant", "demo", "1.0", "")
	cat.addPlugin("default_tenant", "demo", "2.0", "")
	cat.documents["demo-1.0"] = []byte("pinned")

	r := newTestResolver(t, cat, func(o *Options) {
		o.Rules = StaticRules{
			Mappings: map[string]Mapping{
				"demo": {ImportURL: "https://legacy.example.com/demo.yaml", Version: "1.0"},
			},
		}
	})

	doc, err := r.ResolveImport(context.Background(), "default_tenant", "https://legacy.example.com/demo.yaml", "1_3")
	if err != nil {
		t.Fatalf("ResolveImport() returned error: %v", err)
	}
	if string(doc) != "pinned" {
		t.Fatalf("mapping should pin to 1.0, got %q", doc)
	}
}

func TestResolveImportBlueprint(t *testing.T) {
	root := t.TempDir()
	bpDir := filepath.Join(root, "blueprints", "default_tenant", "bp1")
	if err := os.MkdirAll(bpDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bpDir, "blueprint.yaml"), []byte("tosca_definitions_version: cloudify_dsl_1_3"), 0o644); err != nil {
		t.Fatal(err)
	}

	cat := newFakeCatalog()
	cat.blueprints["default_tenant/bp1"] = catalog.Blueprint{
		ID:           "bp1",
		Tenant:       "default_tenant",
		MainFileName: "blueprint.yaml",
	}

	parser := &fakeParser{}
	r := newTestResolver(t, cat, func(o *Options) {
		o.FileServerRoot = root
		o.Parser = parser
	})

	doc, err := r.ResolveImport(context.Background(), "default_tenant", "blueprint:bp1", "1_3")
	if err != nil {
		t.Fatalf("ResolveImport() returned error: %v", err)
	}
	if !strings.HasPrefix(string(doc), "merged:") {
		t.Fatalf("expected parser-merged document, got %q", doc)
	}
	wantLocation := filepath.Join(root, "blueprints", "default_tenant", "bp1", "blueprint.yaml")
	if parser.lastLocation != wantLocation {
		t.Fatalf("parser location = %q, want %q", parser.lastLocation, wantLocation)
	}
	if parser.lastTenant != "default_tenant" {
		t.Fatalf("parser tenant = %q", parser.lastTenant)
	}
}

func TestResolveImportBlueprintNotFound(t *testing.T) {
	r := newTestResolver(t, newFakeCatalog(), nil)
	_, err := r.ResolveImport(context.Background(), "default_tenant", "blueprint:missing", "1_3")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if !strings.Contains(err.Error(), "please first upload") {
		t.Fatalf("error should tell the user to upload the blueprint: %v", err)
	}
}

// marketplaceFixture serves a minimal marketplace with one plugin. The
// returned records slice can be filled in after the server URL is
// known; the handlers read it per request. The mux is returned so a
// test can override individual asset routes.
func marketplaceFixture(t *testing.T, name string) (*httptest.Server, *http.ServeMux, *[]marketplace.VersionRecord) {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	records := &[]marketplace.VersionRecord{}

	mux.HandleFunc("/plugins", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != name {
			json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]string{{
				"id":       "mp-1",
				"name":     name,
				"logo_url": srv.URL + "/assets/logo.png",
			}},
		})
	})
	mux.HandleFunc("/plugins/mp-1/versions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"items": *records})
	})
	mux.HandleFunc("/assets/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "asset %s", filepath.Base(r.URL.Path))
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mux, records
}

func TestResolveImportFetchesMissingPluginFromMarketplace(t *testing.T) {
	cat := newFakeCatalog()

	srv, _, records := marketplaceFixture(t, "demo")
	for _, v := range []string{"0.9", "1.5", "2.1"} {
		*records = append(*records, marketplace.VersionRecord{
			Version: v,
			YAMLURLs: []marketplace.DocumentURL{
				{DSLVersion: "cloudify_dsl_1_3", URL: srv.URL + "/assets/plugin_1_3.yaml"},
			},
			WagonURLs: []marketplace.WagonURL{
				{Release: "Manylinux", URL: srv.URL + "/assets/demo.wgn"},
			},
		})
	}

	r := newTestResolver(t, cat, func(o *Options) {
		o.Marketplace = marketplace.NewClient(srv.URL, nil)
	})

	p, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=>=1.0,<2.0", "1_3")
	if err != nil {
		t.Fatalf("RetrievePlugin() returned error: %v", err)
	}
	if p.PackageVersion != "1.5" {
		t.Fatalf("expected marketplace pick 1.5, got %s", p.PackageVersion)
	}

	if len(cat.uploads) != 1 {
		t.Fatalf("expected exactly one upload, got %d", len(cat.uploads))
	}
	spec := cat.uploads[0]
	if spec.PackageName != "demo" || spec.PackageVersion != "1.5" {
		t.Fatalf("unexpected upload spec: %+v", spec)
	}
	// No distribution filter was given, so the manager's own
	// distribution is the target.
	if spec.Distribution != "centos core" {
		t.Fatalf("expected manager distribution, got %q", spec.Distribution)
	}
	if spec.DistributionRelease != "Manylinux" {
		t.Fatalf("expected wagon release, got %q", spec.DistributionRelease)
	}

	// A second resolution is served locally without another upload.
	if _, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=>=1.0,<2.0", "1_3"); err != nil {
		t.Fatalf("second RetrievePlugin() returned error: %v", err)
	}
	if len(cat.uploads) != 1 {
		t.Fatalf("second resolution must not re-upload, got %d uploads", len(cat.uploads))
	}
}

func TestRetrievePluginLogoDownloadFailureAborts(t *testing.T) {
	cat := newFakeCatalog()

	srv, mux, records := marketplaceFixture(t, "demo")
	*records = append(*records, marketplace.VersionRecord{
		Version: "1.5",
		YAMLURLs: []marketplace.DocumentURL{
			{DSLVersion: "cloudify_dsl_1_3", URL: srv.URL + "/assets/plugin_1_3.yaml"},
		},
		WagonURLs: []marketplace.WagonURL{
			{Release: "Manylinux", URL: srv.URL + "/assets/demo.wgn"},
		},
	})
	mux.HandleFunc("/assets/logo.png", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "image store down", http.StatusInternalServerError)
	})

	r := newTestResolver(t, cat, func(o *Options) {
		o.Marketplace = marketplace.NewClient(srv.URL, nil)
	})

	_, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=1.5", "1_3")
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "demo") {
		t.Fatalf("error should name the plugin: %v", err)
	}
	// A partial download must never turn into an upload.
	if len(cat.uploads) != 0 {
		t.Fatalf("expected no upload after failed download, got %d", len(cat.uploads))
	}
}

func TestRetrievePluginConflictRecoversCompetingUpload(t *testing.T) {
	cat := newFakeCatalog()

	srv, _, records := marketplaceFixture(t, "demo")
	*records = append(*records, marketplace.VersionRecord{
		Version: "1.5",
		YAMLURLs: []marketplace.DocumentURL{
			{DSLVersion: "cloudify_dsl_1_3", URL: srv.URL + "/assets/plugin_1_3.yaml"},
		},
		WagonURLs: []marketplace.WagonURL{
			{Release: "Manylinux", URL: srv.URL + "/assets/demo.wgn"},
		},
	})

	// Every upload hits the duplicate-entry conflict; the competing
	// upload becomes visible on a later listing.
	cat.uploadErr = fmt.Errorf("duplicate plugin entry: %w", catalog.ErrConflict)
	cat.pending = &catalog.Plugin{
		ID:             "winner",
		Tenant:         "default_tenant",
		PackageName:    "demo",
		PackageVersion: "1.5",
	}
	cat.appearAfter = 3

	r := newTestResolver(t, cat, func(o *Options) {
		o.Marketplace = marketplace.NewClient(srv.URL, nil)
	})

	p, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=1.5", "1_3")
	if err != nil {
		t.Fatalf("RetrievePlugin() returned error: %v", err)
	}
	if p.ID != "winner" {
		t.Fatalf("expected the competing upload's plugin, got %+v", p)
	}
	// The conflict must be absorbed by polling, never by re-uploading.
	if len(cat.uploads) != 1 {
		t.Fatalf("expected exactly one upload attempt, got %d", len(cat.uploads))
	}
}

func TestRetrievePluginMixedCaseDistributionFindsOwnUpload(t *testing.T) {
	cat := newFakeCatalog()

	srv, _, records := marketplaceFixture(t, "demo")
	*records = append(*records, marketplace.VersionRecord{
		Version: "1.5",
		YAMLURLs: []marketplace.DocumentURL{
			{DSLVersion: "cloudify_dsl_1_3", URL: srv.URL + "/assets/plugin_1_3.yaml"},
		},
		WagonURLs: []marketplace.WagonURL{
			{Release: "Centos Core", URL: srv.URL + "/assets/demo.wgn"},
		},
	})

	r := newTestResolver(t, cat, func(o *Options) {
		o.Marketplace = marketplace.NewClient(srv.URL, nil)
	})

	// The request's distribution casing must not hide the lowercased
	// upload from the post-upload selection.
	p, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=1.5&distribution=CentOS+Core", "1_3")
	if err != nil {
		t.Fatalf("RetrievePlugin() returned error: %v", err)
	}
	if p.PackageVersion != "1.5" {
		t.Fatalf("expected version 1.5, got %s", p.PackageVersion)
	}
	if len(cat.uploads) != 1 {
		t.Fatalf("expected exactly one upload, got %d", len(cat.uploads))
	}
	if cat.uploads[0].Distribution != "centos core" {
		t.Fatalf("upload distribution = %q", cat.uploads[0].Distribution)
	}
}

func TestRetrievePluginUnknownInMarketplace(t *testing.T) {
	srv, _, _ := marketplaceFixture(t, "other")

	r := newTestResolver(t, newFakeCatalog(), func(o *Options) {
		o.Marketplace = marketplace.NewClient(srv.URL, nil)
	})

	_, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo?version=1.0", "1_3")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if !strings.Contains(err.Error(), "please upload the plugin") {
		t.Fatalf("error should tell the user to upload the plugin: %v", err)
	}
}

func TestRetrievePluginNoMarketplaceConfigured(t *testing.T) {
	r := newTestResolver(t, newFakeCatalog(), nil)
	_, err := r.RetrievePlugin(context.Background(), "default_tenant", "plugin:demo", "1_3")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
