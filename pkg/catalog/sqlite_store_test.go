package catalog

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()

	store, err := NewSQLiteStore(StoreConfig{
		Path:           filepath.Join(dir, "catalog.db"),
		FileServerRoot: filepath.Join(dir, "fileserver"),
		Distribution:   "centos",
		DistroRelease:  "core",
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() returned error: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() returned error: %v", err)
	}
	return store
}

// makeArchive builds an in-memory zip with the given entries.
func makeArchive(t *testing.T, files map[string]string) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestUploadAndListPlugins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	archive := makeArchive(t, map[string]string{
		"plugin_1_3.yaml": "plugins: {}",
		"demo.wgn":        "wagon-bytes",
	})
	p, err := store.UploadPlugin(ctx, "default_tenant", UploadSpec{
		PackageName:         "demo",
		PackageVersion:      "1.0",
		Distribution:        "centos core",
		DistributionRelease: "Manylinux",
	}, archive)
	if err != nil {
		t.Fatalf("UploadPlugin() returned error: %v", err)
	}
	if p.ID == "" {
		t.Fatal("uploaded plugin has no id")
	}

	plugins, err := store.ListPlugins(ctx, "default_tenant", PluginFilter{PackageName: "demo"})
	if err != nil {
		t.Fatalf("ListPlugins() returned error: %v", err)
	}
	if len(plugins) != 1 {
		t.Fatalf("expected one plugin, got %d", len(plugins))
	}
	got := plugins[0]
	if got.PackageName != "demo" || got.PackageVersion != "1.0" || got.Distribution != "centos core" {
		t.Fatalf("unexpected plugin: %+v", got)
	}

	// The name filter is exact.
	plugins, err = store.ListPlugins(ctx, "default_tenant", PluginFilter{PackageName: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if len(plugins) != 0 {
		t.Fatalf("expected no match, got %+v", plugins)
	}

	// The distribution filter narrows further.
	plugins, err = store.ListPlugins(ctx, "default_tenant", PluginFilter{
		PackageName:  "demo",
		Distribution: "ubuntu focal",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(plugins) != 0 {
		t.Fatalf("expected no match for other distribution, got %+v", plugins)
	}
}

func TestUploadPluginTenantIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	spec := UploadSpec{PackageName: "demo", PackageVersion: "1.0"}
	if _, err := store.UploadPlugin(ctx, "tenant_a", spec, makeArchive(t, map[string]string{"p.yaml": "a"})); err != nil {
		t.Fatal(err)
	}

	// The same identity under another tenant is a separate entry, not a
	// conflict.
	if _, err := store.UploadPlugin(ctx, "tenant_b", spec, makeArchive(t, map[string]string{"p.yaml": "b"})); err != nil {
		t.Fatalf("cross-tenant upload must succeed: %v", err)
	}

	plugins, err := store.ListPlugins(ctx, "tenant_b", PluginFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(plugins) != 1 || plugins[0].Tenant != "tenant_b" {
		t.Fatalf("tenant_b listing = %+v", plugins)
	}
}

func TestUploadPluginDuplicateConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	spec := UploadSpec{PackageName: "demo", PackageVersion: "1.0"}
	if _, err := store.UploadPlugin(ctx, "default_tenant", spec, makeArchive(t, map[string]string{"p.yaml": "a"})); err != nil {
		t.Fatal(err)
	}

	_, err := store.UploadPlugin(ctx, "default_tenant", spec, makeArchive(t, map[string]string{"p.yaml": "b"}))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A different version of the same package is fine.
	spec.PackageVersion = "1.1"
	if _, err := store.UploadPlugin(ctx, "default_tenant", spec, makeArchive(t, map[string]string{"p.yaml": "c"})); err != nil {
		t.Fatalf("different version must succeed: %v", err)
	}
}

func TestGetPluginYAMLVariantSelection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	archive := makeArchive(t, map[string]string{
		"plugin_1_3.yaml": "dsl 1_3 doc",
		"plugin_1_5.yaml": "dsl 1_5 doc",
		"demo.wgn":        "wagon",
	})
	p, err := store.UploadPlugin(ctx, "default_tenant", UploadSpec{
		PackageName:    "demo",
		PackageVersion: "1.0",
	}, archive)
	if err != nil {
		t.Fatal(err)
	}

	doc, err := store.GetPluginYAML(ctx, "default_tenant", p.ID, "1_5")
	if err != nil {
		t.Fatalf("GetPluginYAML() returned error: %v", err)
	}
	if string(doc) != "dsl 1_5 doc" {
		t.Fatalf("expected 1_5 variant, got %q", doc)
	}

	// Dotted DSL versions are normalized to the underscore marker.
	doc, err = store.GetPluginYAML(ctx, "default_tenant", p.ID, "1.5")
	if err != nil {
		t.Fatal(err)
	}
	if string(doc) != "dsl 1_5 doc" {
		t.Fatalf("expected 1_5 variant for dotted version, got %q", doc)
	}

	// No DSL version and unknown versions fall back to name order.
	for _, v := range []string{"", "9_9"} {
		doc, err = store.GetPluginYAML(ctx, "default_tenant", p.ID, v)
		if err != nil {
			t.Fatal(err)
		}
		if string(doc) != "dsl 1_3 doc" {
			t.Fatalf("dslVersion %q: expected fallback variant, got %q", v, doc)
		}
	}

	if _, err := store.GetPluginYAML(ctx, "default_tenant", "no-such-id", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// The document is tenant-scoped like the entry itself.
	if _, err := store.GetPluginYAML(ctx, "tenant_b", p.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other tenant, got %v", err)
	}
}

func TestBlueprintRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bp := &Blueprint{
		ID:           "bp1",
		Tenant:       "default_tenant",
		MainFileName: "blueprint.yaml",
		State:        "uploaded",
	}
	if err := store.PutBlueprint(ctx, bp); err != nil {
		t.Fatalf("PutBlueprint() returned error: %v", err)
	}

	got, err := store.GetBlueprint(ctx, "default_tenant", "bp1")
	if err != nil {
		t.Fatalf("GetBlueprint() returned error: %v", err)
	}
	if got.MainFileName != "blueprint.yaml" || got.State != "uploaded" {
		t.Fatalf("unexpected blueprint: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at was not defaulted")
	}

	if _, err := store.GetBlueprint(ctx, "default_tenant", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetBlueprint(ctx, "tenant_b", "bp1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other tenant, got %v", err)
	}
}

func TestManagerInfo(t *testing.T) {
	store := newTestStore(t)

	info, err := store.ManagerInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Distribution != "centos" || info.DistroRelease != "core" {
		t.Fatalf("unexpected manager info: %+v", info)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: plugins.tenant")) {
		t.Fatal("expected unique violation")
	}
	if isUniqueViolation(errors.New("no such table: plugins")) {
		t.Fatal("unexpected unique violation")
	}
	if isUniqueViolation(nil) {
		t.Fatal("nil error is not a violation")
	}
}
