package resolver

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/catalog"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/dsl"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/marketplace"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/telemetry"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/versions"
)

// logoFilename is the fixed name the plugin logo is stored under inside
// the uploaded archive.
const logoFilename = "icon.png"

// marketplaceCandidate is a published plugin version that satisfies the
// requested constraints and distribution.
type marketplaceCandidate struct {
	version *semver.Version
	record  marketplace.VersionRecord
	wagon   *marketplace.WagonURL
}

// uploadMissingPlugin fetches the best matching plugin release from the
// marketplace, assembles an upload archive from its documents, wagon
// and logo, and uploads it to the catalog. A catalog.ErrConflict from
// the upload is returned unwrapped so the caller can poll for the
// competing upload.
func (r *Resolver) uploadMissingPlugin(ctx context.Context, tenant, name string, constraint, extra versions.ConstraintSet, distribution, dslVersion string) error {
	if r.market == nil {
		return NewNotFoundError(
			fmt.Sprintf("plugin %s is not in the catalog and no marketplace is configured", name),
			nil).WithPlugin(name)
	}

	logger := telemetry.FromContext(ctx).WithPlugin(name, constraint.String())

	var listing *marketplace.PluginListing
	err := telemetry.RecordMarketplaceOperation(ctx, name, "get_plugin", func(ctx context.Context) error {
		var opErr error
		listing, opErr = r.market.GetPlugin(ctx, name)
		return opErr
	})
	if err != nil {
		return err
	}

	var records []marketplace.VersionRecord
	err = telemetry.RecordMarketplaceOperation(ctx, name, "list_versions", func(ctx context.Context) error {
		var opErr error
		records, opErr = r.market.ListVersions(ctx, listing.ID)
		return opErr
	})
	if err != nil {
		return err
	}

	candidate := bestCandidate(records, constraint, extra, distribution)
	if candidate == nil {
		return NewNotFoundError(
			fmt.Sprintf("the marketplace has no release of plugin %s matching %s for %s",
				name, constraint, distribution), nil).
			WithPlugin(name).
			WithConstraint(constraint.String()).
			WithDistribution(distribution)
	}

	scratch, err := os.MkdirTemp("", "plugin-upload-")
	if err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	yamlURL := pickDocumentURL(candidate.record.YAMLURLs, dslVersion)
	if _, err := r.market.Download(ctx, yamlURL, scratch, ""); err != nil {
		return NewTransportError(
			fmt.Sprintf("failed to download document of plugin %s", name), err).WithPlugin(name)
	}
	if _, err := r.market.Download(ctx, candidate.wagon.URL, scratch, ""); err != nil {
		return NewTransportError(
			fmt.Sprintf("failed to download wagon of plugin %s", name), err).WithPlugin(name)
	}
	if listing.LogoURL != "" {
		if _, err := r.market.Download(ctx, listing.LogoURL, scratch, logoFilename); err != nil {
			return NewTransportError(
				fmt.Sprintf("failed to download logo of plugin %s", name), err).WithPlugin(name)
		}
	}

	archive, err := createArchive(scratch)
	if err != nil {
		return fmt.Errorf("failed to assemble archive for plugin %s: %w", name, err)
	}
	defer os.Remove(archive)

	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive for plugin %s: %w", name, err)
	}
	defer f.Close()

	spec := catalog.UploadSpec{
		PackageName:         name,
		PackageVersion:      candidate.version.Original(),
		Distribution:        distribution,
		DistributionRelease: candidate.wagon.Release,
		ArchiveName:         filepath.Base(archive),
		Title:               listing.Name,
	}

	_, err = r.catalog.UploadPlugin(ctx, tenant, spec, f)

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		switch {
		case err == nil:
			tel.Metrics.RecordPluginUpload("succeeded")
		case errors.Is(err, catalog.ErrConflict):
			tel.Metrics.RecordPluginUpload("conflict")
		default:
			tel.Metrics.RecordPluginUpload("failed")
		}
	}
	if err == nil {
		logger.WithField("version", spec.PackageVersion).Info("plugin uploaded from marketplace")
	}
	return err
}

// bestCandidate picks the highest marketplace version that satisfies
// both constraint sets, publishes at least one document, and ships a
// wagon for the target distribution.
func bestCandidate(records []marketplace.VersionRecord, constraint, extra versions.ConstraintSet, distribution string) *marketplaceCandidate {
	var best *marketplaceCandidate

	for _, record := range records {
		v, err := semver.NewVersion(record.Version)
		if err != nil {
			continue
		}
		if !constraint.Check(v) || !extra.Check(v) {
			continue
		}
		if len(record.YAMLURLs) == 0 {
			continue
		}
		wagon := matchingDistroWagon(record.WagonURLs, distribution)
		if wagon == nil {
			continue
		}
		if best == nil || v.GreaterThan(best.version) {
			best = &marketplaceCandidate{version: v, record: record, wagon: wagon}
		}
	}

	return best
}

// matchingDistroWagon finds a wagon built for the target distribution.
// Manylinux wagons are portable and match any linux distribution.
func matchingDistroWagon(wagons []marketplace.WagonURL, distribution string) *marketplace.WagonURL {
	distribution = strings.ToLower(distribution)
	for i := range wagons {
		release := strings.ToLower(wagons[i].Release)
		if release == distribution || strings.HasPrefix(release, "manylinux") {
			return &wagons[i]
		}
	}
	return nil
}

// pickDocumentURL selects the published document variant matching the
// requested DSL version, falling back to the first variant.
func pickDocumentURL(urls []marketplace.DocumentURL, dslVersion string) string {
	if len(urls) == 0 {
		return ""
	}
	marker := dsl.VersionPrefix + strings.ReplaceAll(dslVersion, ".", "_")
	for _, u := range urls {
		if u.DSLVersion == marker {
			return u.URL
		}
	}
	return urls[0].URL
}

// createArchive zips every regular file under dir into a sibling zip
// file. Entries use paths relative to dir with no directory entries, so
// the catalog unpacks them at the archive root.
func createArchive(dir string) (string, error) {
	archivePath := dir + ".zip"
	out, err := os.Create(archivePath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		os.Remove(archivePath)
		return "", err
	}
	if err := zw.Close(); err != nil {
		os.Remove(archivePath)
		return "", err
	}
	return archivePath, nil
}
