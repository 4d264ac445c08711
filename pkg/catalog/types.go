package catalog

import "time"

// Plugin is a plugin artifact candidate as recorded by the catalog.
type Plugin struct {
	// ID is the unique identifier of the catalog entry.
	ID string `json:"id"`

	// Tenant is the tenant the plugin was uploaded for.
	Tenant string `json:"tenant_name"`

	// PackageName is the plugin package name (e.g. "cloudify-openstack-plugin").
	PackageName string `json:"package_name"`

	// PackageVersion is the published version literal.
	PackageVersion string `json:"package_version"`

	// Distribution is the target distribution of the packaged artifact.
	Distribution string `json:"distribution"`

	// DistributionRelease is the distribution release label of the artifact.
	DistributionRelease string `json:"distribution_release"`

	// ArchiveName is the uploaded archive file name.
	ArchiveName string `json:"archive_name"`

	// Title is the human-readable plugin title, if known.
	Title string `json:"title,omitempty"`

	// UploadedAt is when the plugin was uploaded to the catalog.
	UploadedAt time.Time `json:"uploaded_at"`
}

// Blueprint is blueprint metadata as recorded by the catalog.
type Blueprint struct {
	// ID is the blueprint identifier.
	ID string `json:"id"`

	// Tenant is the tenant the blueprint belongs to.
	Tenant string `json:"tenant_name"`

	// MainFileName is the name of the main blueprint document.
	MainFileName string `json:"main_file_name"`

	// State is the blueprint upload state.
	State string `json:"state"`

	// CreatedAt is when the blueprint was uploaded.
	CreatedAt time.Time `json:"created_at"`
}

// ManagerInfo describes the manager host the catalog runs on. The
// resolver uses it as the default target distribution for wagons.
type ManagerInfo struct {
	// Distribution is the manager OS distribution (e.g. "centos").
	Distribution string `json:"distribution"`

	// DistroRelease is the distribution release (e.g. "core").
	DistroRelease string `json:"distro_release"`
}

// PluginFilter selects catalog plugin candidates. Zero-valued fields
// are not filtered on.
type PluginFilter struct {
	// PackageName filters by exact package name.
	PackageName string `json:"package_name,omitempty"`

	// Distribution filters by exact distribution.
	Distribution string `json:"distribution,omitempty"`
}

// UploadSpec carries the metadata of a plugin archive being uploaded.
type UploadSpec struct {
	// PackageName is the plugin package name.
	PackageName string `json:"package_name"`

	// PackageVersion is the version literal being uploaded.
	PackageVersion string `json:"package_version"`

	// Distribution is the target distribution of the wagon.
	Distribution string `json:"distribution"`

	// DistributionRelease is the wagon's release label.
	DistributionRelease string `json:"distribution_release"`

	// ArchiveName is the file name of the uploaded archive.
	ArchiveName string `json:"archive_name"`

	// Title is an optional human-readable title.
	Title string `json:"title,omitempty"`
}
