package marketplace

// PluginListing is one marketplace search result.
type PluginListing struct {
	// ID is the marketplace identifier of the plugin.
	ID string `json:"id"`

	// Name is the plugin package name.
	Name string `json:"name"`

	// LogoURL points to the plugin's logo asset, when published.
	LogoURL string `json:"logo_url,omitempty"`
}

// DocumentURL is one published plugin document variant.
type DocumentURL struct {
	// DSLVersion is the blueprint language version this document
	// targets (e.g. "cloudify_dsl_1_5").
	DSLVersion string `json:"dsl_version"`

	// URL is the download location of the document.
	URL string `json:"url"`
}

// WagonURL is one published distribution-specific binary package.
type WagonURL struct {
	// Release is the distribution release label the wagon was built
	// for (e.g. "Centos Core", "manylinux2014_x86_64").
	Release string `json:"release"`

	// URL is the download location of the wagon.
	URL string `json:"url"`
}

// VersionRecord is one published version of a marketplace plugin. It
// is transient: the catalog owns persistence after upload.
type VersionRecord struct {
	// Version is the published version literal.
	Version string `json:"version"`

	// YAMLURLs lists the document variants by DSL version.
	YAMLURLs []DocumentURL `json:"yaml_urls"`

	// WagonURLs lists the packaged artifacts by distribution release.
	WagonURLs []WagonURL `json:"wagon_urls"`
}
