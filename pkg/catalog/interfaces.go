// Package catalog defines the manager's artifact catalog: the types,
// the client contract consumed by the import resolution engine, a
// SQLite-backed store, and an HTTP client speaking the manager REST
// API. All cross-resolver coordination relies on the catalog's
// conflict-on-duplicate-insert guarantee.
package catalog

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a requested catalog entry does not exist.
var ErrNotFound = errors.New("catalog: not found")

// ErrConflict is returned when an upload collides with an existing
// entry for the same tenant, package name and version. Concurrent
// resolvers treat it as an expected race, not a failure.
var ErrConflict = errors.New("catalog: artifact already exists")

// Client is the catalog surface consumed by the resolver. Every
// operation takes the tenant explicitly; the catalog holds no ambient
// request state.
type Client interface {
	// ListPlugins returns all plugin candidates matching the filter.
	ListPlugins(ctx context.Context, tenant string, filter PluginFilter) ([]Plugin, error)

	// UploadPlugin stores a packaged plugin archive as a new catalog
	// entry. Returns ErrConflict if an entry with the same tenant,
	// package name and version already exists.
	UploadPlugin(ctx context.Context, tenant string, spec UploadSpec, archive io.Reader) (*Plugin, error)

	// GetPluginYAML returns the plugin document for the given entry,
	// preferring the variant matching dslVersion when one exists.
	GetPluginYAML(ctx context.Context, tenant, pluginID, dslVersion string) ([]byte, error)

	// GetBlueprint returns blueprint metadata by id, or ErrNotFound.
	GetBlueprint(ctx context.Context, tenant, blueprintID string) (*Blueprint, error)

	// ManagerInfo reports the manager's own distribution and release.
	ManagerInfo(ctx context.Context) (*ManagerInfo, error)
}
