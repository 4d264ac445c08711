// Package resolver implements the import resolution engine: it turns
// symbolic plugin: and blueprint: import references into concrete,
// already-available catalog artifacts, chasing missing plugins through
// the external marketplace and reconciling concurrent uploads. Any
// other URL scheme is passed through to a generic fetcher.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/catalog"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/dsl"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/marketplace"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/telemetry"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/versions"
)

// blueprintsFolder is the blueprint directory under the file server
// root; blueprint payloads live at <root>/blueprints/<tenant>/<id>/.
const blueprintsFolder = "blueprints"

// Options configures a Resolver.
type Options struct {
	// Catalog is the artifact catalog. Required.
	Catalog catalog.Client

	// Marketplace is the external marketplace client. When nil, local
	// catalog misses are not chased and fail as not-found.
	Marketplace *marketplace.Client

	// Fetcher retrieves passthrough URLs. Defaults to a DefaultFetcher.
	Fetcher Fetcher

	// Parser merges blueprint documents with their nested imports.
	// Required for blueprint: imports.
	Parser dsl.Parser

	// Rules supplies pin mappings and version constraints. Defaults to
	// empty rules.
	Rules RuleSource

	// FileServerRoot is the directory blueprint payloads are served
	// from.
	FileServerRoot string

	// PollInterval is the fixed wait between upload-conflict poll
	// attempts. Defaults to one second.
	PollInterval time.Duration

	// PollAttempts bounds the upload-conflict poll loop. Defaults to
	// 120 attempts.
	PollAttempts int

	// Sleep pauses between poll attempts; injectable in tests.
	Sleep Sleeper
}

// Resolver is the import resolution engine. It holds no mutable state
// of its own: concurrent resolution calls coordinate only through the
// catalog's conflict-on-duplicate-insert guarantee.
type Resolver struct {
	catalog        catalog.Client
	market         *marketplace.Client
	fetcher        Fetcher
	parser         dsl.Parser
	rules          RuleSource
	fileServerRoot string
	pollInterval   time.Duration
	pollAttempts   int
	sleep          Sleeper
}

// New creates a Resolver.
func New(opts Options) (*Resolver, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("catalog client is required")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewDefaultFetcher(nil)
	}
	if opts.Rules == nil {
		opts.Rules = StaticRules{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = defaultPollAttempts
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Resolver{
		catalog:        opts.Catalog,
		market:         opts.Marketplace,
		fetcher:        opts.Fetcher,
		parser:         opts.Parser,
		rules:          opts.Rules,
		fileServerRoot: opts.FileServerRoot,
		pollInterval:   opts.PollInterval,
		pollAttempts:   opts.PollAttempts,
		sleep:          opts.Sleep,
	}, nil
}

// ResolveImport resolves one import URL for the given tenant into the
// imported document's text. Implements dsl.ImportResolver, so the
// document parser re-enters here for nested imports.
func (r *Resolver) ResolveImport(ctx context.Context, tenant, importURL, dslVersion string) ([]byte, error) {
	importURL = rewriteFromMappings(importURL, r.rules.Rules().Mappings)
	kind := classifyImport(importURL)

	ctx = telemetry.WithResolutionContext(ctx, tenant, importURL, kind)
	result, err := r.resolveImport(ctx, tenant, importURL, dslVersion)

	status := "succeeded"
	if err != nil {
		status = "failed"
		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			var rerr *ResolutionError
			if errors.As(err, &rerr) {
				tel.Metrics.RecordError(string(rerr.Class))
			}
		}
		telemetry.FromContext(ctx).WithError(err).Warn("import could not be resolved")
	}
	telemetry.EndResolutionContext(ctx, kind, status, err)
	return result, err
}

// classifyImport names the resolution path an import URL takes.
func classifyImport(importURL string) string {
	switch {
	case strings.HasPrefix(importURL, PluginPrefix):
		return "plugin"
	case strings.HasPrefix(importURL, BlueprintPrefix):
		return "blueprint"
	default:
		return "url"
	}
}

func (r *Resolver) resolveImport(ctx context.Context, tenant, importURL, dslVersion string) ([]byte, error) {
	switch {
	case strings.HasPrefix(importURL, BlueprintPrefix):
		return r.fetchBlueprintImport(ctx, tenant, importURL, dslVersion)

	case strings.HasPrefix(importURL, PluginPrefix):
		plugin, err := r.RetrievePlugin(ctx, tenant, importURL, dslVersion)
		if err != nil {
			return nil, err
		}
		doc, err := r.catalog.GetPluginYAML(ctx, tenant, plugin.ID, dslVersion)
		if err != nil {
			return nil, NewTransportError(
				fmt.Sprintf("failed to fetch document of plugin %s", plugin.PackageName),
				err).WithPlugin(plugin.PackageName)
		}
		return doc, nil

	default:
		return r.fetcher.Fetch(ctx, importURL)
	}
}

// RetrievePlugin resolves a plugin: import URL to its catalog entry
// without fetching the plugin document. Used when only artifact
// identity is needed.
func (r *Resolver) RetrievePlugin(ctx context.Context, tenant, importURL, dslVersion string) (*catalog.Plugin, error) {
	if !strings.HasPrefix(importURL, PluginPrefix) {
		return nil, NewMalformedError(
			fmt.Sprintf("error retrieving plugin, expected plugin url, got: %s", importURL), nil)
	}

	spec := strings.TrimSpace(strings.TrimPrefix(importURL, PluginPrefix))
	name, filters, err := parsePluginSpec(spec)
	if err != nil {
		return nil, err
	}

	return r.findPlugin(ctx, tenant, name, filters, dslVersion)
}

// findPlugin decides whether the local catalog satisfies the plugin
// reference and, on a miss, chases the plugin through the marketplace.
func (r *Resolver) findPlugin(ctx context.Context, tenant, name string, filters pluginFilters, dslVersion string) (*catalog.Plugin, error) {
	rules := r.rules.Rules()

	// Build the effective constraint set. A pin overrides any explicit
	// version filter; the extra constraint table applies only when
	// neither a pin nor an explicit version exists. An empty filter
	// list counts as "not requested".
	var constraint, extra versions.ConstraintSet
	var err error
	versionRequested := len(filters.versions) > 0

	if mapping, pinned := rules.Mappings[name]; pinned {
		versionRequested = true
		constraint, err = versions.Exact(mapping.Version)
		if err != nil {
			return nil, NewMalformedError(
				fmt.Sprintf("pinned version %q of plugin %s is invalid", mapping.Version, name),
				err).WithPlugin(name)
		}
	} else if versionRequested {
		constraint, err = versions.Parse(filters.versions...)
		if err != nil {
			return nil, NewMalformedError(
				fmt.Sprintf("specified version param %v of the plugin %s are in an invalid form", filters.versions, name),
				err).WithPlugin(name)
		}
	} else {
		constraint = versions.Any()
		if extraSpec, ok := rules.VersionConstraints[name]; ok {
			extra, err = versions.Parse(extraSpec)
			if err != nil {
				return nil, NewMalformedError(
					fmt.Sprintf("version constraint %q configured for plugin %s is invalid", extraSpec, name),
					err).WithPlugin(name)
			}
		}
	}

	// Distributions are stored lowercased, so the filter must match
	// marketplace uploads made on behalf of this very request.
	filter := catalog.PluginFilter{PackageName: name}
	if len(filters.distributions) > 0 {
		filter.Distribution = strings.ToLower(filters.distributions[0])
	}

	plugins, err := r.catalog.ListPlugins(ctx, tenant, filter)
	if err != nil {
		return nil, NewTransportError("catalog query failed", err).WithPlugin(name)
	}

	if best := bestMatch(plugins, constraint, extra); best != nil {
		return best, nil
	}

	// Local miss: fetch from the marketplace and upload. A conflict
	// means another resolver got there first; poll until its upload
	// becomes visible.
	distribution, err := r.targetDistribution(ctx, filters)
	if err != nil {
		return nil, err
	}

	uploadErr := r.uploadMissingPlugin(ctx, tenant, name, constraint, extra, distribution, dslVersion)
	if uploadErr != nil {
		if errors.Is(uploadErr, catalog.ErrConflict) {
			return r.waitForCompetingUpload(ctx, tenant, name, filter, constraint, extra)
		}

		var unknown *marketplace.UnknownPluginError
		if errors.As(uploadErr, &unknown) || IsNotFound(uploadErr) {
			versionMessage := ""
			if versionRequested {
				versionMessage = fmt.Sprintf(" with version %s", constraint)
			}
			return nil, NewNotFoundError(
				fmt.Sprintf("couldn't find plugin %q%s for %s in the plugins catalog, "+
					"please upload the plugin", name, versionMessage, distribution),
				uploadErr).
				WithPlugin(name).
				WithConstraint(constraint.String()).
				WithDistribution(distribution)
		}
		return nil, uploadErr
	}

	// Re-run the selection once the upload landed.
	plugins, err = r.catalog.ListPlugins(ctx, tenant, filter)
	if err != nil {
		return nil, NewTransportError("catalog query failed", err).WithPlugin(name)
	}
	if best := bestMatch(plugins, constraint, extra); best != nil {
		return best, nil
	}

	return nil, NewNotFoundError(
		fmt.Sprintf("plugin %s was uploaded but no candidate matches %s", name, constraint),
		nil).WithPlugin(name).WithConstraint(constraint.String())
}

// targetDistribution picks the wagon distribution to search for: the
// explicit distribution filter when present, otherwise the manager's
// own distribution and release.
func (r *Resolver) targetDistribution(ctx context.Context, filters pluginFilters) (string, error) {
	if len(filters.distributions) > 0 {
		return strings.ToLower(filters.distributions[0]), nil
	}

	info, err := r.catalog.ManagerInfo(ctx)
	if err != nil {
		return "", NewTransportError("failed to query manager distribution", err)
	}
	return strings.ToLower(strings.TrimSpace(info.Distribution + " " + info.DistroRelease)), nil
}

// bestMatch filters the candidates through both constraint sets and
// picks the maximum by parsed version. Candidates whose recorded
// version does not parse are skipped.
func bestMatch(plugins []catalog.Plugin, constraint, extra versions.ConstraintSet) *catalog.Plugin {
	var best *catalog.Plugin
	var bestVersion *semver.Version

	for i := range plugins {
		v, err := semver.NewVersion(plugins[i].PackageVersion)
		if err != nil {
			continue
		}
		if !constraint.Check(v) || !extra.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(bestVersion) {
			best = &plugins[i]
			bestVersion = v
		}
	}

	return best
}

// fetchBlueprintImport resolves a blueprint: import by locating the
// blueprint's main document on the file server and handing it to the
// external parser, with this engine as the resolver for nested
// imports.
func (r *Resolver) fetchBlueprintImport(ctx context.Context, tenant, importURL, dslVersion string) ([]byte, error) {
	blueprintID := strings.TrimSpace(strings.TrimPrefix(importURL, BlueprintPrefix))

	blueprint, err := r.catalog.GetBlueprint(ctx, tenant, blueprintID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, NewNotFoundError(
				fmt.Sprintf("requested blueprint import %q was not found, "+
					"please first upload the blueprint with that id", blueprintID), err)
		}
		return nil, NewTransportError(
			fmt.Sprintf("failed to look up blueprint %s", blueprintID), err)
	}

	location := filepath.Join(
		r.fileServerRoot, blueprintsFolder, blueprint.Tenant, blueprint.ID, blueprint.MainFileName)

	document, err := r.fetcher.Fetch(ctx, "file://"+location)
	if err != nil {
		return nil, err
	}

	if r.parser == nil {
		return document, nil
	}
	merged, err := r.parser.ParseAndMerge(ctx, document, location, r.fileServerRoot, tenant, r)
	if err != nil {
		return nil, fmt.Errorf("failed to merge blueprint import %s: %w", blueprintID, err)
	}
	return merged, nil
}
