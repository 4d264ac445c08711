package resolver

import (
	"fmt"
	"net/url"
	"strings"
)

// Import URL scheme prefixes handled by the engine. Anything else is
// passed through to the generic fetcher.
const (
	PluginPrefix    = "plugin:"
	BlueprintPrefix = "blueprint:"
)

// Recognized plugin spec query parameters. Anything else fails the
// resolution.
const (
	paramVersion      = "version"
	paramDistribution = "distribution"
)

// Mapping pins a plugin to a fixed version when a legacy import URL is
// recognized. It fully overrides any version requested in the spec.
type Mapping struct {
	// ImportURL is the legacy import URL that triggers the rewrite.
	ImportURL string `yaml:"import_url" json:"import_url"`

	// Version is the pinned version.
	Version string `yaml:"version" json:"version"`
}

// Rules are the caller-supplied resolution tables: version pins by
// legacy URL and additional version constraints by plugin name.
type Rules struct {
	// Mappings pins plugins by name; consulted before any constraint
	// logic.
	Mappings map[string]Mapping `yaml:"mappings" json:"mappings"`

	// VersionConstraints adds a constraint per plugin name, consulted
	// only when the spec requests no version and no pin exists.
	VersionConstraints map[string]string `yaml:"version_constraints" json:"version_constraints"`
}

// RuleSource supplies the current rules. Implementations may reload
// them behind the engine's back (e.g. on file change); the engine
// reads them once per resolution call.
type RuleSource interface {
	Rules() Rules
}

// StaticRules is a RuleSource with fixed content.
type StaticRules Rules

// Rules implements RuleSource.
func (r StaticRules) Rules() Rules {
	return Rules(r)
}

// pluginFilters are the secondary selection attributes parsed from a
// plugin spec's query string.
type pluginFilters struct {
	// versions holds the raw values of the version parameter; each may
	// itself be a comma-joined specifier list.
	versions []string

	// distributions holds the values of the distribution parameter.
	distributions []string
}

// parsePluginSpec parses "name[?param=value&...]" into the plugin name
// and its filters. Only version and distribution parameters are
// recognized.
func parsePluginSpec(spec string) (string, pluginFilters, error) {
	name, params, _ := strings.Cut(spec, "?")

	var filters pluginFilters
	values, err := url.ParseQuery(params)
	if err != nil {
		return "", filters, NewMalformedError(
			fmt.Sprintf("error parsing spec for plugin %s", name), err).WithPlugin(name)
	}

	for param, paramValues := range values {
		switch param {
		case paramVersion:
			filters.versions = paramValues
		case paramDistribution:
			filters.distributions = paramValues
		default:
			return "", filters, NewMalformedError(
				fmt.Sprintf("error parsing spec for plugin %s: invalid parameter %s", name, param),
				nil).WithPlugin(name)
		}
	}

	return name, filters, nil
}

// rewriteFromMappings rewrites an import URL into a pinned plugin
// reference when it exactly matches a mapping's recorded source URL.
// Applied before classification, so only plugin-style pins exist.
func rewriteFromMappings(importURL string, mappings map[string]Mapping) string {
	for name, mapping := range mappings {
		if importURL == mapping.ImportURL {
			return fmt.Sprintf("%s%s?version=%s", PluginPrefix, name, mapping.Version)
		}
	}
	return importURL
}
