// Package dsl declares the contracts between the import resolution
// engine and the blueprint document parser/merger. The parser itself
// lives outside this repository; the engine only hands it documents
// and receives merged documents back, passing itself in as the
// resolver for nested imports.
package dsl

import "context"

// VersionPrefix prefixes a requested DSL version before matching it
// against published plugin document variants ("1_5" becomes
// "cloudify_dsl_1_5").
const VersionPrefix = "cloudify_dsl_"

// ImportResolver resolves one import URL into document text. The
// import resolution engine implements it, and the parser calls back
// into it for every nested import it encounters.
type ImportResolver interface {
	// ResolveImport resolves an import URL for the given tenant into
	// the imported document's text.
	ResolveImport(ctx context.Context, tenant, importURL, dslVersion string) ([]byte, error)
}

// Parser parses a blueprint document and recursively merges all of its
// imports, using the supplied resolver for each of them.
type Parser interface {
	// ParseAndMerge parses the document found at location and returns
	// the merged result. basePath is the file-server root used for
	// relative imports.
	ParseAndMerge(ctx context.Context, document []byte, location, basePath, tenant string, resolver ImportResolver) ([]byte, error)
}
