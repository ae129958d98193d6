// Package registry talks to a RubyGems-compatible gem server: version
// listings, per-version dependency info, and .gem downloads. Responses are
// memoized in the content-addressed cache so resolution does not hammer
// the server.
package registry

import "context"

// ProtocolName identifies a registry protocol.
type ProtocolName string

// ProtocolRubygems is the classic rubygems.org API.
const ProtocolRubygems ProtocolName = "rubygems"

// Dependency is one requirement edge as reported by the server.
type Dependency struct {
	Name         string
	Requirements string
}

// DependencyCategories splits dependencies by kind.
type DependencyCategories struct {
	Runtime     []Dependency
	Development []Dependency
}

// GemInfo is the unified per-version metadata across protocols.
type GemInfo struct {
	Name         string
	Version      string
	Dependencies DependencyCategories
}

// VersionInfo is one entry of a gem's version listing.
type VersionInfo struct {
	Version         string `json:"number"`
	Platform        string `json:"platform"`
	RubyRequirement string `json:"ruby_version"`
	Prerelease      bool   `json:"prerelease"`
}

// Protocol is the transport behind a Client.
type Protocol interface {
	// GetGemInfo retrieves metadata for a specific gem version.
	GetGemInfo(ctx context.Context, name, version string) (*GemInfo, error)

	// GetGemVersions retrieves the version listing for a gem.
	GetGemVersions(ctx context.Context, name string) ([]VersionInfo, error)

	// Name returns the protocol identifier.
	Name() ProtocolName

	// BaseURL returns the server root this protocol queries.
	BaseURL() string
}
