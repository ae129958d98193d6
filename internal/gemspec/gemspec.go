// Package gemspec defines the typed gem specification record that the YAML
// codec produces and the installer consumes.
package gemspec

import (
	"errors"
	"fmt"

	"github.com/spinel-coop/rv/internal/platform"
	"github.com/spinel-coop/rv/internal/version"
)

var (
	ErrMissingName    = errors.New("gem specification requires a name")
	ErrMissingVersion = errors.New("gem specification requires a version")
)

// DependencyKind distinguishes runtime from development dependencies.
type DependencyKind int

const (
	Runtime DependencyKind = iota
	Development
)

func (k DependencyKind) String() string {
	if k == Development {
		return "development"
	}
	return "runtime"
}

// Dependency is a named requirement on another gem.
type Dependency struct {
	Name        string
	Requirement version.Requirement
	Kind        DependencyKind
}

// MetadataEntry is one metadata key/value pair. Metadata keeps insertion
// order so serializing a parsed spec is deterministic.
type MetadataEntry struct {
	Name  string
	Value string
}

// Specification is a gem's manifest. Name and Version are mandatory;
// everything else carries the upstream defaults.
type Specification struct {
	Name     string
	Version  version.Version
	Platform platform.Platform

	Summary     string
	Description *string
	Authors     []*string
	Email       []*string
	Homepage    *string
	Licenses    []string

	Files          []string
	Executables    []string
	Extensions     []string
	TestFiles      []string
	ExtraRdocFiles []string
	RdocOptions    []string
	RequirePaths   []string
	Requirements   []string

	Dependencies []Dependency
	Metadata     []MetadataEntry

	RequiredRubyVersion     version.Requirement
	RequiredRubygemsVersion version.Requirement

	Bindir             string
	SigningKey         *string
	CertChain          []string
	PostInstallMessage *string
	Autorequire        *string
	Date               string
	RubygemsVersion    string

	SpecificationVersion int
}

// CurrentSpecificationVersion is the upstream format revision emitted for
// new specs.
const CurrentSpecificationVersion = 4

// New validates the mandatory fields and fills in the upstream defaults.
func New(name string, ver version.Version) (*Specification, error) {
	if name == "" {
		return nil, ErrMissingName
	}
	if ver.IsZero() {
		return nil, ErrMissingVersion
	}
	return &Specification{
		Name:                    name,
		Version:                 ver,
		Platform:                platform.Ruby,
		Bindir:                  "bin",
		RequirePaths:            []string{"lib"},
		RequiredRubyVersion:     version.DefaultRequirement(),
		RequiredRubygemsVersion: version.DefaultRequirement(),
		SpecificationVersion:    CurrentSpecificationVersion,
	}, nil
}

// FullName is "name-version", with the platform suffix for native gems.
func (s *Specification) FullName() string {
	if s.Platform.Kind == platform.KindSpecific {
		return fmt.Sprintf("%s-%s-%s", s.Name, s.Version, s.Platform)
	}
	return fmt.Sprintf("%s-%s", s.Name, s.Version)
}

// IsLatestVersion mirrors the requirement predicate over the spec's
// rubygems requirement.
func (s *Specification) IsLatestVersion() bool {
	return s.RequiredRubygemsVersion.IsLatestVersion()
}

// RuntimeDependencies filters the dependency list to runtime entries.
func (s *Specification) RuntimeDependencies() []Dependency {
	var deps []Dependency
	for _, d := range s.Dependencies {
		if d.Kind == Runtime {
			deps = append(deps, d)
		}
	}
	return deps
}

// MetadataValue looks up a metadata key, preserving absence.
func (s *Specification) MetadataValue(name string) (string, bool) {
	for _, entry := range s.Metadata {
		if entry.Name == name {
			return entry.Value, true
		}
	}
	return "", false
}
