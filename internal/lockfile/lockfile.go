// Package lockfile parses and writes the Gemfile.lock format: a
// line-oriented document of source sections (GIT, GEM, PATH, PLUGIN
// SOURCE), a DEPENDENCIES list, PLATFORMS, and the optional RUBY VERSION,
// BUNDLED WITH and CHECKSUMS blocks.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lockfile is a parsed Gemfile.lock.
type Lockfile struct {
	Git    []GitSection
	Gem    []GemSection
	Path   []PathSection
	Plugin []PluginSection

	Platforms    []string
	Dependencies []Dependency
	RubyVersion  string
	BundledWith  string
	Checksums    []Checksum
}

// GitSection is a git source and its locked specs.
type GitSection struct {
	Remote     string
	Revision   string
	Ref        string
	Branch     string
	Tag        string
	Glob       string
	Submodules bool
	Specs      []Spec
}

// GemSection is a gem-server source and its locked specs.
type GemSection struct {
	Remote string
	Specs  []Spec
}

// PathSection is a filesystem source and its locked specs.
type PathSection struct {
	Remote string
	Glob   string
	Specs  []Spec
}

// PluginSection is a plugin-provided source; its configuration keys are
// kept verbatim in order.
type PluginSection struct {
	Options []Option
	Specs   []Spec
}

// Option is one "key: value" configuration line of a source section.
type Option struct {
	Key   string
	Value string
}

// Spec is one locked gem: "name (version[-platform])" plus its dependency
// lines.
type Spec struct {
	Name         string
	Version      string
	Platform     string
	Dependencies []Dependency
}

// FullName is "name-version", with the platform suffix for native gems.
func (s Spec) FullName() string {
	if s.Platform != "" {
		return fmt.Sprintf("%s-%s-%s", s.Name, s.Version, s.Platform)
	}
	return fmt.Sprintf("%s-%s", s.Name, s.Version)
}

// Dependency is a named requirement; top-level entries may be pinned to a
// non-index source with a trailing "!".
type Dependency struct {
	Name        string
	Requirement string
	Pinned      bool
}

// Checksum is one CHECKSUMS line.
type Checksum struct {
	Name      string
	Version   string
	Platform  string
	Algorithm string
	Digest    string
}

// FullName matches the spec naming for checksum lookup.
func (c Checksum) FullName() string {
	if c.Platform != "" {
		return fmt.Sprintf("%s-%s-%s", c.Name, c.Version, c.Platform)
	}
	return fmt.Sprintf("%s-%s", c.Name, c.Version)
}

// GemSpecCount is the number of specs across GEM sections.
func (l *Lockfile) GemSpecCount() int {
	count := 0
	for _, section := range l.Gem {
		count += len(section.Specs)
	}
	return count
}

// PlatformSpecificSpecCount counts native GEM specs plus everything from
// git and path sources, which are always built for the host.
func (l *Lockfile) PlatformSpecificSpecCount() int {
	count := 0
	for _, section := range l.Gem {
		for _, spec := range section.Specs {
			if spec.Platform != "" {
				count++
			}
		}
	}
	for _, section := range l.Git {
		count += len(section.Specs)
	}
	for _, section := range l.Path {
		count += len(section.Specs)
	}
	return count
}

// ChecksumFor finds the CHECKSUMS entry for a spec, if recorded.
func (l *Lockfile) ChecksumFor(spec Spec) (Checksum, bool) {
	for _, c := range l.Checksums {
		if c.FullName() == spec.FullName() {
			return c, true
		}
	}
	return Checksum{}, false
}

// DiscardInstalledGems drops GEM specs whose install directory and written
// gemspec both already exist under the prefix, then drops emptied sections.
// What remains is exactly the work an install still has to do.
func (l *Lockfile) DiscardInstalledGems(installPrefix string) {
	for i := range l.Gem {
		section := &l.Gem[i]
		kept := section.Specs[:0]
		for _, spec := range section.Specs {
			gemDir := filepath.Join(installPrefix, "gems", spec.FullName())
			specFile := filepath.Join(installPrefix, "specifications", spec.FullName()+".gemspec")
			if exists(gemDir) && exists(specFile) {
				continue
			}
			kept = append(kept, spec)
		}
		section.Specs = kept
	}

	sections := l.Gem[:0]
	for _, section := range l.Gem {
		if len(section.Specs) > 0 {
			sections = append(sections, section)
		}
	}
	l.Gem = sections
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
