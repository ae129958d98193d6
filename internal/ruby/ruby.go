package ruby

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	gemversion "github.com/spinel-coop/rv/internal/version"
)

// Ruby is one installed (or installable) interpreter.
type Ruby struct {
	Engine  string
	Version string
	// Path is the interpreter's install prefix; empty for not-yet-installed
	// releases.
	Path string
}

// String renders "engine-version", with the engine omitted for MRI to
// match .ruby-version conventions.
func (r Ruby) String() string {
	if r.Engine == "" || r.Engine == EngineMRI {
		return r.Version
	}
	return fmt.Sprintf("%s-%s", r.Engine, r.Version)
}

// BinDir is the interpreter's executable directory.
func (r Ruby) BinDir() string {
	return filepath.Join(r.Path, "bin")
}

// GemVersion parses the interpreter version with gem semantics, for
// matching against required_ruby_version constraints.
func (r Ruby) GemVersion() (gemversion.Version, error) {
	return gemversion.New(r.Version)
}

// Satisfies checks the interpreter against a gem's ruby requirement.
func (r Ruby) Satisfies(req gemversion.Requirement) bool {
	v, err := r.GemVersion()
	if err != nil {
		return false
	}
	return req.SatisfiedBy(v)
}

// ParseRequest parses an interpreter request like "3.3.0",
// "jruby-9.4.0.0" or "truffleruby-24.0".
func ParseRequest(request string) Ruby {
	request = strings.TrimSpace(request)
	for _, engine := range []string{EngineJRuby, EngineTruffleRuby, EngineMRuby} {
		if rest, ok := strings.CutPrefix(request, engine+"-"); ok {
			return Ruby{Engine: engine, Version: rest}
		}
	}
	if rest, ok := strings.CutPrefix(request, "ruby-"); ok {
		return Ruby{Engine: EngineMRI, Version: rest}
	}
	return Ruby{Engine: EngineMRI, Version: request}
}

// FindInstalled scans a rubies directory for installed interpreters.
// Each child directory named like "3.3.0" or "jruby-9.4.0.0" with a bin/ruby
// inside counts as an install. Results are sorted newest-first per engine
// using release ordering.
func FindInstalled(rubiesDir string) ([]Ruby, error) {
	entries, err := os.ReadDir(rubiesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rubies []Ruby
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		prefix := filepath.Join(rubiesDir, entry.Name())
		if _, err := os.Stat(filepath.Join(prefix, "bin", "ruby")); err != nil {
			continue
		}
		ruby := ParseRequest(entry.Name())
		ruby.Path = prefix
		rubies = append(rubies, ruby)
	}

	sort.SliceStable(rubies, func(i, j int) bool {
		if rubies[i].Engine != rubies[j].Engine {
			return rubies[i].Engine < rubies[j].Engine
		}
		return releaseLess(rubies[j].Version, rubies[i].Version)
	})
	return rubies, nil
}

// releaseLess orders interpreter release strings. Interpreter releases are
// semver-shaped, so the comparison leans on the semver library and falls
// back to string order for oddballs.
func releaseLess(a, b string) bool {
	av, aerr := semver.NewVersion(a)
	bv, berr := semver.NewVersion(b)
	if aerr != nil || berr != nil {
		return a < b
	}
	return av.LessThan(bv)
}

// Select picks the newest installed interpreter satisfying a gem-style
// requirement, preferring MRI.
func Select(rubies []Ruby, req gemversion.Requirement) (Ruby, bool) {
	var fallback *Ruby
	for i := range rubies {
		ruby := rubies[i]
		if !ruby.Satisfies(req) {
			continue
		}
		if ruby.Engine == EngineMRI || ruby.Engine == "" {
			return ruby, true
		}
		if fallback == nil {
			fallback = &rubies[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Ruby{}, false
}
