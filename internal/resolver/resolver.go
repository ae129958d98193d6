package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/contriboss/pubgrub-go"

	"github.com/spinel-coop/rv/internal/lockfile"
	"github.com/spinel-coop/rv/internal/logger"
	"github.com/spinel-coop/rv/internal/platform"
	"github.com/spinel-coop/rv/internal/registry"
	"github.com/spinel-coop/rv/internal/version"
)

// ErrNoVersionsPublished means the gem exists but has no versions at all.
var ErrNoVersionsPublished = errors.New("the gem does not have any versions published")

// NoVersionFoundError means the requested version is not on the server.
type NoVersionFoundError struct {
	Gem     string
	Version string
}

func (e *NoVersionFoundError) Error() string {
	return fmt.Sprintf("no version %s of %s available", e.Version, e.Gem)
}

// ResolveError wraps an unsatisfiable dependency set.
type ResolveError struct {
	Gem string
	Err error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("could not resolve dependencies for %s: %v", e.Gem, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Resolution is a solved dependency closure plus the synthetic lockfile
// the install pipeline consumes.
type Resolution struct {
	Root        string
	RootVersion version.Version
	// Versions maps every selected gem to its single chosen version.
	Versions map[string]version.Version
	Lockfile  *lockfile.Lockfile
}

// Resolver computes transitive closures against one gem server.
type Resolver struct {
	client      *registry.Client
	rubyVersion version.Version
	host        platform.Platform
}

// New builds a resolver for the given interpreter version and host.
func New(client *registry.Client, rubyVersion version.Version, host platform.Platform) *Resolver {
	return &Resolver{client: client, rubyVersion: rubyVersion, host: host}
}

// PickVersion selects the version to install: the requested one when
// given, else the highest non-prerelease (falling back to the highest
// prerelease when nothing else exists).
func (r *Resolver) PickVersion(ctx context.Context, gem string, requested *version.Version) (version.Version, error) {
	listing, err := r.client.Versions(ctx, gem)
	if err != nil {
		return version.Version{}, err
	}

	var candidates []version.Version
	for _, info := range listing {
		v, err := version.New(info.Version)
		if err != nil {
			continue
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return version.Version{}, ErrNoVersionsPublished
	}

	if requested != nil {
		for _, v := range candidates {
			if v.Equal(*requested) {
				return v, nil
			}
		}
		return version.Version{}, &NoVersionFoundError{Gem: gem, Version: requested.String()}
	}

	best := version.Version{}
	bestIsPre := true
	for _, v := range candidates {
		switch {
		case best.IsZero():
			best, bestIsPre = v, v.IsPrerelease()
		case bestIsPre && !v.IsPrerelease():
			best, bestIsPre = v, false
		case v.IsPrerelease() == bestIsPre && v.Compare(best) > 0:
			best = v
		}
	}
	return best, nil
}

// Resolve computes the transitive closure of gem@ver and selects one
// version per dependency via PubGrub.
func (r *Resolver) Resolve(ctx context.Context, gem string, ver version.Version) (*Resolution, error) {
	logger.Debug("resolving dependency closure", "gem", gem, "version", ver.String())

	source := NewRegistrySource(ctx, r.client, r.rubyVersion, r.host)

	rootSource := pubgrub.NewRootSource()
	rootSource.AddPackage(pubgrub.MakeName(gem), ConditionFor(exactRequirement(ver)))

	solver := pubgrub.NewSolver(rootSource, source)
	solution, err := solver.Solve(rootSource.Term())
	if err != nil {
		return nil, &ResolveError{Gem: gem, Err: err}
	}

	rootName := pubgrub.MakeName("$$root")
	versions := make(map[string]version.Version)
	for _, pkg := range solution {
		if pkg.Name == rootName {
			continue
		}
		chosen, err := ensureGemVersion(pkg.Version)
		if err != nil {
			return nil, &ResolveError{Gem: gem, Err: err}
		}
		versions[pkg.Name.Value()] = chosen.Unwrap()
	}

	resolution := &Resolution{
		Root:        gem,
		RootVersion: ver,
		Versions:    versions,
	}
	resolution.Lockfile = r.syntheticLockfile(ctx, resolution)
	return resolution, nil
}

func exactRequirement(v version.Version) version.Requirement {
	return version.Requirement{Constraints: []version.Constraint{{
		Operator: version.OpEqual,
		Version:  v,
	}}}
}

// syntheticLockfile renders the solution as a single-GEM-section lockfile
// against the resolver's remote, with each spec's dependency lines filled
// from the memoized registry responses.
func (r *Resolver) syntheticLockfile(ctx context.Context, res *Resolution) *lockfile.Lockfile {
	names := make([]string, 0, len(res.Versions))
	for name := range res.Versions {
		names = append(names, name)
	}
	sort.Strings(names)

	section := lockfile.GemSection{Remote: r.client.Remote() + "/"}
	for _, name := range names {
		spec := lockfile.Spec{Name: name, Version: res.Versions[name].String()}
		deps, err := r.client.Dependencies(ctx, name, spec.Version)
		if err == nil {
			for _, dep := range deps {
				requirement := dep.Requirements
				if requirement == ">= 0" {
					requirement = ""
				}
				spec.Dependencies = append(spec.Dependencies, lockfile.Dependency{
					Name:        dep.Name,
					Requirement: requirement,
				})
			}
		}
		section.Specs = append(section.Specs, spec)
	}

	return &lockfile.Lockfile{
		Gem:       []lockfile.GemSection{section},
		Platforms: []string{"ruby"},
		Dependencies: []lockfile.Dependency{{
			Name:        res.Root,
			Requirement: "= " + res.RootVersion.String(),
		}},
	}
}
