package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/contriboss/pubgrub-go"

	"github.com/spinel-coop/rv/internal/logger"
	"github.com/spinel-coop/rv/internal/platform"
	"github.com/spinel-coop/rv/internal/registry"
	"github.com/spinel-coop/rv/internal/version"
)

// RegistrySource implements pubgrub.Source over a gem server. Candidates
// are filtered against the chosen interpreter's version and the host
// platform before the solver sees them; the registry client memoizes the
// underlying queries, and this source additionally caches the converted
// terms so repeated solver probes stay off the network entirely.
type RegistrySource struct {
	ctx    context.Context
	client *registry.Client

	rubyVersion version.Version
	host        platform.Platform

	mu    sync.RWMutex
	terms map[string]map[string][]pubgrub.Term
}

// NewRegistrySource builds a solver source. rubyVersion is the interpreter
// the install will run under; host is the machine platform.
func NewRegistrySource(ctx context.Context, client *registry.Client, rubyVersion version.Version, host platform.Platform) *RegistrySource {
	return &RegistrySource{
		ctx:         ctx,
		client:      client,
		rubyVersion: rubyVersion,
		host:        host,
		terms:       make(map[string]map[string][]pubgrub.Term),
	}
}

// GetVersions lists the candidate versions of a gem, newest included,
// filtered by interpreter requirement and platform, deduplicated to one
// entry per version number. Platform-variant selection happens later, in
// the install pipeline.
func (s *RegistrySource) GetVersions(name pubgrub.Name) ([]pubgrub.Version, error) {
	gemName := name.Value()
	listing, err := s.client.Versions(s.ctx, gemName)
	if err != nil {
		return nil, fmt.Errorf("failed to get versions for %s: %w", gemName, err)
	}

	seen := make(map[string]struct{})
	var out []pubgrub.Version
	for _, info := range listing {
		if !s.platformUsable(info.Platform) {
			continue
		}
		if !s.rubyUsable(info.RubyRequirement) {
			continue
		}
		parsed, err := ParseGemVersion(info.Version)
		if err != nil {
			// Servers do publish junk versions; skip them.
			logger.Debug("skipping unparsable version", "gem", gemName, "version", info.Version)
			continue
		}
		canonical := parsed.String()
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, parsed)
	}
	return out, nil
}

func (s *RegistrySource) platformUsable(p string) bool {
	if p == "" || p == "ruby" {
		return true
	}
	parsed, err := platform.New(p)
	if err != nil {
		return false
	}
	return parsed.Matches(s.host) || s.host.Matches(parsed)
}

func (s *RegistrySource) rubyUsable(requirement string) bool {
	if requirement == "" {
		return true
	}
	req, err := version.ParseRequirement(requirement)
	if err != nil {
		// An unparsable requirement should not hide the candidate.
		return true
	}
	return req.SatisfiedBy(s.rubyVersion)
}

// GetDependencies returns the runtime dependency terms of one candidate.
func (s *RegistrySource) GetDependencies(name pubgrub.Name, ver pubgrub.Version) ([]pubgrub.Term, error) {
	gemName := name.Value()
	versionStr := ver.String()

	s.mu.RLock()
	if versions, ok := s.terms[gemName]; ok {
		if terms, ok := versions[versionStr]; ok {
			s.mu.RUnlock()
			return terms, nil
		}
	}
	s.mu.RUnlock()

	deps, err := s.client.Dependencies(s.ctx, gemName, versionStr)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependencies for %s@%s: %w", gemName, versionStr, err)
	}

	var terms []pubgrub.Term
	for _, dep := range deps {
		var condition pubgrub.Condition
		if cond, err := NewRequirementCondition(dep.Requirements); err == nil {
			condition = cond
		} else {
			condition = AnyVersionCondition()
		}
		terms = append(terms, pubgrub.NewTerm(pubgrub.MakeName(dep.Name), condition))
	}

	s.mu.Lock()
	if _, ok := s.terms[gemName]; !ok {
		s.terms[gemName] = make(map[string][]pubgrub.Term)
	}
	s.terms[gemName][versionStr] = terms
	s.mu.Unlock()

	return terms, nil
}
