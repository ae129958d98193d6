// Package resolver bridges gem metadata into the PubGrub solver: it
// adapts the RubyGems version and requirement algebra to pubgrub-go's
// Version/Condition interfaces, queries the registry for candidates, and
// turns the solution into a synthetic lockfile for the install pipeline.
package resolver

import (
	"fmt"

	"github.com/contriboss/pubgrub-go"

	"github.com/spinel-coop/rv/internal/version"
)

// GemVersion adapts version.Version to pubgrub.Version.
type GemVersion struct {
	v version.Version
}

// NewGemVersion wraps a parsed version for the solver.
func NewGemVersion(v version.Version) *GemVersion {
	return &GemVersion{v: v}
}

// ParseGemVersion parses a version string into a solver version.
func ParseGemVersion(s string) (*GemVersion, error) {
	v, err := version.New(s)
	if err != nil {
		return nil, err
	}
	return &GemVersion{v: v}, nil
}

// Unwrap returns the underlying gem version.
func (g *GemVersion) Unwrap() version.Version { return g.v }

// String returns the version string.
func (g *GemVersion) String() string {
	if g == nil {
		return "0"
	}
	return g.v.String()
}

// Sort orders this version against another solver version.
func (g *GemVersion) Sort(other pubgrub.Version) int {
	if g == nil {
		if other == nil {
			return 0
		}
		return -1
	}
	o, err := ensureGemVersion(other)
	if err != nil {
		// Foreign version types fall back to string order.
		switch {
		case g.String() < other.String():
			return -1
		case g.String() > other.String():
			return 1
		}
		return 0
	}
	return g.v.Compare(o.v)
}

func ensureGemVersion(ver pubgrub.Version) (*GemVersion, error) {
	if ver == nil {
		return nil, fmt.Errorf("nil version")
	}
	if existing, ok := ver.(*GemVersion); ok {
		return existing, nil
	}
	return ParseGemVersion(ver.String())
}

// RequirementCondition adapts a gem requirement to pubgrub.Condition.
type RequirementCondition struct {
	req      version.Requirement
	original string
}

// NewRequirementCondition parses a Ruby-style constraint list ("~> 1.2,
// >= 1.2.3") into a solver condition. Empty means "any version".
func NewRequirementCondition(constraints string) (*RequirementCondition, error) {
	if constraints == "" || constraints == ">= 0" {
		return &RequirementCondition{req: version.DefaultRequirement(), original: constraints}, nil
	}
	req, err := version.ParseRequirement(constraints)
	if err != nil {
		return nil, fmt.Errorf("invalid constraint %q: %w", constraints, err)
	}
	return &RequirementCondition{req: req, original: constraints}, nil
}

// ConditionFor wraps an already-parsed requirement.
func ConditionFor(req version.Requirement) *RequirementCondition {
	return &RequirementCondition{req: req, original: req.String()}
}

// Satisfies checks a candidate version against the requirement.
func (c *RequirementCondition) Satisfies(ver pubgrub.Version) bool {
	target, err := ensureGemVersion(ver)
	if err != nil {
		return false
	}
	return c.req.SatisfiedBy(target.v)
}

func (c *RequirementCondition) String() string {
	if c.original == "" {
		return ">= 0"
	}
	return c.original
}

// ToVersionSet converts the requirement to interval form for the solver's
// conflict-driven core.
func (c *RequirementCondition) ToVersionSet() pubgrub.VersionSet {
	result := pubgrub.FullVersionSet()

	for _, constraint := range c.req.Constraints {
		var interval pubgrub.VersionSet
		bound := NewGemVersion(constraint.Version)

		switch constraint.Operator {
		case version.OpEqual:
			interval = pubgrub.NewVersionRangeSet(bound, true, bound, true)
		case version.OpNotEqual:
			interval = pubgrub.NewVersionRangeSet(bound, true, bound, true).Complement()
		case version.OpGreater:
			interval = pubgrub.NewLowerBoundVersionSet(bound, false)
		case version.OpGreaterEqual:
			interval = pubgrub.NewLowerBoundVersionSet(bound, true)
		case version.OpLess:
			interval = pubgrub.NewUpperBoundVersionSet(bound, false)
		case version.OpLessEqual:
			interval = pubgrub.NewUpperBoundVersionSet(bound, true)
		case version.OpPessimistic:
			lower, upper := constraint.Version.PessimisticRange()
			interval = pubgrub.NewVersionRangeSet(NewGemVersion(lower), true, NewGemVersion(upper), false)
		default:
			interval = pubgrub.FullVersionSet()
		}

		result = result.Intersection(interval)
		if result.IsEmpty() {
			return result
		}
	}

	return result
}

// AnyVersionCondition matches every version, for dependencies with no
// constraints.
func AnyVersionCondition() pubgrub.Condition {
	return pubgrub.NewVersionSetCondition(pubgrub.FullVersionSet())
}
