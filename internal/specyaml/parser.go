// Package specyaml reads and writes the Ruby-object YAML dialect used by
// gem specifications: a YAML 1.1 document whose root mapping is tagged
// !ruby/object:Gem::Specification, with nested tagged mappings for versions,
// requirements and dependencies.
//
// The parser is a hand-written descent over the decoded node tree with a
// closed set of recognized keys; everything else is skipped so unknown
// fields from newer writers never break parsing.
package specyaml

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spinel-coop/rv/internal/gemspec"
	"github.com/spinel-coop/rv/internal/platform"
	"github.com/spinel-coop/rv/internal/version"
)

const (
	specificationTag     = "!ruby/object:Gem::Specification"
	versionTag           = "!ruby/object:Gem::Version"
	requirementTag       = "!ruby/object:Gem::Requirement"
	legacyRequirementTag = "!ruby/object:Gem::Version::Requirement"
	dependencyTag        = "!ruby/object:Gem::Dependency"
)

// Parse decodes a gem specification from its YAML form.
func Parse(source string) (*gemspec.Specification, error) {
	// Some upstream writers mis-indent a multi-line quoted scalar so that
	// the closing quote sits in column zero. Re-indent the single known
	// shape before parsing; everything else about the document is
	// untouched.
	amended := strings.Replace(source, "\n'\n", "\n  '\n", 1)

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(amended), &doc); err != nil {
		return nil, &ParseError{Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &UnexpectedEndError{Message: "no document in input", Span: spanOf(&doc)}
	}
	return parseSpecification(resolveAlias(doc.Content[0]))
}

func spanOf(n *yaml.Node) Span {
	return Span{Line: n.Line, Column: n.Column}
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func describe(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		if n.Tag != "" && !strings.HasPrefix(n.Tag, "!!") {
			return fmt.Sprintf("mapping with tag %q", n.Tag)
		}
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return fmt.Sprintf("scalar value %q", n.Value)
	case yaml.AliasNode:
		return fmt.Sprintf("alias %q", n.Value)
	case yaml.DocumentNode:
		return "document"
	}
	return "unknown node"
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && (n.Tag == "!!null" || (n.Tag == "" && n.Value == ""))
}

func scalarString(n *yaml.Node, what string) (string, error) {
	n = resolveAlias(n)
	if n.Kind != yaml.ScalarNode || isNull(n) {
		return "", &ExpectedEventError{Expected: what, Found: describe(n), Span: spanOf(n)}
	}
	return n.Value, nil
}

func optionalString(n *yaml.Node) *string {
	n = resolveAlias(n)
	if n.Kind != yaml.ScalarNode || isNull(n) {
		return nil
	}
	v := n.Value
	return &v
}

func parseSpecification(root *yaml.Node) (*gemspec.Specification, error) {
	if root.Kind != yaml.MappingNode || root.Tag != specificationTag {
		return nil, &ExpectedEventError{
			Expected: "Gem::Specification root object",
			Found:    describe(root),
			Span:     spanOf(root),
		}
	}

	var (
		name    string
		hasName bool
		ver     version.Version
		hasVer  bool
	)
	spec := &gemspec.Specification{
		Platform:                platform.Ruby,
		Bindir:                  "bin",
		RequirePaths:            []string{"lib"},
		RequiredRubyVersion:     version.DefaultRequirement(),
		RequiredRubygemsVersion: version.DefaultRequirement(),
		SpecificationVersion:    gemspec.CurrentSpecificationVersion,
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode := resolveAlias(root.Content[i])
		valNode := root.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, &ExpectedEventError{Expected: "field name", Found: describe(keyNode), Span: spanOf(keyNode)}
		}

		var err error
		switch keyNode.Value {
		case "name":
			name, err = scalarString(valNode, "gem name string")
			hasName = err == nil
		case "version":
			ver, err = parseVersion(valNode)
			hasVer = err == nil
		case "platform":
			if s := optionalString(valNode); s != nil {
				p, perr := platform.New(*s)
				if perr != nil {
					p = platform.Ruby
				}
				spec.Platform = p
			}
		case "authors":
			spec.Authors, err = parseOptionalStringArray(valNode)
		case "email":
			spec.Email, err = parseOptionalStringArray(valNode)
		case "dependencies":
			spec.Dependencies, err = parseDependencies(valNode)
		case "cert_chain":
			spec.CertChain, err = parseStringArray(valNode)
		case "executables":
			spec.Executables, err = parseStringArray(valNode)
		case "extensions":
			spec.Extensions, err = parseStringArray(valNode)
		case "extra_rdoc_files":
			spec.ExtraRdocFiles, err = parseStringArray(valNode)
		case "files":
			spec.Files, err = parseStringArray(valNode)
		case "licenses":
			spec.Licenses, err = parseStringArray(valNode)
		case "rdoc_options":
			spec.RdocOptions, err = parseStringArray(valNode)
		case "require_paths":
			spec.RequirePaths, err = parseStringArray(valNode)
		case "requirements":
			spec.Requirements, err = parseStringArray(valNode)
		case "test_files":
			spec.TestFiles, err = parseStringArray(valNode)
		case "required_ruby_version":
			spec.RequiredRubyVersion, err = parseRequirement(valNode)
		case "required_rubygems_version":
			spec.RequiredRubygemsVersion, err = parseRequirement(valNode)
		case "metadata":
			spec.Metadata, err = parseMetadata(valNode)
		case "homepage":
			spec.Homepage = optionalString(valNode)
		case "description":
			spec.Description = optionalString(valNode)
		case "post_install_message":
			spec.PostInstallMessage = optionalString(valNode)
		case "signing_key":
			spec.SigningKey = optionalString(valNode)
		case "autorequire":
			spec.Autorequire = optionalString(valNode)
		case "summary":
			if s := optionalString(valNode); s != nil {
				spec.Summary = *s
			}
		case "bindir":
			if s := optionalString(valNode); s != nil {
				spec.Bindir = *s
			}
		case "rubygems_version":
			if s := optionalString(valNode); s != nil {
				spec.RubygemsVersion = *s
			}
		case "date":
			if s := optionalString(valNode); s != nil {
				spec.Date = *s
			}
		case "specification_version":
			var raw string
			raw, err = scalarString(valNode, "specification version integer")
			if err == nil {
				n, convErr := strconv.Atoi(raw)
				if convErr != nil {
					err = &ExpectedEventError{
						Expected: "specification version integer",
						Found:    describe(resolveAlias(valNode)),
						Span:     spanOf(resolveAlias(valNode)),
					}
				} else {
					spec.SpecificationVersion = n
				}
			}
		default:
			// Unknown field: the value subtree is simply not descended.
		}
		if err != nil {
			return nil, err
		}
	}

	if !hasName {
		return nil, &MissingFieldError{Field: "name", Span: spanOf(root)}
	}
	if !hasVer {
		return nil, &MissingFieldError{Field: "version", Span: spanOf(root)}
	}
	spec.Name = name
	spec.Version = ver
	return spec, nil
}

func parseVersion(n *yaml.Node) (version.Version, error) {
	n = resolveAlias(n)
	if n.Kind != yaml.MappingNode || n.Tag != versionTag {
		return version.Version{}, &ExpectedEventError{
			Expected: "Gem::Version object",
			Found:    describe(n),
			Span:     spanOf(n),
		}
	}
	var raw string
	found := false
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := resolveAlias(n.Content[i])
		if key.Kind != yaml.ScalarNode {
			continue
		}
		switch key.Value {
		case "version":
			s, err := scalarString(n.Content[i+1], "version string value")
			if err != nil {
				return version.Version{}, err
			}
			raw = s
			found = true
		default:
			// prerelease and anything newer are derived; skip.
		}
	}
	if !found {
		return version.Version{}, &MissingFieldError{Field: "version", Span: spanOf(n)}
	}
	v, err := version.New(raw)
	if err != nil {
		return version.Version{}, &ExpectedEventError{
			Expected: "valid gem version",
			Found:    fmt.Sprintf("scalar value %q", raw),
			Span:     spanOf(n),
		}
	}
	return v, nil
}

func parseRequirement(n *yaml.Node) (version.Requirement, error) {
	n = resolveAlias(n)
	if n.Kind != yaml.MappingNode || (n.Tag != requirementTag && n.Tag != legacyRequirementTag) {
		return version.Requirement{}, &ExpectedEventError{
			Expected: "Gem::Requirement object",
			Found:    describe(n),
			Span:     spanOf(n),
		}
	}
	var constraints []string
	found := false
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := resolveAlias(n.Content[i])
		if key.Kind != yaml.ScalarNode {
			continue
		}
		switch key.Value {
		case "requirements":
			cs, err := parseConstraintArray(n.Content[i+1])
			if err != nil {
				return version.Requirement{}, err
			}
			constraints = cs
			found = true
		default:
			// "none" and unknown legacy fields are skipped.
		}
	}
	if !found {
		return version.Requirement{}, &MissingFieldError{Field: "requirements", Span: spanOf(n)}
	}
	req, err := version.NewRequirement(constraints)
	if err != nil {
		return version.Requirement{}, &ExpectedEventError{
			Expected: "valid requirement constraints",
			Found:    fmt.Sprintf("%q", constraints),
			Span:     spanOf(n),
		}
	}
	return req, nil
}

// parseConstraintArray reads a sequence of [operator, Gem::Version] pairs.
// An element may be an alias to a previously anchored pair; the decoder
// resolves those to the same underlying node.
func parseConstraintArray(n *yaml.Node) ([]string, error) {
	n = resolveAlias(n)
	if n.Kind != yaml.SequenceNode {
		return nil, &ExpectedEventError{Expected: "constraint array", Found: describe(n), Span: spanOf(n)}
	}
	var constraints []string
	for _, item := range n.Content {
		item = resolveAlias(item)
		if item.Kind != yaml.SequenceNode || len(item.Content) != 2 {
			return nil, &ExpectedEventError{Expected: "constraint array", Found: describe(item), Span: spanOf(item)}
		}
		op, err := scalarString(item.Content[0], "constraint operator")
		if err != nil {
			return nil, err
		}
		ver, err := parseVersion(item.Content[1])
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, fmt.Sprintf("%s %s", op, ver))
	}
	return constraints, nil
}

func parseDependencies(n *yaml.Node) ([]gemspec.Dependency, error) {
	n = resolveAlias(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, &ExpectedEventError{Expected: "dependency array", Found: describe(n), Span: spanOf(n)}
	}
	var deps []gemspec.Dependency
	for _, item := range n.Content {
		dep, err := parseDependency(item)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func parseDependency(n *yaml.Node) (gemspec.Dependency, error) {
	n = resolveAlias(n)
	if n.Kind != yaml.MappingNode || n.Tag != dependencyTag {
		return gemspec.Dependency{}, &ExpectedEventError{
			Expected: "Gem::Dependency object",
			Found:    describe(n),
			Span:     spanOf(n),
		}
	}

	var (
		dep    gemspec.Dependency
		hasReq bool
	)
	dep.Kind = gemspec.Runtime

	for i := 0; i+1 < len(n.Content); i += 2 {
		key := resolveAlias(n.Content[i])
		val := n.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			continue
		}
		switch key.Value {
		case "name":
			s, err := scalarString(val, "dependency name")
			if err != nil {
				return gemspec.Dependency{}, err
			}
			dep.Name = s
		case "requirement":
			req, err := parseRequirement(val)
			if err != nil {
				return gemspec.Dependency{}, err
			}
			dep.Requirement = req
			hasReq = true
		case "version_requirements":
			// Legacy synonym: only meaningful when "requirement" was absent.
			if hasReq {
				continue
			}
			req, err := parseRequirement(val)
			if err != nil {
				return gemspec.Dependency{}, err
			}
			dep.Requirement = req
			hasReq = true
		case "type":
			s, err := scalarString(val, "dependency type")
			if err != nil {
				return gemspec.Dependency{}, err
			}
			if s == ":development" {
				dep.Kind = gemspec.Development
			} else {
				dep.Kind = gemspec.Runtime
			}
		default:
			// prerelease and unknown fields are skipped.
		}
	}

	if dep.Name == "" {
		return gemspec.Dependency{}, &MissingFieldError{Field: "name", Span: spanOf(n)}
	}
	if !hasReq {
		return gemspec.Dependency{}, &MissingFieldError{Field: "requirement", Span: spanOf(n)}
	}
	return dep, nil
}

// parseStringArray accepts a sequence of scalars, a lone scalar (coerced to
// a one-element array), or null (empty).
func parseStringArray(n *yaml.Node) ([]string, error) {
	n = resolveAlias(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind == yaml.ScalarNode {
		return []string{n.Value}, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, &ExpectedEventError{Expected: "string array", Found: describe(n), Span: spanOf(n)}
	}
	var out []string
	for _, item := range n.Content {
		s, err := scalarString(item, "string array element")
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// parseOptionalStringArray is parseStringArray but elements may be null,
// which is preserved as absence.
func parseOptionalStringArray(n *yaml.Node) ([]*string, error) {
	n = resolveAlias(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind == yaml.ScalarNode {
		v := n.Value
		return []*string{&v}, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, &ExpectedEventError{Expected: "optional string array", Found: describe(n), Span: spanOf(n)}
	}
	var out []*string
	for _, item := range n.Content {
		out = append(out, optionalString(item))
	}
	return out, nil
}

func parseMetadata(n *yaml.Node) ([]gemspec.MetadataEntry, error) {
	n = resolveAlias(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, &ExpectedEventError{Expected: "metadata mapping", Found: describe(n), Span: spanOf(n)}
	}
	var entries []gemspec.MetadataEntry
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, err := scalarString(n.Content[i], "metadata key")
		if err != nil {
			return nil, err
		}
		value, err := scalarString(n.Content[i+1], "metadata value")
		if err != nil {
			return nil, err
		}
		entries = append(entries, gemspec.MetadataEntry{Name: key, Value: value})
	}
	return entries, nil
}
