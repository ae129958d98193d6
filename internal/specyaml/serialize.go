package specyaml

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spinel-coop/rv/internal/gemspec"
	"github.com/spinel-coop/rv/internal/version"
)

// Serialize renders a specification back into the tagged YAML dialect, in
// the canonical field order upstream writers use.
func Serialize(spec *gemspec.Specification) (string, error) {
	root := mappingNode(specificationTag)

	addScalar(root, "name", spec.Name)
	addNode(root, "version", versionNode(spec.Version))
	addScalar(root, "platform", spec.Platform.String())
	addNode(root, "authors", optionalStringArrayNode(spec.Authors))
	addNode(root, "autorequire", optionalStringNode(spec.Autorequire))
	addScalar(root, "bindir", spec.Bindir)
	addNode(root, "cert_chain", stringArrayNode(spec.CertChain))
	if spec.Date != "" {
		addScalar(root, "date", spec.Date)
	} else {
		addNode(root, "date", nullNode())
	}
	addNode(root, "dependencies", dependenciesNode(spec.Dependencies))
	addNode(root, "description", optionalStringNode(spec.Description))
	addNode(root, "email", optionalStringArrayNode(spec.Email))
	addNode(root, "executables", stringArrayNode(spec.Executables))
	addNode(root, "extensions", stringArrayNode(spec.Extensions))
	addNode(root, "extra_rdoc_files", stringArrayNode(spec.ExtraRdocFiles))
	addNode(root, "files", stringArrayNode(spec.Files))
	addNode(root, "homepage", optionalStringNode(spec.Homepage))
	addNode(root, "licenses", stringArrayNode(spec.Licenses))
	addNode(root, "metadata", metadataNode(spec.Metadata))
	addNode(root, "post_install_message", optionalStringNode(spec.PostInstallMessage))
	addNode(root, "rdoc_options", stringArrayNode(spec.RdocOptions))
	addNode(root, "require_paths", stringArrayNode(spec.RequirePaths))
	addNode(root, "required_ruby_version", requirementNode(spec.RequiredRubyVersion))
	addNode(root, "required_rubygems_version", requirementNode(spec.RequiredRubygemsVersion))
	addNode(root, "requirements", stringArrayNode(spec.Requirements))
	addScalar(root, "rubygems_version", spec.RubygemsVersion)
	addNode(root, "signing_key", optionalStringNode(spec.SigningKey))
	addNode(root, "specification_version", intNode(spec.SpecificationVersion))
	addScalar(root, "summary", spec.Summary)
	addNode(root, "test_files", stringArrayNode(spec.TestFiles))

	out, err := yaml.Marshal(root)
	if err != nil {
		return "", &SerializeError{Err: err}
	}
	// yaml.v3 has no document-start marker; upstream specs begin with one.
	return "--- " + string(out), nil
}

func mappingNode(tag string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: tag}
	if tag == "" {
		n.Tag = "!!map"
	}
	return n
}

func keyNode(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

func stringNode(value string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	// Version-shaped strings would round-trip as floats without quoting.
	if looksAmbiguous(value) {
		n.Style = yaml.SingleQuotedStyle
	}
	return n
}

func looksAmbiguous(value string) bool {
	if value == "" {
		return true
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return true
	}
	switch strings.ToLower(value) {
	case "true", "false", "null", "yes", "no", "on", "off", "~":
		return true
	}
	return false
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}

func boolNode(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
}

func addNode(mapping *yaml.Node, key string, value *yaml.Node) {
	mapping.Content = append(mapping.Content, keyNode(key), value)
}

func addScalar(mapping *yaml.Node, key, value string) {
	addNode(mapping, key, stringNode(value))
}

func optionalStringNode(s *string) *yaml.Node {
	if s == nil {
		return nullNode()
	}
	return stringNode(*s)
}

func stringArrayNode(values []string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, v := range values {
		seq.Content = append(seq.Content, stringNode(v))
	}
	return seq
}

func optionalStringArrayNode(values []*string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, v := range values {
		seq.Content = append(seq.Content, optionalStringNode(v))
	}
	return seq
}

func versionNode(v version.Version) *yaml.Node {
	n := mappingNode(versionTag)
	addNode(n, "version", stringNode(v.String()))
	return n
}

func requirementNode(r version.Requirement) *yaml.Node {
	n := mappingNode(requirementTag)
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, c := range r.Constraints {
		pair := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		pair.Content = append(pair.Content, stringNode(string(c.Operator)), versionNode(c.Version))
		seq.Content = append(seq.Content, pair)
	}
	addNode(n, "requirements", seq)
	return n
}

func dependenciesNode(deps []gemspec.Dependency) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, dep := range deps {
		seq.Content = append(seq.Content, dependencyNode(dep))
	}
	return seq
}

func dependencyNode(dep gemspec.Dependency) *yaml.Node {
	n := mappingNode(dependencyTag)
	addScalar(n, "name", dep.Name)
	addNode(n, "requirement", requirementNode(dep.Requirement))
	addScalar(n, "type", ":"+dep.Kind.String())
	addNode(n, "prerelease", boolNode(dep.Requirement.IsPrerelease()))
	// version_requirements duplicates requirement for older readers.
	addNode(n, "version_requirements", requirementNode(dep.Requirement))
	return n
}

func metadataNode(entries []gemspec.MetadataEntry) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, entry := range entries {
		addScalar(n, entry.Name, entry.Value)
	}
	return n
}
