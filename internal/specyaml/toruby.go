package specyaml

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/spinel-coop/rv/internal/gemspec"
)

// ToRuby renders the Ruby source stub form of a gemspec, the format written
// into <prefix>/specifications/. The output is purely a function of the
// record.
func ToRuby(spec *gemspec.Specification) string {
	data := rubyStubData{
		Name:            spec.Name,
		Version:         spec.Version.String(),
		Platform:        spec.Platform.String(),
		Summary:         spec.Summary,
		Bindir:          spec.Bindir,
		RequirePaths:    spec.RequirePaths,
		Executables:     spec.Executables,
		Extensions:      spec.Extensions,
		Licenses:        spec.Licenses,
		RubygemsVersion: spec.RubygemsVersion,
		RequiredRuby:    spec.RequiredRubyVersion.String(),
	}
	if spec.Description != nil {
		data.Description = *spec.Description
	}
	if spec.Homepage != nil {
		data.Homepage = *spec.Homepage
	}
	for _, a := range spec.Authors {
		if a != nil {
			data.Authors = append(data.Authors, *a)
		}
	}
	for _, e := range spec.Email {
		if e != nil {
			data.Email = append(data.Email, *e)
		}
	}
	for _, dep := range spec.Dependencies {
		var constraints []string
		for _, c := range dep.Requirement.Constraints {
			constraints = append(constraints, c.String())
		}
		data.Dependencies = append(data.Dependencies, rubyStubDep{
			Name:        dep.Name,
			Development: dep.Kind == gemspec.Development,
			Constraints: constraints,
		})
	}

	var buf bytes.Buffer
	if err := rubyStubTmpl.Execute(&buf, data); err != nil {
		// The template only formats in-memory strings; a failure here means
		// the template itself is broken, so fall back to the minimal stub.
		return fmt.Sprintf("# -*- encoding: utf-8 -*-\n# stub: %s %s ruby lib\n\nGem::Specification.new do |s|\n  s.name = %q\n  s.version = %q\nend\n",
			spec.Name, spec.Version, spec.Name, spec.Version)
	}
	return buf.String()
}

type rubyStubData struct {
	Name            string
	Version         string
	Platform        string
	Summary         string
	Description     string
	Homepage        string
	Bindir          string
	Authors         []string
	Email           []string
	Licenses        []string
	RequirePaths    []string
	Executables     []string
	Extensions      []string
	RubygemsVersion string
	RequiredRuby    string
	Dependencies    []rubyStubDep
}

type rubyStubDep struct {
	Name        string
	Development bool
	Constraints []string
}

var rubyStubTmpl = template.Must(template.New("gemspec").Funcs(template.FuncMap{
	"rubyList": rubyList,
	"join":     strings.Join,
}).Parse(`# -*- encoding: utf-8 -*-
# stub: {{.Name}} {{.Version}} {{.Platform}} {{join .RequirePaths " "}}

Gem::Specification.new do |s|
  s.name = {{printf "%q" .Name}}
  s.version = {{printf "%q" .Version}}
{{- if ne .Platform "ruby"}}
  s.platform = {{printf "%q" .Platform}}
{{- end}}
  s.require_paths = {{rubyList .RequirePaths}}
{{- if .Authors}}
  s.authors = {{rubyList .Authors}}
{{- end}}
{{- if .Email}}
  s.email = {{rubyList .Email}}
{{- end}}
{{- if .Summary}}
  s.summary = {{printf "%q" .Summary}}
{{- end}}
{{- if .Description}}
  s.description = {{printf "%q" .Description}}
{{- end}}
{{- if .Homepage}}
  s.homepage = {{printf "%q" .Homepage}}
{{- end}}
{{- if .Licenses}}
  s.licenses = {{rubyList .Licenses}}
{{- end}}
{{- if ne .Bindir "bin"}}
  s.bindir = {{printf "%q" .Bindir}}
{{- end}}
{{- if .Executables}}
  s.executables = {{rubyList .Executables}}
{{- end}}
{{- if .Extensions}}
  s.extensions = {{rubyList .Extensions}}
{{- end}}
{{- if ne .RequiredRuby ">= 0"}}
  s.required_ruby_version = Gem::Requirement.new({{printf "%q" .RequiredRuby}})
{{- end}}
{{- if .RubygemsVersion}}
  s.rubygems_version = {{printf "%q" .RubygemsVersion}}
{{- end}}
{{- range .Dependencies}}
{{- if .Development}}
  s.add_development_dependency({{printf "%q" .Name}}{{if .Constraints}}, {{rubyList .Constraints}}{{end}})
{{- else}}
  s.add_runtime_dependency({{printf "%q" .Name}}{{if .Constraints}}, {{rubyList .Constraints}}{{end}})
{{- end}}
{{- end}}
end
`))

func rubyList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
