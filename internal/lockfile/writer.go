package lockfile

import (
	"fmt"
	"os"
	"strings"
)

// Render serializes the lockfile back to its text form: LF line endings and
// a trailing newline, sections separated by a blank line.
func Render(l *Lockfile) string {
	var b strings.Builder

	for _, section := range l.Git {
		b.WriteString("GIT\n")
		writeOption(&b, "remote", section.Remote)
		writeOption(&b, "revision", section.Revision)
		writeOption(&b, "ref", section.Ref)
		writeOption(&b, "branch", section.Branch)
		writeOption(&b, "tag", section.Tag)
		writeOption(&b, "glob", section.Glob)
		if section.Submodules {
			writeOption(&b, "submodules", "true")
		}
		writeSpecs(&b, section.Specs)
		b.WriteString("\n")
	}

	for _, section := range l.Gem {
		b.WriteString("GEM\n")
		writeOption(&b, "remote", section.Remote)
		writeSpecs(&b, section.Specs)
		b.WriteString("\n")
	}

	for _, section := range l.Path {
		b.WriteString("PATH\n")
		writeOption(&b, "remote", section.Remote)
		writeOption(&b, "glob", section.Glob)
		writeSpecs(&b, section.Specs)
		b.WriteString("\n")
	}

	for _, section := range l.Plugin {
		b.WriteString("PLUGIN SOURCE\n")
		for _, opt := range section.Options {
			writeOption(&b, opt.Key, opt.Value)
		}
		writeSpecs(&b, section.Specs)
		b.WriteString("\n")
	}

	if len(l.Platforms) > 0 {
		b.WriteString("PLATFORMS\n")
		for _, platform := range l.Platforms {
			fmt.Fprintf(&b, "  %s\n", platform)
		}
		b.WriteString("\n")
	}

	if len(l.Dependencies) > 0 {
		b.WriteString("DEPENDENCIES\n")
		for _, dep := range l.Dependencies {
			line := dep.Name
			if dep.Requirement != "" {
				line = fmt.Sprintf("%s (%s)", dep.Name, dep.Requirement)
			}
			if dep.Pinned {
				line += "!"
			}
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}

	if len(l.Checksums) > 0 {
		b.WriteString("CHECKSUMS\n")
		for _, c := range l.Checksums {
			name := c.Name + " (" + c.Version
			if c.Platform != "" {
				name += "-" + c.Platform
			}
			name += ")"
			fmt.Fprintf(&b, "  %s %s=%s\n", name, c.Algorithm, c.Digest)
		}
		b.WriteString("\n")
	}

	if l.RubyVersion != "" {
		b.WriteString("RUBY VERSION\n")
		fmt.Fprintf(&b, "   ruby %s\n", l.RubyVersion)
		b.WriteString("\n")
	}

	if l.BundledWith != "" {
		b.WriteString("BUNDLED WITH\n")
		fmt.Fprintf(&b, "   %s\n", l.BundledWith)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// WriteFile renders the lockfile to disk.
func WriteFile(l *Lockfile, path string) error {
	return os.WriteFile(path, []byte(Render(l)), 0o644)
}

func writeOption(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "  %s: %s\n", key, value)
}

func writeSpecs(b *strings.Builder, specs []Spec) {
	b.WriteString("  specs:\n")
	for _, spec := range specs {
		version := spec.Version
		if spec.Platform != "" {
			version += "-" + spec.Platform
		}
		fmt.Fprintf(b, "    %s (%s)\n", spec.Name, version)
		for _, dep := range spec.Dependencies {
			if dep.Requirement != "" {
				fmt.Fprintf(b, "      %s (%s)\n", dep.Name, dep.Requirement)
			} else {
				fmt.Fprintf(b, "      %s\n", dep.Name)
			}
		}
	}
}
