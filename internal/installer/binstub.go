package installer

import (
	"fmt"
	"os"
	"strings"
)

// writeBinstub creates a Ruby wrapper script that points GEM_HOME at the
// install prefix and loads the gem's real executable.
func writeBinstub(binstubPath, originalExec, prefix string) error {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env ruby\n")
	b.WriteString("# frozen_string_literal: true\n")
	b.WriteString("\n")
	b.WriteString("#\n")
	b.WriteString("# This file was generated by rv.\n")
	b.WriteString("#\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "gem_home = %q\n", prefix)
	b.WriteString("ENV[\"GEM_HOME\"] = gem_home\n")
	b.WriteString("ENV[\"GEM_PATH\"] = gem_home\n")
	b.WriteString("\n")
	b.WriteString("gems_dir = File.join(gem_home, \"gems\")\n")
	b.WriteString("if File.directory?(gems_dir)\n")
	b.WriteString("  Dir.glob(File.join(gems_dir, \"*\", \"lib\")).each do |lib_dir|\n")
	b.WriteString("    $LOAD_PATH.unshift(lib_dir) unless $LOAD_PATH.include?(lib_dir)\n")
	b.WriteString("  end\n")
	b.WriteString("end\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "load %q\n", originalExec)

	return os.WriteFile(binstubPath, []byte(b.String()), 0o755)
}
