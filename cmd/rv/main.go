// Command rv manages Ruby toolchains: it installs the gems a lockfile
// names, installs gems as isolated tools, and keeps a content-addressed
// cache of everything it downloads.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/spinel-coop/rv/internal/logger"
	"github.com/spinel-coop/rv/internal/registry"
)

var (
	buildCommit = "unknown"
	buildTime   = "unknown"
)

var (
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "--help", "-h", "help":
		printHelp()
	case "--version", "-V", "-v", "version":
		printVersion()
	case "ci":
		if err := runCI(args); err != nil {
			exitWithError(err)
		}
	case "tool":
		if err := runTool(args); err != nil {
			exitWithError(err)
		}
	case "cache":
		if err := runCache(args); err != nil {
			exitWithError(err)
		}
	case "ruby":
		if err := runRuby(args); err != nil {
			exitWithError(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "%s unknown command %q\n\n", errStyle.Render("error:"), cmd)
		printHelp()
		os.Exit(1)
	}
}

func exitWithError(err error) {
	logger.Error(err.Error())
	fmt.Fprintf(os.Stderr, "%s %v\n", errStyle.Render("error:"), err)
	os.Exit(1)
}

func printVersion() {
	fmt.Printf("rv %s (%s, built %s)\n", registry.ToolVersion, buildCommit, buildTime)
}

func printHelp() {
	fmt.Println(headerStyle.Render("rv — a Ruby toolchain manager"))
	fmt.Println()
	fmt.Println("Usage: rv <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ci [--lockfile PATH] [--prefix DIR]   Install everything the lockfile names")
	fmt.Println("  tool install <gem>[@version]          Install a gem into an isolated prefix")
	fmt.Println("  tool uninstall <gem>[@version]        Remove an installed tool")
	fmt.Println("  tool list                             List installed tools")
	fmt.Println("  ruby pin <version>                    Pin this directory's interpreter")
	fmt.Println("  cache clean                           Remove the download cache")
	fmt.Println("  version                               Print the version")
	fmt.Println()
	fmt.Println(subtleStyle.Render("Environment: RV_CACHE_DIR, RV_DATA_DIR, RV_GEM_SERVER, RV_NO_CACHE, RV_LOG_LEVEL"))
}
