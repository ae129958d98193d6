// Package extensions builds native gem extensions by invoking the
// interpreter's build tooling through ruby-extension-go. Builds are gated
// by a sentinel file inside the installed gem because, unlike extraction,
// compilation is not idempotent.
package extensions

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	rubyext "github.com/contriboss/ruby-extension-go"

	"github.com/spinel-coop/rv/internal/ruby"
)

// SentinelFile marks a gem whose extensions were already built.
const SentinelFile = ".rv_extensions_built"

// BuildConfig configures extension compilation.
type BuildConfig struct {
	SkipExtensions bool
	Verbose        bool
	Parallel       int
	RubyPath       string
	// InstallPrefix becomes GEM_HOME/GEM_PATH during the build so extconf
	// scripts can resolve their build-time gem dependencies.
	InstallPrefix string
}

// Builder compiles extensions for installed gems.
type Builder struct {
	factory *rubyext.BuilderFactory
	config  *BuildConfig
}

// NewBuilder creates an extension builder.
func NewBuilder(config *BuildConfig) *Builder {
	if config == nil {
		config = &BuildConfig{Parallel: 4}
	}
	return &Builder{factory: rubyext.NewBuilderFactory(), config: config}
}

// BuildResult reports one gem's extension build.
type BuildResult struct {
	GemName    string
	Extensions []string
	Success    bool
	Skipped    bool
	Error      error
}

// HasExtensions checks whether a gem directory contains extension sources
// compatible with the given engine.
func HasExtensions(gemDir string, engine ruby.Engine) (bool, []string, error) {
	extDir := filepath.Join(gemDir, "ext")
	if _, err := os.Stat(extDir); err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}

	var found []string
	err := filepath.Walk(extDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		name := info.Name()
		ext := strings.ToLower(filepath.Ext(name))

		isRubyBuild := name == "extconf.rb" || name == "Rakefile" || name == "rakefile" ||
			name == "mkrf_conf.rb" || name == "configure" || name == "configure.sh"
		isModernBuild := name == "CMakeLists.txt" || name == "Cargo.toml" ||
			name == "Makefile" || name == "GNUmakefile"
		isJavaFile := name == "build.xml" || name == "pom.xml" || ext == ".java"

		if isJavaFile && engine.Name != ruby.EngineJRuby {
			return nil
		}

		if isRubyBuild || isModernBuild || isJavaFile {
			rel, err := filepath.Rel(gemDir, path)
			if err != nil {
				return err
			}
			found = append(found, rel)
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return len(found) > 0, found, nil
}

// AlreadyBuilt reports whether the sentinel marks this gem as done.
func AlreadyBuilt(gemDir string) bool {
	_, err := os.Stat(filepath.Join(gemDir, SentinelFile))
	return err == nil
}

// markBuilt drops the sentinel so re-runs skip the compile step.
func markBuilt(gemDir string) error {
	return os.WriteFile(filepath.Join(gemDir, SentinelFile), []byte("built\n"), 0o644)
}

// BuildExtensions compiles a gem's extensions when needed. A gem without
// extension sources, a sentinel-marked gem, or a skip-configured run all
// come back Skipped.
func (b *Builder) BuildExtensions(ctx context.Context, gemDir, gemName string, engine ruby.Engine) (*BuildResult, error) {
	result := &BuildResult{GemName: gemName}

	if b.config.SkipExtensions || !engine.SupportsNativeExtensions() {
		result.Skipped = true
		result.Success = true
		return result, nil
	}
	if AlreadyBuilt(gemDir) {
		result.Skipped = true
		result.Success = true
		return result, nil
	}

	hasExt, sources, err := HasExtensions(gemDir, engine)
	if err != nil {
		result.Error = fmt.Errorf("failed to check for extensions: %w", err)
		return result, result.Error
	}
	if !hasExt {
		result.Skipped = true
		result.Success = true
		return result, nil
	}

	rubyPath := b.config.RubyPath
	if rubyPath == "" {
		rubyPath = "ruby"
	}
	if _, err := exec.LookPath(rubyPath); err != nil {
		result.Error = fmt.Errorf("ruby not found (required for building extensions): %w", err)
		return result, result.Error
	}

	rubyVersion, err := interpreterVersion(rubyPath)
	if err != nil {
		result.Error = fmt.Errorf("failed to get Ruby version: %w", err)
		return result, result.Error
	}

	buildConfig := &rubyext.BuildConfig{
		GemDir:      gemDir,
		RubyPath:    rubyPath,
		RubyVersion: rubyVersion,
		Verbose:     b.config.Verbose,
		Parallel:    b.config.Parallel,
		Env:         b.buildEnvironment(),
	}

	results, err := b.factory.BuildAllExtensions(ctx, buildConfig, sources)
	if err != nil {
		result.Error = fmt.Errorf("extension build failed for %s: %w", gemName, err)
		return result, result.Error
	}

	var built []string
	for _, extResult := range results {
		if extResult == nil {
			continue
		}
		if !extResult.Success {
			if b.config.Verbose {
				fmt.Fprintf(os.Stderr, "Extension build failed:\n%s\n", strings.Join(extResult.Output, "\n"))
			}
			result.Error = fmt.Errorf("one or more extensions failed to build for %s", gemName)
			return result, result.Error
		}
		built = append(built, extResult.Extensions...)
	}

	if err := markBuilt(gemDir); err != nil {
		result.Error = err
		return result, err
	}
	result.Extensions = built
	result.Success = true
	return result, nil
}

// buildEnvironment points the build at the install prefix so extconf
// dependencies resolve against what was just installed.
func (b *Builder) buildEnvironment() map[string]string {
	env := make(map[string]string)
	if b.config.InstallPrefix == "" {
		return env
	}
	env["GEM_HOME"] = b.config.InstallPrefix
	env["GEM_PATH"] = b.config.InstallPrefix
	env["BUNDLE_GEMFILE"] = ""
	env["BUNDLE_PATH"] = ""
	if path := os.Getenv("PATH"); path != "" {
		env["PATH"] = path
	}
	return env
}

func interpreterVersion(rubyPath string) (string, error) {
	cmd := exec.Command(rubyPath, "-v")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	parts := strings.Fields(string(output))
	if len(parts) < 2 {
		return "", fmt.Errorf("unexpected ruby version output: %s", output)
	}
	return parts[1], nil
}

// ShouldSkipExtensions honors the RV_SKIP_EXTENSIONS toggle.
func ShouldSkipExtensions() bool {
	switch strings.ToLower(os.Getenv("RV_SKIP_EXTENSIONS")) {
	case "1", "true", "yes":
		return true
	}
	return false
}
