package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spinel-coop/rv/internal/logger"
	"github.com/spinel-coop/rv/internal/registry"
	"github.com/spinel-coop/rv/internal/resolver"
	"github.com/spinel-coop/rv/internal/ruby"
	"github.com/spinel-coop/rv/internal/version"
)

// ErrNoExecutables means the gem installs nothing runnable, so a tool
// prefix would be useless.
var ErrNoExecutables = errors.New("this gem doesn't have any executables to install")

// NoMatchingRubyError means no installed interpreter satisfies the gem's
// ruby requirement.
type NoMatchingRubyError struct {
	Requirement string
}

func (e *NoMatchingRubyError) Error() string {
	return fmt.Sprintf("no available Ruby matched the requirement %s", e.Requirement)
}

// ToolInstalled describes a finished tool install.
type ToolInstalled struct {
	Gem              string
	Version          version.Version
	Dir              string
	Ruby             ruby.Ruby
	AlreadyInstalled bool
}

// ParseToolRequest splits "gem@version" into its parts. A missing version
// or "@latest" means "newest release".
func ParseToolRequest(request string) (gem string, requested *version.Version, err error) {
	name, versionPart, found := strings.Cut(request, "@")
	if !found || versionPart == "latest" {
		return name, nil, nil
	}
	v, err := version.New(versionPart)
	if err != nil {
		return "", nil, err
	}
	return name, &v, nil
}

// ToolInstall resolves a gem's transitive closure and installs it into an
// isolated prefix <tools>/<gem>@<version>/, pinning the interpreter used.
func (inst *Installer) ToolInstall(ctx context.Context, request string) (*ToolInstalled, error) {
	gem, requested, err := ParseToolRequest(request)
	if err != nil {
		return nil, err
	}

	client := inst.registry.For(inst.cfg.GemServer)
	chosenRuby, rubyVersion := inst.chooseRuby()

	res := resolver.New(client, rubyVersion, inst.host)
	target, err := res.PickVersion(ctx, gem, requested)
	if err != nil {
		return nil, err
	}

	prefix := inst.cfg.ToolPrefix(gem, target.String())
	if _, err := os.Stat(prefix); err == nil && !inst.Force {
		logger.Info("tool already installed", "gem", gem, "version", target.String(), "dir", prefix)
		return &ToolInstalled{
			Gem:              gem,
			Version:          target,
			Dir:              prefix,
			Ruby:             chosenRuby,
			AlreadyInstalled: true,
		}, nil
	}

	// Make sure the interpreter is acceptable to the gem itself.
	if req, ok := inst.rubyRequirementFor(ctx, client, gem, target); ok {
		if !chosenRuby.Satisfies(req) {
			picked, found := inst.matchingRuby(req)
			if !found {
				return nil, &NoMatchingRubyError{Requirement: req.String()}
			}
			chosenRuby = picked
			if v, err := picked.GemVersion(); err == nil {
				rubyVersion = v
				res = resolver.New(client, rubyVersion, inst.host)
			}
		}
	}

	resolution, err := res.Resolve(ctx, gem, target)
	if err != nil {
		return nil, err
	}

	report, err := inst.CI(ctx, resolution.Lockfile, prefix)
	if err != nil {
		return nil, err
	}
	if report.ExecutablesInstalled == 0 {
		// An empty tool prefix is worse than no prefix.
		_ = os.RemoveAll(prefix)
		return nil, ErrNoExecutables
	}

	if err := ruby.WritePin(prefix, chosenRuby); err != nil {
		return nil, fmt.Errorf("could not pin Ruby version for this tool: %w", err)
	}

	logger.Info("installed tool", "gem", gem, "version", target.String(), "dir", prefix)
	return &ToolInstalled{Gem: gem, Version: target, Dir: prefix, Ruby: chosenRuby}, nil
}

// chooseRuby picks the first interpreter FindInstalled reports (engines in
// name order, newest release first within an engine), falling back to the
// detected system engine when no managed installs exist.
func (inst *Installer) chooseRuby() (ruby.Ruby, version.Version) {
	installed, err := ruby.FindInstalled(inst.cfg.RubiesDir())
	if err == nil && len(installed) > 0 {
		if v, verr := installed[0].GemVersion(); verr == nil {
			return installed[0], v
		}
	}

	fallback := ruby.Ruby{Engine: inst.engine.Name, Version: inst.engine.Version}
	if fallback.Version == "" {
		fallback.Version = "3.4.0"
	}
	v, verr := fallback.GemVersion()
	if verr != nil {
		v = version.MustParse("3.4.0")
	}
	return fallback, v
}

func (inst *Installer) matchingRuby(req version.Requirement) (ruby.Ruby, bool) {
	installed, err := ruby.FindInstalled(inst.cfg.RubiesDir())
	if err != nil {
		return ruby.Ruby{}, false
	}
	return ruby.Select(installed, req)
}

// rubyRequirementFor looks up the target version's ruby requirement from
// the registry listing.
func (inst *Installer) rubyRequirementFor(ctx context.Context, client *registry.Client, gem string, target version.Version) (version.Requirement, bool) {
	listing, err := client.Versions(ctx, gem)
	if err != nil {
		return version.Requirement{}, false
	}
	for _, info := range listing {
		v, err := version.New(info.Version)
		if err != nil || !v.Equal(target) {
			continue
		}
		if info.RubyRequirement == "" {
			return version.Requirement{}, false
		}
		req, err := version.ParseRequirement(info.RubyRequirement)
		if err != nil {
			return version.Requirement{}, false
		}
		return req, true
	}
	return version.Requirement{}, false
}

// ToolUninstall removes one tool version, or every version when the
// request has no @version part. It reports the removed prefixes.
func (inst *Installer) ToolUninstall(request string) ([]string, error) {
	gem, requested, err := ParseToolRequest(request)
	if err != nil {
		return nil, err
	}

	if requested != nil {
		prefix := inst.cfg.ToolPrefix(gem, requested.String())
		if _, err := os.Stat(prefix); err != nil {
			return nil, fmt.Errorf("%s@%s is not installed", gem, requested.String())
		}
		if err := os.RemoveAll(prefix); err != nil {
			return nil, err
		}
		return []string{prefix}, nil
	}

	entries, err := os.ReadDir(inst.cfg.ToolsDir())
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s is not installed", gem)
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		name, _, ok := strings.Cut(entry.Name(), "@")
		if !ok || name != gem {
			continue
		}
		prefix := filepath.Join(inst.cfg.ToolsDir(), entry.Name())
		if err := os.RemoveAll(prefix); err != nil {
			return removed, err
		}
		removed = append(removed, prefix)
	}
	if len(removed) == 0 {
		return nil, fmt.Errorf("%s is not installed", gem)
	}
	return removed, nil
}
