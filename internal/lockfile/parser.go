package lockfile

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// MergeConflictError reports git conflict markers left in a lockfile.
type MergeConflictError struct {
	Line    int
	Snippet string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict marker on line %d: %q; resolve the conflict and relock", e.Line, e.Snippet)
}

// ParseError reports a grammatically invalid lockfile line.
type ParseError struct {
	Line    int
	Message string
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Message, e.Snippet)
}

var (
	specRe     = regexp.MustCompile(`^(\S+) \(([^-)]+)(?:-(.+))?\)$`)
	depRe      = regexp.MustCompile(`^(\S+)(?: \(([^)]+)\))?$`)
	checksumRe = regexp.MustCompile(`^(\S+) \(([^-)]+)(?:-(.+))?\) ([^=]+)=(.+)$`)
)

type sectionKind int

const (
	sectionNone sectionKind = iota
	sectionGit
	sectionGem
	sectionPath
	sectionPlugin
	sectionDependencies
	sectionPlatforms
	sectionRubyVersion
	sectionBundledWith
	sectionChecksums
)

// ParseFile reads and parses a lockfile from disk.
func ParseFile(path string) (*Lockfile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(content))
}

// Parse parses lockfile text. Conflict markers anywhere in the document are
// rejected before any section parsing happens.
func Parse(content string) (*Lockfile, error) {
	lines := strings.Split(content, "\n")

	for i, line := range lines {
		if strings.HasPrefix(line, "<<<<<<< ") ||
			strings.HasPrefix(line, "=======") ||
			strings.HasPrefix(line, ">>>>>>> ") {
			return nil, &MergeConflictError{Line: i + 1, Snippet: strings.TrimSpace(line)}
		}
	}

	p := &parser{lock: &Lockfile{}}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := p.parseLine(line, i+1); err != nil {
			return nil, err
		}
	}

	sort.Strings(p.lock.Platforms)
	return p.lock, nil
}

type parser struct {
	lock    *Lockfile
	section sectionKind
	// lastSpec points at the spec receiving 6-space dependency lines.
	lastSpec *Spec
}

func (p *parser) parseLine(line string, lineNum int) error {
	if kind, ok := sectionHeader(line); ok {
		p.section = kind
		p.lastSpec = nil
		switch kind {
		case sectionGit:
			p.lock.Git = append(p.lock.Git, GitSection{})
		case sectionGem:
			p.lock.Gem = append(p.lock.Gem, GemSection{})
		case sectionPath:
			p.lock.Path = append(p.lock.Path, PathSection{})
		case sectionPlugin:
			p.lock.Plugin = append(p.lock.Plugin, PluginSection{})
		}
		return nil
	}

	switch p.section {
	case sectionNone:
		return nil
	case sectionGit, sectionGem, sectionPath, sectionPlugin:
		return p.parseSourceLine(line, lineNum)
	case sectionDependencies:
		return p.parseDependencyLine(line)
	case sectionPlatforms:
		p.lock.Platforms = append(p.lock.Platforms, strings.TrimSpace(line))
		return nil
	case sectionRubyVersion:
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "ruby "); ok {
			p.lock.RubyVersion = v
		}
		return nil
	case sectionBundledWith:
		p.lock.BundledWith = strings.TrimSpace(line)
		return nil
	case sectionChecksums:
		return p.parseChecksumLine(line, lineNum)
	}
	return nil
}

func sectionHeader(line string) (sectionKind, bool) {
	switch strings.TrimRight(line, " ") {
	case "GIT":
		return sectionGit, true
	case "GEM":
		return sectionGem, true
	case "PATH":
		return sectionPath, true
	case "PLUGIN SOURCE":
		return sectionPlugin, true
	case "DEPENDENCIES":
		return sectionDependencies, true
	case "PLATFORMS":
		return sectionPlatforms, true
	case "RUBY VERSION":
		return sectionRubyVersion, true
	case "BUNDLED WITH":
		return sectionBundledWith, true
	case "CHECKSUMS":
		return sectionChecksums, true
	}
	return sectionNone, false
}

func leadingSpaces(line string) int {
	n := 0
	for n < len(line) && line[n] == ' ' {
		n++
	}
	return n
}

func (p *parser) parseSourceLine(line string, lineNum int) error {
	content := strings.TrimSpace(line)

	switch leadingSpaces(line) {
	case 2:
		if content == "specs:" {
			return nil
		}
		key, value, ok := strings.Cut(content, ": ")
		if !ok {
			// "key:" with no value still counts as configuration.
			key = strings.TrimSuffix(content, ":")
		}
		p.applyConfig(key, value)
	case 4:
		if content == "specs:" {
			return nil
		}
		m := specRe.FindStringSubmatch(content)
		if m == nil {
			return &ParseError{Line: lineNum, Message: "invalid gem specification", Snippet: content}
		}
		spec := Spec{Name: m[1], Version: m[2], Platform: m[3]}
		p.appendSpec(spec)
	case 6:
		m := depRe.FindStringSubmatch(content)
		if m == nil {
			return &ParseError{Line: lineNum, Message: "invalid dependency", Snippet: content}
		}
		if p.lastSpec != nil {
			p.lastSpec.Dependencies = append(p.lastSpec.Dependencies, Dependency{
				Name:        m[1],
				Requirement: m[2],
			})
		}
	}
	return nil
}

func (p *parser) applyConfig(key, value string) {
	switch p.section {
	case sectionGit:
		git := &p.lock.Git[len(p.lock.Git)-1]
		switch key {
		case "remote":
			git.Remote = value
		case "revision":
			git.Revision = value
		case "ref":
			git.Ref = value
		case "branch":
			git.Branch = value
		case "tag":
			git.Tag = value
		case "glob":
			git.Glob = value
		case "submodules":
			git.Submodules = value == "true"
		}
	case sectionGem:
		if key == "remote" {
			p.lock.Gem[len(p.lock.Gem)-1].Remote = value
		}
	case sectionPath:
		path := &p.lock.Path[len(p.lock.Path)-1]
		switch key {
		case "remote":
			path.Remote = value
		case "glob":
			path.Glob = value
		}
	case sectionPlugin:
		plugin := &p.lock.Plugin[len(p.lock.Plugin)-1]
		plugin.Options = append(plugin.Options, Option{Key: key, Value: value})
	}
}

func (p *parser) appendSpec(spec Spec) {
	switch p.section {
	case sectionGit:
		section := &p.lock.Git[len(p.lock.Git)-1]
		section.Specs = append(section.Specs, spec)
		p.lastSpec = &section.Specs[len(section.Specs)-1]
	case sectionGem:
		section := &p.lock.Gem[len(p.lock.Gem)-1]
		section.Specs = append(section.Specs, spec)
		p.lastSpec = &section.Specs[len(section.Specs)-1]
	case sectionPath:
		section := &p.lock.Path[len(p.lock.Path)-1]
		section.Specs = append(section.Specs, spec)
		p.lastSpec = &section.Specs[len(section.Specs)-1]
	case sectionPlugin:
		section := &p.lock.Plugin[len(p.lock.Plugin)-1]
		section.Specs = append(section.Specs, spec)
		p.lastSpec = &section.Specs[len(section.Specs)-1]
	}
}

func (p *parser) parseDependencyLine(line string) error {
	content := strings.TrimSpace(line)
	pinned := strings.HasSuffix(content, "!")
	content = strings.TrimSuffix(content, "!")

	m := depRe.FindStringSubmatch(content)
	if m == nil {
		// Tolerate odd top-level lines the way Bundler does; take the
		// first token as the name.
		fields := strings.Fields(content)
		if len(fields) == 0 {
			return nil
		}
		p.lock.Dependencies = append(p.lock.Dependencies, Dependency{Name: fields[0], Pinned: pinned})
		return nil
	}
	p.lock.Dependencies = append(p.lock.Dependencies, Dependency{
		Name:        m[1],
		Requirement: m[2],
		Pinned:      pinned,
	})
	return nil
}

func (p *parser) parseChecksumLine(line string, lineNum int) error {
	content := strings.TrimSpace(line)
	m := checksumRe.FindStringSubmatch(content)
	if m == nil {
		return &ParseError{Line: lineNum, Message: "invalid checksum", Snippet: content}
	}
	p.lock.Checksums = append(p.lock.Checksums, Checksum{
		Name:      m[1],
		Version:   m[2],
		Platform:  m[3],
		Algorithm: m[4],
		Digest:    m[5],
	})
	return nil
}
