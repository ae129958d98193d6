package ruby

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/spinel-coop/rv/internal/lockfile"
)

// PinFile is the per-directory interpreter pin.
const PinFile = ".ruby-version"

// ReadPin reads a .ruby-version file: a single trimmed line.
func ReadPin(dir string) (string, bool) {
	raw, err := os.ReadFile(filepath.Join(dir, PinFile))
	if err != nil {
		return "", false
	}
	pinned := strings.TrimSpace(string(raw))
	return pinned, pinned != ""
}

// WritePin pins a directory to an interpreter.
func WritePin(dir string, ruby Ruby) error {
	return os.WriteFile(filepath.Join(dir, PinFile), []byte(ruby.String()+"\n"), 0o644)
}

// DetectVersion resolves the interpreter version a project wants, in
// priority order: explicit env override, the lockfile's RUBY VERSION,
// mise.toml, .tool-versions, then .ruby-version. Empty when nothing
// declares one.
func DetectVersion(projectDir, lockfilePath string) string {
	if v := detectFromEnv(); v != "" {
		return v
	}
	if v := detectFromLockfile(lockfilePath); v != "" {
		return v
	}
	if v := detectFromMiseToml(projectDir); v != "" {
		return v
	}
	if v := detectFromToolVersions(projectDir); v != "" {
		return v
	}
	if v, ok := ReadPin(projectDir); ok {
		return v
	}
	return ""
}

func detectFromEnv() string {
	for _, key := range []string{"RBENV_VERSION", "ASDF_RUBY_VERSION"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func detectFromLockfile(path string) string {
	if path == "" {
		return ""
	}
	lock, err := lockfile.ParseFile(path)
	if err != nil {
		return ""
	}
	// The lockfile records "3.3.0p0"; the patch suffix is not part of the
	// interpreter request.
	v := lock.RubyVersion
	if i := strings.IndexByte(v, 'p'); i > 0 {
		v = v[:i]
	}
	return v
}

func detectFromMiseToml(dir string) string {
	for _, name := range []string{"mise.toml", ".mise.toml"} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var parsed struct {
			Tools map[string]any `toml:"tools"`
		}
		if err := toml.Unmarshal(raw, &parsed); err != nil {
			continue
		}
		switch v := parsed.Tools["ruby"].(type) {
		case string:
			return v
		case []any:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok {
					return s
				}
			}
		}
	}
	return ""
}

func detectFromToolVersions(dir string) string {
	raw, err := os.ReadFile(filepath.Join(dir, ".tool-versions"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "ruby" {
			return fields[1]
		}
	}
	return ""
}
