package gemspec

import (
	"errors"
	"testing"

	"github.com/spinel-coop/rv/internal/platform"
	"github.com/spinel-coop/rv/internal/version"
)

func TestNewDefaults(t *testing.T) {
	spec, err := New("rake", version.MustParse("13.3.0"))
	if err != nil {
		t.Fatal(err)
	}
	if spec.Bindir != "bin" {
		t.Errorf("Bindir = %q", spec.Bindir)
	}
	if len(spec.RequirePaths) != 1 || spec.RequirePaths[0] != "lib" {
		t.Errorf("RequirePaths = %v", spec.RequirePaths)
	}
	if !spec.RequiredRubyVersion.IsLatestVersion() {
		t.Errorf("RequiredRubyVersion = %v", spec.RequiredRubyVersion)
	}
	if spec.SpecificationVersion != CurrentSpecificationVersion {
		t.Errorf("SpecificationVersion = %d", spec.SpecificationVersion)
	}
	if !spec.IsLatestVersion() {
		t.Error("fresh spec should carry the latest-version marker")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", version.MustParse("1.0")); !errors.Is(err, ErrMissingName) {
		t.Errorf("err = %v, want ErrMissingName", err)
	}
	if _, err := New("rake", version.Version{}); !errors.Is(err, ErrMissingVersion) {
		t.Errorf("err = %v, want ErrMissingVersion", err)
	}
}

func TestFullName(t *testing.T) {
	spec, err := New("nokogiri", version.MustParse("1.16.0"))
	if err != nil {
		t.Fatal(err)
	}
	if got := spec.FullName(); got != "nokogiri-1.16.0" {
		t.Errorf("FullName = %q", got)
	}
	spec.Platform = platform.MustParse("x86_64-linux")
	if got := spec.FullName(); got != "nokogiri-1.16.0-x86_64-linux" {
		t.Errorf("FullName = %q", got)
	}
}

func TestRuntimeDependencies(t *testing.T) {
	spec, err := New("demo", version.MustParse("1.0"))
	if err != nil {
		t.Fatal(err)
	}
	spec.Dependencies = []Dependency{
		{Name: "rack", Kind: Runtime},
		{Name: "minitest", Kind: Development},
		{Name: "json", Kind: Runtime},
	}
	runtime := spec.RuntimeDependencies()
	if len(runtime) != 2 || runtime[0].Name != "rack" || runtime[1].Name != "json" {
		t.Errorf("RuntimeDependencies = %v", runtime)
	}
}

func TestMetadataValue(t *testing.T) {
	spec, err := New("demo", version.MustParse("1.0"))
	if err != nil {
		t.Fatal(err)
	}
	spec.Metadata = []MetadataEntry{
		{Name: "homepage_uri", Value: "https://example.com"},
	}
	if v, ok := spec.MetadataValue("homepage_uri"); !ok || v != "https://example.com" {
		t.Errorf("MetadataValue = %q, %v", v, ok)
	}
	if _, ok := spec.MetadataValue("missing"); ok {
		t.Error("missing key should report absence")
	}
}
