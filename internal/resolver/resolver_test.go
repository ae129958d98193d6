package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/contriboss/pubgrub-go"

	"github.com/spinel-coop/rv/internal/cache"
	"github.com/spinel-coop/rv/internal/platform"
	"github.com/spinel-coop/rv/internal/registry"
	"github.com/spinel-coop/rv/internal/version"
)

// fakeRegistry serves a tiny in-memory gem universe.
type fakeRegistry struct {
	versions map[string][]registry.VersionInfo
	deps     map[string][]registry.Dependency // keyed by "name-version"
}

func (f *fakeRegistry) GetGemVersions(ctx context.Context, name string) ([]registry.VersionInfo, error) {
	listing, ok := f.versions[name]
	if !ok {
		return nil, &registry.NotFoundError{Gem: name, Server: f.BaseURL()}
	}
	return listing, nil
}

func (f *fakeRegistry) GetGemInfo(ctx context.Context, name, ver string) (*registry.GemInfo, error) {
	return &registry.GemInfo{
		Name:    name,
		Version: ver,
		Dependencies: registry.DependencyCategories{
			Runtime: f.deps[name+"-"+ver],
		},
	}, nil
}

func (f *fakeRegistry) Name() registry.ProtocolName { return registry.ProtocolRubygems }
func (f *fakeRegistry) BaseURL() string             { return "https://fake.example" }

func testResolver(t *testing.T, fake *fakeRegistry) *Resolver {
	t.Helper()
	client := registry.NewClientWithProtocol(fake, nil, cache.New(t.TempDir()))
	return New(client, version.MustParse("3.3.0"), platform.MustParse("x86_64-linux"))
}

func fooBarUniverse() *fakeRegistry {
	return &fakeRegistry{
		versions: map[string][]registry.VersionInfo{
			"foo": {{Version: "1.0.0"}},
			"bar": {{Version: "2.0"}, {Version: "2.1"}, {Version: "3.0"}},
		},
		deps: map[string][]registry.Dependency{
			"foo-1.0.0": {{Name: "bar", Requirements: "~> 2"}},
		},
	}
}

func TestResolveTransitive(t *testing.T) {
	r := testResolver(t, fooBarUniverse())
	res, err := r.Resolve(context.Background(), "foo", version.MustParse("1.0.0"))
	if err != nil {
		t.Fatal(err)
	}

	if got := res.Versions["foo"].String(); got != "1.0.0" {
		t.Errorf("foo = %s", got)
	}
	// bar ~> 2 over {2.0, 2.1, 3.0} selects the highest matching: 2.1.
	if got := res.Versions["bar"].String(); got != "2.1" {
		t.Errorf("bar = %s, want 2.1", got)
	}
}

func TestResolveSyntheticLockfile(t *testing.T) {
	r := testResolver(t, fooBarUniverse())
	res, err := r.Resolve(context.Background(), "foo", version.MustParse("1.0.0"))
	if err != nil {
		t.Fatal(err)
	}

	lock := res.Lockfile
	if len(lock.Gem) != 1 {
		t.Fatalf("gem sections = %d", len(lock.Gem))
	}
	if lock.Gem[0].Remote != "https://fake.example/" {
		t.Errorf("remote = %q", lock.Gem[0].Remote)
	}
	if lock.GemSpecCount() != 2 {
		t.Errorf("spec count = %d", lock.GemSpecCount())
	}
	// Specs are sorted by name; bar records 2.1.
	if lock.Gem[0].Specs[0].Name != "bar" || lock.Gem[0].Specs[0].Version != "2.1" {
		t.Errorf("specs = %+v", lock.Gem[0].Specs)
	}
	// foo's dependency line carries the constraint.
	fooSpec := lock.Gem[0].Specs[1]
	if len(fooSpec.Dependencies) != 1 || fooSpec.Dependencies[0].Requirement != "~> 2" {
		t.Errorf("foo deps = %+v", fooSpec.Dependencies)
	}
	if len(lock.Dependencies) != 1 || lock.Dependencies[0].Name != "foo" {
		t.Errorf("top-level deps = %+v", lock.Dependencies)
	}
}

func TestPickVersionLatest(t *testing.T) {
	fake := &fakeRegistry{
		versions: map[string][]registry.VersionInfo{
			"demo": {
				{Version: "1.0"},
				{Version: "2.0.0.rc1", Prerelease: true},
				{Version: "1.5"},
			},
		},
	}
	r := testResolver(t, fake)
	v, err := r.PickVersion(context.Background(), "demo", nil)
	if err != nil {
		t.Fatal(err)
	}
	// The prerelease must lose to the newest release.
	if v.String() != "1.5" {
		t.Errorf("picked %s, want 1.5", v)
	}
}

func TestPickVersionRequested(t *testing.T) {
	fake := &fakeRegistry{
		versions: map[string][]registry.VersionInfo{
			"demo": {{Version: "1.0"}, {Version: "1.5"}},
		},
	}
	r := testResolver(t, fake)

	want := version.MustParse("1.0")
	v, err := r.PickVersion(context.Background(), "demo", &want)
	if err != nil || v.String() != "1.0" {
		t.Fatalf("PickVersion = %s, %v", v, err)
	}

	missing := version.MustParse("9.9")
	_, err = r.PickVersion(context.Background(), "demo", &missing)
	var notFound *NoVersionFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NoVersionFoundError", err)
	}
}

func TestPickVersionEmpty(t *testing.T) {
	fake := &fakeRegistry{versions: map[string][]registry.VersionInfo{"demo": {}}}
	r := testResolver(t, fake)
	_, err := r.PickVersion(context.Background(), "demo", nil)
	if !errors.Is(err, ErrNoVersionsPublished) {
		t.Fatalf("err = %v, want ErrNoVersionsPublished", err)
	}
}

func TestRubyRequirementFiltering(t *testing.T) {
	fake := &fakeRegistry{
		versions: map[string][]registry.VersionInfo{
			"demo": {
				{Version: "1.0"},
				{Version: "2.0", RubyRequirement: ">= 9000"},
			},
		},
	}
	client := registry.NewClientWithProtocol(fake, nil, cache.New(t.TempDir()))
	source := NewRegistrySource(context.Background(), client, version.MustParse("3.3.0"), platform.MustParse("x86_64-linux"))

	versions, err := source.GetVersions(pubgrub.MakeName("demo"))
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 || versions[0].String() != "1.0" {
		t.Errorf("versions = %v, want just 1.0", versions)
	}
}

func TestPlatformFiltering(t *testing.T) {
	fake := &fakeRegistry{
		versions: map[string][]registry.VersionInfo{
			"native": {
				{Version: "1.0", Platform: "x86_64-linux"},
				{Version: "1.0", Platform: "java"},
				{Version: "0.9"},
			},
		},
	}
	client := registry.NewClientWithProtocol(fake, nil, cache.New(t.TempDir()))
	source := NewRegistrySource(context.Background(), client, version.MustParse("3.3.0"), platform.MustParse("x86_64-linux"))

	versions, err := source.GetVersions(pubgrub.MakeName("native"))
	if err != nil {
		t.Fatal(err)
	}
	// The java build is filtered; 1.0 survives once via its linux build.
	if len(versions) != 2 {
		t.Errorf("versions = %v", versions)
	}
}

func TestConditionSatisfies(t *testing.T) {
	cond, err := NewRequirementCondition("~> 2.2")
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range []struct {
		version string
		want    bool
	}{
		{"2.2", true},
		{"2.9", true},
		{"3.0", false},
		{"2.1", false},
	} {
		v, _ := ParseGemVersion(tt.version)
		if got := cond.Satisfies(v); got != tt.want {
			t.Errorf("(~> 2.2).Satisfies(%s) = %v, want %v", tt.version, got, tt.want)
		}
	}
}
