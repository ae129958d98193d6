package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/spinel-coop/rv/internal/cache"
)

type stubProtocol struct {
	infoCalls     int
	versionsCalls int
}

func (s *stubProtocol) GetGemInfo(ctx context.Context, name, version string) (*GemInfo, error) {
	s.infoCalls++
	return &GemInfo{
		Name:    name,
		Version: version,
		Dependencies: DependencyCategories{
			Runtime: []Dependency{{Name: "rack", Requirements: ">= 2.0"}},
		},
	}, nil
}

func (s *stubProtocol) GetGemVersions(ctx context.Context, name string) ([]VersionInfo, error) {
	s.versionsCalls++
	return []VersionInfo{
		{Version: "2.1", RubyRequirement: ">= 2.7"},
		{Version: "2.0"},
		{Version: "3.0"},
	}, nil
}

func (s *stubProtocol) Name() ProtocolName { return ProtocolRubygems }
func (s *stubProtocol) BaseURL() string    { return "https://stub.example" }

func stubClient(t *testing.T) (*Client, *stubProtocol) {
	t.Helper()
	stub := &stubProtocol{}
	return &Client{
		protocol:   stub,
		httpClient: http.DefaultClient,
		cache:      cache.New(t.TempDir()),
		remote:     stub.BaseURL(),
	}, stub
}

func TestVersionsMemoized(t *testing.T) {
	client, stub := stubClient(t)
	ctx := context.Background()

	versions, err := client.Versions(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 3 || versions[0].RubyRequirement != ">= 2.7" {
		t.Fatalf("versions = %+v", versions)
	}

	if _, err := client.Versions(ctx, "demo"); err != nil {
		t.Fatal(err)
	}
	if stub.versionsCalls != 1 {
		t.Errorf("versionsCalls = %d, want 1 (second hit served from cache)", stub.versionsCalls)
	}
}

func TestDependenciesMemoized(t *testing.T) {
	client, stub := stubClient(t)
	ctx := context.Background()

	deps, err := client.Dependencies(ctx, "demo", "2.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0].Name != "rack" {
		t.Fatalf("deps = %+v", deps)
	}

	if _, err := client.Dependencies(ctx, "demo", "2.1"); err != nil {
		t.Fatal(err)
	}
	if stub.infoCalls != 1 {
		t.Errorf("infoCalls = %d, want 1", stub.infoCalls)
	}

	// A different version is a different cache key.
	if _, err := client.Dependencies(ctx, "demo", "2.0"); err != nil {
		t.Fatal(err)
	}
	if stub.infoCalls != 2 {
		t.Errorf("infoCalls = %d, want 2", stub.infoCalls)
	}
}

func TestDownloadGem(t *testing.T) {
	var downloads int
	var sawUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads++
		sawUA = r.Header.Get("User-Agent")
		if r.URL.Path != "/gems/demo-1.0.0.gem" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("fake gem bytes"))
	}))
	defer server.Close()

	client := NewClient(server.URL, ProtocolRubygems, server.Client(), cache.New(t.TempDir()))
	ctx := context.Background()

	path, err := client.DownloadGem(ctx, "demo-1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	body, err := os.ReadFile(path)
	if err != nil || string(body) != "fake gem bytes" {
		t.Fatalf("cached file = %q, %v", body, err)
	}
	if sawUA != UserAgent() {
		t.Errorf("User-Agent = %q, want %q", sawUA, UserAgent())
	}

	// Second download is served from cache.
	if _, err := client.DownloadGem(ctx, "demo-1.0.0"); err != nil {
		t.Fatal(err)
	}
	if downloads != 1 {
		t.Errorf("downloads = %d, want 1", downloads)
	}
}

func TestDownloadGemNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewClient(server.URL, ProtocolRubygems, server.Client(), cache.New(t.TempDir()))
	_, err := client.DownloadGem(context.Background(), "missing-9.9.9")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestManagerReusesClients(t *testing.T) {
	m := NewManager(nil, cache.New(t.TempDir()))
	a := m.For("https://rubygems.org/")
	b := m.For("https://rubygems.org")
	c := m.For("")
	if a != b || b != c {
		t.Error("equivalent remotes should share a client")
	}
	other := m.For("https://gems.internal.example")
	if other == a {
		t.Error("different remotes must not share a client")
	}
}
