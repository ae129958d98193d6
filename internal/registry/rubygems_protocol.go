package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	rubygems "github.com/contriboss/rubygems-client-go"
)

// RubygemsProtocol implements Protocol against the rubygems.org API. The
// dependency-info endpoint goes through rubygems-client-go; the version
// listing is fetched directly because the client does not expose the
// per-version ruby requirement the resolver filters on.
type RubygemsProtocol struct {
	client     *rubygems.Client
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewRubygemsProtocol creates the protocol adapter for a server root such
// as "https://rubygems.org".
func NewRubygemsProtocol(baseURL string, httpClient *http.Client, userAgent string) *RubygemsProtocol {
	if baseURL == "" {
		baseURL = "https://rubygems.org"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RubygemsProtocol{
		client:     rubygems.NewClientWithBaseURL(baseURL + "/api/v1"),
		httpClient: httpClient,
		baseURL:    baseURL,
		userAgent:  userAgent,
	}
}

// Name returns the protocol identifier.
func (p *RubygemsProtocol) Name() ProtocolName { return ProtocolRubygems }

// BaseURL returns the server root.
func (p *RubygemsProtocol) BaseURL() string { return p.baseURL }

// GetGemInfo adapts the rubygems-client-go response to registry types.
func (p *RubygemsProtocol) GetGemInfo(ctx context.Context, name, version string) (*GemInfo, error) {
	info, err := p.client.GetGemInfo(name, version)
	if err != nil {
		return nil, fmt.Errorf("fetching info for %s@%s: %w", name, version, err)
	}

	out := &GemInfo{Name: info.Name, Version: info.Version}
	for _, dep := range info.Dependencies.Runtime {
		out.Dependencies.Runtime = append(out.Dependencies.Runtime, Dependency{
			Name:         dep.Name,
			Requirements: dep.Requirements,
		})
	}
	for _, dep := range info.Dependencies.Development {
		out.Dependencies.Development = append(out.Dependencies.Development, Dependency{
			Name:         dep.Name,
			Requirements: dep.Requirements,
		})
	}
	return out, nil
}

// GetGemVersions fetches /api/v1/versions/<name>.json, which carries the
// per-version platform and ruby requirement.
func (p *RubygemsProtocol) GetGemVersions(ctx context.Context, name string) ([]VersionInfo, error) {
	endpoint := fmt.Sprintf("%s/api/v1/versions/%s.json", p.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Gem: name, Server: p.baseURL}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: endpoint, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var versions []VersionInfo
	if err := json.Unmarshal(body, &versions); err != nil {
		return nil, fmt.Errorf("decoding version listing for %s: %w", name, err)
	}
	return versions, nil
}
