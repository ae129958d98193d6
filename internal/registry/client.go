package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spinel-coop/rv/internal/cache"
	"github.com/spinel-coop/rv/internal/logger"
)

// ToolVersion is stamped into the User-Agent of every registry request.
var ToolVersion = "0.3.0"

// UserAgent identifies the tool to gem servers.
func UserAgent() string { return "rv/" + ToolVersion }

// NotFoundError means the server has no gem by that name.
type NotFoundError struct {
	Gem    string
	Server string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no gem named %q exists on %s", e.Gem, e.Server)
}

// HTTPError is a non-success response from the server.
type HTTPError struct {
	URL    string
	Status string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// Client queries one gem server, memoizing version listings and dependency
// info in the cache's gem bucket and downloading archives through the
// atomic-rename path.
type Client struct {
	protocol   Protocol
	httpClient *http.Client
	cache      *cache.Cache
	remote     string
}

// NewClient builds a client for a server root. A nil cache disables
// memoization.
func NewClient(remote string, protocolName ProtocolName, httpClient *http.Client, store *cache.Cache) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var protocol Protocol
	switch protocolName {
	case ProtocolRubygems:
		fallthrough
	default:
		protocol = NewRubygemsProtocol(remote, httpClient, UserAgent())
	}

	return &Client{
		protocol:   protocol,
		httpClient: httpClient,
		cache:      store,
		remote:     protocol.BaseURL(),
	}
}

// NewClientWithProtocol wires a custom protocol implementation, mainly for
// alternative registries and tests.
func NewClientWithProtocol(protocol Protocol, httpClient *http.Client, store *cache.Cache) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		protocol:   protocol,
		httpClient: httpClient,
		cache:      store,
		remote:     protocol.BaseURL(),
	}
}

// Remote is the server root this client talks to.
func (c *Client) Remote() string { return c.remote }

// Versions returns the version listing, cached by gem name.
func (c *Client) Versions(ctx context.Context, name string) ([]VersionInfo, error) {
	key := cache.StringsKey("versions", c.remote, name)
	digest := cache.Digest(key)

	if c.cache != nil {
		if raw, ok, _ := c.cache.Read(cache.BucketGem, digest); ok {
			var versions []VersionInfo
			if json.Unmarshal(raw, &versions) == nil {
				return versions, nil
			}
		}
	}

	versions, err := c.protocol.GetGemVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	c.memoize(digest, versions)
	return versions, nil
}

// Dependencies returns the runtime dependency list of one (gem, version),
// cached by the pair.
func (c *Client) Dependencies(ctx context.Context, name, version string) ([]Dependency, error) {
	key := cache.StringsKey("deps", c.remote, name, version)
	digest := cache.Digest(key)

	if c.cache != nil {
		if raw, ok, _ := c.cache.Read(cache.BucketGem, digest); ok {
			var deps []Dependency
			if json.Unmarshal(raw, &deps) == nil {
				return deps, nil
			}
		}
	}

	info, err := c.protocol.GetGemInfo(ctx, name, version)
	if err != nil {
		return nil, err
	}
	deps := info.Dependencies.Runtime
	c.memoize(digest, deps)
	return deps, nil
}

func (c *Client) memoize(digest string, value any) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if _, err := c.cache.Write(cache.BucketGem, digest, raw); err != nil {
		logger.Debug("registry memoization failed", "error", err)
	}
}

// GemURL is the download location for a full gem name.
func (c *Client) GemURL(fullName string) string {
	return fmt.Sprintf("%s/gems/%s.gem", c.remote, url.PathEscape(fullName))
}

// DownloadGem fetches <remote>/gems/<fullName>.gem into the cache,
// returning the on-disk path. Concurrent fetches of the same digest dedupe
// through the atomic rename; an interrupted download leaves no partial
// entry.
func (c *Client) DownloadGem(ctx context.Context, fullName string) (string, error) {
	digest := cache.Digest(cache.StringsKey("gem", c.remote, fullName))
	if c.cache == nil {
		return "", fmt.Errorf("gem downloads require a cache directory")
	}

	dest := c.cache.EntryPath(cache.BucketGem, digest)
	if c.cache.Contains(cache.BucketGem, digest) {
		return dest, nil
	}

	endpoint := fmt.Sprintf("%s/gems/%s.gem", c.remote, url.PathEscape(fullName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		name, _, _ := strings.Cut(fullName, "-")
		return "", &NotFoundError{Gem: name, Server: c.remote}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{URL: endpoint, Status: resp.Status}
	}

	pending, err := c.cache.StartWrite(cache.BucketGem, digest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(pending, resp.Body); err != nil {
		pending.Abort()
		return "", fmt.Errorf("downloading %s: %w", fullName, err)
	}
	if err := pending.Commit(); err != nil {
		return "", err
	}
	logger.Debug("fetched gem", "gem", fullName, "remote", c.remote)
	return dest, nil
}

// Releases fetches a release manifest with conditional-GET revalidation;
// on network failure a stale manifest is served with a warning.
func (c *Client) Releases(ctx context.Context, manifestURL string) ([]byte, bool, error) {
	if c.cache == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("User-Agent", UserAgent())
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, false, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, false, &HTTPError{URL: manifestURL, Status: resp.Status}
		}
		body, err := io.ReadAll(resp.Body)
		return body, false, err
	}
	key := cache.StringsKey("releases", manifestURL)
	return c.cache.GetHTTP(ctx, c.httpClient, cache.BucketReleases, key, manifestURL)
}
