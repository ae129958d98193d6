package registry

import (
	"net/http"
	"strings"
	"sync"

	"github.com/spinel-coop/rv/internal/cache"
)

// DefaultRemote is the canonical public gem server.
const DefaultRemote = "https://rubygems.org"

// Manager hands out one Client per gem server so the install pipeline can
// serve lockfiles with several GEM sections without re-creating transports.
type Manager struct {
	httpClient *http.Client
	cache      *cache.Cache
	protocol   func(remote string) Protocol

	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager creates a client manager sharing one HTTP client and cache.
func NewManager(httpClient *http.Client, store *cache.Cache) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		httpClient: httpClient,
		cache:      store,
		clients:    make(map[string]*Client),
	}
}

// SetProtocolFactory overrides how per-remote protocols are built, for
// alternative registry implementations and tests.
func (m *Manager) SetProtocolFactory(factory func(remote string) Protocol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protocol = factory
	m.clients = make(map[string]*Client)
}

// For returns the client for a remote, creating it on first use. An empty
// remote means the default server.
func (m *Manager) For(remote string) *Client {
	if remote == "" {
		remote = DefaultRemote
	}
	remote = strings.TrimSuffix(remote, "/")

	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[remote]; ok {
		return client
	}
	var client *Client
	if m.protocol != nil {
		client = NewClientWithProtocol(m.protocol(remote), m.httpClient, m.cache)
	} else {
		client = NewClient(remote, ProtocolRubygems, m.httpClient, m.cache)
	}
	m.clients[remote] = client
	return client
}
