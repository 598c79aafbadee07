package oxcache

import (
	"context"
	"sync"

	"github.com/Kirky-X/oxcache/l2"
	"github.com/Kirky-X/oxcache/oxconfig"
	"github.com/Kirky-X/oxcache/oxerrors"
	"github.com/Kirky-X/oxcache/oxlog"
)

// Manager is the process-wide registry of named Clients (§4.12):
// initialized exactly once, read under a shared read lock thereafter.
type Manager struct {
	mu       sync.RWMutex
	cfg      oxconfig.Config
	clients  map[string]*Client
	backends map[string]l2.Backend
	log      oxlog.Logger
	inited   bool
}

// NewManager builds an uninitialized Manager. Call Init before Get.
func NewManager(log oxlog.Logger) *Manager {
	if log == nil {
		log = oxlog.NewNop()
	}
	return &Manager{
		clients:  make(map[string]*Client),
		backends: make(map[string]l2.Backend),
		log:      log,
	}
}

// Init resolves every configured service and builds its Client.
// Calling Init twice is a ConfigError: the registry is write-once by
// design (§9 — "a single process-wide table initialized exactly once").
func (m *Manager) Init(cfg oxconfig.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inited {
		return oxerrors.NewConfigError("", "manager already initialized")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	for name := range cfg.Services {
		resolved, err := cfg.Resolve(name)
		if err != nil {
			return oxerrors.NewConfigError(name, err.Error())
		}

		backend := m.backendFor(resolved)
		client, err := NewClient(name, resolved, cfg.Global.Serialization, backend, m.log)
		if err != nil {
			return err
		}
		m.clients[name] = client
	}

	m.cfg = cfg
	m.inited = true
	return nil
}

// backendFor returns the shared L2 backend for a resolved service's
// connection settings, building one the first time it's needed and
// reusing it for every other service pointed at the same endpoint —
// the L2 Backend is shared across clients per §3's ownership rule.
func (m *Manager) backendFor(svc oxconfig.Service) l2.Backend {
	if svc.CacheType == oxconfig.CacheTypeL1 {
		return nil
	}
	key := svc.L2.ConnectionString
	if len(svc.L2.Nodes) > 0 {
		key = svc.L2.Nodes[0]
	}
	if b, ok := m.backends[key]; ok {
		return b
	}
	b := l2.NewRedisBackend(svc.L2)
	m.backends[key] = b
	return b
}

// Get returns the Client for a configured service name. An unknown
// name is a ConfigError (§4.12).
func (m *Manager) Get(service string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[service]
	if !ok {
		return nil, oxerrors.NewConfigError(service, "unknown service")
	}
	return c, nil
}

// ShutdownAll shuts down every managed Client, then closes every
// shared L2 backend, aggregating causes into one ShutdownError.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	causes := map[string]error{}
	for name, c := range m.clients {
		if err := c.Shutdown(ctx); err != nil {
			causes[name] = err
		}
	}
	for key, b := range m.backends {
		if err := b.Close(); err != nil {
			causes["l2:"+key] = err
		}
	}

	if len(causes) > 0 {
		return &oxerrors.ShutdownError{Service: "manager", Causes: causes}
	}
	return nil
}
