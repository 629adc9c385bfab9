package manager

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"modelcore/internal/adapter"
	"modelcore/internal/errdefs"
	"modelcore/internal/events"
	"modelcore/internal/params"
)

// Manager owns deployments and their loaded instances.
type Manager struct {
	mu           sync.RWMutex
	closed       bool
	lastErr      string
	registry     *adapter.Registry
	deployments  map[string]params.Deploy
	order        []string
	defaultModel string
	budgetMB     int
	marginMB     int
	usedEstMB    int
	instances    map[string]*Instance
	embedders    map[string]*embedInstance

	loads      singleflight.Group
	loadsTotal uint64

	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration
	publisher     events.Publisher
	startTime     time.Time
}

// New validates cfg and builds a Manager. Nothing is loaded until first use.
func New(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.Registry == nil {
		return nil, errdefs.Configf("manager needs an adapter registry")
	}
	m := &Manager{
		registry:      cfg.Registry,
		deployments:   make(map[string]params.Deploy, len(cfg.Deployments)),
		defaultModel:  cfg.DefaultModel,
		budgetMB:      cfg.BudgetMB,
		marginMB:      cfg.MarginMB,
		instances:     make(map[string]*Instance),
		embedders:     make(map[string]*embedInstance),
		maxQueueDepth: cfg.MaxQueueDepth,
		maxWait:       cfg.MaxWait,
		drainTimeout:  cfg.DrainTimeout,
		publisher:     cfg.Publisher,
		startTime:     time.Now(),
	}
	for _, d := range cfg.Deployments {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		name := d.Base().Name
		if _, dup := m.deployments[name]; dup {
			return nil, errdefs.Configf("duplicate deployment name %q", name)
		}
		m.deployments[name] = d
		m.order = append(m.order, name)
	}
	if m.defaultModel != "" {
		if _, ok := m.deployments[m.defaultModel]; !ok {
			return nil, errdefs.Configf("default_model %q is not a configured deployment", m.defaultModel)
		}
	}
	return m, nil
}

// Ready reports whether the worker can serve: not closed, and either a ready
// instance or deployments that can be loaded on demand.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	for _, inst := range m.instances {
		if inst.State == StateReady {
			return true
		}
	}
	return len(m.deployments) > 0
}

// Registry returns the adapter registry.
func (m *Manager) Registry() *adapter.Registry { return m.registry }

// deployment looks name up, falling back to the default model.
func (m *Manager) deployment(name string) (string, params.Deploy, error) {
	if name == "" {
		name = m.defaultModel
		if name == "" {
			return "", nil, errdefs.ModelNotFound("(unspecified)")
		}
	}
	m.mu.RLock()
	d, ok := m.deployments[name]
	m.mu.RUnlock()
	if !ok {
		return name, nil, errdefs.ModelNotFound(name)
	}
	return name, d, nil
}
