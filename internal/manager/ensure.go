package manager

import (
	"context"
	"time"

	"modelcore/internal/adapter"
	"modelcore/internal/common/fsutil"
	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/events"
	"modelcore/internal/logging"
	"modelcore/internal/metrics"
	"modelcore/internal/params"
)

// EnsureInstance returns the ready instance for name, loading it first if
// needed. An empty name selects the default model. Concurrent callers share
// one load; a caller whose ctx ends stops waiting but the load carries on.
func (m *Manager) EnsureInstance(ctx context.Context, name string) (*Instance, error) {
	name, d, err := m.deployment(name)
	if err != nil {
		m.publisher.Publish(events.Event{Name: "ensure_model_not_found", Model: name})
		return nil, err
	}
	if w := d.Base().Worker(); w != params.WorkerLLM {
		return nil, errdefs.Configf("deployment %q is a %s model", name, w)
	}
	if inst := m.readyInstance(name); inst != nil {
		return inst, nil
	}
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ch := m.loads.DoChan(name, func() (any, error) {
		if inst := m.readyInstance(name); inst != nil {
			return inst, nil
		}
		return m.load(context.WithoutCancel(ctx), name, d)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Instance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readyInstance returns the instance when ready and touches LastUsed.
func (m *Manager) readyInstance(name string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.instances[name]
	if inst == nil || inst.State != StateReady {
		return nil
	}
	inst.LastUsed = time.Now()
	return inst
}

func (m *Manager) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errdefs.DependencyUnavailable("worker is shutting down")
	}
	return nil
}

func (m *Manager) load(ctx context.Context, name string, d params.Deploy) (*Instance, error) {
	start := time.Now()
	provider := d.Base().Provider
	l := logging.For("manager")
	l.Info().Str("event", "ensure_start").Str("model", name).Str("provider", provider).Msg("loading deployment")
	m.publisher.Publish(events.Event{Name: "ensure_start", Model: name, Fields: map[string]any{"provider": provider}})

	a, err := m.registry.ResolveFor(d)
	if err != nil {
		return nil, m.loadFailed(name, provider, err)
	}
	reqMB := estimateVRAMMB(d)
	if m.budgetMB > 0 {
		m.evictUntilFits(name, reqMB)
	}

	m.mu.Lock()
	inst := m.instances[name]
	if inst != nil && inst.State == StateDraining {
		m.mu.Unlock()
		return nil, errdefs.TooBusy(name)
	}
	if inst == nil {
		inst = &Instance{
			Name:    name,
			genCh:   make(chan struct{}, concurrencyFor(d)),
			queueCh: make(chan struct{}, m.maxQueueDepth),
		}
		m.instances[name] = inst
	}
	inst.Deploy, inst.Adapter = d, a
	inst.State, inst.Err = StateLoading, ""
	inst.LastUsed = time.Now()
	m.mu.Unlock()

	model, tok, err := a.Load(events.NewContext(ctx, m.publisher), d)
	if err != nil {
		return nil, m.loadFailed(name, provider, err)
	}
	stream, err := a.StreamFunc(model, d)
	if err != nil {
		_ = model.Close()
		return nil, m.loadFailed(name, provider, err)
	}
	var gen engine.GenerateFunc
	if sg, ok := a.(adapter.SyncGenerator); ok && a.Capabilities().SupportGenerateFunction {
		if gen, err = sg.GenerateFunc(model, d); err != nil {
			l.Warn().Err(err).Str("model", name).Msg("native generate unavailable, using stream")
			gen = nil
		}
	}

	m.mu.Lock()
	inst.Model, inst.Tokenizer = model, tok
	inst.stream, inst.generate = stream, gen
	inst.State = StateReady
	inst.EstVRAMMB = reqMB
	inst.LastUsed = time.Now()
	m.usedEstMB += reqMB
	m.loadsTotal++
	m.lastErr = ""
	loaded := m.readyCountLocked()
	m.mu.Unlock()

	metrics.ModelLoaded(provider, true)
	metrics.SetLoadedModels(loaded)
	dur := time.Since(start)
	l.Info().Str("event", "ensure_ready").Str("model", name).Str("adapter", a.Name()).
		Dur("dur", dur).Msg("deployment ready")
	m.publisher.Publish(events.Event{Name: "ensure_ready", Model: name, Fields: map[string]any{
		"adapter": a.Name(),
		"dur_ms":  int(dur / time.Millisecond),
	}})
	return inst, nil
}

// loadFailed records err on the instance and worker, then classifies it.
func (m *Manager) loadFailed(name, provider string, err error) error {
	if !errdefs.IsLoad(err) && !errdefs.IsConfig(err) && !errdefs.IsDependencyUnavailable(err) {
		err = errdefs.Load(name, err)
	}
	m.mu.Lock()
	if inst := m.instances[name]; inst != nil {
		inst.State, inst.Err = StateError, err.Error()
	}
	m.lastErr = err.Error()
	m.mu.Unlock()

	metrics.ModelLoaded(provider, false)
	l := logging.For("manager")
	l.Error().Err(err).Str("event", "ensure_error").Str("model", name).Msg("deployment failed to load")
	m.publisher.Publish(events.Event{Name: "ensure_error", Model: name, Fields: map[string]any{"error": err.Error()}})
	return err
}

func (m *Manager) readyCountLocked() int {
	n := 0
	for _, inst := range m.instances {
		if inst.State == StateReady {
			n++
		}
	}
	return n
}

// estimateVRAMMB sizes a local deployment by its weights on disk. Remote and
// attached engines cost nothing here; an unreadable local path counts 1MB so
// it is never free.
func estimateVRAMMB(d params.Deploy) int {
	b := d.Base()
	if params.IsProxy(b.Provider) {
		return 0
	}
	if s, ok := d.(interface{ Server() *params.ServerParams }); ok && s.Server().Attached() {
		return 0
	}
	if b.Path == "" {
		return 1
	}
	mb, err := fsutil.SizeMB(b.ResolvedPath())
	if err != nil || mb <= 0 {
		return 1
	}
	return mb
}
