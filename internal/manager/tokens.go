package manager

import (
	"context"
	"fmt"

	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/events"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// CountTokens counts prompt tokens with the deployment's own tokenizer:
// the engine server for local models, the vendor API or tiktoken for remote
// ones. -1 means the count is unknown.
func (m *Manager) CountTokens(ctx context.Context, name, prompt string) (int, error) {
	inst, err := m.EnsureInstance(ctx, name)
	if err != nil {
		return -1, err
	}
	tc, ok := inst.Model.(engine.TokenCounter)
	if !ok {
		return -1, nil
	}
	return tc.CountTokens(ctx, prompt)
}

// ListRemoteModels asks a remote deployment's vendor for its model list.
func (m *Manager) ListRemoteModels(ctx context.Context, name string) ([]types.ModelMetadata, error) {
	inst, err := m.EnsureInstance(ctx, name)
	if err != nil {
		return nil, err
	}
	lister, ok := inst.Model.(interface {
		ListModels(ctx context.Context) ([]types.ModelMetadata, error)
	})
	if !ok {
		return nil, errdefs.DependencyUnavailable(fmt.Sprintf("deployment %q cannot list remote models", inst.Name))
	}
	return lister.ListModels(ctx)
}

// Embed returns one vector per text from an embedding deployment.
func (m *Manager) Embed(ctx context.Context, name string, texts []string) ([][]float32, error) {
	e, err := m.ensureEmbedder(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.embedder.Embed(ctx, texts)
}

func (m *Manager) ensureEmbedder(ctx context.Context, name string) (*embedInstance, error) {
	name, d, err := m.deployment(name)
	if err != nil {
		return nil, err
	}
	if w := d.Base().Worker(); w != params.WorkerText2Vec {
		return nil, errdefs.Configf("deployment %q is a %s model", name, w)
	}
	m.mu.RLock()
	e := m.embedders[name]
	m.mu.RUnlock()
	if e != nil {
		return e, nil
	}
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ch := m.loads.DoChan("text2vec:"+name, func() (any, error) {
		m.mu.RLock()
		e := m.embedders[name]
		m.mu.RUnlock()
		if e != nil {
			return e, nil
		}
		b := d.Base()
		a, err := m.registry.ResolveEmbedding(b.Provider, b.RealModelName(), b.Path)
		if err != nil {
			return nil, m.loadFailed(name, b.Provider, err)
		}
		emb, err := a.Load(events.NewContext(context.WithoutCancel(ctx), m.publisher), d)
		if err != nil {
			return nil, m.loadFailed(name, b.Provider, err)
		}
		e = &embedInstance{name: name, deploy: d, adapter: a, embedder: emb}
		m.mu.Lock()
		m.embedders[name] = e
		m.loadsTotal++
		m.mu.Unlock()
		m.publisher.Publish(events.Event{Name: "ensure_ready", Model: name, Fields: map[string]any{"adapter": a.Name()}})
		return e, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*embedInstance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
