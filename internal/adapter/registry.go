package adapter

import (
	"context"
	"sync"

	"modelcore/internal/conversation"
	"modelcore/internal/errdefs"
	"modelcore/internal/logging"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// Embedder is a loaded embedding model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// EmbeddingAdapter resolves and loads embedding models.
type EmbeddingAdapter interface {
	Name() string
	NewAdapter() EmbeddingAdapter
	Match(provider, name, path string) bool
	NewParams() params.Deploy
	Load(ctx context.Context, p params.Deploy) (Embedder, error)
	SupportedModels() []types.ModelMetadata
}

// Registry is the ordered adapter list. Registration order encodes
// precedence: later registrations win.
type Registry struct {
	mu         sync.RWMutex
	llms       []LLMAdapter
	embeddings []EmbeddingAdapter
	factory    *conversation.Factory
}

// NewRegistry returns an empty registry using f for templates.
func NewRegistry(f *conversation.Factory) *Registry {
	if f == nil {
		f = conversation.NewFactory()
	}
	return &Registry{factory: f}
}

// Factory returns the template factory bound to resolved adapters.
func (r *Registry) Factory() *conversation.Factory { return r.factory }

// RegisterLLM appends an adapter.
func (r *Registry) RegisterLLM(a LLMAdapter) {
	r.mu.Lock()
	r.llms = append(r.llms, a)
	r.mu.Unlock()
}

// RegisterEmbedding appends an embedding adapter.
func (r *Registry) RegisterEmbedding(a EmbeddingAdapter) {
	r.mu.Lock()
	r.embeddings = append(r.embeddings, a)
	r.mu.Unlock()
}

// Resolve returns a fresh adapter bound to (name, path).
//
// Three passes run over the list, newest first: provider-only, then name,
// then path. A hit in a later pass overrides the earlier ones, so a path
// match beats a name match. With several provider-only candidates the
// newest is taken and a warning is logged.
func (r *Registry) Resolve(provider, name, path string) (LLMAdapter, error) {
	r.mu.RLock()
	list := append([]LLMAdapter(nil), r.llms...)
	r.mu.RUnlock()

	var picked LLMAdapter
	var candidates []LLMAdapter
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Match(provider, "", "") {
			candidates = append(candidates, list[i])
		}
	}
	if len(candidates) > 0 {
		picked = candidates[0]
	}
	ambiguous := len(candidates) > 1
	if name != "" {
		if a := newestMatch(list, provider, name, ""); a != nil {
			picked, ambiguous = a, false
		}
	}
	if path != "" {
		if a := newestMatch(list, provider, "", path); a != nil {
			picked, ambiguous = a, false
		}
	}
	if ambiguous {
		l := logging.For("adapter")
		l.Warn().Str("provider", provider).Str("model", name).Str("picked", picked.Name()).
			Int("candidates", len(candidates)).Msg("ambiguous provider-only adapter match")
	}
	if picked == nil {
		return nil, errdefs.Configf("no model adapter for provider=%q name=%q path=%q", provider, name, path)
	}
	a := picked.NewAdapter()
	a.Bind(name, path, r.factory)
	return a, nil
}

func newestMatch(list []LLMAdapter, provider, name, path string) LLMAdapter {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Match(provider, name, path) {
			return list[i]
		}
	}
	return nil
}

// ResolveEmbedding mirrors Resolve for embedding adapters.
func (r *Registry) ResolveEmbedding(provider, name, path string) (EmbeddingAdapter, error) {
	r.mu.RLock()
	list := append([]EmbeddingAdapter(nil), r.embeddings...)
	r.mu.RUnlock()
	var picked EmbeddingAdapter
	for pass, q := range [][2]string{{"", ""}, {name, ""}, {"", path}} {
		if pass > 0 && q[0] == "" && q[1] == "" {
			continue
		}
		for i := len(list) - 1; i >= 0; i-- {
			if list[i].Match(provider, q[0], q[1]) {
				picked = list[i]
				break
			}
		}
	}
	if picked != nil {
		return picked.NewAdapter(), nil
	}
	return nil, errdefs.Configf("no embedding adapter for provider=%q name=%q", provider, name)
}

// ResolveFor resolves the adapter for a deployment record.
func (r *Registry) ResolveFor(p params.Deploy) (LLMAdapter, error) {
	b := p.Base()
	return r.Resolve(b.Provider, b.RealModelName(), b.Path)
}

// SupportedModels flattens declared models of one worker type, in
// registration order.
func (r *Registry) SupportedModels(workerType string) []types.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.ModelMetadata
	add := func(adapterName string, rows []types.ModelMetadata) {
		for _, m := range rows {
			if m.WorkerType == "" {
				m.WorkerType = params.WorkerLLM
			}
			if workerType != "" && m.WorkerType != workerType {
				continue
			}
			if m.Adapter == "" {
				m.Adapter = adapterName
			}
			out = append(out, m)
		}
	}
	for _, a := range r.llms {
		add(a.Name(), a.SupportedModels())
	}
	for _, a := range r.embeddings {
		add(a.Name(), a.SupportedModels())
	}
	return out
}

// LLMAdapters returns the registered adapters in registration order.
func (r *Registry) LLMAdapters() []LLMAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LLMAdapter(nil), r.llms...)
}
