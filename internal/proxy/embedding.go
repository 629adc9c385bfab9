package proxy

import (
	"context"
	"net/http"
	"sort"
	"time"

	"modelcore/internal/adapter"
	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// DefaultEmbeddingBatch is the number of texts sent per request.
const DefaultEmbeddingBatch = 32

// EmbeddingAdapter serves embedding models behind an OpenAI-compatible
// /embeddings endpoint.
type EmbeddingAdapter struct{}

func NewEmbeddingAdapter() *EmbeddingAdapter { return &EmbeddingAdapter{} }

func (a *EmbeddingAdapter) Name() string { return "OpenAICompatibleEmbeddingAdapter" }

func (a *EmbeddingAdapter) NewAdapter() adapter.EmbeddingAdapter { return NewEmbeddingAdapter() }

func (a *EmbeddingAdapter) Match(provider, _, _ string) bool {
	_, ok := compatVendorFor(provider)
	return ok
}

func (a *EmbeddingAdapter) NewParams() params.Deploy {
	return &params.EmbeddingParams{ProxyParams: params.ProxyParams{BaseParams: params.BaseParams{
		Provider:   params.ProviderProxyOpenAI,
		WorkerType: params.WorkerText2Vec,
	}}}
}

func (a *EmbeddingAdapter) SupportedModels() []types.ModelMetadata {
	rows := []types.ModelMetadata{
		{Model: "text-embedding-3-small", Provider: params.ProviderProxyOpenAI},
		{Model: "text-embedding-3-large", Provider: params.ProviderProxyOpenAI},
		{Model: "BAAI/bge-m3", Provider: params.ProviderProxySiliconFlow},
		{Model: "text-embedding-v3", Provider: params.ProviderProxyTongyi},
	}
	for i := range rows {
		rows[i].WorkerType = params.WorkerText2Vec
		rows[i].Adapter = a.Name()
	}
	return rows
}

func (a *EmbeddingAdapter) Load(_ context.Context, p params.Deploy) (adapter.Embedder, error) {
	ep, ok := p.(*params.EmbeddingParams)
	if !ok {
		return nil, errdefs.Configf("adapter %s needs embedding parameters, got %T", a.Name(), p)
	}
	v, ok := compatVendorFor(ep.Provider)
	if !ok {
		return nil, errdefs.Configf("provider %q has no embedding endpoint", ep.Provider)
	}
	key, err := ep.ResolveAPIKey(v.keyEnv...)
	if err != nil {
		return nil, err
	}
	base, err := ep.ResolveAPIBase(v.base, v.baseEnv...)
	if err != nil {
		return nil, err
	}
	cli, err := newHTTPClient(&ep.ProxyParams)
	if err != nil {
		return nil, err
	}
	batch := ep.BatchSize
	if batch <= 0 {
		batch = DefaultEmbeddingBatch
	}
	return &Embedder{
		URL:        base + "/embeddings",
		Model:      ep.RealModelName(),
		APIKey:     key,
		Headers:    ep.ExtraHeaders,
		Dimensions: ep.Dimensions,
		BatchSize:  batch,
		Timeout:    ep.TimeoutOr(DefaultTimeout),
		HTTP:       cli,
	}, nil
}

func compatVendorFor(provider string) (compatVendor, bool) {
	for _, v := range compatVendors {
		if v.provider == provider {
			return v, true
		}
	}
	return compatVendor{}, false
}

// Embedder calls POST /embeddings in batches.
type Embedder struct {
	URL        string
	Model      string
	APIKey     string
	Headers    map[string]string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	HTTP       *http.Client
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	h := map[string]string{}
	for k, v := range e.Headers {
		h[k] = v
	}
	if e.APIKey != "" {
		h["Authorization"] = "Bearer " + e.APIKey
	}
	batch := e.BatchSize
	if batch <= 0 {
		batch = DefaultEmbeddingBatch
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		body := map[string]any{"model": e.Model, "input": texts[start:end]}
		if e.Dimensions > 0 {
			body["dimensions"] = e.Dimensions
		}
		var resp embeddingResponse
		if err := engine.PostJSONDecode(ctx, e.HTTP, e.URL, h, body, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) != end-start {
			return nil, errdefs.Protocolf("embedding response has %d vectors for %d inputs", len(resp.Data), end-start)
		}
		sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
		for _, d := range resp.Data {
			out = append(out, d.Embedding)
		}
	}
	return out, nil
}

func (e *Embedder) Close() error { return nil }
