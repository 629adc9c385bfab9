// Package proxy serves models hosted by remote API vendors. Every vendor
// is a Client behind one adapter type; the client is built lazily on the
// first call so credentials are read from the environment as late as
// possible.
package proxy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"modelcore/internal/adapter"
	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/logging"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// Request is one remote call.
type Request struct {
	Model    string
	Messages []engine.ChatMessage
	Params   *engine.GenerateParams
	// Reasoning enables <think> splitting for vendors that inline traces.
	Reasoning bool
}

// Client talks to one vendor.
type Client interface {
	// Stream returns cumulative outputs. Validation failures are returned
	// before any HTTP call is made.
	Stream(ctx context.Context, r *Request) (<-chan types.ModelOutput, error)
}

// ModelLister is implemented by vendors with a model catalog endpoint.
type ModelLister interface {
	ListModels(ctx context.Context) ([]types.ModelMetadata, error)
}

// Generate drains Stream and returns the last output.
func Generate(ctx context.Context, c Client, r *Request) (types.ModelOutput, error) {
	ch, err := c.Stream(ctx, r)
	if err != nil {
		return types.ModelOutput{}, err
	}
	return engine.Collect(ch), nil
}

// MessageConverter rewrites messages before they are sent.
type MessageConverter func(msgs []engine.ChatMessage) ([]engine.ChatMessage, error)

// LocalConvertMessage applies conv to msgs; a nil conv is the identity.
func LocalConvertMessage(msgs []engine.ChatMessage, conv MessageConverter) ([]engine.ChatMessage, error) {
	if conv == nil {
		return msgs, nil
	}
	return conv(msgs)
}

// newHTTPClient builds the vendor transport honoring http_proxy.
func newHTTPClient(p *params.ProxyParams) (*http.Client, error) {
	return engine.NewHTTPClient(15*time.Second, p.HTTPProxy)
}

// Vendor describes one remote provider.
type Vendor struct {
	// Provider is the deployment tag, e.g. proxy/openai.
	Provider string
	// Label prefixes error outputs.
	Label string
	// AdapterName is reported by the adapter.
	AdapterName string
	// New builds the client from resolved parameters.
	New       func(p *params.ProxyParams) (Client, error)
	Supported []types.ModelMetadata
}

// Adapter is the LLM adapter of one vendor.
type Adapter struct {
	adapter.Base
	vendor Vendor
}

// NewVendorAdapter builds the adapter for v.
func NewVendorAdapter(v Vendor) *Adapter {
	caps := adapter.Capabilities{SupportSystemMessage: true, SupportAsync: true}
	return &Adapter{Base: adapter.NewBase(v.AdapterName, caps, v.Supported...), vendor: v}
}

// Adapters returns one adapter per known vendor.
func Adapters() []adapter.LLMAdapter {
	vs := Vendors()
	out := make([]adapter.LLMAdapter, 0, len(vs))
	for _, v := range vs {
		out = append(out, NewVendorAdapter(v))
	}
	return out
}

// Vendor returns the vendor description.
func (a *Adapter) Vendor() Vendor { return a.vendor }

func (a *Adapter) NewAdapter() adapter.LLMAdapter { return NewVendorAdapter(a.vendor) }

func (a *Adapter) Match(provider, _, _ string) bool { return provider == a.vendor.Provider }

func (a *Adapter) NewParams() params.Deploy {
	return &params.ProxyParams{BaseParams: params.BaseParams{Provider: a.vendor.Provider}}
}

// StrPrompt flattens messages; remote vendors receive the messages
// themselves and the prompt only feeds echo and token counting.
func (a *Adapter) StrPrompt(_ context.Context, _ params.Deploy, messages []types.ModelMessage, _ engine.Tokenizer, _ bool) (string, bool, error) {
	return types.MessagesToString(messages), true, nil
}

func (a *Adapter) Load(_ context.Context, p params.Deploy) (engine.Model, engine.Tokenizer, error) {
	pp, ok := p.(*params.ProxyParams)
	if !ok {
		return nil, nil, errdefs.Configf("adapter %s needs proxy parameters, got %T", a.Name(), p)
	}
	return &Model{params: pp, label: a.vendor.Label, newClient: a.vendor.New, tok: sharedTiktoken}, nil, nil
}

func (a *Adapter) StreamFunc(m engine.Model, p params.Deploy) (engine.StreamFunc, error) {
	pm, ok := m.(*Model)
	if !ok {
		return nil, errdefs.Configf("adapter %s cannot drive model %T", a.Name(), m)
	}
	isReasoning := a.IsReasoningModel(p, p.Base().RealModelName())
	model := p.Base().RealModelName()
	return func(ctx context.Context, gp *engine.GenerateParams) (<-chan types.ModelOutput, error) {
		return pm.Stream(ctx, &Request{Model: model, Messages: gp.Messages, Params: gp, Reasoning: isReasoning})
	}, nil
}

// Model is a deployment served by a vendor. The client is created on
// first use and cached for the model's lifetime.
type Model struct {
	params *params.ProxyParams
	// label prefixes error outputs; the provider is used when empty.
	label     string
	newClient func(p *params.ProxyParams) (Client, error)
	tok       Tokenizer
	// Converter, when set, rewrites messages before each call.
	Converter MessageConverter

	mu     sync.Mutex
	client Client
}

// NewModel wraps an already built client.
func NewModel(p *params.ProxyParams, c Client) *Model {
	return &Model{params: p, client: c, tok: sharedTiktoken}
}

// Client returns the cached client, building it on the first call. A
// failed construction is not cached.
func (m *Model) Client() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}
	if m.newClient == nil {
		return nil, errdefs.Configf("deployment %s has no client", m.params.Name)
	}
	c, err := m.newClient(m.params)
	if err != nil {
		return nil, err
	}
	l := logging.For("proxy")
	l.Debug().Str("model", m.params.Name).Str("provider", m.params.Provider).Msg("proxy client created")
	m.client = c
	return c, nil
}

// Stream converts messages and forwards r to the client. Credential and
// transport failures end the stream with an error output; config and
// protocol errors are returned.
func (m *Model) Stream(ctx context.Context, r *Request) (<-chan types.ModelOutput, error) {
	label := m.label
	if label == "" {
		label = m.params.Provider
	}
	c, err := m.Client()
	if err != nil {
		return engine.Surface(label, nil, err)
	}
	msgs, err := LocalConvertMessage(r.Messages, m.Converter)
	if err != nil {
		return nil, err
	}
	r.Messages = msgs
	ch, err := c.Stream(ctx, r)
	return engine.Surface(label, ch, err)
}

// ListModels asks the vendor for its catalog when supported.
func (m *Model) ListModels(ctx context.Context) ([]types.ModelMetadata, error) {
	c, err := m.Client()
	if err != nil {
		return nil, err
	}
	l, ok := c.(ModelLister)
	if !ok {
		return nil, errdefs.DependencyUnavailable("provider " + m.params.Provider + " has no model catalog")
	}
	return l.ListModels(ctx)
}

// CountTokens uses the vendor's counting endpoint when it has one and the
// local tokenizer otherwise. -1 means unknown.
func (m *Model) CountTokens(ctx context.Context, prompt string) (int, error) {
	tok := m.tok
	if c, err := m.Client(); err == nil {
		if t, ok := c.(Tokenizer); ok {
			tok = t
		}
	}
	if tok == nil {
		return -1, nil
	}
	return tok.CountTokens(ctx, m.params.RealModelName(), []string{prompt})[0], nil
}

func (m *Model) Close() error { return nil }
