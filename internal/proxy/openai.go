package proxy

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"modelcore/internal/engine"
	"modelcore/internal/engine/oaiserver"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// DefaultTimeout bounds one vendor call when the deployment sets none.
const DefaultTimeout = 600 * time.Second

// DefaultAzureAPIVersion is sent when api_type is azure and api_version is
// empty.
const DefaultAzureAPIVersion = "2024-02-01"

// OpenAIClient speaks the chat completions protocol to any compatible
// vendor.
type OpenAIClient struct {
	Label    string
	Provider string
	// ChatURL is the full chat completions endpoint.
	ChatURL string
	// ModelsURL lists the catalog; empty disables ListModels.
	ModelsURL string
	// Auth returns the per-call auth headers.
	Auth    func() (map[string]string, error)
	Headers map[string]string
	// IncludeUsage asks the vendor for a trailing usage chunk.
	IncludeUsage bool
	Timeout      time.Duration
	HTTP         *http.Client
}

// compatVendor is a vendor fully served by OpenAIClient.
type compatVendor struct {
	provider    string
	label       string
	adapterName string
	base        string
	keyEnv      []string
	baseEnv     []string
	usage       bool
	supported   []string
}

var compatVendors = []compatVendor{
	{
		provider: params.ProviderProxyOpenAI, label: "OpenAI", adapterName: "OpenAIProxyLLMModelAdapter",
		base: "https://api.openai.com/v1", keyEnv: []string{"OPENAI_API_KEY"}, baseEnv: []string{"OPENAI_API_BASE"},
		usage: true, supported: []string{"gpt-4o", "gpt-4o-mini", "o1-mini", "gpt-3.5-turbo"},
	},
	{
		provider: params.ProviderProxyDeepSeek, label: "DeepSeek", adapterName: "DeepseekProxyLLMModelAdapter",
		base: "https://api.deepseek.com/v1", keyEnv: []string{"DEEPSEEK_API_KEY"}, baseEnv: []string{"DEEPSEEK_API_BASE"},
		usage: true, supported: []string{"deepseek-chat", "deepseek-reasoner"},
	},
	{
		provider: params.ProviderProxyTongyi, label: "Tongyi", adapterName: "TongyiProxyLLMModelAdapter",
		base: "https://dashscope.aliyuncs.com/compatible-mode/v1", keyEnv: []string{"DASHSCOPE_API_KEY"},
		usage: true, supported: []string{"qwen-turbo", "qwen-plus", "qwen-max", "qwq-plus"},
	},
	{
		provider: params.ProviderProxySiliconFlow, label: "SiliconFlow", adapterName: "SiliconFlowProxyLLMModelAdapter",
		base: "https://api.siliconflow.cn/v1", keyEnv: []string{"SILICONFLOW_API_KEY"}, baseEnv: []string{"SILICONFLOW_API_BASE"},
		usage: true, supported: []string{"Qwen/Qwen2.5-Coder-32B-Instruct", "deepseek-ai/DeepSeek-V3", "deepseek-ai/DeepSeek-R1"},
	},
	{
		provider: params.ProviderProxyAIMLAPI, label: "AI/ML API", adapterName: "AimlapiProxyLLMModelAdapter",
		base: "https://api.aimlapi.com/v1", keyEnv: []string{"AIMLAPI_API_KEY"}, baseEnv: []string{"AIMLAPI_API_BASE"},
		supported: []string{"gpt-4o", "deepseek/deepseek-chat", "Qwen/Qwen2.5-72B-Instruct-Turbo"},
	},
	{
		provider: params.ProviderProxyMoonshot, label: "Moonshot", adapterName: "MoonshotProxyLLMModelAdapter",
		base: "https://api.moonshot.cn/v1", keyEnv: []string{"MOONSHOT_API_KEY"}, baseEnv: []string{"MOONSHOT_API_BASE"},
		supported: []string{"moonshot-v1-8k", "moonshot-v1-32k", "moonshot-v1-128k"},
	},
}

func (v compatVendor) vendor() Vendor {
	return Vendor{
		Provider:    v.provider,
		Label:       v.label,
		AdapterName: v.adapterName,
		Supported:   catalog(v.provider, v.adapterName, v.supported...),
		New: func(p *params.ProxyParams) (Client, error) {
			return newCompatClient(v, p)
		},
	}
}

func newCompatClient(v compatVendor, p *params.ProxyParams) (*OpenAIClient, error) {
	key, err := p.ResolveAPIKey(v.keyEnv...)
	if err != nil {
		return nil, err
	}
	base, err := p.ResolveAPIBase(v.base, v.baseEnv...)
	if err != nil {
		return nil, err
	}
	cli, err := newHTTPClient(p)
	if err != nil {
		return nil, err
	}
	c := &OpenAIClient{
		Label:        v.label,
		Provider:     v.provider,
		ChatURL:      base + "/chat/completions",
		ModelsURL:    base + "/models",
		Auth:         bearer(key),
		Headers:      p.ExtraHeaders,
		IncludeUsage: v.usage,
		Timeout:      p.TimeoutOr(DefaultTimeout),
		HTTP:         cli,
	}
	if p.APIType == "azure" {
		version := p.APIVersion
		if version == "" {
			version = DefaultAzureAPIVersion
		}
		c.ChatURL = base + "/openai/deployments/" + url.PathEscape(p.RealModelName()) + "/chat/completions?api-version=" + url.QueryEscape(version)
		c.ModelsURL = ""
		c.Auth = func() (map[string]string, error) { return map[string]string{"api-key": key}, nil }
	}
	return c, nil
}

func bearer(key string) func() (map[string]string, error) {
	return func() (map[string]string, error) {
		if key == "" {
			return nil, nil
		}
		return map[string]string{"Authorization": "Bearer " + key}, nil
	}
}

func (c *OpenAIClient) headers() (map[string]string, error) {
	h := map[string]string{}
	for k, v := range c.Headers {
		h[k] = v
	}
	if c.Auth != nil {
		auth, err := c.Auth()
		if err != nil {
			return nil, err
		}
		for k, v := range auth {
			h[k] = v
		}
	}
	return h, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, r *Request) (<-chan types.ModelOutput, error) {
	h, err := c.headers()
	if err != nil {
		return engine.Surface(c.Label, nil, err)
	}
	gp := r.Params
	if gp == nil {
		gp = &engine.GenerateParams{Temperature: engine.DefaultTemperature, TopP: engine.DefaultTopP}
	}
	body := oaiserver.SamplingBody(r.Model, gp)
	body["messages"] = r.Messages
	if c.IncludeUsage {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	for k, v := range gp.Extra {
		body[k] = v
	}
	return streamWithTimeout(ctx, c.Label, c.Timeout, func(ctx context.Context) (<-chan types.ModelOutput, error) {
		return oaiserver.Stream(ctx, c.HTTP, oaiserver.Request{
			URL:       c.ChatURL,
			Headers:   h,
			Body:      body,
			Chat:      true,
			Vendor:    c.Label,
			Reasoning: r.Reasoning,
			StopWords: gp.CustomStopWords,
		})
	})
}

// ListModels reads GET /models.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]types.ModelMetadata, error) {
	if c.ModelsURL == "" {
		return nil, nil
	}
	h, err := c.headers()
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := engine.GetJSON(ctx, c.HTTP, c.ModelsURL, h, &resp); err != nil {
		return nil, err
	}
	out := make([]types.ModelMetadata, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, types.ModelMetadata{Model: m.ID, Provider: c.Provider, WorkerType: params.WorkerLLM})
	}
	return out, nil
}

// streamWithTimeout runs start under a deadline of d that lasts until the
// returned stream is drained. Start failures other than config and protocol
// errors become a terminal output labelled with vendor.
func streamWithTimeout(ctx context.Context, vendor string, d time.Duration, start func(ctx context.Context) (<-chan types.ModelOutput, error)) (<-chan types.ModelOutput, error) {
	if d <= 0 {
		in, err := start(ctx)
		return engine.Surface(vendor, in, err)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	in, err := start(tctx)
	if err != nil {
		cancel()
		return engine.Surface(vendor, nil, err)
	}
	out := make(chan types.ModelOutput)
	go func() {
		defer cancel()
		defer close(out)
		for o := range in {
			if !engine.Emit(ctx, out, o) {
				cancel()
				for range in {
				}
				return
			}
		}
	}()
	return out, nil
}

func catalog(provider, adapterName string, models ...string) []types.ModelMetadata {
	out := make([]types.ModelMetadata, 0, len(models))
	for _, m := range models {
		out = append(out, types.ModelMetadata{Model: m, Provider: provider, WorkerType: params.WorkerLLM, Adapter: adapterName})
	}
	return out
}
