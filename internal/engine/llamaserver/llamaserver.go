// Package llamaserver runs GGUF models on a llama-server child process and
// talks to it over its OpenAI-compatible API.
package llamaserver

import (
	"context"
	"fmt"
	"time"

	"modelcore/internal/adapter"
	"modelcore/internal/engine"
	"modelcore/internal/engine/hftok"
	"modelcore/internal/engine/launcher"
	"modelcore/internal/engine/oaiserver"
	"modelcore/internal/errdefs"
	"modelcore/internal/events"
	"modelcore/internal/params"
	"modelcore/internal/reasoning"
	"modelcore/pkg/types"
)

// Vendor labels error outputs.
const Vendor = "llama.cpp server"

// DefaultServerBin is the llama.cpp server binary.
const DefaultServerBin = "llama-server"

// Adapter serves the llama_cpp_server provider.
type Adapter struct {
	adapter.Base
}

func New() *Adapter {
	caps := adapter.Capabilities{SupportSystemMessage: true, SupportAsync: true}
	return &Adapter{Base: adapter.NewBase("LLamaServerModelAdapter", caps)}
}

func (a *Adapter) NewAdapter() adapter.LLMAdapter { return New() }

func (a *Adapter) Match(provider, _, _ string) bool {
	return provider == params.ProviderLlamaCppServer
}

func (a *Adapter) NewParams() params.Deploy {
	return &params.LlamaServerParams{BaseParams: params.BaseParams{Provider: params.ProviderLlamaCppServer}}
}

func (a *Adapter) StrPrompt(ctx context.Context, _ params.Deploy, messages []types.ModelMessage, tok engine.Tokenizer, compat bool) (string, bool, error) {
	return adapter.ChatTemplatePrompt(ctx, a, messages, tok, compat)
}

func (a *Adapter) Load(ctx context.Context, p params.Deploy) (engine.Model, engine.Tokenizer, error) {
	lp, ok := p.(*params.LlamaServerParams)
	if !ok {
		return nil, nil, errdefs.Configf("adapter %s needs llama_cpp_server parameters, got %T", a.Name(), p)
	}
	env, err := lp.ServerEnv()
	if err != nil {
		return nil, nil, err
	}
	bin := lp.ServerBinPath
	if bin == "" {
		bin = DefaultServerBin
	}
	srv, err := oaiserver.Launch(ctx, lp.RealModelName(), lp.APIBase, launcher.Spec{
		Model:          lp.Name,
		Bin:            bin,
		Args:           lp.ServerArgs,
		Env:            env,
		Host:           lp.Host(),
		Port:           lp.ServerPort,
		HealthPath:     "/health",
		StartupTimeout: time.Duration(lp.StartupTimeoutSeconds()) * time.Second,
		Publisher:      events.FromContext(ctx),
	})
	if err != nil {
		return nil, nil, err
	}
	m := &Model{Server: srv, apiKey: lp.ResolvedAPIKey(), contextSize: lp.ContextSize()}
	return m, hftok.New(map[string]int{}, "", m.ApplyTemplate), nil
}

func (a *Adapter) StreamFunc(m engine.Model, p params.Deploy) (engine.StreamFunc, error) {
	lm, ok := m.(*Model)
	if !ok {
		return nil, errdefs.Configf("adapter %s cannot drive model %T", a.Name(), m)
	}
	isReasoning := a.IsReasoningModel(p, p.Base().RealModelName())
	return func(ctx context.Context, gp *engine.GenerateParams) (<-chan types.ModelOutput, error) {
		return lm.Stream(ctx, gp, isReasoning)
	}, nil
}

func (a *Adapter) GenerateFunc(m engine.Model, p params.Deploy) (engine.GenerateFunc, error) {
	lm, ok := m.(*Model)
	if !ok {
		return nil, errdefs.Configf("adapter %s cannot drive model %T", a.Name(), m)
	}
	isReasoning := a.IsReasoningModel(p, p.Base().RealModelName())
	return func(ctx context.Context, gp *engine.GenerateParams) (types.ModelOutput, error) {
		return lm.Generate(ctx, gp, isReasoning)
	}, nil
}

// Model is a llama-server instance.
type Model struct {
	*oaiserver.Server
	apiKey string
	// contextSize is the server's --ctx-size, used when a request does not
	// carry its own window.
	contextSize int
}

// Attach wraps a running llama-server.
func Attach(name, baseURL, apiKey string) *Model {
	return &Model{Server: oaiserver.Attach(name, baseURL, nil), apiKey: apiKey}
}

func (m *Model) headers() map[string]string {
	if m.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + m.apiKey}
}

// ApplyTemplate renders messages with the server's chat template.
func (m *Model) ApplyTemplate(ctx context.Context, messages []engine.ChatMessage) (string, error) {
	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := engine.PostJSONDecode(ctx, m.Client, m.BaseURL+"/apply-template", m.headers(), map[string]any{"messages": messages}, &out); err != nil {
		return "", fmt.Errorf("apply template: %w", err)
	}
	return out.Prompt, nil
}

// Tokens uses the server tokenizer.
func (m *Model) Tokens(ctx context.Context, prompt string) ([]int, error) {
	var out struct {
		Tokens []int `json:"tokens"`
	}
	if err := engine.PostJSONDecode(ctx, m.Client, m.BaseURL+"/tokenize", m.headers(), map[string]any{"content": prompt}, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// CountTokens uses the server tokenizer.
func (m *Model) CountTokens(ctx context.Context, prompt string) (int, error) {
	toks, err := m.Tokens(ctx, prompt)
	if err != nil {
		return 0, err
	}
	return len(toks), nil
}

// request renders the body and reports whether it targets chat completions.
// When the rendered prompt does not fit the context window its tail is sent
// as token ids to /v1/completions instead.
func (m *Model) request(ctx context.Context, gp *engine.GenerateParams) (map[string]any, bool, error) {
	body := oaiserver.SamplingBody(m.Name, gp)
	if gp.TopK > 0 {
		body["top_k"] = gp.TopK
	}
	if gp.Benchmark {
		body["ignore_eos"] = true
	}
	window := gp.ContextLen
	if window <= 0 {
		window = m.contextSize
	}
	if window <= 0 || gp.Prompt == "" {
		body["messages"] = gp.Messages
		return body, true, nil
	}
	toks, err := m.Tokens(ctx, gp.Prompt)
	if err != nil {
		return nil, false, err
	}
	keep, maxNew := engine.Window(len(toks), window, gp.MaxNewTokens)
	body["max_tokens"] = maxNew
	if keep < len(toks) {
		body["prompt"] = engine.KeepTail(toks, keep)
		return body, false, nil
	}
	body["messages"] = gp.Messages
	return body, true, nil
}

func (m *Model) url(chat bool) string {
	if chat {
		return m.BaseURL + "/v1/chat/completions"
	}
	return m.BaseURL + "/v1/completions"
}

// Stream generates through /v1/chat/completions, or /v1/completions when
// the prompt had to be truncated.
func (m *Model) Stream(ctx context.Context, gp *engine.GenerateParams, isReasoning bool) (<-chan types.ModelOutput, error) {
	body, chat, err := m.request(ctx, gp)
	if err != nil {
		return engine.Surface(Vendor, nil, err)
	}
	body["stream_options"] = map[string]any{"include_usage": true}
	req := oaiserver.Request{
		URL:       m.url(chat),
		Headers:   m.headers(),
		Body:      body,
		Chat:      chat,
		Vendor:    Vendor,
		Reasoning: isReasoning,
		StopWords: gp.CustomStopWords,
	}
	if !chat {
		req.ForceStart = isReasoning && reasoning.PromptOpensTrace(gp.Prompt)
	}
	if gp.Echo {
		req.Prefix = gp.Prompt
	}
	return oaiserver.Stream(ctx, m.Client, req)
}

// Generate is the non-streaming chat completion.
func (m *Model) Generate(ctx context.Context, gp *engine.GenerateParams, isReasoning bool) (types.ModelOutput, error) {
	body, chat, err := m.request(ctx, gp)
	if err != nil {
		return types.ModelOutput{}, err
	}
	body["stream"] = false
	var resp struct {
		Choices []struct {
			Text    string `json:"text"`
			Message struct {
				Content          string `json:"content"`
				ReasoningContent string `json:"reasoning_content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *types.Usage `json:"usage"`
	}
	if err := engine.PostJSONDecode(ctx, m.Client, m.url(chat), m.headers(), body, &resp); err != nil {
		return types.ModelOutput{}, err
	}
	if len(resp.Choices) == 0 {
		return types.ModelOutput{}, errdefs.Protocolf("llama-server returned no choices")
	}
	c := resp.Choices[0]
	out := types.ModelOutput{Text: c.Message.Content, ReasoningContent: c.Message.ReasoningContent, FinishReason: c.FinishReason, Usage: resp.Usage}
	if !chat {
		out.Text = c.Text
	}
	if isReasoning && out.ReasoningContent == "" {
		text, _ := engine.TruncateAtStop(out.Text, gp.CustomStopWords)
		r, t := reasoning.Split(text, false, true)
		out.ReasoningContent, out.Text = r, t
	} else {
		out.Text, _ = engine.TruncateAtStop(out.Text, gp.CustomStopWords)
	}
	if gp.Echo {
		out.Text = gp.Prompt + out.Text
	}
	return out, nil
}
