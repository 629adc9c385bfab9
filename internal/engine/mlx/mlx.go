// Package mlx runs models on an mlx_lm server (Apple silicon).
package mlx

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"modelcore/internal/adapter"
	"modelcore/internal/conversation"
	"modelcore/internal/engine"
	"modelcore/internal/engine/launcher"
	"modelcore/internal/engine/oaiserver"
	"modelcore/internal/errdefs"
	"modelcore/internal/events"
	"modelcore/internal/params"
	"modelcore/internal/reasoning"
	"modelcore/pkg/types"
)

// Vendor labels error outputs.
const Vendor = "MLX"

// DefaultServerBin is the mlx_lm server command.
const DefaultServerBin = "mlx_lm.server"

// Adapter serves any model of the mlx provider. The server applies the
// chat template itself; a configured prompt_template switches to raw
// completions over the rendered prompt.
type Adapter struct {
	adapter.Base
}

func New() *Adapter {
	caps := adapter.Capabilities{SupportSystemMessage: true, SupportAsync: true}
	return &Adapter{Base: adapter.NewBase("MLXModelAdapterWrapper", caps)}
}

func (a *Adapter) NewAdapter() adapter.LLMAdapter { return New() }

func (a *Adapter) Match(provider, _, _ string) bool { return provider == params.ProviderMLX }

func (a *Adapter) NewParams() params.Deploy {
	return &params.MLXParams{BaseParams: params.BaseParams{Provider: params.ProviderMLX}}
}

// DefaultConvTemplate is the raw template: the rendered prompt is only used
// for echo and token accounting unless prompt_template is set.
func (a *Adapter) DefaultConvTemplate(string, string) conversation.Adapter {
	c, _ := a.Factory().Get("raw", conversation.PromptTypeFSChat)
	return c
}

func (a *Adapter) Load(ctx context.Context, p params.Deploy) (engine.Model, engine.Tokenizer, error) {
	mp, ok := p.(*params.MLXParams)
	if !ok {
		return nil, nil, errdefs.Configf("adapter %s needs mlx parameters, got %T", a.Name(), p)
	}
	bin := mp.ServerBinPath
	if bin == "" {
		bin = DefaultServerBin
	}
	srv, err := oaiserver.Launch(ctx, mp.RealModelName(), mp.APIBase, launcher.Spec{
		Model:          mp.Name,
		Bin:            bin,
		Args:           mp.MLXArgs,
		Env:            mp.EnvList(),
		Host:           mp.Host(),
		Port:           mp.ServerPort,
		HealthPath:     "/health",
		StartupTimeout: time.Duration(mp.StartupTimeoutSeconds()) * time.Second,
		Publisher:      events.FromContext(ctx),
	})
	if err != nil {
		return nil, nil, err
	}
	return &Model{Server: srv, rawPrompt: mp.PromptTemplate != ""}, nil, nil
}

func (a *Adapter) StreamFunc(m engine.Model, p params.Deploy) (engine.StreamFunc, error) {
	mm, ok := m.(*Model)
	if !ok {
		return nil, errdefs.Configf("adapter %s cannot drive model %T", a.Name(), m)
	}
	isReasoning := a.IsReasoningModel(p, p.Base().RealModelName())
	return func(ctx context.Context, gp *engine.GenerateParams) (<-chan types.ModelOutput, error) {
		return mm.Stream(ctx, gp, isReasoning)
	}, nil
}

// Model is an mlx_lm server.
type Model struct {
	*oaiserver.Server
	rawPrompt bool
	// noTokenize is set once the server answered /tokenize with 404.
	noTokenize atomic.Bool
}

// maxTokens caps the completion so prompt and completion fit the context
// window. The server cannot take token ids, so the prompt itself is not
// trimmed; without a tokenize endpoint only the completion is bounded.
func (m *Model) maxTokens(ctx context.Context, gp *engine.GenerateParams) int {
	if gp.ContextLen <= 0 {
		return gp.MaxNewTokens
	}
	n := 0
	if !m.noTokenize.Load() {
		c, err := m.CountTokens(ctx, gp.Prompt)
		var he *engine.HTTPError
		switch {
		case err == nil:
			n = c
		case errors.As(err, &he) && he.Status == http.StatusNotFound:
			m.noTokenize.Store(true)
		}
	}
	return engine.Room(n, gp.ContextLen, gp.MaxNewTokens)
}

// Stream uses chat completions over the messages, or completions over the
// rendered prompt when the deployment chose a prompt template.
func (m *Model) Stream(ctx context.Context, gp *engine.GenerateParams, isReasoning bool) (<-chan types.ModelOutput, error) {
	body := oaiserver.SamplingBody(m.Name, gp)
	if n := m.maxTokens(ctx, gp); n > 0 {
		body["max_tokens"] = n
	}
	req := oaiserver.Request{
		Body:      body,
		Vendor:    Vendor,
		Reasoning: isReasoning,
		StopWords: gp.CustomStopWords,
	}
	if m.rawPrompt {
		body["prompt"] = gp.Prompt
		req.URL = m.BaseURL + "/v1/completions"
		req.ForceStart = isReasoning && reasoning.PromptOpensTrace(gp.Prompt)
	} else {
		body["messages"] = gp.Messages
		req.URL = m.BaseURL + "/v1/chat/completions"
		req.Chat = true
	}
	if gp.Echo {
		req.Prefix = gp.Prompt
	}
	return oaiserver.Stream(ctx, m.Client, req)
}
