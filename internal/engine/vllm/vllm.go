// Package vllm runs models on a vLLM server.
package vllm

import (
	"context"
	"time"

	"modelcore/internal/adapter"
	"modelcore/internal/device"
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
const Vendor = "vLLM"

// DefaultServerBin is the vLLM command.
const DefaultServerBin = "vllm"

// Adapter serves any model of the vllm provider.
type Adapter struct {
	adapter.Base
}

func New() *Adapter {
	caps := adapter.Capabilities{SupportSystemMessage: true, SupportAsync: true}
	return &Adapter{Base: adapter.NewBase("VLLMModelAdapterWrapper", caps)}
}

func (a *Adapter) NewAdapter() adapter.LLMAdapter { return New() }

func (a *Adapter) Match(provider, _, _ string) bool { return provider == params.ProviderVLLM }

func (a *Adapter) NewParams() params.Deploy {
	return &params.VLLMParams{BaseParams: params.BaseParams{Provider: params.ProviderVLLM}}
}

func (a *Adapter) StrPrompt(ctx context.Context, _ params.Deploy, messages []types.ModelMessage, tok engine.Tokenizer, compat bool) (string, bool, error) {
	return adapter.ChatTemplatePrompt(ctx, a, messages, tok, compat)
}

func (a *Adapter) Load(ctx context.Context, p params.Deploy) (engine.Model, engine.Tokenizer, error) {
	vp, ok := p.(*params.VLLMParams)
	if !ok {
		return nil, nil, errdefs.Configf("adapter %s needs vllm parameters, got %T", a.Name(), p)
	}
	gpus := 0
	if vp.TensorParallelSize == 0 && vp.APIBase == "" {
		gpus = device.Count(ctx)
	}
	bin := vp.ServerBinPath
	if bin == "" {
		bin = DefaultServerBin
	}
	srv, err := oaiserver.Launch(ctx, vp.RealModelName(), vp.APIBase, launcher.Spec{
		Model:          vp.Name,
		Bin:            bin,
		Args:           func(port int) []string { return vp.VLLMArgs(port, gpus) },
		Env:            vp.EnvList(),
		Host:           vp.Host(),
		Port:           vp.ServerPort,
		HealthPath:     "/health",
		StartupTimeout: time.Duration(vp.StartupTimeoutSeconds()) * time.Second,
		Publisher:      events.FromContext(ctx),
	})
	if err != nil {
		return nil, nil, err
	}
	tok, err := hftok.Load(vp.ResolvedPath(), srv.RenderChatTemplate)
	if err != nil {
		tok = hftok.New(map[string]int{}, "", srv.RenderChatTemplate)
	}
	return &Model{Server: srv}, tok, nil
}

func (a *Adapter) StreamFunc(m engine.Model, p params.Deploy) (engine.StreamFunc, error) {
	vm, ok := m.(*Model)
	if !ok {
		return nil, errdefs.Configf("adapter %s cannot drive model %T", a.Name(), m)
	}
	isReasoning := a.IsReasoningModel(p, p.Base().RealModelName())
	return func(ctx context.Context, gp *engine.GenerateParams) (<-chan types.ModelOutput, error) {
		return vm.Stream(ctx, gp, isReasoning)
	}, nil
}

// Model is a vLLM server.
type Model struct {
	*oaiserver.Server
}

// TopP clamps top_p to at least 1e-5 and forces 1 for greedy decoding.
func TopP(temperature, topP float64) float64 {
	if temperature <= 1e-5 {
		return 1.0
	}
	if topP < 1e-5 {
		return 1e-5
	}
	return topP
}

// Stream generates through /v1/completions. With a known context window
// the prompt is left-truncated to fit next to the completion. In benchmark
// mode EOS is ignored.
func (m *Model) Stream(ctx context.Context, gp *engine.GenerateParams, isReasoning bool) (<-chan types.ModelOutput, error) {
	body := oaiserver.SamplingBody(m.Name, gp)
	body["top_p"] = TopP(gp.Temperature, gp.TopP)
	if gp.TopK > 0 {
		body["top_k"] = gp.TopK
	} else {
		body["top_k"] = -1
	}
	if len(gp.StopTokenIDs) > 0 {
		body["stop_token_ids"] = gp.StopTokenIDs
	}
	body["stream_options"] = map[string]any{"include_usage": true, "continuous_usage_stats": true}
	if gp.Benchmark {
		body["ignore_eos"] = true
	}
	ids, maxNew, err := m.FitPrompt(ctx, gp.Prompt, gp.ContextLen, gp.MaxNewTokens)
	if err != nil {
		return engine.Surface(Vendor, nil, err)
	}
	if maxNew > 0 {
		body["max_tokens"] = maxNew
	}
	if ids != nil {
		body["prompt"] = ids
	} else {
		body["prompt"] = gp.Prompt
	}
	prefix := ""
	if gp.Echo {
		prefix = gp.Prompt
	}
	return oaiserver.Stream(ctx, m.Client, oaiserver.Request{
		URL:        m.BaseURL + "/v1/completions",
		Body:       body,
		Vendor:     Vendor,
		Reasoning:  isReasoning,
		ForceStart: isReasoning && reasoning.PromptOpensTrace(gp.Prompt),
		Prefix:     prefix,
		StopWords:  gp.CustomStopWords,
	})
}
