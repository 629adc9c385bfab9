// Package sglang runs models on an SGLang server.
package sglang

import (
	"context"
	"encoding/json"
	"fmt"
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
const Vendor = "SGLang"

// Adapter serves any model of the sglang provider.
type Adapter struct {
	adapter.Base
}

func New() *Adapter {
	caps := adapter.Capabilities{SupportSystemMessage: true, SupportAsync: true}
	return &Adapter{Base: adapter.NewBase("SGLangModelAdapterWrapper", caps)}
}

func (a *Adapter) NewAdapter() adapter.LLMAdapter { return New() }

func (a *Adapter) Match(provider, _, _ string) bool { return provider == params.ProviderSGLang }

func (a *Adapter) NewParams() params.Deploy {
	return &params.SGLangParams{BaseParams: params.BaseParams{Provider: params.ProviderSGLang}}
}

func (a *Adapter) StrPrompt(ctx context.Context, _ params.Deploy, messages []types.ModelMessage, tok engine.Tokenizer, compat bool) (string, bool, error) {
	return adapter.ChatTemplatePrompt(ctx, a, messages, tok, compat)
}

func (a *Adapter) Load(ctx context.Context, p params.Deploy) (engine.Model, engine.Tokenizer, error) {
	sp, ok := p.(*params.SGLangParams)
	if !ok {
		return nil, nil, errdefs.Configf("adapter %s needs sglang parameters, got %T", a.Name(), p)
	}
	gpus := 0
	if sp.TPSize == 0 && sp.APIBase == "" {
		gpus = device.Count(ctx)
	}
	srv, err := oaiserver.Launch(ctx, sp.RealModelName(), sp.APIBase, launcher.Spec{
		Model:          sp.Name,
		Bin:            sp.Python(),
		Args:           func(port int) []string { return sp.SGLangArgs(port, gpus) },
		Env:            sp.EnvList(),
		Host:           sp.Host(),
		Port:           sp.ServerPort,
		HealthPath:     "/health",
		StartupTimeout: time.Duration(sp.StartupTimeoutSeconds()) * time.Second,
		Publisher:      events.FromContext(ctx),
	})
	if err != nil {
		return nil, nil, err
	}
	tok, err := hftok.Load(sp.ResolvedPath(), srv.RenderChatTemplate)
	if err != nil {
		tok = hftok.New(map[string]int{}, "", srv.RenderChatTemplate)
	}
	return &Model{Server: srv}, tok, nil
}

func (a *Adapter) StreamFunc(m engine.Model, p params.Deploy) (engine.StreamFunc, error) {
	sm, ok := m.(*Model)
	if !ok {
		return nil, errdefs.Configf("adapter %s cannot drive model %T", a.Name(), m)
	}
	isReasoning := a.IsReasoningModel(p, p.Base().RealModelName())
	return func(ctx context.Context, gp *engine.GenerateParams) (<-chan types.ModelOutput, error) {
		return sm.Stream(ctx, gp, isReasoning)
	}, nil
}

// Model is an SGLang server.
type Model struct {
	*oaiserver.Server
}

type generateChunk struct {
	Text     string `json:"text"`
	MetaInfo struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		FinishReason     *struct {
			Type string `json:"type"`
		} `json:"finish_reason"`
	} `json:"meta_info"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func samplingParams(gp *engine.GenerateParams) map[string]any {
	sp := map[string]any{
		"max_new_tokens": gp.MaxNewTokens,
		"temperature":    gp.Temperature,
		"top_p":          gp.TopP,
	}
	if gp.TopK > 0 {
		sp["top_k"] = gp.TopK
	}
	if len(gp.Stop) > 0 {
		sp["stop"] = gp.Stop
	}
	if len(gp.StopTokenIDs) > 0 {
		sp["stop_token_ids"] = gp.StopTokenIDs
	}
	if gp.Benchmark {
		sp["ignore_eos"] = true
	}
	return sp
}

// Stream generates through /generate. The server reports cumulative text.
// A prompt that does not fit the context window is sent as the tail of its
// token ids.
func (m *Model) Stream(ctx context.Context, gp *engine.GenerateParams, isReasoning bool) (<-chan types.ModelOutput, error) {
	ids, maxNew, err := m.FitPrompt(ctx, gp.Prompt, gp.ContextLen, gp.MaxNewTokens)
	if err != nil {
		return engine.Surface(Vendor, nil, err)
	}
	sp := samplingParams(gp)
	sp["max_new_tokens"] = maxNew
	body := map[string]any{"sampling_params": sp, "stream": true}
	if ids != nil {
		body["input_ids"] = ids
	} else {
		body["text"] = gp.Prompt
	}
	resp, err := engine.PostJSON(ctx, m.Client, m.BaseURL+"/generate", nil, body)
	if err != nil {
		return engine.Surface(Vendor, nil, err)
	}
	ch := make(chan types.ModelOutput)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		acc := &reasoning.Accumulator{Enabled: isReasoning, ForceStart: isReasoning && reasoning.PromptOpensTrace(gp.Prompt)}
		var usage *types.Usage
		finish := ""
		wrap := func(out types.ModelOutput) types.ModelOutput {
			if gp.Echo {
				out.Text = gp.Prompt + out.Text
			}
			out.Usage = usage
			return out
		}
		err := engine.ReadSSE(ctx, resp.Body, false, func(data string) error {
			var c generateChunk
			if err := json.Unmarshal([]byte(data), &c); err != nil {
				return fmt.Errorf("decode stream chunk: %w", err)
			}
			if c.Error != nil {
				return fmt.Errorf("%s", c.Error.Message)
			}
			usage = &types.Usage{
				PromptTokens:     c.MetaInfo.PromptTokens,
				CompletionTokens: c.MetaInfo.CompletionTokens,
				TotalTokens:      c.MetaInfo.PromptTokens + c.MetaInfo.CompletionTokens,
			}
			if fr := c.MetaInfo.FinishReason; fr != nil {
				finish = fr.Type
			}
			text := c.Text
			if cut, found := engine.TruncateAtStop(text, gp.CustomStopWords); found {
				acc.Set(cut)
				finish = "stop"
				return engine.ErrStopStream
			}
			out := acc.Set(text)
			out.Text = engine.HoldStopPrefix(out.Text, gp.CustomStopWords)
			if !engine.Emit(ctx, ch, wrap(out)) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			engine.Emit(ctx, ch, types.ErrorOutput(Vendor, err))
			return
		}
		out := wrap(acc.Final())
		out.FinishReason = finish
		engine.Emit(ctx, ch, out)
	}()
	return ch, nil
}
