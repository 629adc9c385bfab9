// Package llamacpp runs GGUF models in-process through llama.cpp. The cgo
// runtime is compiled with the llama build tag; without it Load reports
// the dependency as unavailable.
package llamacpp

import (
	"context"
	"errors"
	"strings"
	"sync"

	"modelcore/internal/adapter"
	"modelcore/internal/conversation"
	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
	"modelcore/internal/reasoning"
	"modelcore/pkg/types"
)

// Vendor labels error outputs.
const Vendor = "llama.cpp"

var errClosed = errors.New("model closed")

// predictOptions are the sampling knobs passed to the runtime.
type predictOptions struct {
	MaxTokens   int
	Threads     int
	Temperature float64
	TopP        float64
	TopK        int
	Seed        int
	Stop        []string
}

// runtime is a loaded llama.cpp model. onToken returning false stops
// generation.
type runtime interface {
	predict(prompt string, opts predictOptions, onToken func(string) bool) (string, error)
	// tokenize returns the number of tokens in text.
	tokenize(text string) (int, error)
	close()
}

// Adapter serves the llama.cpp provider.
type Adapter struct {
	adapter.Base
}

func New() *Adapter {
	caps := adapter.Capabilities{SupportSystemMessage: true}
	return &Adapter{Base: adapter.NewBase("LLamaCppModelAdapter", caps)}
}

func (a *Adapter) NewAdapter() adapter.LLMAdapter { return New() }

func (a *Adapter) Match(provider, _, _ string) bool { return provider == params.ProviderLlamaCpp }

func (a *Adapter) NewParams() params.Deploy {
	return &params.LlamaCppParams{BaseParams: params.BaseParams{Provider: params.ProviderLlamaCpp}}
}

// templateHints maps name fragments to conversation templates, most
// specific first.
var templateHints = []struct{ hint, template string }{
	{"llama-3", "llama-3"},
	{"llama3", "llama-3"},
	{"llama-2", "llama-2"},
	{"codellama", "llama-2"},
	{"mixtral", "mistral"},
	{"mistral", "mistral"},
	{"qwen", "qwen-7b-chat"},
	{"yi-", "Yi-34b-chat"},
	{"gemma", "gemma"},
	{"deepseek", "deepseek-chat"},
	{"phi-3", "phi-3"},
	{"internlm2", "internlm2-chat"},
	{"openchat", "openchat_3.5"},
	{"vicuna", "vicuna_v1.1"},
}

// TemplateFor picks a conversation template from a GGUF name or path,
// chatml when nothing matches.
func TemplateFor(name, path string) string {
	s := strings.ToLower(name + " " + path)
	for _, h := range templateHints {
		if strings.Contains(s, h.hint) {
			return h.template
		}
	}
	return "chatml"
}

func (a *Adapter) DefaultConvTemplate(name, path string) conversation.Adapter {
	c, ok := a.Factory().Get(TemplateFor(name, path), "")
	if !ok {
		return nil
	}
	return c
}

func (a *Adapter) Load(ctx context.Context, p params.Deploy) (engine.Model, engine.Tokenizer, error) {
	lp, ok := p.(*params.LlamaCppParams)
	if !ok {
		return nil, nil, errdefs.Configf("adapter %s needs llama.cpp parameters, got %T", a.Name(), p)
	}
	rt, err := newRuntime(lp)
	if err != nil {
		return nil, nil, err
	}
	return &Model{rt: rt, threads: lp.NThreads, seed: lp.Seed, ctxSize: lp.ContextSize()}, nil, nil
}

func (a *Adapter) StreamFunc(m engine.Model, p params.Deploy) (engine.StreamFunc, error) {
	lm, ok := m.(*Model)
	if !ok {
		return nil, errdefs.Configf("adapter %s cannot drive model %T", a.Name(), m)
	}
	isReasoning := a.IsReasoningModel(p, p.Base().RealModelName())
	return func(ctx context.Context, gp *engine.GenerateParams) (<-chan types.ModelOutput, error) {
		return lm.Stream(ctx, gp, isReasoning), nil
	}, nil
}

// Model is a loaded llama.cpp model. Predictions are serialized.
type Model struct {
	mu      sync.Mutex
	rt      runtime
	threads int
	seed    int
	// ctxSize is the loaded n_ctx, used when a request has no window.
	ctxSize int
}

// fit left-truncates the prompt so it fits the context window next to the
// completion and returns the completion budget. The runtime takes text, so
// the cut point is found by bisection over rune offsets.
func (m *Model) fit(gp *engine.GenerateParams) (string, int, error) {
	window := gp.ContextLen
	if window <= 0 {
		window = m.ctxSize
	}
	if window <= 0 {
		return gp.Prompt, gp.MaxNewTokens, nil
	}
	n, err := m.rt.tokenize(gp.Prompt)
	if err != nil {
		return "", 0, err
	}
	keep, maxNew := engine.Window(n, window, gp.MaxNewTokens)
	if keep >= n {
		return gp.Prompt, maxNew, nil
	}
	runes := []rune(gp.Prompt)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi) / 2
		c, err := m.rt.tokenize(string(runes[mid:]))
		if err != nil {
			return "", 0, err
		}
		if c <= keep {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return string(runes[lo:]), maxNew, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rt != nil {
		m.rt.close()
		m.rt = nil
	}
	return nil
}

// Stream predicts in a goroutine and bridges the token callback to the
// channel. For reasoning models output is a trace until the end marker,
// whether or not the model wrote the start marker.
func (m *Model) Stream(ctx context.Context, gp *engine.GenerateParams, isReasoning bool) <-chan types.ModelOutput {
	ch := make(chan types.ModelOutput)
	go func() {
		defer close(ch)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.rt == nil {
			engine.Emit(ctx, ch, types.ErrorOutput(Vendor, errdefs.Load("llama.cpp", errClosed)))
			return
		}
		prompt, maxTokens, err := m.fit(gp)
		if err != nil {
			engine.Emit(ctx, ch, types.ErrorOutput(Vendor, err))
			return
		}
		acc := &reasoning.Accumulator{Enabled: isReasoning, ForceStart: isReasoning}
		completion := 0
		stopped := false
		wrap := func(out types.ModelOutput) types.ModelOutput {
			if gp.Echo {
				out.Text = gp.Prompt + out.Text
			}
			out.Usage = &types.Usage{CompletionTokens: completion, TotalTokens: completion}
			return out
		}
		opts := predictOptions{
			MaxTokens:   maxTokens,
			Threads:     m.threads,
			Temperature: gp.Temperature,
			TopP:        gp.TopP,
			TopK:        gp.TopK,
			Seed:        m.seed,
			Stop:        gp.Stop,
		}
		_, err = m.rt.predict(prompt, opts, func(tok string) bool {
			if ctx.Err() != nil {
				return false
			}
			completion++
			acc.Push(tok)
			if cut, found := engine.TruncateAtStop(acc.Raw(), gp.CustomStopWords); found {
				acc.Set(cut)
				stopped = true
				return false
			}
			out := acc.Push("")
			out.Text = engine.HoldStopPrefix(out.Text, gp.CustomStopWords)
			return engine.Emit(ctx, ch, wrap(out))
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil && !stopped {
			engine.Emit(ctx, ch, types.ErrorOutput(Vendor, err))
			return
		}
		out := wrap(acc.Final())
		out.FinishReason = "stop"
		if maxTokens > 0 && completion >= maxTokens && !stopped {
			out.FinishReason = "length"
		}
		engine.Emit(ctx, ch, out)
	}()
	return ch
}
