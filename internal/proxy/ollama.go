package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"modelcore/internal/engine"
	"modelcore/internal/params"
	"modelcore/internal/reasoning"
	"modelcore/pkg/types"
)

// OllamaDefaultBase is the local Ollama daemon.
const OllamaDefaultBase = "http://localhost:11434"

// OllamaClient streams from the Ollama chat API.
type OllamaClient struct {
	BaseURL string
	Headers map[string]string
	Timeout time.Duration
	HTTP    *http.Client
}

func ollamaVendor() Vendor {
	const name = "OllamaLLMModelAdapter"
	return Vendor{
		Provider:    params.ProviderProxyOllama,
		Label:       "Ollama",
		AdapterName: name,
		Supported:   catalog(params.ProviderProxyOllama, name, "llama3.1", "qwen2.5", "deepseek-r1"),
		New: func(p *params.ProxyParams) (Client, error) {
			base, err := p.ResolveAPIBase(OllamaDefaultBase, "OLLAMA_API_BASE", "OLLAMA_HOST")
			if err != nil {
				return nil, err
			}
			cli, err := newHTTPClient(p)
			if err != nil {
				return nil, err
			}
			return &OllamaClient{BaseURL: base, Headers: p.ExtraHeaders, Timeout: p.TimeoutOr(DefaultTimeout), HTTP: cli}, nil
		},
	}
}

type ollamaChunk struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

func ollamaOptions(gp *engine.GenerateParams) map[string]any {
	opts := map[string]any{}
	if gp == nil {
		return opts
	}
	opts["temperature"] = gp.Temperature
	opts["top_p"] = gp.TopP
	if gp.TopK > 0 {
		opts["top_k"] = gp.TopK
	}
	if gp.MaxNewTokens > 0 {
		opts["num_predict"] = gp.MaxNewTokens
	}
	if len(gp.Stop) > 0 {
		opts["stop"] = gp.Stop
	}
	if gp.ContextLen > 0 {
		opts["num_ctx"] = gp.ContextLen
	}
	return opts
}

// Stream reads the newline delimited JSON of POST /api/chat. Inline
// <think> traces are split when the model is a reasoning model.
func (c *OllamaClient) Stream(ctx context.Context, r *Request) (<-chan types.ModelOutput, error) {
	body := map[string]any{
		"model":    r.Model,
		"messages": r.Messages,
		"stream":   true,
		"options":  ollamaOptions(r.Params),
	}
	var stopWords []string
	if r.Params != nil {
		stopWords = r.Params.CustomStopWords
	}
	return streamWithTimeout(ctx, "Ollama", c.Timeout, func(ctx context.Context) (<-chan types.ModelOutput, error) {
		resp, err := engine.PostJSON(ctx, c.HTTP, c.BaseURL+"/api/chat", c.Headers, body)
		if err != nil {
			return nil, err
		}
		ch := make(chan types.ModelOutput)
		go func() {
			defer close(ch)
			defer resp.Body.Close()
			acc := &reasoning.Accumulator{Enabled: r.Reasoning}
			var thinking strings.Builder
			var usage *types.Usage
			finish := ""
			current := func(final bool) types.ModelOutput {
				var out types.ModelOutput
				if final {
					out = acc.Final()
				} else {
					out = acc.Push("")
				}
				if thinking.Len() > 0 {
					out.ReasoningContent = thinking.String() + out.ReasoningContent
				}
				out.Usage = usage
				return out
			}
			err := engine.ReadSSE(ctx, resp.Body, true, func(line string) error {
				var msg ollamaChunk
				if err := json.Unmarshal([]byte(line), &msg); err != nil {
					return fmt.Errorf("decode stream line: %w", err)
				}
				if msg.Error != "" {
					return fmt.Errorf("%s", msg.Error)
				}
				if msg.Done {
					usage = &types.Usage{
						PromptTokens:     msg.PromptEvalCount,
						CompletionTokens: msg.EvalCount,
						TotalTokens:      msg.PromptEvalCount + msg.EvalCount,
					}
					finish = msg.DoneReason
					return engine.ErrStopStream
				}
				if msg.Message.Content == "" && msg.Message.Thinking == "" {
					return nil
				}
				thinking.WriteString(msg.Message.Thinking)
				acc.Push(msg.Message.Content)
				if cut, found := engine.TruncateAtStop(acc.Raw(), stopWords); found {
					acc.Set(cut)
					finish = "stop"
					return engine.ErrStopStream
				}
				out := current(false)
				out.Text = engine.HoldStopPrefix(out.Text, stopWords)
				if !engine.Emit(ctx, ch, out) {
					return ctx.Err()
				}
				return nil
			})
			if err != nil {
				engine.Emit(ctx, ch, types.ErrorOutput("Ollama", err))
				return
			}
			out := current(true)
			out.FinishReason = finish
			engine.Emit(ctx, ch, out)
		}()
		return ch, nil
	})
}

// ListModels reads GET /api/tags.
func (c *OllamaClient) ListModels(ctx context.Context) ([]types.ModelMetadata, error) {
	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := engine.GetJSON(ctx, c.HTTP, c.BaseURL+"/api/tags", c.Headers, &resp); err != nil {
		return nil, err
	}
	out := make([]types.ModelMetadata, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, types.ModelMetadata{
			Model:      m.Name,
			Provider:   params.ProviderProxyOllama,
			WorkerType: params.WorkerLLM,
			Reasoning:  strings.Contains(m.Name, "r1") || strings.Contains(m.Name, "qwq"),
		})
	}
	return out, nil
}
