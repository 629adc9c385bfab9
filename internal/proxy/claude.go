package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
	"modelcore/internal/reasoning"
	"modelcore/pkg/types"
)

// Claude defaults.
const (
	ClaudeDefaultBase      = "https://api.anthropic.com"
	ClaudeAPIVersion       = "2023-06-01"
	ClaudeDefaultMaxTokens = 1024
	ClaudeDefaultTimeout   = 240 * time.Second
)

// ClaudeClient calls the Anthropic Messages API.
type ClaudeClient struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
	Timeout time.Duration
	HTTP    *http.Client
	// CountConcurrency bounds count_tokens calls.
	CountConcurrency int
}

func claudeVendor() Vendor {
	const name = "ClaudeProxyLLMModelAdapter"
	return Vendor{
		Provider:    params.ProviderProxyClaude,
		Label:       "Claude",
		AdapterName: name,
		Supported:   catalog(params.ProviderProxyClaude, name, "claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022", "claude-3-opus-20240229"),
		New: func(p *params.ProxyParams) (Client, error) {
			key, err := p.ResolveAPIKey("ANTHROPIC_API_KEY")
			if err != nil {
				return nil, err
			}
			base, err := p.ResolveAPIBase(ClaudeDefaultBase, "ANTHROPIC_BASE_URL")
			if err != nil {
				return nil, err
			}
			cli, err := newHTTPClient(p)
			if err != nil {
				return nil, err
			}
			return &ClaudeClient{
				BaseURL: base,
				APIKey:  key,
				Headers: p.ExtraHeaders,
				Timeout: p.TimeoutOr(ClaudeDefaultTimeout),
				HTTP:    cli,
			}, nil
		},
	}
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeMessages splits the system prompt from the conversation. Tool
// results are sent as user turns.
func claudeMessages(msgs []engine.ChatMessage) (string, []claudeMessage, error) {
	var system []string
	out := make([]claudeMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case engine.RoleSystem:
			system = append(system, m.Content)
		case engine.RoleAssistant:
			out = append(out, claudeMessage{Role: "assistant", Content: m.Content})
		default:
			out = append(out, claudeMessage{Role: "user", Content: m.Content})
		}
	}
	if len(system) > 1 {
		return "", nil, errdefs.Protocolf("Claude only supports single system message")
	}
	if len(system) == 1 {
		return system[0], out, nil
	}
	return "", out, nil
}

func (c *ClaudeClient) headers() map[string]string {
	h := map[string]string{
		"x-api-key":         c.APIKey,
		"anthropic-version": ClaudeAPIVersion,
	}
	for k, v := range c.Headers {
		h[k] = v
	}
	return h
}

func (c *ClaudeClient) body(r *Request, system string, msgs []claudeMessage) map[string]any {
	body := map[string]any{
		"model":      r.Model,
		"messages":   msgs,
		"max_tokens": ClaudeDefaultMaxTokens,
	}
	if system != "" {
		body["system"] = system
	}
	if gp := r.Params; gp != nil {
		if gp.MaxNewTokens > 0 {
			body["max_tokens"] = gp.MaxNewTokens
		}
		body["temperature"] = min(gp.Temperature, 1.0)
		if gp.TopP > 0 && gp.TopP < 1 {
			body["top_p"] = gp.TopP
		}
		if gp.TopK > 0 {
			body["top_k"] = gp.TopK
		}
		if len(gp.Stop) > 0 {
			body["stop_sequences"] = gp.Stop
		}
	}
	return body
}

type claudeEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage claudeUsage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		Thinking   string `json:"thinking"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *claudeUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Stream rejects more than one system message before any request is sent.
func (c *ClaudeClient) Stream(ctx context.Context, r *Request) (<-chan types.ModelOutput, error) {
	system, msgs, err := claudeMessages(r.Messages)
	if err != nil {
		return nil, err
	}
	body := c.body(r, system, msgs)
	body["stream"] = true
	var stopWords []string
	if r.Params != nil {
		stopWords = r.Params.CustomStopWords
	}
	return streamWithTimeout(ctx, "Claude", c.Timeout, func(ctx context.Context) (<-chan types.ModelOutput, error) {
		resp, err := engine.PostJSON(ctx, c.HTTP, c.BaseURL+"/v1/messages", c.headers(), body)
		if err != nil {
			return nil, err
		}
		ch := make(chan types.ModelOutput)
		go func() {
			defer close(ch)
			defer resp.Body.Close()
			acc := &reasoning.Accumulator{Enabled: r.Reasoning}
			var thinking strings.Builder
			var usage claudeUsage
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
				out.Usage = &types.Usage{
					PromptTokens:     usage.InputTokens,
					CompletionTokens: usage.OutputTokens,
					TotalTokens:      usage.InputTokens + usage.OutputTokens,
				}
				return out
			}
			err := engine.ReadSSE(ctx, resp.Body, false, func(data string) error {
				var ev claudeEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					return fmt.Errorf("decode stream event: %w", err)
				}
				switch ev.Type {
				case "error":
					if ev.Error != nil {
						return fmt.Errorf("%s: %s", ev.Error.Type, ev.Error.Message)
					}
					return fmt.Errorf("stream error")
				case "message_start":
					usage.InputTokens = ev.Message.Usage.InputTokens
					usage.OutputTokens = ev.Message.Usage.OutputTokens
					return nil
				case "message_delta":
					if ev.Usage != nil {
						usage.OutputTokens = ev.Usage.OutputTokens
					}
					if ev.Delta.StopReason != "" {
						finish = claudeFinish(ev.Delta.StopReason)
					}
					return nil
				case "message_stop":
					return engine.ErrStopStream
				case "content_block_delta":
				default:
					return nil
				}
				switch ev.Delta.Type {
				case "thinking_delta":
					thinking.WriteString(ev.Delta.Thinking)
				case "text_delta":
					acc.Push(ev.Delta.Text)
				default:
					return nil
				}
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
				engine.Emit(ctx, ch, types.ErrorOutput("Claude", err))
				return
			}
			out := current(true)
			out.FinishReason = finish
			engine.Emit(ctx, ch, out)
		}()
		return ch, nil
	})
}

func claudeFinish(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	}
	return reason
}

// CountTokens uses the count_tokens endpoint, one call per prompt.
func (c *ClaudeClient) CountTokens(ctx context.Context, model string, prompts []string) []int {
	limit := c.CountConcurrency
	if limit <= 0 {
		limit = DefaultCountConcurrency
	}
	return countConcurrently(ctx, prompts, limit, func(ctx context.Context, prompt string) (int, error) {
		body := map[string]any{
			"model":    model,
			"messages": []claudeMessage{{Role: "user", Content: prompt}},
		}
		var resp struct {
			InputTokens int `json:"input_tokens"`
		}
		if err := engine.PostJSONDecode(ctx, c.HTTP, c.BaseURL+"/v1/messages/count_tokens", c.headers(), body, &resp); err != nil {
			return -1, err
		}
		return resp.InputTokens, nil
	})
}
