package oaiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"modelcore/internal/engine"
	"modelcore/internal/reasoning"
	"modelcore/pkg/types"
)

// Request is one streaming call in the OpenAI protocol.
type Request struct {
	URL     string
	Headers map[string]string
	Body    map[string]any
	// Chat selects the chat completions delta shape; otherwise the
	// completions text shape is expected.
	Chat bool
	// Vendor labels the terminal error output.
	Vendor string
	// Reasoning splits <think> markers out of content when the server does
	// not report reasoning_content itself.
	Reasoning  bool
	ForceStart bool
	// Prefix is prepended to every text (prompt echo).
	Prefix string
	// StopWords are truncated client-side.
	StopWords []string
}

type chunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *types.Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	// Code is a vendor status; non-zero ends the stream.
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Stream posts r and emits cumulative outputs. Transport and HTTP status
// failures, before or during the response, end the stream with an error
// output; only config and protocol errors are returned.
func Stream(ctx context.Context, cli *http.Client, r Request) (<-chan types.ModelOutput, error) {
	body := r.Body
	if body == nil {
		body = map[string]any{}
	}
	body["stream"] = true
	resp, err := engine.PostJSON(ctx, cli, r.URL, r.Headers, body)
	if err != nil {
		return engine.Surface(r.Vendor, nil, err)
	}
	ch := make(chan types.ModelOutput)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		acc := &reasoning.Accumulator{Enabled: r.Reasoning, ForceStart: r.ForceStart}
		var native strings.Builder
		var usage *types.Usage
		finish := ""
		current := func(final bool) types.ModelOutput {
			var out types.ModelOutput
			if final {
				out = acc.Final()
			} else {
				out = acc.Push("")
			}
			if native.Len() > 0 {
				out.ReasoningContent = native.String() + out.ReasoningContent
			}
			out.Text = r.Prefix + out.Text
			out.Usage = usage
			return out
		}
		err := engine.ReadSSE(ctx, resp.Body, false, func(data string) error {
			var c chunk
			if err := json.Unmarshal([]byte(data), &c); err != nil {
				return fmt.Errorf("decode stream chunk: %w", err)
			}
			if c.Error != nil {
				return fmt.Errorf("%s", c.Error.Message)
			}
			if c.Code != 0 {
				return fmt.Errorf("code %d: %s", c.Code, c.Message)
			}
			if c.Usage != nil {
				u := *c.Usage
				usage = &u
			}
			changed := false
			for _, choice := range c.Choices {
				delta := choice.Text
				if r.Chat {
					delta = choice.Delta.Content
					if choice.Delta.ReasoningContent != "" {
						native.WriteString(choice.Delta.ReasoningContent)
						changed = true
					}
				}
				if delta != "" {
					acc.Push(delta)
					changed = true
				}
				if choice.FinishReason != nil && *choice.FinishReason != "" {
					finish = *choice.FinishReason
				}
			}
			if cut, found := engine.TruncateAtStop(acc.Raw(), r.StopWords); found {
				acc.Set(cut)
				finish = "stop"
				return engine.ErrStopStream
			}
			if !changed {
				return nil
			}
			out := current(false)
			out.Text = engine.HoldStopPrefix(out.Text, r.StopWords)
			if !engine.Emit(ctx, ch, out) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			engine.Emit(ctx, ch, types.ErrorOutput(r.Vendor, err))
			return
		}
		out := current(true)
		out.FinishReason = finish
		engine.Emit(ctx, ch, out)
	}()
	return ch, nil
}

// SamplingBody renders the common sampling fields of gp.
func SamplingBody(model string, gp *engine.GenerateParams) map[string]any {
	body := map[string]any{
		"model":       model,
		"temperature": gp.Temperature,
		"top_p":       gp.TopP,
	}
	if gp.MaxNewTokens > 0 {
		body["max_tokens"] = gp.MaxNewTokens
	}
	if len(gp.Stop) > 0 {
		body["stop"] = gp.Stop
	}
	return body
}
