package hf

import (
	"context"
	"encoding/json"
	"fmt"

	"modelcore/internal/engine"
	"modelcore/internal/reasoning"
	"modelcore/pkg/types"
)

// Vendor labels error outputs from this engine.
const Vendor = "HF"

// maxServerStops is how many stop sequences the server accepts.
const maxServerStops = 4

type streamChunk struct {
	Token struct {
		ID      int    `json:"id"`
		Text    string `json:"text"`
		Special bool   `json:"special"`
	} `json:"token"`
	GeneratedText *string `json:"generated_text"`
	Details       *struct {
		FinishReason    string `json:"finish_reason"`
		GeneratedTokens int    `json:"generated_tokens"`
	} `json:"details"`
	Error string `json:"error"`
}

// requestBody renders the server request. With a known context window the
// server left-truncates the input to what fits next to the completion.
func (m *Model) requestBody(gp *engine.GenerateParams, promptTokens int) map[string]any {
	_, maxNew := engine.Window(promptTokens, gp.ContextLen, gp.MaxNewTokens)
	pm := map[string]any{
		"max_new_tokens": maxNew,
		"details":        true,
	}
	if gp.Temperature > 1e-5 {
		pm["temperature"] = gp.Temperature
		pm["do_sample"] = true
	} else {
		pm["do_sample"] = false
	}
	if gp.TopP > 0 && gp.TopP < 1 {
		pm["top_p"] = gp.TopP
	}
	if gp.TopK > 0 {
		pm["top_k"] = gp.TopK
	}
	if len(gp.Stop) > 0 {
		stops := gp.Stop
		if len(stops) > maxServerStops {
			stops = stops[:maxServerStops]
		}
		pm["stop"] = stops
	}
	if gp.ContextLen > 0 {
		pm["truncate"] = max(gp.ContextLen-maxNew-1, 1)
	}
	return map[string]any{"inputs": gp.Prompt, "parameters": pm, "stream": true}
}

// Stream generates from gp.Prompt. Generation ends at a stop token id, a
// custom stop word, or when the server finishes. With isReasoning set the
// text is split into reasoning and answer.
func (m *Model) Stream(ctx context.Context, gp *engine.GenerateParams, isReasoning bool) (<-chan types.ModelOutput, error) {
	promptTokens, _ := m.CountTokens(ctx, gp.Prompt)
	resp, err := engine.PostJSON(ctx, m.cli, m.baseURL+"/generate_stream", nil, m.requestBody(gp, promptTokens))
	if err != nil {
		return engine.Surface(Vendor, nil, err)
	}
	if gp.ContextLen > 0 {
		promptTokens, _ = engine.Window(promptTokens, gp.ContextLen, gp.MaxNewTokens)
	}

	ch := make(chan types.ModelOutput)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		acc := &reasoning.Accumulator{
			Enabled:    isReasoning,
			ForceStart: isReasoning && reasoning.PromptOpensTrace(gp.Prompt),
		}
		completion := 0
		finish := ""
		last := ""
		emit := func(out types.ModelOutput, final bool) bool {
			if gp.Echo {
				out.Text = gp.Prompt + out.Text
			}
			out.Usage = &types.Usage{
				PromptTokens:     promptTokens,
				CompletionTokens: completion,
				TotalTokens:      promptTokens + completion,
			}
			if final {
				out.FinishReason = finish
			}
			return engine.Emit(ctx, ch, out)
		}
		err := engine.ReadSSE(ctx, resp.Body, false, func(data string) error {
			var c streamChunk
			if err := json.Unmarshal([]byte(data), &c); err != nil {
				return fmt.Errorf("decode stream chunk: %w", err)
			}
			if c.Error != "" {
				return fmt.Errorf("server error: %s", c.Error)
			}
			completion++
			if engine.ContainsInt(gp.StopTokenIDs, c.Token.ID) {
				finish = "stop"
				return engine.ErrStopStream
			}
			if !c.Token.Special {
				acc.Push(c.Token.Text)
			}
			if c.Details != nil {
				finish = normalizeFinish(c.Details.FinishReason)
			}
			if cut, found := engine.TruncateAtStop(acc.Raw(), gp.CustomStopWords); found {
				acc.Set(cut)
				finish = "stop"
				return engine.ErrStopStream
			}
			out := acc.Push("")
			out.Text = engine.HoldStopPrefix(out.Text, gp.CustomStopWords)
			if out.Text == last && out.ReasoningContent == "" && c.Details == nil {
				return nil
			}
			last = out.Text
			if !emit(out, false) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			engine.Emit(ctx, ch, types.ErrorOutput(Vendor, err))
			return
		}
		if finish == "" {
			finish = "stop"
		}
		emit(acc.Final(), true)
	}()
	return ch, nil
}

func normalizeFinish(r string) string {
	switch r {
	case "length":
		return "length"
	case "", "eos_token", "stop_sequence":
		return "stop"
	default:
		return r
	}
}
