// Package engine defines the normalized generation request every runtime
// consumes, the stream function shape, and helpers shared by the runtimes.
package engine

import (
	"context"

	"modelcore/internal/errdefs"
	"modelcore/pkg/types"
)

// Sampling defaults applied when a request leaves a field unset.
const (
	DefaultTemperature  = 1.0
	DefaultTopP         = 1.0
	DefaultMaxNewTokens = 2048
)

// GenerateParams is the normalized request handed to a stream function.
type GenerateParams struct {
	// Model is the real model id understood by the engine.
	Model string
	// Messages are the request messages after transformation.
	Messages []ChatMessage
	// Prompt is the rendered prompt string.
	Prompt string
	// StringPrompt reports that Prompt came from a tokenizer chat template.
	StringPrompt bool

	Temperature  float64
	TopP         float64
	TopK         int
	MaxNewTokens int
	Stop         []string
	StopTokenIDs []int
	// CustomStopWords are truncated client-side after generation.
	CustomStopWords []string

	Echo                      bool
	ConvertToCompatibleFormat bool
	// Benchmark makes engines ignore EOS and left-truncate the prompt.
	Benchmark bool
	// ContextLen is the model window, zero when unknown.
	ContextLen int
	Context    map[string]any
	// Extra carries engine specific sampling fields.
	Extra map[string]any
}

// ModelContext is returned next to GenerateParams by the adaptation step.
type ModelContext struct {
	PromptEchoLenChar int  `json:"prompt_echo_len_char"`
	HasFormatPrompt   bool `json:"has_format_prompt"`
	Echo              bool `json:"echo"`
}

// ChatMessage is an OpenAI-shaped message: role is system, user,
// assistant or tool.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAI roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// StreamFunc runs one generation. The producer goroutine owns and closes the
// channel; every output carries the accumulated text. A returned error means
// nothing was generated. Cancel ctx to stop early.
type StreamFunc func(ctx context.Context, p *GenerateParams) (<-chan types.ModelOutput, error)

// GenerateFunc runs one non-streaming generation.
type GenerateFunc func(ctx context.Context, p *GenerateParams) (types.ModelOutput, error)

// Model is a loaded engine handle.
type Model interface {
	Close() error
}

// TokenCounter is implemented by models that can count prompt tokens.
type TokenCounter interface {
	CountTokens(ctx context.Context, prompt string) (int, error)
}

// Tokenizer is the subset of a tokenizer adapters rely on.
type Tokenizer interface {
	// EOSTokenID returns -1 when unknown.
	EOSTokenID() int
	// ConvertTokensToIDs returns -1 for unknown tokens.
	ConvertTokensToIDs(token string) int
	// ApplyChatTemplate renders messages with the model's chat template and
	// a trailing generation prompt.
	ApplyChatTemplate(ctx context.Context, messages []ChatMessage) (string, error)
}

// Collect drains a stream and returns the last output.
func Collect(ch <-chan types.ModelOutput) types.ModelOutput {
	var last types.ModelOutput
	for out := range ch {
		last = out
	}
	return last
}

// Failed returns a closed stream holding only the terminal error output.
func Failed(vendor string, err error) <-chan types.ModelOutput {
	ch := make(chan types.ModelOutput, 1)
	ch <- types.ErrorOutput(vendor, err)
	close(ch)
	return ch
}

// Surface keeps config and protocol errors synchronous. Any other start
// failure (HTTP status, network, auth) becomes a terminal error output.
func Surface(vendor string, ch <-chan types.ModelOutput, err error) (<-chan types.ModelOutput, error) {
	if err == nil || errdefs.IsConfig(err) || errdefs.IsProtocol(err) {
		return ch, err
	}
	return Failed(vendor, err), nil
}

// Emit sends out unless ctx is done. It reports whether the send happened.
func Emit(ctx context.Context, ch chan<- types.ModelOutput, out types.ModelOutput) bool {
	select {
	case ch <- out:
		return true
	case <-ctx.Done():
		return false
	}
}
