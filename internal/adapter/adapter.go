// Package adapter defines the per-model-family adapter contract, the
// process-wide registry that resolves a deployment to an adapter, and the
// request adaptation run before every engine call.
package adapter

import (
	"context"
	"strings"

	"modelcore/internal/conversation"
	"modelcore/internal/engine"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// Capabilities are the static support flags of an adapter.
type Capabilities struct {
	Support4Bit             bool `json:"support_4bit"`
	Support8Bit             bool `json:"support_8bit"`
	SupportSystemMessage    bool `json:"support_system_message"`
	SupportAsync            bool `json:"support_async"`
	SupportGenerateFunction bool `json:"support_generate_function"`
}

// LLMAdapter bridges requests to one model family on one engine.
type LLMAdapter interface {
	// Name identifies the adapter implementation.
	Name() string
	// NewAdapter returns an unbound copy sharing static data.
	NewAdapter() LLMAdapter
	// Bind attaches the model name, path and template factory.
	Bind(modelName, modelPath string, f *conversation.Factory)
	ModelName() string
	ModelPath() string

	// Match is a cheap predicate; empty name or path means "not given".
	Match(provider, name, path string) bool
	// NewParams returns an empty deployment record for this family.
	NewParams() params.Deploy
	Capabilities() Capabilities
	SupportedModels() []types.ModelMetadata

	// Load acquires engine resources.
	Load(ctx context.Context, p params.Deploy) (engine.Model, engine.Tokenizer, error)
	// StreamFunc returns the generate-stream function for a loaded model.
	StreamFunc(m engine.Model, p params.Deploy) (engine.StreamFunc, error)
	// StrPrompt renders the prompt directly. ok=false selects the
	// conversation template path.
	StrPrompt(ctx context.Context, p params.Deploy, messages []types.ModelMessage, tok engine.Tokenizer, compat bool) (prompt string, ok bool, err error)
	// DefaultConvTemplate returns nil when the family has none.
	DefaultConvTemplate(name, path string) conversation.Adapter
	IsReasoningModel(p params.Deploy, name string) bool
	TransformModelMessages(messages []types.ModelMessage, compat bool) ([]engine.ChatMessage, error)
	// AdjustGenerate applies family specific stop signals after the
	// generic adaptation.
	AdjustGenerate(gp *engine.GenerateParams, tok engine.Tokenizer)
	// MessageSeparator joins folded system text to user text.
	MessageSeparator() string
}

// SyncGenerator is implemented by adapters whose engine has a native
// non-streaming call.
type SyncGenerator interface {
	GenerateFunc(m engine.Model, p params.Deploy) (engine.GenerateFunc, error)
}

// Base carries the fields and default behavior shared by adapters.
// Concrete adapters embed it and override what differs.
type Base struct {
	name      string
	caps      Capabilities
	supported []types.ModelMetadata

	modelName string
	modelPath string
	factory   *conversation.Factory
}

// NewBase builds the shared part of an adapter.
func NewBase(name string, caps Capabilities, supported ...types.ModelMetadata) Base {
	return Base{name: name, caps: caps, supported: supported}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Bind(modelName, modelPath string, f *conversation.Factory) {
	b.modelName, b.modelPath, b.factory = modelName, modelPath, f
}

func (b *Base) ModelName() string                      { return b.modelName }
func (b *Base) ModelPath() string                      { return b.modelPath }
func (b *Base) Capabilities() Capabilities             { return b.caps }
func (b *Base) SupportedModels() []types.ModelMetadata { return b.supported }
func (b *Base) MessageSeparator() string               { return "\n" }

// Factory returns the bound template factory, never nil.
func (b *Base) Factory() *conversation.Factory {
	if b.factory == nil {
		b.factory = conversation.NewFactory()
	}
	return b.factory
}

func (b *Base) StrPrompt(context.Context, params.Deploy, []types.ModelMessage, engine.Tokenizer, bool) (string, bool, error) {
	return "", false, nil
}

func (b *Base) DefaultConvTemplate(string, string) conversation.Adapter { return nil }

func (b *Base) AdjustGenerate(*engine.GenerateParams, engine.Tokenizer) {}

func (b *Base) IsReasoningModel(p params.Deploy, name string) bool {
	return IsReasoningModel(p, name)
}

func (b *Base) TransformModelMessages(messages []types.ModelMessage, compat bool) ([]engine.ChatMessage, error) {
	return TransformMessages(messages, compat, b.caps.SupportSystemMessage, b.MessageSeparator())
}

// IsReasoningModel honors an explicit reasoning_model flag, else guesses
// from the name.
func IsReasoningModel(p params.Deploy, name string) bool {
	if p != nil {
		if r := p.Base().ReasoningModel; r != nil {
			return *r
		}
	}
	n := strings.ToLower(name)
	if strings.Contains(n, "qwq") {
		return true
	}
	if strings.Contains(n, "deepseek") {
		for _, k := range []string{"r1", "reasoner", "reasoning"} {
			if strings.Contains(n, k) {
				return true
			}
		}
	}
	return false
}

// MatchProvider is the provider part of most Match implementations.
func MatchProvider(provider string, accepted ...string) bool {
	for _, a := range accepted {
		if provider == a {
			return true
		}
	}
	return false
}

// LowerNameOrPath picks the discriminating string for substring matches.
func LowerNameOrPath(name, path string) string {
	if name != "" {
		return strings.ToLower(name)
	}
	return strings.ToLower(path)
}
