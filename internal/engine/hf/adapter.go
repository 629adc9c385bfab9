// Package hf serves HuggingFace checkpoints through a text-generation
// server process. Model families differ only in data, so one Adapter type
// is parameterized by a Family.
package hf

import (
	"context"
	"strings"

	"modelcore/internal/adapter"
	"modelcore/internal/conversation"
	"modelcore/internal/engine"
	"modelcore/internal/engine/hftok"
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// Adapter is the HF chat adapter for one family.
type Adapter struct {
	adapter.Base
	fam Family
}

// New returns the adapter for f. HF families support 4 and 8 bit loading.
func New(f Family) *Adapter {
	caps := adapter.Capabilities{
		Support4Bit:          true,
		Support8Bit:          true,
		SupportSystemMessage: f.SupportSystemMessage,
		SupportAsync:         true,
	}
	return &Adapter{Base: adapter.NewBase(f.Name, caps, f.Supported...), fam: f}
}

// Adapters returns one adapter per builtin family, in registration order.
func Adapters() []*Adapter {
	fams := Families()
	out := make([]*Adapter, len(fams))
	for i, f := range fams {
		out[i] = New(f)
	}
	return out
}

// Family returns the family data.
func (a *Adapter) Family() Family { return a.fam }

func (a *Adapter) NewAdapter() adapter.LLMAdapter { return New(a.fam) }

func (a *Adapter) Match(provider, name, path string) bool {
	if provider != params.ProviderHF {
		return false
	}
	if a.fam.Match == nil {
		// The common family is the provider-only fallback.
		return name == "" && path == ""
	}
	return (name != "" && a.fam.Match(strings.ToLower(name))) ||
		(path != "" && a.fam.Match(strings.ToLower(path)))
}

func (a *Adapter) NewParams() params.Deploy {
	return &params.HFParams{BaseParams: params.BaseParams{Provider: params.ProviderHF}}
}

// StrPrompt renders with the tokenizer chat template. A tokenizer read
// from disk without a template falls back to the family conversation
// template.
func (a *Adapter) StrPrompt(ctx context.Context, _ params.Deploy, messages []types.ModelMessage, tok engine.Tokenizer, compat bool) (string, bool, error) {
	if tok == nil {
		return "", false, nil
	}
	if ht, ok := tok.(*hftok.Tokenizer); ok && ht.FromFiles() && !ht.HasChatTemplate() && a.fam.ConvTemplate != "" {
		return "", false, nil
	}
	return adapter.ChatTemplatePrompt(ctx, a, messages, tok, compat)
}

func (a *Adapter) DefaultConvTemplate(string, string) conversation.Adapter {
	if a.fam.ConvTemplate == "" {
		return nil
	}
	c, ok := a.Factory().Get(a.fam.ConvTemplate, "")
	if !ok {
		return nil
	}
	return c
}

// AdjustGenerate puts family stop ids ahead of the request ids and adds
// family stop words.
func (a *Adapter) AdjustGenerate(gp *engine.GenerateParams, tok engine.Tokenizer) {
	var ids []int
	if tok != nil {
		if a.fam.IncludeEOS {
			ids = append(ids, tok.EOSTokenID())
		}
		for _, s := range a.fam.StopTokens {
			ids = append(ids, tok.ConvertTokensToIDs(s))
		}
	}
	if len(ids) > 0 {
		gp.StopTokenIDs = engine.UnionInts(ids, gp.StopTokenIDs)
	}
	if len(a.fam.CustomStopWords) > 0 {
		gp.CustomStopWords = engine.UnionStrings(gp.CustomStopWords, a.fam.CustomStopWords)
	}
}

func (a *Adapter) Load(ctx context.Context, p params.Deploy) (engine.Model, engine.Tokenizer, error) {
	hp, ok := p.(*params.HFParams)
	if !ok {
		return nil, nil, errdefs.Configf("adapter %s needs hf parameters, got %T", a.Name(), p)
	}
	m, err := load(ctx, hp, a.fam, a.Capabilities())
	if err != nil {
		return nil, nil, err
	}
	return m, m.tok, nil
}

func (a *Adapter) StreamFunc(m engine.Model, p params.Deploy) (engine.StreamFunc, error) {
	hm, ok := m.(*Model)
	if !ok {
		return nil, errdefs.Configf("adapter %s cannot drive model %T", a.Name(), m)
	}
	name := a.ModelName()
	if p != nil && name == "" {
		name = p.Base().Name
	}
	isReasoning := a.IsReasoningModel(p, name)
	return func(ctx context.Context, gp *engine.GenerateParams) (<-chan types.ModelOutput, error) {
		return hm.Stream(ctx, gp, isReasoning)
	}, nil
}
