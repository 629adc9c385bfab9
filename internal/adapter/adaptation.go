package adapter

import (
	"context"
	"strings"
	"unicode/utf8"

	"modelcore/internal/conversation"
	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// CompatMode reports whether req uses the legacy message convention.
// An explicit convert_to_compatible_format wins over the version tag.
func CompatMode(req *types.ModelRequest) bool {
	if req.ConvertToCompatibleFormat != nil {
		return *req.ConvertToCompatibleFormat
	}
	return strings.EqualFold(strings.TrimSpace(req.Version), "v1")
}

// EchoLen is the prompt length in characters with BOS/EOS markers removed.
func EchoLen(prompt string) int {
	return utf8.RuneCountInString(strings.ReplaceAll(strings.ReplaceAll(prompt, "</s>", ""), "<s>", ""))
}

// ModelAdaptation normalizes req for a bound adapter: it renders the
// prompt, resolves stop signals (request values first, then template
// defaults, then family additions) and fills sampling defaults.
func ModelAdaptation(ctx context.Context, a LLMAdapter, p params.Deploy, tok engine.Tokenizer, req *types.ModelRequest) (*engine.GenerateParams, engine.ModelContext, error) {
	var mc engine.ModelContext
	if req == nil {
		return nil, mc, errdefs.Protocolf("nil request")
	}
	for _, m := range req.Messages {
		if _, err := types.NormalizeRole(m.Role); err != nil {
			return nil, mc, errdefs.Protocolf("%v", err)
		}
	}
	compat := CompatMode(req)
	gp := &engine.GenerateParams{
		Model:                     req.Model,
		Temperature:               engine.DefaultTemperature,
		TopP:                      engine.DefaultTopP,
		MaxNewTokens:              engine.DefaultMaxNewTokens,
		ConvertToCompatibleFormat: compat,
		Context:                   req.Context,
	}
	if p != nil {
		gp.ContextLen = p.Base().ContextLength
		if gp.Model == "" {
			gp.Model = p.Base().RealModelName()
		}
	}
	if req.Temperature != nil {
		gp.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		gp.TopP = *req.TopP
	}
	if req.TopK != nil {
		gp.TopK = *req.TopK
	}
	if req.MaxNewTokens > 0 {
		gp.MaxNewTokens = req.MaxNewTokens
	}
	if req.Echo != nil {
		gp.Echo = *req.Echo
	}
	if b, ok := req.Context["benchmark"].(bool); ok {
		gp.Benchmark = b
	}

	msgs, err := a.TransformModelMessages(req.Messages, compat)
	if err != nil {
		return nil, mc, err
	}
	gp.Messages = msgs

	var convStop []string
	var convIDs []int
	prompt, ok, err := a.StrPrompt(ctx, p, req.Messages, tok, compat)
	if err != nil {
		return nil, mc, err
	}
	if ok {
		gp.Prompt, gp.StringPrompt = prompt, true
	} else {
		conv, err := convTemplate(a, p)
		if err != nil {
			return nil, mc, err
		}
		built, err := conversation.Build(conv, req.Messages, compat, a.Capabilities().SupportSystemMessage, a.MessageSeparator())
		if err != nil {
			return nil, mc, err
		}
		gp.Prompt = built.GetPrompt()
		convStop, convIDs = built.StopStr(), built.StopTokenIDs()
	}

	gp.Stop = engine.UnionStrings(req.Stop, convStop)
	gp.StopTokenIDs = engine.UnionInts(req.StopTokenIDs, convIDs)
	a.AdjustGenerate(gp, tok)

	mc = engine.ModelContext{
		PromptEchoLenChar: EchoLen(gp.Prompt),
		HasFormatPrompt:   gp.StringPrompt,
		Echo:              gp.Echo,
	}
	return gp, mc, nil
}

func convTemplate(a LLMAdapter, p params.Deploy) (conversation.Adapter, error) {
	if p != nil {
		if name := p.Base().PromptTemplate; name != "" {
			f := conversation.NewFactory()
			if b, ok := a.(interface{ Factory() *conversation.Factory }); ok {
				f = b.Factory()
			}
			if c, ok := f.Get(name, ""); ok {
				return c, nil
			}
			return nil, errdefs.Configf("conversation template %q not found", name)
		}
	}
	if c := a.DefaultConvTemplate(a.ModelName(), a.ModelPath()); c != nil {
		return c, nil
	}
	return nil, errdefs.Configf("adapter %s has no conversation template for %q", a.Name(), a.ModelName())
}

// ChatTemplatePrompt renders messages with tok's chat template. It is the
// StrPrompt of engines that serve their own template; a nil tokenizer
// selects the conversation template path.
func ChatTemplatePrompt(ctx context.Context, a LLMAdapter, messages []types.ModelMessage, tok engine.Tokenizer, compat bool) (string, bool, error) {
	if tok == nil {
		return "", false, nil
	}
	msgs, err := a.TransformModelMessages(messages, compat)
	if err != nil {
		return "", false, err
	}
	s, err := tok.ApplyChatTemplate(ctx, msgs)
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}
