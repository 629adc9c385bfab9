package hf

import (
	"strings"

	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// Family describes one HF chat model family. The HF adapter is a single
// type parameterized by a Family.
type Family struct {
	Name string
	// Match is applied to the lowercased name or path. Nil marks the
	// provider-only fallback.
	Match                func(s string) bool
	SupportSystemMessage bool
	// MinTransformers is the lowest transformers version the family loads on.
	MinTransformers string
	// IncludeEOS puts the tokenizer EOS id first among stop ids.
	IncludeEOS bool
	// StopTokens are converted to ids and placed before request ids.
	StopTokens []string
	// CustomStopWords are cut from generated text.
	CustomStopWords []string
	// PadToEOS forces pad id = eos id.
	PadToEOS bool
	// ConvTemplate is used when the tokenizer has no chat template.
	ConvTemplate string
	Supported    []types.ModelMetadata
}

func allOf(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if !strings.Contains(s, sub) {
				return false
			}
		}
		return true
	}
}

func allFn(fs ...func(string) bool) func(string) bool {
	return func(s string) bool {
		for _, f := range fs {
			if !f(s) {
				return false
			}
		}
		return true
	}
}

func anyOf(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}

func noneOf(subs ...string) func(string) bool {
	return func(s string) bool { return !anyOf(subs...)(s) }
}

func models(names ...string) []types.ModelMetadata {
	out := make([]types.ModelMetadata, len(names))
	for i, n := range names {
		out[i] = types.ModelMetadata{Model: n, Provider: params.ProviderHF, WorkerType: params.WorkerLLM, Path: n}
	}
	return out
}

// Families returns the builtin families in registration order: the common
// fallback first, more specific families later.
func Families() []Family {
	return []Family{
		{Name: "CommonModelAdapter", SupportSystemMessage: true, ConvTemplate: "vicuna_v1.1"},
		{
			Name:                 "YiAdapter",
			Match:                allFn(allOf("yi-", "chat"), noneOf("1.5")),
			SupportSystemMessage: true,
			ConvTemplate:         "Yi-34b-chat",
			Supported:            models("01-ai/Yi-34B-Chat", "01-ai/Yi-6B-Chat"),
		},
		{
			Name:                 "Yi15Adapter",
			Match:                allOf("yi-", "1.5", "chat"),
			SupportSystemMessage: true,
			MinTransformers:      "4.37.0",
			ConvTemplate:         "Yi-34b-chat",
			Supported:            models("01-ai/Yi-1.5-34B-Chat", "01-ai/Yi-1.5-9B-Chat"),
		},
		{
			Name:         "Mixtral8x7BAdapter",
			Match:        allOf("mixtral", "8x7b"),
			ConvTemplate: "mistral",
			Supported:    models("mistralai/Mixtral-8x7B-Instruct-v0.1"),
		},
		{
			Name:                 "SOLARAdapter",
			Match:                allOf("solar-", "instruct"),
			SupportSystemMessage: true,
			ConvTemplate:         "solar",
			Supported:            models("upstage/SOLAR-10.7B-Instruct-v1.0"),
		},
		{
			Name:            "GemmaAdapter",
			Match:           allFn(allOf("gemma-", "it"), noneOf("gemma-2")),
			MinTransformers: "4.38.0",
			ConvTemplate:    "gemma",
			Supported:       models("google/gemma-7b-it", "google/gemma-2b-it"),
		},
		{
			Name:            "Gemma2Adapter",
			Match:           allOf("gemma-2-", "it"),
			MinTransformers: "4.42.0",
			ConvTemplate:    "gemma",
			Supported:       models("google/gemma-2-9b-it", "google/gemma-2-27b-it"),
		},
		{
			Name:                 "StarlingLMAdapter",
			Match:                allOf("starling-", "lm"),
			SupportSystemMessage: true,
			ConvTemplate:         "openchat_3.5",
			Supported:            models("Nexusflow/Starling-LM-7B-beta"),
		},
		{
			Name:                 "QwenAdapter",
			Match:                allFn(allOf("qwen", "1.5"), noneOf("moe")),
			SupportSystemMessage: true,
			MinTransformers:      "4.37.0",
			ConvTemplate:         "qwen-7b-chat",
			Supported:            models("Qwen/Qwen1.5-7B-Chat", "Qwen/Qwen1.5-14B-Chat", "Qwen/Qwen1.5-72B-Chat"),
		},
		{
			Name:                 "QwenMoeAdapter",
			Match:                allOf("qwen", "moe"),
			SupportSystemMessage: true,
			MinTransformers:      "4.40.0",
			ConvTemplate:         "qwen-7b-chat",
			Supported:            models("Qwen/Qwen1.5-MoE-A2.7B-Chat"),
		},
		{
			Name:                 "Qwen2Adapter",
			Match:                allFn(anyOf("qwen2"), noneOf("moe")),
			SupportSystemMessage: true,
			MinTransformers:      "4.37.0",
			ConvTemplate:         "qwen-7b-chat",
			Supported:            models("Qwen/Qwen2-7B-Instruct", "Qwen/Qwen2.5-7B-Instruct", "Qwen/Qwen2.5-72B-Instruct"),
		},
		{
			Name:                 "Llama3Adapter",
			Match:                allFn(allOf("llama-3", "instruct"), noneOf("3.1")),
			SupportSystemMessage: true,
			IncludeEOS:           true,
			StopTokens:           []string{"<|eot_id|>"},
			ConvTemplate:         "llama-3",
			Supported:            models("meta-llama/Meta-Llama-3-8B-Instruct", "meta-llama/Meta-Llama-3-70B-Instruct"),
		},
		{
			Name:                 "Llama31Adapter",
			Match:                allOf("llama-3.1", "instruct"),
			SupportSystemMessage: true,
			MinTransformers:      "4.43.0",
			IncludeEOS:           true,
			StopTokens:           []string{"<|eot_id|>"},
			ConvTemplate:         "llama-3",
			Supported:            models("meta-llama/Meta-Llama-3.1-8B-Instruct", "meta-llama/Meta-Llama-3.1-70B-Instruct"),
		},
		{
			Name:                 "DeepseekV2Adapter",
			Match:                allFn(allOf("deepseek", "v2"), noneOf("coder")),
			SupportSystemMessage: true,
			PadToEOS:             true,
			ConvTemplate:         "deepseek-chat",
			Supported:            models("deepseek-ai/DeepSeek-V2-Chat", "deepseek-ai/DeepSeek-V2-Lite-Chat"),
		},
		{
			Name:                 "DeepseekCoderV2Adapter",
			Match:                allOf("deepseek", "coder", "v2"),
			SupportSystemMessage: true,
			PadToEOS:             true,
			ConvTemplate:         "deepseek-chat",
			Supported:            models("deepseek-ai/DeepSeek-Coder-V2-Instruct", "deepseek-ai/DeepSeek-Coder-V2-Lite-Instruct"),
		},
		{
			Name:                 "DeepseekV3R1Adapter",
			Match:                allFn(anyOf("deepseek"), anyOf("v3", "r1")),
			SupportSystemMessage: true,
			ConvTemplate:         "deepseek-chat",
			Supported:            models("deepseek-ai/DeepSeek-V3", "deepseek-ai/DeepSeek-R1", "deepseek-ai/DeepSeek-R1-Distill-Qwen-32B"),
		},
		{
			Name:                 "SailorAdapter",
			Match:                allOf("sailor", "chat"),
			SupportSystemMessage: true,
			ConvTemplate:         "chatml",
			Supported:            models("sail/Sailor-14B-Chat", "sail/Sailor-7B-Chat"),
		},
		{
			Name:                 "PhiAdapter",
			Match:                allOf("phi-3", "instruct"),
			SupportSystemMessage: true,
			CustomStopWords:      []string{"<|end|>"},
			ConvTemplate:         "phi-3",
			Supported:            models("microsoft/Phi-3-medium-128k-instruct", "microsoft/Phi-3-mini-4k-instruct"),
		},
		{
			Name:         "SQLCoderAdapter",
			Match:        allOf("sqlcoder-7b-2"),
			ConvTemplate: "sqlcoder",
			Supported:    models("defog/sqlcoder-7b-2"),
		},
		{
			Name:                 "OpenChatAdapter",
			Match:                allOf("openchat", "3.5"),
			SupportSystemMessage: true,
			ConvTemplate:         "openchat_3.5",
			Supported:            models("openchat/openchat-3.5-0106"),
		},
		{
			Name:                 "GLM4Adapter",
			Match:                allOf("glm-4", "chat"),
			SupportSystemMessage: true,
			Supported:            models("THUDM/glm-4-9b-chat"),
		},
		{
			Name:                 "Codegeex4Adapter",
			Match:                allOf("codegeex4"),
			SupportSystemMessage: true,
			Supported:            models("THUDM/codegeex4-all-9b"),
		},
		{
			Name:                 "InternLM2Adapter",
			Match:                allOf("internlm2", "chat"),
			SupportSystemMessage: true,
			ConvTemplate:         "internlm2-chat",
			Supported:            models("internlm/internlm2_5-7b-chat", "internlm/internlm2-chat-20b"),
		},
		{
			Name:         "MistralNemoAdapter",
			Match:        allOf("mistral", "nemo"),
			ConvTemplate: "mistral",
			Supported:    models("mistralai/Mistral-Nemo-Instruct-2407"),
		},
	}
}
