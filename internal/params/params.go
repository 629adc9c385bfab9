// Package params holds the typed deployment records for every engine family.
// Records are decoded once at startup and are read-only afterwards; each one
// knows how to render itself into its engine's native launch configuration.
package params

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"modelcore/internal/common/fsutil"
	"modelcore/internal/errdefs"
)

// Provider tags.
const (
	ProviderHF             = "hf"
	ProviderLlamaCpp       = "llama.cpp"
	ProviderLlamaCppServer = "llama_cpp_server"
	ProviderVLLM           = "vllm"
	ProviderSGLang         = "sglang"
	ProviderMLX            = "mlx"

	ProviderProxyOpenAI      = "proxy/openai"
	ProviderProxyClaude      = "proxy/claude"
	ProviderProxyOllama      = "proxy/ollama"
	ProviderProxySpark       = "proxy/spark"
	ProviderProxyWenxin      = "proxy/wenxin"
	ProviderProxyZhipu       = "proxy/zhipu"
	ProviderProxyTongyi      = "proxy/tongyi"
	ProviderProxySiliconFlow = "proxy/siliconflow"
	ProviderProxyAIMLAPI     = "proxy/aimlapi"
	ProviderProxyMoonshot    = "proxy/moonshot"
	ProviderProxyDeepSeek    = "proxy/deepseek"
)

// Worker types.
const (
	WorkerLLM      = "llm"
	WorkerText2Vec = "text2vec"
)

// IsProxy reports whether provider names a remote API.
func IsProxy(provider string) bool { return strings.HasPrefix(provider, "proxy/") }

// Deploy is implemented by every deployment record.
type Deploy interface {
	Base() *BaseParams
	Validate() error
}

// BaseParams are the fields common to all deployments.
type BaseParams struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	// WorkerType is "llm" (default) or "text2vec".
	WorkerType string `json:"worker_type,omitempty"`
	Path       string `json:"path,omitempty"`
	Device     string `json:"device,omitempty"`
	// Backend is the real model id when Name is an alias.
	Backend        string `json:"backend,omitempty"`
	ContextLength  int    `json:"context_length,omitempty"`
	ReasoningModel *bool  `json:"reasoning_model,omitempty"`
	// PromptTemplate forces a named conversation template.
	PromptTemplate string `json:"prompt_template,omitempty"`
	// Concurrency caps simultaneous generations on one instance.
	Concurrency int  `json:"concurrency,omitempty"`
	Verbose     bool `json:"verbose,omitempty"`
}

func (b *BaseParams) Base() *BaseParams { return b }

// Validate checks the fields every provider needs.
func (b *BaseParams) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return errdefs.Configf("deployment name is required")
	}
	if strings.TrimSpace(b.Provider) == "" {
		return errdefs.Configf("deployment %q: provider is required", b.Name)
	}
	if b.ContextLength < 0 {
		return errdefs.Configf("deployment %q: context_length must be >= 0", b.Name)
	}
	return nil
}

// RealModelName is the model id sent to engines and vendors.
func (b *BaseParams) RealModelName() string {
	if b.Backend != "" {
		return b.Backend
	}
	return b.Name
}

// ResolvedPath expands a leading '~' in Path.
func (b *BaseParams) ResolvedPath() string {
	p, err := fsutil.ExpandHome(b.Path)
	if err != nil {
		return b.Path
	}
	return p
}

// ResolvedDevice returns the configured device or "auto".
func (b *BaseParams) ResolvedDevice() string {
	if d := strings.ToLower(strings.TrimSpace(b.Device)); d != "" {
		return d
	}
	return "auto"
}

// Worker returns the worker type, defaulting to llm.
func (b *BaseParams) Worker() string {
	if b.WorkerType == "" {
		return WorkerLLM
	}
	return b.WorkerType
}

// Decode turns a generic config map (from YAML, JSON or TOML) into the
// record type matching its provider.
func Decode(raw map[string]any) (Deploy, error) {
	provider, _ := raw["provider"].(string)
	worker, _ := raw["worker_type"].(string)
	target, err := newForProvider(provider, worker)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, errdefs.Configf("encode deployment: %v", err)
	}
	if err := json.Unmarshal(b, target); err != nil {
		return nil, errdefs.Configf("decode deployment %v: %v", raw["name"], err)
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return target, nil
}

func newForProvider(provider, worker string) (Deploy, error) {
	if worker == WorkerText2Vec {
		if !IsProxy(provider) {
			return nil, errdefs.Configf("embedding provider %q is not supported", provider)
		}
		return &EmbeddingParams{}, nil
	}
	switch provider {
	case ProviderHF:
		return &HFParams{}, nil
	case ProviderLlamaCpp:
		return &LlamaCppParams{}, nil
	case ProviderLlamaCppServer:
		return &LlamaServerParams{}, nil
	case ProviderVLLM:
		return &VLLMParams{}, nil
	case ProviderSGLang:
		return &SGLangParams{}, nil
	case ProviderMLX:
		return &MLXParams{}, nil
	case "":
		return nil, errdefs.Configf("provider is required")
	}
	if IsProxy(provider) {
		return &ProxyParams{}, nil
	}
	return nil, errdefs.Configf("unknown provider %q", provider)
}

// ServerParams are shared by engines that run as a child HTTP server.
type ServerParams struct {
	// ServerBinPath overrides PATH lookup of the engine binary.
	ServerBinPath string `json:"server_bin_path,omitempty"`
	ServerHost    string `json:"server_host,omitempty"`
	ServerPort    int    `json:"server_port,omitempty"`
	// StartupTimeout in seconds.
	StartupTimeout int `json:"startup_timeout,omitempty"`
	// APIBase attaches to an already running engine instead of spawning one.
	APIBase   string            `json:"api_base,omitempty"`
	ExtraArgs []string          `json:"extra_args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Server returns the embedded server settings; deployments of child-process
// engines satisfy interface{ Server() *ServerParams } through it.
func (s *ServerParams) Server() *ServerParams { return s }

// Attached reports whether the deployment talks to an already running engine.
func (s *ServerParams) Attached() bool { return strings.TrimSpace(s.APIBase) != "" }

// DefaultStartupTimeout is used when startup_timeout is unset.
const DefaultStartupTimeout = 600

// StartupTimeoutSeconds returns the readiness budget.
func (s *ServerParams) StartupTimeoutSeconds() int {
	if s.StartupTimeout > 0 {
		return s.StartupTimeout
	}
	return DefaultStartupTimeout
}

// Host returns the bind host, default 127.0.0.1.
func (s *ServerParams) Host() string {
	if s.ServerHost != "" {
		return s.ServerHost
	}
	return "127.0.0.1"
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (s *ServerParams) EnvList() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

func boolFlag(args []string, on bool, flag string) []string {
	if on {
		return append(args, flag)
	}
	return args
}

func intFlag(args []string, v int, flag string) []string {
	if v != 0 {
		return append(args, flag, fmt.Sprint(v))
	}
	return args
}

func floatFlag(args []string, v float64, flag string) []string {
	if v != 0 {
		return append(args, flag, fmt.Sprint(v))
	}
	return args
}

func strFlag(args []string, v, flag string) []string {
	if v != "" {
		return append(args, flag, v)
	}
	return args
}

// extrasArgs renders a free-form map as sorted --key value flags.
// Underscores in keys become dashes; true booleans become bare flags.
func extrasArgs(args []string, extras map[string]any) []string {
	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flag := "--" + strings.ReplaceAll(k, "_", "-")
		switch v := extras[k].(type) {
		case bool:
			if v {
				args = append(args, flag)
			}
		case nil:
		default:
			args = append(args, flag, fmt.Sprint(v))
		}
	}
	return args
}
