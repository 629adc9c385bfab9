package params

import (
	"fmt"

	"modelcore/internal/errdefs"
)

// SGLangParams projects onto SGLang's ServerArgs.
type SGLangParams struct {
	BaseParams
	ServerParams

	TrustRemoteCode    *bool          `json:"trust_remote_code,omitempty"`
	Tokenizer          string         `json:"tokenizer,omitempty"`
	DType              string         `json:"dtype,omitempty"`
	Quantization       string         `json:"quantization,omitempty"`
	TPSize             int            `json:"tp_size,omitempty"`
	DPSize             int            `json:"dp_size,omitempty"`
	MemFractionStatic  float64        `json:"mem_fraction_static,omitempty"`
	MaxRunningRequests int            `json:"max_running_requests,omitempty"`
	ChunkedPrefillSize int            `json:"chunked_prefill_size,omitempty"`
	AttentionBackend   string         `json:"attention_backend,omitempty"`
	DisableRadixCache  bool           `json:"disable_radix_cache,omitempty"`
	RandomSeed         int            `json:"random_seed,omitempty"`
	Extras             map[string]any `json:"extras,omitempty"`
	PythonBin          string         `json:"python_bin,omitempty"`
}

func (p *SGLangParams) Validate() error {
	if err := p.BaseParams.Validate(); err != nil {
		return err
	}
	if p.Path == "" && p.APIBase == "" {
		return errdefs.Configf("deployment %q: path is required for provider sglang", p.Name)
	}
	if f := p.MemFractionStatic; f < 0 || f > 1 {
		return errdefs.Configf("deployment %q: mem_fraction_static must be in [0,1]", p.Name)
	}
	return nil
}

// TensorParallel mirrors VLLMParams.TensorParallel.
func (p *SGLangParams) TensorParallel(gpuCount int) int {
	if p.TPSize > 0 {
		return p.TPSize
	}
	if gpuCount > 1 {
		return gpuCount
	}
	return 1
}

// Python returns the interpreter that hosts the server.
func (p *SGLangParams) Python() string {
	if p.ServerBinPath != "" {
		return p.ServerBinPath
	}
	if p.PythonBin != "" {
		return p.PythonBin
	}
	return "python3"
}

// SGLangArgs renders `python -m sglang.launch_server` arguments.
func (p *SGLangParams) SGLangArgs(port, gpuCount int) []string {
	args := []string{"-m", "sglang.launch_server",
		"--model-path", p.ResolvedPath(),
		"--host", p.Host(), "--port", fmt.Sprint(port),
		"--served-model-name", p.RealModelName(),
		"--tp-size", fmt.Sprint(p.TensorParallel(gpuCount)),
	}
	if p.TrustRemoteCode == nil || *p.TrustRemoteCode {
		args = append(args, "--trust-remote-code")
	}
	args = strFlag(args, p.Tokenizer, "--tokenizer-path")
	args = strFlag(args, p.DType, "--dtype")
	args = strFlag(args, p.Quantization, "--quantization")
	args = intFlag(args, p.DPSize, "--dp-size")
	args = floatFlag(args, p.MemFractionStatic, "--mem-fraction-static")
	args = intFlag(args, p.ContextLength, "--context-length")
	args = intFlag(args, p.MaxRunningRequests, "--max-running-requests")
	args = intFlag(args, p.ChunkedPrefillSize, "--chunked-prefill-size")
	args = strFlag(args, p.AttentionBackend, "--attention-backend")
	args = boolFlag(args, p.DisableRadixCache, "--disable-radix-cache")
	args = intFlag(args, p.RandomSeed, "--random-seed")
	args = extrasArgs(args, p.Extras)
	return append(args, p.ExtraArgs...)
}
