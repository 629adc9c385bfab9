package params

import (
	"fmt"

	"modelcore/internal/errdefs"
)

// VLLMParams projects onto vLLM's engine arguments.
type VLLMParams struct {
	BaseParams
	ServerParams

	TrustRemoteCode      *bool   `json:"trust_remote_code,omitempty"`
	Tokenizer            string  `json:"tokenizer,omitempty"`
	Revision             string  `json:"revision,omitempty"`
	DType                string  `json:"dtype,omitempty"`
	Quantization         string  `json:"quantization,omitempty"`
	TensorParallelSize   int     `json:"tensor_parallel_size,omitempty"`
	PipelineParallelSize int     `json:"pipeline_parallel_size,omitempty"`
	GPUMemoryUtilization float64 `json:"gpu_memory_utilization,omitempty"`
	MaxModelLen          int     `json:"max_model_len,omitempty"`
	MaxNumSeqs           int     `json:"max_num_seqs,omitempty"`
	MaxNumBatchedTokens  int     `json:"max_num_batched_tokens,omitempty"`
	SwapSpace            float64 `json:"swap_space,omitempty"`
	KVCacheDType         string  `json:"kv_cache_dtype,omitempty"`
	EnablePrefixCaching  bool    `json:"enable_prefix_caching,omitempty"`
	EnforceEager         bool    `json:"enforce_eager,omitempty"`
	Seed                 int     `json:"seed,omitempty"`
	// Extras are passed through as --key value flags.
	Extras map[string]any `json:"extras,omitempty"`
}

func (p *VLLMParams) Validate() error {
	if err := p.BaseParams.Validate(); err != nil {
		return err
	}
	if p.Path == "" && p.APIBase == "" {
		return errdefs.Configf("deployment %q: path is required for provider vllm", p.Name)
	}
	if u := p.GPUMemoryUtilization; u < 0 || u > 1 {
		return errdefs.Configf("deployment %q: gpu_memory_utilization must be in [0,1]", p.Name)
	}
	return nil
}

// MaxLen is the effective context window.
func (p *VLLMParams) MaxLen() int {
	if p.ContextLength > 0 {
		return p.ContextLength
	}
	return p.MaxModelLen
}

// TensorParallel returns the tensor parallel degree; when unset and more
// than one GPU is visible it follows the device count.
func (p *VLLMParams) TensorParallel(gpuCount int) int {
	if p.TensorParallelSize > 0 {
		return p.TensorParallelSize
	}
	if gpuCount > 1 {
		return gpuCount
	}
	return 1
}

// VLLMArgs renders `vllm serve` arguments.
func (p *VLLMParams) VLLMArgs(port, gpuCount int) []string {
	args := []string{"serve", p.ResolvedPath(),
		"--host", p.Host(), "--port", fmt.Sprint(port),
		"--served-model-name", p.RealModelName(),
		"--tensor-parallel-size", fmt.Sprint(p.TensorParallel(gpuCount)),
	}
	if p.TrustRemoteCode == nil || *p.TrustRemoteCode {
		args = append(args, "--trust-remote-code")
	}
	args = strFlag(args, p.Tokenizer, "--tokenizer")
	args = strFlag(args, p.Revision, "--revision")
	dtype := p.DType
	if dtype == "" {
		dtype = "auto"
	}
	args = append(args, "--dtype", dtype)
	args = strFlag(args, p.Quantization, "--quantization")
	args = intFlag(args, p.PipelineParallelSize, "--pipeline-parallel-size")
	args = floatFlag(args, p.GPUMemoryUtilization, "--gpu-memory-utilization")
	args = intFlag(args, p.MaxLen(), "--max-model-len")
	args = intFlag(args, p.MaxNumSeqs, "--max-num-seqs")
	args = intFlag(args, p.MaxNumBatchedTokens, "--max-num-batched-tokens")
	args = floatFlag(args, p.SwapSpace, "--swap-space")
	args = strFlag(args, p.KVCacheDType, "--kv-cache-dtype")
	args = boolFlag(args, p.EnablePrefixCaching, "--enable-prefix-caching")
	args = boolFlag(args, p.EnforceEager, "--enforce-eager")
	args = intFlag(args, p.Seed, "--seed")
	args = extrasArgs(args, p.Extras)
	return append(args, p.ExtraArgs...)
}
