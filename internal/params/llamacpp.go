package params

import (
	"modelcore/internal/errdefs"
)

// DefaultLlamaContext is used when neither context_length nor n_ctx is set.
const DefaultLlamaContext = 4096

// LlamaCppParams configures in-process llama.cpp.
type LlamaCppParams struct {
	BaseParams

	Seed        int     `json:"seed,omitempty"`
	NThreads    int     `json:"n_threads,omitempty"`
	NBatch      int     `json:"n_batch,omitempty"`
	NGPULayers  *int    `json:"n_gpu_layers,omitempty"`
	NGQA        int     `json:"n_gqa,omitempty"`
	RMSNormEps  float64 `json:"rms_norm_eps,omitempty"`
	NCtx        int     `json:"n_ctx,omitempty"`
	MainGPU     string  `json:"main_gpu,omitempty"`
	TensorSplit string  `json:"tensor_split,omitempty"`
	// CacheCapacity is a prompt cache budget such as "2GiB".
	CacheCapacity string `json:"cache_capacity,omitempty"`
	PreferCPU     bool   `json:"prefer_cpu,omitempty"`
	MMap          *bool  `json:"mmap,omitempty"`
	MLock         bool   `json:"mlock,omitempty"`
}

func (p *LlamaCppParams) Validate() error {
	if err := p.BaseParams.Validate(); err != nil {
		return err
	}
	if p.Path == "" {
		return errdefs.Configf("deployment %q: path to a gguf file is required", p.Name)
	}
	if p.CacheCapacity != "" {
		if _, err := ParseByteSize(p.CacheCapacity); err != nil {
			return errdefs.Configf("deployment %q: cache_capacity: %v", p.Name, err)
		}
	}
	return nil
}

// ContextSize treats context_length as authoritative over n_ctx.
func (p *LlamaCppParams) ContextSize() int {
	if p.ContextLength > 0 {
		return p.ContextLength
	}
	if p.NCtx > 0 {
		return p.NCtx
	}
	return DefaultLlamaContext
}

// GPULayers returns the layers to offload; unset means all, and PreferCPU
// forces zero.
func (p *LlamaCppParams) GPULayers() int {
	if p.PreferCPU {
		return 0
	}
	if p.NGPULayers != nil {
		return *p.NGPULayers
	}
	return 1_000_000_000
}

// Batch returns n_batch, default 512.
func (p *LlamaCppParams) Batch() int {
	if p.NBatch > 0 {
		return p.NBatch
	}
	return 512
}

// CacheCapacityBytes parses cache_capacity; zero when unset.
func (p *LlamaCppParams) CacheCapacityBytes() int64 {
	if p.CacheCapacity == "" {
		return 0
	}
	n, _ := ParseByteSize(p.CacheCapacity)
	return n
}
