package params

import (
	"strings"

	"modelcore/internal/errdefs"
)

// HFParams configures a local HuggingFace checkpoint served by the HF
// text-generation server.
type HFParams struct {
	BaseParams
	ServerParams

	TrustRemoteCode    *bool               `json:"trust_remote_code,omitempty"`
	Quantization       *QuantizationConfig `json:"quantization,omitempty"`
	LowCPUMemUsage     *bool               `json:"low_cpu_mem_usage,omitempty"`
	NumGPUs            int                 `json:"num_gpus,omitempty"`
	MaxGPUMemory       string              `json:"max_gpu_memory,omitempty"`
	TorchDType         string              `json:"torch_dtype,omitempty"`
	AttnImplementation string              `json:"attn_implementation,omitempty"`
	// PythonBin is the interpreter used for version probes.
	PythonBin string `json:"python_bin,omitempty"`
}

func (p *HFParams) Validate() error {
	if err := p.BaseParams.Validate(); err != nil {
		return err
	}
	if p.Path == "" && p.APIBase == "" {
		return errdefs.Configf("deployment %q: path is required for provider hf", p.Name)
	}
	switch p.ResolvedDevice() {
	case "auto", "cpu", "cuda", "mps", "xpu", "npu":
	default:
		if !strings.HasPrefix(p.ResolvedDevice(), "cuda:") {
			return errdefs.Configf("deployment %q: unsupported device %q", p.Name, p.Device)
		}
	}
	if p.MaxGPUMemory != "" {
		if _, err := ParseByteSize(p.MaxGPUMemory); err != nil {
			return errdefs.Configf("deployment %q: max_gpu_memory: %v", p.Name, err)
		}
	}
	if _, err := p.Quantization.Spec(); err != nil {
		return err
	}
	return nil
}

// Quant returns the realized quantization (nil when none).
func (p *HFParams) Quant() Quant {
	q, _ := p.Quantization.Spec()
	return q
}

// TrustsRemoteCode defaults to true.
func (p *HFParams) TrustsRemoteCode() bool {
	return p.TrustRemoteCode == nil || *p.TrustRemoteCode
}
