package hf

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"

	"modelcore/internal/device"
	"modelcore/internal/params"
)

// Attempt is one way of loading the weights. Attempts run in order until
// one comes up healthy.
type Attempt struct {
	Name string
	// Quantize is the --quantize value, empty for full precision.
	Quantize string
	// Shards overrides the plan's shard count when positive.
	Shards int
}

// Attempt names.
const (
	AttemptDefaultQuant = "default_quantization"
	AttemptExplicitBnb  = "bitsandbytes"
	AttemptVanilla      = "vanilla"
	AttemptCompress8Bit = "compress_8bit"
)

// LoadPlan is the resolved placement of an HF model.
type LoadPlan struct {
	Device string
	// DType is float32 on cpu, float16 on accelerators, unless configured.
	DType string
	// DeviceMap is "auto" when weights are spread over several GPUs.
	DeviceMap string
	Shards    int
	// MaxMemory is the per-GPU cap keyed by GPU index.
	MaxMemory      map[int]string
	MemoryFraction float64
	// PatchMPS is set for mps on transformers older than 4.35.
	PatchMPS bool
	Attempts []Attempt
}

// GPUMemoryShare is the share of free memory claimed per GPU when
// max_gpu_memory is unset.
const GPUMemoryShare = 0.85

// Plan resolves placement for p. dev is the resolved device, gpus the
// probed GPUs (may be empty), tv the transformers version (may be nil).
func Plan(p *params.HFParams, dev string, gpus []device.GPU, tv *version.Version, support4, support8 bool) (LoadPlan, error) {
	pl := LoadPlan{Device: dev, Shards: 1, MemoryFraction: GPUMemoryShare}
	switch {
	case p.TorchDType != "" && p.TorchDType != "auto":
		pl.DType = p.TorchDType
	case dev == "cpu":
		pl.DType = "float32"
	default:
		pl.DType = "float16"
	}

	if strings.HasPrefix(dev, "cuda") {
		n := p.NumGPUs
		if n <= 0 || n > len(gpus) {
			n = len(gpus)
		}
		if n > 1 {
			pl.DeviceMap = "auto"
			pl.Shards = n
			pl.MaxMemory = map[int]string{}
			var limit int64
			if p.MaxGPUMemory != "" {
				b, err := params.ParseByteSize(p.MaxGPUMemory)
				if err != nil {
					return pl, fmt.Errorf("max_gpu_memory: %w", err)
				}
				limit = b
			}
			minFree := int64(0)
			for _, g := range gpus[:n] {
				capBytes := int64(float64(g.FreeBytes) * GPUMemoryShare)
				if limit > 0 {
					capBytes = limit
				}
				pl.MaxMemory[g.Index] = params.FormatGiB(capBytes)
				if minFree == 0 || g.FreeBytes < minFree {
					minFree = g.FreeBytes
				}
			}
			if limit > 0 && minFree > 0 {
				pl.MemoryFraction = clamp(float64(limit)/float64(minFree), 0.05, 1)
			}
		}
	}

	if dev == "mps" && tv != nil && !device.AtLeast(tv, "4.35.0") {
		pl.PatchMPS = true
	}

	q := p.Quant()
	if q != nil {
		supported := (q.Bits() == 4 && support4) || (q.Bits() == 8 && support8)
		if supported {
			pl.Attempts = append(pl.Attempts, Attempt{Name: AttemptDefaultQuant, Quantize: q.TGIQuantize()})
		}
		pl.Attempts = append(pl.Attempts, Attempt{Name: AttemptExplicitBnb, Quantize: q.TGIQuantize(), Shards: 1})
	}
	pl.Attempts = append(pl.Attempts, Attempt{Name: AttemptVanilla})
	if q != nil && q.Bits() == 8 && pl.Shards == 1 && dev != "cpu" {
		pl.Attempts = append(pl.Attempts, Attempt{Name: AttemptCompress8Bit, Quantize: "eetq"})
	}
	return pl, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ServerArgs renders the HF server argv for one attempt.
func (pl LoadPlan) ServerArgs(p *params.HFParams, at Attempt, port int) []string {
	args := []string{
		"--model-id", p.ResolvedPath(),
		"--hostname", p.Host(),
		"--port", fmt.Sprint(port),
	}
	if p.ContextLength > 0 {
		args = append(args, "--max-total-tokens", fmt.Sprint(p.ContextLength))
	}
	if pl.DType == "float16" || pl.DType == "bfloat16" {
		args = append(args, "--dtype", pl.DType)
	}
	if at.Quantize != "" {
		args = append(args, "--quantize", at.Quantize)
	}
	shards := pl.Shards
	if at.Shards > 0 {
		shards = at.Shards
	}
	if shards > 1 {
		args = append(args, "--sharded", "true", "--num-shard", fmt.Sprint(shards))
	}
	if pl.MemoryFraction > 0 && pl.MemoryFraction < 1 && strings.HasPrefix(pl.Device, "cuda") {
		args = append(args, "--cuda-memory-fraction", fmt.Sprint(pl.MemoryFraction))
	}
	if p.TrustsRemoteCode() {
		args = append(args, "--trust-remote-code")
	}
	if p.Concurrency > 0 {
		args = append(args, "--max-concurrent-requests", fmt.Sprint(p.Concurrency))
	}
	return append(args, p.ExtraArgs...)
}

// ServerEnv renders the environment for the server process.
func (pl LoadPlan) ServerEnv(p *params.HFParams) []string {
	var env []string
	if pl.PatchMPS {
		env = append(env, "PYTORCH_ENABLE_MPS_FALLBACK=1")
	}
	if p.AttnImplementation != "" {
		env = append(env, "ATTENTION="+p.AttnImplementation)
	}
	return append(env, p.EnvList()...)
}
