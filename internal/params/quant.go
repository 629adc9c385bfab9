package params

import (
	"strings"

	"modelcore/internal/errdefs"
)

// QuantizationConfig is the raw quantization block of an HF deployment.
// Spec turns it into the Quant sum type.
type QuantizationConfig struct {
	// Type is "bitsandbytes", "bitsandbytes_8bits" or "bitsandbytes_4bits".
	Type       string `json:"type,omitempty"`
	LoadIn8Bit bool   `json:"load_in_8bit,omitempty"`
	LoadIn4Bit bool   `json:"load_in_4bit,omitempty"`

	LLMInt8Threshold         float64  `json:"llm_int8_threshold,omitempty"`
	LLMInt8SkipModules       []string `json:"llm_int8_skip_modules,omitempty"`
	LLMInt8EnableFP32Offload bool     `json:"llm_int8_enable_fp32_cpu_offload,omitempty"`

	Bnb4BitComputeDType   string `json:"bnb_4bit_compute_dtype,omitempty"`
	Bnb4BitQuantType      string `json:"bnb_4bit_quant_type,omitempty"`
	Bnb4BitUseDoubleQuant *bool  `json:"bnb_4bit_use_double_quant,omitempty"`
}

// Quant is a realized quantization choice: Bits8 or Bits4. A nil Quant
// means no quantization.
type Quant interface {
	Bits() int
	// TGIQuantize is the value of the HF server's --quantize flag.
	TGIQuantize() string
	// Realize renders the BitsAndBytesConfig dictionary.
	Realize() map[string]any
}

// Bits8 is LLM.int8 quantization.
type Bits8 struct {
	Threshold      float64
	SkipModules    []string
	FP32CPUOffload bool
}

func (Bits8) Bits() int           { return 8 }
func (Bits8) TGIQuantize() string { return "bitsandbytes" }

func (q Bits8) Realize() map[string]any {
	m := map[string]any{
		"load_in_8bit":                     true,
		"llm_int8_threshold":               q.Threshold,
		"llm_int8_enable_fp32_cpu_offload": q.FP32CPUOffload,
	}
	if len(q.SkipModules) > 0 {
		m["llm_int8_skip_modules"] = append([]string(nil), q.SkipModules...)
	}
	return m
}

// Bits4 is 4-bit NF4/FP4 quantization.
type Bits4 struct {
	ComputeDType string
	QuantType    string
	DoubleQuant  bool
}

func (Bits4) Bits() int { return 4 }

func (q Bits4) TGIQuantize() string {
	if q.QuantType == "fp4" {
		return "bitsandbytes-fp4"
	}
	return "bitsandbytes-nf4"
}

func (q Bits4) Realize() map[string]any {
	return map[string]any{
		"load_in_4bit":              true,
		"bnb_4bit_compute_dtype":    q.ComputeDType,
		"bnb_4bit_quant_type":       q.QuantType,
		"bnb_4bit_use_double_quant": q.DoubleQuant,
	}
}

// Spec validates the block and returns the realized variant.
func (c *QuantizationConfig) Spec() (Quant, error) {
	if c == nil {
		return nil, nil
	}
	want8, want4 := c.LoadIn8Bit, c.LoadIn4Bit
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "", "bitsandbytes", "bnb":
	case "bitsandbytes_8bits", "bnb_8bit":
		want8 = true
	case "bitsandbytes_4bits", "bnb_4bit":
		want4 = true
	case "none":
		if want8 || want4 {
			return nil, errdefs.Configf("quantization type none conflicts with load_in_8bit/load_in_4bit")
		}
		return nil, nil
	default:
		return nil, errdefs.Configf("unknown quantization type %q", c.Type)
	}
	if want8 && want4 {
		return nil, errdefs.Configf("load_in_8bit and load_in_4bit are mutually exclusive")
	}
	switch {
	case want8:
		th := c.LLMInt8Threshold
		if th == 0 {
			th = 6.0
		}
		return Bits8{Threshold: th, SkipModules: c.LLMInt8SkipModules, FP32CPUOffload: c.LLMInt8EnableFP32Offload}, nil
	case want4:
		qt := strings.ToLower(c.Bnb4BitQuantType)
		if qt == "" {
			qt = "nf4"
		}
		if qt != "nf4" && qt != "fp4" {
			return nil, errdefs.Configf("bnb_4bit_quant_type must be nf4 or fp4, got %q", c.Bnb4BitQuantType)
		}
		dt := c.Bnb4BitComputeDType
		if dt == "" {
			dt = "bfloat16"
		}
		double := true
		if c.Bnb4BitUseDoubleQuant != nil {
			double = *c.Bnb4BitUseDoubleQuant
		}
		return Bits4{ComputeDType: dt, QuantType: qt, DoubleQuant: double}, nil
	}
	return nil, nil
}
