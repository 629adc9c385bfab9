package params

import (
	"fmt"
	"strings"

	"modelcore/internal/errdefs"
)

// LlamaServerParams maps onto the llama-server binary's command line.
type LlamaServerParams struct {
	BaseParams
	ServerParams

	ModelHFRepo string `json:"model_hf_repo,omitempty"`
	ModelHFFile string `json:"model_hf_file,omitempty"`
	ModelURL    string `json:"model_url,omitempty"`

	Seed         int     `json:"seed,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	Threads      int     `json:"threads,omitempty"`
	NGPULayers   *int    `json:"n_gpu_layers,omitempty"`
	BatchSize    int     `json:"batch_size,omitempty"`
	UBatchSize   int     `json:"ubatch_size,omitempty"`
	CtxSize      int     `json:"ctx_size,omitempty"`
	GrpAttnN     int     `json:"grp_attn_n,omitempty"`
	GrpAttnW     int     `json:"grp_attn_w,omitempty"`
	NPredict     int     `json:"n_predict,omitempty"`
	NParallel    int     `json:"n_parallel,omitempty"`
	ContBatch    *bool   `json:"cont_batching,omitempty"`
	FlashAttn    bool    `json:"flash_attn,omitempty"`
	ChatTemplate string  `json:"chat_template,omitempty"`
	Jinja        bool    `json:"jinja,omitempty"`

	ModelDraft      string  `json:"model_draft,omitempty"`
	DraftMax        int     `json:"draft_max,omitempty"`
	DraftMin        int     `json:"draft_min,omitempty"`
	DraftPMin       float64 `json:"draft_p_min,omitempty"`
	NGPULayersDraft *int    `json:"n_gpu_layers_draft,omitempty"`

	Embedding      bool     `json:"embedding,omitempty"`
	Reranking      bool     `json:"reranking,omitempty"`
	Metrics        bool     `json:"metrics,omitempty"`
	Slots          bool     `json:"slots,omitempty"`
	SlotSavePath   string   `json:"slot_save_path,omitempty"`
	APIKey         string   `json:"api_key,omitempty"`
	LoraFiles      []string `json:"lora_files,omitempty"`
	NoContextShift bool     `json:"no_context_shift,omitempty"`
	NoWebUI        *bool    `json:"no_webui,omitempty"`
	Debug          bool     `json:"debug,omitempty"`
}

func (p *LlamaServerParams) Validate() error {
	if err := p.BaseParams.Validate(); err != nil {
		return err
	}
	if p.Path == "" && p.ModelHFRepo == "" && p.ModelURL == "" && p.APIBase == "" {
		return errdefs.Configf("deployment %q: one of path, model_hf_repo, model_url or api_base is required", p.Name)
	}
	if p.DraftMin > 0 && p.DraftMax > 0 && p.DraftMin > p.DraftMax {
		return errdefs.Configf("deployment %q: draft_min must not exceed draft_max", p.Name)
	}
	return nil
}

// ContextSize treats context_length as authoritative over ctx_size.
func (p *LlamaServerParams) ContextSize() int {
	if p.ContextLength > 0 {
		return p.ContextLength
	}
	if p.CtxSize > 0 {
		return p.CtxSize
	}
	return DefaultLlamaContext
}

// ServerArgs renders the llama-server argv (without the binary) for the
// given listen port. The API key is passed through the environment, see
// ServerEnv.
func (p *LlamaServerParams) ServerArgs(port int) []string {
	args := []string{"--host", p.Host(), "--port", fmt.Sprint(port)}
	switch {
	case p.Path != "":
		args = append(args, "-m", p.ResolvedPath())
	case p.ModelHFRepo != "":
		args = append(args, "--hf-repo", p.ModelHFRepo)
		args = strFlag(args, p.ModelHFFile, "--hf-file")
	case p.ModelURL != "":
		args = append(args, "--model-url", p.ModelURL)
	}
	args = append(args, "--alias", p.RealModelName())
	args = append(args, "--ctx-size", fmt.Sprint(p.ContextSize()))
	if p.NGPULayers != nil {
		args = append(args, "--n-gpu-layers", fmt.Sprint(*p.NGPULayers))
	}
	args = intFlag(args, p.Seed, "--seed")
	args = floatFlag(args, p.Temperature, "--temp")
	args = intFlag(args, p.Threads, "--threads")
	args = intFlag(args, p.BatchSize, "--batch-size")
	args = intFlag(args, p.UBatchSize, "--ubatch-size")
	args = intFlag(args, p.GrpAttnN, "--grp-attn-n")
	args = intFlag(args, p.GrpAttnW, "--grp-attn-w")
	args = intFlag(args, p.NPredict, "--n-predict")
	parallel := p.NParallel
	if parallel == 0 && p.Concurrency > 0 {
		parallel = p.Concurrency
	}
	args = intFlag(args, parallel, "--parallel")
	if p.ContBatch != nil && !*p.ContBatch {
		args = append(args, "--no-cont-batching")
	}
	args = boolFlag(args, p.FlashAttn, "--flash-attn")
	args = strFlag(args, p.ChatTemplate, "--chat-template")
	args = boolFlag(args, p.Jinja, "--jinja")

	args = strFlag(args, p.ModelDraft, "--model-draft")
	args = intFlag(args, p.DraftMax, "--draft-max")
	args = intFlag(args, p.DraftMin, "--draft-min")
	args = floatFlag(args, p.DraftPMin, "--draft-p-min")
	if p.NGPULayersDraft != nil {
		args = append(args, "--n-gpu-layers-draft", fmt.Sprint(*p.NGPULayersDraft))
	}

	args = boolFlag(args, p.Embedding, "--embedding")
	args = boolFlag(args, p.Reranking, "--reranking")
	args = boolFlag(args, p.Metrics, "--metrics")
	args = boolFlag(args, p.Slots, "--slots")
	args = strFlag(args, p.SlotSavePath, "--slot-save-path")
	for _, l := range p.LoraFiles {
		args = append(args, "--lora", l)
	}
	args = boolFlag(args, p.NoContextShift, "--no-context-shift")
	if p.NoWebUI == nil || *p.NoWebUI {
		args = append(args, "--no-webui")
	}
	args = boolFlag(args, p.Debug, "--verbose")
	return append(args, p.ExtraArgs...)
}

// ServerEnv returns extra environment entries for the child process.
func (p *LlamaServerParams) ServerEnv() ([]string, error) {
	var env []string
	if p.APIKey != "" {
		key, err := Interpolate(p.APIKey)
		if err != nil {
			return nil, err
		}
		env = append(env, "LLAMA_API_KEY="+key)
	}
	return append(env, p.EnvList()...), nil
}

// ResolvedAPIKey returns the interpolated API key, empty when unset.
func (p *LlamaServerParams) ResolvedAPIKey() string {
	if strings.TrimSpace(p.APIKey) == "" {
		return ""
	}
	k, err := Interpolate(p.APIKey)
	if err != nil {
		return ""
	}
	return k
}
