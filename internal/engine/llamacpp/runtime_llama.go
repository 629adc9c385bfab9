//go:build llama

package llamacpp

import (
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"modelcore/internal/errdefs"
	"modelcore/internal/params"
)

// Built reports whether the cgo runtime is compiled in.
const Built = true

type cgoRuntime struct {
	model *llama.LLama
}

func newRuntime(p *params.LlamaCppParams) (runtime, error) {
	path := p.ResolvedPath()
	if strings.TrimSpace(path) == "" {
		return nil, errdefs.Configf("deployment %q: model path is empty", p.Name)
	}
	mo := []llama.ModelOption{
		llama.SetContext(p.ContextSize()),
		llama.SetNBatch(p.Batch()),
		llama.SetGPULayers(p.GPULayers()),
	}
	if p.Seed != 0 {
		mo = append(mo, llama.SetModelSeed(p.Seed))
	}
	if p.MainGPU != "" {
		mo = append(mo, llama.SetMainGPU(p.MainGPU))
	}
	if p.TensorSplit != "" {
		mo = append(mo, llama.SetTensorSplit(p.TensorSplit))
	}
	if p.MMap != nil {
		mo = append(mo, llama.SetMMap(*p.MMap))
	}
	if p.MLock {
		mo = append(mo, llama.EnableMLock)
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, errdefs.Load(p.Name, err)
	}
	return &cgoRuntime{model: m}, nil
}

func nonZero(v, def float64) float32 {
	if v > 0 {
		return float32(v)
	}
	return float32(def)
}

func (r *cgoRuntime) predict(prompt string, o predictOptions, onToken func(string) bool) (string, error) {
	if r.model == nil {
		return "", errClosed
	}
	r.model.SetTokenCallback(onToken)
	defer r.model.SetTokenCallback(nil)
	po := []llama.PredictOption{
		llama.SetTokens(max(1, o.MaxTokens)),
		llama.SetTopP(nonZero(o.TopP, float64(llama.DefaultOptions.TopP))),
		llama.SetTemperature(float32(o.Temperature)),
	}
	if o.Threads > 0 {
		po = append(po, llama.SetThreads(o.Threads))
	}
	if o.TopK > 0 {
		po = append(po, llama.SetTopK(o.TopK))
	}
	if o.Seed != 0 {
		po = append(po, llama.SetSeed(o.Seed))
	}
	if len(o.Stop) > 0 {
		po = append(po, llama.SetStopWords(o.Stop...))
	}
	return r.model.Predict(prompt, po...)
}

func (r *cgoRuntime) tokenize(text string) (int, error) {
	if r.model == nil {
		return 0, errClosed
	}
	_, toks, err := r.model.TokenizeString(text)
	if err != nil {
		return 0, err
	}
	return len(toks), nil
}

func (r *cgoRuntime) close() {
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
}
