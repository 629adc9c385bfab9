// Package registry assembles the built-in adapter catalog and discovers
// GGUF weights on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"modelcore/internal/adapter"
	"modelcore/internal/common/fsutil"
	"modelcore/internal/conversation"
	"modelcore/internal/engine/hf"
	"modelcore/internal/engine/llamacpp"
	"modelcore/internal/engine/llamaserver"
	"modelcore/internal/engine/mlx"
	"modelcore/internal/engine/sglang"
	"modelcore/internal/engine/vllm"
	"modelcore/internal/params"
	"modelcore/internal/proxy"
)

// Builtin returns a registry holding every adapter this build ships.
// The registry resolves newest first, so the HF families keep the order
// hf.Families gives them.
func Builtin(f *conversation.Factory) *adapter.Registry {
	r := adapter.NewRegistry(f)
	for _, a := range hf.Adapters() {
		r.RegisterLLM(a)
	}
	r.RegisterLLM(vllm.New())
	r.RegisterLLM(sglang.New())
	r.RegisterLLM(mlx.New())
	r.RegisterLLM(llamacpp.New())
	r.RegisterLLM(llamaserver.New())
	for _, a := range proxy.Adapters() {
		r.RegisterLLM(a)
	}
	r.RegisterEmbedding(proxy.NewEmbeddingAdapter())
	return r
}

// LoadDir scans a directory for *.gguf files and returns one llama.cpp
// deployment per file. The deployment name is the filename without its
// extension; Path is the absolute file path. Results are sorted by name.
func LoadDir(dir string) ([]params.Deploy, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var deps []params.Deploy
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if !strings.EqualFold(ext, ".gguf") {
			continue
		}
		deps = append(deps, &params.LlamaCppParams{BaseParams: params.BaseParams{
			Name:     strings.TrimSuffix(name, ext),
			Provider: params.ProviderLlamaCpp,
			Path:     filepath.Join(abs, name),
		}})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Base().Name < deps[j].Base().Name })
	return deps, nil
}

// Merge appends discovered deployments whose names are not configured.
// Configured records always win.
func Merge(configured, discovered []params.Deploy) []params.Deploy {
	seen := make(map[string]bool, len(configured))
	out := append([]params.Deploy(nil), configured...)
	for _, d := range configured {
		seen[d.Base().Name] = true
	}
	for _, d := range discovered {
		if !seen[d.Base().Name] {
			seen[d.Base().Name] = true
			out = append(out, d)
		}
	}
	return out
}
