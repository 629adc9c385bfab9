package manager

import (
	"os/exec"

	"modelcore/internal/engine/hf"
	"modelcore/internal/engine/llamacpp"
	"modelcore/internal/engine/llamaserver"
	"modelcore/internal/engine/mlx"
	"modelcore/internal/engine/vllm"
	"modelcore/internal/params"
)

// DependencyCheck is the runtime check of one deployment's engine.
type DependencyCheck struct {
	Deployment string `json:"deployment"`
	Provider   string `json:"provider"`
	Binary     string `json:"binary,omitempty"`
	Path       string `json:"path,omitempty"`
	Found      bool   `json:"found"`
	Error      string `json:"error,omitempty"`
}

// SanityReport lists the checks of all local deployments.
type SanityReport struct {
	OK     bool              `json:"ok"`
	Checks []DependencyCheck `json:"checks"`
}

// SanityCheck verifies that every local engine a deployment needs can be
// started: server binaries on PATH (or at server_bin_path) and the cgo
// llama.cpp runtime. Remote and attached deployments are skipped. It does not
// mutate state and is safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	deps := make([]params.Deploy, len(order))
	for i, name := range order {
		deps[i] = m.deployments[name]
	}
	m.mu.RUnlock()

	r := SanityReport{OK: true}
	for _, d := range deps {
		c, ok := checkDeployment(d)
		if !ok {
			continue
		}
		if !c.Found {
			r.OK = false
		}
		r.Checks = append(r.Checks, c)
	}
	return r
}

func checkDeployment(d params.Deploy) (DependencyCheck, bool) {
	b := d.Base()
	c := DependencyCheck{Deployment: b.Name, Provider: b.Provider}
	if b.Provider == params.ProviderLlamaCpp {
		c.Binary, c.Found = "go-llama.cpp", llamacpp.Built
		if !c.Found {
			c.Error = "binary built without the llama tag"
		}
		return c, true
	}
	s, ok := d.(interface{ Server() *params.ServerParams })
	if !ok || s.Server().Attached() {
		return c, false
	}
	c.Binary = s.Server().ServerBinPath
	if c.Binary == "" {
		c.Binary = defaultBin(d)
	}
	path, err := exec.LookPath(c.Binary)
	if err != nil {
		c.Error = err.Error()
		return c, true
	}
	c.Path, c.Found = path, true
	return c, true
}

func defaultBin(d params.Deploy) string {
	switch p := d.(type) {
	case *params.HFParams:
		return hf.DefaultServerBin
	case *params.VLLMParams:
		return vllm.DefaultServerBin
	case *params.MLXParams:
		return mlx.DefaultServerBin
	case *params.LlamaServerParams:
		return llamaserver.DefaultServerBin
	case *params.SGLangParams:
		return p.Python()
	}
	return ""
}
