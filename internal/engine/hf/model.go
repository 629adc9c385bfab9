package hf

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-version"

	"modelcore/internal/adapter"
	"modelcore/internal/device"
	"modelcore/internal/engine"
	"modelcore/internal/engine/hftok"
	"modelcore/internal/engine/launcher"
	"modelcore/internal/errdefs"
	"modelcore/internal/events"
	"modelcore/internal/logging"
	"modelcore/internal/params"
)

// DefaultServerBin is the HF text-generation server launcher.
const DefaultServerBin = "text-generation-launcher"

// Model is a running HF server bound to one deployment.
type Model struct {
	name    string
	baseURL string
	cli     *http.Client
	proc    *launcher.Process
	tok     *hftok.Tokenizer
	plan    LoadPlan
}

// Attach returns a Model for a server already listening at baseURL.
func Attach(name, baseURL string, tok *hftok.Tokenizer) (*Model, error) {
	cli, err := engine.NewHTTPClient(10*time.Second, "")
	if err != nil {
		return nil, err
	}
	m := &Model{name: name, baseURL: strings.TrimRight(baseURL, "/"), cli: cli, tok: tok}
	if m.tok == nil {
		m.tok = hftok.New(map[string]int{}, "", nil)
	}
	m.tok.SetRenderer(m.RenderChatTemplate)
	return m, nil
}

func load(ctx context.Context, p *params.HFParams, fam Family, caps adapter.Capabilities) (*Model, error) {
	log := logging.For("hf")
	tok, err := hftok.Load(p.ResolvedPath(), nil)
	if err != nil {
		log.Debug().Str("model", p.Name).Err(err).Msg("no local tokenizer files, using server tokenizer")
		tok = nil
	}
	if tok != nil && fam.PadToEOS {
		tok.ForcePadToEOS()
	}

	if p.APIBase != "" {
		m, err := Attach(p.Name, p.APIBase, tok)
		if err != nil {
			return nil, errdefs.Load(p.Name, err)
		}
		if !launcher.Healthy(ctx, m.cli, m.baseURL+"/health") {
			return nil, errdefs.Load(p.Name, fmt.Errorf("server at %s is not healthy", m.baseURL))
		}
		return m, nil
	}

	var tv *version.Version
	if fam.MinTransformers != "" || p.ResolvedDevice() == "mps" {
		v, err := device.TransformersVersion(ctx, p.PythonBin)
		switch {
		case err != nil:
			log.Warn().Str("model", p.Name).Err(err).Msg("transformers version unknown, skipping check")
		case fam.MinTransformers != "" && !device.AtLeast(v, fam.MinTransformers):
			return nil, errdefs.Load(p.Name, fmt.Errorf("%s requires transformers>=%s, found %s", fam.Name, fam.MinTransformers, v))
		default:
			tv = v
		}
	}

	dev := device.Resolve(ctx, p.ResolvedDevice())
	var gpus []device.GPU
	if strings.HasPrefix(dev, "cuda") {
		gpus = device.GPUs(ctx)
	}
	pl, err := Plan(p, dev, gpus, tv, caps.Support4Bit, caps.Support8Bit)
	if err != nil {
		return nil, errdefs.Load(p.Name, err)
	}
	if pl.PatchMPS {
		log.Warn().Str("model", p.Name).Msg("transformers older than 4.35 on mps, enabling fallback")
	}
	log.Info().Str("model", p.Name).Str("device", pl.Device).Str("dtype", pl.DType).Int("shards", pl.Shards).
		Interface("max_memory", pl.MaxMemory).Msg("load plan")

	bin := p.ServerBinPath
	if bin == "" {
		bin = DefaultServerBin
	}
	var merr *multierror.Error
	for _, at := range pl.Attempts {
		at := at
		proc, err := launcher.Start(ctx, launcher.Spec{
			Model:          p.Name,
			Bin:            bin,
			Args:           func(port int) []string { return pl.ServerArgs(p, at, port) },
			Env:            pl.ServerEnv(p),
			Host:           p.Host(),
			Port:           p.ServerPort,
			HealthPath:     "/health",
			StartupTimeout: time.Duration(p.StartupTimeoutSeconds()) * time.Second,
			Publisher:      events.FromContext(ctx),
		})
		if err == nil {
			m, aerr := Attach(p.Name, proc.BaseURL, tok)
			if aerr != nil {
				_ = proc.Stop()
				return nil, errdefs.Load(p.Name, aerr)
			}
			m.proc, m.plan = proc, pl
			log.Info().Str("model", p.Name).Str("attempt", at.Name).Str("url", proc.BaseURL).Msg("model loaded")
			return m, nil
		}
		if errdefs.IsDependencyUnavailable(err) || ctx.Err() != nil {
			return nil, err
		}
		log.Warn().Str("model", p.Name).Str("attempt", at.Name).Err(err).Msg("load attempt failed")
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", at.Name, err))
	}
	return nil, errdefs.Load(p.Name, merr.ErrorOrNil())
}

// BaseURL is the server address.
func (m *Model) BaseURL() string { return m.baseURL }

// Plan returns the placement used to start the server.
func (m *Model) Plan() LoadPlan { return m.plan }

// Close stops the server process when this model spawned it.
func (m *Model) Close() error {
	if m.proc == nil {
		return nil
	}
	return m.proc.Stop()
}

// CountTokens asks the server to tokenize prompt.
func (m *Model) CountTokens(ctx context.Context, prompt string) (int, error) {
	var toks []struct {
		ID int `json:"id"`
	}
	if err := engine.PostJSONDecode(ctx, m.cli, m.baseURL+"/tokenize", nil, map[string]any{"inputs": prompt}, &toks); err != nil {
		return 0, err
	}
	return len(toks), nil
}

// RenderChatTemplate renders messages with the server's chat template.
func (m *Model) RenderChatTemplate(ctx context.Context, messages []engine.ChatMessage) (string, error) {
	var out struct {
		TemplatedText string `json:"templated_text"`
	}
	body := map[string]any{"model": "tgi", "messages": messages}
	if err := engine.PostJSONDecode(ctx, m.cli, m.baseURL+"/chat_tokenize", nil, body, &out); err != nil {
		return "", fmt.Errorf("render chat template: %w", err)
	}
	return out.TemplatedText, nil
}
