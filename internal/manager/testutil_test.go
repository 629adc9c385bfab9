package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"modelcore/internal/adapter"
	"modelcore/internal/engine"
	"modelcore/internal/events"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// createModelFile creates a file of sizeMB megabytes and returns its path.
func createModelFile(t *testing.T, dir, name string, sizeMB int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, make([]byte, sizeMB<<20), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	return p
}

// fakeModel counts whitespace separated tokens and records Close.
type fakeModel struct {
	name     string
	closed   atomic.Bool
	closeErr error
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return m.closeErr
}

func (m *fakeModel) CountTokens(_ context.Context, prompt string) (int, error) {
	return len(strings.Fields(prompt)), nil
}

// fakeAdapter serves provider "fake". Streams emit the cumulative join of
// tokens; when block is set they wait on it before the final output.
type fakeAdapter struct {
	adapter.Base
	loads    *atomic.Int32
	loadErr  *atomic.Pointer[error]
	delay    time.Duration
	tokens   []string
	block    chan struct{}
	closeErr error
	models   chan *fakeModel
	seen     chan *engine.GenerateParams
}

func newFakeAdapter(tokens ...string) *fakeAdapter {
	return &fakeAdapter{
		Base:    adapter.NewBase("FakeAdapter", adapter.Capabilities{SupportSystemMessage: true}),
		loads:   new(atomic.Int32),
		loadErr: new(atomic.Pointer[error]),
		tokens:  tokens,
		models:  make(chan *fakeModel, 16),
		seen:    make(chan *engine.GenerateParams, 16),
	}
}

func (f *fakeAdapter) failLoads(err error) {
	if err == nil {
		f.loadErr.Store(nil)
		return
	}
	f.loadErr.Store(&err)
}

func (f *fakeAdapter) NewAdapter() adapter.LLMAdapter {
	cp := *f
	return &cp
}

func (f *fakeAdapter) Match(provider, _, _ string) bool { return provider == "fake" }

func (f *fakeAdapter) NewParams() params.Deploy { return &params.BaseParams{Provider: "fake"} }

func (f *fakeAdapter) StrPrompt(_ context.Context, _ params.Deploy, msgs []types.ModelMessage, _ engine.Tokenizer, _ bool) (string, bool, error) {
	return types.MessagesToString(msgs), true, nil
}

func (f *fakeAdapter) Load(ctx context.Context, p params.Deploy) (engine.Model, engine.Tokenizer, error) {
	f.loads.Add(1)
	events.FromContext(ctx).Publish(events.Event{Name: "fake_load", Model: p.Base().Name})
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.loadErr.Load(); err != nil {
		return nil, nil, *err
	}
	m := &fakeModel{name: p.Base().Name, closeErr: f.closeErr}
	f.models <- m
	return m, nil, nil
}

func (f *fakeAdapter) StreamFunc(engine.Model, params.Deploy) (engine.StreamFunc, error) {
	return func(ctx context.Context, gp *engine.GenerateParams) (<-chan types.ModelOutput, error) {
		f.seen <- gp
		ch := make(chan types.ModelOutput)
		go func() {
			defer close(ch)
			var text string
			for _, tok := range f.tokens {
				text += tok
				if !engine.Emit(ctx, ch, types.ModelOutput{Text: text}) {
					return
				}
			}
			if f.block != nil {
				select {
				case <-f.block:
				case <-ctx.Done():
					return
				}
			}
			engine.Emit(ctx, ch, types.ModelOutput{
				Text:         text,
				FinishReason: "stop",
				Usage:        &types.Usage{CompletionTokens: len(f.tokens)},
			})
		}()
		return ch, nil
	}, nil
}

// syncAdapter adds a native generate call.
type syncAdapter struct {
	*fakeAdapter
}

func (s *syncAdapter) NewAdapter() adapter.LLMAdapter { return s }

func (s *syncAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SupportGenerateFunction: true}
}

func (s *syncAdapter) GenerateFunc(engine.Model, params.Deploy) (engine.GenerateFunc, error) {
	return func(context.Context, *engine.GenerateParams) (types.ModelOutput, error) {
		return types.ModelOutput{Text: "sync", FinishReason: "stop"}, nil
	}, nil
}

// fakeEmbedding serves provider "fake" text2vec deployments.
type fakeEmbedding struct {
	loads *atomic.Int32
}

type fakeEmbedder struct{ dim int }

func (e fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, s := range texts {
		out[i] = make([]float32, e.dim)
		out[i][0] = float32(len(s))
	}
	return out, nil
}

func (fakeEmbedder) Close() error { return nil }

func (f *fakeEmbedding) Name() string                           { return "FakeEmbedding" }
func (f *fakeEmbedding) NewAdapter() adapter.EmbeddingAdapter   { return f }
func (f *fakeEmbedding) Match(provider, _, _ string) bool       { return provider == "fake" }
func (f *fakeEmbedding) NewParams() params.Deploy               { return &params.BaseParams{} }
func (f *fakeEmbedding) SupportedModels() []types.ModelMetadata { return nil }

func (f *fakeEmbedding) Load(context.Context, params.Deploy) (adapter.Embedder, error) {
	f.loads.Add(1)
	return fakeEmbedder{dim: 3}, nil
}

func fakeDeploy(name string) *params.BaseParams {
	return &params.BaseParams{Name: name, Provider: "fake"}
}

// newTestManager registers a and builds a manager over deps.
func newTestManager(t *testing.T, a adapter.LLMAdapter, cfg Config, deps ...params.Deploy) (*Manager, *events.Memory) {
	t.Helper()
	reg := adapter.NewRegistry(nil)
	reg.RegisterLLM(a)
	reg.RegisterEmbedding(&fakeEmbedding{loads: new(atomic.Int32)})
	pub := events.NewMemory(0)
	cfg.Registry = reg
	cfg.Deployments = deps
	cfg.Publisher = pub
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, pub
}

func userRequest(model, text string) *types.ModelRequest {
	return &types.ModelRequest{Model: model, Messages: []types.ModelMessage{types.NewMessage("human", text)}}
}

var errBoom = errors.New("boom")
