package llamacpp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

type fakeRuntime struct {
	tokens []string
	err    error
	got    predictOptions
	prompt string
	closed bool
}

func (f *fakeRuntime) predict(prompt string, o predictOptions, onToken func(string) bool) (string, error) {
	f.got = o
	f.prompt = prompt
	out := ""
	for _, t := range f.tokens {
		out += t
		if !onToken(t) {
			break
		}
	}
	return out, f.err
}

// tokenize counts words.
func (f *fakeRuntime) tokenize(text string) (int, error) { return len(strings.Fields(text)), nil }

func (f *fakeRuntime) close() { f.closed = true }

func collect(ch <-chan types.ModelOutput) []types.ModelOutput {
	var outs []types.ModelOutput
	for o := range ch {
		outs = append(outs, o)
	}
	return outs
}

func TestStreamSynthesizesTraceStart(t *testing.T) {
	rt := &fakeRuntime{tokens: []string{"plan", "</think>", "done"}}
	m := &Model{rt: rt, threads: 4}
	outs := collect(m.Stream(context.Background(), &engine.GenerateParams{Prompt: "p", MaxNewTokens: 10, Stop: []string{"</s>"}}, true))
	last := outs[len(outs)-1]
	if last.ReasoningContent != "plan" || last.Text != "done" || last.FinishReason != "stop" {
		t.Fatalf("last=%+v", last)
	}
	if rt.got.Threads != 4 || rt.got.MaxTokens != 10 {
		t.Fatalf("opts=%+v", rt.got)
	}
	if diff := cmp.Diff([]string{"</s>"}, rt.got.Stop); diff != "" {
		t.Fatalf("stop mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamCustomStopAndLength(t *testing.T) {
	rt := &fakeRuntime{tokens: []string{"a", "b<|e", "nd|>", "c"}}
	m := &Model{rt: rt}
	outs := collect(m.Stream(context.Background(), &engine.GenerateParams{CustomStopWords: []string{"<|end|>"}}, false))
	var texts []string
	for _, o := range outs {
		texts = append(texts, o.Text)
	}
	if diff := cmp.Diff([]string{"a", "ab", "ab"}, texts); diff != "" {
		t.Fatalf("texts mismatch (-want +got):\n%s", diff)
	}

	rt2 := &fakeRuntime{tokens: []string{"x", "y"}}
	m2 := &Model{rt: rt2}
	last := engine.Collect(m2.Stream(context.Background(), &engine.GenerateParams{MaxNewTokens: 2}, false))
	if last.FinishReason != "length" || last.Usage.CompletionTokens != 2 {
		t.Fatalf("last=%+v", last)
	}
}

func TestStreamErrorAndClose(t *testing.T) {
	rt := &fakeRuntime{err: errors.New("decode failed")}
	m := &Model{rt: rt}
	if out := engine.Collect(m.Stream(context.Background(), &engine.GenerateParams{}, false)); out.ErrorCode != 1 {
		t.Fatalf("out=%+v", out)
	}
	if err := m.Close(); err != nil || !rt.closed {
		t.Fatalf("close err=%v closed=%v", err, rt.closed)
	}
	if out := engine.Collect(m.Stream(context.Background(), &engine.GenerateParams{}, false)); out.ErrorCode != 1 {
		t.Fatalf("after close out=%+v", out)
	}
}

func TestTemplateFor(t *testing.T) {
	cases := map[string]string{
		"Meta-Llama-3-8B-Instruct.Q4_K_M.gguf": "llama-3",
		"qwen2.5-7b-instruct-q4_k_m.gguf":      "qwen-7b-chat",
		"mistral-7b-instruct-v0.2.Q4_K_M.gguf": "mistral",
		"unknown.gguf":                         "chatml",
	}
	for name, want := range cases {
		if got := TemplateFor(name, ""); got != want {
			t.Errorf("%s: got %s want %s", name, got, want)
		}
	}
}

func TestLoadWithoutRuntime(t *testing.T) {
	if Built {
		t.Skip("cgo runtime compiled in")
	}
	p := &params.LlamaCppParams{BaseParams: params.BaseParams{Name: "x", Provider: params.ProviderLlamaCpp, Path: "/m.gguf"}}
	_, _, err := New().Load(context.Background(), p)
	if !errdefs.IsDependencyUnavailable(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestStreamTruncatesPromptToWindow(t *testing.T) {
	rt := &fakeRuntime{tokens: []string{"x", "y"}}
	m := &Model{rt: rt}
	gp := &engine.GenerateParams{Prompt: "a b c d e f g h", MaxNewTokens: 2, ContextLen: 8, Echo: true}
	outs := collect(m.Stream(context.Background(), gp, false))
	if rt.prompt != " d e f g h" || rt.got.MaxTokens != 2 {
		t.Fatalf("prompt=%q opts=%+v", rt.prompt, rt.got)
	}
	last := outs[len(outs)-1]
	if last.Text != gp.Prompt+"xy" || last.FinishReason != "length" {
		t.Fatalf("last=%+v", last)
	}

	m.ctxSize = 6
	collect(m.Stream(context.Background(), &engine.GenerateParams{Prompt: "a b", MaxNewTokens: 64}, false))
	if rt.prompt != "a b" || rt.got.MaxTokens != 3 {
		t.Fatalf("loaded window: prompt=%q opts=%+v", rt.prompt, rt.got)
	}
}
