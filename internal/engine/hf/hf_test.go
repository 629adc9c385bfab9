package hf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"modelcore/internal/adapter"
	"modelcore/internal/conversation"
	"modelcore/internal/device"
	"modelcore/internal/engine"
	"modelcore/internal/engine/hftok"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

func registry(t *testing.T) *adapter.Registry {
	t.Helper()
	r := adapter.NewRegistry(conversation.NewFactory())
	for _, a := range Adapters() {
		r.RegisterLLM(a)
	}
	return r
}

func TestResolvePrefersQwen2OverCommon(t *testing.T) {
	r := adapter.NewRegistry(conversation.NewFactory())
	fams := Families()
	r.RegisterLLM(New(fams[0]))
	for _, f := range fams {
		if f.Name == "Qwen2Adapter" {
			r.RegisterLLM(New(f))
		}
	}
	a, err := r.Resolve(params.ProviderHF, "Qwen/Qwen2.5-7B-Instruct", "/models/qwen")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.Name() != "Qwen2Adapter" {
		t.Fatalf("got %s, want Qwen2Adapter", a.Name())
	}
	caps := a.Capabilities()
	if !caps.Support4Bit || !caps.Support8Bit {
		t.Fatalf("caps=%+v", caps)
	}
}

func TestResolveFamilies(t *testing.T) {
	r := registry(t)
	cases := map[string]string{
		"meta-llama/Meta-Llama-3-8B-Instruct":   "Llama3Adapter",
		"meta-llama/Meta-Llama-3.1-8B-Instruct": "Llama31Adapter",
		"mistralai/Mixtral-8x7B-Instruct-v0.1":  "Mixtral8x7BAdapter",
		"Qwen/Qwen1.5-MoE-A2.7B-Chat":           "QwenMoeAdapter",
		"google/gemma-2-9b-it":                  "Gemma2Adapter",
		"deepseek-ai/DeepSeek-R1":               "DeepseekV3R1Adapter",
		"microsoft/Phi-3-mini-4k-instruct":      "PhiAdapter",
		"some/unknown-model":                    "CommonModelAdapter",
	}
	for name, want := range cases {
		a, err := r.Resolve(params.ProviderHF, name, "")
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if a.Name() != want {
			t.Errorf("%s: got %s, want %s", name, a.Name(), want)
		}
		if a.ModelName() != name {
			t.Errorf("%s: bound name %q", name, a.ModelName())
		}
	}
}

func findAdapter(t *testing.T, name string) *Adapter {
	t.Helper()
	for _, a := range Adapters() {
		if a.Name() == name {
			a.Bind("m", "/models/m", conversation.NewFactory())
			return a
		}
	}
	t.Fatalf("no adapter %s", name)
	return nil
}

func TestMixtralFoldsSystemIntoPrompt(t *testing.T) {
	a := findAdapter(t, "Mixtral8x7BAdapter")
	compat := true
	req := &types.ModelRequest{
		Model: "m",
		Messages: []types.ModelMessage{
			types.NewMessage(types.RoleSystem, "S"),
			types.NewMessage(types.RoleHuman, "H"),
		},
		MaxNewTokens:              16,
		ConvertToCompatibleFormat: &compat,
	}
	p := &params.HFParams{BaseParams: params.BaseParams{Name: "m", Provider: params.ProviderHF}}
	gp, _, err := adapter.ModelAdaptation(context.Background(), a, p, nil, req)
	if err != nil {
		t.Fatalf("adapt: %v", err)
	}
	if !strings.Contains(gp.Prompt, "S\nH") {
		t.Fatalf("prompt %q lacks folded system text", gp.Prompt)
	}
	if strings.Contains(gp.Prompt, "<<SYS>>") {
		t.Fatalf("prompt %q has a system marker", gp.Prompt)
	}
	if gp.MaxNewTokens != 16 {
		t.Fatalf("max_new_tokens=%d", gp.MaxNewTokens)
	}
	want := []engine.ChatMessage{{Role: engine.RoleUser, Content: "S\nH"}}
	if diff := cmp.Diff(want, gp.Messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestLlama3StopTokenIDs(t *testing.T) {
	a := findAdapter(t, "Llama3Adapter")
	vocab := map[string]int{"<|end_of_text|>": 128001, "<|eot_id|>": 128009}
	tok := hftok.New(vocab, "<|end_of_text|>", func(_ context.Context, msgs []engine.ChatMessage) (string, error) {
		return "rendered:" + msgs[len(msgs)-1].Content, nil
	})
	req := &types.ModelRequest{
		Messages:     []types.ModelMessage{types.NewMessage(types.RoleHuman, "hi")},
		StopTokenIDs: []int{42},
	}
	gp, mc, err := adapter.ModelAdaptation(context.Background(), a, nil, tok, req)
	if err != nil {
		t.Fatalf("adapt: %v", err)
	}
	if diff := cmp.Diff([]int{128001, 128009, 42}, gp.StopTokenIDs); diff != "" {
		t.Fatalf("stop ids mismatch (-want +got):\n%s", diff)
	}
	if gp.Prompt != "rendered:hi" || !mc.HasFormatPrompt {
		t.Fatalf("prompt=%q mc=%+v", gp.Prompt, mc)
	}
}

func TestPhiAddsCustomStopWord(t *testing.T) {
	a := findAdapter(t, "PhiAdapter")
	gp := &engine.GenerateParams{CustomStopWords: []string{"###"}}
	a.AdjustGenerate(gp, nil)
	if diff := cmp.Diff([]string{"###", "<|end|>"}, gp.CustomStopWords); diff != "" {
		t.Fatalf("stop words mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanCPU(t *testing.T) {
	p := &params.HFParams{}
	pl, err := Plan(p, "cpu", nil, nil, true, true)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if pl.DType != "float32" || pl.Shards != 1 || pl.DeviceMap != "" {
		t.Fatalf("plan=%+v", pl)
	}
	if len(pl.Attempts) != 1 || pl.Attempts[0].Name != AttemptVanilla {
		t.Fatalf("attempts=%+v", pl.Attempts)
	}
}

func TestPlanMultiGPUQuantized(t *testing.T) {
	p := &params.HFParams{Quantization: &params.QuantizationConfig{LoadIn4Bit: true}}
	gpus := []device.GPU{{Index: 0, FreeBytes: 20 << 30}, {Index: 1, FreeBytes: 10 << 30}}
	pl, err := Plan(p, "cuda", gpus, nil, true, true)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if pl.DType != "float16" || pl.DeviceMap != "auto" || pl.Shards != 2 {
		t.Fatalf("plan=%+v", pl)
	}
	if diff := cmp.Diff(map[int]string{0: "17GiB", 1: "8GiB"}, pl.MaxMemory); diff != "" {
		t.Fatalf("max memory mismatch (-want +got):\n%s", diff)
	}
	var names []string
	for _, at := range pl.Attempts {
		names = append(names, at.Name)
	}
	if diff := cmp.Diff([]string{AttemptDefaultQuant, AttemptExplicitBnb, AttemptVanilla}, names); diff != "" {
		t.Fatalf("attempts mismatch (-want +got):\n%s", diff)
	}
	args := pl.ServerArgs(&params.HFParams{BaseParams: params.BaseParams{Path: "/m"}}, pl.Attempts[0], 9000)
	joined := strings.Join(args, " ")
	for _, want := range []string{"--model-id /m", "--port 9000", "--quantize bitsandbytes-nf4", "--num-shard 2", "--dtype float16"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestPlanEightBitFallbackAndMPS(t *testing.T) {
	p := &params.HFParams{Quantization: &params.QuantizationConfig{LoadIn8Bit: true}, TorchDType: "bfloat16"}
	tv, _ := device.ParseVersion("4.34.0")
	pl, err := Plan(p, "mps", nil, tv, true, false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !pl.PatchMPS || pl.DType != "bfloat16" {
		t.Fatalf("plan=%+v", pl)
	}
	var names []string
	for _, at := range pl.Attempts {
		names = append(names, at.Name)
	}
	if diff := cmp.Diff([]string{AttemptExplicitBnb, AttemptVanilla, AttemptCompress8Bit}, names); diff != "" {
		t.Fatalf("attempts mismatch (-want +got):\n%s", diff)
	}
}

// tgiServer streams tokens as the HF server does.
func tgiServer(t *testing.T, tokens []streamToken) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/tokenize":
			_, _ = w.Write([]byte(`[{"id":1},{"id":2},{"id":3}]`))
		case "/generate_stream":
			w.Header().Set("Content-Type", "text/event-stream")
			for i, tk := range tokens {
				chunk := map[string]any{"index": i + 1, "token": map[string]any{"id": tk.id, "text": tk.text, "special": tk.special}}
				if i == len(tokens)-1 {
					chunk["details"] = map[string]any{"finish_reason": "eos_token", "generated_tokens": len(tokens)}
				}
				b, _ := json.Marshal(chunk)
				fmt.Fprintf(w, "data:%s\n\n", b)
			}
		default:
			http.NotFound(w, r)
		}
	}))
}

type streamToken struct {
	id      int
	text    string
	special bool
}

func TestStreamSplitsReasoning(t *testing.T) {
	srv := tgiServer(t, []streamToken{{1, "<think>", false}, {2, "R", false}, {3, "</think>", false}, {4, "final", false}})
	defer srv.Close()
	m, err := Attach("r1", srv.URL, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	ch, err := m.Stream(context.Background(), &engine.GenerateParams{Prompt: "q", MaxNewTokens: 16, Temperature: 0.7, TopP: 1}, true)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	out := engine.Collect(ch)
	if out.ReasoningContent != "R" || out.Text != "final" {
		t.Fatalf("out=%+v", out)
	}
	if out.ErrorCode != 0 || out.FinishReason != "stop" {
		t.Fatalf("out=%+v", out)
	}
	if out.Usage == nil || out.Usage.PromptTokens != 3 || out.Usage.CompletionTokens != 4 {
		t.Fatalf("usage=%+v", out.Usage)
	}
}

func TestStreamStopsAtTokenIDAndStopWord(t *testing.T) {
	srv := tgiServer(t, []streamToken{{1, "Hel", false}, {2, "lo<|e", false}, {3, "nd|>x", false}, {4, "more", false}})
	defer srv.Close()
	m, _ := Attach("phi", srv.URL, nil)
	ch, err := m.Stream(context.Background(), &engine.GenerateParams{Prompt: "q", MaxNewTokens: 8, CustomStopWords: []string{"<|end|>"}}, false)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var texts []string
	for out := range ch {
		texts = append(texts, out.Text)
	}
	if diff := cmp.Diff([]string{"Hel", "Hello", "Hello"}, texts); diff != "" {
		t.Fatalf("texts mismatch (-want +got):\n%s", diff)
	}

	srv2 := tgiServer(t, []streamToken{{1, "a", false}, {99, "b", false}, {3, "c", false}})
	defer srv2.Close()
	m2, _ := Attach("x", srv2.URL, nil)
	ch2, _ := m2.Stream(context.Background(), &engine.GenerateParams{Prompt: "q", StopTokenIDs: []int{99}}, false)
	if out := engine.Collect(ch2); out.Text != "a" || out.FinishReason != "stop" {
		t.Fatalf("out=%+v", out)
	}
}

func TestStreamServerErrorIsTerminalOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/generate_stream" {
			fmt.Fprint(w, "data:{\"error\":\"out of memory\"}\n\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()
	m, _ := Attach("x", srv.URL, nil)
	ch, err := m.Stream(context.Background(), &engine.GenerateParams{Prompt: "q"}, false)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	out := engine.Collect(ch)
	if out.ErrorCode != 1 || !strings.Contains(out.Text, "out of memory") {
		t.Fatalf("out=%+v", out)
	}
}

func TestStreamTruncatesToContextWindow(t *testing.T) {
	bodies := make(chan map[string]any, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokenize":
			// Eight prompt tokens.
			_, _ = w.Write([]byte(`[{"id":1},{"id":2},{"id":3},{"id":4},{"id":5},{"id":6},{"id":7},{"id":8}]`))
		case "/generate_stream":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			bodies <- body
			fmt.Fprint(w, "data:{\"token\":{\"id\":1,\"text\":\"ok\"},\"details\":{\"finish_reason\":\"eos_token\"}}\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	m, _ := Attach("x", srv.URL, nil)

	cases := []struct {
		maxNew            int
		truncate, newToks float64
		promptTokens      int
	}{
		{4, 5, 4, 5},
		{32, 8, 1, 8},
	}
	for _, c := range cases {
		ch, err := m.Stream(context.Background(), &engine.GenerateParams{Prompt: "long prompt", MaxNewTokens: c.maxNew, ContextLen: 10}, false)
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		out := engine.Collect(ch)
		pm, _ := (<-bodies)["parameters"].(map[string]any)
		if pm["truncate"] != c.truncate || pm["max_new_tokens"] != c.newToks {
			t.Fatalf("max_new_tokens=%d: parameters=%v", c.maxNew, pm)
		}
		if out.Usage == nil || out.Usage.PromptTokens != c.promptTokens {
			t.Fatalf("max_new_tokens=%d: usage=%+v", c.maxNew, out.Usage)
		}
	}

	ch, _ := m.Stream(context.Background(), &engine.GenerateParams{Prompt: "q", MaxNewTokens: 4}, false)
	engine.Collect(ch)
	if pm, _ := (<-bodies)["parameters"].(map[string]any); pm["truncate"] != nil {
		t.Fatalf("unknown window must not truncate: %v", pm)
	}
}
