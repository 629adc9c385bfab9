package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"

	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
)

func writeClaudeSSE(w http.ResponseWriter, typ, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, data)
}

func TestClaudeStreamEvents(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "k" || r.Header.Get("anthropic-version") != ClaudeAPIVersion {
			t.Errorf("headers=%v", r.Header)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "text/event-stream")
		writeClaudeSSE(w, "message_start", `{"type":"message_start","message":{"usage":{"input_tokens":9,"output_tokens":1}}}`)
		writeClaudeSSE(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"hmm"}}`)
		writeClaudeSSE(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`)
		writeClaudeSSE(w, "content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`)
		writeClaudeSSE(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`)
		writeClaudeSSE(w, "message_stop", `{"type":"message_stop"}`)
	}))
	defer srv.Close()

	c, err := vendorFor(t, params.ProviderProxyClaude).New(&params.ProxyParams{
		BaseParams: params.BaseParams{Name: "claude", Provider: params.ProviderProxyClaude},
		APIBase:    srv.URL,
		APIKey:     "k",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ch, err := c.Stream(context.Background(), &Request{
		Model:    "claude-3-5-sonnet",
		Messages: userMsgs("system", "sys", "user", "hi", "assistant", "yo", "tool", "result"),
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	texts, last := drain(ch)
	if diff := cmp.Diff([]string{"", "Hel", "Hello", "Hello"}, texts); diff != "" {
		t.Fatalf("texts (-want +got):\n%s", diff)
	}
	if last.ReasoningContent != "hmm" || last.FinishReason != "stop" {
		t.Fatalf("last=%+v", last)
	}
	if last.Usage == nil || last.Usage.PromptTokens != 9 || last.Usage.CompletionTokens != 3 {
		t.Fatalf("usage=%+v", last.Usage)
	}
	if body["max_tokens"] != float64(ClaudeDefaultMaxTokens) || body["system"] != "sys" {
		t.Fatalf("body=%v", body)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 3 || msgs[2].(map[string]any)["role"] != "user" {
		t.Fatalf("messages=%v", msgs)
	}
}

func TestClaudeCountTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []claudeMessage `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Messages[0].Content == "bad" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"input_tokens":%d}`, len(req.Messages[0].Content))
	}))
	defer srv.Close()

	c := &ClaudeClient{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client(), CountConcurrency: 2}
	got := c.CountTokens(context.Background(), "claude", []string{"ab", "bad", "abcd"})
	if diff := cmp.Diff([]int{2, -1, 4}, got); diff != "" {
		t.Fatalf("counts (-want +got):\n%s", diff)
	}

	m := NewModel(&params.ProxyParams{BaseParams: params.BaseParams{Name: "claude"}}, c)
	n, err := m.CountTokens(context.Background(), "xyz")
	if err != nil || n != 3 {
		t.Fatalf("model count=%d err=%v", n, err)
	}
}

func TestOllamaNDJSON(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"qwen2.5:7b"},{"name":"deepseek-r1:8b"}]}`)
			return
		case "/api/chat":
		default:
			t.Errorf("path=%s", r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range []string{
			`{"message":{"content":"<think>plan"},"done":false}`,
			`{"message":{"content":"</think>Yes"},"done":false}`,
			`{"message":{"content":""},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":7}`,
		} {
			fmt.Fprintln(w, line)
		}
	}))
	defer srv.Close()

	c, err := vendorFor(t, params.ProviderProxyOllama).New(&params.ProxyParams{
		BaseParams: params.BaseParams{Name: "deepseek-r1:8b", Provider: params.ProviderProxyOllama},
		APIBase:    srv.URL,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	gp := &engine.GenerateParams{Temperature: 0.2, TopP: 0.9, TopK: 20, MaxNewTokens: 64}
	out, err := Generate(context.Background(), c, &Request{Model: "deepseek-r1:8b", Messages: userMsgs("user", "q"), Params: gp, Reasoning: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Text != "Yes" || out.ReasoningContent != "plan" || out.FinishReason != "stop" || out.Usage.TotalTokens != 12 {
		t.Fatalf("out=%+v usage=%+v", out, out.Usage)
	}
	opts, _ := body["options"].(map[string]any)
	if opts["num_predict"] != float64(64) || opts["top_k"] != float64(20) {
		t.Fatalf("options=%v", opts)
	}

	models, err := c.(ModelLister).ListModels(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(models) != 2 || models[0].Model != "qwen2.5:7b" || !models[1].Reasoning {
		t.Fatalf("models=%+v", models)
	}
}

func TestZhipuSignerTokens(t *testing.T) {
	if _, err := NewZhipuSigner("no-dot"); !errdefs.IsAuth(err) {
		t.Fatalf("bad key err=%v", err)
	}
	s, err := NewZhipuSigner("myid.mysecret")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	first, err := s.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	tok, err := jwt.Parse(first, func(*jwt.Token) (any, error) { return []byte("mysecret"), nil },
		jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := tok.Claims.(jwt.MapClaims)
	if claims["api_key"] != "myid" || claims["timestamp"] != float64(now.UnixMilli()) {
		t.Fatalf("claims=%v", claims)
	}
	if tok.Header["sign_type"] != "SIGN" {
		t.Fatalf("header=%v", tok.Header)
	}

	now = now.Add(10 * time.Minute)
	if again, _ := s.Token(); again != first {
		t.Fatalf("token not reused inside its lifetime")
	}
	now = now.Add(25 * time.Minute)
	if again, _ := s.Token(); again == first {
		t.Fatalf("expired token reused")
	}
}

func TestZhipuClientSendsSignedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.Count(auth, ".") != 2 {
			t.Errorf("auth=%q", auth)
		}
		sse(w, `{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c, err := vendorFor(t, params.ProviderProxyZhipu).New(&params.ProxyParams{
		BaseParams: params.BaseParams{Name: "glm-4-flash", Provider: params.ProviderProxyZhipu},
		APIBase:    srv.URL,
		APIKey:     "abc.def",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	out, err := Generate(context.Background(), c, &Request{Model: "glm-4-flash", Messages: userMsgs("user", "q")})
	if err != nil || out.Text != "ok" {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

type wordEncoder struct{}

func (wordEncoder) Encode(text string, _, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

func TestTiktokenCountsAndCaches(t *testing.T) {
	loads := 0
	orig := loadEncoding
	t.Cleanup(func() { loadEncoding = orig })
	loadEncoding = func(model string) (encoder, error) {
		loads++
		if model == "broken" {
			return nil, errors.New("no bpe file")
		}
		return wordEncoder{}, nil
	}

	tk := NewTiktoken()
	got := tk.CountTokens(context.Background(), "gpt-4o", []string{"a b c", "", "one two"})
	if diff := cmp.Diff([]int{3, 0, 2}, got); diff != "" {
		t.Fatalf("counts (-want +got):\n%s", diff)
	}
	tk.CountTokens(context.Background(), "gpt-4o", []string{"x"})
	if loads != 1 {
		t.Fatalf("encoding loaded %d times", loads)
	}
	if diff := cmp.Diff([]int{-1, -1}, tk.CountTokens(context.Background(), "broken", []string{"a", "b"})); diff != "" {
		t.Fatalf("broken counts (-want +got):\n%s", diff)
	}
}

func TestEmbeddingAdapterBatches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Dimensions != 2 {
			t.Errorf("dimensions=%d", req.Dimensions)
		}
		type row struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		var data []row
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, row{Index: i, Embedding: []float32{float32(len(req.Input[i])), 0}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	a := NewEmbeddingAdapter()
	if !a.Match(params.ProviderProxyOpenAI, "", "") || a.Match(params.ProviderProxyClaude, "", "") {
		t.Fatalf("match")
	}
	p := a.NewParams().(*params.EmbeddingParams)
	p.Name = "text-embedding-3-small"
	p.APIBase = srv.URL
	p.Dimensions = 2
	p.BatchSize = 2
	e, err := a.Load(context.Background(), p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer e.Close()
	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	want := [][]float32{{1, 0}, {2, 0}, {3, 0}}
	if diff := cmp.Diff(want, vecs); diff != "" {
		t.Fatalf("vectors (-want +got):\n%s", diff)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("calls=%d", n)
	}
}
