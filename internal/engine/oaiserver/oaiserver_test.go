package oaiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"modelcore/internal/engine"
	"modelcore/internal/engine/launcher"
	"modelcore/pkg/types"
)

func sse(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestStreamChatAccumulates(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		sse(w,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		)
	}))
	defer srv.Close()

	ch, err := Stream(context.Background(), srv.Client(), Request{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer k"},
		Body:    map[string]any{"model": "m"},
		Chat:    true,
		Vendor:  "OpenAI",
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var texts []string
	var last types.ModelOutput
	for out := range ch {
		texts = append(texts, out.Text)
		last = out
	}
	if diff := cmp.Diff([]string{"Hel", "Hello", "Hello"}, texts); diff != "" {
		t.Fatalf("texts mismatch (-want +got):\n%s", diff)
	}
	if last.FinishReason != "stop" || last.Usage == nil || last.Usage.TotalTokens != 5 {
		t.Fatalf("last=%+v", last)
	}
	if got["stream"] != true {
		t.Fatalf("stream flag not sent: %v", got)
	}
}

func TestStreamReasoningSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/native" {
			sse(w,
				`{"choices":[{"delta":{"reasoning_content":"think"}}]}`,
				`{"choices":[{"delta":{"content":"answer"}}]}`,
			)
			return
		}
		sse(w, `{"choices":[{"text":"R</thi"}]}`, `{"choices":[{"text":"nk>final"}]}`)
	}))
	defer srv.Close()

	ch, _ := Stream(context.Background(), srv.Client(), Request{URL: srv.URL + "/native", Chat: true})
	if out := engine.Collect(ch); out.ReasoningContent != "think" || out.Text != "answer" {
		t.Fatalf("native out=%+v", out)
	}
	ch, _ = Stream(context.Background(), srv.Client(), Request{URL: srv.URL + "/split", Reasoning: true, ForceStart: true})
	if out := engine.Collect(ch); out.ReasoningContent != "R" || out.Text != "final" {
		t.Fatalf("split out=%+v", out)
	}
}

func TestStreamErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, `{"choices":[{"text":"a"}]}`, `{"error":{"message":"boom"}}`)
	}))
	defer srv.Close()
	ch, _ := Stream(context.Background(), srv.Client(), Request{URL: srv.URL, Vendor: "vLLM"})
	out := engine.Collect(ch)
	if out.ErrorCode != 1 || !strings.Contains(out.Text, "vLLM Generate Error") || !strings.Contains(out.Text, "boom") {
		t.Fatalf("out=%+v", out)
	}
}

func TestStreamHTTPErrorBeforeStart(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream overloaded", status)
		}))
		ch, err := Stream(context.Background(), srv.Client(), Request{URL: srv.URL, Vendor: "vLLM"})
		if err != nil {
			srv.Close()
			t.Fatalf("status %d: start error should be an output, got %v", status, err)
		}
		var outs []types.ModelOutput
		for o := range ch {
			outs = append(outs, o)
		}
		srv.Close()
		if len(outs) != 1 {
			t.Fatalf("status %d: want one output, got %+v", status, outs)
		}
		out := outs[0]
		if out.ErrorCode != 1 || !strings.HasPrefix(out.Text, "**vLLM Generate Error, Please CheckErrorInfo.**: ") ||
			!strings.Contains(out.Text, fmt.Sprintf("http %d", status)) || !strings.Contains(out.Text, "upstream overloaded") {
			t.Fatalf("status %d: out=%+v", status, out)
		}
	}
}

func TestStreamConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	ch, err := Stream(context.Background(), http.DefaultClient, Request{URL: url, Vendor: "SGLang"})
	if err != nil {
		t.Fatalf("dial failure should be an output, got %v", err)
	}
	if out := engine.Collect(ch); out.ErrorCode != 1 || !strings.Contains(out.Text, "SGLang Generate Error") {
		t.Fatalf("out=%+v", out)
	}
}

func TestServerTokenizeAndRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/health":
		case "/tokenize":
			if _, ok := body["messages"]; ok {
				_, _ = w.Write([]byte(`{"count":2,"tokens":[7,8]}`))
				return
			}
			_, _ = w.Write([]byte(`{"count":3,"tokens":[1,2,3]}`))
		case "/detokenize":
			_, _ = w.Write([]byte(`{"prompt":"<|user|>hi<|assistant|>"}`))
		}
	}))
	defer srv.Close()

	s, err := Launch(context.Background(), "m", srv.URL+"/", launcher.Spec{Model: "m", HealthPath: "/health"})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if s.Owned() {
		t.Fatalf("attached server must not be owned")
	}
	n, err := s.CountTokens(context.Background(), "abc")
	if err != nil || n != 3 {
		t.Fatalf("count=%d err=%v", n, err)
	}
	p, err := s.RenderChatTemplate(context.Background(), []engine.ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil || p != "<|user|>hi<|assistant|>" {
		t.Fatalf("prompt=%q err=%v", p, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
