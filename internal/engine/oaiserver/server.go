// Package oaiserver drives engine servers and vendors that speak the
// OpenAI HTTP protocol: process attach or launch, tokenize endpoints and
// the completions / chat completions streams.
package oaiserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"modelcore/internal/engine"
	"modelcore/internal/engine/launcher"
	"modelcore/internal/errdefs"
)

// Server is an engine server reachable over HTTP, optionally owned.
type Server struct {
	// Name is the served model name sent in request bodies.
	Name    string
	BaseURL string
	Client  *http.Client

	proc *launcher.Process
}

// Launch attaches to apiBase when set, otherwise starts spec and waits for
// it to become healthy.
func Launch(ctx context.Context, name, apiBase string, spec launcher.Spec) (*Server, error) {
	cli, err := engine.NewHTTPClient(10*time.Second, "")
	if err != nil {
		return nil, err
	}
	if apiBase != "" {
		s := &Server{Name: name, BaseURL: strings.TrimRight(apiBase, "/"), Client: cli}
		if spec.HealthPath != "" && !launcher.Healthy(ctx, cli, s.BaseURL+spec.HealthPath) {
			return nil, errdefs.Load(spec.Model, fmt.Errorf("server at %s is not healthy", s.BaseURL))
		}
		return s, nil
	}
	proc, err := launcher.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	return &Server{Name: name, BaseURL: proc.BaseURL, Client: cli, proc: proc}, nil
}

// Attach wraps a running server without health checks.
func Attach(name, baseURL string, cli *http.Client) *Server {
	if cli == nil {
		cli, _ = engine.NewHTTPClient(10*time.Second, "")
	}
	return &Server{Name: name, BaseURL: strings.TrimRight(baseURL, "/"), Client: cli}
}

// Owned reports whether Close stops a child process.
func (s *Server) Owned() bool { return s.proc != nil }

// Close stops the owned process.
func (s *Server) Close() error {
	if s.proc == nil {
		return nil
	}
	return s.proc.Stop()
}

type tokenizeResponse struct {
	Count  int   `json:"count"`
	Tokens []int `json:"tokens"`
}

// Tokenize returns the token ids of prompt.
func (s *Server) Tokenize(ctx context.Context, prompt string) ([]int, error) {
	var out tokenizeResponse
	body := map[string]any{"model": s.Name, "prompt": prompt}
	if err := engine.PostJSONDecode(ctx, s.Client, s.BaseURL+"/tokenize", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// FitPrompt fits prompt into a context window of contextLen tokens next to
// the completion. ids is nil when the prompt fits as is; otherwise it holds
// the kept tail of the prompt's token ids. contextLen <= 0 skips the
// tokenize call.
func (s *Server) FitPrompt(ctx context.Context, prompt string, contextLen, maxNewTokens int) (ids []int, newTokens int, err error) {
	if contextLen <= 0 {
		return nil, maxNewTokens, nil
	}
	toks, err := s.Tokenize(ctx, prompt)
	if err != nil {
		return nil, 0, err
	}
	keep, newTokens := engine.Window(len(toks), contextLen, maxNewTokens)
	if keep < len(toks) {
		return engine.KeepTail(toks, keep), newTokens, nil
	}
	return nil, newTokens, nil
}

// CountTokens implements engine.TokenCounter.
func (s *Server) CountTokens(ctx context.Context, prompt string) (int, error) {
	toks, err := s.Tokenize(ctx, prompt)
	if err != nil {
		return 0, err
	}
	return len(toks), nil
}

// RenderChatTemplate tokenizes messages with the server's chat template
// and detokenizes the result back to the prompt string.
func (s *Server) RenderChatTemplate(ctx context.Context, messages []engine.ChatMessage) (string, error) {
	var toks tokenizeResponse
	body := map[string]any{"model": s.Name, "messages": messages, "add_generation_prompt": true}
	if err := engine.PostJSONDecode(ctx, s.Client, s.BaseURL+"/tokenize", nil, body, &toks); err != nil {
		return "", fmt.Errorf("render chat template: %w", err)
	}
	var out struct {
		Prompt string `json:"prompt"`
	}
	body = map[string]any{"model": s.Name, "tokens": toks.Tokens}
	if err := engine.PostJSONDecode(ctx, s.Client, s.BaseURL+"/detokenize", nil, body, &out); err != nil {
		return "", fmt.Errorf("render chat template: %w", err)
	}
	return out.Prompt, nil
}
