package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"modelcore/internal/engine"
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

// WenxinDefaultBase hosts both the token endpoint and the chat API.
const WenxinDefaultBase = "https://aip.baidubce.com"

// wenxinTokenTTL is how long an access token is reused.
const wenxinTokenTTL = 30 * time.Minute

// wenxinEndpoints maps model names to chat endpoint suffixes.
var wenxinEndpoints = map[string]string{
	"ernie-bot-4":        "completions_pro",
	"ernie-bot":          "completions",
	"ernie-bot-turbo":    "eb-instant",
	"ernie-4.0-8k":       "completions_pro",
	"ernie-3.5-8k":       "completions",
	"ernie-speed-128k":   "ernie-speed-128k",
	"ernie-lite-8k":      "ernie-lite-8k",
	"ernie-speed-8k":     "ernie_speed",
	"ernie-tiny-8k":      "ernie-tiny-8k",
	"ernie-4.0-turbo-8k": "ernie-4.0-turbo-8k",
}

// WenxinEndpoint returns the chat endpoint suffix of model.
func WenxinEndpoint(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	if ep, ok := wenxinEndpoints[m]; ok {
		return ep
	}
	return m
}

// WenxinClient calls the Baidu Qianfan chat API.
type WenxinClient struct {
	BaseURL string
	Headers map[string]string
	Timeout time.Duration
	HTTP    *http.Client

	creds clientcredentials.Config
	now   func() time.Time

	mu      sync.Mutex
	token   string
	fetched time.Time
}

// NewWenxinClient builds a client; the token is fetched on first use.
func NewWenxinClient(base, key, secret string, cli *http.Client) *WenxinClient {
	return &WenxinClient{
		BaseURL: base,
		HTTP:    cli,
		creds: clientcredentials.Config{
			ClientID:     key,
			ClientSecret: secret,
			TokenURL:     base + "/oauth/2.0/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		now: time.Now,
	}
}

func wenxinVendor() Vendor {
	const name = "WenxinLLMModelAdapter"
	return Vendor{
		Provider:    params.ProviderProxyWenxin,
		Label:       "Wenxin",
		AdapterName: name,
		Supported:   catalog(params.ProviderProxyWenxin, name, "ERNIE-4.0-8K", "ERNIE-3.5-8K", "ERNIE-Speed-128K", "ERNIE-Lite-8K"),
		New: func(p *params.ProxyParams) (Client, error) {
			key, err := p.ResolveAPIKey("WEN_XIN_API_KEY")
			if err != nil {
				return nil, err
			}
			secret, err := p.ResolveAPISecret("WEN_XIN_API_SECRET")
			if err != nil {
				return nil, err
			}
			if key == "" || secret == "" {
				return nil, errdefs.Authf("wenxin needs api_key and api_secret")
			}
			base, err := p.ResolveAPIBase(WenxinDefaultBase)
			if err != nil {
				return nil, err
			}
			cli, err := newHTTPClient(p)
			if err != nil {
				return nil, err
			}
			c := NewWenxinClient(base, key, secret, cli)
			c.Headers = p.ExtraHeaders
			c.Timeout = p.TimeoutOr(DefaultTimeout)
			return c, nil
		},
	}
}

// accessToken returns the cached token while it is younger than the TTL.
func (c *WenxinClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Sub(c.fetched) < wenxinTokenTTL {
		return c.token, nil
	}
	tok, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.HTTP))
	if err != nil {
		return "", fmt.Errorf("wenxin access token: %w", err)
	}
	c.token, c.fetched = tok.AccessToken, c.now()
	return c.token, nil
}

type wenxinMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wenxinMessages moves the single allowed system message into its own
// field.
func wenxinMessages(msgs []engine.ChatMessage) (string, []wenxinMessage, error) {
	system := ""
	seen := false
	out := make([]wenxinMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case engine.RoleSystem:
			if seen {
				return "", nil, errdefs.Protocolf("Wenxin only supports one system message")
			}
			system, seen = m.Content, true
		case engine.RoleAssistant:
			out = append(out, wenxinMessage{Role: "assistant", Content: m.Content})
		default:
			out = append(out, wenxinMessage{Role: "user", Content: m.Content})
		}
	}
	return system, out, nil
}

type wenxinChunk struct {
	Result   string       `json:"result"`
	IsEnd    bool         `json:"is_end"`
	Usage    *types.Usage `json:"usage"`
	ErrCode  int          `json:"error_code"`
	ErrMsg   string       `json:"error_msg"`
	Finished string       `json:"finish_reason"`
}

// Stream emits one cumulative output per result chunk; the chunk marked
// is_end carries the finish reason.
func (c *WenxinClient) Stream(ctx context.Context, r *Request) (<-chan types.ModelOutput, error) {
	system, msgs, err := wenxinMessages(r.Messages)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"messages": msgs, "stream": true}
	if system != "" {
		body["system"] = system
	}
	if gp := r.Params; gp != nil {
		if gp.Temperature > 0 {
			body["temperature"] = min(gp.Temperature, 1.0)
		}
		if gp.TopP > 0 {
			body["top_p"] = gp.TopP
		}
		if gp.MaxNewTokens > 0 {
			body["max_output_tokens"] = gp.MaxNewTokens
		}
		if len(gp.Stop) > 0 {
			body["stop"] = gp.Stop
		}
	}
	return streamWithTimeout(ctx, "Wenxin", c.Timeout, func(ctx context.Context) (<-chan types.ModelOutput, error) {
		tok, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		u := c.BaseURL + "/rpc/2.0/ai_custom/v1/wenxinworkshop/chat/" + url.PathEscape(WenxinEndpoint(r.Model)) +
			"?access_token=" + url.QueryEscape(tok)
		resp, err := engine.PostJSON(ctx, c.HTTP, u, c.Headers, body)
		if err != nil {
			return nil, err
		}
		ch := make(chan types.ModelOutput)
		go func() {
			defer close(ch)
			defer resp.Body.Close()
			var text strings.Builder
			err := engine.ReadSSE(ctx, resp.Body, true, func(data string) error {
				var chunk wenxinChunk
				if err := json.Unmarshal([]byte(data), &chunk); err != nil {
					return fmt.Errorf("decode stream chunk: %w", err)
				}
				if chunk.ErrCode != 0 {
					return fmt.Errorf("error_code %d: %s", chunk.ErrCode, chunk.ErrMsg)
				}
				if chunk.Result == "" && !chunk.IsEnd {
					return nil
				}
				text.WriteString(chunk.Result)
				out := types.ModelOutput{Text: text.String(), Usage: chunk.Usage}
				if chunk.IsEnd {
					out.FinishReason = chunk.Finished
					if out.FinishReason == "normal" || out.FinishReason == "" {
						out.FinishReason = "stop"
					}
				}
				if !engine.Emit(ctx, ch, out) {
					return ctx.Err()
				}
				if chunk.IsEnd {
					return engine.ErrStopStream
				}
				return nil
			})
			if err != nil {
				engine.Emit(ctx, ch, types.ErrorOutput("Wenxin", err))
			}
		}()
		return ch, nil
	})
}
