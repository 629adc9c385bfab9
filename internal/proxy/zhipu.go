package proxy

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"modelcore/internal/errdefs"
	"modelcore/internal/params"
)

// ZhipuDefaultBase is the Zhipu open platform v4 API.
const ZhipuDefaultBase = "https://open.bigmodel.cn/api/paas/v4"

// zhipuTokenTTL is the lifetime of a signed API token.
const zhipuTokenTTL = 30 * time.Minute

// ZhipuSigner turns an "id.secret" API key into short-lived signed tokens
// and reuses a token until shortly before it expires.
type ZhipuSigner struct {
	id     string
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewZhipuSigner validates the key format.
func NewZhipuSigner(apiKey string) (*ZhipuSigner, error) {
	id, secret, ok := strings.Cut(apiKey, ".")
	if !ok || id == "" || secret == "" {
		return nil, errdefs.Authf("zhipu api key must have the form <id>.<secret>")
	}
	return &ZhipuSigner{id: id, secret: []byte(secret), ttl: zhipuTokenTTL, now: time.Now}, nil
}

// Token returns a valid signed token.
func (s *ZhipuSigner) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.token != "" && now.Add(time.Minute).Before(s.expires) {
		return s.token, nil
	}
	exp := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"api_key":   s.id,
		"exp":       exp.UnixMilli(),
		"timestamp": now.UnixMilli(),
	})
	tok.Header["sign_type"] = "SIGN"
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.token, s.expires = signed, exp
	return signed, nil
}

func zhipuVendor() Vendor {
	const name = "ZhipuLLMModelAdapter"
	return Vendor{
		Provider:    params.ProviderProxyZhipu,
		Label:       "Zhipu",
		AdapterName: name,
		Supported:   catalog(params.ProviderProxyZhipu, name, "glm-4-plus", "glm-4-air", "glm-4-flash", "glm-4-long"),
		New: func(p *params.ProxyParams) (Client, error) {
			key, err := p.ResolveAPIKey("ZHIPUAI_API_KEY", "ZHIPU_API_KEY")
			if err != nil {
				return nil, err
			}
			signer, err := NewZhipuSigner(key)
			if err != nil {
				return nil, err
			}
			base, err := p.ResolveAPIBase(ZhipuDefaultBase, "ZHIPUAI_BASE_URL")
			if err != nil {
				return nil, err
			}
			cli, err := newHTTPClient(p)
			if err != nil {
				return nil, err
			}
			return &OpenAIClient{
				Label:        "Zhipu",
				Provider:     params.ProviderProxyZhipu,
				ChatURL:      base + "/chat/completions",
				IncludeUsage: true,
				Auth: func() (map[string]string, error) {
					tok, err := signer.Token()
					if err != nil {
						return nil, err
					}
					return map[string]string{"Authorization": "Bearer " + tok}, nil
				},
				Headers: p.ExtraHeaders,
				Timeout: p.TimeoutOr(DefaultTimeout),
				HTTP:    cli,
			}, nil
		},
	}
}
