package params

import (
	"strings"
	"time"

	"modelcore/internal/errdefs"
)

// ProxyParams configures a remote API vendor.
type ProxyParams struct {
	BaseParams

	APIBase    string `json:"api_base,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	APISecret  string `json:"api_secret,omitempty"`
	APIType    string `json:"api_type,omitempty"`
	APIVersion string `json:"api_version,omitempty"`
	// Timeout in seconds; zero selects the vendor default.
	Timeout      int               `json:"timeout,omitempty"`
	HTTPProxy    string            `json:"http_proxy,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
}

func (p *ProxyParams) Validate() error {
	if err := p.BaseParams.Validate(); err != nil {
		return err
	}
	if !IsProxy(p.Provider) {
		return errdefs.Configf("deployment %q: provider %q is not a proxy", p.Name, p.Provider)
	}
	return nil
}

// Vendor is the provider tag without the "proxy/" prefix.
func (p *ProxyParams) Vendor() string { return strings.TrimPrefix(p.Provider, "proxy/") }

// TimeoutOr returns the configured timeout or def.
func (p *ProxyParams) TimeoutOr(def time.Duration) time.Duration {
	if p.Timeout > 0 {
		return time.Duration(p.Timeout) * time.Second
	}
	return def
}

// ResolveAPIKey interpolates api_key, falling back to the first set
// environment variable in envFallbacks.
func (p *ProxyParams) ResolveAPIKey(envFallbacks ...string) (string, error) {
	return resolveWithFallback(p.APIKey, envFallbacks)
}

// ResolveAPISecret interpolates api_secret the same way.
func (p *ProxyParams) ResolveAPISecret(envFallbacks ...string) (string, error) {
	return resolveWithFallback(p.APISecret, envFallbacks)
}

// ResolveAPIBase interpolates api_base, falling back to def.
func (p *ProxyParams) ResolveAPIBase(def string, envFallbacks ...string) (string, error) {
	v, err := resolveWithFallback(p.APIBase, envFallbacks)
	if err != nil {
		return "", err
	}
	if v == "" {
		v = def
	}
	return strings.TrimRight(v, "/"), nil
}

func resolveWithFallback(v string, envFallbacks []string) (string, error) {
	if strings.TrimSpace(v) != "" {
		return Interpolate(v)
	}
	for _, name := range envFallbacks {
		if s, err := Interpolate("${env:" + name + ":-}"); err == nil && s != "" {
			return s, nil
		}
	}
	return "", nil
}

// EmbeddingParams configures a remote embedding model. Only the adapter
// shape is served.
type EmbeddingParams struct {
	ProxyParams
	Dimensions int `json:"dimensions,omitempty"`
	BatchSize  int `json:"batch_size,omitempty"`
}
