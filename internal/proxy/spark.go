package proxy

import (
	"modelcore/internal/params"
)

// SparkDefaultBase is the Xunfei Spark OpenAI-compatible endpoint.
const SparkDefaultBase = "https://spark-api-open.xf-yun.com/v1"

// sparkVendor reuses the chat completions stream. Spark reports failures as
// a non-zero "code" in the data line rather than an HTTP status. The
// bearer token is the API password, or "key:secret" when a secret is set.
func sparkVendor() Vendor {
	const name = "SparkLLMModelAdapter"
	return Vendor{
		Provider:    params.ProviderProxySpark,
		Label:       "Spark",
		AdapterName: name,
		Supported:   catalog(params.ProviderProxySpark, name, "lite", "generalv3", "pro-128k", "generalv3.5", "max-32k", "4.0Ultra"),
		New: func(p *params.ProxyParams) (Client, error) {
			key, err := p.ResolveAPIKey("XUNFEI_SPARK_API_PASSWORD", "XUNFEI_SPARK_API_KEY")
			if err != nil {
				return nil, err
			}
			secret, err := p.ResolveAPISecret("XUNFEI_SPARK_API_SECRET")
			if err != nil {
				return nil, err
			}
			if secret != "" {
				key = key + ":" + secret
			}
			base, err := p.ResolveAPIBase(SparkDefaultBase, "XUNFEI_SPARK_API_BASE")
			if err != nil {
				return nil, err
			}
			cli, err := newHTTPClient(p)
			if err != nil {
				return nil, err
			}
			return &OpenAIClient{
				Label:    "Spark",
				Provider: params.ProviderProxySpark,
				ChatURL:  base + "/chat/completions",
				Auth:     bearer(key),
				Headers:  p.ExtraHeaders,
				Timeout:  p.TimeoutOr(DefaultTimeout),
				HTTP:     cli,
			}, nil
		},
	}
}
