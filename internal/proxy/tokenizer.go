package proxy

import (
	"context"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/errgroup"

	"modelcore/internal/logging"
)

// DefaultCountConcurrency bounds concurrent counting requests per client.
const DefaultCountConcurrency = 10

// fallbackEncoding is used for model names tiktoken does not know.
const fallbackEncoding = "cl100k_base"

// Tokenizer counts tokens for a remote model. A count of -1 means the
// tokenizer could not count that prompt.
type Tokenizer interface {
	CountTokens(ctx context.Context, model string, prompts []string) []int
}

type encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// loadEncoding resolves the encoding for a model. Swapped in tests.
var loadEncoding = func(model string) (encoder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding(fallbackEncoding)
}

// Tiktoken estimates counts with OpenAI encodings. Encodings are cached by
// model name; failed loads are not cached.
type Tiktoken struct {
	mu    sync.Mutex
	cache map[string]encoder
}

// sharedTiktoken is the default tokenizer of every proxy model.
var sharedTiktoken = NewTiktoken()

func NewTiktoken() *Tiktoken {
	return &Tiktoken{cache: map[string]encoder{}}
}

func (t *Tiktoken) encoding(model string) (encoder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.cache[model]; ok {
		return enc, nil
	}
	enc, err := loadEncoding(model)
	if err != nil {
		return nil, err
	}
	t.cache[model] = enc
	return enc, nil
}

func (t *Tiktoken) CountTokens(ctx context.Context, model string, prompts []string) []int {
	out := make([]int, len(prompts))
	enc, err := t.encoding(model)
	if err != nil {
		l := logging.For("proxy")
		l.Warn().Err(err).Str("model", model).Msg("tiktoken encoding unavailable")
		for i := range out {
			out[i] = -1
		}
		return out
	}
	return countConcurrently(ctx, prompts, DefaultCountConcurrency, func(_ context.Context, p string) (int, error) {
		return len(enc.Encode(p, nil, nil)), nil
	})
}

// countConcurrently runs count for every prompt with at most limit in
// flight. Failed or cancelled prompts count as -1.
func countConcurrently(ctx context.Context, prompts []string, limit int, count func(ctx context.Context, prompt string) (int, error)) []int {
	out := make([]int, len(prompts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range prompts {
		g.Go(func() error {
			if gctx.Err() != nil {
				out[i] = -1
				return nil
			}
			n, err := count(gctx, p)
			if err != nil {
				l := logging.For("proxy")
				l.Debug().Err(err).Msg("count tokens")
				n = -1
			}
			out[i] = n
			return nil
		})
	}
	_ = g.Wait()
	return out
}
