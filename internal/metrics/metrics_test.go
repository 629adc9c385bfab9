package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGenerationCounters(t *testing.T) {
	GenerationStarted("vllm", "qwen")
	GenerationStarted("vllm", "qwen")
	GenerationFailed("vllm", "qwen", StageStream)
	GenerationDone("vllm", "qwen", 1500*time.Millisecond, 7)
	GenerationDone("vllm", "qwen", time.Second, 0)

	if got := testutil.ToFloat64(generationsTotal.WithLabelValues("vllm", "qwen")); got != 2 {
		t.Fatalf("generations=%v", got)
	}
	if got := testutil.ToFloat64(generationErrorsTotal.WithLabelValues("vllm", "qwen", StageStream)); got != 1 {
		t.Fatalf("errors=%v", got)
	}
	if got := testutil.ToFloat64(outputTokensTotal.WithLabelValues("vllm", "qwen")); got != 7 {
		t.Fatalf("tokens=%v", got)
	}
}

func TestModelLoads(t *testing.T) {
	ModelLoaded("proxy/openai", true)
	ModelLoaded("proxy/openai", false)
	ModelLoaded("proxy/openai", false)
	if got := testutil.ToFloat64(modelLoadsTotal.WithLabelValues("proxy/openai", "error")); got != 2 {
		t.Fatalf("load errors=%v", got)
	}
	SetLoadedModels(3)
	if got := testutil.ToFloat64(loadedModels); got != 3 {
		t.Fatalf("loaded=%v", got)
	}
}
