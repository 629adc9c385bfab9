package manager

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"

	"modelcore/internal/errdefs"
	"modelcore/internal/params"
)

func TestStopDrainsAndCloses(t *testing.T) {
	fa := newFakeAdapter("x")
	m, pub := newTestManager(t, fa, Config{}, fakeDeploy("a"))
	if _, err := m.EnsureInstance(context.Background(), "a"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	model := <-fa.models
	if err := m.Stop("a"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !model.closed.Load() {
		t.Fatalf("model not closed")
	}
	if st := m.Status(); len(st.Instances) != 0 {
		t.Fatalf("instance still listed: %+v", st.Instances)
	}
	want := []string{"ensure_start", "fake_load", "ensure_ready", "unload_start", "unload_done"}
	if diff := cmp.Diff(want, pub.Names()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if err := m.Stop("a"); !errdefs.IsModelNotFound(err) {
		t.Fatalf("second stop: %v", err)
	}
	if err := m.Stop(""); !errdefs.IsModelNotFound(err) {
		t.Fatalf("empty stop: %v", err)
	}
}

func TestStopRejectsNewWorkWhileDraining(t *testing.T) {
	fa := newFakeAdapter("x")
	fa.block = make(chan struct{})
	m, pub := newTestManager(t, fa, Config{DrainTimeout: time.Second}, fakeDeploy("a"))

	ch, err := m.GenerateStream(context.Background(), userRequest("a", "hi"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	<-ch
	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop("a") }()

	deadline := time.Now().Add(time.Second)
	for m.Status().Instances[0].State != string(StateDraining) {
		if time.Now().After(deadline) {
			t.Fatalf("never started draining")
		}
		time.Sleep(time.Millisecond)
	}
	m.mu.RLock()
	inst := m.instances["a"]
	m.mu.RUnlock()
	if _, err := m.beginGeneration(context.Background(), inst); !errdefs.IsTooBusy(err) {
		t.Fatalf("expected too busy while draining, got %v", err)
	}
	close(fa.block)
	for range ch {
	}
	if err := <-stopped; err != nil {
		t.Fatalf("stop: %v", err)
	}
	for _, n := range pub.Names() {
		if n == "unload_timeout" {
			t.Fatalf("drain should have finished in time: %v", pub.Names())
		}
	}
}

func TestCloseAggregatesErrors(t *testing.T) {
	fa := newFakeAdapter()
	fa.closeErr = errBoom
	m, _ := newTestManager(t, fa, Config{}, fakeDeploy("a"), fakeDeploy("b"))
	for _, name := range []string{"a", "b"} {
		if _, err := m.EnsureInstance(context.Background(), name); err != nil {
			t.Fatalf("ensure %s: %v", name, err)
		}
	}
	err := m.Close()
	merr, ok := err.(*multierror.Error)
	if !ok || len(merr.Errors) != 2 {
		t.Fatalf("expected two close errors, got %v", err)
	}
	if m.Ready() {
		t.Fatalf("closed worker reports ready")
	}
	if _, err := m.EnsureInstance(context.Background(), "a"); !errdefs.IsDependencyUnavailable(err) {
		t.Fatalf("ensure after close: %v", err)
	}
}

func TestEvictionLRUUntilFits(t *testing.T) {
	dir := t.TempDir()
	dep := func(name string, mb int) *params.BaseParams {
		return &params.BaseParams{Name: name, Provider: "fake", Path: createModelFile(t, dir, name+".gguf", mb)}
	}
	fa := newFakeAdapter()
	m, pub := newTestManager(t, fa, Config{BudgetMB: 30}, dep("a", 10), dep("b", 10), dep("c", 15))

	if _, err := m.EnsureInstance(context.Background(), "a"); err != nil {
		t.Fatalf("ensure a: %v", err)
	}
	modelA := <-fa.models
	time.Sleep(5 * time.Millisecond)
	if _, err := m.EnsureInstance(context.Background(), "b"); err != nil {
		t.Fatalf("ensure b: %v", err)
	}
	if _, err := m.EnsureInstance(context.Background(), "c"); err != nil {
		t.Fatalf("ensure c: %v", err)
	}

	m.mu.RLock()
	_, hasA := m.instances["a"]
	_, hasB := m.instances["b"]
	_, hasC := m.instances["c"]
	used := m.usedEstMB
	m.mu.RUnlock()
	if hasA || !hasB || !hasC {
		t.Fatalf("instances a=%v b=%v c=%v", hasA, hasB, hasC)
	}
	if used != 25 {
		t.Fatalf("used=%d, want 25", used)
	}
	if !modelA.closed.Load() {
		t.Fatalf("evicted model not closed")
	}
	found := false
	for _, e := range pub.Events() {
		if e.Name == "evict" && e.Model == "a" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no evict event: %v", pub.Names())
	}
}

func TestEstimateVRAM(t *testing.T) {
	dir := t.TempDir()
	p := createModelFile(t, dir, "m.gguf", 2)
	cases := []struct {
		name string
		d    params.Deploy
		want int
	}{
		{"file", &params.BaseParams{Name: "m", Provider: "fake", Path: p}, 2},
		{"dir", &params.BaseParams{Name: "m", Provider: "fake", Path: dir}, 2},
		{"no path", &params.BaseParams{Name: "m", Provider: "fake"}, 1},
		{"proxy", &params.ProxyParams{BaseParams: params.BaseParams{Name: "m", Provider: params.ProviderProxyOpenAI}}, 0},
		{"attached", &params.VLLMParams{
			BaseParams:   params.BaseParams{Name: "m", Provider: params.ProviderVLLM, Path: p},
			ServerParams: params.ServerParams{APIBase: "http://127.0.0.1:8000"},
		}, 0},
	}
	for _, tc := range cases {
		if got := estimateVRAMMB(tc.d); got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}
