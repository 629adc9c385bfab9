package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"modelcore/internal/adapter"
	"modelcore/internal/errdefs"
	"modelcore/internal/params"
	"modelcore/pkg/types"
)

func TestNewAppliesDefaultsAndValidates(t *testing.T) {
	m, _ := newTestManager(t, newFakeAdapter(), Config{}, fakeDeploy("a"))
	if m.maxQueueDepth != defaultMaxQueueDepth || m.maxWait != defaultMaxWait || m.drainTimeout != defaultDrainTimeout {
		t.Fatalf("defaults not applied: depth=%d wait=%v drain=%v", m.maxQueueDepth, m.maxWait, m.drainTimeout)
	}

	reg := adapter.NewRegistry(nil)
	if _, err := New(Config{}); !errdefs.IsConfig(err) {
		t.Fatalf("missing registry: %v", err)
	}
	if _, err := New(Config{Registry: reg, Deployments: []params.Deploy{fakeDeploy("a"), fakeDeploy("a")}}); !errdefs.IsConfig(err) {
		t.Fatalf("duplicate names: %v", err)
	}
	if _, err := New(Config{Registry: reg, Deployments: []params.Deploy{fakeDeploy("a")}, DefaultModel: "b"}); !errdefs.IsConfig(err) {
		t.Fatalf("unknown default: %v", err)
	}
	if _, err := New(Config{Registry: reg, Deployments: []params.Deploy{&params.BaseParams{Provider: "fake"}}}); !errdefs.IsConfig(err) {
		t.Fatalf("nameless deployment: %v", err)
	}
}

func TestEnsureInstanceLoadsOnce(t *testing.T) {
	fa := newFakeAdapter()
	fa.delay = 20 * time.Millisecond
	m, pub := newTestManager(t, fa, Config{}, fakeDeploy("a"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.EnsureInstance(context.Background(), "a"); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := fa.loads.Load(); n != 1 {
		t.Fatalf("loaded %d times", n)
	}
	want := []string{"ensure_start", "fake_load", "ensure_ready"}
	if diff := cmp.Diff(want, pub.Names()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if !m.Ready() {
		t.Fatalf("expected ready")
	}
}

func TestEnsureInstanceNotFoundAndDefault(t *testing.T) {
	m, _ := newTestManager(t, newFakeAdapter(), Config{DefaultModel: "a"}, fakeDeploy("a"))
	if _, err := m.EnsureInstance(context.Background(), "missing"); !errdefs.IsModelNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	inst, err := m.EnsureInstance(context.Background(), "")
	if err != nil || inst.Name != "a" {
		t.Fatalf("default model: %v %v", inst, err)
	}

	bare, _ := newTestManager(t, newFakeAdapter(), Config{}, fakeDeploy("a"))
	if _, err := bare.EnsureInstance(context.Background(), ""); !errdefs.IsModelNotFound(err) {
		t.Fatalf("expected not found without default, got %v", err)
	}
}

func TestLoadFailureIsRecordedAndRetried(t *testing.T) {
	fa := newFakeAdapter()
	fa.failLoads(errBoom)
	m, pub := newTestManager(t, fa, Config{}, fakeDeploy("a"))

	_, err := m.EnsureInstance(context.Background(), "a")
	if !errdefs.IsLoad(err) {
		t.Fatalf("expected load error, got %v", err)
	}
	st := m.Status()
	if len(st.Instances) != 1 || st.Instances[0].State != string(StateError) || st.Instances[0].Error == "" {
		t.Fatalf("status=%+v", st)
	}
	if st.LastError == "" {
		t.Fatalf("last error not recorded")
	}
	if names := pub.Names(); names[len(names)-1] != "ensure_error" {
		t.Fatalf("events=%v", names)
	}

	fa.failLoads(nil)
	if _, err := m.EnsureInstance(context.Background(), "a"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st := m.Status(); st.Instances[0].State != string(StateReady) || st.LastError != "" || st.LoadsTotal != 1 {
		t.Fatalf("status after retry=%+v", st)
	}
}

func TestEmbeddingDeploymentRejectedForGeneration(t *testing.T) {
	emb := &params.BaseParams{Name: "e", Provider: "fake", WorkerType: params.WorkerText2Vec}
	m, _ := newTestManager(t, newFakeAdapter(), Config{}, emb)
	if _, err := m.EnsureInstance(context.Background(), "e"); !errdefs.IsConfig(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	vecs, err := m.Embed(context.Background(), "e", []string{"ab", "abcd"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 4 {
		t.Fatalf("vecs=%v", vecs)
	}
	if d := m.Deployments(); d[0].Adapter != "FakeEmbedding" {
		t.Fatalf("deployments=%+v", d)
	}
}

func TestStatusAndDeployments(t *testing.T) {
	m, _ := newTestManager(t, newFakeAdapter(), Config{}, fakeDeploy("b"), fakeDeploy("a"))
	if _, err := m.EnsureInstance(context.Background(), "b"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	want := []types.Deployment{
		{Name: "b", Provider: "fake", Adapter: "FakeAdapter"},
		{Name: "a", Provider: "fake"},
	}
	if diff := cmp.Diff(want, m.Deployments()); diff != "" {
		t.Fatalf("deployments (-want +got):\n%s", diff)
	}
	st := m.Status()
	if st.State != string(StateReady) || len(st.Instances) != 1 {
		t.Fatalf("status=%+v", st)
	}
	got := st.Instances[0]
	if got.Name != "b" || got.Adapter != "FakeAdapter" || got.Concurrency != defaultConcurrency || got.Inflight != 0 {
		t.Fatalf("instance=%+v", got)
	}
}

func TestWarmLoadsInBackground(t *testing.T) {
	fa := newFakeAdapter()
	m, pub := newTestManager(t, fa, Config{}, fakeDeploy("a"))
	op, err := m.Warm("a")
	if err != nil || op == "" {
		t.Fatalf("warm: %q %v", op, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		evs := pub.Events()
		if n := len(evs); n > 0 && evs[n-1].Name == "warm_done" {
			if evs[n-1].Fields["op"] != op {
				t.Fatalf("op mismatch: %v", evs[n-1].Fields)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("warm did not finish: %v", pub.Names())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := m.Warm("nope"); !errdefs.IsModelNotFound(err) {
		t.Fatalf("warm unknown: %v", err)
	}
}
